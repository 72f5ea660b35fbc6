package wghub

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Hub owns the interface file. Every mutation rewrites the file and, with
// AutoSync on, pushes it to the kernel; the mutex spans model change, write
// and sync so concurrent callers cannot interleave half-applied states.
type Hub struct {
	mu       sync.Mutex
	path     string
	device   *Device
	control  Control
	autoSync bool
	log      zerolog.Logger
}

// New parses the interface file at path. A file that does not parse is a
// boot failure, not something to limp past.
func New(path string, control Control, autoSync bool, logger zerolog.Logger) (*Hub, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read interface config: %w", err)
	}
	device, err := Parse(InterfaceName(path), string(data))
	if err != nil {
		return nil, fmt.Errorf("parse interface config: %w", err)
	}

	h := &Hub{
		path:     path,
		device:   device,
		control:  control,
		autoSync: autoSync,
		log:      logger.With().Str("component", "wghub").Str("interface", device.Name).Logger(),
	}
	h.log.Debug().Str("path", path).Int("peers", len(device.Peers)).Msg("interface config loaded")
	return h, nil
}

// Interface returns the device name the hub syncs against.
func (h *Hub) Interface() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.device.Name
}

// SetAutoSync toggles whether mutations push to the kernel immediately.
func (h *Hub) SetAutoSync(on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.autoSync = on
}

// Peers returns a snapshot of the stanzas.
func (h *Hub) Peers() []Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	peers := make([]Peer, 0, len(h.device.Peers))
	for _, p := range h.device.Peers {
		peers = append(peers, *p)
	}
	return peers
}

// AddPeer appends the stanza and applies the file.
func (h *Hub) AddPeer(ctx context.Context, peer Peer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.device.AddPeer(peer); err != nil {
		return err
	}
	if err := h.applyLocked(ctx); err != nil {
		return err
	}
	h.log.Info().Str("peer", peer.Name).Str("ip", peer.SharedIP).Msg("peer added")
	return nil
}

// EnablePeer uncomments the peer's stanza.
func (h *Hub) EnablePeer(ctx context.Context, publicKey string) error {
	return h.setEnabled(ctx, publicKey, true)
}

// DisablePeer comments the peer's stanza out without losing it.
func (h *Hub) DisablePeer(ctx context.Context, publicKey string) error {
	return h.setEnabled(ctx, publicKey, false)
}

func (h *Hub) setEnabled(ctx context.Context, publicKey string, enabled bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.device.SetEnabled(publicKey, enabled); err != nil {
		return err
	}
	if err := h.applyLocked(ctx); err != nil {
		return err
	}
	h.log.Info().Str("public_key", publicKey).Bool("enabled", enabled).Msg("peer toggled")
	return nil
}

// EnablePeers toggles a batch of peers on with a single write and sync.
// Unknown keys are logged and skipped so one stale record cannot block the
// rest of the batch.
func (h *Hub) EnablePeers(ctx context.Context, publicKeys []string) error {
	return h.setEnabledBatch(ctx, publicKeys, true)
}

// DisablePeers toggles a batch of peers off with a single write and sync.
func (h *Hub) DisablePeers(ctx context.Context, publicKeys []string) error {
	return h.setEnabledBatch(ctx, publicKeys, false)
}

func (h *Hub) setEnabledBatch(ctx context.Context, publicKeys []string, enabled bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	changed := 0
	for _, key := range publicKeys {
		if err := h.device.SetEnabled(key, enabled); err != nil {
			h.log.Warn().Str("public_key", key).Msg("peer not in config, skipping")
			continue
		}
		changed++
	}
	if changed == 0 {
		return nil
	}
	if err := h.applyLocked(ctx); err != nil {
		return err
	}
	h.log.Info().Int("peers", changed).Bool("enabled", enabled).Msg("peers toggled")
	return nil
}

// DeletePeer removes the stanza and applies the file.
func (h *Hub) DeletePeer(ctx context.Context, publicKey string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.device.RemovePeer(publicKey); err != nil {
		return err
	}
	if err := h.applyLocked(ctx); err != nil {
		return err
	}
	h.log.Info().Str("public_key", publicKey).Msg("peer removed")
	return nil
}

// SyncConfig pushes the current file to the kernel regardless of AutoSync.
func (h *Hub) SyncConfig(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.syncLocked(ctx)
}

func (h *Hub) applyLocked(ctx context.Context) error {
	if err := os.WriteFile(h.path, []byte(h.device.Render()), 0o600); err != nil {
		return fmt.Errorf("write interface config: %w", err)
	}
	if !h.autoSync {
		h.log.Warn().Msg("auto sync disabled, config written but not synced")
		return nil
	}
	return h.syncLocked(ctx)
}

func (h *Hub) syncLocked(ctx context.Context) error {
	stripped, err := h.control.Strip(ctx, h.device.Name, h.path)
	if err != nil {
		return fmt.Errorf("strip config: %w", err)
	}
	if err := h.control.SyncConf(ctx, h.device.Name, stripped); err != nil {
		return fmt.Errorf("sync config: %w", err)
	}
	h.log.Debug().Msg("configuration synced")
	return nil
}
