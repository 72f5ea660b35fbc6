package peerops

import (
	"context"
	"errors"
	"fmt"

	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/wghub"
	"github.com/rs/zerolog"
)

// WireguardBackend drives peers living on the local WireGuard interface,
// stock and Amnezia alike.
type WireguardBackend struct {
	hub    *wghub.Hub
	prober Prober
	server config.WireguardConfig
	log    zerolog.Logger
}

// NewWireguardBackend wires the hub with the liveness prober and the
// server-side values embedded in generated client configs.
func NewWireguardBackend(hub *wghub.Hub, prober Prober, server config.WireguardConfig, logger zerolog.Logger) *WireguardBackend {
	return &WireguardBackend{
		hub:    hub,
		prober: prober,
		server: server,
		log:    logger.With().Str("component", "wg-backend").Logger(),
	}
}

func wireguardExt(peer *model.Peer) (*model.WireguardPeer, error) {
	if peer.Wireguard == nil {
		return nil, fmt.Errorf("peer %d has no wireguard attachment: %w", peer.ID, model.ErrValidation)
	}
	return peer.Wireguard, nil
}

// Add writes the peer's stanza into the interface config and applies it.
func (b *WireguardBackend) Add(ctx context.Context, peer *model.Peer) error {
	ext, err := wireguardExt(peer)
	if err != nil {
		return err
	}
	return b.hub.AddPeer(ctx, wghub.Peer{
		Name:         peer.Name,
		PublicKey:    ext.PublicKey,
		PresharedKey: ext.PresharedKey,
		SharedIP:     ext.SharedIP,
	})
}

// Enable uncomments the peer's stanza.
func (b *WireguardBackend) Enable(ctx context.Context, peer *model.Peer) error {
	ext, err := wireguardExt(peer)
	if err != nil {
		return err
	}
	return b.hub.EnablePeer(ctx, ext.PublicKey)
}

// Disable comments the peer's stanza out.
func (b *WireguardBackend) Disable(ctx context.Context, peer *model.Peer) error {
	ext, err := wireguardExt(peer)
	if err != nil {
		return err
	}
	return b.hub.DisablePeer(ctx, ext.PublicKey)
}

// Delete removes the stanza. A peer already missing from the config
// counts as deleted.
func (b *WireguardBackend) Delete(ctx context.Context, peer *model.Peer) error {
	ext, err := wireguardExt(peer)
	if err != nil {
		return err
	}
	err = b.hub.DeletePeer(ctx, ext.PublicKey)
	if errors.Is(err, wghub.ErrPeerNotFound) {
		b.log.Debug().Int64("peer_id", peer.ID).Msg("peer already absent from interface config")
		return nil
	}
	return err
}

// EnableGroup flips the whole group with one config write and sync.
func (b *WireguardBackend) EnableGroup(ctx context.Context, peers []*model.Peer) error {
	keys, err := publicKeys(peers)
	if err != nil {
		return err
	}
	return b.hub.EnablePeers(ctx, keys)
}

// DisableGroup flips the whole group off with one config write and sync.
func (b *WireguardBackend) DisableGroup(ctx context.Context, peers []*model.Peer) error {
	keys, err := publicKeys(peers)
	if err != nil {
		return err
	}
	return b.hub.DisablePeers(ctx, keys)
}

func publicKeys(peers []*model.Peer) ([]string, error) {
	keys := make([]string, 0, len(peers))
	for _, p := range peers {
		ext, err := wireguardExt(p)
		if err != nil {
			return nil, err
		}
		keys = append(keys, ext.PublicKey)
	}
	return keys, nil
}

// IsConnected pings the peer's tunnel address.
func (b *WireguardBackend) IsConnected(ctx context.Context, peer *model.Peer) (bool, error) {
	ext, err := wireguardExt(peer)
	if err != nil {
		return false, err
	}
	return b.prober.Probe(ctx, ext.SharedIP)
}

// ConnectionString renders the client-side config file for the peer.
func (b *WireguardBackend) ConnectionString(_ context.Context, peer *model.Peer) (string, error) {
	ext, err := wireguardExt(peer)
	if err != nil {
		return "", err
	}

	conf := fmt.Sprintf(`[Interface]
Address = %s/%d
DNS = %s
PrivateKey = %s
`, ext.SharedIP, b.server.IPMask, b.server.DNS, ext.PrivateKey)

	if ext.IsAmnezia {
		junk := b.server.Junk
		if junk == nil {
			return "", fmt.Errorf("peer %d is amnezia but the server has no junk parameters: %w", peer.ID, model.ErrValidation)
		}
		conf += fmt.Sprintf(`Jc = %d
Jmin = %d
Jmax = %d
S1 = %s
S2 = %s
H1 = %s
H2 = %s
H3 = %s
H4 = %s
`, ext.Jc, ext.Jmin, ext.Jmax, junk.S1, junk.S2, junk.H1, junk.H2, junk.H3, junk.H4)
	}

	conf += fmt.Sprintf(`
[Peer]
PublicKey = %s
PresharedKey = %s
AllowedIPs = 0.0.0.0/0
Endpoint = %s:%d
PersistentKeepalive = 60
`, b.server.PublicKey, ext.PresharedKey, b.server.EndpointIP, b.server.EndpointPort)

	return conf, nil
}
