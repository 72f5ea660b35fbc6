// Package peerops routes peer lifecycle operations to the dataplane
// backend that owns each peer kind.
package peerops

import (
	"context"
	"errors"
	"fmt"

	"github.com/gatewarden/gatewarden/internal/ipalloc"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/rs/zerolog"
)

// Backend is the capability set a dataplane exposes for one peer.
type Backend interface {
	Add(ctx context.Context, peer *model.Peer) error
	Enable(ctx context.Context, peer *model.Peer) error
	Disable(ctx context.Context, peer *model.Peer) error
	Delete(ctx context.Context, peer *model.Peer) error
	IsConnected(ctx context.Context, peer *model.Peer) (bool, error)
	ConnectionString(ctx context.Context, peer *model.Peer) (string, error)
}

// Batcher is implemented by backends that can flip a group of peers with
// a single dataplane apply.
type Batcher interface {
	EnableGroup(ctx context.Context, peers []*model.Peer) error
	DisableGroup(ctx context.Context, peers []*model.Peer) error
}

// Store is the slice of the storage layer the dispatcher records status
// changes through. A nil store means toggles touch only the dataplane.
type Store interface {
	SetPeerStatus(ctx context.Context, peerID int64, status string) error
	DeletePeer(ctx context.Context, peerID int64) error
}

// Dispatcher switches on peer kind and forwards to the owning backend.
type Dispatcher struct {
	wg    Backend
	xray  Backend
	store Store
	ips   *ipalloc.Queue
	log   zerolog.Logger
}

// NewDispatcher wires the two backends with the persistence and address
// pool collaborators. store and ips may be nil.
func NewDispatcher(wg, xray Backend, store Store, ips *ipalloc.Queue, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		wg:    wg,
		xray:  xray,
		store: store,
		ips:   ips,
		log:   logger.With().Str("component", "peerops").Logger(),
	}
}

// BackendFor returns the backend owning the kind, or false for a kind no
// backend claims.
func (d *Dispatcher) BackendFor(kind string) (Backend, bool) {
	switch {
	case model.IsWireguardKind(kind):
		return d.wg, true
	case kind == model.KindXray:
		return d.xray, true
	default:
		return nil, false
	}
}

// AddPeer registers a freshly stored peer with its dataplane.
func (d *Dispatcher) AddPeer(ctx context.Context, peer *model.Peer) error {
	backend, ok := d.BackendFor(peer.Kind)
	if !ok {
		return fmt.Errorf("no backend for peer kind %q: %w", peer.Kind, model.ErrValidation)
	}
	return backend.Add(ctx, peer)
}

// ConnectionString renders the peer's importable client credential.
func (d *Dispatcher) ConnectionString(ctx context.Context, peer *model.Peer) (string, error) {
	backend, ok := d.BackendFor(peer.Kind)
	if !ok {
		return "", fmt.Errorf("no backend for peer kind %q: %w", peer.Kind, model.ErrValidation)
	}
	return backend.ConnectionString(ctx, peer)
}

// EnablePeers brings each peer's dataplane record back up and, when a
// store is attached, marks the rows Disconnected: ready, not yet seen.
func (d *Dispatcher) EnablePeers(ctx context.Context, peers []*model.Peer) error {
	return d.togglePeers(ctx, peers, true)
}

// DisablePeers shuts each peer's dataplane record off and, when a store
// is attached, marks the rows Blocked.
func (d *Dispatcher) DisablePeers(ctx context.Context, peers []*model.Peer) error {
	return d.togglePeers(ctx, peers, false)
}

// togglePeers groups peers by backend so group-capable backends apply one
// change for the whole set. A failed peer does not stop the rest.
func (d *Dispatcher) togglePeers(ctx context.Context, peers []*model.Peer, enable bool) error {
	status := model.PeerBlocked
	if enable {
		status = model.PeerDisconnected
	}

	groups := make(map[Backend][]*model.Peer)
	var order []Backend
	for _, peer := range peers {
		backend, ok := d.BackendFor(peer.Kind)
		if !ok {
			d.log.Warn().Int64("peer_id", peer.ID).Str("kind", peer.Kind).Msg("no backend for peer kind")
			continue
		}
		if _, seen := groups[backend]; !seen {
			order = append(order, backend)
		}
		groups[backend] = append(groups[backend], peer)
	}

	var errs []error
	for _, backend := range order {
		group := groups[backend]
		if batcher, ok := backend.(Batcher); ok && len(group) > 1 {
			errs = append(errs, d.toggleGroup(ctx, batcher, group, enable, status)...)
			continue
		}
		for _, peer := range group {
			if err := d.toggleOne(ctx, backend, peer, enable, status); err != nil {
				d.log.Error().Err(err).Int64("peer_id", peer.ID).Msg("peer toggle failed")
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) toggleOne(ctx context.Context, backend Backend, peer *model.Peer, enable bool, status string) error {
	op := backend.Disable
	if enable {
		op = backend.Enable
	}
	if err := op(ctx, peer); err != nil {
		return fmt.Errorf("toggle peer %d: %w", peer.ID, err)
	}
	return d.recordStatus(ctx, peer, status)
}

func (d *Dispatcher) toggleGroup(ctx context.Context, batcher Batcher, peers []*model.Peer, enable bool, status string) []error {
	op := batcher.DisableGroup
	if enable {
		op = batcher.EnableGroup
	}
	if err := op(ctx, peers); err != nil {
		return []error{fmt.Errorf("toggle %d peers: %w", len(peers), err)}
	}
	var errs []error
	for _, peer := range peers {
		if err := d.recordStatus(ctx, peer, status); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (d *Dispatcher) recordStatus(ctx context.Context, peer *model.Peer, status string) error {
	if d.store == nil {
		return nil
	}
	if err := d.store.SetPeerStatus(ctx, peer.ID, status); err != nil {
		return fmt.Errorf("record peer %d status: %w", peer.ID, err)
	}
	peer.Status = status
	return nil
}

// DeletePeer removes the peer from its dataplane, drops the row, and
// returns a WireGuard peer's address to the pool. The dataplane goes
// first: a row without a dataplane record is harmless, the reverse leaks
// access.
func (d *Dispatcher) DeletePeer(ctx context.Context, peer *model.Peer) error {
	if backend, ok := d.BackendFor(peer.Kind); ok {
		if err := backend.Delete(ctx, peer); err != nil {
			return fmt.Errorf("delete peer %d from dataplane: %w", peer.ID, err)
		}
	} else {
		d.log.Warn().Int64("peer_id", peer.ID).Str("kind", peer.Kind).Msg("no backend for peer kind, removing row only")
	}

	if d.store != nil {
		if err := d.store.DeletePeer(ctx, peer.ID); err != nil {
			return fmt.Errorf("delete peer %d: %w", peer.ID, err)
		}
	}
	if d.ips != nil && model.IsWireguardKind(peer.Kind) && peer.Wireguard != nil {
		d.ips.Release(peer.Wireguard.SharedIP)
	}
	return nil
}
