package peerops

import (
	"context"
	"fmt"
	"time"

	"github.com/gatewarden/gatewarden/internal/model"
)

// Panel is the slice of the xray worker the backend dispatches through.
type Panel interface {
	AddPeers(ctx context.Context, inboundID int64, peers []*model.Peer, expiresAt *time.Time) error
	EnablePeer(ctx context.Context, peer *model.Peer) error
	DisablePeer(ctx context.Context, peer *model.Peer) error
	DeletePeer(ctx context.Context, peer *model.Peer) error
	IsConnected(ctx context.Context, peer *model.Peer) (bool, error)
	ConnectionString(ctx context.Context, peer *model.Peer) (string, error)
}

// XrayBackend drives peers living on the remote xray panel.
type XrayBackend struct {
	panel Panel
}

// NewXrayBackend wraps the panel worker as a Backend.
func NewXrayBackend(panel Panel) *XrayBackend {
	return &XrayBackend{panel: panel}
}

// Add registers the peer as a client on its inbound.
func (b *XrayBackend) Add(ctx context.Context, peer *model.Peer) error {
	if peer.Xray == nil {
		return fmt.Errorf("peer %d has no xray attachment: %w", peer.ID, model.ErrValidation)
	}
	return b.panel.AddPeers(ctx, peer.Xray.InboundID, []*model.Peer{peer}, peer.ActiveUntil)
}

// Enable turns the peer's panel client on.
func (b *XrayBackend) Enable(ctx context.Context, peer *model.Peer) error {
	return b.panel.EnablePeer(ctx, peer)
}

// Disable turns the peer's panel client off.
func (b *XrayBackend) Disable(ctx context.Context, peer *model.Peer) error {
	return b.panel.DisablePeer(ctx, peer)
}

// Delete removes the peer's panel client.
func (b *XrayBackend) Delete(ctx context.Context, peer *model.Peer) error {
	return b.panel.DeletePeer(ctx, peer)
}

// IsConnected asks the panel whether the peer shows up online.
func (b *XrayBackend) IsConnected(ctx context.Context, peer *model.Peer) (bool, error) {
	return b.panel.IsConnected(ctx, peer)
}

// ConnectionString renders the peer's vless:// link.
func (b *XrayBackend) ConnectionString(ctx context.Context, peer *model.Peer) (string, error) {
	return b.panel.ConnectionString(ctx, peer)
}
