package model

import (
	"errors"
	"fmt"
	"time"
	"unicode/utf8"
)

// PeerNameMaxLen is the longest display name a peer may carry, in runes.
const PeerNameMaxLen = 15

// Jitter parameter bounds for Amnezia peers.
const (
	JcMin   = 3
	JcMax   = 127
	JminMin = 3
	JminMax = 700
	JmaxCap = 1270
)

// ErrValidation marks input that fails a model constraint.
var ErrValidation = errors.New("invalid value")

// Peer is one configured client endpoint on a VPN dataplane. Exactly one of
// the extension fields is set, matching Kind.
type Peer struct {
	ID          int64      `json:"id" db:"id"`
	UserID      string     `json:"user_id" db:"user_id"`
	Name        string     `json:"name" db:"name"`
	Kind        string     `json:"kind" db:"kind"`
	Status      string     `json:"status" db:"status"`
	ActiveUntil *time.Time `json:"active_until,omitempty" db:"active_until"`

	Wireguard *WireguardPeer `json:"wireguard,omitempty"`
	Xray      *XrayPeer      `json:"xray,omitempty"`
}

// WireguardPeer extends a Peer with WireGuard state. Jc, Jmin and Jmax are
// only meaningful when IsAmnezia is set.
type WireguardPeer struct {
	PeerID       int64  `json:"peer_id" db:"peer_id"`
	PrivateKey   string `json:"-" db:"private_key"`
	PublicKey    string `json:"public_key" db:"public_key"`
	PresharedKey string `json:"-" db:"preshared_key"`
	SharedIP     string `json:"shared_ip" db:"shared_ip"`
	IsAmnezia    bool   `json:"is_amnezia" db:"is_amnezia"`
	Jc           int    `json:"jc,omitempty" db:"jc"`
	Jmin         int    `json:"jmin,omitempty" db:"jmin"`
	Jmax         int    `json:"jmax,omitempty" db:"jmax"`
}

// XrayPeer extends a Peer with its attachment to a remote XRay inbound.
type XrayPeer struct {
	PeerID    int64  `json:"peer_id" db:"peer_id"`
	InboundID int64  `json:"inbound_id" db:"inbound_id"`
	Flow      string `json:"flow" db:"flow"`
}

// ValidatePeerName rejects empty names and names longer than PeerNameMaxLen
// runes.
func ValidatePeerName(name string) error {
	if name == "" {
		return fmt.Errorf("peer name is empty: %w", ErrValidation)
	}
	if n := utf8.RuneCountInString(name); n > PeerNameMaxLen {
		return fmt.Errorf("peer name %q is %d runes, limit %d: %w", name, n, PeerNameMaxLen, ErrValidation)
	}
	return nil
}

// ValidateJitter checks Amnezia jitter parameters against their ranges:
// Jc in [3,127], Jmin in [3,700], Jmax in (Jmin,1270].
func ValidateJitter(jc, jmin, jmax int) error {
	if jc < JcMin || jc > JcMax {
		return fmt.Errorf("jc %d outside [%d,%d]: %w", jc, JcMin, JcMax, ErrValidation)
	}
	if jmin < JminMin || jmin > JminMax {
		return fmt.Errorf("jmin %d outside [%d,%d]: %w", jmin, JminMin, JminMax, ErrValidation)
	}
	if jmax <= jmin || jmax > JmaxCap {
		return fmt.Errorf("jmax %d outside (%d,%d]: %w", jmax, jmin, JmaxCap, ErrValidation)
	}
	return nil
}
