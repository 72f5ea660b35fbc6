package model

// User account statuses.
const (
	UserCreated        = "created"
	UserIPBlocked      = "ip_blocked"
	UserAccountBlocked = "account_blocked"
	UserTimeExpired    = "time_expired"
	UserConnected      = "connected"
	UserDisconnected   = "disconnected"
)

// Peer statuses.
const (
	PeerDisconnected = "disconnected"
	PeerConnected    = "connected"
	PeerTimeExpired  = "time_expired"
	PeerBlocked      = "blocked"
)

// Peer kinds.
const (
	KindWireguard        = "wireguard"
	KindAmneziaWireguard = "amnezia_wireguard"
	KindXray             = "xray"
)

// ValidUserStatus reports whether s is a known user account status.
func ValidUserStatus(s string) bool {
	switch s {
	case UserCreated, UserIPBlocked, UserAccountBlocked, UserTimeExpired, UserConnected, UserDisconnected:
		return true
	}
	return false
}

// ValidPeerStatus reports whether s is a known peer status.
func ValidPeerStatus(s string) bool {
	switch s {
	case PeerDisconnected, PeerConnected, PeerTimeExpired, PeerBlocked:
		return true
	}
	return false
}

// ValidKind reports whether k is a known peer kind.
func ValidKind(k string) bool {
	switch k {
	case KindWireguard, KindAmneziaWireguard, KindXray:
		return true
	}
	return false
}

// IsWireguardKind reports whether k is served by the WireGuard dataplane,
// plain or Amnezia.
func IsWireguardKind(k string) bool {
	return k == KindWireguard || k == KindAmneziaWireguard
}
