package observer

import (
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/rs/zerolog"
)

// Connected fires when a probe first sees a peer alive.
type Connected struct {
	User *model.User
	Peer *model.Peer
}

// Disconnected fires when a connected peer stops answering.
type Disconnected struct {
	User *model.User
	Peer *model.Peer
}

// Timer warns that a peer's active window is about to close (Disconnect
// false) or reports that it has closed (Disconnect true).
type Timer struct {
	User       *model.User
	Peer       *model.Peer
	Disconnect bool
}

// ExpireWarn fires on the last day before a user's account expires.
type ExpireWarn struct {
	User *model.User
}

// ExpireBlock fires when a user's account expiry date arrives.
type ExpireBlock struct {
	User *model.User
}

// Startup fires once when the connection observer comes up. Notify
// carries the consumed reboot sentinel's content, empty when the start
// was not a requested restart.
type Startup struct {
	Notify string
}

// Buses groups the event streams the core publishes. The front-end
// registers its handlers here before the observers start.
type Buses struct {
	Connected    *Bus[Connected]
	Disconnected *Bus[Disconnected]
	Timer        *Bus[Timer]
	ExpireWarn   *Bus[ExpireWarn]
	ExpireBlock  *Bus[ExpireBlock]
	Startup      *Bus[Startup]
}

// NewBuses builds the full event surface.
func NewBuses(logger zerolog.Logger) *Buses {
	return &Buses{
		Connected:    NewBus[Connected](logger),
		Disconnected: NewBus[Disconnected](logger),
		Timer:        NewBus[Timer](logger),
		ExpireWarn:   NewBus[ExpireWarn](logger),
		ExpireBlock:  NewBus[ExpireBlock](logger),
		Startup:      NewBus[Startup](logger),
	}
}
