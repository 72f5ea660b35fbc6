package observer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gatewarden/gatewarden/internal/config"
	"github.com/gatewarden/gatewarden/internal/metrics"
	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/gatewarden/gatewarden/internal/peerops"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// warnWindow is how close to the end of a peer's active window the
// probe-all loop starts emitting warning Timer events.
const warnWindow = 15 * time.Minute

// Store is the slice of the storage layer the observers read rosters
// from and persist transitions through.
type Store interface {
	ListUsers(ctx context.Context) ([]model.User, error)
	GetPeers(ctx context.Context, userID string, kinds ...string) ([]model.Peer, error)
	SetUserStatus(ctx context.Context, id, status string) error
	SetPeerStatus(ctx context.Context, id int64, status string) error
	SetPeerActiveUntil(ctx context.Context, id int64, until *time.Time) error
}

// Backends resolves the dataplane owning a peer kind.
type Backends interface {
	BackendFor(kind string) (peerops.Backend, bool)
}

// userEntry groups one user with their peers under one lock, so peer
// transitions and the user-level demotion checks cannot interleave.
type userEntry struct {
	mu    sync.Mutex
	user  *model.User
	peers []*model.Peer
}

// entry is one probe unit: a peer plus its owning user.
type entry struct {
	owner *userEntry
	peer  *model.Peer
}

// Connection probes every known peer and turns liveness flips into
// persisted status changes and events.
type Connection struct {
	store    Store
	backends Backends
	buses    *Buses
	metrics  *metrics.Collector

	activeFor      time.Duration
	refreshEvery   time.Duration
	probeAllEvery  time.Duration
	connectedEvery time.Duration
	notice         string

	mu     sync.RWMutex
	roster map[int64]*entry

	log zerolog.Logger
}

// NewConnection wires the connection observer. collector may be nil;
// notice is the reboot sentinel content carried into the Startup event.
func NewConnection(store Store, backends Backends, buses *Buses, collector *metrics.Collector, core config.CoreConfig, notice string, logger zerolog.Logger) *Connection {
	return &Connection{
		store:          store,
		backends:       backends,
		buses:          buses,
		metrics:        collector,
		activeFor:      core.PeerActiveTime,
		refreshEvery:   core.UpdateTimer,
		probeAllEvery:  core.ListenTimer,
		connectedEvery: core.ConnectedListenTimer,
		notice:         notice,
		roster:         make(map[int64]*entry),
		log:            logger.With().Str("component", "connection-observer").Logger(),
	}
}

// Run loads the roster, announces startup once, and drives the refresh
// and probe loops until ctx ends.
func (c *Connection) Run(ctx context.Context) error {
	if err := c.refresh(ctx); err != nil {
		return fmt.Errorf("initial roster load: %w", err)
	}
	c.buses.Startup.Trigger(ctx, Startup{Notify: c.notice})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return IntervalRunner(ctx, c.log, "roster_refresh", c.refreshEvery, c.refresh)
	})
	g.Go(func() error {
		return IntervalRunner(ctx, c.log, "probe_all", c.probeAllEvery, func(ctx context.Context) error {
			return c.probeCycle(ctx, "probe_all", true, false)
		})
	})
	g.Go(func() error {
		return IntervalRunner(ctx, c.log, "probe_connected", c.connectedEvery, func(ctx context.Context) error {
			return c.probeCycle(ctx, "probe_connected", false, true)
		})
	})
	return g.Wait()
}

// refresh reloads the roster from storage. The write lock waits out any
// running probe cycle, so probes always see a consistent snapshot.
func (c *Connection) refresh(ctx context.Context) error {
	users, err := c.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	roster := make(map[int64]*entry)
	var allPeers []model.Peer
	for i := range users {
		user := &users[i]
		peers, err := c.store.GetPeers(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("load peers for user %s: %w", user.ID, err)
		}
		owner := &userEntry{user: user}
		for j := range peers {
			peer := &peers[j]
			owner.peers = append(owner.peers, peer)
			roster[peer.ID] = &entry{owner: owner, peer: peer}
		}
		allPeers = append(allPeers, peers...)
	}

	c.mu.Lock()
	c.roster = roster
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetRoster(users, allPeers)
	}
	c.log.Debug().Int("users", len(users)).Int("peers", len(allPeers)).Msg("roster refreshed")
	return nil
}

// probeCycle checks every eligible peer concurrently. One peer's failure
// is logged and counted, never fatal to the cycle.
func (c *Connection) probeCycle(ctx context.Context, loop string, warn, connectedOnly bool) error {
	start := time.Now()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var wg sync.WaitGroup
	for _, e := range c.roster {
		if !eligible(e, connectedOnly) {
			continue
		}
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			if err := c.check(ctx, e, warn); err != nil && ctx.Err() == nil {
				if c.metrics != nil {
					c.metrics.IncProbeError(loop)
				}
				c.log.Warn().Err(err).Int64("peer_id", e.peer.ID).Msg("peer probe failed")
			}
		}(e)
	}
	wg.Wait()

	if c.metrics != nil {
		c.metrics.ObserveProbeCycle(loop, time.Since(start))
	}
	return nil
}

// eligible filters peers outside probing scope. Status reads take the
// owner lock so a transition in flight is not half-observed.
func eligible(e *entry, connectedOnly bool) bool {
	e.owner.mu.Lock()
	defer e.owner.mu.Unlock()

	switch e.owner.user.Status {
	case model.UserAccountBlocked, model.UserTimeExpired:
		return false
	}
	switch e.peer.Status {
	case model.PeerBlocked, model.PeerTimeExpired:
		return false
	}
	if connectedOnly {
		return e.peer.Status == model.PeerConnected
	}
	return true
}

// check runs one probe: the active window first, then liveness, then the
// edge-triggered transition.
func (c *Connection) check(ctx context.Context, e *entry, warn bool) error {
	e.owner.mu.Lock()
	defer e.owner.mu.Unlock()

	peer := e.peer
	switch peer.Status {
	case model.PeerBlocked, model.PeerTimeExpired:
		return nil
	}

	if peer.ActiveUntil != nil {
		left := time.Until(*peer.ActiveUntil)
		if left <= 0 {
			c.buses.Timer.Trigger(ctx, Timer{User: e.owner.user, Peer: peer, Disconnect: true})
			return c.timeoutDisconnect(ctx, e)
		}
		if warn && left <= warnWindow {
			c.buses.Timer.Trigger(ctx, Timer{User: e.owner.user, Peer: peer, Disconnect: false})
		}
	}

	backend, ok := c.backends.BackendFor(peer.Kind)
	if !ok {
		return nil
	}
	alive, err := backend.IsConnected(ctx, peer)
	if err != nil {
		return fmt.Errorf("probe peer %d: %w", peer.ID, err)
	}

	switch {
	case alive && peer.Status == model.PeerDisconnected:
		return c.connect(ctx, e)
	case !alive && peer.Status == model.PeerConnected:
		return c.disconnect(ctx, e)
	}
	return nil
}

// connect opens the peer's active window. The snapshot mutates before
// the trigger, so a re-probe in the same cycle sees the new state.
func (c *Connection) connect(ctx context.Context, e *entry) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	until := time.Now().Add(c.activeFor)
	if err := c.store.SetPeerStatus(ctx, e.peer.ID, model.PeerConnected); err != nil {
		return fmt.Errorf("persist peer %d status: %w", e.peer.ID, err)
	}
	if err := c.store.SetPeerActiveUntil(ctx, e.peer.ID, &until); err != nil {
		return fmt.Errorf("persist peer %d active window: %w", e.peer.ID, err)
	}
	if err := c.store.SetUserStatus(ctx, e.owner.user.ID, model.UserConnected); err != nil {
		return fmt.Errorf("persist user %s status: %w", e.owner.user.ID, err)
	}

	e.peer.Status = model.PeerConnected
	e.peer.ActiveUntil = &until
	e.owner.user.Status = model.UserConnected

	c.log.Info().Int64("peer_id", e.peer.ID).Str("user_id", e.owner.user.ID).Time("active_until", until).Msg("peer connected")
	c.buses.Connected.Trigger(ctx, Connected{User: e.owner.user, Peer: e.peer})
	return nil
}

// disconnect marks the peer gone; the user follows only once their last
// connected peer is gone.
func (c *Connection) disconnect(ctx context.Context, e *entry) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := c.store.SetPeerStatus(ctx, e.peer.ID, model.PeerDisconnected); err != nil {
		return fmt.Errorf("persist peer %d status: %w", e.peer.ID, err)
	}
	e.peer.Status = model.PeerDisconnected

	if !hasConnected(e.owner.peers) {
		if err := c.store.SetUserStatus(ctx, e.owner.user.ID, model.UserDisconnected); err != nil {
			return fmt.Errorf("persist user %s status: %w", e.owner.user.ID, err)
		}
		e.owner.user.Status = model.UserDisconnected
	}

	c.log.Info().Int64("peer_id", e.peer.ID).Str("user_id", e.owner.user.ID).Msg("peer disconnected")
	c.buses.Disconnected.Trigger(ctx, Disconnected{User: e.owner.user, Peer: e.peer})
	return nil
}

// timeoutDisconnect closes an exhausted window: the dataplane goes dark
// first, then the rows. The Timer event already carried the news, so no
// Disconnected event fires here.
func (c *Connection) timeoutDisconnect(ctx context.Context, e *entry) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if backend, ok := c.backends.BackendFor(e.peer.Kind); ok {
		if err := backend.Disable(ctx, e.peer); err != nil {
			return fmt.Errorf("disable peer %d: %w", e.peer.ID, err)
		}
	}
	if err := c.store.SetPeerStatus(ctx, e.peer.ID, model.PeerTimeExpired); err != nil {
		return fmt.Errorf("persist peer %d status: %w", e.peer.ID, err)
	}
	// Expired rows carry no window; the next connect starts a fresh one.
	if err := c.store.SetPeerActiveUntil(ctx, e.peer.ID, nil); err != nil {
		return fmt.Errorf("clear peer %d active window: %w", e.peer.ID, err)
	}
	e.peer.Status = model.PeerTimeExpired
	e.peer.ActiveUntil = nil

	if !hasConnected(e.owner.peers) {
		if err := c.store.SetUserStatus(ctx, e.owner.user.ID, model.UserTimeExpired); err != nil {
			return fmt.Errorf("persist user %s status: %w", e.owner.user.ID, err)
		}
		e.owner.user.Status = model.UserTimeExpired
	}

	c.log.Info().Int64("peer_id", e.peer.ID).Str("user_id", e.owner.user.ID).Msg("peer active window expired")
	return nil
}

func hasConnected(peers []*model.Peer) bool {
	for _, p := range peers {
		if p.Status == model.PeerConnected {
			return true
		}
	}
	return false
}
