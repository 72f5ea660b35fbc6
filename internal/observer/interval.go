package observer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/rs/zerolog"
)

// DefaultSweepTime is when the daily expiration sweep runs.
const DefaultSweepTime = "03:00"

// IntervalRunner calls fn, sleeps for every, and repeats until ctx ends.
// fn errors are logged and the loop keeps going.
func IntervalRunner(ctx context.Context, logger zerolog.Logger, name string, every time.Duration, fn func(context.Context) error) error {
	log := logger.With().Str("job", name).Logger()
	for {
		if err := fn(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("job failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(every):
		}
	}
}

// ScheduledRunner sleeps until the next wall-clock occurrence of at (in
// "15:04" form), calls fn, and repeats daily.
func ScheduledRunner(ctx context.Context, logger zerolog.Logger, name, at string, fn func(context.Context) error) error {
	log := logger.With().Str("job", name).Logger()
	for {
		next, err := nextOccurrence(time.Now(), at)
		if err != nil {
			return err
		}
		log.Debug().Time("at", next).Msg("job scheduled")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(next)):
		}

		if err := fn(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Err(err).Msg("job failed")
		}
	}
}

// nextOccurrence finds the first wall-clock occurrence of at strictly
// after now: today if the time is still ahead, otherwise tomorrow.
func nextOccurrence(now time.Time, at string) (time.Time, error) {
	tod, err := time.Parse("15:04", at)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse schedule %q: %w", at, err)
	}
	next := time.Date(now.Year(), now.Month(), now.Day(), tod.Hour(), tod.Minute(), 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next, nil
}

// PeerDisabler shuts a set of peers off across their dataplanes.
type PeerDisabler interface {
	DisablePeers(ctx context.Context, peers []*model.Peer) error
}

// Interval runs the daily account-expiry sweep.
type Interval struct {
	store Store
	ops   PeerDisabler
	buses *Buses
	at    string
	log   zerolog.Logger
}

// NewInterval wires the sweep. An empty at falls back to DefaultSweepTime.
func NewInterval(store Store, ops PeerDisabler, buses *Buses, at string, logger zerolog.Logger) *Interval {
	if at == "" {
		at = DefaultSweepTime
	}
	return &Interval{
		store: store,
		ops:   ops,
		buses: buses,
		at:    at,
		log:   logger.With().Str("component", "interval-observer").Logger(),
	}
}

// Run schedules the daily sweep and blocks until ctx ends.
func (iv *Interval) Run(ctx context.Context) error {
	return ScheduledRunner(ctx, iv.log, "check_expirations", iv.at, iv.CheckExpirations)
}

// CheckExpirations blocks users whose expiry date has arrived and warns
// users entering their last day. Already-blocked users are skipped, so
// running the sweep twice on the same day changes nothing.
func (iv *Interval) CheckExpirations(ctx context.Context) error {
	users, err := iv.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	today := dateOnly(time.Now())
	var errs []error
	for i := range users {
		user := &users[i]
		if user.Status == model.UserAccountBlocked || user.ExpiresAt == nil {
			continue
		}
		switch {
		case !dateOnly(*user.ExpiresAt).After(today):
			if err := iv.blockExpired(ctx, user); err != nil {
				errs = append(errs, err)
			}
		case !dateOnly(user.ExpiresAt.Add(-24 * time.Hour)).After(today):
			iv.log.Info().Str("user_id", user.ID).Time("expires_at", *user.ExpiresAt).Msg("user expires within a day")
			iv.buses.ExpireWarn.Trigger(ctx, ExpireWarn{User: user})
		}
	}
	return errors.Join(errs...)
}

func (iv *Interval) blockExpired(ctx context.Context, user *model.User) error {
	if err := iv.store.SetUserStatus(ctx, user.ID, model.UserAccountBlocked); err != nil {
		return fmt.Errorf("block user %s: %w", user.ID, err)
	}
	user.Status = model.UserAccountBlocked

	peers, err := iv.store.GetPeers(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("load peers for user %s: %w", user.ID, err)
	}
	refs := make([]*model.Peer, 0, len(peers))
	for i := range peers {
		refs = append(refs, &peers[i])
	}
	if err := iv.ops.DisablePeers(ctx, refs); err != nil {
		return fmt.Errorf("disable peers for user %s: %w", user.ID, err)
	}

	iv.log.Info().Str("user_id", user.ID).Msg("user account expired, peers disabled")
	iv.buses.ExpireBlock.Trigger(ctx, ExpireBlock{User: user})
	return nil
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Local().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}
