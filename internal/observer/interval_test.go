package observer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gatewarden/gatewarden/internal/model"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntervalRunner_RunsImmediatelyThenTicks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runs := 0
	err := IntervalRunner(ctx, zerolog.Nop(), "tick", time.Millisecond, func(context.Context) error {
		runs++
		if runs == 3 {
			cancel()
		}
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, runs)
}

func TestIntervalRunner_KeepsGoingAfterError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runs := 0
	err := IntervalRunner(ctx, zerolog.Nop(), "tick", time.Millisecond, func(context.Context) error {
		runs++
		if runs == 3 {
			cancel()
			return nil
		}
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, runs)
}

func TestNextOccurrence(t *testing.T) {
	now := time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)

	next, err := nextOccurrence(now, "15:04")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.March, 10, 15, 4, 0, 0, time.UTC), next)

	next, err = nextOccurrence(now, "09:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.March, 11, 9, 0, 0, 0, time.UTC), next)

	// The current minute already started, so the next run is tomorrow.
	next, err = nextOccurrence(now, "10:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.March, 11, 10, 0, 0, 0, time.UTC), next)

	_, err = nextOccurrence(now, "25:99")
	require.Error(t, err)
}

func TestScheduledRunner_CancelWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	at := time.Now().Add(time.Hour).Format("15:04")

	fired := false
	errCh := make(chan error, 1)
	go func() {
		errCh <- ScheduledRunner(ctx, zerolog.Nop(), "sweep", at, func(context.Context) error {
			fired = true
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after cancel")
	}
	assert.False(t, fired)
}

func TestScheduledRunner_BadSchedule(t *testing.T) {
	err := ScheduledRunner(context.Background(), zerolog.Nop(), "sweep", "quarter past", func(context.Context) error {
		return nil
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse schedule")
}

// fakeDisabler records which peer groups were shut off.
type fakeDisabler struct {
	mu    sync.Mutex
	calls [][]int64
	err   error
}

func (d *fakeDisabler) DisablePeers(_ context.Context, peers []*model.Peer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	ids := make([]int64, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.ID)
	}
	d.calls = append(d.calls, ids)
	return nil
}

func (d *fakeDisabler) disableCalls() [][]int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]int64(nil), d.calls...)
}

func newTestInterval(store *obsStore, ops PeerDisabler) (*Interval, *eventRecorder) {
	buses := NewBuses(zerolog.Nop())
	rec := recordEvents(buses)
	return NewInterval(store, ops, buses, "", zerolog.Nop()), rec
}

// onDay builds a local timestamp hour o'clock, dayOffset days from today.
func onDay(dayOffset, hour int) time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.Local).AddDate(0, 0, dayOffset)
}

func expiringUser(id, status string, expiresAt time.Time) model.User {
	user := obsUser(id, status)
	user.ExpiresAt = &expiresAt
	return user
}

func TestInterval_CheckExpirations_BlocksExpiredUser(t *testing.T) {
	store := newObsStore()
	store.addUser(expiringUser("7", model.UserConnected, onDay(-1, 12)),
		obsPeer(1, "7", model.KindWireguard, model.PeerConnected),
		obsPeer(2, "7", model.KindXray, model.PeerConnected))
	disabler := &fakeDisabler{}
	iv, rec := newTestInterval(store, disabler)

	require.NoError(t, iv.CheckExpirations(context.Background()))

	status, ok := store.userStatusOf("7")
	require.True(t, ok)
	assert.Equal(t, model.UserAccountBlocked, status)
	assert.Equal(t, [][]int64{{1, 2}}, disabler.disableCalls())
	assert.Equal(t, []string{"7"}, rec.blockedUsers())
	assert.Empty(t, rec.warnedUsers())
}

func TestInterval_CheckExpirations_ExpiryTodayBlocks(t *testing.T) {
	store := newObsStore()
	store.addUser(expiringUser("7", model.UserConnected, onDay(0, 23)),
		obsPeer(1, "7", model.KindWireguard, model.PeerConnected))
	disabler := &fakeDisabler{}
	iv, rec := newTestInterval(store, disabler)

	require.NoError(t, iv.CheckExpirations(context.Background()))

	// The date decides, not the clock: later today still counts as due.
	status, _ := store.userStatusOf("7")
	assert.Equal(t, model.UserAccountBlocked, status)
	assert.Equal(t, []string{"7"}, rec.blockedUsers())
}

func TestInterval_CheckExpirations_WarnsOnLastDay(t *testing.T) {
	store := newObsStore()
	store.addUser(expiringUser("7", model.UserConnected, onDay(1, 12)),
		obsPeer(1, "7", model.KindWireguard, model.PeerConnected))
	disabler := &fakeDisabler{}
	iv, rec := newTestInterval(store, disabler)

	require.NoError(t, iv.CheckExpirations(context.Background()))

	assert.Equal(t, []string{"7"}, rec.warnedUsers())
	assert.Empty(t, rec.blockedUsers())
	assert.Empty(t, disabler.disableCalls())
	_, ok := store.userStatusOf("7")
	assert.False(t, ok, "warning must not change the account")
}

func TestInterval_CheckExpirations_FarFutureUntouched(t *testing.T) {
	store := newObsStore()
	store.addUser(expiringUser("7", model.UserConnected, onDay(7, 12)),
		obsPeer(1, "7", model.KindWireguard, model.PeerConnected))
	disabler := &fakeDisabler{}
	iv, rec := newTestInterval(store, disabler)

	require.NoError(t, iv.CheckExpirations(context.Background()))

	assert.Empty(t, rec.warnedUsers())
	assert.Empty(t, rec.blockedUsers())
	assert.Empty(t, disabler.disableCalls())
}

func TestInterval_CheckExpirations_SkipsBlockedAndUnbounded(t *testing.T) {
	store := newObsStore()
	store.addUser(expiringUser("gone", model.UserAccountBlocked, onDay(-3, 12)),
		obsPeer(1, "gone", model.KindWireguard, model.PeerBlocked))
	store.addUser(obsUser("forever", model.UserConnected),
		obsPeer(2, "forever", model.KindXray, model.PeerConnected))
	disabler := &fakeDisabler{}
	iv, rec := newTestInterval(store, disabler)

	require.NoError(t, iv.CheckExpirations(context.Background()))

	assert.Empty(t, rec.warnedUsers())
	assert.Empty(t, rec.blockedUsers())
	assert.Empty(t, disabler.disableCalls())
}

func TestInterval_CheckExpirations_SecondRunIsNoop(t *testing.T) {
	store := newObsStore()
	store.addUser(expiringUser("7", model.UserConnected, onDay(-1, 12)),
		obsPeer(1, "7", model.KindWireguard, model.PeerConnected))
	disabler := &fakeDisabler{}
	iv, rec := newTestInterval(store, disabler)

	require.NoError(t, iv.CheckExpirations(context.Background()))
	require.NoError(t, iv.CheckExpirations(context.Background()))

	assert.Equal(t, []string{"7"}, rec.blockedUsers())
	assert.Len(t, disabler.disableCalls(), 1)
}

func TestInterval_CheckExpirations_DisableFailureSurfaces(t *testing.T) {
	store := newObsStore()
	store.addUser(expiringUser("7", model.UserConnected, onDay(-1, 12)),
		obsPeer(1, "7", model.KindWireguard, model.PeerConnected))
	disabler := &fakeDisabler{err: errors.New("hub down")}
	iv, rec := newTestInterval(store, disabler)

	err := iv.CheckExpirations(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disable peers for user 7")

	// The account is already blocked; only the event is withheld.
	status, _ := store.userStatusOf("7")
	assert.Equal(t, model.UserAccountBlocked, status)
	assert.Empty(t, rec.blockedUsers())
}

func TestInterval_Run_CancelStops(t *testing.T) {
	store := newObsStore()
	iv, _ := newTestInterval(store, &fakeDisabler{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- iv.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sweep did not stop after cancel")
	}
}
