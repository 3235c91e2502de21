package registry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

func newTestStore(t *testing.T) *storage.BoltStore {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestEnrollNewResource(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(nil, 10*time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var r *types.Resource
	err := store.Update(func(tx *storage.Txn) error {
		var err error
		r, err = svc.Enroll(tx, EnrollRequest{FQDN: "bot-01.corp", Name: "bot-01", Capabilities: "python linux"}, now)
		return err
	})
	require.NoError(t, err)

	assert.NotEmpty(t, r.ID)
	assert.True(t, r.Available)
	assert.Equal(t, now, r.LastSeen)
}

func TestEnrollRequiresFQDN(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(nil, 10*time.Minute)

	err := store.Update(func(tx *storage.Txn) error {
		_, err := svc.Enroll(tx, EnrollRequest{Name: "anon"}, time.Now().UTC())
		return err
	})
	assert.True(t, errors.Is(err, types.ErrInvalid))
}

func TestEnrollIsIdempotentForLiveResource(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(nil, 10*time.Minute)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)

	var first, second *types.Resource
	err := store.Update(func(tx *storage.Txn) error {
		var err error
		first, err = svc.Enroll(tx, EnrollRequest{FQDN: "bot-01.corp", Capabilities: "python"}, t0)
		if err != nil {
			return err
		}
		// Mark busy, then re-enroll with new capabilities.
		first.Available = false
		if err := tx.UpdateResource(first); err != nil {
			return err
		}
		second, err = svc.Enroll(tx, EnrollRequest{FQDN: "bot-01.corp", Capabilities: "python chrome"}, t1)
		return err
	})
	require.NoError(t, err)

	// Same record, refreshed sighting and capabilities; availability is
	// untouched by a repeat enrollment.
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "python chrome", second.Capabilities)
	assert.Equal(t, t1, second.LastSeen)
	assert.False(t, second.Available)
}

func TestEnrollRevivesDetachedResource(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(nil, 10*time.Minute)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var revived *types.Resource
	err := store.Update(func(tx *storage.Txn) error {
		r, err := svc.Enroll(tx, EnrollRequest{FQDN: "bot-01.corp", Capabilities: "python"}, t0)
		if err != nil {
			return err
		}

		// A running session is pinned when the resource drops off.
		sess := &types.Session{ProcessID: "p1", ResourceID: r.ID, Status: types.SessionStatusInProgress}
		if err := tx.CreateSession(sess); err != nil {
			return err
		}
		if err := svc.Detach(tx, r); err != nil {
			return err
		}

		revived, err = svc.Enroll(tx, EnrollRequest{FQDN: "bot-01.corp", Name: "bot-01", Capabilities: "python chrome"}, t0.Add(time.Hour))
		return err
	})
	require.NoError(t, err)

	assert.False(t, revived.Deleted)
	assert.True(t, revived.Available)
	assert.Equal(t, "python chrome", revived.Capabilities)

	// The interrupted session failed when the resource detached.
	err = store.View(func(tx *storage.Txn) error {
		sessions, err := tx.ListSessions(false)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, types.SessionStatusFailed, sessions[0].Status)
		assert.Empty(t, sessions[0].ResourceID)
		return nil
	})
	require.NoError(t, err)
}

func TestHeartbeatRefreshesLastSeen(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(nil, 10*time.Minute)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(5 * time.Minute)

	err := store.Update(func(tx *storage.Txn) error {
		r, err := svc.Enroll(tx, EnrollRequest{FQDN: "bot-01.corp"}, t0)
		if err != nil {
			return err
		}
		got, err := svc.Heartbeat(tx, r.ID, t1)
		if err != nil {
			return err
		}
		assert.Equal(t, t1, got.LastSeen)
		return nil
	})
	require.NoError(t, err)
}

func TestHeartbeatRevivesSweptResource(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(nil, 10*time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := store.Update(func(tx *storage.Txn) error {
		r, err := svc.Enroll(tx, EnrollRequest{FQDN: "bot-01.corp", Capabilities: "python"}, now.Add(-11*time.Minute))
		if err != nil {
			return err
		}
		if err := svc.SweepStale(tx, now); err != nil {
			return err
		}
		swept, err := tx.GetResource(r.ID)
		if err != nil {
			return err
		}
		require.True(t, swept.Deleted)

		// The machine was only unreachable; its next ping must put it
		// back into the dispatchable pool.
		got, err := svc.Heartbeat(tx, r.ID, now)
		if err != nil {
			return err
		}
		assert.False(t, got.Deleted)
		assert.True(t, got.Available)

		free, err := tx.AvailableResources()
		if err != nil {
			return err
		}
		require.Len(t, free, 1)
		assert.Equal(t, r.ID, free[0].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestHeartbeatRevivalSparesBusyResource(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(nil, 10*time.Minute)
	now := time.Now().UTC()

	err := store.Update(func(tx *storage.Txn) error {
		r, err := svc.Enroll(tx, EnrollRequest{FQDN: "bot-01.corp"}, now)
		if err != nil {
			return err
		}
		r.Deleted = true
		r.Available = false
		if err := tx.UpdateResource(r); err != nil {
			return err
		}
		sess := &types.Session{ProcessID: "p1", ResourceID: r.ID, Status: types.SessionStatusInProgress}
		if err := tx.CreateSession(sess); err != nil {
			return err
		}

		got, err := svc.Heartbeat(tx, r.ID, now)
		if err != nil {
			return err
		}
		assert.False(t, got.Deleted)
		assert.False(t, got.Available)
		return nil
	})
	require.NoError(t, err)
}

func TestSweepStaleDetachesSilentResources(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(nil, 10*time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := store.Update(func(tx *storage.Txn) error {
		// Silent past the window: swept.
		stale, err := svc.Enroll(tx, EnrollRequest{FQDN: "stale.corp"}, now.Add(-11*time.Minute))
		if err != nil {
			return err
		}
		// Fresh heartbeat: untouched.
		if _, err := svc.Enroll(tx, EnrollRequest{FQDN: "fresh.corp"}, now.Add(-time.Minute)); err != nil {
			return err
		}
		// Pending session pinned to the stale resource goes back to the pool.
		sess := &types.Session{ProcessID: "p1", ResourceID: stale.ID, Status: types.SessionStatusNew}
		dispatched := now.Add(-20 * time.Minute)
		sess.DispatchedAt = &dispatched
		return tx.CreateSession(sess)
	})
	require.NoError(t, err)

	err = store.Update(func(tx *storage.Txn) error {
		return svc.SweepStale(tx, now)
	})
	require.NoError(t, err)

	err = store.View(func(tx *storage.Txn) error {
		stale, err := tx.ResourceByFQDN("stale.corp")
		require.NoError(t, err)
		assert.True(t, stale.Deleted)

		fresh, err := tx.ResourceByFQDN("fresh.corp")
		require.NoError(t, err)
		assert.False(t, fresh.Deleted)

		sessions, err := tx.NewSessions()
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Empty(t, sessions[0].ResourceID)
		assert.Nil(t, sessions[0].DispatchedAt)
		return nil
	})
	require.NoError(t, err)
}

func TestSweepStaleSparesBusyResources(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(nil, 10*time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := store.Update(func(tx *storage.Txn) error {
		// Silent past the window but mid-session: spared.
		busy, err := svc.Enroll(tx, EnrollRequest{FQDN: "busy.corp"}, now.Add(-30*time.Minute))
		if err != nil {
			return err
		}
		sess := &types.Session{ProcessID: "p1", ResourceID: busy.ID, Status: types.SessionStatusInProgress}
		return tx.CreateSession(sess)
	})
	require.NoError(t, err)

	err = store.Update(func(tx *storage.Txn) error {
		return svc.SweepStale(tx, now)
	})
	require.NoError(t, err)

	err = store.View(func(tx *storage.Txn) error {
		busy, err := tx.ResourceByFQDN("busy.corp")
		require.NoError(t, err)
		assert.False(t, busy.Deleted)
		return nil
	})
	require.NoError(t, err)
}
