package lifecycle

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

func seedProcess(t *testing.T, store *storage.BoltStore) *types.Process {
	t.Helper()
	p := &types.Process{Name: "invoice-bot", Requirements: "python"}
	err := store.Update(func(tx *storage.Txn) error {
		return tx.CreateProcess(p)
	})
	require.NoError(t, err)
	return p
}

func TestCreateSession(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(nil, 4*time.Hour)
	p := seedProcess(t, store)

	var sess *types.Session
	err := store.Update(func(tx *storage.Txn) error {
		var err error
		sess, err = svc.Create(tx, p.ID, "batch=42", false)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, types.SessionStatusNew, sess.Status)
	assert.Equal(t, "batch=42", sess.Parameters)
	assert.Empty(t, sess.ResourceID)
	assert.Nil(t, sess.DispatchedAt)
}

func TestCreateDeduplicatesPendingSessions(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(nil, 4*time.Hour)
	p := seedProcess(t, store)

	err := store.Update(func(tx *storage.Txn) error {
		first, err := svc.Create(tx, p.ID, "", false)
		if err != nil {
			return err
		}
		require.NotNil(t, first)

		// Second create without force is suppressed: nothing new.
		second, err := svc.Create(tx, p.ID, "", false)
		if err != nil {
			return err
		}
		assert.Nil(t, second)

		// Force creates a sibling anyway.
		third, err := svc.Create(tx, p.ID, "", true)
		if err != nil {
			return err
		}
		require.NotNil(t, third)
		assert.NotEqual(t, first.ID, third.ID)
		return nil
	})
	require.NoError(t, err)
}

func TestCreateQueuesNextRunBehindRunningSession(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(nil, 4*time.Hour)
	p := seedProcess(t, store)
	now := time.Now().UTC()

	err := store.Update(func(tx *storage.Txn) error {
		first, err := svc.Create(tx, p.ID, "", false)
		if err != nil {
			return err
		}
		first.ResourceID = "r1"
		first.DispatchedAt = &now
		first.Status = types.SessionStatusInProgress
		if err := tx.UpdateSession(first); err != nil {
			return err
		}

		// Only pending sessions block creation; a running one does not,
		// so the next run queues up while the current one executes.
		next, err := svc.Create(tx, p.ID, "", false)
		if err != nil {
			return err
		}
		require.NotNil(t, next)
		assert.NotEqual(t, first.ID, next.ID)
		assert.Equal(t, types.SessionStatusNew, next.Status)
		return nil
	})
	require.NoError(t, err)
}

func TestCreateRejectsDeletedProcess(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(nil, 4*time.Hour)
	p := seedProcess(t, store)

	err := store.Update(func(tx *storage.Txn) error {
		if err := tx.DeleteProcess(p.ID); err != nil {
			return err
		}
		_, err := svc.Create(tx, p.ID, "", false)
		assert.True(t, errors.Is(err, types.ErrGone))

		_, err = svc.Create(tx, "no-such-process", "", false)
		assert.True(t, errors.Is(err, types.ErrNotFound))
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateStatusHappyPath(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(nil, 4*time.Hour)
	p := seedProcess(t, store)

	err := store.Update(func(tx *storage.Txn) error {
		r := &types.Resource{FQDN: "bot-01.corp", Available: false}
		if err := tx.CreateResource(r); err != nil {
			return err
		}

		sess, err := svc.Create(tx, p.ID, "", false)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		sess.ResourceID = r.ID
		sess.DispatchedAt = &now
		if err := tx.UpdateSession(sess); err != nil {
			return err
		}

		if _, err := svc.UpdateStatus(tx, sess.ID, types.SessionStatusInProgress); err != nil {
			return err
		}
		if _, err := svc.UpdateStatus(tx, sess.ID, types.SessionStatusCompleted); err != nil {
			return err
		}

		// Completion frees the resource in the same transaction.
		got, err := tx.GetResource(r.ID)
		if err != nil {
			return err
		}
		assert.True(t, got.Available)
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateStatusRejectsIllegalMoves(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(nil, 4*time.Hour)
	p := seedProcess(t, store)

	err := store.Update(func(tx *storage.Txn) error {
		sess, err := svc.Create(tx, p.ID, "", false)
		if err != nil {
			return err
		}

		// Undispatched sessions cannot move.
		_, err = svc.UpdateStatus(tx, sess.ID, types.SessionStatusInProgress)
		assert.True(t, errors.Is(err, types.ErrInvalidTransition))

		now := time.Now().UTC()
		sess.ResourceID = "r1"
		sess.DispatchedAt = &now
		if err := tx.UpdateSession(sess); err != nil {
			return err
		}

		// new -> completed skips in_progress.
		_, err = svc.UpdateStatus(tx, sess.ID, types.SessionStatusCompleted)
		assert.True(t, errors.Is(err, types.ErrInvalidTransition))

		if _, err := svc.UpdateStatus(tx, sess.ID, types.SessionStatusInProgress); err != nil {
			return err
		}
		if _, err := svc.UpdateStatus(tx, sess.ID, types.SessionStatusFailed); err != nil {
			return err
		}

		// Terminal sessions are frozen.
		_, err = svc.UpdateStatus(tx, sess.ID, types.SessionStatusInProgress)
		assert.True(t, errors.Is(err, types.ErrInvalidTransition))
		return nil
	})
	require.NoError(t, err)
}

func TestRescheduleOrphans(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(nil, 4*time.Hour)
	p := seedProcess(t, store)
	now := time.Now().UTC()

	err := store.Update(func(tx *storage.Txn) error {
		alive := &types.Resource{FQDN: "alive.corp"}
		gone := &types.Resource{FQDN: "gone.corp", Deleted: true}
		if err := tx.CreateResource(alive); err != nil {
			return err
		}
		if err := tx.CreateResource(gone); err != nil {
			return err
		}

		pinned := &types.Session{ProcessID: p.ID, ResourceID: gone.ID, DispatchedAt: &now, Status: types.SessionStatusNew}
		healthy := &types.Session{ProcessID: p.ID, ResourceID: alive.ID, DispatchedAt: &now, Status: types.SessionStatusNew}
		if err := tx.CreateSession(pinned); err != nil {
			return err
		}
		return tx.CreateSession(healthy)
	})
	require.NoError(t, err)

	err = store.Update(func(tx *storage.Txn) error {
		return svc.RescheduleOrphans(tx)
	})
	require.NoError(t, err)

	err = store.View(func(tx *storage.Txn) error {
		sessions, err := tx.NewSessions()
		require.NoError(t, err)
		require.Len(t, sessions, 2)

		var unpinned, stillPinned int
		for _, sess := range sessions {
			if sess.ResourceID == "" {
				unpinned++
				assert.Nil(t, sess.DispatchedAt)
			} else {
				stillPinned++
			}
		}
		assert.Equal(t, 1, unpinned)
		assert.Equal(t, 1, stillPinned)
		return nil
	})
	require.NoError(t, err)
}

func TestFlushDangling(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(nil, 4*time.Hour)
	p := seedProcess(t, store)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	err := store.Update(func(tx *storage.Txn) error {
		alive := &types.Resource{FQDN: "alive.corp"}
		if err := tx.CreateResource(alive); err != nil {
			return err
		}

		old := now.Add(-5 * time.Hour)
		recent := now.Add(-time.Hour)

		// Running 5h on a vanished resource: failed.
		dangling := &types.Session{ID: "s-dangling", ProcessID: p.ID, ResourceID: "vanished", DispatchedAt: &old, Status: types.SessionStatusInProgress}
		// Running 5h but the resource is still enrolled: left alone.
		longRunning := &types.Session{ID: "s-long", ProcessID: p.ID, ResourceID: alive.ID, DispatchedAt: &old, Status: types.SessionStatusInProgress}
		// Recent dispatch on a vanished resource: not yet past the window.
		fresh := &types.Session{ID: "s-fresh", ProcessID: p.ID, ResourceID: "vanished", DispatchedAt: &recent, Status: types.SessionStatusInProgress}

		for _, sess := range []*types.Session{dangling, longRunning, fresh} {
			if err := tx.CreateSession(sess); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = store.Update(func(tx *storage.Txn) error {
		return svc.FlushDangling(tx, now)
	})
	require.NoError(t, err)

	err = store.View(func(tx *storage.Txn) error {
		want := map[string]types.SessionStatus{
			"s-dangling": types.SessionStatusFailed,
			"s-long":     types.SessionStatusInProgress,
			"s-fresh":    types.SessionStatusInProgress,
		}
		for id, status := range want {
			sess, err := tx.GetSession(id)
			require.NoError(t, err)
			assert.Equal(t, status, sess.Status, id)
		}

		// A failed dangling session no longer points at the vanished
		// resource.
		failed, err := tx.GetSession("s-dangling")
		require.NoError(t, err)
		assert.Empty(t, failed.ResourceID)
		assert.Nil(t, failed.DispatchedAt)
		return nil
	})
	require.NoError(t, err)
}

func TestRequestStop(t *testing.T) {
	store := newTestStore(t)
	svc := NewService(nil, 4*time.Hour)
	p := seedProcess(t, store)

	err := store.Update(func(tx *storage.Txn) error {
		sess, err := svc.Create(tx, p.ID, "", false)
		if err != nil {
			return err
		}

		got, err := svc.RequestStop(tx, sess.ID)
		if err != nil {
			return err
		}
		assert.True(t, got.StopRequested)

		// Terminal sessions cannot be stopped.
		got.Status = types.SessionStatusCompleted
		if err := tx.UpdateSession(got); err != nil {
			return err
		}
		_, err = svc.RequestStop(tx, sess.ID)
		assert.True(t, errors.Is(err, types.ErrInvalidTransition))
		return nil
	})
	require.NoError(t, err)
}
