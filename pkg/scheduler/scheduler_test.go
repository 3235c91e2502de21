package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverd/drover/pkg/dispatch"
	"github.com/droverd/drover/pkg/lifecycle"
	"github.com/droverd/drover/pkg/registry"
	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/trigger"
	"github.com/droverd/drover/pkg/types"
)

func newTestScheduler(t *testing.T) (*Scheduler, *storage.BoltStore) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sessions := lifecycle.NewService(nil, 4*time.Hour)
	reg := registry.NewService(nil, 10*time.Minute)
	d := dispatch.NewDispatcher(reg, nil)
	triggers := trigger.NewEngine(sessions, nil, 1000)

	return New(store, sessions, d, triggers, Config{Interval: 10 * time.Second, ErrorBackoff: 30 * time.Second}), store
}

func (s *Scheduler) tickAt(t *testing.T, now time.Time) {
	t.Helper()
	s.nowFn = func() time.Time { return now }
	require.NoError(t, s.Tick())
}

func seedProcess(t *testing.T, store *storage.BoltStore, id, requirements string) {
	t.Helper()
	err := store.Update(func(tx *storage.Txn) error {
		return tx.CreateProcess(&types.Process{ID: id, Name: id, Requirements: requirements})
	})
	require.NoError(t, err)
}

func seedResource(t *testing.T, store *storage.BoltStore, id, capabilities string, lastSeen time.Time) {
	t.Helper()
	err := store.Update(func(tx *storage.Txn) error {
		return tx.CreateResource(&types.Resource{
			ID: id, FQDN: id + ".corp", Capabilities: capabilities, Available: true, LastSeen: lastSeen,
		})
	})
	require.NoError(t, err)
}

func TestTickDispatchesCronSessionsSamePass(t *testing.T) {
	sched, store := newTestScheduler(t)
	now := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)

	seedProcess(t, store, "p1", "python")
	seedResource(t, store, "r1", "python", now)
	err := store.Update(func(tx *storage.Txn) error {
		return tx.CreateTrigger(&types.Trigger{
			ID: "t1", ProcessID: "p1", Type: types.TriggerTypeCron, Cron: "5 * * * *", Enabled: true,
		})
	})
	require.NoError(t, err)

	sched.tickAt(t, now)

	// The trigger fired and the post-trigger dispatch pass paired the new
	// session immediately.
	err = store.View(func(tx *storage.Txn) error {
		sessions, err := tx.ListSessions(false)
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, "r1", sessions[0].ResourceID)
		require.NotNil(t, sessions[0].DispatchedAt)

		r, err := tx.GetResource("r1")
		require.NoError(t, err)
		assert.False(t, r.Available)
		return nil
	})
	require.NoError(t, err)
}

func TestTickSweepsStaleResourceAndRequeuesSession(t *testing.T) {
	sched, store := newTestScheduler(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedProcess(t, store, "p1", "python")
	err := store.Update(func(tx *storage.Txn) error {
		// Silent for 30 minutes with a pending session pinned to it.
		r := &types.Resource{ID: "r-stale", FQDN: "stale.corp", Capabilities: "python", Available: false, LastSeen: now.Add(-30 * time.Minute)}
		if err := tx.CreateResource(r); err != nil {
			return err
		}
		dispatched := now.Add(-25 * time.Minute)
		return tx.CreateSession(&types.Session{
			ID: "s1", ProcessID: "p1", ResourceID: "r-stale", DispatchedAt: &dispatched, Status: types.SessionStatusNew,
		})
	})
	require.NoError(t, err)

	sched.tickAt(t, now)

	err = store.View(func(tx *storage.Txn) error {
		r, err := tx.GetResource("r-stale")
		require.NoError(t, err)
		assert.True(t, r.Deleted)

		sess, err := tx.GetSession("s1")
		require.NoError(t, err)
		assert.Equal(t, types.SessionStatusNew, sess.Status)
		assert.Empty(t, sess.ResourceID)
		assert.Nil(t, sess.DispatchedAt)
		return nil
	})
	require.NoError(t, err)

	// A fresh compatible resource enrolls; the requeued session dispatches
	// on the next pass.
	seedResource(t, store, "r-new", "python", now)
	sched.tickAt(t, now.Add(10*time.Second))

	err = store.View(func(tx *storage.Txn) error {
		sess, err := tx.GetSession("s1")
		require.NoError(t, err)
		assert.Equal(t, "r-new", sess.ResourceID)
		return nil
	})
	require.NoError(t, err)
}

func TestTickFailsDanglingSessions(t *testing.T) {
	sched, store := newTestScheduler(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedProcess(t, store, "p1", "python")
	err := store.Update(func(tx *storage.Txn) error {
		dispatched := now.Add(-5 * time.Hour)
		return tx.CreateSession(&types.Session{
			ID: "s1", ProcessID: "p1", ResourceID: "vanished", DispatchedAt: &dispatched, Status: types.SessionStatusInProgress,
		})
	})
	require.NoError(t, err)

	sched.tickAt(t, now)

	err = store.View(func(tx *storage.Txn) error {
		sess, err := tx.GetSession("s1")
		require.NoError(t, err)
		assert.Equal(t, types.SessionStatusFailed, sess.Status)
		return nil
	})
	require.NoError(t, err)
}

func TestTickWorkqueueScalesWithBacklog(t *testing.T) {
	sched, store := newTestScheduler(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	seedProcess(t, store, "p1", "python")
	seedResource(t, store, "r1", "python", now)
	seedResource(t, store, "r2", "python", now)
	err := store.Update(func(tx *storage.Txn) error {
		if err := tx.CreateWorkqueue(&types.Workqueue{ID: "q1", Name: "q1", Enabled: true}); err != nil {
			return err
		}
		for i := 0; i < 10; i++ {
			if err := tx.CreateWorkItem(&types.WorkItem{WorkqueueID: "q1", Status: types.WorkItemStatusNew, Data: "x"}); err != nil {
				return err
			}
		}
		return tx.CreateTrigger(&types.Trigger{
			ID: "t1", ProcessID: "p1", Type: types.TriggerTypeWorkqueue,
			WorkqueueID: "q1", WorkqueueScaleUpThreshold: 5, WorkqueueResourceLimit: 4, Enabled: true,
		})
	})
	require.NoError(t, err)

	// Backlog 10, threshold 5: wants 2 sessions, one added per pass and
	// dispatched in the same pass.
	sched.tickAt(t, now)
	sched.tickAt(t, now.Add(10*time.Second))
	sched.tickAt(t, now.Add(20*time.Second))

	err = store.View(func(tx *storage.Txn) error {
		sessions, err := tx.ListSessions(false)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		for _, sess := range sessions {
			assert.NotEmpty(t, sess.ResourceID)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	sched, _ := newTestScheduler(t)
	sched.cfg.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}
}
