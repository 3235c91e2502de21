package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

func newTestService(t *testing.T) (*Service, *storage.BoltStore) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewService(store, nil), store
}

func seedQueue(t *testing.T, store *storage.BoltStore, id string, enabled bool) {
	t.Helper()
	err := store.Update(func(tx *storage.Txn) error {
		return tx.CreateWorkqueue(&types.Workqueue{ID: id, Name: id, Enabled: enabled})
	})
	require.NoError(t, err)
}

func TestEnqueueClaimComplete(t *testing.T) {
	svc, store := newTestService(t)
	seedQueue(t, store, "q1", true)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var enqueued *types.WorkItem
	err := store.Update(func(tx *storage.Txn) error {
		var err error
		enqueued, err = svc.Enqueue(tx, "q1", `{"invoice":42}`, "INV-42")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, types.WorkItemStatusNew, enqueued.Status)
	assert.False(t, enqueued.Locked)

	claimed, err := svc.Claim("q1", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, enqueued.ID, claimed.ID)
	assert.True(t, claimed.Locked)
	assert.Equal(t, types.WorkItemStatusInProgress, claimed.Status)
	require.NotNil(t, claimed.StartedAt)

	// Completing 90 seconds later records the working duration and drops
	// the lock.
	err = store.Update(func(tx *storage.Txn) error {
		item, err := svc.UpdateStatus(tx, claimed.ID, types.WorkItemStatusCompleted, "done", now.Add(90*time.Second))
		if err != nil {
			return err
		}
		assert.False(t, item.Locked)
		require.NotNil(t, item.WorkDurationSeconds)
		assert.Equal(t, int64(90), *item.WorkDurationSeconds)
		assert.Equal(t, "done", item.Message)
		return nil
	})
	require.NoError(t, err)
}

func TestClaimEmptyQueue(t *testing.T) {
	svc, store := newTestService(t)
	seedQueue(t, store, "q1", true)

	item, err := svc.Claim("q1", time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestClaimDisabledQueue(t *testing.T) {
	svc, store := newTestService(t)
	seedQueue(t, store, "q1", false)

	err := store.Update(func(tx *storage.Txn) error {
		_, err := svc.Enqueue(tx, "q1", "payload", "")
		return err
	})
	require.NoError(t, err)

	// Items can pile up in a disabled queue but none dispense.
	item, err := svc.Claim("q1", time.Now().UTC())
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestClaimUnknownQueue(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Claim("no-such-queue", time.Now().UTC())
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestClaimDeletedQueue(t *testing.T) {
	svc, store := newTestService(t)
	seedQueue(t, store, "q1", true)

	err := store.Update(func(tx *storage.Txn) error {
		return tx.DeleteWorkqueue("q1")
	})
	require.NoError(t, err)

	_, err = svc.Claim("q1", time.Now().UTC())
	assert.True(t, errors.Is(err, types.ErrGone))
}

func TestEnqueueRejectsDeletedQueue(t *testing.T) {
	svc, store := newTestService(t)
	seedQueue(t, store, "q1", true)

	err := store.Update(func(tx *storage.Txn) error {
		if err := tx.DeleteWorkqueue("q1"); err != nil {
			return err
		}
		_, err := svc.Enqueue(tx, "q1", "payload", "")
		assert.True(t, errors.Is(err, types.ErrGone))
		return nil
	})
	require.NoError(t, err)
}

func TestClaimDispensesEachItemOnce(t *testing.T) {
	svc, store := newTestService(t)
	seedQueue(t, store, "q1", true)
	now := time.Now().UTC()

	err := store.Update(func(tx *storage.Txn) error {
		for i := 0; i < 3; i++ {
			if _, err := svc.Enqueue(tx, "q1", "payload", ""); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		item, err := svc.Claim("q1", now)
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.False(t, seen[item.ID], "item %s dispensed twice", item.ID)
		seen[item.ID] = true
	}

	item, err := svc.Claim("q1", now)
	require.NoError(t, err)
	assert.Nil(t, item)
}

func TestUpdateStatusReenteringInProgressRestampsStart(t *testing.T) {
	svc, store := newTestService(t)
	seedQueue(t, store, "q1", true)
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	var itemID string
	err := store.Update(func(tx *storage.Txn) error {
		item, err := svc.Enqueue(tx, "q1", "payload", "")
		if err != nil {
			return err
		}
		itemID = item.ID
		return nil
	})
	require.NoError(t, err)

	err = store.Update(func(tx *storage.Txn) error {
		// Operator parks the item, then work restarts later.
		if _, err := svc.UpdateStatus(tx, itemID, types.WorkItemStatusInProgress, "", t0); err != nil {
			return err
		}
		if _, err := svc.UpdateStatus(tx, itemID, types.WorkItemStatusPendingUserAction, "needs input", t0.Add(30*time.Second)); err != nil {
			return err
		}
		item, err := svc.UpdateStatus(tx, itemID, types.WorkItemStatusInProgress, "", t0.Add(10*time.Minute))
		if err != nil {
			return err
		}
		require.NotNil(t, item.StartedAt)
		assert.Equal(t, t0.Add(10*time.Minute), *item.StartedAt)

		// First leg recorded 30 seconds of work.
		require.NotNil(t, item.WorkDurationSeconds)
		assert.Equal(t, int64(30), *item.WorkDurationSeconds)
		return nil
	})
	require.NoError(t, err)
}

func TestQueueInfoCounts(t *testing.T) {
	svc, store := newTestService(t)
	seedQueue(t, store, "q1", true)
	now := time.Now().UTC()

	err := store.Update(func(tx *storage.Txn) error {
		for i := 0; i < 3; i++ {
			if _, err := svc.Enqueue(tx, "q1", "payload", ""); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	claimed, err := svc.Claim("q1", now)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	err = store.Update(func(tx *storage.Txn) error {
		_, err := svc.UpdateStatus(tx, claimed.ID, types.WorkItemStatusCompleted, "", now)
		return err
	})
	require.NoError(t, err)

	err = store.View(func(tx *storage.Txn) error {
		info, err := svc.QueueInfo(tx, "q1")
		require.NoError(t, err)
		assert.Equal(t, 2, info.New)
		assert.Equal(t, 0, info.InProgress)
		assert.Equal(t, 1, info.Completed)
		return nil
	})
	require.NoError(t, err)
}
