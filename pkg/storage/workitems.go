package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/droverd/drover/pkg/types"
)

// --- Workqueue operations ---

func (t *Txn) CreateWorkqueue(q *types.Workqueue) error {
	stampNew(&q.ID, &q.CreatedAt, &q.UpdatedAt)
	return t.put(bucketWorkqueues, q.ID, q)
}

func (t *Txn) GetWorkqueue(id string) (*types.Workqueue, error) {
	var q types.Workqueue
	ok, err := t.get(bucketWorkqueues, id, &q)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("workqueue %s: %w", id, types.ErrNotFound)
	}
	return &q, nil
}

func (t *Txn) UpdateWorkqueue(q *types.Workqueue) error {
	q.UpdatedAt = time.Now().UTC()
	return t.put(bucketWorkqueues, q.ID, q)
}

// DeleteWorkqueue soft-deletes a queue. Items stay behind for bookkeeping
// until cleared.
func (t *Txn) DeleteWorkqueue(id string) error {
	q, err := t.GetWorkqueue(id)
	if err != nil {
		return err
	}
	q.Deleted = true
	return t.UpdateWorkqueue(q)
}

func (t *Txn) ListWorkqueues(includeDeleted bool) ([]*types.Workqueue, error) {
	var queues []*types.Workqueue
	err := t.forEach(bucketWorkqueues, func(v []byte) error {
		var q types.Workqueue
		if err := json.Unmarshal(v, &q); err != nil {
			return err
		}
		if q.Deleted && !includeDeleted {
			return nil
		}
		queues = append(queues, &q)
		return nil
	})
	sortByCreatedAt(queues, func(q *types.Workqueue) (time.Time, string) { return q.CreatedAt, q.ID })
	return queues, err
}

// WorkqueueByName returns the queue with the given name, deleted or not.
// Names are unique, so the first match wins.
func (t *Txn) WorkqueueByName(name string) (*types.Workqueue, error) {
	var found *types.Workqueue
	err := t.forEach(bucketWorkqueues, func(v []byte) error {
		if found != nil {
			return nil
		}
		var q types.Workqueue
		if err := json.Unmarshal(v, &q); err != nil {
			return err
		}
		if q.Name == name {
			found = &q
		}
		return nil
	})
	return found, err
}

// --- WorkItem operations ---

func (t *Txn) CreateWorkItem(w *types.WorkItem) error {
	stampNew(&w.ID, &w.CreatedAt, &w.UpdatedAt)
	return t.put(bucketWorkItems, w.ID, w)
}

func (t *Txn) GetWorkItem(id string) (*types.WorkItem, error) {
	var w types.WorkItem
	ok, err := t.get(bucketWorkItems, id, &w)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("work item %s: %w", id, types.ErrNotFound)
	}
	return &w, nil
}

func (t *Txn) UpdateWorkItem(w *types.WorkItem) error {
	w.UpdatedAt = time.Now().UTC()
	return t.put(bucketWorkItems, w.ID, w)
}

// ClaimNextWorkItem atomically hands out the oldest new, unlocked item in the
// queue: the item is flipped to locked + in_progress with started_at stamped,
// all within the surrounding write transaction, so an item is dispensed at
// most once. Returns nil when the queue holds no eligible item.
func (t *Txn) ClaimNextWorkItem(queueID string, now time.Time) (*types.WorkItem, error) {
	items, err := t.workItemsWhere(func(w *types.WorkItem) bool {
		return w.WorkqueueID == queueID &&
			w.Status == types.WorkItemStatusNew &&
			!w.Locked && !w.Deleted
	})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}

	item := items[0]
	item.Locked = true
	item.Status = types.WorkItemStatusInProgress
	startedAt := now
	item.StartedAt = &startedAt

	if err := t.UpdateWorkItem(item); err != nil {
		return nil, err
	}
	return item, nil
}

// WorkItemsByQueue returns all items in a queue, oldest first.
func (t *Txn) WorkItemsByQueue(queueID string) ([]*types.WorkItem, error) {
	return t.workItemsWhere(func(w *types.WorkItem) bool {
		return w.WorkqueueID == queueID && !w.Deleted
	})
}

// CountWorkItems counts items in a queue with the given status.
func (t *Txn) CountWorkItems(queueID string, status types.WorkItemStatus) (int, error) {
	items, err := t.workItemsWhere(func(w *types.WorkItem) bool {
		return w.WorkqueueID == queueID && w.Status == status && !w.Deleted
	})
	return len(items), err
}

// WorkItemsByReference returns the items whose reference matches exactly,
// newest first, optionally filtered by status. A blank reference matches
// nothing.
func (t *Txn) WorkItemsByReference(queueID, reference string, status *types.WorkItemStatus) ([]*types.WorkItem, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, nil
	}

	items, err := t.workItemsWhere(func(w *types.WorkItem) bool {
		if w.WorkqueueID != queueID || w.Reference != reference || w.Deleted {
			return false
		}
		return status == nil || w.Status == *status
	})
	if err != nil {
		return nil, err
	}

	// Newest first for reference lookups.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

// ClearWorkItems hard-deletes items in a queue, optionally restricted to a
// status and to items older than the cutoff; both filters AND-combine.
func (t *Txn) ClearWorkItems(queueID string, status *types.WorkItemStatus, olderThan *time.Time) (int, error) {
	items, err := t.workItemsWhere(func(w *types.WorkItem) bool {
		if w.WorkqueueID != queueID {
			return false
		}
		if status != nil && w.Status != *status {
			return false
		}
		if olderThan != nil && !w.CreatedAt.Before(*olderThan) {
			return false
		}
		return true
	})
	if err != nil {
		return 0, err
	}

	bucket := t.tx.Bucket(bucketWorkItems)
	for _, item := range items {
		if err := bucket.Delete([]byte(item.ID)); err != nil {
			return 0, err
		}
	}
	return len(items), nil
}

func (t *Txn) workItemsWhere(keep func(*types.WorkItem) bool) ([]*types.WorkItem, error) {
	var items []*types.WorkItem
	err := t.forEach(bucketWorkItems, func(v []byte) error {
		var w types.WorkItem
		if err := json.Unmarshal(v, &w); err != nil {
			return err
		}
		if keep(&w) {
			items = append(items, &w)
		}
		return nil
	})
	sortByCreatedAt(items, func(w *types.WorkItem) (time.Time, string) { return w.CreatedAt, w.ID })
	return items, err
}
