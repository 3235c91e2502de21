// Package queue implements the work-item hand-off protocol: producers append
// items, sessions claim them one at a time, and every item is dispensed at
// most once.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverd/drover/pkg/events"
	"github.com/droverd/drover/pkg/log"
	"github.com/droverd/drover/pkg/metrics"
	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

const (
	// claimAttempts bounds how often a claim retries after losing a race
	// before the caller is told to back off.
	claimAttempts = 6
	claimBackoff  = 100 * time.Millisecond
)

// Service implements workqueue management and the claim protocol.
type Service struct {
	store  storage.Store
	broker *events.Broker
	logger zerolog.Logger
}

// NewService creates a queue service. A nil broker disables event
// publication.
func NewService(store storage.Store, broker *events.Broker) *Service {
	return &Service{
		store:  store,
		broker: broker,
		logger: log.WithComponent("queue"),
	}
}

// Enqueue appends a new unlocked item to a queue.
func (s *Service) Enqueue(tx *storage.Txn, queueID, data, reference string) (*types.WorkItem, error) {
	q, err := tx.GetWorkqueue(queueID)
	if err != nil {
		return nil, err
	}
	if q.Deleted {
		return nil, fmt.Errorf("workqueue %s: %w", queueID, types.ErrGone)
	}

	item := &types.WorkItem{
		WorkqueueID: queueID,
		Data:        data,
		Reference:   reference,
		Status:      types.WorkItemStatusNew,
	}
	if err := tx.CreateWorkItem(item); err != nil {
		return nil, err
	}

	if s.broker != nil {
		s.broker.Publish(&events.Event{
			Type:    events.EventWorkItemAdded,
			Message: item.ID,
			Metadata: map[string]string{
				"workitem_id":  item.ID,
				"workqueue_id": queueID,
			},
		})
	}
	return item, nil
}

// Claim dispenses the oldest pending item from a queue, or nil when the
// queue is empty or disabled. Each attempt runs in its own write
// transaction; an attempt that loses a race against a concurrent writer is
// retried a bounded number of times before ErrContended surfaces, which the
// HTTP layer turns into "busy, try again".
func (s *Service) Claim(queueID string, now time.Time) (*types.WorkItem, error) {
	var lastErr error
	for attempt := 0; attempt < claimAttempts; attempt++ {
		if attempt > 0 {
			metrics.ClaimConflicts.Inc()
			time.Sleep(claimBackoff)
		}

		var item *types.WorkItem
		err := s.store.Update(func(tx *storage.Txn) error {
			q, err := tx.GetWorkqueue(queueID)
			if err != nil {
				return err
			}
			if q.Deleted {
				return fmt.Errorf("workqueue %s: %w", queueID, types.ErrGone)
			}
			if !q.Enabled {
				return nil
			}

			item, err = tx.ClaimNextWorkItem(queueID, now)
			return err
		})
		if err == nil {
			if item != nil {
				metrics.WorkItemsClaimed.Inc()
				s.logger.Debug().Str("workitem_id", item.ID).Str("workqueue_id", queueID).Msg("work item claimed")
				if s.broker != nil {
					s.broker.Publish(&events.Event{
						Type:    events.EventWorkItemClaimed,
						Message: item.ID,
						Metadata: map[string]string{
							"workitem_id":  item.ID,
							"workqueue_id": queueID,
						},
					})
				}
			}
			return item, nil
		}
		if !retryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("claim on workqueue %s: %v: %w", queueID, lastErr, types.ErrContended)
}

// retryable reports whether a claim attempt failed transiently. Domain
// errors are final; anything else is treated as write contention.
func retryable(err error) bool {
	for _, final := range []error{types.ErrNotFound, types.ErrGone, types.ErrInvalid} {
		if errors.Is(err, final) {
			return false
		}
	}
	return true
}

// UpdateStatus applies a worker-reported status change to an item. Any
// status other than in_progress releases the claim lock; leaving
// in_progress stamps the total working duration.
func (s *Service) UpdateStatus(tx *storage.Txn, itemID string, status types.WorkItemStatus, message string, now time.Time) (*types.WorkItem, error) {
	item, err := tx.GetWorkItem(itemID)
	if err != nil {
		return nil, err
	}
	if item.Deleted {
		return nil, fmt.Errorf("work item %s: %w", itemID, types.ErrGone)
	}

	leavingInProgress := item.Status == types.WorkItemStatusInProgress && status != types.WorkItemStatusInProgress
	enteringInProgress := item.Status != types.WorkItemStatusInProgress && status == types.WorkItemStatusInProgress

	item.Status = status
	if message != "" {
		item.Message = message
	}

	if enteringInProgress {
		startedAt := now
		item.StartedAt = &startedAt
	}
	if leavingInProgress && item.StartedAt != nil {
		seconds := int64(now.Sub(*item.StartedAt).Seconds())
		item.WorkDurationSeconds = &seconds
	}
	if status.ClearsLock() {
		item.Locked = false
	}

	if err := tx.UpdateWorkItem(item); err != nil {
		return nil, err
	}
	return item, nil
}

// Info summarizes a queue for operators: item counts per status.
type Info struct {
	Workqueue         *types.Workqueue `json:"workqueue"`
	New               int              `json:"new"`
	InProgress        int              `json:"in_progress"`
	Completed         int              `json:"completed"`
	Failed            int              `json:"failed"`
	PendingUserAction int              `json:"pending_user_action"`
}

// QueueInfo returns the per-status item counts for a queue.
func (s *Service) QueueInfo(tx *storage.Txn, queueID string) (*Info, error) {
	q, err := tx.GetWorkqueue(queueID)
	if err != nil {
		return nil, err
	}

	info := &Info{Workqueue: q}
	counts := []struct {
		status types.WorkItemStatus
		out    *int
	}{
		{types.WorkItemStatusNew, &info.New},
		{types.WorkItemStatusInProgress, &info.InProgress},
		{types.WorkItemStatusCompleted, &info.Completed},
		{types.WorkItemStatusFailed, &info.Failed},
		{types.WorkItemStatusPendingUserAction, &info.PendingUserAction},
	}
	for _, c := range counts {
		n, err := tx.CountWorkItems(queueID, c.status)
		if err != nil {
			return nil, err
		}
		*c.out = n
	}
	return info, nil
}
