// Package lifecycle owns the session state machine: creation, worker status
// updates, and the repair passes that unwind sessions whose resource went
// away.
package lifecycle

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

// Service implements session lifecycle management.
type Service struct {
	broker *events.Broker
	logger zerolog.Logger

	// danglingAfter is how long an in-progress session may sit dispatched
	// before the repair pass gives up on it.
	danglingAfter time.Duration
}

// NewService creates a lifecycle service. A nil broker disables event
// publication.
func NewService(broker *events.Broker, danglingAfter time.Duration) *Service {
	return &Service{
		broker:        broker,
		logger:        log.WithComponent("lifecycle"),
		danglingAfter: danglingAfter,
	}
}

// Create makes a new pending session for a process. Unless force is set,
// creation is suppressed while the process already has a pending session,
// and nil is returned; a running session does not block, so the next run
// queues up behind it.
func (s *Service) Create(tx *storage.Txn, processID, parameters string, force bool) (*types.Session, error) {
	p, err := tx.GetProcess(processID)
	if err != nil {
		return nil, err
	}
	if p.Deleted {
		return nil, fmt.Errorf("process %s: %w", processID, types.ErrGone)
	}

	if !force {
		pending, err := tx.NewSessions()
		if err != nil {
			return nil, err
		}
		for _, sess := range pending {
			if sess.ProcessID == processID {
				return nil, nil
			}
		}
	}

	sess := &types.Session{
		ProcessID:  processID,
		Status:     types.SessionStatusNew,
		Parameters: parameters,
	}
	if err := tx.CreateSession(sess); err != nil {
		return nil, err
	}

	s.logger.Info().Str("session_id", sess.ID).Str("process_id", processID).Msg("session created")
	s.publish(events.EventSessionCreated, sess)
	return sess, nil
}

// UpdateStatus applies a worker-reported status change. Only dispatched
// sessions may move, and only along new → in_progress → completed/failed.
// A terminal transition releases the resource in the same transaction.
func (s *Service) UpdateStatus(tx *storage.Txn, sessionID string, next types.SessionStatus) (*types.Session, error) {
	sess, err := tx.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Deleted {
		return nil, fmt.Errorf("session %s: %w", sessionID, types.ErrGone)
	}
	if sess.ResourceID == "" {
		return nil, fmt.Errorf("session %s has no resource: %w", sessionID, types.ErrInvalidTransition)
	}
	if !sess.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("session %s: %s -> %s: %w", sessionID, sess.Status, next, types.ErrInvalidTransition)
	}

	sess.Status = next
	if err := tx.UpdateSession(sess); err != nil {
		return nil, err
	}

	if next.Terminal() {
		if err := s.releaseResource(tx, sess.ResourceID); err != nil {
			return nil, err
		}
		switch next {
		case types.SessionStatusCompleted:
			s.publish(events.EventSessionCompleted, sess)
		case types.SessionStatusFailed:
			s.publish(events.EventSessionFailed, sess)
		}
		s.logger.Info().Str("session_id", sess.ID).Str("status", string(next)).Msg("session finished")
	}
	return sess, nil
}

// ByResource returns the session a worker should act on, or nil when the
// resource has nothing assigned.
func (s *Service) ByResource(tx *storage.Txn, resourceID string) (*types.Session, error) {
	return tx.SessionByResource(resourceID)
}

// RescheduleOrphans returns dispatched-but-unstarted sessions to the pending
// pool when their resource disappeared underneath them.
func (s *Service) RescheduleOrphans(tx *storage.Txn) error {
	pending, err := tx.NewSessions()
	if err != nil {
		return err
	}

	for _, sess := range pending {
		if sess.ResourceID == "" {
			continue
		}
		gone, err := s.resourceGone(tx, sess.ResourceID)
		if err != nil {
			return err
		}
		if !gone {
			continue
		}

		sess.ResourceID = ""
		sess.DispatchedAt = nil
		if err := tx.UpdateSession(sess); err != nil {
			return err
		}
		s.logger.Warn().Str("session_id", sess.ID).Msg("session rescheduled, resource gone")
	}
	return nil
}

// FlushDangling fails in-progress sessions that have been dispatched longer
// than the dangling window to a resource that no longer exists. Without this
// a crashed worker would pin its session as running forever.
func (s *Service) FlushDangling(tx *storage.Txn, now time.Time) error {
	active, err := tx.ActiveSessions()
	if err != nil {
		return err
	}

	cutoff := now.Add(-s.danglingAfter)
	for _, sess := range active {
		if sess.Status != types.SessionStatusInProgress {
			continue
		}
		if sess.DispatchedAt == nil || !sess.DispatchedAt.Before(cutoff) {
			continue
		}
		gone, err := s.resourceGone(tx, sess.ResourceID)
		if err != nil {
			return err
		}
		if !gone {
			continue
		}

		sess.Status = types.SessionStatusFailed
		sess.ResourceID = ""
		sess.DispatchedAt = nil
		if err := tx.UpdateSession(sess); err != nil {
			return err
		}
		metrics.SessionsOrphaned.Inc()
		s.logger.Warn().Str("session_id", sess.ID).Msg("session failed, dangling past deadline")
		s.publish(events.EventSessionFailed, sess)
	}
	return nil
}

// RequestStop flags a session so its worker winds down; the flag is advisory
// and workers poll for it.
func (s *Service) RequestStop(tx *storage.Txn, sessionID string) (*types.Session, error) {
	sess, err := tx.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status.Terminal() {
		return nil, fmt.Errorf("session %s already %s: %w", sessionID, sess.Status, types.ErrInvalidTransition)
	}

	sess.StopRequested = true
	if err := tx.UpdateSession(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) resourceGone(tx *storage.Txn, resourceID string) (bool, error) {
	if resourceID == "" {
		return true, nil
	}
	r, err := tx.GetResource(resourceID)
	if err != nil {
		if isNotFound(err) {
			return true, nil
		}
		return false, err
	}
	return r.Deleted, nil
}

func (s *Service) releaseResource(tx *storage.Txn, resourceID string) error {
	r, err := tx.GetResource(resourceID)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	if r.Deleted {
		return nil
	}

	r.Available = true
	return tx.UpdateResource(r)
}

func isNotFound(err error) bool {
	return errors.Is(err, types.ErrNotFound)
}

func (s *Service) publish(eventType events.EventType, sess *types.Session) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		Type:    eventType,
		Message: sess.ID,
		Metadata: map[string]string{
			"session_id": sess.ID,
			"process_id": sess.ProcessID,
		},
	})
}
