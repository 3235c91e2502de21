// Package registry manages the resource fleet: enrollment, heartbeats, and
// the stale-resource sweep that detaches machines which stopped reporting.
package registry

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/droverd/drover/pkg/events"
	"github.com/droverd/drover/pkg/log"
	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

// Service implements resource fleet management. All methods operate inside a
// caller-provided transaction so multi-entity updates commit atomically.
type Service struct {
	broker *events.Broker
	logger zerolog.Logger

	// staleAfter is how long a resource may stay silent before the sweep
	// detaches it.
	staleAfter time.Duration
}

// NewService creates a registry service. A nil broker disables event
// publication.
func NewService(broker *events.Broker, staleAfter time.Duration) *Service {
	return &Service{
		broker:     broker,
		logger:     log.WithComponent("registry"),
		staleAfter: staleAfter,
	}
}

// EnrollRequest is what a resource reports when it comes online.
type EnrollRequest struct {
	FQDN         string
	Name         string
	Capabilities string
}

// Enroll registers a resource by FQDN. Enrollment is idempotent:
//
//   - unknown FQDN: a fresh available resource is created
//   - live resource: last_seen and capabilities refresh, nothing else moves
//   - previously detached resource: it is revived with the reported fields
//     and any sessions still pinned to it are flushed first
func (s *Service) Enroll(tx *storage.Txn, req EnrollRequest, now time.Time) (*types.Resource, error) {
	if req.FQDN == "" {
		return nil, fmt.Errorf("fqdn is required: %w", types.ErrInvalid)
	}

	existing, err := tx.ResourceByFQDN(req.FQDN)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		r := &types.Resource{
			FQDN:         req.FQDN,
			Name:         req.Name,
			Capabilities: req.Capabilities,
			Available:    true,
			LastSeen:     now,
		}
		if err := tx.CreateResource(r); err != nil {
			return nil, err
		}
		s.logger.Info().Str("fqdn", r.FQDN).Str("resource_id", r.ID).Msg("resource enrolled")
		s.publish(events.EventResourceEnrolled, r)
		return r, nil
	}

	if existing.Deleted {
		// Revival: a machine that was swept away came back. Sessions
		// still pinned to the stale record are flushed before it rejoins
		// the pool.
		if err := s.FlushSessions(tx, existing.ID); err != nil {
			return nil, err
		}
		existing.Name = req.Name
		existing.Capabilities = req.Capabilities
		existing.Available = true
		existing.Deleted = false
		existing.LastSeen = now
		if err := tx.UpdateResource(existing); err != nil {
			return nil, err
		}
		s.logger.Info().Str("fqdn", existing.FQDN).Str("resource_id", existing.ID).Msg("resource revived")
		s.publish(events.EventResourceEnrolled, existing)
		return existing, nil
	}

	existing.Capabilities = req.Capabilities
	existing.LastSeen = now
	if err := tx.UpdateResource(existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// Heartbeat refreshes last_seen. A ping from a swept resource undoes the
// detach, so a machine that was merely unreachable rejoins without
// re-enrolling; since the sweep flushed its sessions, an idle revived
// resource goes straight back into the dispatchable pool.
func (s *Service) Heartbeat(tx *storage.Txn, resourceID string, now time.Time) (*types.Resource, error) {
	r, err := tx.GetResource(resourceID)
	if err != nil {
		return nil, err
	}

	r.LastSeen = now
	if r.Deleted {
		r.Deleted = false
		busy, err := tx.SessionByResource(r.ID)
		if err != nil {
			return nil, err
		}
		if busy == nil {
			r.Available = true
		}
	}
	if err := tx.UpdateResource(r); err != nil {
		return nil, err
	}
	return r, nil
}

// SweepStale detaches every resource that has been silent longer than the
// staleness window, unless it is mid-session: a busy machine may legitimately
// stop heartbeating while it works.
func (s *Service) SweepStale(tx *storage.Txn, now time.Time) error {
	resources, err := tx.ListResources(false)
	if err != nil {
		return err
	}

	cutoff := now.Add(-s.staleAfter)
	for _, r := range resources {
		if !r.LastSeen.Before(cutoff) {
			continue
		}

		busy, err := s.hasRunningSession(tx, r.ID)
		if err != nil {
			return err
		}
		if busy {
			continue
		}

		if err := s.Detach(tx, r); err != nil {
			return err
		}
	}
	return nil
}

// Detach removes a resource from the pool and flushes its sessions. The
// record is kept soft-deleted so a later enrollment under the same FQDN
// revives it.
func (s *Service) Detach(tx *storage.Txn, r *types.Resource) error {
	r.Deleted = true
	r.Available = false
	if err := tx.UpdateResource(r); err != nil {
		return err
	}
	if err := s.FlushSessions(tx, r.ID); err != nil {
		return err
	}

	s.logger.Warn().Str("fqdn", r.FQDN).Str("resource_id", r.ID).Msg("resource detached")
	s.publish(events.EventResourceDetached, r)
	return nil
}

// FlushSessions unwinds every non-terminal session pinned to a resource:
// running sessions fail, pending ones go back to the dispatch pool.
func (s *Service) FlushSessions(tx *storage.Txn, resourceID string) error {
	sessions, err := tx.ActiveSessions()
	if err != nil {
		return err
	}

	for _, sess := range sessions {
		if sess.ResourceID != resourceID {
			continue
		}

		switch sess.Status {
		case types.SessionStatusInProgress:
			sess.Status = types.SessionStatusFailed
			sess.ResourceID = ""
			sess.DispatchedAt = nil
			s.logger.Warn().Str("session_id", sess.ID).Msg("session failed, resource flushed")
		case types.SessionStatusNew:
			sess.ResourceID = ""
			sess.DispatchedAt = nil
		}

		if err := tx.UpdateSession(sess); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) hasRunningSession(tx *storage.Txn, resourceID string) (bool, error) {
	sessions, err := tx.ActiveSessions()
	if err != nil {
		return false, err
	}
	for _, sess := range sessions {
		if sess.ResourceID == resourceID && sess.Status == types.SessionStatusInProgress {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) publish(eventType events.EventType, r *types.Resource) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(&events.Event{
		Type:    eventType,
		Message: r.FQDN,
		Metadata: map[string]string{
			"resource_id": r.ID,
			"fqdn":        r.FQDN,
		},
	})
}
