// Package dispatch pairs pending sessions with available resources. Pairing
// is FIFO over session creation time, and each pairing takes the compatible
// resource advertising the fewest capabilities.
package dispatch

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/droverd/drover/pkg/events"
	"github.com/droverd/drover/pkg/log"
	"github.com/droverd/drover/pkg/match"
	"github.com/droverd/drover/pkg/metrics"
	"github.com/droverd/drover/pkg/registry"
	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

// Dispatcher assigns pending sessions to resources.
type Dispatcher struct {
	registry *registry.Service
	broker   *events.Broker
	logger   zerolog.Logger
}

// NewDispatcher creates a dispatcher. A nil broker disables event
// publication.
func NewDispatcher(reg *registry.Service, broker *events.Broker) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		broker:   broker,
		logger:   log.WithComponent("dispatch"),
	}
}

// Run executes one dispatch pass inside the caller's transaction: sweep
// stale resources, then walk unassigned pending sessions oldest first and
// pair each with the best free resource. The free list is re-read per
// session because each pairing consumes a resource.
func (d *Dispatcher) Run(tx *storage.Txn, now time.Time) error {
	if err := d.registry.SweepStale(tx, now); err != nil {
		return err
	}

	pending, err := tx.NewSessions()
	if err != nil {
		return err
	}

	for _, sess := range pending {
		if sess.ResourceID != "" {
			continue
		}

		p, err := tx.GetProcess(sess.ProcessID)
		if err != nil {
			d.logger.Error().Err(err).Str("session_id", sess.ID).Msg("skipping session, process lookup failed")
			continue
		}

		free, err := tx.AvailableResources()
		if err != nil {
			return err
		}

		best := match.FindBestResource(p.Requirements, free)
		if best == nil {
			continue
		}

		if err := d.assign(tx, sess, best, now); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) assign(tx *storage.Txn, sess *types.Session, r *types.Resource, now time.Time) error {
	sess.ResourceID = r.ID
	dispatchedAt := now
	sess.DispatchedAt = &dispatchedAt
	if err := tx.UpdateSession(sess); err != nil {
		return err
	}

	r.Available = false
	if err := tx.UpdateResource(r); err != nil {
		return err
	}

	metrics.SessionsDispatched.Inc()
	d.logger.Info().
		Str("session_id", sess.ID).
		Str("resource_id", r.ID).
		Str("fqdn", r.FQDN).
		Msg("session dispatched")

	if d.broker != nil {
		d.broker.Publish(&events.Event{
			Type:    events.EventSessionDispatched,
			Message: sess.ID,
			Metadata: map[string]string{
				"session_id":  sess.ID,
				"resource_id": r.ID,
			},
		})
	}
	return nil
}
