// Package trigger decides when sessions come into existence. Three trigger
// kinds are supported: cron expressions, one-shot dates, and workqueue
// back-pressure.
package trigger

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/droverd/drover/pkg/events"
	"github.com/droverd/drover/pkg/lifecycle"
	"github.com/droverd/drover/pkg/log"
	"github.com/droverd/drover/pkg/metrics"
	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

// Processor evaluates one trigger and fires it when its condition holds.
type Processor interface {
	Process(tx *storage.Txn, trg *types.Trigger, now time.Time) error
}

// Engine walks enabled triggers each scheduling pass and hands each to the
// processor registered for its type.
type Engine struct {
	processors map[types.TriggerType]Processor
	sessions   *lifecycle.Service
	broker     *events.Broker
	logger     zerolog.Logger

	// maxParameterLength caps the parameter string copied onto created
	// sessions; a trigger carrying a longer value is skipped.
	maxParameterLength int
}

// NewEngine creates a trigger engine with the standard processors
// registered. A nil broker disables event publication.
func NewEngine(sessions *lifecycle.Service, broker *events.Broker, maxParameterLength int) *Engine {
	e := &Engine{
		processors:         make(map[types.TriggerType]Processor),
		sessions:           sessions,
		broker:             broker,
		logger:             log.WithComponent("trigger"),
		maxParameterLength: maxParameterLength,
	}
	e.processors[types.TriggerTypeCron] = &cronProcessor{engine: e}
	e.processors[types.TriggerTypeDate] = &dateProcessor{engine: e}
	e.processors[types.TriggerTypeWorkqueue] = &workqueueProcessor{engine: e}
	return e
}

// Register installs or replaces the processor for a trigger type.
func (e *Engine) Register(tt types.TriggerType, p Processor) {
	e.processors[tt] = p
}

// ProcessAll evaluates every enabled trigger. A trigger whose process is
// gone, whose type has no processor, or whose processor fails is logged and
// skipped; one broken trigger never stalls the rest.
func (e *Engine) ProcessAll(tx *storage.Txn, now time.Time) error {
	triggers, err := tx.ListTriggers(false)
	if err != nil {
		return err
	}

	for _, trg := range triggers {
		if !trg.Enabled {
			continue
		}

		p, err := tx.GetProcess(trg.ProcessID)
		if err != nil || p.Deleted {
			e.logger.Warn().Str("trigger_id", trg.ID).Str("process_id", trg.ProcessID).Msg("skipping trigger, process gone")
			continue
		}

		proc, ok := e.processors[trg.Type]
		if !ok {
			e.logger.Error().Str("trigger_id", trg.ID).Str("type", string(trg.Type)).Msg("skipping trigger, unknown type")
			continue
		}

		if err := proc.Process(tx, trg, now); err != nil {
			e.logger.Error().Err(err).Str("trigger_id", trg.ID).Str("type", string(trg.Type)).Msg("trigger processing failed")
			continue
		}
	}
	return nil
}

// fire creates a session for the trigger's process and publishes the firing.
// A nil session with a nil error means nothing was created, either because
// the parameters failed validation or because a pending session already
// covers the process; callers must not stamp last_triggered in that case.
func (e *Engine) fire(tx *storage.Txn, trg *types.Trigger, force bool) (*types.Session, error) {
	params, err := ValidateParameters(trg.Parameters, e.maxParameterLength)
	if err != nil {
		e.logger.Warn().Err(err).Str("trigger_id", trg.ID).Msg("skipping trigger, bad parameters")
		return nil, nil
	}
	sess, err := e.sessions.Create(tx, trg.ProcessID, params, force)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, nil
	}

	metrics.TriggersFired.WithLabelValues(string(trg.Type)).Inc()
	e.logger.Info().
		Str("trigger_id", trg.ID).
		Str("type", string(trg.Type)).
		Str("session_id", sess.ID).
		Msg("trigger fired")

	if e.broker != nil {
		e.broker.Publish(&events.Event{
			Type:    events.EventTriggerFired,
			Message: trg.ID,
			Metadata: map[string]string{
				"trigger_id": trg.ID,
				"type":       string(trg.Type),
				"session_id": sess.ID,
			},
		})
	}
	return sess, nil
}
