package trigger

import (
	"time"

	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

// dateProcessor fires a trigger once when its date has passed, then retires
// it.
type dateProcessor struct {
	engine *Engine
}

func (p *dateProcessor) Process(tx *storage.Txn, trg *types.Trigger, now time.Time) error {
	if trg.Date == nil {
		p.engine.logger.Error().Str("trigger_id", trg.ID).Msg("skipping trigger, no date set")
		return nil
	}
	if trg.Date.After(now) {
		return nil
	}

	sess, err := p.engine.fire(tx, trg, false)
	if err != nil {
		return err
	}
	if sess == nil {
		// Not fired yet, so not retired yet; the next pass tries again.
		return nil
	}

	// One-shot: the trigger retires with the firing, atomically.
	firedAt := now
	trg.LastTriggered = &firedAt
	trg.Enabled = false
	trg.Deleted = true
	return tx.UpdateTrigger(trg)
}
