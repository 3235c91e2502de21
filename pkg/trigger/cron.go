package trigger

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

// cronProcessor fires a trigger when the current minute matches its cron
// expression. Firing is guarded to once per matching minute regardless of
// how often the scheduling loop runs.
type cronProcessor struct {
	engine *Engine
}

func (p *cronProcessor) Process(tx *storage.Txn, trg *types.Trigger, now time.Time) error {
	sched, err := cron.ParseStandard(trg.Cron)
	if err != nil {
		p.engine.logger.Error().Err(err).Str("trigger_id", trg.ID).Str("cron", trg.Cron).Msg("skipping trigger, bad cron expression")
		return nil
	}

	// Stepping back one minute makes an occurrence inside the current
	// minute visible even when the pass runs mid-minute.
	minute := now.Truncate(time.Minute)
	next := sched.Next(now.Add(-time.Minute)).Truncate(time.Minute)
	if !next.Equal(minute) {
		return nil
	}

	// Already fired within this minute.
	if trg.LastTriggered != nil && trg.LastTriggered.Truncate(time.Minute).Equal(minute) {
		return nil
	}

	sess, err := p.engine.fire(tx, trg, false)
	if err != nil {
		return err
	}
	if sess == nil {
		// Nothing was created, so nothing to guard; the trigger stays
		// eligible once the pending session clears.
		return nil
	}

	// The firing and the guard stamp commit together; a crash between
	// them cannot double-fire.
	firedAt := now
	trg.LastTriggered = &firedAt
	return tx.UpdateTrigger(trg)
}
