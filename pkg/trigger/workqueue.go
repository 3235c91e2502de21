package trigger

import (
	"errors"
	"time"

	"github.com/droverd/drover/pkg/match"
	"github.com/droverd/drover/pkg/storage"
	"github.com/droverd/drover/pkg/types"
)

// workqueueProcessor scales sessions with queue depth. The wanted session
// count grows with the backlog, divided by the scale-up threshold and capped
// by the trigger's resource limit; at most one session is added per pass so
// the fleet ramps up gradually.
type workqueueProcessor struct {
	engine *Engine
}

func (p *workqueueProcessor) Process(tx *storage.Txn, trg *types.Trigger, now time.Time) error {
	q, err := tx.GetWorkqueue(trg.WorkqueueID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			p.engine.logger.Warn().Str("trigger_id", trg.ID).Str("workqueue_id", trg.WorkqueueID).Msg("skipping trigger, workqueue gone")
			return nil
		}
		return err
	}
	if q.Deleted || !q.Enabled {
		return nil
	}

	backlog, err := tx.CountWorkItems(q.ID, types.WorkItemStatusNew)
	if err != nil {
		return err
	}
	if backlog == 0 {
		return nil
	}

	wanted := p.wantedSessions(trg, backlog)

	active, err := p.activeSessions(tx, trg.ProcessID)
	if err != nil {
		return err
	}
	if active >= wanted {
		return nil
	}

	// Only scale up when a compatible resource is actually free; a forced
	// session on a saturated fleet would just sit pending.
	proc, err := tx.GetProcess(trg.ProcessID)
	if err != nil {
		return err
	}
	free, err := tx.AvailableResources()
	if err != nil {
		return err
	}
	if match.FindBestResource(proc.Requirements, free) == nil {
		return nil
	}

	sess, err := p.engine.fire(tx, trg, true)
	if err != nil {
		return err
	}
	if sess == nil {
		return nil
	}

	firedAt := now
	trg.LastTriggered = &firedAt
	return tx.UpdateTrigger(trg)
}

// wantedSessions converts queue depth into a target session count.
func (p *workqueueProcessor) wantedSessions(trg *types.Trigger, backlog int) int {
	threshold := trg.WorkqueueScaleUpThreshold
	if threshold < 1 {
		threshold = 1
	}

	wanted := backlog / threshold
	if wanted < 1 {
		wanted = 1
	}
	if trg.WorkqueueResourceLimit > 0 && wanted > trg.WorkqueueResourceLimit {
		wanted = trg.WorkqueueResourceLimit
	}
	return wanted
}

func (p *workqueueProcessor) activeSessions(tx *storage.Txn, processID string) (int, error) {
	sessions, err := tx.ActiveSessions()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sess := range sessions {
		if sess.ProcessID == processID {
			n++
		}
	}
	return n, nil
}
