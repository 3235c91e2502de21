package trigger

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/droverd/drover/pkg/types"
)

// Validate checks a trigger's shape before it is stored: the fields its
// type needs must be present and well-formed.
func Validate(trg *types.Trigger) error {
	if trg.ProcessID == "" {
		return fmt.Errorf("trigger needs a process: %w", types.ErrInvalid)
	}

	switch trg.Type {
	case types.TriggerTypeCron:
		if trg.Cron == "" {
			return fmt.Errorf("cron trigger needs an expression: %w", types.ErrInvalid)
		}
		if _, err := cron.ParseStandard(trg.Cron); err != nil {
			return fmt.Errorf("bad cron expression %q: %v: %w", trg.Cron, err, types.ErrInvalid)
		}
	case types.TriggerTypeDate:
		if trg.Date == nil {
			return fmt.Errorf("date trigger needs a date: %w", types.ErrInvalid)
		}
	case types.TriggerTypeWorkqueue:
		if trg.WorkqueueID == "" {
			return fmt.Errorf("workqueue trigger needs a workqueue: %w", types.ErrInvalid)
		}
		if trg.WorkqueueScaleUpThreshold < 0 || trg.WorkqueueResourceLimit < 0 {
			return fmt.Errorf("workqueue trigger limits cannot be negative: %w", types.ErrInvalid)
		}
	default:
		return fmt.Errorf("unknown trigger type %q: %w", trg.Type, types.ErrInvalid)
	}
	return nil
}

// ValidateParameters strips surrounding whitespace and rejects values longer
// than max runes. Oversized parameters are an operator error; firing with a
// truncated payload would hand the worker corrupted input.
func ValidateParameters(params string, max int) (string, error) {
	trimmed := strings.TrimSpace(params)
	if max > 0 && len([]rune(trimmed)) > max {
		return "", fmt.Errorf("parameters exceed %d characters: %w", max, types.ErrInvalid)
	}
	return trimmed, nil
}
