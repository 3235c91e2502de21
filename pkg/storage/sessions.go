package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/droverd/drover/pkg/types"
)

// --- Session operations ---

func (t *Txn) CreateSession(s *types.Session) error {
	stampNew(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	return t.put(bucketSessions, s.ID, s)
}

func (t *Txn) GetSession(id string) (*types.Session, error) {
	var s types.Session
	ok, err := t.get(bucketSessions, id, &s)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
	}
	return &s, nil
}

func (t *Txn) UpdateSession(s *types.Session) error {
	s.UpdatedAt = time.Now().UTC()
	return t.put(bucketSessions, s.ID, s)
}

func (t *Txn) ListSessions(includeDeleted bool) ([]*types.Session, error) {
	return t.sessionsWhere(func(s *types.Session) bool {
		return includeDeleted || !s.Deleted
	})
}

// SessionByResource returns the first session referencing the resource whose
// status is not terminal, or nil when the resource is idle.
func (t *Txn) SessionByResource(resourceID string) (*types.Session, error) {
	sessions, err := t.sessionsWhere(func(s *types.Session) bool {
		return s.ResourceID == resourceID && !s.Status.Terminal() && !s.Deleted
	})
	if err != nil || len(sessions) == 0 {
		return nil, err
	}
	return sessions[0], nil
}

// NewSessions returns all non-deleted sessions in status new, oldest first,
// including ones already paired with a resource.
func (t *Txn) NewSessions() ([]*types.Session, error) {
	return t.sessionsWhere(func(s *types.Session) bool {
		return s.Status == types.SessionStatusNew && !s.Deleted
	})
}

// ActiveSessions returns all non-deleted sessions in status new or
// in_progress, oldest first.
func (t *Txn) ActiveSessions() ([]*types.Session, error) {
	return t.sessionsWhere(func(s *types.Session) bool {
		return !s.Status.Terminal() && !s.Deleted
	})
}

func (t *Txn) sessionsWhere(keep func(*types.Session) bool) ([]*types.Session, error) {
	var sessions []*types.Session
	err := t.forEach(bucketSessions, func(v []byte) error {
		var s types.Session
		if err := json.Unmarshal(v, &s); err != nil {
			return err
		}
		if keep(&s) {
			sessions = append(sessions, &s)
		}
		return nil
	})
	sortByCreatedAt(sessions, func(s *types.Session) (time.Time, string) { return s.CreatedAt, s.ID })
	return sessions, err
}

// --- Trigger operations ---

func (t *Txn) CreateTrigger(trg *types.Trigger) error {
	stampNew(&trg.ID, &trg.CreatedAt, &trg.UpdatedAt)
	return t.put(bucketTriggers, trg.ID, trg)
}

func (t *Txn) GetTrigger(id string) (*types.Trigger, error) {
	var trg types.Trigger
	ok, err := t.get(bucketTriggers, id, &trg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("trigger %s: %w", id, types.ErrNotFound)
	}
	return &trg, nil
}

func (t *Txn) UpdateTrigger(trg *types.Trigger) error {
	trg.UpdatedAt = time.Now().UTC()
	return t.put(bucketTriggers, trg.ID, trg)
}

// DeleteTrigger soft-deletes a trigger.
func (t *Txn) DeleteTrigger(id string) error {
	trg, err := t.GetTrigger(id)
	if err != nil {
		return err
	}
	trg.Deleted = true
	trg.Enabled = false
	return t.UpdateTrigger(trg)
}

func (t *Txn) ListTriggers(includeDeleted bool) ([]*types.Trigger, error) {
	var triggers []*types.Trigger
	err := t.forEach(bucketTriggers, func(v []byte) error {
		var trg types.Trigger
		if err := json.Unmarshal(v, &trg); err != nil {
			return err
		}
		if trg.Deleted && !includeDeleted {
			return nil
		}
		triggers = append(triggers, &trg)
		return nil
	})
	sortByCreatedAt(triggers, func(trg *types.Trigger) (time.Time, string) { return trg.CreatedAt, trg.ID })
	return triggers, err
}

// TriggersByProcess returns non-deleted triggers for a process.
func (t *Txn) TriggersByProcess(processID string) ([]*types.Trigger, error) {
	triggers, err := t.ListTriggers(false)
	if err != nil {
		return nil, err
	}

	var filtered []*types.Trigger
	for _, trg := range triggers {
		if trg.ProcessID == processID {
			filtered = append(filtered, trg)
		}
	}
	return filtered, nil
}
