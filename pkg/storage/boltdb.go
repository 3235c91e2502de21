package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/droverd/drover/pkg/types"
)

var (
	// Bucket names
	bucketProcesses    = []byte("processes")
	bucketResources    = []byte("resources")
	bucketSessions     = []byte("sessions")
	bucketWorkqueues   = []byte("workqueues")
	bucketWorkItems    = []byte("workitems")
	bucketTriggers     = []byte("triggers")
	bucketAuditLogs    = []byte("auditlogs")
	bucketCredentials  = []byte("credentials")
	bucketAccessTokens = []byte("access_tokens")
)

// BoltStore implements Store using BoltDB. Entities are serialized as JSON
// into one bucket per type, keyed by ID.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "drover.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketProcesses,
			bucketResources,
			bucketSessions,
			bucketWorkqueues,
			bucketWorkItems,
			bucketTriggers,
			bucketAuditLogs,
			bucketCredentials,
			bucketAccessTokens,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// View runs fn in a read-only transaction.
func (s *BoltStore) View(fn func(tx *Txn) error) error {
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(&Txn{tx: btx})
	})
}

// Update runs fn in a writable transaction.
func (s *BoltStore) Update(fn func(tx *Txn) error) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&Txn{tx: btx})
	})
}

// Txn exposes the per-entity repositories scoped to one transaction. All
// multi-step mutations of the scheduler (session transition + resource flip,
// trigger fire + last_triggered stamp) run against a single Txn.
type Txn struct {
	tx *bolt.Tx
}

func (t *Txn) put(bucket []byte, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.tx.Bucket(bucket).Put([]byte(key), data)
}

// get unmarshals the value for key into out and reports whether it existed.
func (t *Txn) get(bucket []byte, key string, out interface{}) (bool, error) {
	data := t.tx.Bucket(bucket).Get([]byte(key))
	if data == nil {
		return false, nil
	}
	return true, json.Unmarshal(data, out)
}

func (t *Txn) forEach(bucket []byte, fn func(v []byte) error) error {
	return t.tx.Bucket(bucket).ForEach(func(k, v []byte) error {
		return fn(v)
	})
}

// newID returns a fresh entity ID.
func newID() string {
	return uuid.New().String()
}

// stampNew fills in ID and timestamps for a freshly created entity, keeping
// caller-provided values when set.
func stampNew(id *string, createdAt, updatedAt *time.Time) {
	if *id == "" {
		*id = newID()
	}
	now := time.Now().UTC()
	if createdAt.IsZero() {
		*createdAt = now
	}
	if updatedAt.IsZero() {
		*updatedAt = now
	}
}

// --- Process operations ---

func (t *Txn) CreateProcess(p *types.Process) error {
	stampNew(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	return t.put(bucketProcesses, p.ID, p)
}

func (t *Txn) GetProcess(id string) (*types.Process, error) {
	var p types.Process
	ok, err := t.get(bucketProcesses, id, &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("process %s: %w", id, types.ErrNotFound)
	}
	return &p, nil
}

func (t *Txn) UpdateProcess(p *types.Process) error {
	p.UpdatedAt = time.Now().UTC()
	return t.put(bucketProcesses, p.ID, p)
}

// DeleteProcess soft-deletes a process.
func (t *Txn) DeleteProcess(id string) error {
	p, err := t.GetProcess(id)
	if err != nil {
		return err
	}
	p.Deleted = true
	return t.UpdateProcess(p)
}

func (t *Txn) ListProcesses(includeDeleted bool) ([]*types.Process, error) {
	var processes []*types.Process
	err := t.forEach(bucketProcesses, func(v []byte) error {
		var p types.Process
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		if p.Deleted && !includeDeleted {
			return nil
		}
		processes = append(processes, &p)
		return nil
	})
	sortByCreatedAt(processes, func(p *types.Process) (time.Time, string) { return p.CreatedAt, p.ID })
	return processes, err
}

// --- Resource operations ---

func (t *Txn) CreateResource(r *types.Resource) error {
	stampNew(&r.ID, &r.CreatedAt, &r.UpdatedAt)
	return t.put(bucketResources, r.ID, r)
}

func (t *Txn) GetResource(id string) (*types.Resource, error) {
	var r types.Resource
	ok, err := t.get(bucketResources, id, &r)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", id, types.ErrNotFound)
	}
	return &r, nil
}

func (t *Txn) UpdateResource(r *types.Resource) error {
	r.UpdatedAt = time.Now().UTC()
	return t.put(bucketResources, r.ID, r)
}

func (t *Txn) ListResources(includeDeleted bool) ([]*types.Resource, error) {
	var resources []*types.Resource
	err := t.forEach(bucketResources, func(v []byte) error {
		var r types.Resource
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		if r.Deleted && !includeDeleted {
			return nil
		}
		resources = append(resources, &r)
		return nil
	})
	sortByCreatedAt(resources, func(r *types.Resource) (time.Time, string) { return r.CreatedAt, r.ID })
	return resources, err
}

// ResourceByFQDN returns the resource with the given fqdn, deleted or not.
// FQDNs are unique, so the first match wins.
func (t *Txn) ResourceByFQDN(fqdn string) (*types.Resource, error) {
	var found *types.Resource
	err := t.forEach(bucketResources, func(v []byte) error {
		if found != nil {
			return nil
		}
		var r types.Resource
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		if r.FQDN == fqdn {
			found = &r
		}
		return nil
	})
	return found, err
}

// AvailableResources returns non-deleted resources flagged available.
func (t *Txn) AvailableResources() ([]*types.Resource, error) {
	var resources []*types.Resource
	err := t.forEach(bucketResources, func(v []byte) error {
		var r types.Resource
		if err := json.Unmarshal(v, &r); err != nil {
			return err
		}
		if r.Available && !r.Deleted {
			resources = append(resources, &r)
		}
		return nil
	})
	sortByCreatedAt(resources, func(r *types.Resource) (time.Time, string) { return r.CreatedAt, r.ID })
	return resources, err
}

// sortByCreatedAt orders entities ascending by creation time, falling back to
// ID so repeated queries over unchanged inputs are stable.
func sortByCreatedAt[T any](items []T, key func(T) (time.Time, string)) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if ti.Equal(tj) {
			return idi < idj
		}
		return ti.Before(tj)
	})
}
