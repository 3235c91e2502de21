package storage

// Store is the persistence boundary of the control plane. A View or Update
// closure is the unit of work: every mutation inside an Update either commits
// as a whole or rolls back when the closure returns an error.
type Store interface {
	// View runs fn in a read-only transaction.
	View(fn func(tx *Txn) error) error

	// Update runs fn in a writable transaction. Writers are serialized by
	// the underlying store; fn returning nil commits, anything else rolls
	// back.
	Update(fn func(tx *Txn) error) error

	Close() error
}
