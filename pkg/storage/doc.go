/*
Package storage provides BoltDB-backed state persistence for the control plane.

The storage package implements the Store interface using BoltDB as the underlying
database, providing ACID transactions for control-plane state including processes,
resources, sessions, workqueues, work items, triggers, audit logs, credentials,
and access tokens. All data is serialized as JSON and stored in separate buckets
for efficient querying and isolation.

# Architecture

The control plane uses BoltDB (bbolt) for embedded, transactional storage with
zero external dependencies:

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <dataDir>/drover.db                │          │
	│  │  - Format: B+tree with MVCC                 │          │
	│  │  - Transactions: ACID with fsync            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  ┌────────────────────────────┐             │          │
	│  │  │ processes     (Process ID) │             │          │
	│  │  │ resources     (Resource ID)│             │          │
	│  │  │ sessions      (Session ID) │             │          │
	│  │  │ workqueues    (Queue ID)   │             │          │
	│  │  │ workitems     (Item ID)    │             │          │
	│  │  │ triggers      (Trigger ID) │             │          │
	│  │  │ auditlogs     (Entry ID)   │             │          │
	│  │  │ credentials   (Cred ID)    │             │          │
	│  │  │ access_tokens (Token ID)   │             │          │
	│  │  └────────────────────────────┘             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        Transaction Management                │          │
	│  │  - Read: Store.View() - Concurrent reads    │          │
	│  │  - Write: Store.Update() - Serialized       │          │
	│  │  - Rollback: Automatic on error             │          │
	│  │  - Commit: Automatic on success + fsync     │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Transaction Model

A View or Update closure receives a *Txn exposing every per-entity repository
method. The closure is the unit of work: the dispatcher pairing a session with
a resource flips both records in one Update, a trigger firing creates the
session and stamps last_triggered in the same Update, and a work-item claim
flips locked, status, and started_at atomically. Writers are serialized by
BoltDB, so a claim can never dispense the same item twice.

Soft deletion is the norm: processes, resources, sessions, workqueues,
triggers, credentials, and access tokens carry a deleted flag and stay in
their bucket. The only hard delete is ClearWorkItems, which prunes a queue.
Audit logs are append-only and are never modified.

# Ordering

List queries sort ascending by creation time with ID as tie-break, so FIFO
consumers (the dispatcher, work-item claims) see a stable order across
repeated scans. Reference lookups invert this and return newest first.

# Usage

Creating a store:

	store, err := storage.NewBoltStore("/var/lib/drover")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

Claiming a work item:

	var item *types.WorkItem
	err := store.Update(func(tx *storage.Txn) error {
		var err error
		item, err = tx.ClaimNextWorkItem(queueID, time.Now().UTC())
		return err
	})
*/
package storage
