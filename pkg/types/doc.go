/*
Package types defines the entities of the Drover control plane and the rules
that tie them together.

The data model mirrors the persistent store one-to-one:

	┌──────────┐   triggers   ┌─────────┐   sessions   ┌──────────┐
	│ Trigger  │─────────────▶│ Process │─────────────▶│ Session  │
	└──────────┘              └─────────┘              └────┬─────┘
	      │ workqueue                                        │ resource
	      ▼                                                  ▼
	┌───────────┐   items    ┌──────────┐             ┌──────────┐
	│ Workqueue │───────────▶│ WorkItem │             │ Resource │
	└───────────┘            └──────────┘             └──────────┘

Invariants enforced by the services built on these types:

  - A deleted resource is never available.
  - At most one non-terminal session references a given resource.
  - A session with no resource has no dispatch timestamp and is in status
    new; terminal session statuses release the paired resource.
  - A locked work item is always in_progress; every other status runs
    unlocked.

Status enums carry their own transition logic (SessionStatus.CanTransitionTo,
WorkItemStatus.ClearsLock) so the rules live next to the states.

The package also defines the sentinel error taxonomy (ErrNotFound, ErrGone,
ErrInvalidTransition, ErrInvalid, ErrContended) shared by every layer.
*/
package types
