/*
Package scheduler runs the periodic control loop that drives the Drover
control plane.

Each pass performs the full bookkeeping and scheduling pipeline in a single
storage transaction, so workers and API callers only ever observe state from
before or after a complete pass.

# Architecture

The loop operates on a fixed interval (10 seconds by default), with an extra
backoff sleep after a failed pass:

	┌────────────────────────────────────────────────────────────┐
	│                     Scheduler Loop                         │
	│                  (Every 10 seconds)                        │
	└────────────────┬───────────────────────────────────────────┘
	                 │ one storage.Update transaction
	                 ▼
	┌────────────────────────────────────────────────────────────┐
	│  1. Reschedule orphans: pending sessions whose resource    │
	│     vanished go back to the unassigned pool                │
	│  2. Flush dangling: in-progress sessions stuck > 4 h on a  │
	│     vanished resource are failed                           │
	│  3. Dispatch: pair pending sessions with free, capable     │
	│     resources (stale resources swept first)                │
	│  4. Triggers: evaluate cron / date / workqueue rules,      │
	│     creating new sessions                                  │
	│  5. Dispatch again, so trigger output starts this pass     │
	└────────────────────────────────────────────────────────────┘

# Core Components

Scheduler: the loop itself. It owns no state beyond its collaborators; every
pass reads the world fresh from storage, so a restart mid-stream is harmless.

	sched := scheduler.New(store, sessions, dispatcher, triggers, scheduler.Config{})
	go sched.Run(ctx)

Tick is exported separately so tests and operational tooling can run exactly
one pass at a chosen time without the loop.

# Failure Handling

A failed pass rolls back its transaction, increments the tick error counter,
and sleeps the configured backoff before the next attempt. Errors inside a
pass never terminate the loop; only context cancellation does.
*/
package scheduler
