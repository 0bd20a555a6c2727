/*
Package reconciler drives resource records from their desired spec to the
host.

A dispatcher lists claimable records from the store and hands them to a
fixed pool of workers. Each worker performs one attempt per record and
writes the outcome back under the revision guard of the store, so a spec
that changes mid-attempt is never reported as applied.

# Architecture

	┌───────────────┐  ListPending   ┌──────────────┐
	│  Dispatcher   │ ─────────────► │  Store       │
	│ poll or nudge │                │  (bbolt)     │
	└──────┬────────┘                └──────▲───────┘
	       │ jobs (unbuffered)              │ MarkApplying / MarkApplied
	       ▼                                │ MarkFailed / Purge
	┌───────────────┐  Render  ┌────────────┴──┐  Run  ┌────────────┐
	│  Worker 1..N  │ ───────► │   Registry    │ ────► │  Executor  │
	└───────────────┘          └───────────────┘       └────────────┘

# Attempt

	1. MarkApplying claims the record at its desired revision. A conflict
	   means another worker has it or the revision moved on; the job is
	   dropped silently.
	2. The registry renders an apply artifact, or a teardown artifact for
	   a deleted record.
	3. The executor runs the artifact with the configured timeout.
	4. The result is written back at the claimed revision. A conflict
	   discards the result: the attempt is audited with Discarded set and
	   the newer revision is picked up on the next cycle.
	5. Every attempt is appended to the audit log.

# Retries

Execution, timeout and store failures are transient. They are retried
after an exponential delay (base 5s, doubling, capped at 5m) until
MaxAttempts consecutive failures; validation failures are never retried.
A manual retry through the store re-arms a record.

# Drift

When DriftInterval is set, converged records are re-rendered periodically
and compared with the host through Executor.Verify. Records that differ
are sent back to pending.

# Shutdown

Stop cancels dispatching and waits for workers. An attempt already handed
to a worker runs to completion, bounded by ExecTimeout.

# Usage

	r := reconciler.NewReconciler(store, render.NewRegistry(cfg.Render), executor.New(cfg.Executor), cfg.Reconciler,
		reconciler.WithBroker(broker))
	r.Start()
	defer r.Stop()

	// after a submission
	r.Nudge()

Tests drive single cycles with RunOnce and a fake clock via WithClock.
*/
package reconciler
