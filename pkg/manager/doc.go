/*
Package manager is the entry point for everything that changes desired
state: submit, query, remove, retry and history.

A Manager owns the bbolt store, the renderer registry, the event broker
and the reconciler. Submissions are validated against the renderer of
their kind before they reach the store:

  - an unknown kind or an empty key is refused and nothing is stored
  - a spec that fails validation is stored as failed with a permanent
    validation error, audited, and the error is returned to the caller
  - a valid spec bumps the desired revision and wakes the reconciler

Submitting a spec identical to the stored one is a no-op. Removal
tombstones the record; it stays queryable as deleted until the reconciler
has torn it down and purged it. History is keyed by record id and outlives
the purge.

# Usage

	mgr, err := manager.NewManager(&manager.Config{
		DataDir:    "/var/lib/burrow",
		Reconciler: cfg.Reconciler,
		Executor:   cfg.Executor,
		Render:     cfg.Render,
	})
	if err != nil {
		return err
	}
	mgr.Start()
	defer mgr.Shutdown()

	rec, err := mgr.Submit(types.KindCronJob, "alice-backup",
		json.RawMessage(`{"user":"alice","schedule":"0 3 * * *","command":"/usr/bin/php backup.php"}`))
*/
package manager
