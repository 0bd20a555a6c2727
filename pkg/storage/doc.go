/*
Package storage provides BoltDB-backed persistence for burrow's desired state
and its reconciliation audit log.

# Layout

	records      "<kind>/<key>" -> ResourceRecord (JSON)
	record_ids   record id      -> "<kind>/<key>"
	attempts/<record id>
	             big-endian sequence -> Attempt (JSON)

Keying records by "<kind>/<key>" makes the natural key unique per kind, so a
domain can never get two vhosts and a crontab line can never be installed
twice.

# Revision guard

Every worker-side transition is a compare-and-swap inside a single bbolt
write transaction:

	MarkApplying(id, rev)  fails unless desired_revision == rev and no worker holds the record
	MarkApplied(id, rev)   fails unless desired_revision == rev; sets applied_revision = rev
	MarkFailed(id, rev, f) fails unless desired_revision == rev
	Purge(id, rev)         fails unless the record is still the same tombstone

A failed compare returns errors.ErrConflict and still clears the in-flight
flag, so the record becomes claimable again at its newer revision. Put with
an unchanged spec returns changed=false and leaves the revision alone.

# Audit log

AppendAttempt keeps at most the configured number of attempts per record,
dropping the oldest. Attempts outlive Purge so the history of a removed
resource remains inspectable.
*/
package storage
