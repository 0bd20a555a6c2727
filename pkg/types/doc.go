/*
Package types defines the data model shared by every burrow component.

A ResourceRecord is the durable desired state of one host resource (a DNS
zone, a crontab line, a virtual host, a certificate or a container stack)
identified by its (Kind, Key) pair. Admin actions only ever bump the desired
side of a record; the reconciler only ever moves the applied side:

	DesiredRevision  bumped by submit/remove when the spec changes
	AppliedRevision  set by the reconciler after a successful apply
	Status           pending -> applying -> applied | failed
	                 any -> deleted -> (purged, record removed)

AppliedRevision never exceeds DesiredRevision, and a record in StatusApplied
always has both revisions equal.

An Artifact is what a renderer turns a record into: an ordered list of Steps
(atomic file writes, file removals, argv commands and crontab splices) plus
optional read-only Checks used for drift detection. Artifacts are plain data
so they can be compared byte for byte and written to the audit log.

Attempt is the audit entry recorded for every reconciliation attempt.

The per-kind spec payloads (DNSZoneSpec, CronJobSpec, VHostSpec, SSLCertSpec,
ContainerStackSpec) are stored as JSON in ResourceRecord.Spec and decoded by
the matching renderer.
*/
package types
