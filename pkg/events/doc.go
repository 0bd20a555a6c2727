// Package events provides an in-process pub/sub broker for record lifecycle
// notifications (submitted, applied, failed, conflict, deleted, purged,
// drifted, retried). Publishing never blocks: a slow subscriber misses
// events rather than stalling the reconciler. The API streams them from
// GET /v1/events.
package events
