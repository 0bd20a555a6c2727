/*
Package metrics provides Prometheus metrics and health endpoints for burrow.

All collectors are package-level variables registered with the default
registry in init(), so any package can update them without wiring:

	burrow_records_total{kind,status}                    gauge, refreshed by Collector
	burrow_reconcile_attempts_total{kind,action,outcome} counter
	burrow_reconcile_duration_seconds{kind}              histogram, render+execute+write-back
	burrow_reconcile_cycle_duration_seconds              histogram, one dispatch cycle
	burrow_reconcile_conflicts_total{kind}               attempts discarded by the revision guard
	burrow_retries_scheduled_total{kind}
	burrow_retries_exhausted_total{kind}
	burrow_drift_detected_total{kind}
	burrow_queue_depth                                   claimable records at the last cycle
	burrow_workers_busy
	burrow_artifact_duration_seconds{kind}               executor wall time per artifact
	burrow_commands_total{result}                        success, failure, timeout
	burrow_api_requests_total{method,status}
	burrow_api_request_duration_seconds{method}

Timer wraps the start-then-observe pattern:

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ReconcileDuration, string(rec.Kind))

# Health

Components report themselves with RegisterComponent/UpdateComponent. The
daemon is ready once store, reconciler and api are all registered and
healthy. HealthHandler, ReadyHandler and LivenessHandler serve /health,
/ready and /live; Handler serves /metrics.
*/
package metrics
