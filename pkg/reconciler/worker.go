package reconciler

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/executor"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/types"
)

// reconcileRecord performs one full attempt on a record: claim, render,
// execute, write back, audit
func (r *Reconciler) reconcileRecord(ctx context.Context, snapshot *types.ResourceRecord) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ReconcileDuration, string(snapshot.Kind))

	logger := r.logger.With().
		Str("record_id", snapshot.ID).
		Str("kind", string(snapshot.Kind)).
		Str("key", snapshot.Key).
		Int64("revision", snapshot.DesiredRevision).
		Logger()

	rec, err := r.store.MarkApplying(snapshot.ID, snapshot.DesiredRevision)
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrConflict), errors.Is(err, errors.ErrNotFound):
			// Another worker has it or the record moved on since listing
			logger.Debug().Err(err).Msg("Record no longer claimable")
		default:
			logger.Error().Err(err).Msg("Failed to claim record")
		}
		return
	}

	revision := rec.DesiredRevision
	action := types.ActionApply
	if rec.Status == types.StatusDeleted {
		action = types.ActionTeardown
	}
	attempt := &types.Attempt{
		RecordID:          rec.ID,
		Kind:              rec.Kind,
		Key:               rec.Key,
		Action:            action,
		RevisionAttempted: revision,
		StartedAt:         r.now(),
	}

	defer func() {
		if p := recover(); p != nil {
			logger.Error().Interface("panic", p).Msg("Reconciliation panicked")
			r.fail(logger, rec, attempt, errors.ErrExecution.WithCausef("panic: %v", p))
		}
	}()

	logger.Debug().Str("action", string(action)).Msg("Reconciling record")

	art, err := r.registry.Render(rec)
	if err != nil {
		if action == types.ActionTeardown && errors.Is(err, errors.ErrValidation) {
			// A spec that never rendered never reached the host
			attempt.Error = fmt.Sprintf("nothing to tear down: %v", err)
			r.succeed(logger, rec, attempt, &executor.Result{Step: -1})
			return
		}
		r.fail(logger, rec, attempt, err)
		return
	}
	attempt.RenderedArtifact = art.Describe()

	res := r.exec.Run(ctx, art, r.cfg.ExecTimeout)
	attempt.CommandOutput = res.Output()
	attempt.ExitCode = res.ExitCode
	if res.Err != nil {
		if action != types.ActionTeardown || !rec.NeverApplied() {
			r.fail(logger, rec, attempt, res.Err)
			return
		}
		// Leftovers of failed applies are cleaned up once, best effort
		attempt.Outcome = types.OutcomeFailure
		if res.TimedOut {
			attempt.Outcome = types.OutcomeTimeout
		}
		attempt.ErrorClass = errors.Class(res.Err)
		attempt.Error = fmt.Sprintf("never applied, purged anyway: %v", res.Err)
		logger.Warn().Err(res.Err).Msg("Teardown of never applied record failed")
	}
	r.succeed(logger, rec, attempt, res)
}

// succeed writes back a successful attempt: applied for an apply, purged
// for a teardown
func (r *Reconciler) succeed(logger zerolog.Logger, rec *types.ResourceRecord, attempt *types.Attempt, res *executor.Result) {
	attempt.FinishedAt = r.now()
	if attempt.Outcome == "" {
		attempt.Outcome = types.OutcomeSuccess
	}

	var err error
	if attempt.Action == types.ActionTeardown {
		err = r.store.Purge(rec.ID, attempt.RevisionAttempted)
	} else {
		err = r.store.MarkApplied(rec.ID, attempt.RevisionAttempted)
	}

	if err != nil && r.writeBackFailed(logger, rec, attempt, err) {
		return
	}
	r.audit(logger, attempt)
	metrics.AttemptsTotal.WithLabelValues(string(rec.Kind), string(attempt.Action), string(attempt.Outcome)).Inc()

	if attempt.Action == types.ActionTeardown {
		logger.Info().Dur("duration", res.Duration).Msg("Record torn down and purged")
		r.publish(events.EventRecordPurged, rec, attempt.RevisionAttempted, "teardown succeeded")
		return
	}
	logger.Info().Dur("duration", res.Duration).Msg("Record applied")
	r.publish(events.EventRecordApplied, rec, attempt.RevisionAttempted, "applied revision %d", attempt.RevisionAttempted)
}

// fail records a failed attempt and schedules a retry when the failure is
// transient and the budget allows
func (r *Reconciler) fail(logger zerolog.Logger, rec *types.ResourceRecord, attempt *types.Attempt, cause error) {
	attempt.FinishedAt = r.now()
	attempt.Outcome = types.OutcomeFailure
	if errors.Is(cause, errors.ErrTimeout) {
		attempt.Outcome = types.OutcomeTimeout
	}
	if attempt.ExitCode == 0 {
		attempt.ExitCode = -1
	}
	attempt.ErrorClass = errors.Class(cause)
	attempt.Error = cause.Error()

	failures := rec.Attempts + 1
	failure := types.Failure{
		Class:   attempt.ErrorClass,
		Message: cause.Error(),
		Retry:   errors.Retryable(cause) && failures < r.cfg.MaxAttempts,
	}
	if failure.Retry {
		failure.RetryAt = attempt.FinishedAt.Add(r.RetryDelay(failures))
	}

	if err := r.store.MarkFailed(rec.ID, attempt.RevisionAttempted, failure); err != nil && r.writeBackFailed(logger, rec, attempt, err) {
		return
	}
	r.audit(logger, attempt)
	metrics.AttemptsTotal.WithLabelValues(string(rec.Kind), string(attempt.Action), string(attempt.Outcome)).Inc()

	event := logger.Warn().
		Err(cause).
		Str("error_class", string(failure.Class)).
		Int("attempts", failures).
		Int("exit_code", attempt.ExitCode)
	switch {
	case failure.Retry:
		metrics.RetriesScheduled.WithLabelValues(string(rec.Kind)).Inc()
		event.Time("retry_at", failure.RetryAt).Msg("Reconciliation failed, retry scheduled")
	case errors.Retryable(cause):
		metrics.RetriesExhausted.WithLabelValues(string(rec.Kind)).Inc()
		event.Msg("Reconciliation failed, retries exhausted")
	default:
		event.Msg("Reconciliation failed permanently")
	}
	r.publish(events.EventRecordFailed, rec, attempt.RevisionAttempted, "%s", cause.Error())
}

// writeBackFailed handles an error from the final store transition and
// reports whether the attempt's result was discarded. A conflict means the
// desired state moved on while the attempt ran: the result is kept in the
// audit log only and the newer revision is picked up by the next cycle.
func (r *Reconciler) writeBackFailed(logger zerolog.Logger, rec *types.ResourceRecord, attempt *types.Attempt, err error) bool {
	if errors.Is(err, errors.ErrConflict) {
		attempt.Discarded = true
		r.audit(logger, attempt)
		metrics.ConflictsTotal.WithLabelValues(string(rec.Kind)).Inc()
		logger.Info().Err(err).Msg("Desired state changed during reconciliation, result discarded")
		r.publish(events.EventRecordConflict, rec, attempt.RevisionAttempted, "%s", err.Error())
		r.Nudge()
		return true
	}

	logger.Error().Err(err).Msg("Failed to write back reconciliation result")
	metrics.UpdateComponent(metrics.ComponentStore, false, err.Error())
	attempt.Error = fmt.Sprintf("write back failed: %v", err)
	attempt.ErrorClass = types.ErrorClassStore
	r.audit(logger, attempt)

	// The next cycle repeats the attempt; ReleaseInFlight covers a failed release
	if relErr := r.store.Release(rec.ID); relErr != nil {
		logger.Error().Err(relErr).Msg("Failed to release record after write-back failure")
	}
	return true
}

func (r *Reconciler) audit(logger zerolog.Logger, attempt *types.Attempt) {
	if err := r.store.AppendAttempt(attempt); err != nil {
		logger.Error().Err(err).Msg("Failed to append audit entry")
	}
}

// DriftSweep re-renders every converged record and compares the result with
// the host. Records that differ go back to pending. It returns how many
// drifted.
func (r *Reconciler) DriftSweep(ctx context.Context) (int, error) {
	records, err := r.store.List("")
	if err != nil {
		return 0, err
	}

	drifted := 0
	for _, rec := range records {
		if ctx.Err() != nil {
			return drifted, ctx.Err()
		}
		if rec.InFlight || !rec.Converged() {
			continue
		}

		logger := r.logger.With().Str("record_id", rec.ID).Str("kind", string(rec.Kind)).Str("key", rec.Key).Logger()
		art, err := r.registry.Render(rec)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to render applied record for drift check")
			continue
		}
		diffs, err := r.exec.Verify(ctx, art)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to inspect host for drift")
			continue
		}
		if len(diffs) == 0 {
			continue
		}

		if err := r.store.MarkDrifted(rec.ID, rec.AppliedRevision); err != nil {
			logger.Debug().Err(err).Msg("Record changed during drift check")
			continue
		}
		drifted++
		metrics.DriftDetected.WithLabelValues(string(rec.Kind)).Inc()
		logger.Warn().Strs("differences", diffs).Msg("Drift detected, record requeued")
		r.publish(events.EventRecordDrifted, rec, rec.AppliedRevision, "%d differences", len(diffs))
	}

	if drifted > 0 {
		r.Nudge()
	}
	return drifted, nil
}
