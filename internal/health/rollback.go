package health

import (
	"context"
	"time"

	"ratchet/internal/logging"
	"ratchet/internal/record"
)

// rollback executes the one-shot rollback procedure: revert the
// artifact commit, force a resync, wait the grace period, re-check once
// against the reverted state. The verdict is Failed regardless of the
// re-check: a successful rollback does not make the original change a
// success. Partial rollback is worse than a committed one, so the
// procedure ignores caller cancellation and runs to completion or to
// explicit escalation. A failed revert or resync escalates and is never
// retried here.
func (m *Monitor) rollback(ctx context.Context, rec *record.Record, selector string, since time.Time, failure checkFailure) Verdict {
	logger := logging.New("health")
	ctx = context.WithoutCancel(ctx)

	verdict := Verdict{
		State:  StateFailed,
		Check:  failure.check,
		Detail: failure.detail,
	}

	revertRef, err := m.reverter.Revert(ctx, rec.ArtifactRef)
	if err != nil {
		logger.Error("rollback revert failed, escalating",
			"record", rec.ID, "ref", rec.ArtifactRef, "error", err)
		verdict.Escalated = true
		return verdict
	}
	verdict.RolledBack = true
	verdict.RevertRef = revertRef

	if err := m.ctrl.Resync(ctx); err != nil {
		logger.Error("rollback resync failed, escalating",
			"record", rec.ID, "revert_ref", revertRef, "error", err)
		verdict.Escalated = true
		return verdict
	}

	if err := m.clock.Sleep(ctx, m.cfg.Grace); err != nil {
		// WithoutCancel makes this unreachable with the system clock;
		// keep the verdict terminal either way.
		logger.Warn("rollback grace wait interrupted", "record", rec.ID, "error", err)
	}

	verdict.RecheckPassed = m.sample(ctx, selector, since) == nil
	logger.Info("rollback complete",
		"record", rec.ID, "revert_ref", revertRef, "recheck_passed", verdict.RecheckPassed)
	return verdict
}
