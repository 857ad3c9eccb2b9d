package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ratchet/internal/health"
	"ratchet/internal/policy"
	"ratchet/internal/queue"
	"ratchet/internal/record"
)

// errViolation wraps failures that mean the pipeline itself misbehaved.
// They dead-letter immediately with escalation, never retry.
var errViolation = errors.New("pipeline invariant violated")

func isViolation(err error) bool { return errors.Is(err, errViolation) }

// callFor names the collaborator call a stage depends on, for the
// Failure audit field.
func callFor(stage record.Stage) string {
	switch stage {
	case record.StageRaw:
		return "score"
	case record.StageCategorized:
		return "search"
	case record.StageValidated:
		return "decide"
	case record.StageApproved:
		return "commit"
	case record.StageDeployed:
		return "monitor"
	}
	return ""
}

func (c *Coordinator) handle(ctx context.Context, stage record.Stage, rec *record.Record) error {
	switch stage {
	case record.StageRaw:
		return c.handleRaw(ctx, rec)
	case record.StageCategorized:
		return c.handleCategorized(ctx, rec)
	case record.StageValidated:
		return c.handleValidated(ctx, rec)
	case record.StageApproved:
		return c.handleApproved(ctx, rec)
	}
	return fmt.Errorf("no handler for stage %s: %w", stage, errViolation)
}

// handleRaw routes the record to its expert profile and stores the
// evaluation. Scoring failures are retryable.
func (c *Coordinator) handleRaw(ctx context.Context, rec *record.Record) error {
	ev, err := c.router.Evaluate(ctx, rec)
	if err != nil {
		return Transient(err)
	}
	rec.Evaluation = &ev
	return c.advance(ctx, rec, record.StageRaw, record.StageCategorized)
}

// handleCategorized validates against the three corpora. A failed
// validation is not an error: the record proceeds carrying its
// conflicts and the policy routes it to review. Search failures are
// retryable.
func (c *Coordinator) handleCategorized(ctx context.Context, rec *record.Record) error {
	v, err := c.validator.Validate(ctx, rec)
	if err != nil {
		return Transient(err)
	}
	rec.Validation = &v
	return c.advance(ctx, rec, record.StageCategorized, record.StageValidated)
}

// handleValidated applies the approval policy. Override flags are read
// from the store on every call, never cached.
func (c *Coordinator) handleValidated(ctx context.Context, rec *record.Record) error {
	flags, err := c.store.Flags(ctx)
	if err != nil {
		return Transient(fmt.Errorf("read override flags: %w", err))
	}
	ov := policy.Overrides{
		ApproveAll:  flags[queue.FlagApproveAll],
		ApproveNone: flags[queue.FlagApproveNone],
	}
	decision, err := c.policy.Decide(rec, ov)
	if err != nil {
		return fmt.Errorf("policy decide: %w", err)
	}
	rec.Decision = &decision

	to := record.StagePendingReview
	if decision.Outcome == record.OutcomeApproved {
		to = record.StageApproved
	}
	c.logger.Info("policy decided",
		"record", rec.ID, "outcome", decision.Outcome, "rule", decision.RuleID, "reason", decision.Reason)
	return c.advance(ctx, rec, record.StageValidated, to)
}

// handleApproved renders and commits the artifact. The guard comes
// first: an approved record that failed validation means the policy
// table or an override misfired, and committing it would deploy a
// known conflict.
func (c *Coordinator) handleApproved(ctx context.Context, rec *record.Record) error {
	if rec.Validation == nil || !rec.Validation.Passed {
		return fmt.Errorf("approved record %s failed validation: %w", rec.ID, errViolation)
	}
	ref, err := c.worker.Implement(ctx, rec)
	if err != nil {
		return Transient(err)
	}
	rec.ArtifactRef = ref
	return c.advance(ctx, rec, record.StageApproved, record.StageDeployed)
}

// startMonitor registers an asynchronous health watch for a deployed
// record. Concurrency is bounded by the monitor semaphore; a record
// already being watched, or arriving while every monitor slot is busy,
// is requeued so its lease is not silently dropped and the deployed
// loop never blocks.
func (c *Coordinator) startMonitor(ctx context.Context, cl *queue.Claimed) {
	rec := cl.Record

	c.mu.Lock()
	if _, dup := c.watching[rec.ID]; dup {
		c.mu.Unlock()
		c.requeueDeployed(ctx, rec.ID)
		return
	}
	c.watching[rec.ID] = struct{}{}
	c.mu.Unlock()

	if !c.sem.TryAcquire(1) {
		c.unwatch(rec.ID)
		c.requeueDeployed(ctx, rec.ID)
		return
	}

	c.monitors.Add(1)
	go func() {
		defer c.monitors.Done()
		defer c.sem.Release(1)
		defer c.unwatch(rec.ID)
		c.watch(ctx, rec)
	}()
}

// watch runs the monitoring window and lands the record in its terminal
// stage. Store writes after the window use a detached context: the
// verdict must be persisted even during shutdown.
func (c *Coordinator) watch(ctx context.Context, rec *record.Record) {
	verdict, err := c.monitor.Watch(ctx, rec)
	store := context.WithoutCancel(ctx)
	if err != nil {
		// Interrupted window: release so a restart watches again.
		c.logger.Warn("monitoring interrupted, releasing record", "record", rec.ID, "error", err)
		if rqErr := c.store.Requeue(store, record.StageDeployed, rec.ID, 0); rqErr != nil {
			c.logger.Error("release deployed record failed", "record", rec.ID, "error", rqErr)
		}
		return
	}

	to := record.StageVerified
	if verdict.State == health.StateFailed {
		to = record.StageFailed
		rec.Failure = &record.Failure{
			Reason:    fmt.Sprintf("%s: %s", verdict.Check, verdict.Detail),
			LastStage: record.StageDeployed,
			Call:      callFor(record.StageDeployed),
			Escalated: verdict.Escalated,
		}
	}
	if !rec.Advance(to, c.now()) {
		c.logger.Error("illegal monitor transition", "record", rec.ID, "to", to)
		return
	}
	if err := c.store.Move(store, record.StageDeployed, to, rec); err != nil {
		c.logger.Error("persist verdict failed", "record", rec.ID, "to", to, "error", err)
		return
	}
	c.logger.Info("monitoring verdict", "record", rec.ID, "state", verdict.State,
		"rolled_back", verdict.RolledBack, "escalated", verdict.Escalated)
}

func (c *Coordinator) requeueDeployed(ctx context.Context, id string) {
	if err := c.store.Requeue(ctx, record.StageDeployed, id, c.monitorRequeueDelay()); err != nil {
		c.logger.Error("requeue deployed record failed", "record", id, "error", err)
	}
}

func (c *Coordinator) unwatch(id string) {
	c.mu.Lock()
	delete(c.watching, id)
	c.mu.Unlock()
}

// monitorRequeueDelay spaces out duplicate claims of a record that is
// already being watched (its queue lease expired mid-window).
func (c *Coordinator) monitorRequeueDelay() time.Duration {
	return c.cfg.PollInterval * 4
}
