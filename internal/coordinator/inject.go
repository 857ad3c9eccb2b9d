package coordinator

import (
	"context"
	"fmt"

	"ratchet/internal/queue"
	"ratchet/internal/record"
)

// Inject enqueues a fresh record at the raw stage. Used by the CLI and
// the MCP operator surface.
func Inject(ctx context.Context, store queue.Store, rec *record.Record) error {
	if rec.Status != record.StageRaw {
		return fmt.Errorf("inject %s: status is %s, want raw", rec.ID, rec.Status)
	}
	if !rec.Category.Valid() {
		return fmt.Errorf("inject %s: unknown category %q", rec.ID, rec.Category)
	}
	if !rec.Type.Valid() {
		return fmt.Errorf("inject %s: unknown type %q", rec.ID, rec.Type)
	}
	if rec.Relevance < 0 || rec.Relevance > 1 {
		return fmt.Errorf("inject %s: relevance %v outside [0,1]", rec.ID, rec.Relevance)
	}
	if err := store.Enqueue(ctx, record.StageRaw, rec); err != nil {
		return fmt.Errorf("enqueue raw: %w", err)
	}
	return nil
}

// Promote moves a pending_review record to approved on a human's
// authority. The review decision is recorded on the record before it
// re-enters the pipeline.
func Promote(ctx context.Context, store queue.Store, id, reviewer string) (*record.Record, error) {
	rec, err := store.GetRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	if rec.Status != record.StagePendingReview {
		return nil, fmt.Errorf("promote %s: status is %s, want pending_review", id, rec.Status)
	}
	rec.Decision = &record.Decision{
		Outcome: record.OutcomeApproved,
		Reason:  fmt.Sprintf("promoted by %s after review", reviewer),
		RuleID:  "HUMAN",
	}
	if !rec.Advance(record.StageApproved, timeNow()) {
		return nil, fmt.Errorf("promote %s: transition rejected", id)
	}
	if err := store.Move(ctx, record.StagePendingReview, record.StageApproved, rec); err != nil {
		return nil, fmt.Errorf("move to approved: %w", err)
	}
	return rec, nil
}
