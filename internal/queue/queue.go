// Package queue provides the shared, key-ordered, multi-stage record
// store the rest of the pipeline is built on. Claims are leased so a
// crashed consumer's records become reclaimable; delivery is
// at-least-once, so consumers must be idempotent per record ID.
package queue

import (
	"context"
	"errors"
	"time"

	"ratchet/internal/record"
)

// DefaultDBPath is the default relative path for the SQLite DB.
// Resolve against cwd; Open() creates the parent dir.
const DefaultDBPath = ".ratchet/ratchet.db"

// DefaultLeaseDuration is the claim visibility timeout. A claimed item
// whose lease expires becomes claimable again.
const DefaultLeaseDuration = 30 * time.Second

// Override flag names shared between the CLI/MCP surface and running
// workers. The Coordinator reads them fresh on every policy invocation.
const (
	FlagApproveAll  = "approve_all"
	FlagApproveNone = "approve_none"
)

// ErrNotFound is returned when a record or queue item does not exist.
var ErrNotFound = errors.New("not found")

// Claimed is one leased queue item. Attempts counts deliveries of this
// item including the current one, so callers can bound retries.
type Claimed struct {
	Record   *record.Record
	Attempts int
}

// Store is the persistence facade: per-stage leased queues, the record
// registry used by the operator surface, and the shared override flags.
// Domain code uses only this interface; implementation is SQLite or
// in-memory.
type Store interface {
	// Enqueue appends a record to the stage's queue and upserts the
	// registry entry.
	Enqueue(ctx context.Context, stage record.Stage, rec *record.Record) error
	// Claim leases up to limit ready items from the stage, ordered by
	// relevance (descending) then enqueue time. Leased items are
	// invisible to other claimers until the lease expires.
	Claim(ctx context.Context, stage record.Stage, limit int) ([]*Claimed, error)
	// Ack permanently removes an item from the stage's queue.
	Ack(ctx context.Context, stage record.Stage, id string) error
	// Requeue releases the lease and makes the item claimable again
	// after delay (explicit failure or backoff).
	Requeue(ctx context.Context, stage record.Stage, id string, delay time.Duration) error
	// Move atomically removes the record from the source queue, updates
	// the registry, and enqueues to the destination unless it is
	// terminal. A record is never visible in two stage queues at once.
	Move(ctx context.Context, from, to record.Stage, rec *record.Record) error

	// Count returns the number of items in the stage's queue,
	// leased or not.
	Count(ctx context.Context, stage record.Stage) (int, error)
	// Counts returns registry totals per stage, terminal stages included.
	Counts(ctx context.Context) (map[record.Stage]int, error)

	// SaveRecord upserts the registry entry for the record.
	SaveRecord(ctx context.Context, rec *record.Record) error
	// GetRecord returns the registry entry by id, or ErrNotFound.
	GetRecord(ctx context.Context, id string) (*record.Record, error)
	// ListStage returns registry entries currently in the given stage.
	ListStage(ctx context.Context, stage record.Stage) ([]*record.Record, error)

	// SetFlag sets or clears a named override flag.
	SetFlag(ctx context.Context, name string, on bool) error
	// Flags returns all override flags. Callers must not cache the result.
	Flags(ctx context.Context) (map[string]bool, error)

	Close() error
}
