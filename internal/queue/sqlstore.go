package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"ratchet/internal/record"
)

const schema = `
CREATE TABLE IF NOT EXISTS queue_items (
	id               TEXT NOT NULL,
	stage            TEXT NOT NULL,
	payload          BLOB NOT NULL,
	relevance        REAL NOT NULL DEFAULT 0,
	attempts         INTEGER NOT NULL DEFAULT 0,
	available_at     TEXT NOT NULL,
	lease_expires_at TEXT,
	enqueued_at      TEXT NOT NULL,
	PRIMARY KEY (stage, id)
);
CREATE INDEX IF NOT EXISTS idx_queue_ready
	ON queue_items(stage, available_at, relevance DESC, enqueued_at);

CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	stage      TEXT NOT NULL,
	payload    BLOB NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_records_stage ON records(stage);

CREATE TABLE IF NOT EXISTS flags (
	name       TEXT PRIMARY KEY,
	value      INTEGER NOT NULL DEFAULT 0,
	updated_at TEXT NOT NULL
);
`

// SQLStore implements Store on SQLite (modernc, no cgo). WAL plus
// busy_timeout lets multiple worker processes share the file;
// transactions begin IMMEDIATE so claim's read-then-lease never has to
// upgrade a read lock (upgrades fail with SQLITE_BUSY instead of
// waiting out the busy_timeout).
type SQLStore struct {
	db    *sql.DB
	lease time.Duration
	now   func() time.Time
}

// Open opens or creates the SQLite DB at path and applies the schema.
func Open(path string) (*SQLStore, error) {
	if path == "" {
		path = DefaultDBPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	return openDSN(dsn)
}

// OpenMemory opens an in-memory DB for testing.
func OpenMemory() (*SQLStore, error) {
	return openDSN("file::memory:?_txlock=immediate&_pragma=foreign_keys(ON)")
}

func openDSN(dsn string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLStore{db: db, lease: DefaultLeaseDuration, now: time.Now}, nil
}

// SetLease overrides the claim visibility timeout.
func (s *SQLStore) SetLease(d time.Duration) { s.lease = d }

func (s *SQLStore) Close() error { return s.db.Close() }

// sqlTimeLayout is fixed-width so lexicographic comparison in SQL
// matches chronological order (RFC3339Nano trims trailing zeros).
const sqlTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string { return t.UTC().Format(sqlTimeLayout) }

func (s *SQLStore) Enqueue(ctx context.Context, stage record.Stage, rec *record.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin enqueue: %w", err)
	}
	defer tx.Rollback()
	if err := enqueueTx(ctx, tx, stage, rec, s.now()); err != nil {
		return err
	}
	if err := saveRecordTx(ctx, tx, rec, s.now()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit enqueue: %w", err)
	}
	return nil
}

func enqueueTx(ctx context.Context, tx *sql.Tx, stage record.Stage, rec *record.Record, now time.Time) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	// Re-enqueue replaces the item outright: lease dropped, attempts
	// reset, immediately claimable. Mirrors MemStore.
	_, err = tx.ExecContext(ctx,
		`INSERT INTO queue_items(id, stage, payload, relevance, attempts, available_at, enqueued_at)
		 VALUES(?, ?, ?, ?, 0, ?, ?)
		 ON CONFLICT(stage, id) DO UPDATE SET
			payload          = excluded.payload,
			relevance        = excluded.relevance,
			attempts         = 0,
			available_at     = excluded.available_at,
			lease_expires_at = NULL,
			enqueued_at      = excluded.enqueued_at`,
		rec.ID, string(stage), payload, rec.Relevance, fmtTime(now), fmtTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert queue item: %w", err)
	}
	return nil
}

func saveRecordTx(ctx context.Context, tx *sql.Tx, rec *record.Record, now time.Time) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO records(id, stage, payload, updated_at) VALUES(?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET stage = excluded.stage,
		                               payload = excluded.payload,
		                               updated_at = excluded.updated_at`,
		rec.ID, string(rec.Status), payload, fmtTime(now),
	)
	if err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

func (s *SQLStore) Claim(ctx context.Context, stage record.Stage, limit int) ([]*Claimed, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, payload, attempts FROM queue_items
		 WHERE stage = ? AND available_at <= ?
		   AND (lease_expires_at IS NULL OR lease_expires_at <= ?)
		 ORDER BY relevance DESC, enqueued_at ASC
		 LIMIT ?`,
		string(stage), fmtTime(now), fmtTime(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select claimable: %w", err)
	}
	var claimed []*Claimed
	var ids []string
	for rows.Next() {
		var id string
		var payload []byte
		var attempts int
		if err := rows.Scan(&id, &payload, &attempts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		var rec record.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			rows.Close()
			return nil, fmt.Errorf("unmarshal record %s: %w", id, err)
		}
		claimed = append(claimed, &Claimed{Record: &rec, Attempts: attempts + 1})
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimable: %w", err)
	}

	expiry := fmtTime(now.Add(s.lease))
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`UPDATE queue_items SET lease_expires_at = ?, attempts = attempts + 1
			 WHERE stage = ? AND id = ?`,
			expiry, string(stage), id,
		); err != nil {
			return nil, fmt.Errorf("lease queue item %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return claimed, nil
}

func (s *SQLStore) Ack(ctx context.Context, stage record.Stage, id string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM queue_items WHERE stage = ? AND id = ?", string(stage), id)
	if err != nil {
		return fmt.Errorf("ack %s/%s: %w", stage, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ack %s/%s: %w", stage, id, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) Requeue(ctx context.Context, stage record.Stage, id string, delay time.Duration) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue_items SET lease_expires_at = NULL, available_at = ?
		 WHERE stage = ? AND id = ?`,
		fmtTime(s.now().Add(delay)), string(stage), id)
	if err != nil {
		return fmt.Errorf("requeue %s/%s: %w", stage, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("requeue %s/%s: %w", stage, id, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) Move(ctx context.Context, from, to record.Stage, rec *record.Record) error {
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin move: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM queue_items WHERE stage = ? AND id = ?", string(from), rec.ID); err != nil {
		return fmt.Errorf("remove from %s: %w", from, err)
	}
	if err := saveRecordTx(ctx, tx, rec, now); err != nil {
		return err
	}
	if !to.Terminal() {
		if err := enqueueTx(ctx, tx, to, rec, now); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit move: %w", err)
	}
	return nil
}

func (s *SQLStore) Count(ctx context.Context, stage record.Stage) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM queue_items WHERE stage = ?", string(stage)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", stage, err)
	}
	return n, nil
}

func (s *SQLStore) Counts(ctx context.Context) (map[record.Stage]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT stage, COUNT(*) FROM records GROUP BY stage")
	if err != nil {
		return nil, fmt.Errorf("counts: %w", err)
	}
	defer rows.Close()
	out := make(map[record.Stage]int)
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		out[record.Stage(stage)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("counts: %w", err)
	}
	return out, nil
}

func (s *SQLStore) SaveRecord(ctx context.Context, rec *record.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save record: %w", err)
	}
	defer tx.Rollback()
	if err := saveRecordTx(ctx, tx, rec, s.now()); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save record: %w", err)
	}
	return nil
}

func (s *SQLStore) GetRecord(ctx context.Context, id string) (*record.Record, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM records WHERE id = ?", id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	var rec record.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

func (s *SQLStore) ListStage(ctx context.Context, stage record.Stage) ([]*record.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT payload FROM records WHERE stage = ? ORDER BY updated_at", string(stage))
	if err != nil {
		return nil, fmt.Errorf("list stage %s: %w", stage, err)
	}
	defer rows.Close()
	var out []*record.Record
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var rec record.Record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal record: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list stage %s: %w", stage, err)
	}
	return out, nil
}

func (s *SQLStore) SetFlag(ctx context.Context, name string, on bool) error {
	val := 0
	if on {
		val = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO flags(name, value, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value,
		                                 updated_at = excluded.updated_at`,
		name, val, fmtTime(s.now()))
	if err != nil {
		return fmt.Errorf("set flag %s: %w", name, err)
	}
	return nil
}

func (s *SQLStore) Flags(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name, value FROM flags")
	if err != nil {
		return nil, fmt.Errorf("flags: %w", err)
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var name string
		var val int
		if err := rows.Scan(&name, &val); err != nil {
			return nil, fmt.Errorf("scan flag: %w", err)
		}
		out[name] = val == 1
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("flags: %w", err)
	}
	return out, nil
}
