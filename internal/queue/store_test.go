package queue

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"ratchet/internal/record"
)

// fakeClock is a manually-advanced clock shared by both store
// implementations under test.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// eachStore runs the test against both implementations.
func eachStore(t *testing.T, fn func(t *testing.T, st Store, clk *fakeClock)) {
	t.Helper()
	t.Run("mem", func(t *testing.T) {
		clk := newFakeClock()
		st := NewMemStore()
		st.SetNow(clk.now)
		defer st.Close()
		fn(t, st, clk)
	})
	t.Run("sqlite", func(t *testing.T) {
		clk := newFakeClock()
		st, err := OpenMemory()
		if err != nil {
			t.Fatalf("open memory store: %v", err)
		}
		st.now = clk.now
		defer st.Close()
		fn(t, st, clk)
	})
}

func testRecord(title string, relevance float64) *record.Record {
	return record.New("test", title, "desc for "+title, record.CategoryMonitoring, record.TypePattern, relevance)
}

func TestEnqueueClaimAck(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store, clk *fakeClock) {
		ctx := context.Background()
		rec := testRecord("one", 0.5)
		if err := st.Enqueue(ctx, record.StageRaw, rec); err != nil {
			t.Fatalf("enqueue: %v", err)
		}

		got, err := st.Claim(ctx, record.StageRaw, 10)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if len(got) != 1 || got[0].Record.ID != rec.ID {
			t.Fatalf("claim returned %d items, want the enqueued record", len(got))
		}
		if got[0].Attempts != 1 {
			t.Errorf("attempts = %d, want 1", got[0].Attempts)
		}

		// Leased: a second claim sees nothing.
		again, err := st.Claim(ctx, record.StageRaw, 10)
		if err != nil {
			t.Fatalf("second claim: %v", err)
		}
		if len(again) != 0 {
			t.Errorf("second claim returned %d items, want 0 (leased)", len(again))
		}

		if err := st.Ack(ctx, record.StageRaw, rec.ID); err != nil {
			t.Fatalf("ack: %v", err)
		}
		n, err := st.Count(ctx, record.StageRaw)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if n != 0 {
			t.Errorf("count after ack = %d, want 0", n)
		}
		if err := st.Ack(ctx, record.StageRaw, rec.ID); !errors.Is(err, ErrNotFound) {
			t.Errorf("double ack error = %v, want ErrNotFound", err)
		}
	})
}

func TestLeaseExpiryReclaims(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store, clk *fakeClock) {
		ctx := context.Background()
		rec := testRecord("crashy", 0.5)
		if err := st.Enqueue(ctx, record.StageRaw, rec); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if _, err := st.Claim(ctx, record.StageRaw, 1); err != nil {
			t.Fatalf("claim: %v", err)
		}

		// Consumer crashes; lease expires.
		clk.advance(DefaultLeaseDuration + time.Second)

		got, err := st.Claim(ctx, record.StageRaw, 1)
		if err != nil {
			t.Fatalf("reclaim: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("reclaim returned %d items, want 1", len(got))
		}
		if got[0].Attempts != 2 {
			t.Errorf("attempts after redelivery = %d, want 2", got[0].Attempts)
		}
	})
}

func TestRequeueDelay(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store, clk *fakeClock) {
		ctx := context.Background()
		rec := testRecord("retry", 0.5)
		if err := st.Enqueue(ctx, record.StageRaw, rec); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if _, err := st.Claim(ctx, record.StageRaw, 1); err != nil {
			t.Fatalf("claim: %v", err)
		}
		if err := st.Requeue(ctx, record.StageRaw, rec.ID, time.Minute); err != nil {
			t.Fatalf("requeue: %v", err)
		}

		// Still backing off.
		got, err := st.Claim(ctx, record.StageRaw, 1)
		if err != nil {
			t.Fatalf("claim during backoff: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("claim during backoff returned %d items, want 0", len(got))
		}

		clk.advance(time.Minute + time.Second)
		got, err = st.Claim(ctx, record.StageRaw, 1)
		if err != nil {
			t.Fatalf("claim after backoff: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("claim after backoff returned %d items, want 1", len(got))
		}
	})
}

func TestClaimOrderRelevanceFirst(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store, clk *fakeClock) {
		ctx := context.Background()
		low := testRecord("low", 0.2)
		high := testRecord("high", 0.9)
		mid := testRecord("mid", 0.5)
		for _, r := range []*record.Record{low, high, mid} {
			if err := st.Enqueue(ctx, record.StageRaw, r); err != nil {
				t.Fatalf("enqueue: %v", err)
			}
		}
		got, err := st.Claim(ctx, record.StageRaw, 3)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		var titles []string
		for _, c := range got {
			titles = append(titles, c.Record.Title)
		}
		want := []string{"high", "mid", "low"}
		if diff := cmp.Diff(want, titles); diff != "" {
			t.Errorf("claim order mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestMoveNeverInTwoQueues(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store, clk *fakeClock) {
		ctx := context.Background()
		rec := testRecord("mover", 0.5)
		if err := st.Enqueue(ctx, record.StageRaw, rec); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		rec.Advance(record.StageCategorized, clk.now())
		if err := st.Move(ctx, record.StageRaw, record.StageCategorized, rec); err != nil {
			t.Fatalf("move: %v", err)
		}

		for _, s := range []record.Stage{record.StageRaw, record.StageValidated} {
			n, err := st.Count(ctx, s)
			if err != nil {
				t.Fatalf("count %s: %v", s, err)
			}
			if n != 0 {
				t.Errorf("count(%s) = %d, want 0", s, n)
			}
		}
		n, err := st.Count(ctx, record.StageCategorized)
		if err != nil {
			t.Fatalf("count categorized: %v", err)
		}
		if n != 1 {
			t.Errorf("count(categorized) = %d, want 1", n)
		}

		got, err := st.GetRecord(ctx, rec.ID)
		if err != nil {
			t.Fatalf("get record: %v", err)
		}
		if got.Status != record.StageCategorized {
			t.Errorf("registry status = %s, want categorized", got.Status)
		}
	})
}

func TestMoveToTerminalKeepsRegistryOnly(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store, clk *fakeClock) {
		ctx := context.Background()
		rec := testRecord("pending", 0.5)
		rec.Advance(record.StageCategorized, clk.now())
		rec.Advance(record.StageValidated, clk.now())
		if err := st.Enqueue(ctx, record.StageValidated, rec); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		rec.Advance(record.StagePendingReview, clk.now())
		if err := st.Move(ctx, record.StageValidated, record.StagePendingReview, rec); err != nil {
			t.Fatalf("move: %v", err)
		}
		n, err := st.Count(ctx, record.StagePendingReview)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if n != 0 {
			t.Errorf("terminal stage queue count = %d, want 0", n)
		}
		counts, err := st.Counts(ctx)
		if err != nil {
			t.Fatalf("counts: %v", err)
		}
		if counts[record.StagePendingReview] != 1 {
			t.Errorf("registry counts[pending_review] = %d, want 1", counts[record.StagePendingReview])
		}
		listed, err := st.ListStage(ctx, record.StagePendingReview)
		if err != nil {
			t.Fatalf("list stage: %v", err)
		}
		if len(listed) != 1 || listed[0].ID != rec.ID {
			t.Errorf("ListStage(pending_review) = %d records, want the moved record", len(listed))
		}
	})
}

func TestFlags(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store, clk *fakeClock) {
		ctx := context.Background()
		flags, err := st.Flags(ctx)
		if err != nil {
			t.Fatalf("flags: %v", err)
		}
		if flags[FlagApproveAll] || flags[FlagApproveNone] {
			t.Errorf("flags not clear by default: %v", flags)
		}
		if err := st.SetFlag(ctx, FlagApproveNone, true); err != nil {
			t.Fatalf("set flag: %v", err)
		}
		flags, err = st.Flags(ctx)
		if err != nil {
			t.Fatalf("flags: %v", err)
		}
		if !flags[FlagApproveNone] {
			t.Error("approve_none not set")
		}
		if err := st.SetFlag(ctx, FlagApproveNone, false); err != nil {
			t.Fatalf("clear flag: %v", err)
		}
		flags, _ = st.Flags(ctx)
		if flags[FlagApproveNone] {
			t.Error("approve_none not cleared")
		}
	})
}

func TestGetRecordNotFound(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store, clk *fakeClock) {
		_, err := st.GetRecord(context.Background(), "nope")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("GetRecord(nope) error = %v, want ErrNotFound", err)
		}
	})
}

func TestReenqueueResetsLeaseAndAttempts(t *testing.T) {
	eachStore(t, func(t *testing.T, st Store, clk *fakeClock) {
		ctx := context.Background()
		rec := testRecord("resub", 0.5)
		if err := st.Enqueue(ctx, record.StageRaw, rec); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		if _, err := st.Claim(ctx, record.StageRaw, 1); err != nil {
			t.Fatalf("claim: %v", err)
		}

		// Re-enqueue while leased replaces the item outright.
		if err := st.Enqueue(ctx, record.StageRaw, rec); err != nil {
			t.Fatalf("re-enqueue: %v", err)
		}
		got, err := st.Claim(ctx, record.StageRaw, 1)
		if err != nil {
			t.Fatalf("claim after re-enqueue: %v", err)
		}
		if len(got) != 1 {
			t.Fatalf("claim after re-enqueue returned %d items, want 1 (lease dropped)", len(got))
		}
		if got[0].Attempts != 1 {
			t.Errorf("attempts after re-enqueue = %d, want 1 (reset)", got[0].Attempts)
		}
	})
}

// Two handles on the same DB file stand in for two worker processes.
func TestClaimConcurrentHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	a, err := Open(path)
	if err != nil {
		t.Fatalf("open first handle: %v", err)
	}
	defer a.Close()
	b, err := Open(path)
	if err != nil {
		t.Fatalf("open second handle: %v", err)
	}
	defer b.Close()

	ctx := context.Background()
	const total = 40
	for i := 0; i < total; i++ {
		if err := a.Enqueue(ctx, record.StageRaw, testRecord(fmt.Sprintf("item-%02d", i), 0.5)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, st := range []*SQLStore{a, b} {
		wg.Add(1)
		go func(st *SQLStore) {
			defer wg.Done()
			for {
				got, err := st.Claim(ctx, record.StageRaw, 3)
				if err != nil {
					errs <- err
					return
				}
				if len(got) == 0 {
					return
				}
				mu.Lock()
				for _, c := range got {
					seen[c.Record.ID]++
				}
				mu.Unlock()
			}
		}(st)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("claim under contention: %v", err)
	}

	if len(seen) != total {
		t.Fatalf("claimed %d distinct records, want %d", len(seen), total)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("record %s claimed %d times, want 1", id, n)
		}
	}
}
