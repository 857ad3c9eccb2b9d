package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ratchet/internal/record"
)

// fakeClock advances instantly on Sleep so tests never wait.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return nil
}

// scriptCtrl scripts per-sample check outcomes by sample index (1-based).
type scriptCtrl struct {
	mu          sync.Mutex
	sampleN     int
	resyncs     int
	readiness   func(n int) (int, int, error)
	metrics     func(n int) (Metrics, error)
	logs        func(n int) ([]string, error)
	ping        func(dep string) error
	resyncErr   error
}

func (s *scriptCtrl) Resync(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resyncs++
	return s.resyncErr
}

func (s *scriptCtrl) Readiness(context.Context, string) (int, int, error) {
	s.mu.Lock()
	s.sampleN++
	n := s.sampleN
	s.mu.Unlock()
	if s.readiness != nil {
		return s.readiness(n)
	}
	return 3, 3, nil
}

func (s *scriptCtrl) Metrics(context.Context, string) (Metrics, error) {
	if s.metrics != nil {
		return s.metrics(s.sampleN)
	}
	return Metrics{ErrorRate: 0.01, LatencyP99: 100 * time.Millisecond, BaselineLatency: 90 * time.Millisecond}, nil
}

func (s *scriptCtrl) Logs(context.Context, string, time.Time) ([]string, error) {
	if s.logs != nil {
		return s.logs(s.sampleN)
	}
	return nil, nil
}

func (s *scriptCtrl) Ping(_ context.Context, dep string) error {
	if s.ping != nil {
		return s.ping(dep)
	}
	return nil
}

type fakeReverter struct {
	mu      sync.Mutex
	reverts []string
	err     error
}

func (r *fakeReverter) Revert(_ context.Context, ref string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.reverts = append(r.reverts, ref)
	return "revert-of-" + ref, nil
}

func deployedRec(clk Clock) *record.Record {
	rec := record.New("test", "change", "desc", record.CategoryMonitoring, record.TypePattern, 0.92)
	rec.Advance(record.StageCategorized, clk.Now())
	rec.Advance(record.StageValidated, clk.Now())
	rec.Advance(record.StageApproved, clk.Now())
	rec.ArtifactRef = "abc123"
	rec.Advance(record.StageDeployed, clk.Now())
	return rec
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Dependencies = []string{"db", "cache"}
	return cfg
}

func TestWatchVerifiedAfterCleanWindow(t *testing.T) {
	clk := newFakeClock()
	ctrl := &scriptCtrl{}
	rev := &fakeReverter{}
	m := New(ctrl, rev, testConfig(), clk)

	v, err := m.Watch(context.Background(), deployedRec(clk))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if v.State != StateVerified {
		t.Fatalf("state = %s, want verified (verdict %+v)", v.State, v)
	}
	// 5-minute window at 10s intervals = 30 samples.
	if ctrl.sampleN != 30 {
		t.Errorf("samples = %d, want 30", ctrl.sampleN)
	}
	if len(rev.reverts) != 0 {
		t.Errorf("clean window produced %d reverts", len(rev.reverts))
	}
}

func TestWatchFailureAtMinuteFourRollsBackOnce(t *testing.T) {
	clk := newFakeClock()
	// Sample 25 is t=4m. Fail readiness exactly once; later samples
	// would pass, which must not matter.
	ctrl := &scriptCtrl{readiness: func(n int) (int, int, error) {
		if n == 25 {
			return 2, 3, nil
		}
		return 3, 3, nil
	}}
	rev := &fakeReverter{}
	m := New(ctrl, rev, testConfig(), clk)

	v, err := m.Watch(context.Background(), deployedRec(clk))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if v.State != StateFailed {
		t.Fatalf("state = %s, want failed", v.State)
	}
	if v.Check != "readiness" {
		t.Errorf("failing check = %q, want readiness", v.Check)
	}
	if len(rev.reverts) != 1 || rev.reverts[0] != "abc123" {
		t.Fatalf("reverts = %v, want exactly one of abc123", rev.reverts)
	}
	if ctrl.resyncs != 1 {
		t.Errorf("resyncs = %d, want 1", ctrl.resyncs)
	}
	if !v.RolledBack || v.RevertRef != "revert-of-abc123" {
		t.Errorf("verdict = %+v, want rolled back with revert ref", v)
	}
	// Post-rollback re-check passed, but the original change still failed.
	if !v.RecheckPassed {
		t.Errorf("recheck passed = false, want true (readiness only failed once)")
	}
	if v.Escalated {
		t.Error("clean rollback must not escalate")
	}
}

func TestWatchFailingChecks(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*scriptCtrl)
		wantCheck string
	}{
		{
			name: "error rate above ceiling",
			mutate: func(c *scriptCtrl) {
				c.metrics = func(int) (Metrics, error) {
					return Metrics{ErrorRate: 0.5, LatencyP99: time.Millisecond, BaselineLatency: time.Millisecond}, nil
				}
			},
			wantCheck: "metrics",
		},
		{
			name: "latency above baseline multiple",
			mutate: func(c *scriptCtrl) {
				c.metrics = func(int) (Metrics, error) {
					return Metrics{ErrorRate: 0, LatencyP99: 500 * time.Millisecond, BaselineLatency: 100 * time.Millisecond}, nil
				}
			},
			wantCheck: "metrics",
		},
		{
			name: "fatal log line",
			mutate: func(c *scriptCtrl) {
				c.logs = func(int) ([]string, error) { return []string{"FATAL: out of memory"}, nil }
			},
			wantCheck: "logs",
		},
		{
			name: "dependency unreachable",
			mutate: func(c *scriptCtrl) {
				c.ping = func(dep string) error {
					if dep == "cache" {
						return errors.New("connection refused")
					}
					return nil
				}
			},
			wantCheck: "dependencies",
		},
		{
			name: "introspection error fails the sample",
			mutate: func(c *scriptCtrl) {
				c.readiness = func(int) (int, int, error) { return 0, 0, fmt.Errorf("api timeout") }
			},
			wantCheck: "readiness",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clk := newFakeClock()
			ctrl := &scriptCtrl{}
			tt.mutate(ctrl)
			rev := &fakeReverter{}
			m := New(ctrl, rev, testConfig(), clk)

			v, err := m.Watch(context.Background(), deployedRec(clk))
			if err != nil {
				t.Fatalf("Watch: %v", err)
			}
			if v.State != StateFailed {
				t.Fatalf("state = %s, want failed", v.State)
			}
			if v.Check != tt.wantCheck {
				t.Errorf("failing check = %q, want %q (detail %q)", v.Check, tt.wantCheck, v.Detail)
			}
		})
	}
}

func TestWatchRevertFailureEscalates(t *testing.T) {
	clk := newFakeClock()
	ctrl := &scriptCtrl{readiness: func(int) (int, int, error) { return 0, 3, nil }}
	rev := &fakeReverter{err: errors.New("config store unreachable")}
	m := New(ctrl, rev, testConfig(), clk)

	v, err := m.Watch(context.Background(), deployedRec(clk))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if v.State != StateFailed || !v.Escalated {
		t.Fatalf("verdict = %+v, want failed and escalated", v)
	}
	if v.RolledBack {
		t.Error("RolledBack = true after failed revert")
	}
	if ctrl.resyncs != 0 {
		t.Errorf("resync ran after failed revert: %d", ctrl.resyncs)
	}
}

func TestWatchResyncFailureEscalates(t *testing.T) {
	clk := newFakeClock()
	ctrl := &scriptCtrl{
		readiness: func(int) (int, int, error) { return 0, 3, nil },
		resyncErr: errors.New("controller unreachable"),
	}
	rev := &fakeReverter{}
	m := New(ctrl, rev, testConfig(), clk)

	v, err := m.Watch(context.Background(), deployedRec(clk))
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if v.State != StateFailed || !v.Escalated {
		t.Fatalf("verdict = %+v, want failed and escalated", v)
	}
	if !v.RolledBack {
		t.Error("revert succeeded; RolledBack should be true")
	}
	if len(rev.reverts) != 1 {
		t.Errorf("reverts = %d, want 1 (rollback failure is never retried)", len(rev.reverts))
	}
}

func TestWatchRequiresArtifactRef(t *testing.T) {
	clk := newFakeClock()
	m := New(&scriptCtrl{}, &fakeReverter{}, testConfig(), clk)
	rec := record.New("t", "x", "y", record.CategorySecurity, record.TypePattern, 0.99)
	if _, err := m.Watch(context.Background(), rec); err == nil {
		t.Fatal("Watch accepted a record with no artifact ref")
	}
}
