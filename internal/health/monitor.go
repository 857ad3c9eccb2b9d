// Package health supervises a deployed artifact for a bounded window
// and decides verified or failed. The window is "never failing", not
// "mostly passing": every check must pass on every sample, and one
// failing sample triggers exactly one rollback sequence.
package health

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ratchet/internal/logging"
	"ratchet/internal/record"
)

// Clock abstracts time so tests never sleep. The deadline is computed
// once from Now() so delayed sampling cannot extend the window.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Metrics is one metric sample from the deployment controller.
type Metrics struct {
	ErrorRate       float64
	LatencyP99      time.Duration
	BaselineLatency time.Duration
}

// Controller is the deployment controller collaborator: it reconciles
// committed artifacts on its own cadence and exposes introspection.
type Controller interface {
	Resync(ctx context.Context) error
	Readiness(ctx context.Context, selector string) (ready, total int, err error)
	Metrics(ctx context.Context, selector string) (Metrics, error)
	Logs(ctx context.Context, selector string, since time.Time) ([]string, error)
	// Ping checks that a declared dependency responds.
	Ping(ctx context.Context, dep string) error
}

// Reverter reverts a commit in the configuration store.
type Reverter interface {
	Revert(ctx context.Context, ref string) (newRef string, err error)
}

// Config bounds the monitoring window.
type Config struct {
	Window           time.Duration
	Interval         time.Duration
	Grace            time.Duration
	ErrorRateCeiling float64
	// LatencyFactor is the allowed multiple of the rolling baseline.
	LatencyFactor float64
	FatalPatterns []string
	// Dependencies are the declared dependencies probed each sample.
	Dependencies []string
}

// DefaultConfig returns the standard 5-minute window sampled every 10s.
func DefaultConfig() Config {
	return Config{
		Window:           5 * time.Minute,
		Interval:         10 * time.Second,
		Grace:            30 * time.Second,
		ErrorRateCeiling: 0.05,
		LatencyFactor:    2.0,
		FatalPatterns:    []string{"FATAL", "panic:"},
	}
}

// State is the monitor's terminal verdict.
type State string

const (
	StateVerified State = "verified"
	StateFailed   State = "failed"
)

// Verdict is the outcome of one monitoring window. Failed verdicts
// carry the triggering check's detail; Escalated marks a rollback that
// itself failed and needs human intervention.
type Verdict struct {
	State         State
	Check         string
	Detail        string
	RolledBack    bool
	RevertRef     string
	RecheckPassed bool
	Escalated     bool
}

// Monitor runs windows over deployed records.
type Monitor struct {
	ctrl     Controller
	reverter Reverter
	clock    Clock
	cfg      Config
}

// New returns a Monitor. A nil clock selects the system clock.
func New(ctrl Controller, reverter Reverter, cfg Config, clock Clock) *Monitor {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Monitor{ctrl: ctrl, reverter: reverter, cfg: cfg, clock: clock}
}

// selectorFor labels the workload instances belonging to the record.
func selectorFor(rec *record.Record) string { return "ratchet/record=" + rec.ID }

// checkFailure is one failing check inside a sample.
type checkFailure struct {
	check  string
	detail string
}

// Watch supervises the record until the window elapses cleanly
// (Verified) or one sample fails (rollback, Failed). Cancelling ctx
// aborts monitoring between samples; the rollback procedure itself is
// not cancellable once triggered.
func (m *Monitor) Watch(ctx context.Context, rec *record.Record) (Verdict, error) {
	logger := logging.New("health")
	if rec.ArtifactRef == "" {
		return Verdict{}, fmt.Errorf("record %s has no artifact ref", rec.ID)
	}

	selector := selectorFor(rec)
	since := rec.EnteredStage(record.StageDeployed)
	if since.IsZero() {
		since = m.clock.Now()
	}

	// Monotonic deadline: delayed samples never extend the window.
	deadline := m.clock.Now().Add(m.cfg.Window)
	logger.Info("monitoring started",
		"record", rec.ID, "window", m.cfg.Window, "interval", m.cfg.Interval)

	for m.clock.Now().Before(deadline) {
		if failure := m.sample(ctx, selector, since); failure != nil {
			logger.Warn("health check failed, rolling back",
				"record", rec.ID, "check", failure.check, "detail", failure.detail)
			return m.rollback(ctx, rec, selector, since, *failure), nil
		}
		if err := m.clock.Sleep(ctx, m.cfg.Interval); err != nil {
			return Verdict{}, fmt.Errorf("monitoring %s interrupted: %w", rec.ID, err)
		}
	}

	logger.Info("monitoring window passed", "record", rec.ID)
	return Verdict{State: StateVerified}, nil
}

// sample runs the four checks once. All must pass; the first failure
// wins. An introspection error counts as a failing check: health that
// cannot be observed cannot be verified.
func (m *Monitor) sample(ctx context.Context, selector string, since time.Time) *checkFailure {
	ready, total, err := m.ctrl.Readiness(ctx, selector)
	if err != nil {
		return &checkFailure{check: "readiness", detail: err.Error()}
	}
	if total == 0 || ready < total {
		return &checkFailure{check: "readiness", detail: fmt.Sprintf("%d/%d instances ready", ready, total)}
	}

	met, err := m.ctrl.Metrics(ctx, selector)
	if err != nil {
		return &checkFailure{check: "metrics", detail: err.Error()}
	}
	if met.ErrorRate > m.cfg.ErrorRateCeiling {
		return &checkFailure{check: "metrics", detail: fmt.Sprintf("error rate %.3f above ceiling %.3f", met.ErrorRate, m.cfg.ErrorRateCeiling)}
	}
	if met.BaselineLatency > 0 && float64(met.LatencyP99) > m.cfg.LatencyFactor*float64(met.BaselineLatency) {
		return &checkFailure{check: "metrics", detail: fmt.Sprintf("latency %s above %.1fx baseline %s", met.LatencyP99, m.cfg.LatencyFactor, met.BaselineLatency)}
	}

	lines, err := m.ctrl.Logs(ctx, selector, since)
	if err != nil {
		return &checkFailure{check: "logs", detail: err.Error()}
	}
	for _, line := range lines {
		for _, pat := range m.cfg.FatalPatterns {
			if strings.Contains(line, pat) {
				return &checkFailure{check: "logs", detail: "fatal line: " + line}
			}
		}
	}

	for _, dep := range m.cfg.Dependencies {
		if err := m.ctrl.Ping(ctx, dep); err != nil {
			return &checkFailure{check: "dependencies", detail: fmt.Sprintf("%s: %v", dep, err)}
		}
	}
	return nil
}
