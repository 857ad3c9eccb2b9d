package deploy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ratchet/internal/health"
)

// Fake is a scriptable in-memory deployment controller for tests and
// local demos. All instances report ready and metrics are clean unless
// a failure is scripted.
type Fake struct {
	mu       sync.Mutex
	resyncs  int
	samples  int
	failFrom int // 1-based sample index at which readiness starts failing; 0 = never
	logLines []string
	deps     map[string]error
	metrics  health.Metrics
}

// NewFake returns a healthy Fake controller.
func NewFake() *Fake {
	return &Fake{deps: make(map[string]error)}
}

// FailReadinessFrom scripts the readiness check to fail from the n-th
// metric sample onward (1-based).
func (f *Fake) FailReadinessFrom(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failFrom = n
}

// SetMetrics scripts the metric sample.
func (f *Fake) SetMetrics(m health.Metrics) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = m
}

// AddLog appends a log line visible to the log-pattern scan.
func (f *Fake) AddLog(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logLines = append(f.logLines, line)
}

// SetDependency scripts a dependency probe result; nil err = reachable.
func (f *Fake) SetDependency(dep string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deps[dep] = err
}

// Resyncs returns how many resyncs were forced.
func (f *Fake) Resyncs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resyncs
}

func (f *Fake) Resync(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resyncs++
	return nil
}

func (f *Fake) Readiness(context.Context, string) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples++
	if f.failFrom > 0 && f.samples >= f.failFrom {
		return 1, 2, nil
	}
	return 2, 2, nil
}

func (f *Fake) Metrics(context.Context, string) (health.Metrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.metrics == (health.Metrics{}) {
		return health.Metrics{ErrorRate: 0.001, LatencyP99: 80 * time.Millisecond, BaselineLatency: 60 * time.Millisecond}, nil
	}
	return f.metrics, nil
}

func (f *Fake) Logs(context.Context, string, time.Time) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.logLines))
	copy(out, f.logLines)
	return out, nil
}

func (f *Fake) Ping(_ context.Context, dep string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.deps[dep]; ok {
		return err
	}
	return nil
}

var _ health.Controller = (*Fake)(nil)

// String describes the scripted state, handy in test failure output.
func (f *Fake) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("fake-controller{samples=%d resyncs=%d}", f.samples, f.resyncs)
}
