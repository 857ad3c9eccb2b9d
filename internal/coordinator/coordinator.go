// Package coordinator runs the pipeline: one polling loop per
// processing stage, each claiming leased work from the queue store and
// driving records through router, validator, policy, worker, and
// monitor. Transient collaborator failures requeue with exponential
// backoff; exhausted or permanent failures dead-letter to the error
// stage with a typed Failure attached.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"ratchet/internal/artifact"
	"ratchet/internal/health"
	"ratchet/internal/logging"
	"ratchet/internal/policy"
	"ratchet/internal/queue"
	"ratchet/internal/record"
	"ratchet/internal/router"
	"ratchet/internal/validate"
)

// processingStages are the stages the coordinator polls. Terminal
// stages have no queues and no loops.
var processingStages = []record.Stage{
	record.StageRaw,
	record.StageCategorized,
	record.StageValidated,
	record.StageApproved,
	record.StageDeployed,
}

// Config bounds polling, retries, and monitor concurrency.
type Config struct {
	PollInterval time.Duration
	ClaimBatch   int
	MaxAttempts  int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	MaxMonitors  int64
}

// DefaultConfig returns the bounds used when fields are zero.
func DefaultConfig() Config {
	return Config{
		PollInterval: 2 * time.Second,
		ClaimBatch:   8,
		MaxAttempts:  5,
		BackoffBase:  time.Second,
		BackoffMax:   2 * time.Minute,
		MaxMonitors:  4,
	}
}

// Coordinator owns the stage loops. Collaborators are injected; the
// coordinator holds no domain logic beyond sequencing and retry.
type Coordinator struct {
	store     queue.Store
	router    *router.Router
	validator *validate.Validator
	policy    *policy.Policy
	worker    *artifact.Worker
	monitor   *health.Monitor
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	sem      *semaphore.Weighted
	monitors sync.WaitGroup

	mu       sync.Mutex
	watching map[string]struct{}
}

// New wires a Coordinator. Zero Config fields take defaults.
func New(store queue.Store, rt *router.Router, v *validate.Validator, pol *policy.Policy, w *artifact.Worker, mon *health.Monitor, cfg Config) *Coordinator {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ClaimBatch <= 0 {
		cfg.ClaimBatch = def.ClaimBatch
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = def.BackoffBase
	}
	if cfg.BackoffMax < cfg.BackoffBase {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.MaxMonitors <= 0 {
		cfg.MaxMonitors = def.MaxMonitors
	}
	return &Coordinator{
		store:     store,
		router:    rt,
		validator: v,
		policy:    pol,
		worker:    w,
		monitor:   mon,
		cfg:       cfg,
		logger:    logging.New("coordinator"),
		now:       time.Now,
		sem:       semaphore.NewWeighted(cfg.MaxMonitors),
		watching:  make(map[string]struct{}),
	}
}

// Run polls every processing stage until ctx is cancelled, then waits
// for in-flight monitors to wind down.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info("pipeline started", "stages", len(processingStages), "poll_interval", c.cfg.PollInterval)
	g, gctx := errgroup.WithContext(ctx)
	for _, stage := range processingStages {
		g.Go(func() error { return c.loop(gctx, stage) })
	}
	err := g.Wait()
	c.monitors.Wait()
	c.logger.Info("pipeline stopped")
	if err != nil && ctx.Err() != nil {
		return nil // clean shutdown
	}
	return err
}

func (c *Coordinator) loop(ctx context.Context, stage record.Stage) error {
	timer := time.NewTimer(0)
	defer timer.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if _, err := c.Tick(ctx, stage); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Store contention (a peer worker holds the write lock)
			// must not take the stage loop down.
			failures++
			delay := backoff(c.cfg.PollInterval, c.cfg.BackoffMax, failures)
			c.logger.Warn("stage poll failed, backing off",
				"stage", stage, "consecutive", failures, "delay", delay, "error", err)
			timer.Reset(delay)
			continue
		}
		failures = 0
		timer.Reset(c.cfg.PollInterval)
	}
}

// Tick claims and processes one batch from the stage's queue. It
// returns the number of items handled. Store failures abort the tick;
// per-record failures are absorbed into retry or dead-letter.
func (c *Coordinator) Tick(ctx context.Context, stage record.Stage) (int, error) {
	claimed, err := c.store.Claim(ctx, stage, c.cfg.ClaimBatch)
	if err != nil {
		return 0, fmt.Errorf("claim %s: %w", stage, err)
	}
	for _, cl := range claimed {
		if stage == record.StageDeployed {
			c.startMonitor(ctx, cl)
			continue
		}
		c.process(ctx, stage, cl)
	}
	return len(claimed), nil
}

// Wait blocks until all in-flight monitors complete. Test hook and
// shutdown aid.
func (c *Coordinator) Wait() { c.monitors.Wait() }

func (c *Coordinator) process(ctx context.Context, stage record.Stage, cl *queue.Claimed) {
	rec := cl.Record
	err := c.handle(ctx, stage, rec)
	if err == nil {
		return
	}
	if IsTransient(err) && cl.Attempts < c.cfg.MaxAttempts {
		delay := backoff(c.cfg.BackoffBase, c.cfg.BackoffMax, cl.Attempts)
		c.logger.Warn("stage handler failed, will retry",
			"record", rec.ID, "stage", stage, "attempt", cl.Attempts, "delay", delay, "error", err)
		if rqErr := c.store.Requeue(ctx, stage, rec.ID, delay); rqErr != nil {
			c.logger.Error("requeue failed", "record", rec.ID, "stage", stage, "error", rqErr)
		}
		return
	}
	c.deadLetter(ctx, stage, rec, cl.Attempts, err)
}

// deadLetter freezes the record in the error stage with its failure
// attached. Escalated failures are invariant violations needing a
// human, not just exhausted retries.
func (c *Coordinator) deadLetter(ctx context.Context, stage record.Stage, rec *record.Record, attempts int, err error) {
	escalated := isViolation(err)
	rec.Failure = &record.Failure{
		Reason:    err.Error(),
		LastStage: stage,
		Call:      callFor(stage),
		Escalated: escalated,
	}
	rec.Advance(record.StageError, c.now())
	if escalated {
		c.logger.Error("pipeline invariant violated, escalating",
			"record", rec.ID, "stage", stage, "error", err)
	} else {
		c.logger.Error("record dead-lettered",
			"record", rec.ID, "stage", stage, "attempts", attempts, "error", err)
	}
	if mvErr := c.store.Move(ctx, stage, record.StageError, rec); mvErr != nil {
		c.logger.Error("dead-letter move failed", "record", rec.ID, "error", mvErr)
	}
}

// advance stamps the transition and atomically moves the record.
func (c *Coordinator) advance(ctx context.Context, rec *record.Record, from, to record.Stage) error {
	if !rec.Advance(to, c.now()) {
		return fmt.Errorf("illegal transition %s -> %s for %s", from, to, rec.ID)
	}
	if err := c.store.Move(ctx, from, to, rec); err != nil {
		return Transient(fmt.Errorf("move %s to %s: %w", rec.ID, to, err))
	}
	c.logger.Info("record advanced", "record", rec.ID, "from", from, "to", to)
	return nil
}
