package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ratchet/adapters/deploy"
	"ratchet/adapters/gitstore"
	"ratchet/adapters/scoring"
	"ratchet/adapters/search"
	"ratchet/internal/artifact"
	"ratchet/internal/config"
	"ratchet/internal/coordinator"
	"ratchet/internal/health"
	"ratchet/internal/logging"
	"ratchet/internal/policy"
	"ratchet/internal/queue"
	"ratchet/internal/router"
	"ratchet/internal/validate"
)

// openStore opens the SQLite queue store, creating parent directories.
func openStore(cfg config.Config) (*queue.SQLStore, error) {
	if dir := filepath.Dir(cfg.Store.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	return queue.Open(cfg.Store.Path)
}

// buildCoordinator wires the full pipeline from config. With no
// deployment controller URL configured it runs in demo mode: in-memory
// controller, and an in-memory config store when the artifact repo is
// not a git checkout.
func buildCoordinator(cfg config.Config, store queue.Store) (*coordinator.Coordinator, error) {
	logger := logging.New("wiring")

	rt, err := router.New(scoring.NewHeuristic())
	if err != nil {
		return nil, fmt.Errorf("build router: %w", err)
	}

	validator := validate.New(search.NewIndex(&search.HashEmbedder{}), validate.DefaultThresholds())

	pol, err := policy.Default()
	if err != nil {
		return nil, fmt.Errorf("build policy: %w", err)
	}

	var configStore artifact.ConfigStore
	git, err := gitstore.NewGit(cfg.Artifact.RepoDir)
	if err != nil {
		logger.Warn("artifact repo is not a git checkout, using in-memory store",
			"dir", cfg.Artifact.RepoDir, "error", err)
		configStore = gitstore.NewMem()
	} else {
		git.Push = cfg.Artifact.Push
		configStore = git
	}
	worker := artifact.NewWorker(configStore, cfg.Artifact.BaseDir)

	var controller health.Controller
	if cfg.Deploy.ControllerURL != "" {
		controller = deploy.NewClient(cfg.Deploy.ControllerURL, 10*time.Second)
	} else {
		logger.Warn("no deployment controller configured, using in-memory fake")
		controller = deploy.NewFake()
	}

	reverter, ok := configStore.(health.Reverter)
	if !ok {
		return nil, fmt.Errorf("config store %T cannot revert commits", configStore)
	}

	mon := health.New(controller, reverter, health.Config{
		Window:           cfg.Health.Window.D(),
		Interval:         cfg.Health.Interval.D(),
		Grace:            cfg.Health.Grace.D(),
		ErrorRateCeiling: cfg.Health.ErrorRateCeiling,
		LatencyFactor:    cfg.Health.LatencyFactor,
		FatalPatterns:    cfg.Health.FatalPatterns,
		Dependencies:     cfg.Health.Dependencies,
	}, nil)

	return coordinator.New(store, rt, validator, pol, worker, mon, coordinator.Config{
		PollInterval: cfg.Pipeline.PollInterval.D(),
		ClaimBatch:   cfg.Pipeline.ClaimBatch,
		MaxAttempts:  cfg.Pipeline.MaxAttempts,
		BackoffBase:  cfg.Pipeline.BackoffBase.D(),
		BackoffMax:   cfg.Pipeline.BackoffMax.D(),
		MaxMonitors:  cfg.Pipeline.MaxMonitors,
	}), nil
}
