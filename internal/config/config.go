// Package config loads the pipeline configuration from a YAML or JSON
// file. Format is detected by extension, then by content.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ratchet/internal/queue"
)

// Config is the top-level pipeline configuration.
type Config struct {
	Log      Log      `yaml:"log" json:"log"`
	Store    Store    `yaml:"store" json:"store"`
	Pipeline Pipeline `yaml:"pipeline" json:"pipeline"`
	Health   Health   `yaml:"health" json:"health"`
	Artifact Artifact `yaml:"artifact" json:"artifact"`
	Deploy   Deploy   `yaml:"deploy" json:"deploy"`
}

type Log struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

type Store struct {
	Path  string   `yaml:"path" json:"path"`
	Lease Duration `yaml:"lease" json:"lease"`
}

// Pipeline bounds the coordinator's polling and retry behavior.
type Pipeline struct {
	PollInterval Duration `yaml:"poll_interval" json:"poll_interval"`
	ClaimBatch   int      `yaml:"claim_batch" json:"claim_batch"`
	MaxAttempts  int      `yaml:"max_attempts" json:"max_attempts"`
	BackoffBase  Duration `yaml:"backoff_base" json:"backoff_base"`
	BackoffMax   Duration `yaml:"backoff_max" json:"backoff_max"`
	// MaxMonitors bounds concurrently monitored deployments.
	MaxMonitors int64 `yaml:"max_monitors" json:"max_monitors"`
}

type Health struct {
	Window           Duration `yaml:"window" json:"window"`
	Interval         Duration `yaml:"interval" json:"interval"`
	Grace            Duration `yaml:"grace" json:"grace"`
	ErrorRateCeiling float64  `yaml:"error_rate_ceiling" json:"error_rate_ceiling"`
	LatencyFactor    float64  `yaml:"latency_factor" json:"latency_factor"`
	FatalPatterns    []string `yaml:"fatal_patterns" json:"fatal_patterns"`
	Dependencies     []string `yaml:"dependencies" json:"dependencies"`
}

type Artifact struct {
	// BaseDir is the artifact path prefix inside the config store.
	BaseDir string `yaml:"base_dir" json:"base_dir"`
	// RepoDir is the local checkout of the config store repository.
	RepoDir string `yaml:"repo_dir" json:"repo_dir"`
	Push    bool   `yaml:"push" json:"push"`
}

type Deploy struct {
	// ControllerURL is the deployment controller's base URL. Empty
	// selects the in-memory fake (demo mode).
	ControllerURL string `yaml:"controller_url" json:"controller_url"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Log:   Log{Level: "info", Format: "text"},
		Store: Store{Path: queue.DefaultDBPath, Lease: Duration(queue.DefaultLeaseDuration)},
		Pipeline: Pipeline{
			PollInterval: Duration(2 * time.Second),
			ClaimBatch:   8,
			MaxAttempts:  5,
			BackoffBase:  Duration(time.Second),
			BackoffMax:   Duration(2 * time.Minute),
			MaxMonitors:  4,
		},
		Health: Health{
			Window:           Duration(5 * time.Minute),
			Interval:         Duration(10 * time.Second),
			Grace:            Duration(30 * time.Second),
			ErrorRateCeiling: 0.05,
			LatencyFactor:    2.0,
			FatalPatterns:    []string{"FATAL", "panic:"},
		},
		Artifact: Artifact{BaseDir: "artifacts", RepoDir: ".ratchet/configstore"},
	}
}

// LoadFromPath reads a config file and merges it over the defaults.
func LoadFromPath(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Load(data, filepath.Ext(path))
}

// Load parses config from bytes over the defaults. ext is the format
// hint (".yaml", ".json"); empty detects from content.
func Load(data []byte, ext string) (Config, error) {
	cfg := Default()
	ext = strings.ToLower(ext)
	if ext == ".yml" {
		ext = ".yaml"
	}
	if ext == "" && strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		ext = ".json"
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config json: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config yaml: %w", err)
		}
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("pipeline.max_attempts must be at least 1, got %d", c.Pipeline.MaxAttempts)
	}
	if c.Pipeline.BackoffBase <= 0 || c.Pipeline.BackoffMax < c.Pipeline.BackoffBase {
		return fmt.Errorf("pipeline backoff bounds invalid: base %s, max %s", c.Pipeline.BackoffBase, c.Pipeline.BackoffMax)
	}
	if c.Health.Interval <= 0 || c.Health.Window < c.Health.Interval {
		return fmt.Errorf("health window %s must cover at least one interval %s", c.Health.Window, c.Health.Interval)
	}
	return nil
}
