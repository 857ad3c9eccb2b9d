// ratchet drives improvement records through a one-way pipeline:
// raw -> categorized -> validated -> approved -> deployed -> verified,
// with human review and a dead-letter stage on the side.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"ratchet/internal/config"
	"ratchet/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	configPath string
}

var rootCmd = &cobra.Command{
	Use:   "ratchet",
	Short: "Autonomous change pipeline for improvement records",
	Long: "Ratchet takes improvement records from retrospection, scores them\n" +
		"against expert profiles, validates them for conflicts, applies an\n" +
		"approval policy, commits artifacts, and verifies deployments.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.configPath, "config", "", "Path to config file (YAML or JSON)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(injectCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(overrideCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.Version = version
}

// loadConfig reads the config file (or defaults) and applies logging.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if rootFlags.configPath != "" {
		loaded, err := config.LoadFromPath(rootFlags.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return config.Config{}, err
	}
	logging.Setup(level, cfg.Log.Format, nil)
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
