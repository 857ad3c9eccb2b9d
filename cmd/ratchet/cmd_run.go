package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ratchet/internal/logging"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline workers until interrupted",
	Long: `Starts one polling worker per processing stage and the health monitor
pool, then blocks. SIGINT/SIGTERM stops claiming new work, waits for
in-flight monitors, and exits.`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	coord, err := buildCoordinator(cfg, store)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.New("cli").Info("ratchet running", "store", cfg.Store.Path)
	return coord.Run(ctx)
}
