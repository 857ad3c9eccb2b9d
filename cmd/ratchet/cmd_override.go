package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ratchet/internal/logging"
	"ratchet/internal/queue"
)

var overrideFlags struct {
	approveAll  string
	approveNone string
}

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Set or clear approval override flags",
	Long: `Flips the approve_all / approve_none override flags. Overrides take
effect on the next policy decision; records already past the validated
stage are unaffected.`,
	RunE: runOverride,
}

func init() {
	f := overrideCmd.Flags()
	f.StringVar(&overrideFlags.approveAll, "approve-all", "", "on or off")
	f.StringVar(&overrideFlags.approveNone, "approve-none", "", "on or off")
}

func runOverride(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := cmd.Context()

	changed := false
	for flag, value := range map[string]string{
		queue.FlagApproveAll:  overrideFlags.approveAll,
		queue.FlagApproveNone: overrideFlags.approveNone,
	} {
		if value == "" {
			continue
		}
		on, err := parseOnOff(value)
		if err != nil {
			return fmt.Errorf("--%s: %w", flag, err)
		}
		if err := store.SetFlag(ctx, flag, on); err != nil {
			return err
		}
		logging.New("cli").Warn("override flag changed", "flag", flag, "on", on)
		changed = true
	}
	if !changed {
		return fmt.Errorf("nothing to do: pass --approve-all or --approve-none")
	}

	flags, err := store.Flags(ctx)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "approve_all:  %v\n", flags[queue.FlagApproveAll])
	fmt.Fprintf(out, "approve_none: %v\n", flags[queue.FlagApproveNone])
	return nil
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("want on or off, got %q", s)
}
