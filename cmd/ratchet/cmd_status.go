package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"ratchet/internal/record"
)

var statusFlags struct {
	id string
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-stage counts, or one record's history with --id",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFlags.id, "id", "", "Record ID to inspect")
}

func runStatus(cmd *cobra.Command, _ []string) error {
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
	out := cmd.OutOrStdout()

	if statusFlags.id != "" {
		rec, err := store.GetRecord(ctx, statusFlags.id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Record:   %s\n", rec.ID)
		fmt.Fprintf(out, "Title:    %s\n", rec.Title)
		fmt.Fprintf(out, "Category: %s/%s (relevance %.2f)\n", rec.Category, rec.Type, rec.Relevance)
		fmt.Fprintf(out, "Status:   %s\n", rec.Status)
		if rec.Evaluation != nil {
			fmt.Fprintf(out, "Priority: %s (profile %s)\n", rec.Evaluation.Priority, rec.Evaluation.Profile)
		}
		if rec.Validation != nil {
			fmt.Fprintf(out, "Validation: passed=%v conflicts=%d\n", rec.Validation.Passed, len(rec.Validation.Conflicts))
			for _, c := range rec.Validation.Conflicts {
				fmt.Fprintf(out, "  conflict: %s (%s)\n", c.Kind, c.Ref)
			}
		}
		if rec.Decision != nil {
			fmt.Fprintf(out, "Decision: %s by rule %s: %s\n", rec.Decision.Outcome, rec.Decision.RuleID, rec.Decision.Reason)
		}
		if rec.ArtifactRef != "" {
			fmt.Fprintf(out, "Artifact: %s\n", rec.ArtifactRef)
		}
		if rec.Failure != nil {
			fmt.Fprintf(out, "Failure:  %s (stage %s, call %s, escalated %v)\n",
				rec.Failure.Reason, rec.Failure.LastStage, rec.Failure.Call, rec.Failure.Escalated)
		}
		fmt.Fprintf(out, "History:\n")
		for _, ts := range rec.Timestamps {
			fmt.Fprintf(out, "  %s  %s\n", ts.At.Format("2006-01-02 15:04:05"), ts.Stage)
		}
		return nil
	}

	counts, err := store.Counts(ctx)
	if err != nil {
		return err
	}
	flags, err := store.Flags(ctx)
	if err != nil {
		return err
	}
	for _, stage := range record.Stages {
		fmt.Fprintf(out, "%-15s %d\n", stage, counts[stage])
	}
	for name, on := range flags {
		if on {
			fmt.Fprintf(out, "override %s is ON\n", name)
		}
	}
	return nil
}
