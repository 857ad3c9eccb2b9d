package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"ratchet/internal/coordinator"
	"ratchet/internal/record"
)

var injectFlags struct {
	file     string
	approved string
	reviewer string
}

var injectCmd = &cobra.Command{
	Use:   "inject",
	Short: "Inject records at the raw stage, or promote a reviewed one",
	Long: `Reads improvement records from a YAML or JSON file (a single record or
a list) and enqueues them at the raw stage.

With --approved, promotes an existing pending_review record to approved
instead; --reviewer is required for the audit trail.`,
	RunE: runInject,
}

func init() {
	f := injectCmd.Flags()
	f.StringVarP(&injectFlags.file, "file", "f", "", "Record file (YAML or JSON)")
	f.StringVar(&injectFlags.approved, "approved", "", "Promote this pending_review record ID to approved")
	f.StringVar(&injectFlags.reviewer, "reviewer", "", "Reviewer name, required with --approved")
}

// recordSpec is the operator-facing injection format.
type recordSpec struct {
	Source      string  `yaml:"source" json:"source"`
	Title       string  `yaml:"title" json:"title"`
	Description string  `yaml:"description" json:"description"`
	Category    string  `yaml:"category" json:"category"`
	Type        string  `yaml:"type" json:"type"`
	Relevance   float64 `yaml:"relevance" json:"relevance"`
}

func runInject(cmd *cobra.Command, _ []string) error {
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

	if injectFlags.approved != "" {
		if injectFlags.reviewer == "" {
			return fmt.Errorf("--approved requires --reviewer")
		}
		rec, err := coordinator.Promote(ctx, store, injectFlags.approved, injectFlags.reviewer)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Promoted %s to approved (%s)\n", rec.ID, rec.Decision.Reason)
		return nil
	}

	if injectFlags.file == "" {
		return fmt.Errorf("either --file or --approved is required")
	}
	specs, err := loadSpecs(injectFlags.file)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		rec := record.New(spec.Source, spec.Title, spec.Description,
			record.Category(spec.Category), record.Type(spec.Type), spec.Relevance)
		if err := coordinator.Inject(ctx, store, rec); err != nil {
			return err
		}
		fmt.Fprintf(out, "Injected %s (%s/%s, relevance %.2f)\n", rec.ID, rec.Category, rec.Type, rec.Relevance)
	}
	return nil
}

// loadSpecs parses one record or a list from a YAML or JSON file.
func loadSpecs(path string) ([]recordSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	isJSON := strings.ToLower(filepath.Ext(path)) == ".json" ||
		strings.HasPrefix(strings.TrimSpace(string(data)), "{") ||
		strings.HasPrefix(strings.TrimSpace(string(data)), "[")

	var specs []recordSpec
	if isJSON {
		if err := json.Unmarshal(data, &specs); err == nil {
			return specs, nil
		}
		var one recordSpec
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, fmt.Errorf("parse records json: %w", err)
		}
		return []recordSpec{one}, nil
	}
	if err := yaml.Unmarshal(data, &specs); err == nil {
		return specs, nil
	}
	var one recordSpec
	if err := yaml.Unmarshal(data, &one); err != nil {
		return nil, fmt.Errorf("parse records yaml: %w", err)
	}
	return []recordSpec{one}, nil
}
