package router

import (
	"context"
	"errors"
	"testing"

	"ratchet/internal/record"
)

// captureScorer records the profile it was called with and returns a
// canned evaluation.
type captureScorer struct {
	gotProfile Profile
	eval       record.Evaluation
	err        error
}

func (s *captureScorer) Score(_ context.Context, p Profile, _ *record.Record) (record.Evaluation, error) {
	s.gotProfile = p
	return s.eval, s.err
}

func TestEvaluateRoutesByCategory(t *testing.T) {
	tests := []struct {
		name         string
		category     record.Category
		wantProfile  string
		wantFallback bool
	}{
		{"security profile", record.CategorySecurity, "security-review", false},
		{"database profile", record.CategoryDatabase, "dba", false},
		{"monitoring profile", record.CategoryMonitoring, "observability", false},
		{"unknown category falls back", record.Category("quantum"), "generalist", true},
		{"capability has no entry, falls back", record.CategoryCapability, "generalist", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scorer := &captureScorer{eval: record.Evaluation{
				Feasibility: record.LevelHigh,
				Impact:      record.LevelMedium,
				Risk:        record.LevelLow,
				Effort:      record.LevelLow,
			}}
			r, err := New(scorer)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			rec := record.New("t", "title", "desc", tt.category, record.TypePattern, 0.8)
			ev, err := r.Evaluate(context.Background(), rec)
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if scorer.gotProfile.Name != tt.wantProfile {
				t.Errorf("scored under profile %q, want %q", scorer.gotProfile.Name, tt.wantProfile)
			}
			if ev.Profile != tt.wantProfile {
				t.Errorf("evaluation.Profile = %q, want %q", ev.Profile, tt.wantProfile)
			}
			if ev.Fallback != tt.wantFallback {
				t.Errorf("evaluation.Fallback = %v, want %v", ev.Fallback, tt.wantFallback)
			}
		})
	}
}

func TestEvaluateDiscardsScorerPriority(t *testing.T) {
	scorer := &captureScorer{eval: record.Evaluation{
		Feasibility: record.LevelHigh,
		Impact:      record.LevelHigh,
		Priority:    "P9", // scorer must not set the ranking
	}}
	r, err := New(scorer)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := record.New("t", "x", "y", record.CategoryArchitecture, record.TypeTechnique, 0.9)
	ev, err := r.Evaluate(context.Background(), rec)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if ev.Priority != "P1" {
		t.Errorf("priority = %q, want derived P1", ev.Priority)
	}
}

func TestEvaluatePropagatesScorerError(t *testing.T) {
	wantErr := errors.New("scoring service unavailable")
	r, err := New(&captureScorer{err: wantErr})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := record.New("t", "x", "y", record.CategorySecurity, record.TypeTool, 0.9)
	if _, err := r.Evaluate(context.Background(), rec); !errors.Is(err, wantErr) {
		t.Errorf("Evaluate error = %v, want wrapped scorer error", err)
	}
}

func TestDerivePriority(t *testing.T) {
	tests := []struct {
		feasibility, impact record.Level
		want                string
	}{
		{record.LevelHigh, record.LevelHigh, "P1"},
		{record.LevelHigh, record.LevelMedium, "P2"},
		{record.LevelMedium, record.LevelHigh, "P2"},
		{record.LevelMedium, record.LevelMedium, "P3"},
		{record.LevelLow, record.LevelHigh, "P3"},
		{record.LevelHigh, record.LevelLow, "P3"},
		{record.LevelLow, record.LevelMedium, "P4"},
		{record.LevelLow, record.LevelLow, "P4"},
	}
	for _, tt := range tests {
		if got := derivePriority(tt.feasibility, tt.impact); got != tt.want {
			t.Errorf("derivePriority(%s, %s) = %s, want %s", tt.feasibility, tt.impact, got, tt.want)
		}
	}
}
