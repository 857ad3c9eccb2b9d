// Package router classifies a record's category, delegates scoring to
// the external collaborator under a category-specific profile, and
// derives priority centrally so the ranking rule stays auditable.
package router

import (
	"context"
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"ratchet/internal/logging"
	"ratchet/internal/record"
)

//go:embed profiles.yaml
var profilesYAML []byte

// Profile is one scoring persona. The scoring collaborator receives it
// opaquely; the router only keys the table by category.
type Profile struct {
	Category record.Category `yaml:"category"`
	Name     string          `yaml:"name"`
	Persona  string          `yaml:"persona"`
	Focus    string          `yaml:"focus"`
}

type profileFile struct {
	Profiles []Profile `yaml:"profiles"`
	Generic  Profile   `yaml:"generic"`
}

// Scorer is the external scoring collaborator. Errors are retryable at
// the Coordinator level. Any priority a scorer sets is discarded.
type Scorer interface {
	Score(ctx context.Context, profile Profile, rec *record.Record) (record.Evaluation, error)
}

// Router maps a record's category to a scoring profile and produces a
// structured evaluation. It writes nothing but the returned Evaluation.
type Router struct {
	scorer   Scorer
	profiles map[record.Category]Profile
	generic  Profile
}

// New builds a Router over the embedded profile table.
func New(scorer Scorer) (*Router, error) {
	var pf profileFile
	if err := yaml.Unmarshal(profilesYAML, &pf); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	if pf.Generic.Name == "" {
		return nil, fmt.Errorf("profiles: missing generic fallback entry")
	}
	table := make(map[record.Category]Profile, len(pf.Profiles))
	for _, p := range pf.Profiles {
		if p.Category == "" {
			return nil, fmt.Errorf("profiles: entry %q has no category", p.Name)
		}
		table[p.Category] = p
	}
	return &Router{scorer: scorer, profiles: table, generic: pf.Generic}, nil
}

// Evaluate scores the record under its category's profile, falling back
// to the generic profile for unknown categories.
func (r *Router) Evaluate(ctx context.Context, rec *record.Record) (record.Evaluation, error) {
	profile, ok := r.profiles[rec.Category]
	fallback := !ok
	if fallback {
		profile = r.generic
		logging.New("router").Warn("no profile for category, using generic",
			"record", rec.ID, "category", string(rec.Category))
	}

	ev, err := r.scorer.Score(ctx, profile, rec)
	if err != nil {
		return record.Evaluation{}, fmt.Errorf("score %s under %s: %w", rec.ID, profile.Name, err)
	}

	ev.Profile = profile.Name
	ev.Fallback = fallback
	// Priority is a design choice, not a scorer input.
	ev.Priority = derivePriority(ev.Feasibility, ev.Impact)
	return ev, nil
}

// derivePriority is the single ranking rule: feasibility x impact.
func derivePriority(feasibility, impact record.Level) string {
	key := [2]record.Level{feasibility, impact}
	switch key {
	case [2]record.Level{record.LevelHigh, record.LevelHigh}:
		return "P1"
	case [2]record.Level{record.LevelMedium, record.LevelHigh},
		[2]record.Level{record.LevelHigh, record.LevelMedium}:
		return "P2"
	case [2]record.Level{record.LevelMedium, record.LevelMedium},
		[2]record.Level{record.LevelLow, record.LevelHigh},
		[2]record.Level{record.LevelHigh, record.LevelLow}:
		return "P3"
	default:
		return "P4"
	}
}

// Profiles returns the category table, for status display.
func (r *Router) Profiles() map[record.Category]Profile {
	out := make(map[record.Category]Profile, len(r.profiles))
	for k, v := range r.profiles {
		out[k] = v
	}
	return out
}
