// Package artifact turns an approved record into a deployable artifact
// and commits it to the version-controlled configuration store. Commits
// carry the full audit trail (record id, source, relevance, verbatim
// approval reason) and implement() is idempotent per record id.
package artifact

import (
	"context"
	"fmt"
	"path"
	"strings"

	"ratchet/internal/logging"
	"ratchet/internal/record"
)

// ConfigStore is the version-controlled configuration store
// collaborator. FindCommit looks up a prior commit whose message
// contains marker; it returns "" (no error) when none exists.
type ConfigStore interface {
	Commit(ctx context.Context, path, content, message string) (ref string, err error)
	Revert(ctx context.Context, ref string) (newRef string, err error)
	FindCommit(ctx context.Context, marker string) (ref string, err error)
}

// Worker renders category templates and commits them.
type Worker struct {
	store ConfigStore
	// BaseDir is the repository subtree artifacts are written under.
	BaseDir string
}

// NewWorker returns a Worker committing under baseDir.
func NewWorker(store ConfigStore, baseDir string) *Worker {
	if baseDir == "" {
		baseDir = "artifacts"
	}
	return &Worker{store: store, BaseDir: baseDir}
}

// idMarker is the line embedded in every commit message and used for
// the idempotency lookup.
func idMarker(id string) string { return "record-id: " + id }

// Implement renders the record's artifact and commits it, returning the
// commit ref. A retried call for a record that already has a commit
// returns the existing ref without rendering or committing again.
func (w *Worker) Implement(ctx context.Context, rec *record.Record) (string, error) {
	if rec.Decision == nil || rec.Decision.Outcome != record.OutcomeApproved {
		return "", fmt.Errorf("record %s is not approved", rec.ID)
	}

	existing, err := w.store.FindCommit(ctx, idMarker(rec.ID))
	if err != nil {
		return "", fmt.Errorf("look up prior commit for %s: %w", rec.ID, err)
	}
	if existing != "" {
		logging.New("artifact").Info("reusing prior commit",
			"record", rec.ID, "ref", existing)
		return existing, nil
	}

	tmpl := templateFor(rec.Category)
	content, err := tmpl.render(rec)
	if err != nil {
		return "", fmt.Errorf("render %s artifact for %s: %w", tmpl.kind, rec.ID, err)
	}

	file := path.Join(w.BaseDir, string(rec.Category), slug(rec.Title)+tmpl.ext)
	message := commitMessage(rec, tmpl.kind)

	ref, err := w.store.Commit(ctx, file, content, message)
	if err != nil {
		return "", fmt.Errorf("commit artifact for %s: %w", rec.ID, err)
	}
	logging.New("artifact").Info("artifact committed",
		"record", rec.ID, "kind", tmpl.kind, "path", file, "ref", ref)
	return ref, nil
}

// commitMessage embeds the audit trail: id, source, relevance, and the
// approval reason verbatim.
func commitMessage(rec *record.Record, kind string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n\n", kind, rec.Title)
	fmt.Fprintf(&b, "%s\n", idMarker(rec.ID))
	fmt.Fprintf(&b, "source: %s\n", rec.Source)
	fmt.Fprintf(&b, "relevance: %.2f\n", rec.Relevance)
	fmt.Fprintf(&b, "approval: %s\n", rec.Decision.Reason)
	return b.String()
}

// slug derives a filesystem-safe name from a title.
func slug(title string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(title) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
