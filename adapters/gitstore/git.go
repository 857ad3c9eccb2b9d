package gitstore

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Git drives a local clone of the configuration repository through the
// git CLI. The repository's own sequential commit history provides the
// consistency guarantee; this type never mutates concurrently-shared
// state beyond it.
type Git struct {
	dir string
	// Push controls whether commits and reverts are pushed to origin.
	// Off for local-only repositories and tests.
	Push bool
}

// NewGit returns a store over an existing clone at dir.
func NewGit(dir string) (*Git, error) {
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		return nil, fmt.Errorf("not a git repository: %s", dir)
	}
	return &Git{dir: dir}, nil
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", g.dir}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func (g *Git) Commit(ctx context.Context, path, content, message string) (string, error) {
	full := filepath.Join(g.dir, path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if _, err := g.run(ctx, "add", path); err != nil {
		return "", err
	}
	if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return "", err
	}
	ref, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	if g.Push {
		if _, err := g.run(ctx, "push"); err != nil {
			return "", err
		}
	}
	return ref, nil
}

func (g *Git) Revert(ctx context.Context, ref string) (string, error) {
	if _, err := g.run(ctx, "revert", "--no-edit", ref); err != nil {
		return "", err
	}
	newRef, err := g.run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	if g.Push {
		if _, err := g.run(ctx, "push"); err != nil {
			return "", err
		}
	}
	return newRef, nil
}

func (g *Git) FindCommit(ctx context.Context, marker string) (string, error) {
	out, err := g.run(ctx, "log", "--fixed-strings", "--grep", marker, "--format=%H", "-n", "1")
	if err != nil {
		return "", err
	}
	return out, nil
}
