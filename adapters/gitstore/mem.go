// Package gitstore implements the version-controlled configuration
// store collaborator: a git working tree driven through the git CLI,
// plus an in-memory implementation for tests.
package gitstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemCommit is one entry in the in-memory commit history.
type MemCommit struct {
	Ref     string
	Path    string
	Content string
	Message string
	// RevertOf is set when this commit reverts another.
	RevertOf string
}

// Mem is an in-memory ConfigStore for tests. Commit history is
// sequential, mirroring a real repository's single branch.
type Mem struct {
	mu      sync.Mutex
	commits []MemCommit
	files   map[string]string
	seq     int

	// FailCommits / FailReverts force errors for failure-path tests.
	FailCommits bool
	FailReverts bool
}

// NewMem returns an empty in-memory store.
func NewMem() *Mem {
	return &Mem{files: make(map[string]string)}
}

func (m *Mem) Commit(_ context.Context, path, content, message string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCommits {
		return "", fmt.Errorf("config store unreachable")
	}
	m.seq++
	ref := fmt.Sprintf("c%04d", m.seq)
	m.commits = append(m.commits, MemCommit{Ref: ref, Path: path, Content: content, Message: message})
	m.files[path] = content
	return ref, nil
}

func (m *Mem) Revert(_ context.Context, ref string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailReverts {
		return "", fmt.Errorf("config store unreachable")
	}
	for _, c := range m.commits {
		if c.Ref == ref {
			m.seq++
			newRef := fmt.Sprintf("c%04d", m.seq)
			m.commits = append(m.commits, MemCommit{
				Ref:      newRef,
				Path:     c.Path,
				Message:  "Revert " + c.Ref,
				RevertOf: c.Ref,
			})
			delete(m.files, c.Path)
			return newRef, nil
		}
	}
	return "", fmt.Errorf("revert %s: unknown ref", ref)
}

func (m *Mem) FindCommit(_ context.Context, marker string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Newest first, like git log.
	for i := len(m.commits) - 1; i >= 0; i-- {
		if strings.Contains(m.commits[i].Message, marker) {
			return m.commits[i].Ref, nil
		}
	}
	return "", nil
}

// Commits returns a copy of the history, oldest first.
func (m *Mem) Commits() []MemCommit {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MemCommit, len(m.commits))
	copy(out, m.commits)
	return out
}

// File returns the current content at path and whether it exists.
func (m *Mem) File(path string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.files[path]
	return c, ok
}
