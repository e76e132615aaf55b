// Package outcome proves by content comparison whether applied edits changed
// the workspace.
package outcome

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sokinpui/streamedit/internal/fs"
	"github.com/sokinpui/streamedit/model"
)

// Validate compares before and after snapshots of the applied paths. A path
// absent from a snapshot did not exist at that point.
func Validate(applied []string, before, after map[string]string) model.ExecutionOutcome {
	out := model.ExecutionOutcome{PerFileDelta: make(map[string]bool, len(applied))}
	for _, path := range applied {
		changed := changedContent(before, after, path)
		out.PerFileDelta[path] = changed
		if changed {
			out.ChangesApplied = true
		}
	}
	if !out.ChangesApplied {
		out.NoOpExplanation = explain(applied, before, after, nil)
	}
	return out
}

func changedContent(before, after map[string]string, path string) bool {
	b, existed := before[path]
	a, exists := after[path]
	if !existed {
		return exists && a != ""
	}
	return !exists || a != b
}

func explain(applied []string, before, after map[string]string, failures map[string]string) string {
	if len(applied) == 0 {
		return "no edits were applied"
	}
	if len(failures) == len(applied) {
		return fmt.Sprintf("no file could be written or verified: %s", strings.Join(fs.SortedKeys(failures), ", "))
	}
	var emptyNew []string
	for _, path := range applied {
		if _, failed := failures[path]; failed {
			continue
		}
		if _, existed := before[path]; !existed && after[path] == "" {
			emptyNew = append(emptyNew, path)
		}
	}
	sort.Strings(emptyNew)
	switch {
	case len(emptyNew) > 0 && len(emptyNew)+len(failures) == len(applied):
		return fmt.Sprintf("generated content for new file %s was empty", strings.Join(emptyNew, ", "))
	case len(applied) == 1:
		return "generated content identical to existing file"
	default:
		return "generated content identical to existing files"
	}
}

// Tracker records one apply: a snapshot before the first write, the write
// failures, and a snapshot after the last write.
type Tracker struct {
	mu       sync.Mutex
	paths    []string
	before   map[string]string
	failures map[string]string
}

// Begin snapshots paths through r before anything is written.
func Begin(r fs.Reader, paths []string) (*Tracker, error) {
	before, err := fs.Snapshot(r, paths)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot files before apply: %w", err)
	}
	return &Tracker{
		paths:    append([]string(nil), paths...),
		before:   before,
		failures: make(map[string]string),
	}, nil
}

// Fail records a write error for path.
func (t *Tracker) Fail(path string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[path] = err.Error()
}

// Before returns the content of path before the apply and whether it existed.
func (t *Tracker) Before(path string) (string, bool) {
	content, ok := t.before[path]
	return content, ok
}

// Finish snapshots the paths again and builds the outcome. A path whose
// write failed, or whose content cannot be read back, never counts as
// changed.
func (t *Tracker) Finish(r fs.Reader) model.ExecutionOutcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	failures := make(map[string]string, len(t.failures))
	for k, v := range t.failures {
		failures[k] = v
	}
	after := make(map[string]string, len(t.paths))
	for _, path := range t.paths {
		content, ok, err := r.Read(path)
		if err != nil {
			if _, failed := failures[path]; !failed {
				failures[path] = "could not verify: " + err.Error()
			}
			continue
		}
		if ok {
			after[path] = content
		}
	}

	out := model.ExecutionOutcome{PerFileDelta: make(map[string]bool, len(t.paths))}
	for _, path := range t.paths {
		changed := changedContent(t.before, after, path)
		if _, failed := failures[path]; failed {
			changed = false
		}
		out.PerFileDelta[path] = changed
		if changed {
			out.ChangesApplied = true
		}
	}
	if len(failures) > 0 {
		out.Failures = failures
	}
	if !out.ChangesApplied {
		out.NoOpExplanation = explain(t.paths, t.before, after, failures)
	}
	return out
}
