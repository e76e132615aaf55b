// Package state records the timeline of every edit session.
package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sokinpui/streamedit/internal/fs"
)

// Kind names a timeline event.
type Kind string

const (
	KindTurnStarted    Kind = "turn_started"
	KindTurnFinished   Kind = "turn_finished"
	KindExpanded       Kind = "expanded"
	KindAccepted       Kind = "accepted"
	KindRejected       Kind = "rejected"
	KindRetried        Kind = "retried"
	KindFixSyntaxRetry Kind = "fix_syntax_retry"
)

// File actions.
const (
	ActionCreate = "create"
	ActionModify = "modify"
)

// Operation represents a single file write within an accepted batch.
type Operation struct {
	Path        string
	Action      string
	ContentHash string // SHA256 of the file content after the write
	Changed     bool
}

// Entry is one timeline event.
type Entry struct {
	ID         string
	SessionID  string
	Kind       Kind
	Detail     string
	Operations []Operation
	CreatedAt  time.Time
}

// Journal stores timeline entries.
type Journal interface {
	Record(ctx context.Context, e Entry) error
	// List returns a session's entries oldest first. An empty sessionID lists
	// every session.
	List(ctx context.Context, sessionID string) ([]Entry, error)
	Close() error
}

// NewEntry fills in an ID and timestamp.
func NewEntry(sessionID string, kind Kind, detail string) Entry {
	return Entry{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Kind:      kind,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
}

// CreateOperations builds the operations for an applied batch. Hashes are
// taken from the workspace after the write; a file that cannot be hashed gets
// an empty hash.
func CreateOperations(ws *fs.Workspace, paths []string, actions map[string]string, changed map[string]bool) []Operation {
	ops := make([]Operation, 0, len(paths))
	for _, p := range paths {
		var hash string
		if abs, err := ws.Resolve(p); err == nil {
			hash, _ = fs.GetFileSHA256(abs)
		}
		action := actions[p]
		if action == "" {
			action = ActionModify
		}
		ops = append(ops, Operation{
			Path:        p,
			Action:      action,
			ContentHash: hash,
			Changed:     changed[p],
		})
	}
	sort.Slice(ops, func(i, j int) bool {
		return ops[i].Path < ops[j].Path
	})
	return ops
}

// Memory is an in-process Journal.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemory returns an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Operations = append([]Operation(nil), e.Operations...)
	m.entries = append(m.entries, e)
	return nil
}

func (m *Memory) List(_ context.Context, sessionID string) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Entry
	for _, e := range m.entries {
		if sessionID == "" || e.SessionID == sessionID {
			e.Operations = append([]Operation(nil), e.Operations...)
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) Close() error { return nil }
