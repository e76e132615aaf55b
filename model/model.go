package model

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// editNamespace scopes the name-based UUIDs used as FileEdit IDs.
var editNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("streamedit:file-edit"))

// EditID returns the stable ID for an edit to the given clean path.
func EditID(path string) string {
	return uuid.NewSHA1(editNamespace, []byte(path)).String()
}

// FileEdit is a proposed full-content replacement for one workspace file.
type FileEdit struct {
	// ID is derived from the cleaned path, so the same path always maps to
	// the same ID regardless of arrival order.
	ID string
	// Path is workspace-relative and never contains parent traversal.
	Path    string
	Content string
	// IsStreaming is true while the closing marker has not been seen.
	IsStreaming bool
	IsNew       bool
}

// CommandEdit is a shell line proposed by the model.
type CommandEdit struct {
	Command     string
	Description string
	// IsDestructive is advisory and only gates a confirmation prompt.
	IsDestructive bool
}

// DiffKind tags a single line of a preview diff.
type DiffKind int

const (
	DiffUnchanged DiffKind = iota
	DiffAdded
	DiffRemoved
	// DiffModified is reserved for renderers that collapse a removed/added pair.
	DiffModified
)

func (k DiffKind) String() string {
	switch k {
	case DiffUnchanged:
		return "unchanged"
	case DiffAdded:
		return "added"
	case DiffRemoved:
		return "removed"
	case DiffModified:
		return "modified"
	default:
		return fmt.Sprintf("DiffKind(%d)", int(k))
	}
}

// DiffRecord is one line of a preview diff. LineNumber is 1-based and 0 when
// the line has no position to show.
type DiffRecord struct {
	LineNumber int
	Content    string
	Kind       DiffKind
}

// OutcomeKind classifies a completed model response.
type OutcomeKind int

const (
	OutcomeValid OutcomeKind = iota
	OutcomeNoOp
	OutcomeInvalidFormat
	OutcomeSilentFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeValid:
		return "valid"
	case OutcomeNoOp:
		return "noOp"
	case OutcomeInvalidFormat:
		return "invalidFormat"
	case OutcomeSilentFailure:
		return "silentFailure"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// ValidationOutcome is computed once per completed response.
type ValidationOutcome struct {
	Kind   OutcomeKind
	Reason string
}

func (o ValidationOutcome) String() string {
	if o.Reason == "" {
		return o.Kind.String()
	}
	return fmt.Sprintf("%s(%s)", o.Kind, o.Reason)
}

// StateKind enumerates the agent state machine.
type StateKind int

const (
	StateIdle StateKind = iota
	StateStreaming
	StateValidating
	StateBlocked
	StateEmpty
	StateReady
)

func (k StateKind) String() string {
	switch k {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateValidating:
		return "validating"
	case StateBlocked:
		return "blocked"
	case StateEmpty:
		return "empty"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("StateKind(%d)", int(k))
	}
}

// Terminal reports whether the state ends a turn.
func (k StateKind) Terminal() bool {
	return k == StateBlocked || k == StateEmpty || k == StateReady
}

// AgentState is the single current state of a turn. Reason is set for
// blocked, Edits for ready.
type AgentState struct {
	Kind   StateKind
	Reason string
	Edits  []FileEdit
}

// Presentation returns the non-blank text a consumer renders for the state.
func (s AgentState) Presentation() string {
	switch s.Kind {
	case StateIdle:
		return "Waiting for a new turn."
	case StateStreaming:
		return "Generating changes..."
	case StateValidating:
		return "Validating response..."
	case StateBlocked:
		if s.Reason == "" {
			return "Blocked."
		}
		return "Blocked: " + s.Reason
	case StateEmpty:
		return "No changes needed."
	case StateReady:
		if len(s.Edits) == 0 {
			return "Commands ready to review."
		}
		if len(s.Edits) == 1 {
			return "1 file ready to apply."
		}
		return fmt.Sprintf("%d files ready to apply.", len(s.Edits))
	default:
		return "Unknown state."
	}
}

func (s AgentState) String() string {
	switch s.Kind {
	case StateBlocked:
		return fmt.Sprintf("blocked(%s)", s.Reason)
	case StateReady:
		paths := make([]string, len(s.Edits))
		for i, e := range s.Edits {
			paths[i] = e.Path
		}
		return fmt.Sprintf("ready(%s)", strings.Join(paths, ", "))
	default:
		return s.Kind.String()
	}
}

// ExecutionOutcome proves whether an applied edit set changed anything.
type ExecutionOutcome struct {
	ChangesApplied  bool
	NoOpExplanation string
	// PerFileDelta maps each touched path to whether its content changed.
	PerFileDelta map[string]bool
	// Failures maps a path to the write error reported for it.
	Failures map[string]string
}

// Summary holds the results of an operation for display.
type Summary struct {
	Created  []string
	Modified []string
	Failed   []string
	Message  string
}
