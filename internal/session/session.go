// Package session runs edit turns against a workspace and applies the
// edits a user accepts.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sokinpui/streamedit/internal/coordinator"
	"github.com/sokinpui/streamedit/internal/diff"
	"github.com/sokinpui/streamedit/internal/expander"
	"github.com/sokinpui/streamedit/internal/fs"
	"github.com/sokinpui/streamedit/internal/logging"
	"github.com/sokinpui/streamedit/internal/outcome"
	"github.com/sokinpui/streamedit/internal/state"
	"github.com/sokinpui/streamedit/internal/transport"
	"github.com/sokinpui/streamedit/model"
)

var (
	ErrEmptySelection = errors.New("no edits selected")
	ErrNotReady       = errors.New("no edits are ready to apply")
	ErrUnknownEdit    = errors.New("unknown edit id")
	ErrNoPlan         = errors.New("nothing to retry")
	ErrNoTurn         = errors.New("no turn has been started")
)

// Filesystem is the read/write collaborator edits are applied through.
type Filesystem interface {
	Read(path string) (string, bool, error)
	Write(path, content string) error
}

// Expander serves instructions without a model call when it can.
type Expander interface {
	Expand(ctx context.Context, instruction string) (expander.Result, error)
}

// Deps are the collaborators a session uses. Workspace is required; the
// rest default to the workspace itself, no expansion and an in-memory
// journal.
type Deps struct {
	Workspace  *fs.Workspace
	Transport  transport.Transport
	Filesystem Filesystem
	Expander   Expander
	Journal    state.Journal
	Logger     *logging.Logger
}

// Config tunes a session.
type Config struct {
	// WriteDelay separates successive file writes within one Accept.
	WriteDelay  time.Duration
	Coordinator coordinator.Config
	Diff        diff.Options
	// OnProgress is called after each file write.
	OnProgress func(done, total int, path string)
}

// DefaultConfig returns the settings used by the CLI.
func DefaultConfig() Config {
	return Config{
		WriteDelay:  15 * time.Millisecond,
		Coordinator: coordinator.DefaultConfig(),
	}
}

// Plan is the reusable part of a request: the intent and the files it
// targets, independent of any response.
type Plan struct {
	Intent string
	Files  []string
}

// StartResult describes how Start served an instruction.
type StartResult struct {
	Expanded     bool
	MatchedFiles []string
	Plan         Plan
}

const fixSyntaxPreamble = "Fix syntax errors only. Do not change behavior and do not expand the scope of the change."

// Session owns one coordinator and the state of the current request.
type Session struct {
	id    string
	deps  Deps
	cfg   Config
	coord *coordinator.Coordinator
	log   *logging.Logger

	mu          sync.Mutex
	instruction string
	plan        *Plan
	expanded    *model.AgentState
	selected    map[string]bool
	outcome     *model.ExecutionOutcome
	started     bool
	cancelTurn  context.CancelFunc
	turnDone    chan struct{}
}

// New creates an idle session.
func New(deps Deps, cfg Config) (*Session, error) {
	if deps.Workspace == nil {
		return nil, errors.New("session requires a workspace")
	}
	if deps.Filesystem == nil {
		deps.Filesystem = deps.Workspace
	}
	if deps.Journal == nil {
		deps.Journal = state.NewMemory()
	}
	return &Session{
		id:       uuid.NewString(),
		deps:     deps,
		cfg:      cfg,
		coord:    coordinator.New(cfg.Coordinator, deps.Logger),
		log:      deps.Logger,
		selected: make(map[string]bool),
	}, nil
}

// ID identifies the session in the timeline.
func (s *Session) ID() string { return s.id }

// Start serves instruction, deterministically when the expander can and
// otherwise with a streaming turn narrowed to the files the expander matched.
func (s *Session) Start(ctx context.Context, instruction string) (StartResult, error) {
	if s.busy() {
		return StartResult{}, coordinator.ErrTurnInProgress
	}
	s.mu.Lock()
	s.instruction = instruction
	s.mu.Unlock()

	var res expander.Result
	if s.deps.Expander != nil {
		var err error
		res, err = s.deps.Expander.Expand(ctx, instruction)
		if err != nil {
			return StartResult{}, fmt.Errorf("expand instruction: %w", err)
		}
	}
	plan := Plan{Intent: instruction, Files: res.MatchedFiles}

	if res.WasExpanded {
		s.stopTurn()
		if err := s.coord.Reset(); err != nil {
			return StartResult{}, err
		}
		edits := s.markNew(res.Edits)
		s.mu.Lock()
		s.plan = &plan
		s.expanded = &model.AgentState{Kind: model.StateReady, Edits: edits}
		s.outcome = nil
		s.started = false
		s.selected = make(map[string]bool)
		s.mu.Unlock()
		s.log.Info("instruction expanded into %d edits", len(edits))
		s.record(ctx, state.NewEntry(s.id, state.KindExpanded, fmt.Sprintf("%s (%d files)", instruction, len(edits))))
		return StartResult{Expanded: true, MatchedFiles: res.MatchedFiles, Plan: plan}, nil
	}
	if res.Reason != "" {
		s.log.Debug("not expanded: %s", res.Reason)
	}

	s.mu.Lock()
	s.plan = &plan
	s.mu.Unlock()
	if err := s.runTurn(ctx, transport.Request{Prompt: instruction, Files: plan.Files}, state.KindTurnStarted); err != nil {
		return StartResult{}, err
	}
	return StartResult{MatchedFiles: res.MatchedFiles, Plan: plan}, nil
}

// runTurn starts a fresh streaming turn. Nothing from a previous response
// survives into it.
func (s *Session) runTurn(ctx context.Context, req transport.Request, kind state.Kind) error {
	if s.deps.Transport == nil {
		return errors.New("session has no transport")
	}
	if s.busy() {
		return coordinator.ErrTurnInProgress
	}
	// The previous turn has ended; wait for its goroutine so it cannot act
	// on the new one.
	s.stopTurn()
	if err := s.coord.StartTurn(); err != nil {
		return err
	}

	turnCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.mu.Lock()
	s.expanded = nil
	s.outcome = nil
	s.selected = make(map[string]bool)
	s.started = true
	s.cancelTurn = cancel
	s.turnDone = done
	s.mu.Unlock()

	s.record(ctx, state.NewEntry(s.id, kind, req.Prompt))

	go func() {
		defer close(done)
		defer cancel()
		err := s.deps.Transport.Stream(turnCtx, req, func(fragment string) {
			if appendErr := s.coord.Append(fragment); appendErr != nil {
				s.log.Debug("fragment dropped: %v", appendErr)
			}
		})
		switch {
		case err == nil:
			err = s.coord.Complete()
		case errors.Is(err, context.Canceled):
			err = s.coord.Cancel()
		default:
			s.log.Error("transport failed: %v", err)
			err = s.coord.Fail(err)
		}
		if err != nil && !errors.Is(err, coordinator.ErrNotStreaming) && !errors.Is(err, coordinator.ErrClosed) {
			s.log.Error("failed to finish turn: %v", err)
		}
		final := s.coord.State()
		s.record(context.WithoutCancel(ctx), state.NewEntry(s.id, state.KindTurnFinished, final.String()))
	}()
	return nil
}

// Wait blocks until the current request has a terminal state.
func (s *Session) Wait(ctx context.Context) (model.AgentState, error) {
	s.mu.Lock()
	expanded, started, done := s.expanded, s.started, s.turnDone
	s.mu.Unlock()
	if expanded != nil {
		return *expanded, nil
	}
	if !started {
		return s.coord.State(), ErrNoTurn
	}
	st, err := s.coord.Wait(ctx)
	if err != nil {
		return st, err
	}
	// The turn goroutine records the finished turn right after the last
	// transition.
	select {
	case <-done:
	case <-ctx.Done():
		return st, ctx.Err()
	}
	return st, nil
}

// State returns the current agent state.
func (s *Session) State() model.AgentState {
	s.mu.Lock()
	expanded := s.expanded
	s.mu.Unlock()
	if expanded != nil {
		return *expanded
	}
	return s.coord.State()
}

// Snapshot exposes the live coordinator state for presentation.
func (s *Session) Snapshot() coordinator.Snapshot {
	snap := s.coord.Snapshot()
	s.mu.Lock()
	if s.expanded != nil {
		snap.State = *s.expanded
		snap.Files = append([]model.FileEdit(nil), s.expanded.Edits...)
	}
	s.mu.Unlock()
	return snap
}

// Subscribe forwards coordinator events.
func (s *Session) Subscribe() (<-chan coordinator.Event, func()) {
	return s.coord.Subscribe()
}

// Edits returns the file edits parsed so far, or the final ones once ready.
func (s *Session) Edits() []model.FileEdit {
	st := s.State()
	if st.Kind == model.StateReady {
		return s.markNew(st.Edits)
	}
	return s.markNew(s.coord.Snapshot().Files)
}

// Commands returns the shell commands parsed so far.
func (s *Session) Commands() []model.CommandEdit {
	s.mu.Lock()
	expanded := s.expanded != nil
	s.mu.Unlock()
	if expanded {
		return nil
	}
	return s.coord.Snapshot().Commands
}

// markNew copies edits and sets IsNew for paths that do not exist yet.
func (s *Session) markNew(edits []model.FileEdit) []model.FileEdit {
	out := make([]model.FileEdit, len(edits))
	for i, e := range edits {
		if _, exists, err := s.deps.Filesystem.Read(e.Path); err == nil {
			e.IsNew = !exists
		}
		out[i] = e
	}
	return out
}

// Preview diffs an edit against the file currently on disk.
func (s *Session) Preview(edit model.FileEdit) ([]model.DiffRecord, error) {
	content, exists, err := s.deps.Filesystem.Read(edit.Path)
	if err != nil {
		return nil, err
	}
	var original *string
	if exists {
		original = &content
	}
	return diff.GenerateWith(s.cfg.Diff, original, edit.Content), nil
}

func (s *Session) readyEdits() (map[string]model.FileEdit, error) {
	st := s.State()
	if st.Kind != model.StateReady {
		return nil, ErrNotReady
	}
	byID := make(map[string]model.FileEdit, len(st.Edits))
	for _, e := range st.Edits {
		byID[e.ID] = e
	}
	return byID, nil
}

// Select adds an edit to the selection.
func (s *Session) Select(id string) error {
	byID, err := s.readyEdits()
	if err != nil {
		return err
	}
	if _, ok := byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEdit, id)
	}
	s.mu.Lock()
	s.selected[id] = true
	s.mu.Unlock()
	return nil
}

// Deselect removes an edit from the selection.
func (s *Session) Deselect(id string) {
	s.mu.Lock()
	delete(s.selected, id)
	s.mu.Unlock()
}

// SelectAll selects every ready edit.
func (s *Session) SelectAll() error {
	byID, err := s.readyEdits()
	if err != nil {
		return err
	}
	s.mu.Lock()
	for id := range byID {
		s.selected[id] = true
	}
	s.mu.Unlock()
	return nil
}

// Selected returns the selected edit ids in order.
func (s *Session) Selected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fs.SortedKeys(s.selected)
}

// AcceptSelected applies the current selection.
func (s *Session) AcceptSelected(ctx context.Context) (model.ExecutionOutcome, error) {
	return s.Accept(ctx, s.Selected())
}

// Accept writes the edits named by ids, one file at a time, and verifies
// the result by comparing file contents before and after. A failed write
// does not undo files already written.
func (s *Session) Accept(ctx context.Context, ids []string) (model.ExecutionOutcome, error) {
	if len(ids) == 0 {
		return model.ExecutionOutcome{}, ErrEmptySelection
	}
	byID, err := s.readyEdits()
	if err != nil {
		return model.ExecutionOutcome{}, err
	}
	edits := make([]model.FileEdit, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		e, ok := byID[id]
		if !ok {
			return model.ExecutionOutcome{}, fmt.Errorf("%w: %s", ErrUnknownEdit, id)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		edits = append(edits, e)
	}
	sort.Slice(edits, func(i, j int) bool { return edits[i].Path < edits[j].Path })

	paths := make([]string, len(edits))
	for i, e := range edits {
		paths[i] = e.Path
	}
	tracker, err := outcome.Begin(s.deps.Filesystem, paths)
	if err != nil {
		return model.ExecutionOutcome{}, err
	}
	actions := make(map[string]string, len(paths))
	for _, p := range paths {
		if _, existed := tracker.Before(p); existed {
			actions[p] = state.ActionModify
		} else {
			actions[p] = state.ActionCreate
		}
	}

	var cancelled error
	for i, e := range edits {
		if cancelled == nil && i > 0 && s.cfg.WriteDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.cfg.WriteDelay):
			}
		}
		if cancelled == nil {
			cancelled = ctx.Err()
		}
		if cancelled != nil {
			tracker.Fail(e.Path, fmt.Errorf("not written: %w", cancelled))
		} else if err := s.deps.Filesystem.Write(e.Path, e.Content); err != nil {
			s.log.Error("write %s: %v", e.Path, err)
			tracker.Fail(e.Path, err)
		} else {
			s.log.Debug("wrote %s (%d bytes)", e.Path, len(e.Content))
		}
		if s.cfg.OnProgress != nil {
			s.cfg.OnProgress(i+1, len(edits), e.Path)
		}
	}

	out := tracker.Finish(s.deps.Filesystem)
	s.mu.Lock()
	s.outcome = &out
	for id := range seen {
		delete(s.selected, id)
	}
	s.mu.Unlock()

	entry := state.NewEntry(s.id, state.KindAccepted, summarize(out, len(edits)))
	entry.Operations = state.CreateOperations(s.deps.Workspace, paths, actions, out.PerFileDelta)
	s.record(context.WithoutCancel(ctx), entry)

	if cancelled != nil {
		return out, cancelled
	}
	return out, nil
}

func summarize(out model.ExecutionOutcome, total int) string {
	changed := 0
	for _, c := range out.PerFileDelta {
		if c {
			changed++
		}
	}
	if !out.ChangesApplied {
		return "no changes: " + out.NoOpExplanation
	}
	if len(out.Failures) > 0 {
		return fmt.Sprintf("changed %d of %d files, %d failed", changed, total, len(out.Failures))
	}
	return fmt.Sprintf("changed %d of %d files", changed, total)
}

// Reject discards every pending edit without touching the workspace.
func (s *Session) Reject(ctx context.Context) error {
	s.stopTurn()
	if err := s.coord.Reset(); err != nil {
		return err
	}
	s.mu.Lock()
	s.expanded = nil
	s.outcome = nil
	s.started = false
	s.selected = make(map[string]bool)
	s.mu.Unlock()
	s.record(ctx, state.NewEntry(s.id, state.KindRejected, ""))
	return nil
}

// Retry re-issues the planned intent as a fresh turn.
func (s *Session) Retry(ctx context.Context) error {
	s.mu.Lock()
	plan := s.plan
	s.mu.Unlock()
	if plan == nil {
		return ErrNoPlan
	}
	return s.runTurn(ctx, transport.Request{Prompt: plan.Intent, Files: plan.Files}, state.KindRetried)
}

// ReuseIntent starts a new session that carries over only intent.
func (s *Session) ReuseIntent(ctx context.Context, intent string) (*Session, error) {
	next, err := New(s.deps, s.cfg)
	if err != nil {
		return nil, err
	}
	if _, err := next.Start(ctx, intent); err != nil {
		next.Close()
		return nil, err
	}
	return next, nil
}

// FixSyntaxAndRetry asks for a syntax-only fix of the files in play.
func (s *Session) FixSyntaxAndRetry(ctx context.Context, intent string) error {
	files := make([]string, 0)
	for _, e := range s.Edits() {
		files = append(files, e.Path)
	}
	if len(files) == 0 {
		s.mu.Lock()
		if s.plan != nil {
			files = append(files, s.plan.Files...)
		}
		s.mu.Unlock()
	}
	return s.runTurn(ctx, transport.Request{Prompt: FixSyntaxPrompt(intent), Files: files}, state.KindFixSyntaxRetry)
}

// FixSyntaxPrompt narrows intent to a syntax-only fix.
func FixSyntaxPrompt(intent string) string {
	return fixSyntaxPreamble + "\n\nOriginal request: " + intent
}

// Cancel stops an in-flight turn. Text and edits parsed so far stay
// available.
func (s *Session) Cancel() error {
	s.mu.Lock()
	cancel := s.cancelTurn
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if k := s.coord.State().Kind; k.Terminal() || !s.hasTurn() {
		return nil
	}
	return s.coord.Cancel()
}

// busy reports whether a turn is still running.
func (s *Session) busy() bool {
	s.mu.Lock()
	done := s.turnDone
	s.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
	}
	return !s.coord.State().Kind.Terminal()
}

func (s *Session) hasTurn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && s.expanded == nil
}

// stopTurn cancels a running turn and waits for its goroutine.
func (s *Session) stopTurn() {
	s.mu.Lock()
	cancel, done := s.cancelTurn, s.turnDone
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if s.hasTurn() && !s.coord.State().Kind.Terminal() {
		// The turn may finish between the check and the cancel.
		if err := s.coord.Cancel(); err != nil {
			s.log.Debug("cancel turn: %v", err)
		}
	}
	if done != nil {
		<-done
	}
}

// Complete reports whether the last Accept verifiably changed a file.
func (s *Session) Complete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome != nil && s.outcome.ChangesApplied
}

// Outcome returns the result of the last Accept.
func (s *Session) Outcome() (model.ExecutionOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == nil {
		return model.ExecutionOutcome{}, false
	}
	return *s.outcome, true
}

// Status is the line a presentation layer shows for the session.
func (s *Session) Status() string {
	out, ok := s.Outcome()
	if !ok {
		return s.State().Presentation()
	}
	if !out.ChangesApplied {
		return "No changes applied: " + out.NoOpExplanation
	}
	changed := 0
	for _, c := range out.PerFileDelta {
		if c {
			changed++
		}
	}
	if len(out.Failures) > 0 {
		return fmt.Sprintf("Applied changes to %d files; %d failed.", changed, len(out.Failures))
	}
	if changed == 1 {
		return "Applied changes to 1 file."
	}
	return fmt.Sprintf("Applied changes to %d files.", changed)
}

// Timeline lists the session's recorded events.
func (s *Session) Timeline(ctx context.Context) ([]state.Entry, error) {
	return s.deps.Journal.List(ctx, s.id)
}

func (s *Session) record(ctx context.Context, e state.Entry) {
	if err := s.deps.Journal.Record(ctx, e); err != nil {
		s.log.Error("failed to record %s: %v", e.Kind, err)
	}
}

// Close stops any running turn and the coordinator.
func (s *Session) Close() {
	s.stopTurn()
	s.coord.Close()
}
