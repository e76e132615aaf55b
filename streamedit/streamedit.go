package streamedit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sokinpui/streamedit/cli"
	"github.com/sokinpui/streamedit/internal/diff"
	"github.com/sokinpui/streamedit/internal/expander"
	"github.com/sokinpui/streamedit/internal/fs"
	"github.com/sokinpui/streamedit/internal/logging"
	"github.com/sokinpui/streamedit/internal/nvim"
	"github.com/sokinpui/streamedit/internal/session"
	"github.com/sokinpui/streamedit/internal/source"
	"github.com/sokinpui/streamedit/internal/state"
	"github.com/sokinpui/streamedit/internal/transport"
	"github.com/sokinpui/streamedit/internal/tui"
	"github.com/sokinpui/streamedit/internal/ui"
	"github.com/sokinpui/streamedit/model"
)

var (
	// ErrBlocked is returned when a turn ends without usable edits.
	ErrBlocked = errors.New("turn blocked")

	errReadResponse = errors.New("could not read the response")
)

// ProgressUpdate is a callback function to report progress.
type ProgressUpdate func(current, total int)

// App orchestrates the entire application logic.
type App struct {
	cfg     *cli.Config
	ws      *fs.Workspace
	log     *logging.Logger
	journal state.Journal
	nvim    *nvim.Manager
	session *session.Session

	read             func() (string, error)
	liveView         func(s *session.Session) error
	confirm          func(question string) (bool, error)
	out              io.Writer
	quiet            bool
	progressCallback ProgressUpdate
}

// DetailedError enhances a standard error with a stack trace.
type DetailedError struct {
	Err   error
	Stack []byte
}

func (e *DetailedError) Error() string {
	return e.Err.Error()
}

func (e *DetailedError) Unwrap() error {
	return e.Err
}

// New creates a new App instance.
func New(ctx context.Context, cfg *cli.Config) (*App, error) {
	dir := cfg.Root
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}
	root, err := fs.FindRoot(dir)
	if err != nil {
		return nil, err
	}
	ws, err := fs.NewWorkspace(root)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(ws.StateDir(), logging.Enabled(cfg.Debug))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &App{cfg: cfg, ws: ws, log: log, out: os.Stdout}
	sourceProvider := source.New(cfg.Input)
	sourceProvider.Quiet = !cfg.Plain
	a.read = sourceProvider.GetContent
	a.confirm = terminalConfirm
	if !cfg.Plain {
		a.liveView = runLiveView
	}

	if cfg.Journal {
		store, err := state.OpenWorkspace(ctx, ws.StateDir())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open timeline: %w", err)
		}
		a.journal = store
	} else {
		a.journal = state.NewMemory()
	}

	var filesystem session.Filesystem = ws
	if cfg.Nvim {
		manager, err := nvim.New(ws)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.nvim = manager
		filesystem = manager
	}

	sessCfg := session.DefaultConfig()
	sessCfg.Coordinator.Validation.AllowProse = cfg.AllowProse
	sessCfg.Coordinator.Classify = classify
	if cfg.LCS {
		sessCfg.Diff = diff.Options{Mode: diff.LCS}
	}
	sessCfg.OnProgress = func(done, total int, _ string) {
		if a.progressCallback != nil {
			a.progressCallback(done, total)
		}
	}

	s, err := session.New(session.Deps{
		Workspace:  ws,
		Transport:  transport.Func(a.replay),
		Filesystem: filesystem,
		Expander:   expander.New(ws, expander.DefaultOptions()),
		Journal:    a.journal,
		Logger:     log,
	}, sessCfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.session = s
	log.Info("session %s started in %s", s.ID(), ws.Root())
	return a, nil
}

// SetProgressCallback sets a function to be called for progress updates.
func (a *App) SetProgressCallback(cb ProgressUpdate) {
	a.progressCallback = cb
}

// Close releases the session, the editor connection and the journal.
func (a *App) Close() {
	if a.session != nil {
		a.session.Close()
	}
	if a.nvim != nil {
		a.nvim.Close()
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Error("failed to close timeline: %v", err)
		}
	}
	a.log.Close()
}

// replay streams the response text as if a model were producing it. The
// text is only read once a turn actually needs it.
func (a *App) replay(ctx context.Context, req transport.Request, onFragment func(string)) error {
	content, err := a.read()
	if err != nil {
		return fmt.Errorf("%w: %w", errReadResponse, err)
	}
	a.log.Stream("response", content)
	r := &transport.Replay{Text: content, ChunkRunes: a.cfg.ChunkSize, Interval: a.cfg.ChunkInterval}
	return r.Stream(ctx, req, onFragment)
}

func classify(err error) string {
	if errors.Is(err, errReadResponse) {
		return err.Error()
	}
	return transport.Classify(err).Message
}

// Execute executes the main application logic based on parsed flags.
func (a *App) Execute(ctx context.Context) (summary model.Summary, err error) {
	// Centralized panic recovery.
	defer func() {
		if r := recover(); r != nil {
			err = &DetailedError{
				Err:   fmt.Errorf("internal panic: %v", r),
				Stack: debug.Stack(),
			}
		}
	}()

	res, err := a.session.Start(ctx, a.cfg.Instruction)
	if err != nil {
		return model.Summary{}, err
	}

	var st model.AgentState
	if res.Expanded {
		ui.Info("Expanded instruction into edits for %d file(s); no model response needed.", len(res.MatchedFiles))
		st, err = a.session.Wait(ctx)
	} else {
		st, err = a.follow(ctx)
	}
	if err != nil {
		return model.Summary{}, err
	}
	return a.review(ctx, st)
}

// follow shows the turn until it reaches a terminal state. Cancelling ctx
// ends the turn through the state machine, so the wait itself ignores it.
func (a *App) follow(ctx context.Context) (model.AgentState, error) {
	if a.liveView != nil {
		if err := a.liveView(a.session); err != nil {
			a.log.Error("%v", err)
		}
		return a.session.Wait(context.WithoutCancel(ctx))
	}

	events, unsubscribe := a.session.Subscribe()
	defer unsubscribe()

	reported := make(map[string]bool)
	lastKind := model.StateKind(-1)
	report := func(st model.AgentState, files []model.FileEdit) {
		if a.quiet {
			return
		}
		for _, f := range files {
			if !f.IsStreaming && !reported[f.Path] {
				reported[f.Path] = true
				ui.Path("received %s", f.Path)
			}
		}
		if st.Kind != lastKind {
			lastKind = st.Kind
			ui.Info("%s", st.Presentation())
		}
	}

	snap := a.session.Snapshot()
	report(snap.State, snap.Files)
	for st := snap.State; !st.Kind.Terminal(); {
		ev, ok := <-events
		if !ok {
			break
		}
		st = ev.State
		report(ev.State, ev.Files)
	}
	return a.session.Wait(context.WithoutCancel(ctx))
}

// review previews the final edits and applies the selected ones.
func (a *App) review(ctx context.Context, st model.AgentState) (model.Summary, error) {
	switch st.Kind {
	case model.StateBlocked:
		return model.Summary{Message: st.Presentation()}, fmt.Errorf("%w: %s", ErrBlocked, st.Reason)
	case model.StateEmpty:
		return model.Summary{Message: st.Presentation()}, nil
	}

	edits := a.session.Edits()
	for _, e := range edits {
		records, err := a.session.Preview(e)
		if err != nil {
			return model.Summary{}, fmt.Errorf("failed to preview %s: %w", e.Path, err)
		}
		ui.PrintPreview(a.out, e.Path, e.IsNew, records)
	}
	ui.PrintCommands(a.out, a.session.Commands())

	if len(edits) == 0 {
		return model.Summary{Message: "No file edits. Review the suggested commands above."}, nil
	}
	if a.cfg.DryRun {
		return model.Summary{Message: "Dry run: no files were written."}, nil
	}

	selected := a.selectEdits(edits)
	if len(selected) == 0 {
		return model.Summary{Message: "None of the selected paths have edits."}, nil
	}

	if !a.cfg.Yes {
		ok, err := a.confirm(fmt.Sprintf("Apply %d file(s)?", len(selected)))
		if err != nil {
			return model.Summary{}, err
		}
		if !ok {
			if err := a.session.Reject(ctx); err != nil {
				return model.Summary{}, err
			}
			return model.Summary{Message: "Rejected. No files were written."}, nil
		}
	}

	if a.progressCallback != nil {
		a.progressCallback(0, len(selected))
	}
	out, err := a.session.Accept(ctx, selected)
	summary := a.summarize(edits, out)
	a.relativizeSummaryPaths(&summary)
	return summary, err
}

// selectEdits returns the ids to apply: every edit, or those whose path was
// passed with --select.
func (a *App) selectEdits(edits []model.FileEdit) []string {
	if len(a.cfg.Select) == 0 {
		ids := make([]string, len(edits))
		for i, e := range edits {
			ids[i] = e.ID
		}
		return ids
	}

	byPath := make(map[string]string, len(edits))
	for _, e := range edits {
		byPath[e.Path] = e.ID
	}
	var ids []string
	for _, p := range a.cfg.Select {
		id, ok := byPath[p]
		if !ok {
			ui.Warning("No edit for selected path %s", p)
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func (a *App) summarize(edits []model.FileEdit, out model.ExecutionOutcome) model.Summary {
	summary := model.Summary{
		Created:  []string{},
		Modified: []string{},
		Failed:   []string{},
		Message:  a.session.Status(),
	}
	for _, e := range edits {
		changed, touched := out.PerFileDelta[e.Path]
		switch {
		case !touched:
		case out.Failures[e.Path] != "":
			summary.Failed = append(summary.Failed, e.Path)
		case !changed:
		case e.IsNew:
			summary.Created = append(summary.Created, e.Path)
		default:
			summary.Modified = append(summary.Modified, e.Path)
		}
	}
	return summary
}

// relativizeSummaryPaths converts workspace-relative paths in a summary to be
// relative to the current working directory for cleaner display.
func (a *App) relativizeSummaryPaths(summary *model.Summary) {
	wd, err := os.Getwd()
	if err != nil {
		// Cannot get CWD, keep workspace-relative paths.
		return
	}

	makeRelative := func(paths []string) []string {
		relPaths := make([]string, len(paths))
		for i, p := range paths {
			rel, err := filepath.Rel(wd, filepath.Join(a.ws.Root(), p))
			if err != nil {
				relPaths[i] = p
			} else {
				relPaths[i] = rel
			}
		}
		return relPaths
	}

	summary.Created = makeRelative(summary.Created)
	summary.Modified = makeRelative(summary.Modified)
	summary.Failed = makeRelative(summary.Failed)
}

// runLiveView renders the bubbletea view on stderr. Signals are left to the
// caller's context; keyboard input is only read when stdin is a terminal.
func runLiveView(s *session.Session) error {
	opts := []tea.ProgramOption{tea.WithOutput(os.Stderr), tea.WithoutSignalHandler()}
	if source.StdinPiped() {
		opts = append(opts, tea.WithInput(nil))
	}
	_, err := tui.Run(s, opts...)
	return err
}

// terminalConfirm asks on the controlling terminal, since stdin may have
// carried the response.
func terminalConfirm(question string) (bool, error) {
	if !source.StdinPiped() {
		return ui.Confirm(os.Stdin, question)
	}
	tty, err := os.Open("/dev/tty")
	if err != nil {
		return false, errors.New("confirmation needs a terminal; pass --yes to apply without asking")
	}
	defer tty.Close()
	return ui.Confirm(tty, question)
}
