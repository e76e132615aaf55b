package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sokinpui/streamedit/internal/coordinator"
	"github.com/sokinpui/streamedit/model"
)

type fakeSource struct {
	snap      coordinator.Snapshot
	events    chan coordinator.Event
	cancelled int
	cancelErr error
}

func newFakeSource(state model.StateKind) *fakeSource {
	return &fakeSource{
		snap:   coordinator.Snapshot{State: model.AgentState{Kind: state}},
		events: make(chan coordinator.Event, 4),
	}
}

func (f *fakeSource) Snapshot() coordinator.Snapshot { return f.snap }

func (f *fakeSource) Subscribe() (<-chan coordinator.Event, func()) {
	return f.events, func() {}
}

func (f *fakeSource) Cancel() error {
	f.cancelled++
	return f.cancelErr
}

func isQuit(cmd tea.Cmd) bool {
	if cmd == nil {
		return false
	}
	_, ok := cmd().(tea.QuitMsg)
	return ok
}

func TestModelQuitsOnTerminalEvent(t *testing.T) {
	m := New(newFakeSource(model.StateStreaming))

	edits := []model.FileEdit{{Path: "a.go", Content: "package a\n", IsStreaming: true}}
	next, cmd := m.Update(eventMsg{Kind: coordinator.EventEdits, State: model.AgentState{Kind: model.StateStreaming}, Files: edits})
	if isQuit(cmd) {
		t.Fatal("quit while streaming")
	}
	m = next.(Model)
	if view := m.View(); !strings.Contains(view, "a.go") || !strings.Contains(view, "Generating changes...") {
		t.Errorf("unexpected view:\n%s", view)
	}

	ready := model.AgentState{Kind: model.StateReady, Edits: []model.FileEdit{{Path: "a.go", Content: "package a\n"}}}
	next, cmd = m.Update(eventMsg{Kind: coordinator.EventState, State: ready, Files: ready.Edits})
	if !isQuit(cmd) {
		t.Fatal("expected quit on ready")
	}
	m = next.(Model)
	if m.State().Kind != model.StateReady {
		t.Errorf("state = %v, want ready", m.State())
	}
	if view := m.View(); !strings.Contains(view, "1 file ready to apply.") {
		t.Errorf("unexpected final view:\n%s", view)
	}
}

func TestModelAlreadyTerminal(t *testing.T) {
	m := New(newFakeSource(model.StateEmpty))
	if !isQuit(m.Init()) {
		t.Error("expected Init to quit for a finished turn")
	}
}

func TestModelCancelKey(t *testing.T) {
	src := newFakeSource(model.StateStreaming)
	m := New(src)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if isQuit(cmd) {
		t.Error("quit before the turn reached a terminal state")
	}
	next, _ = next.(Model).Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if src.cancelled != 1 {
		t.Errorf("Cancel called %d times, want 1", src.cancelled)
	}
	if view := next.(Model).View(); !strings.Contains(view, "Cancelling...") {
		t.Errorf("unexpected view:\n%s", view)
	}
}

func TestModelCancelFailureShown(t *testing.T) {
	src := newFakeSource(model.StateStreaming)
	src.cancelErr = errors.New("turn already finished")
	m := New(src)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if isQuit(cmd) {
		t.Error("quit after a failed cancel")
	}
	view := next.(Model).View()
	if !strings.Contains(view, "Cancel failed: turn already finished") {
		t.Errorf("cancel error not shown:\n%s", view)
	}
	if strings.Contains(view, "Cancelling...") {
		t.Errorf("view claims a cancel is in progress:\n%s", view)
	}

	src.cancelErr = nil
	next, _ = next.(Model).Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if src.cancelled != 2 {
		t.Errorf("Cancel called %d times, want a retry", src.cancelled)
	}
	if view := next.(Model).View(); strings.Contains(view, "Cancel failed") {
		t.Errorf("stale cancel error shown:\n%s", view)
	}
}

func TestModelClosedSubscription(t *testing.T) {
	m := New(newFakeSource(model.StateStreaming))
	if _, cmd := m.Update(closedMsg{}); !isQuit(cmd) {
		t.Error("expected quit when the subscription closes")
	}
}

func TestTail(t *testing.T) {
	text := "1\n2\n3\n4\n5\n6\n7\n8\n"
	if got := tail(text, 3, 0); got != "6\n7\n8" {
		t.Errorf("tail = %q", got)
	}
	if got := tail("abcdefghij", 3, 6); got != "abcd" {
		t.Errorf("tail cut = %q", got)
	}
	if got := tail("", 3, 0); got != "" {
		t.Errorf("tail of empty = %q", got)
	}
}
