// Package coordinator turns raw text fragments into throttled parse ticks
// and drives the per-turn state machine.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sokinpui/streamedit/internal/logging"
	"github.com/sokinpui/streamedit/internal/parser"
	"github.com/sokinpui/streamedit/internal/transport"
	"github.com/sokinpui/streamedit/internal/validator"
	"github.com/sokinpui/streamedit/model"
)

var (
	ErrNotAccepting      = errors.New("coordinator is not accepting fragments")
	ErrTurnInProgress    = errors.New("a turn is in progress")
	ErrNotStreaming      = errors.New("no turn is streaming")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrClosed            = errors.New("coordinator is closed")
)

// Config tunes the two tickers.
type Config struct {
	// TickInterval bounds how often the accumulated text is re-parsed.
	TickInterval time.Duration
	// DisplayInterval and DisplayCharsPerTick pace the cosmetic display
	// buffer.
	DisplayInterval     time.Duration
	DisplayCharsPerTick int
	Validation          validator.Options
	// Classify turns a transport error into the blocked reason.
	Classify func(error) string
}

// DefaultConfig returns the intervals used by the CLI.
func DefaultConfig() Config {
	return Config{
		TickInterval:        100 * time.Millisecond,
		DisplayInterval:     16 * time.Millisecond,
		DisplayCharsPerTick: 24,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TickInterval <= 0 {
		c.TickInterval = def.TickInterval
	}
	if c.DisplayInterval <= 0 {
		c.DisplayInterval = def.DisplayInterval
	}
	if c.DisplayCharsPerTick <= 0 {
		c.DisplayCharsPerTick = def.DisplayCharsPerTick
	}
	if c.Classify == nil {
		c.Classify = func(err error) string { return transport.Classify(err).Message }
	}
	return c
}

// Stats counts work done in the current turn.
type Stats struct {
	Parses    int
	Fragments int
	LastParse time.Time
}

// Snapshot is a read-only copy of the coordinator's state.
type Snapshot struct {
	State    model.AgentState
	Files    []model.FileEdit
	Commands []model.CommandEdit
	// Outcome is set once the turn has been validated.
	Outcome   *model.ValidationOutcome
	Text      string
	Displayed string
	Stats     Stats
}

// EventKind says what changed.
type EventKind int

const (
	EventState EventKind = iota
	EventEdits
	EventDisplay
)

// Event is delivered to subscribers. Subscribers that fall behind lose older
// events but always receive the latest one.
type Event struct {
	Kind      EventKind
	State     model.AgentState
	Files     []model.FileEdit
	Commands  []model.CommandEdit
	Displayed string
}

type opKind int

const (
	opStart opKind = iota
	opComplete
	opFail
	opCancel
	opReset
)

type request struct {
	op    opKind
	err   error
	reply chan error
}

const subscriberBuffer = 16

// Coordinator owns the accumulated text of one turn at a time. Append is
// safe to call from the transport goroutine; every other mutation happens on
// the coordinator's own loop.
type Coordinator struct {
	cfg Config
	log *logging.Logger

	bufMu     sync.Mutex
	buf       strings.Builder
	fragments int
	accepting bool

	mu         sync.RWMutex
	state      model.AgentState
	files      []model.FileEdit
	commands   []model.CommandEdit
	outcome    *model.ValidationOutcome
	displayed  string
	stats      Stats
	lastParsed int

	wake     chan struct{}
	control  chan request
	done     chan struct{}
	loopDone chan struct{}
	once     sync.Once

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
}

// New starts a coordinator in the idle state.
func New(cfg Config, log *logging.Logger) *Coordinator {
	c := &Coordinator{
		cfg:       cfg.withDefaults(),
		log:       log,
		accepting: true,
		state:     model.AgentState{Kind: model.StateIdle},
		wake:      make(chan struct{}, 1),
		control:   make(chan request),
		done:      make(chan struct{}),
		loopDone:  make(chan struct{}),
		subs:      make(map[int]chan Event),
	}
	go c.run()
	return c
}

func (c *Coordinator) run() {
	defer close(c.loopDone)
	parseTicker := time.NewTicker(c.cfg.TickInterval)
	defer parseTicker.Stop()
	displayTicker := time.NewTicker(c.cfg.DisplayInterval)
	defer displayTicker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
			c.begin()
		case <-parseTicker.C:
			c.tick()
		case <-displayTicker.C:
			c.advanceDisplay()
		case req := <-c.control:
			req.reply <- c.handle(req)
		}
	}
}

// Append adds a fragment to the turn. It never parses.
func (c *Coordinator) Append(fragment string) error {
	c.bufMu.Lock()
	if !c.accepting {
		c.bufMu.Unlock()
		return ErrNotAccepting
	}
	c.buf.WriteString(fragment)
	c.fragments++
	c.bufMu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// StartTurn clears the previous turn and returns to idle.
func (c *Coordinator) StartTurn() error { return c.call(request{op: opStart}) }

// Complete signals the end of the stream and validates the response.
func (c *Coordinator) Complete() error { return c.call(request{op: opComplete}) }

// Fail ends the turn with a transport error.
func (c *Coordinator) Fail(err error) error { return c.call(request{op: opFail, err: err}) }

// Cancel stops ingestion and blocks the turn, keeping the text and edits
// parsed so far.
func (c *Coordinator) Cancel() error { return c.call(request{op: opCancel}) }

// Reset returns a finished turn to idle.
func (c *Coordinator) Reset() error { return c.call(request{op: opReset}) }

func (c *Coordinator) call(req request) error {
	req.reply = make(chan error, 1)
	select {
	case c.control <- req:
	case <-c.done:
		return ErrClosed
	}
	select {
	case err := <-req.reply:
		return err
	case <-c.done:
		return ErrClosed
	}
}

func (c *Coordinator) handle(req request) error {
	switch req.op {
	case opStart, opReset:
		return c.clear(req.op == opStart)
	case opComplete:
		return c.complete()
	case opCancel:
		return c.stop("cancelled")
	case opFail:
		return c.stop(c.cfg.Classify(req.err))
	}
	return fmt.Errorf("unknown request %d", req.op)
}

func (c *Coordinator) clear(start bool) error {
	kind := c.current().Kind
	if kind == model.StateStreaming || kind == model.StateValidating {
		return ErrTurnInProgress
	}
	c.bufMu.Lock()
	c.buf.Reset()
	c.fragments = 0
	c.accepting = true
	c.bufMu.Unlock()

	c.mu.Lock()
	c.files, c.commands, c.outcome = nil, nil, nil
	c.displayed = ""
	c.stats = Stats{}
	c.lastParsed = 0
	c.mu.Unlock()

	if start {
		c.log.Info("turn started")
	}
	if kind == model.StateIdle {
		return nil
	}
	return c.transition(model.AgentState{Kind: model.StateIdle})
}

// begin moves idle to streaming once the first fragment of a turn is in.
func (c *Coordinator) begin() {
	if c.current().Kind != model.StateIdle {
		return
	}
	c.bufMu.Lock()
	started := c.accepting && c.buf.Len() > 0
	c.bufMu.Unlock()
	if started {
		_ = c.transition(model.AgentState{Kind: model.StateStreaming})
	}
}

func (c *Coordinator) tick() {
	if c.current().Kind != model.StateStreaming {
		return
	}
	c.parseIfChanged()
}

// parseIfChanged re-parses the buffer unless it is the same length as at the
// last parse. The buffer only grows within a turn, so length is enough.
func (c *Coordinator) parseIfChanged() {
	text := c.text()
	c.mu.RLock()
	unchanged := len(text) == c.lastParsed
	c.mu.RUnlock()
	if unchanged {
		return
	}

	r := parser.Analyze(text)

	c.mu.Lock()
	c.files, c.commands = r.Files, r.Commands
	c.lastParsed = len(text)
	c.stats.Parses++
	c.stats.LastParse = time.Now()
	parses := c.stats.Parses
	c.mu.Unlock()

	c.log.Debug("parse tick %d: %d bytes, %d files, %d commands", parses, len(text), len(r.Files), len(r.Commands))
	c.publish(EventEdits)
}

func (c *Coordinator) complete() error {
	if err := c.ensureStreaming(); err != nil {
		return err
	}
	c.stopAccepting()
	c.parseIfChanged()
	if err := c.transition(model.AgentState{Kind: model.StateValidating}); err != nil {
		return err
	}

	text := c.text()
	outcome := validator.ValidateWith(c.cfg.Validation, text)
	c.mu.Lock()
	c.outcome = &outcome
	files, commands := c.files, c.commands
	c.mu.Unlock()
	c.log.Info("turn validated: %s", outcome)

	switch outcome.Kind {
	case model.OutcomeSilentFailure:
		return c.transition(model.AgentState{Kind: model.StateBlocked, Reason: "the model returned an empty response"})
	case model.OutcomeInvalidFormat:
		return c.transition(model.AgentState{Kind: model.StateBlocked, Reason: "invalid format: " + outcome.Reason})
	case model.OutcomeNoOp:
		return c.transition(model.AgentState{Kind: model.StateEmpty})
	}
	if len(files) == 0 && len(commands) == 0 {
		return c.transition(model.AgentState{Kind: model.StateEmpty})
	}
	return c.transition(model.AgentState{Kind: model.StateReady, Edits: append([]model.FileEdit(nil), files...)})
}

// stop ends a streaming turn without validation. Finished turns are left
// alone.
func (c *Coordinator) stop(reason string) error {
	if c.current().Kind.Terminal() {
		return nil
	}
	if err := c.ensureStreaming(); err != nil {
		return err
	}
	c.stopAccepting()
	c.parseIfChanged()
	return c.transition(model.AgentState{Kind: model.StateBlocked, Reason: reason})
}

// ensureStreaming passes an idle turn through streaming so that a turn that
// ends before its first fragment still follows the state machine.
func (c *Coordinator) ensureStreaming() error {
	switch c.current().Kind {
	case model.StateStreaming:
		return nil
	case model.StateIdle:
		return c.transition(model.AgentState{Kind: model.StateStreaming})
	default:
		return ErrNotStreaming
	}
}

func (c *Coordinator) stopAccepting() {
	c.bufMu.Lock()
	c.accepting = false
	c.bufMu.Unlock()
}

func (c *Coordinator) transition(next model.AgentState) error {
	c.mu.Lock()
	from := c.state.Kind
	if !CanTransition(from, next.Kind) {
		c.mu.Unlock()
		c.log.Error("rejected transition %s -> %s", from, next.Kind)
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, next.Kind)
	}
	c.state = next
	c.mu.Unlock()

	c.log.State(from.String(), next.String())
	c.publish(EventState)
	return nil
}

func (c *Coordinator) advanceDisplay() {
	text := c.text()
	c.mu.Lock()
	shown := len(c.displayed)
	if shown >= len(text) {
		c.mu.Unlock()
		return
	}
	end := shown
	for n := 0; n < c.cfg.DisplayCharsPerTick && end < len(text); n++ {
		_, size := utf8.DecodeRuneInString(text[end:])
		end += size
	}
	c.displayed = text[:end]
	c.mu.Unlock()
	c.publish(EventDisplay)
}

func (c *Coordinator) text() string {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	return c.buf.String()
}

func (c *Coordinator) current() model.AgentState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// State returns the current state.
func (c *Coordinator) State() model.AgentState {
	return c.current()
}

// Snapshot returns a copy of everything a presentation layer may render.
func (c *Coordinator) Snapshot() Snapshot {
	c.bufMu.Lock()
	text, fragments := c.buf.String(), c.fragments
	c.bufMu.Unlock()

	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{
		State:     copyState(c.state),
		Files:     append([]model.FileEdit(nil), c.files...),
		Commands:  append([]model.CommandEdit(nil), c.commands...),
		Text:      text,
		Displayed: c.displayed,
		Stats:     c.stats,
	}
	s.Stats.Fragments = fragments
	if c.outcome != nil {
		o := *c.outcome
		s.Outcome = &o
	}
	return s
}

func copyState(s model.AgentState) model.AgentState {
	s.Edits = append([]model.FileEdit(nil), s.Edits...)
	return s
}

// Wait blocks until the turn reaches blocked, empty or ready.
func (c *Coordinator) Wait(ctx context.Context) (model.AgentState, error) {
	events, cancel := c.Subscribe()
	defer cancel()
	if s := c.State(); s.Kind.Terminal() {
		return copyState(s), nil
	}
	for {
		select {
		case <-ctx.Done():
			return c.State(), ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return c.State(), ErrClosed
			}
			if ev.State.Kind.Terminal() {
				return ev.State, nil
			}
		}
	}
}

// Subscribe returns a channel of state, edit and display events and a
// function that cancels the subscription.
func (c *Coordinator) Subscribe() (<-chan Event, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan Event, subscriberBuffer)
	if c.isClosed() {
		close(ch)
		return ch, func() {}
	}
	c.subs[id] = ch
	return ch, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if sub, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(sub)
		}
	}
}

func (c *Coordinator) publish(kind EventKind) {
	c.mu.RLock()
	ev := Event{
		Kind:      kind,
		State:     copyState(c.state),
		Files:     append([]model.FileEdit(nil), c.files...),
		Commands:  append([]model.CommandEdit(nil), c.commands...),
		Displayed: c.displayed,
	}
	c.mu.RUnlock()

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		// Full: drop the oldest so the newest is never lost. The loop is the
		// only sender, so the retry cannot block.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

func (c *Coordinator) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close stops the loop and closes every subscription.
func (c *Coordinator) Close() {
	c.once.Do(func() {
		close(c.done)
		<-c.loopDone
		c.subMu.Lock()
		for id, ch := range c.subs {
			delete(c.subs, id)
			close(ch)
		}
		c.subMu.Unlock()
	})
}
