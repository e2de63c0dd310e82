// Package session owns the state of one tokenizer view: raw and settled
// input, the active model and mode, the current result set and the
// transient "copied" indicator.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sweetpotato0/chai-tokenizer/catalog"
	"github.com/sweetpotato0/chai-tokenizer/clipboard"
	"github.com/sweetpotato0/chai-tokenizer/debounce"
	"github.com/sweetpotato0/chai-tokenizer/engine"
	errs "github.com/sweetpotato0/chai-tokenizer/errors"
	"github.com/sweetpotato0/chai-tokenizer/export"
	"github.com/sweetpotato0/chai-tokenizer/pkg/logging"
	"github.com/sweetpotato0/chai-tokenizer/pkg/metrics"
	"github.com/sweetpotato0/chai-tokenizer/pkg/telemetry"
	"github.com/sweetpotato0/chai-tokenizer/tokenizer"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"
)

// DefaultCopiedFor is how long the copied indicator stays on.
const DefaultCopiedFor = 2 * time.Second

// State is the user-controlled part of a session.
type State struct {
	RawInput     string             `json:"raw_input"`
	SettledInput string             `json:"settled_input"`
	Model        string             `json:"model"`
	Mode         engine.Mode        `json:"mode"`
	Display      engine.DisplayMode `json:"display"`
	ShowIndices  bool               `json:"show_indices"`
}

// Snapshot is a consistent view of a session at one version.
type Snapshot struct {
	ID      string        `json:"id"`
	Version uint64        `json:"version"`
	State   State         `json:"state"`
	Result  engine.Result `json:"result"`
	Copied  bool          `json:"copied"`
	CanCopy bool          `json:"can_copy"`
	Closed  bool          `json:"closed"`
}

// Listener receives a snapshot after every observable change. Listeners run
// while the session is locked and must not call back into the session.
type Listener func(Snapshot)

// Session serialises every event (input, timer firing, model or mode switch,
// copy) behind one mutex. The result set is always the pure function of
// settled input, model and mode, and is replaced whole on every recompute.
type Session struct {
	mu sync.Mutex

	id        string
	provider  tokenizer.Provider
	gate      *debounce.Gate
	clock     clock.WithDelayedExecution
	debounce  time.Duration
	copiedFor time.Duration
	clip      clipboard.Writer
	logger    *slog.Logger
	metrics   *metrics.Collector
	tracer    trace.Tracer
	listeners []Listener

	state       State
	result      engine.Result
	version     uint64
	copied      bool
	copiedGen   uint64
	copiedTimer clock.Timer
	closed      bool
}

// Option is a function that configures a Session.
type Option func(*Session)

// WithID sets the session id (default: a random UUID).
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithModel sets the initial model.
func WithModel(model string) Option {
	return func(s *Session) {
		s.state.Model = model
	}
}

// WithMode sets the initial mode.
func WithMode(mode engine.Mode) Option {
	return func(s *Session) {
		s.state.Mode = mode
	}
}

// WithDisplay sets the initial display mode.
func WithDisplay(display engine.DisplayMode) Option {
	return func(s *Session) {
		s.state.Display = display
	}
}

// WithDebounce sets the quiet window before raw input settles.
func WithDebounce(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.debounce = d
		}
	}
}

// WithCopiedFor sets how long the copied indicator stays on.
func WithCopiedFor(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.copiedFor = d
		}
	}
}

// WithClock replaces the wall clock used by the debounce and copied timers.
func WithClock(c clock.WithDelayedExecution) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithClipboard sets the clipboard used by Copy.
func WithClipboard(w clipboard.Writer) Option {
	return func(s *Session) {
		if w != nil {
			s.clip = w
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records recomputes, settlements and copies.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithTracer overrides the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Session) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithListener registers a listener.
func WithListener(l Listener) Option {
	return func(s *Session) {
		if l != nil {
			s.listeners = append(s.listeners, l)
		}
	}
}

// New creates a session resolving tokenizers through provider.
func New(provider tokenizer.Provider, opts ...Option) *Session {
	s := &Session{
		id:        uuid.NewString(),
		provider:  provider,
		clock:     clock.RealClock{},
		debounce:  debounce.DefaultDelay,
		copiedFor: DefaultCopiedFor,
		clip:      clipboard.System{},
		logger:    logging.WithComponent("session"),
		tracer:    telemetry.Tracer(),
		state: State{
			Model:   catalog.Default,
			Mode:    engine.Encode,
			Display: engine.Badges,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.result = engine.Result{Mode: s.state.Mode, Model: s.state.Model}
	s.gate = debounce.New(s.debounce, s.settle, debounce.WithClock(s.clock))
	return s
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Subscribe adds a listener.
func (s *Session) Subscribe(l Listener) {
	if l == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// SetInput records a keystroke-level change. The result set follows only
// once the input has been quiet for the debounce window.
func (s *Session) SetInput(raw string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errs.ErrClosed
	}
	s.state.RawInput = raw
	s.gate.Push(raw)
	return nil
}

// Flush settles pending raw input immediately.
func (s *Session) Flush() {
	s.gate.Flush()
}

// SetModel switches the active model. A change triggers one full recompute.
func (s *Session) SetModel(model string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errs.ErrClosed
	}
	if model == s.state.Model {
		return nil
	}
	s.state.Model = model
	s.recomputeLocked("model")
	return nil
}

// SetMode switches between encode and decode. A change triggers one full recompute.
func (s *Session) SetMode(mode engine.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errs.ErrClosed
	}
	if mode == s.state.Mode {
		return nil
	}
	s.state.Mode = mode
	s.recomputeLocked("mode")
	return nil
}

// SetDisplay changes how tokens are presented. No recompute happens.
func (s *Session) SetDisplay(display engine.DisplayMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errs.ErrClosed
	}
	if display == s.state.Display {
		return nil
	}
	s.state.Display = display
	s.changedLocked()
	return nil
}

// SetShowIndices toggles index prefixes on badges. It is ignored while the
// display is numbered, since numbered lines always carry their index.
func (s *Session) SetShowIndices(show bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errs.ErrClosed
	}
	if s.state.Display == engine.Numbered || show == s.state.ShowIndices {
		return nil
	}
	s.state.ShowIndices = show
	s.changedLocked()
	return nil
}

// Snapshot returns the current state and result set.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Result returns the current result set.
func (s *Session) Result() engine.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// CanCopy reports whether Copy would do anything.
func (s *Session) CanCopy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && !s.result.Empty()
}

// Export returns the clipboard text for the current result set, or "" when
// there is nothing to export.
func (s *Session) Export() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return export.Format(s.result, s.state.Display)
}

// Copy writes the export of the current result set to the clipboard and
// turns the copied indicator on for the configured duration. It is a no-op
// returning false when the result set is empty. Clipboard failures are
// logged and reported as false, never returned.
func (s *Session) Copy(ctx context.Context) bool {
	s.mu.Lock()
	if s.closed || s.result.Empty() {
		s.mu.Unlock()
		return false
	}
	text := export.Format(s.result, s.state.Display)
	s.mu.Unlock()

	_, span := s.tracer.Start(ctx, "session.copy", trace.WithAttributes(
		telemetry.SessionIDKey.String(s.id),
		telemetry.BytesKey.Int(len(text)),
	))
	err := s.clip.Write(text)
	telemetry.End(span, err)
	if err != nil {
		s.logger.Warn("clipboard write failed", "session", s.id, "error", err)
		s.metrics.RecordCopy(metrics.OutcomeFailed)
		return false
	}
	s.metrics.RecordCopy(metrics.OutcomeOK)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	if s.copiedTimer != nil {
		s.copiedTimer.Stop()
	}
	s.copied = true
	s.copiedGen++
	gen := s.copiedGen
	s.copiedTimer = s.clock.AfterFunc(s.copiedFor, func() { s.revertCopied(gen) })
	s.changedLocked()
	return true
}

// Close cancels pending timers. Nothing is emitted after Close returns.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errs.ErrClosed
	}
	s.closed = true
	if s.copiedTimer != nil {
		s.copiedTimer.Stop()
		s.copiedTimer = nil
	}
	s.copiedGen++
	s.mu.Unlock()

	// outside the lock: Stop waits for an in-flight settle, which takes s.mu
	s.gate.Stop()
	return nil
}

func (s *Session) settle(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.metrics.RecordSettlement()
	if v == s.state.SettledInput {
		return
	}
	s.state.SettledInput = v
	s.recomputeLocked("input")
}

func (s *Session) revertCopied(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || gen != s.copiedGen {
		return
	}
	s.copied = false
	s.copiedTimer = nil
	s.changedLocked()
}

func (s *Session) recomputeLocked(trigger string) {
	in := engine.Input{
		Text:  s.state.SettledInput,
		Model: s.state.Model,
		Mode:  s.state.Mode,
	}
	_, span := s.tracer.Start(context.Background(), "session.recompute", trace.WithAttributes(
		telemetry.SessionIDKey.String(s.id),
		telemetry.TriggerKey.String(trigger),
		telemetry.ModelKey.String(in.Model),
		telemetry.ModeKey.String(string(in.Mode)),
	))

	start := time.Now()
	res, err := engine.Compute(s.provider, in)
	elapsed := time.Since(start)

	outcome := metrics.OutcomeOK
	switch {
	case err != nil:
		outcome = metrics.OutcomeFailed
		s.logger.Error("tokenization failed",
			"session", s.id,
			"model", in.Model,
			"mode", in.Mode,
			"trigger", trigger,
			"error", err,
		)
	case res.Empty():
		outcome = metrics.OutcomeEmpty
	}
	s.metrics.RecordRecompute(string(in.Mode), outcome, elapsed)
	span.SetAttributes(telemetry.TokensKey.Int(res.Count()), telemetry.DegradedKey.Bool(res.Degraded))
	telemetry.End(span, err)

	s.result = res
	s.changedLocked()
}

func (s *Session) changedLocked() {
	s.version++
	if len(s.listeners) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, l := range s.listeners {
		l(snap)
	}
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		ID:      s.id,
		Version: s.version,
		State:   s.state,
		Result:  s.result,
		Copied:  s.copied,
		CanCopy: !s.closed && !s.result.Empty(),
		Closed:  s.closed,
	}
}
