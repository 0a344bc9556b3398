package trigger

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// AttributeDelay lets the widget finish opening before the custom attribute
// is attached to the session.
const AttributeDelay = 500 * time.Millisecond

// Signal names which source fired the greeting.
type Signal string

const (
	SignalTime   Signal = "time"
	SignalScroll Signal = "scroll"
	SignalExit   Signal = "exit_intent"
)

// State is the per-page-load firing flag. Once fired it stays fired.
type State struct {
	fired atomic.Bool
}

// TryFire flips the state to fired and reports whether this call did it.
func (s *State) TryFire() bool {
	return s.fired.CompareAndSwap(false, true)
}

func (s *State) Fired() bool {
	return s.fired.Load()
}

type Option func(*Evaluator)

func WithClock(c Clock) Option {
	return func(e *Evaluator) {
		if c != nil {
			e.clock = c
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Evaluator) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithState shares an existing State. Evaluators sharing a state fire at
// most once between them.
func WithState(s *State) Option {
	return func(e *Evaluator) {
		if s != nil {
			e.state = s
		}
	}
}

// OnFire registers a callback invoked once, after the widget was asked to open.
func OnFire(fn func(Signal)) Option {
	return func(e *Evaluator) { e.onFire = fn }
}

// Evaluator watches elapsed time, scroll depth and exit intent and opens the
// chat widget the first time any of them crosses its threshold.
type Evaluator struct {
	cfg    Config
	client PlatformClient
	page   Page
	clock  Clock
	logger *slog.Logger
	state  *State
	onFire func(Signal)

	mu            sync.Mutex
	started       bool
	stopped       bool
	timers        []Timer
	unsubscribers []func()
}

func New(cfg Config, client PlatformClient, page Page, opts ...Option) *Evaluator {
	e := &Evaluator{
		cfg:    cfg.normalize(),
		client: client,
		page:   page,
		clock:  SystemClock,
		logger: slog.Default(),
		state:  &State{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) Config() Config { return e.cfg }

func (e *Evaluator) Fired() bool { return e.state.Fired() }

// Start arms every enabled signal. Calling Start twice, or after Stop, does nothing.
func (e *Evaluator) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.stopped {
		return
	}
	e.started = true

	if e.cfg.TimeEnabled() {
		delay := time.Duration(e.cfg.TimeDelaySeconds) * time.Second
		e.timers = append(e.timers, e.clock.AfterFunc(delay, func() {
			e.guard(SignalTime, func() { e.greet(SignalTime) })
		}))
	}
	if e.page == nil {
		return
	}
	if e.cfg.ScrollEnabled() {
		sub := &subscription{}
		sub.set(e.page.OnScroll(func(ev ScrollEvent) {
			e.guard(SignalScroll, func() {
				if !e.scrollCrossed(ev) {
					return
				}
				sub.cancel()
				e.greet(SignalScroll)
			})
		}))
		e.unsubscribers = append(e.unsubscribers, sub.cancel)
	}
	if e.cfg.ExitIntentEnabled {
		sub := &subscription{}
		sub.set(e.page.OnPointerLeave(func(ev PointerLeaveEvent) {
			e.guard(SignalExit, func() {
				if ev.ClientY > 0 {
					return
				}
				sub.cancel()
				e.greet(SignalExit)
			})
		}))
		e.unsubscribers = append(e.unsubscribers, sub.cancel)
	}
}

// subscription holds an unsubscribe func that may be cancelled before the
// subscribe call has returned it.
type subscription struct {
	mu        sync.Mutex
	cancelled bool
	unsub     func()
}

func (s *subscription) set(unsub func()) {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		if unsub != nil {
			unsub()
		}
		return
	}
	s.unsub = unsub
	s.mu.Unlock()
}

func (s *subscription) cancel() {
	s.mu.Lock()
	s.cancelled = true
	unsub := s.unsub
	s.unsub = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// Stop cancels pending timers, including a pending attribute set, and
// removes every listener. It models the page unloading.
func (e *Evaluator) Stop() {
	e.mu.Lock()
	timers := e.timers
	unsubs := e.unsubscribers
	e.timers = nil
	e.unsubscribers = nil
	e.stopped = true
	e.mu.Unlock()

	for _, t := range timers {
		if t != nil {
			t.Stop()
		}
	}
	for _, unsub := range unsubs {
		if unsub != nil {
			unsub()
		}
	}
}

func (e *Evaluator) scrollCrossed(ev ScrollEvent) bool {
	if ev.ScrollableHeight <= 0 {
		return false
	}
	pct := ev.ScrollY / ev.ScrollableHeight * 100
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return false
	}
	return pct >= e.cfg.ScrollDepthPercent
}

func (e *Evaluator) greet(sig Signal) {
	if e.isStopped() {
		return
	}
	if !e.state.TryFire() {
		return
	}
	if e.client == nil {
		e.logger.Debug("harbor.trigger.client_unavailable", "signal", string(sig))
		return
	}
	if err := e.client.Open(); err != nil {
		e.logger.Debug("harbor.trigger.open_failed", "signal", string(sig), "error", err)
		return
	}
	e.logger.Debug("harbor.trigger.fired", "signal", string(sig))
	if e.onFire != nil {
		e.onFire(sig)
	}
	if e.cfg.GreetingOverride == nil {
		return
	}
	t := e.clock.AfterFunc(AttributeDelay, func() {
		e.guard(sig, func() {
			if err := e.client.SetAttribute(AttributeKey, AttributeValue); err != nil {
				e.logger.Debug("harbor.trigger.attribute_failed", "signal", string(sig), "error", err)
			}
		})
	})
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		t.Stop()
		return
	}
	e.timers = append(e.timers, t)
	e.mu.Unlock()
}

func (e *Evaluator) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// guard keeps a listener callback from ever propagating a panic.
func (e *Evaluator) guard(sig Signal, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("harbor.trigger.listener_panic", "signal", string(sig), "error", fmt.Sprint(r))
		}
	}()
	fn()
}
