package trigger

import (
	"sync"
	"time"
)

// ScrollEvent is a scroll-position-changed notification.
// ScrollableHeight is the document height minus the viewport height.
type ScrollEvent struct {
	ScrollY          float64 `json:"scrollY"`
	ScrollableHeight float64 `json:"scrollableHeight"`
}

// PointerLeaveEvent is a pointer-leaves-viewport notification.
type PointerLeaveEvent struct {
	ClientY float64 `json:"clientY"`
}

// Page is the event source the evaluator listens to. Each subscription
// returns a function that removes it; calling it more than once is safe.
type Page interface {
	OnScroll(fn func(ScrollEvent)) (unsubscribe func())
	OnPointerLeave(fn func(PointerLeaveEvent)) (unsubscribe func())
}

// PlatformClient is the chat platform capability surface.
type PlatformClient interface {
	Open() error
	SetAttribute(key, value string) error
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock schedules one-shot callbacks.
type Clock interface {
	AfterFunc(d time.Duration, fn func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// SystemClock schedules callbacks with time.AfterFunc.
var SystemClock Clock = realClock{}

// Signals is an in-memory Page. Emit calls deliver to a snapshot of the
// current subscribers, so a listener may unsubscribe itself mid-delivery.
type Signals struct {
	mu      sync.Mutex
	nextID  int
	scroll  map[int]func(ScrollEvent)
	pointer map[int]func(PointerLeaveEvent)
}

func NewSignals() *Signals {
	return &Signals{
		scroll:  map[int]func(ScrollEvent){},
		pointer: map[int]func(PointerLeaveEvent){},
	}
}

func (s *Signals) OnScroll(fn func(ScrollEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.scroll[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.scroll, id)
	}
}

func (s *Signals) OnPointerLeave(fn func(PointerLeaveEvent)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.pointer[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.pointer, id)
	}
}

func (s *Signals) EmitScroll(ev ScrollEvent) {
	s.mu.Lock()
	fns := make([]func(ScrollEvent), 0, len(s.scroll))
	for _, fn := range s.scroll {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *Signals) EmitPointerLeave(ev PointerLeaveEvent) {
	s.mu.Lock()
	fns := make([]func(PointerLeaveEvent), 0, len(s.pointer))
	for _, fn := range s.pointer {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// Listeners returns the number of active scroll and pointer subscriptions.
func (s *Signals) Listeners() (scroll, pointer int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scroll), len(s.pointer)
}
