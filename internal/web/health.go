package web

import (
	"context"
	"net/http"
	"sync"
	"time"
)

const readyTimeout = 2 * time.Second

type TemporalHealthFunc func(context.Context) error

// GoroutineTracker records whether named background loops are still running.
type GoroutineTracker struct {
	mu      sync.Mutex
	alive   map[string]bool
	lastErr map[string]string
}

func NewGoroutineTracker() *GoroutineTracker {
	return &GoroutineTracker{
		alive:   map[string]bool{},
		lastErr: map[string]string{},
	}
}

func (t *GoroutineTracker) setAlive(name string, alive bool) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alive[name] = alive
}

func (t *GoroutineTracker) setErr(name string, err error) {
	if t == nil || err == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastErr[name] = err.Error()
}

func (t *GoroutineTracker) Checks() map[string]string {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.alive))
	for name, alive := range t.alive {
		switch {
		case alive:
			out[name] = "ok"
		case t.lastErr[name] != "":
			out[name] = t.lastErr[name]
		default:
			out[name] = "stopped"
		}
	}
	return out
}

// Go runs fn in a goroutine tracked under name. Errors returned after ctx is
// cancelled are treated as a clean stop.
func (t *GoroutineTracker) Go(ctx context.Context, wg *sync.WaitGroup, name string, fn func(context.Context) error) {
	if wg != nil {
		wg.Add(1)
	}
	t.setAlive(name, true)
	go func() {
		if wg != nil {
			defer wg.Done()
		}
		defer t.setAlive(name, false)
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			t.setErr(name, err)
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "harbor"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	checks := map[string]string{}
	ok := true

	if s.DB == nil {
		checks["db"] = "disabled"
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		err := s.DB.Ping(ctx)
		cancel()
		if err != nil {
			ok = false
			checks["db"] = err.Error()
		} else {
			checks["db"] = "ok"
		}
	}

	if s.TemporalHealth != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		err := s.TemporalHealth(ctx)
		cancel()
		if err != nil {
			ok = false
			checks["temporal"] = err.Error()
		} else {
			checks["temporal"] = "ok"
		}
	}

	for name, status := range s.Goroutines.Checks() {
		if status != "ok" {
			ok = false
		}
		checks["goroutine."+name] = status
	}

	if ok {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	if data, err := marshalJSON(map[string]any{"status": "unavailable", "checks": checks}); err == nil {
		_, _ = w.Write(data)
		return
	}
	_, _ = w.Write([]byte(`{"status":"unavailable"}`))
}
