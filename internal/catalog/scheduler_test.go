package catalog

import (
	"context"
	"sync"
	"testing"
	"time"

	"harbor/internal/persona"
)

type fakeLister []*persona.Persona

func (f fakeLister) All() []*persona.Persona { return f }

type recordingSyncer struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingSyncer) Sync(ctx context.Context, p *persona.Persona, opts SyncOptions) (SyncResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, p.ClientID)
	return SyncResult{ClientID: p.ClientID}, nil
}

func TestSchedulerRunOnce(t *testing.T) {
	start := time.Date(2026, 3, 1, 2, 30, 0, 0, time.UTC)
	now := start
	personas := fakeLister{
		{ClientID: "nightly", Catalog: persona.Catalog{ShopifyStore: "a.example"}},
		{ClientID: "hourly", Catalog: persona.Catalog{ShopifyStore: "b.example", Cron: "@hourly"}},
		{ClientID: "bad", Catalog: persona.Catalog{ShopifyStore: "c.example", Cron: "not a cron"}},
		{ClientID: "none"},
	}
	syncer := &recordingSyncer{}
	s := NewScheduler(personas, syncer, "0 3 * * *")
	s.Now = func() time.Time { return now }

	if n := s.RunOnce(context.Background()); n != 0 {
		t.Fatalf("nothing due at start, ran %d", n)
	}

	now = start.Add(31 * time.Minute)
	if n := s.RunOnce(context.Background()); n != 2 {
		t.Fatalf("expected both due at 03:01, ran %d (%v)", n, syncer.calls)
	}

	now = now.Add(10 * time.Minute)
	if n := s.RunOnce(context.Background()); n != 0 {
		t.Fatalf("nothing due right after a run, ran %d", n)
	}

	now = start.Add(90 * time.Minute)
	if n := s.RunOnce(context.Background()); n != 1 {
		t.Fatalf("hourly due at 04:00, ran %d", n)
	}
	if got := syncer.calls[len(syncer.calls)-1]; got != "hourly" {
		t.Fatalf("last call: %s", got)
	}
}

func TestSchedulerNoDefaultCron(t *testing.T) {
	syncer := &recordingSyncer{}
	s := NewScheduler(fakeLister{{ClientID: "x", Catalog: persona.Catalog{ShopifyStore: "x"}}}, syncer, "")
	start := time.Now()
	s.Now = func() time.Time { return start }
	s.RunOnce(context.Background())
	s.Now = func() time.Time { return start.Add(48 * time.Hour) }
	if n := s.RunOnce(context.Background()); n != 0 {
		t.Fatalf("ran %d", n)
	}
}

func TestSchedulerRunRequiresDependencies(t *testing.T) {
	if err := (&Scheduler{}).Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewScheduler(fakeLister{}, &recordingSyncer{}, "").Run(ctx); err == nil {
		t.Fatal("expected context error")
	}
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	s := NewScheduler(fakeLister{}, &recordingSyncer{}, "@hourly")
	s.PollInterval = time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Run(ctx); err != context.DeadlineExceeded {
		t.Fatalf("err: %v", err)
	}
}
