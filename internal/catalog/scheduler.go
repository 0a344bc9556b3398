package catalog

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"harbor/internal/persona"
)

type PersonaLister interface {
	All() []*persona.Persona
}

type CatalogSyncer interface {
	Sync(ctx context.Context, p *persona.Persona, opts SyncOptions) (SyncResult, error)
}

// Scheduler re-syncs each persona's catalog on its cron schedule. Personas
// without their own schedule use DefaultCron.
type Scheduler struct {
	Personas     PersonaLister
	Syncer       CatalogSyncer
	DefaultCron  string
	PollInterval time.Duration
	Now          func() time.Time
	Parser       *cron.Parser
	Logger       *slog.Logger

	mu      sync.Mutex
	started time.Time
	lastRun map[string]time.Time
}

func NewScheduler(personas PersonaLister, syncer CatalogSyncer, defaultCron string) *Scheduler {
	return &Scheduler{Personas: personas, Syncer: syncer, DefaultCron: defaultCron}
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Scheduler) init() {
	if s.Now == nil {
		s.Now = time.Now
	}
	if s.Parser == nil {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		s.Parser = &parser
	}
	if s.PollInterval <= 0 {
		s.PollInterval = time.Minute
	}
	if s.lastRun == nil {
		s.lastRun = map[string]time.Time{}
	}
	if s.started.IsZero() {
		s.started = s.Now().UTC()
	}
}

func (s *Scheduler) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.Personas == nil || s.Syncer == nil {
		return errors.New("personas and syncer required")
	}
	s.mu.Lock()
	s.init()
	interval := s.PollInterval
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce syncs every persona whose next scheduled run is due and returns
// how many syncs were attempted. Failed syncs wait for their next slot.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	s.mu.Lock()
	s.init()
	s.mu.Unlock()

	now := s.Now().UTC()
	count := 0
	for _, p := range s.Personas.All() {
		if !HasSource(p) {
			continue
		}
		spec := strings.TrimSpace(p.Catalog.Cron)
		if spec == "" {
			spec = strings.TrimSpace(s.DefaultCron)
		}
		if spec == "" {
			continue
		}
		schedule, err := s.Parser.Parse(spec)
		if err != nil {
			s.logger().Warn("harbor.catalog.bad_cron", "client_id", p.ClientID, "cron", spec, "error", err)
			continue
		}
		s.mu.Lock()
		last, ok := s.lastRun[p.ClientID]
		if !ok {
			last = s.started
		}
		s.mu.Unlock()
		if schedule.Next(last).After(now) {
			continue
		}
		_, _ = s.Syncer.Sync(ctx, p, SyncOptions{})
		s.mu.Lock()
		s.lastRun[p.ClientID] = now
		s.mu.Unlock()
		count++
	}
	return count
}
