// Package dispatch runs relay jobs on a bounded in-process worker pool.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"harbor/internal/metrics"
	"harbor/internal/relay"
)

const (
	DefaultWorkers     = 4
	DefaultQueueSize   = 256
	DefaultJobTimeout  = 2 * time.Minute
	DefaultMaxAttempts = 3
	DefaultBackoff     = time.Second
)

var ErrClosed = errors.New("dispatch pool closed")

// JobHandler processes one job. relay.Processor satisfies it.
type JobHandler interface {
	Handle(ctx context.Context, job relay.Job) error
}

type Pool struct {
	Handler     JobHandler
	Workers     int
	JobTimeout  time.Duration
	MaxAttempts int
	Backoff     time.Duration
	Logger      *slog.Logger

	queue   chan relay.Job
	mu      sync.RWMutex
	closed  bool
	started bool
	group   *errgroup.Group
}

func NewPool(handler JobHandler, workers, queueSize int, jobTimeout time.Duration) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if jobTimeout <= 0 {
		jobTimeout = DefaultJobTimeout
	}
	return &Pool{
		Handler:     handler,
		Workers:     workers,
		JobTimeout:  jobTimeout,
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultBackoff,
		queue:       make(chan relay.Job, queueSize),
	}
}

func (p *Pool) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Start launches the workers. Jobs run under ctx; cancel it to abandon
// in-flight work, or call Shutdown to drain the queue.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.group = &errgroup.Group{}
	for i := 0; i < p.Workers; i++ {
		p.group.Go(func() error {
			p.work(ctx)
			return nil
		})
	}
}

// Enqueue never blocks: a full queue yields relay.ErrQueueFull.
func (p *Pool) Enqueue(ctx context.Context, job relay.Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- job:
		metrics.DispatchQueueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return relay.ErrQueueFull
	}
}

// Shutdown stops intake and waits for queued jobs to finish or ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	group := p.group
	p.mu.Unlock()
	if group == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) work(ctx context.Context) {
	for job := range p.queue {
		metrics.DispatchQueueDepth.Dec()
		if ctx.Err() != nil {
			p.logger().Warn("harbor.job_dropped", "kind", job.Kind, "client_id", job.ClientID, "conversation_id", job.ConversationID)
			continue
		}
		p.run(ctx, job)
	}
}

func (p *Pool) run(ctx context.Context, job relay.Job) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := p.Backoff
	for attempt := 1; ; attempt++ {
		jobCtx, cancel := context.WithTimeout(ctx, p.JobTimeout)
		err := p.Handler.Handle(jobCtx, job)
		cancel()
		if err == nil || relay.IsPermanent(err) || attempt >= attempts {
			return
		}
		p.logger().Warn("harbor.job_retry", "kind", job.Kind, "client_id", job.ClientID,
			"conversation_id", job.ConversationID, "attempt", attempt, "error", err)
		if !sleep(ctx, backoff) {
			return
		}
		backoff *= 2
	}
}

var sleep = func(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
