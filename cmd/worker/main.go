package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"harbor/internal/agent"
	"harbor/internal/config"
	"harbor/internal/db"
	"harbor/internal/knowledge"
	"harbor/internal/llm"
	"harbor/internal/logging"
	"harbor/internal/persona"
	"harbor/internal/relay"
	"harbor/internal/web"
	"harbor/internal/workflows"
)

func main() {
	logging.Init("harbor-worker", nil)
	if err := run(os.Args[1:]); err != nil {
		fatalf("worker: %v", err)
	}
}

var fatalf = func(format string, args ...any) {
	slog.Error("fatal", "error", fmt.Sprintf(format, args...))
	os.Exit(1)
}
var loadConfig = config.LoadConfig
var newDB = db.NewDB
var newLLMRouter = llm.NewRouter
var newEmbedder = func(cfg config.EmbeddingsConfig) (llm.Embedder, error) {
	return llm.NewEmbeddingClient(cfg)
}
var newTemporalClient = func(cfg config.OrchestratorConfig) (client.Client, error) {
	opts := client.Options{HostPort: cfg.TemporalAddr, Namespace: cfg.Namespace}
	return client.Dial(opts)
}

var temporalHealthClient client.Client
var setTemporalHealthClient = func(c client.Client) { temporalHealthClient = c }

type closeFunc func() error

func (c closeFunc) Close() error {
	return c()
}

// newWorker returns the worker plus the client used to start the prune
// schedule.
var newWorker = func(cfg config.OrchestratorConfig) (worker.Worker, workflows.WorkflowStarter, io.Closer, error) {
	c, err := newTemporalClient(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	setTemporalHealthClient(c)
	w := worker.New(c, cfg.TaskQueue, worker.Options{})
	return w, c, closeFunc(func() error { c.Close(); return nil }), nil
}
var runWorker = func(w worker.Worker) error { return w.Run(worker.InterruptCh()) }
var schedulePrune = workflows.SchedulePrune
var serveHealth = func(srv *http.Server) error { return srv.ListenAndServe() }

var startWorker = func(ctx context.Context, acts *workflows.Activities, cfg config.Config) error {
	if cfg.Orchestrator.TemporalAddr == "" {
		return errors.New("orchestrator.temporal_addr required")
	}
	w, starter, closer, err := newWorker(cfg.Orchestrator)
	if err != nil {
		return err
	}
	if closer != nil {
		defer func() { _ = closer.Close() }()
	}
	workflows.Register(w, acts)
	if acts.Claims != nil && starter != nil && cfg.Orchestrator.PruneCron != "" {
		retention := time.Duration(cfg.Orchestrator.ClaimRetentionDays) * 24 * time.Hour
		if err := schedulePrune(ctx, starter, cfg.Orchestrator.TaskQueue, cfg.Orchestrator.PruneCron, retention); err != nil {
			slog.Warn("harbor.prune_schedule_failed", "error", err)
		}
	}
	slog.Info("harbor.worker_ready", "temporal_addr", cfg.Orchestrator.TemporalAddr, "task_queue", cfg.Orchestrator.TaskQueue)
	return runWorker(w)
}

func run(args []string) error {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return errors.New("config required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			time.AfterFunc(30*time.Second, func() { os.Exit(1) })
		case <-done:
		}
	}()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	var database *db.DB
	if cfg.Storage.PostgresDSN != "" {
		database, err = newDB(cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		defer database.Close()
	}

	models, err := newLLMRouter(cfg.LLM, cfg.LLMFallback)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	var retriever agent.Retriever
	if database != nil && cfg.Embeddings.APIBase != "" {
		embedder, err := newEmbedder(cfg.Embeddings)
		if err != nil {
			return fmt.Errorf("embeddings: %w", err)
		}
		retriever = knowledge.NewService(database, embedder)
	}
	personas := persona.NewStore(cfg.Personas.Dir)
	acts := &workflows.Activities{
		Processor: relay.NewProcessor(personas, agent.New(models, retriever), cfg.Chatwoot),
	}
	if database != nil {
		acts.Claims = database
	}

	if cfg.Orchestrator.HealthAddr != "" {
		var pinger web.Pinger
		if database != nil {
			pinger = database
		}
		health := web.NewServer(pinger, web.Routes{})
		health.TemporalHealth = func(ctx context.Context) error {
			if temporalHealthClient == nil {
				return errors.New("temporal client not connected")
			}
			_, err := temporalHealthClient.CheckHealth(ctx, nil)
			return err
		}
		healthSrv := &http.Server{Addr: cfg.Orchestrator.HealthAddr, Handler: health.Handler()}
		go func() {
			if err := serveHealth(healthSrv); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("harbor.health_server_failed", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = healthSrv.Shutdown(sctx)
		}()
	}

	return startWorker(ctx, acts, cfg)
}
