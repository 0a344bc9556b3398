package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.temporal.io/sdk/client"

	"harbor/internal/agent"
	"harbor/internal/catalog"
	"harbor/internal/config"
	"harbor/internal/db"
	"harbor/internal/dispatch"
	"harbor/internal/knowledge"
	"harbor/internal/llm"
	"harbor/internal/logging"
	"harbor/internal/persona"
	"harbor/internal/relay"
	"harbor/internal/web"
	"harbor/internal/webhook"
	"harbor/internal/widget"
	"harbor/internal/workflows"
	"harbor/migrations"
)

func main() {
	logging.Init("harbor", nil)
	if err := run(os.Args[1:], serveHTTP); err != nil {
		fatalf("harbor: %v", err)
	}
}

var serveHTTP = func(srv *http.Server) error { return srv.ListenAndServe() }
var fatalf = func(format string, args ...any) {
	slog.Error("fatal", "error", fmt.Sprintf(format, args...))
	os.Exit(1)
}
var loadConfig = config.LoadConfig
var newDB = db.NewDB
var applyMigrations = migrations.Apply
var newLLMRouter = llm.NewRouter
var newEmbedder = func(cfg config.EmbeddingsConfig) (llm.Embedder, error) {
	return llm.NewEmbeddingClient(cfg)
}
var newTemporalClient = func(cfg config.OrchestratorConfig) (client.Client, error) {
	opts := client.Options{HostPort: cfg.TemporalAddr, Namespace: cfg.Namespace}
	return client.Dial(opts)
}
var startScheduler = func(ctx context.Context, wg *sync.WaitGroup, gt *web.GoroutineTracker, s *catalog.Scheduler) {
	if s == nil {
		return
	}
	gt.Go(ctx, wg, "catalog-scheduler", func(ctx context.Context) error { return s.Run(ctx) })
}

func run(args []string, serve func(*http.Server) error) error {
	fs := flag.NewFlagSet("harbor", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config JSON")
	migrate := fs.Bool("migrate", false, "apply database migrations before serving")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var wg sync.WaitGroup
	goroutines := web.NewGoroutineTracker()

	personas := persona.NewStore(cfg.Personas.Dir)
	if cfg.Personas.Watch {
		goroutines.Go(ctx, &wg, "persona-watch", func(ctx context.Context) error {
			if err := personas.Watch(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return nil
		})
	}

	var database *db.DB
	if cfg.Storage.PostgresDSN != "" {
		database, err = newDB(cfg.Storage.PostgresDSN)
		if err != nil {
			return err
		}
		defer database.Close()
		if *migrate {
			if err := applyMigrations(database.Conn(), "up"); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
	}

	models, err := newLLMRouter(cfg.LLM, cfg.LLMFallback)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	var kb *knowledge.Service
	var retriever agent.Retriever
	if database != nil && cfg.Embeddings.APIBase != "" {
		embedder, err := newEmbedder(cfg.Embeddings)
		if err != nil {
			return fmt.Errorf("embeddings: %w", err)
		}
		kb = knowledge.NewService(database, embedder)
		retriever = kb
	} else {
		slog.Info("harbor.knowledge_disabled", "postgres", database != nil, "embeddings", cfg.Embeddings.APIBase != "")
	}
	processor := relay.NewProcessor(personas, agent.New(models, retriever), cfg.Chatwoot)

	var temporalClient client.Client
	if cfg.Orchestrator.TemporalAddr != "" {
		tc, err := newTemporalClient(cfg.Orchestrator)
		if err != nil {
			slog.Warn("harbor.temporal_unavailable", "error", err, "fallback", "in-process pool")
		} else if tc != nil {
			temporalClient = tc
			defer temporalClient.Close()
		}
	}

	var dispatcher webhook.Dispatcher
	var pool *dispatch.Pool
	poolCtx, cancelPool := context.WithCancel(context.Background())
	defer cancelPool()
	if temporalClient != nil {
		dispatcher = &workflows.TemporalDispatcher{Client: temporalClient, TaskQueue: cfg.Orchestrator.TaskQueue}
	} else {
		pool = dispatch.NewPool(processor, cfg.Server.Workers, cfg.Server.QueueSize,
			time.Duration(cfg.Server.JobTimeoutSecs)*time.Second)
		pool.Start(poolCtx)
		dispatcher = pool
	}

	var claims webhook.Claimer
	var events widget.EventRecorder
	if database != nil {
		claims = database
		events = database
	} else {
		mem, err := webhook.NewMemoryClaimer(0)
		if err != nil {
			return err
		}
		claims = mem
	}

	hooks := &webhook.Handler{
		Resolver:   personas,
		Dispatcher: dispatcher,
		Claims:     claims,
		Secret:     cfg.Server.Secret,
	}
	widgets := &widget.Handler{
		Personas:     personas,
		Events:       events,
		AllowOrigins: cfg.Server.AllowOrigins,
	}

	var pinger web.Pinger
	if database != nil {
		pinger = database
	}
	srv := web.NewServer(pinger, web.Routes{
		Webhook:      hooks,
		WidgetConfig: http.HandlerFunc(widgets.ServeConfig),
		WidgetSocket: http.HandlerFunc(widgets.ServeSocket),
	})
	srv.Goroutines = goroutines
	if len(cfg.Server.AllowOrigins) > 0 {
		srv.AllowOrigins = cfg.Server.AllowOrigins
	}
	if cfg.Server.RateLimitPerSecond > 0 {
		srv.RateLimiter = web.NewRateLimiter(cfg.Server.RateLimitPerSecond, cfg.Server.RateLimitBurst)
	}
	srv.TemporalHealth = func(ctx context.Context) error {
		if temporalClient == nil {
			return nil
		}
		_, err := temporalClient.CheckHealth(ctx, nil)
		return err
	}

	if cfg.Catalog.Enabled {
		if kb == nil {
			slog.Warn("harbor.catalog_disabled", "reason", "knowledge base not configured")
		} else {
			syncer := catalog.NewSyncer(kb, catalog.NewFetcher())
			syncer.BaseDir = cfg.Personas.Dir
			startScheduler(ctx, &wg, goroutines, catalog.NewScheduler(personas, syncer, cfg.Catalog.DefaultCron))
		}
	}

	mainSrv := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: srv.Handler()}
	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- serve(mainSrv)
	}()

	slog.Info("harbor.startup", "addr", cfg.Server.HTTPAddr, "personas_dir", cfg.Personas.Dir,
		"postgres", database != nil, "temporal", temporalClient != nil)
	select {
	case err := <-errCh:
		stop()
		if pool != nil {
			cancelPool()
			_ = pool.Shutdown(context.Background())
		}
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("harbor.shutdown")
	forceExit := time.AfterFunc(30*time.Second, func() { os.Exit(1) })
	defer forceExit.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = mainSrv.Shutdown(shutdownCtx)
	if pool != nil {
		if err := pool.Shutdown(shutdownCtx); err != nil {
			slog.Warn("harbor.dispatch_drain_incomplete", "error", err)
		}
	}
	wg.Wait()
	select {
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	default:
		return nil
	}
}
