package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"harbor/internal/catalog"
	"harbor/internal/config"
	"harbor/internal/db"
	"harbor/internal/knowledge"
	"harbor/internal/llm"
	"harbor/internal/logging"
	"harbor/internal/persona"
)

var version = "dev"

func main() {
	logging.Init("harborctl", nil)
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fatalf("harborctl: %v", err)
	}
}

var fatalf = func(format string, args ...any) {
	slog.Error("fatal", "error", fmt.Sprintf(format, args...))
	os.Exit(1)
}
var readFile = os.ReadFile
var loadConfig = config.LoadConfig
var newProductSource = func() catalog.ProductSource { return catalog.NewFetcher() }

// knowledgeBase is the slice of knowledge.Service the commands use.
type knowledgeBase interface {
	Replace(ctx context.Context, clientID string, chunks []knowledge.Chunk) (int, error)
	UpsertBatch(ctx context.Context, clientID string, chunks []knowledge.Chunk) (int, error)
	Search(ctx context.Context, clientID, query string, opts knowledge.SearchOptions) ([]db.KnowledgeHit, error)
	Stats(ctx context.Context, clientID string) (map[string]int, error)
	DeleteClient(ctx context.Context, clientID string) (int64, error)
}

type eventLister interface {
	ListTriggerEvents(ctx context.Context, clientID string, limit, offset int) ([]db.TriggerEvent, error)
}

type backend struct {
	KB     knowledgeBase
	Events eventLister
	Close  func() error
}

var openBackend = func(cfg config.Config) (*backend, error) {
	if cfg.Storage.PostgresDSN == "" {
		return nil, errors.New("storage.postgres_dsn required")
	}
	database, err := db.NewDB(cfg.Storage.PostgresDSN)
	if err != nil {
		return nil, err
	}
	be := &backend{Events: database, Close: database.Close}
	if cfg.Embeddings.APIBase != "" {
		embedder, err := llm.NewEmbeddingClient(cfg.Embeddings)
		if err != nil {
			_ = database.Close()
			return nil, err
		}
		be.KB = knowledge.NewService(database, embedder)
	}
	return be, nil
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("command required")
	}
	switch args[0] {
	case "-h", "--help", "help":
		writeUsage(out)
		return nil
	case "--version", "version":
		_, _ = fmt.Fprintln(out, version)
		return nil
	case "personas":
		return runPersonas(args[1:], out)
	case "sync":
		return runSync(args[1:], out)
	case "ingest":
		return runIngest(args[1:], out)
	case "search":
		return runSearch(args[1:], out)
	case "stats":
		return runStats(args[1:], out)
	case "delete":
		return runDelete(args[1:], out)
	case "events":
		return runEvents(args[1:], out)
	default:
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func writeUsage(out io.Writer) {
	_, _ = fmt.Fprintln(out, "Usage: harborctl <command> [flags]")
	_, _ = fmt.Fprintln(out, "")
	_, _ = fmt.Fprintln(out, "Commands: personas, sync, ingest, search, stats, delete, events")
	_, _ = fmt.Fprintln(out, "Global flags: --help, --version")
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type commonFlags struct {
	config *string
	client *string
}

func newFlagSet(name string) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return fs, commonFlags{
		config: fs.String("config", "", "path to config JSON"),
		client: fs.String("client", "", "client id"),
	}
}

func requireClient(c commonFlags) (string, error) {
	id := strings.TrimSpace(*c.client)
	if id == "" {
		return "", errors.New("client required")
	}
	return id, nil
}

func withBackend(c commonFlags, needKB bool, fn func(cfg config.Config, be *backend) error) error {
	cfg, err := loadConfig(*c.config)
	if err != nil {
		return err
	}
	be, err := openBackend(cfg)
	if err != nil {
		return err
	}
	if be.Close != nil {
		defer func() { _ = be.Close() }()
	}
	if needKB && be.KB == nil {
		return errors.New("embeddings.api_base required")
	}
	return fn(cfg, be)
}

func runPersonas(args []string, out io.Writer) error {
	fs, c := newFlagSet("personas")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(*c.config)
	if err != nil {
		return err
	}
	type row struct {
		ClientID  string `json:"client_id"`
		Name      string `json:"name"`
		Tier      string `json:"tier"`
		Proactive bool   `json:"proactive_triggers"`
		Catalog   bool   `json:"catalog"`
	}
	rows := []row{}
	for _, p := range persona.NewStore(cfg.Personas.Dir).All() {
		rows = append(rows, row{
			ClientID:  p.ClientID,
			Name:      p.Name,
			Tier:      p.Tier,
			Proactive: p.ProactiveTriggers,
			Catalog:   catalog.HasSource(p),
		})
	}
	return writeJSON(out, rows)
}

func runSync(args []string, out io.Writer) error {
	fs, c := newFlagSet("sync")
	all := fs.Bool("all", false, "sync every persona with a catalog")
	dryRun := fs.Bool("dry-run", false, "build chunks without writing")
	timeout := fs.Duration("timeout", 10*time.Minute, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*all {
		if _, err := requireClient(c); err != nil {
			return errors.New("client or -all required")
		}
	}
	syncAll := func(cfg config.Config, kb catalog.Replacer) error {
		store := persona.NewStore(cfg.Personas.Dir)
		var targets []*persona.Persona
		if *all {
			for _, p := range store.All() {
				if catalog.HasSource(p) {
					targets = append(targets, p)
				}
			}
		} else {
			p, err := store.Load(strings.TrimSpace(*c.client))
			if err != nil {
				return err
			}
			targets = []*persona.Persona{p}
		}
		syncer := catalog.NewSyncer(kb, newProductSource())
		syncer.BaseDir = cfg.Personas.Dir

		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		results := []catalog.SyncResult{}
		var failed []string
		for _, p := range targets {
			res, err := syncer.Sync(ctx, p, catalog.SyncOptions{DryRun: *dryRun})
			if err != nil {
				failed = append(failed, p.ClientID)
				continue
			}
			results = append(results, res)
		}
		if err := writeJSON(out, results); err != nil {
			return err
		}
		if len(failed) > 0 {
			return fmt.Errorf("sync failed for %s", strings.Join(failed, ", "))
		}
		return nil
	}
	if *dryRun {
		cfg, err := loadConfig(*c.config)
		if err != nil {
			return err
		}
		return syncAll(cfg, nil)
	}
	return withBackend(c, true, func(cfg config.Config, be *backend) error {
		return syncAll(cfg, be.KB)
	})
}

func runIngest(args []string, out io.Writer) error {
	fs, c := newFlagSet("ingest")
	file := fs.String("file", "", "products markdown file")
	store := fs.String("store", "", "store domain for product URLs")
	business := fs.String("business", "", "business name")
	replace := fs.Bool("replace", false, "replace the client's existing knowledge")
	if err := fs.Parse(args); err != nil {
		return err
	}
	clientID, err := requireClient(c)
	if err != nil {
		return err
	}
	if strings.TrimSpace(*file) == "" {
		return errors.New("file required")
	}
	data, err := readFile(filepath.Clean(*file))
	if err != nil {
		return err
	}
	chunks := catalog.ParseProductsMarkdown(string(data), *store, *business)
	if len(chunks) == 0 {
		return errors.New("no products found")
	}
	return withBackend(c, true, func(cfg config.Config, be *backend) error {
		ctx := context.Background()
		var written int
		if *replace {
			written, err = be.KB.Replace(ctx, clientID, chunks)
		} else {
			written, err = be.KB.UpsertBatch(ctx, clientID, chunks)
		}
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]any{"client_id": clientID, "chunks": len(chunks), "written": written})
	})
}

func runSearch(args []string, out io.Writer) error {
	fs, c := newFlagSet("search")
	query := fs.String("query", "", "search text")
	topK := fs.Int("top-k", knowledge.DefaultTopK, "max results")
	minScore := fs.Float64("min-score", knowledge.DefaultMinScore, "minimum similarity")
	types := fs.String("types", "", "comma-separated source types")
	if err := fs.Parse(args); err != nil {
		return err
	}
	clientID, err := requireClient(c)
	if err != nil {
		return err
	}
	if strings.TrimSpace(*query) == "" {
		return errors.New("query required")
	}
	opts := knowledge.SearchOptions{TopK: *topK, MinScore: *minScore}
	for _, t := range strings.Split(*types, ",") {
		if t = strings.TrimSpace(t); t != "" {
			opts.SourceTypes = append(opts.SourceTypes, t)
		}
	}
	return withBackend(c, true, func(cfg config.Config, be *backend) error {
		hits, err := be.KB.Search(context.Background(), clientID, *query, opts)
		if err != nil {
			return err
		}
		if hits == nil {
			hits = []db.KnowledgeHit{}
		}
		return writeJSON(out, hits)
	})
}

func runStats(args []string, out io.Writer) error {
	fs, c := newFlagSet("stats")
	if err := fs.Parse(args); err != nil {
		return err
	}
	clientID, err := requireClient(c)
	if err != nil {
		return err
	}
	return withBackend(c, true, func(cfg config.Config, be *backend) error {
		stats, err := be.KB.Stats(context.Background(), clientID)
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]any{"client_id": clientID, "by_source": stats})
	})
}

func runDelete(args []string, out io.Writer) error {
	fs, c := newFlagSet("delete")
	yes := fs.Bool("yes", false, "confirm deletion")
	if err := fs.Parse(args); err != nil {
		return err
	}
	clientID, err := requireClient(c)
	if err != nil {
		return err
	}
	if !*yes {
		return errors.New("refusing to delete without -yes")
	}
	return withBackend(c, true, func(cfg config.Config, be *backend) error {
		removed, err := be.KB.DeleteClient(context.Background(), clientID)
		if err != nil {
			return err
		}
		return writeJSON(out, map[string]any{"client_id": clientID, "deleted": removed})
	})
}

func runEvents(args []string, out io.Writer) error {
	fs, c := newFlagSet("events")
	limit := fs.Int("limit", 50, "max events")
	offset := fs.Int("offset", 0, "offset")
	if err := fs.Parse(args); err != nil {
		return err
	}
	clientID, err := requireClient(c)
	if err != nil {
		return err
	}
	return withBackend(c, false, func(cfg config.Config, be *backend) error {
		events, err := be.Events.ListTriggerEvents(context.Background(), clientID, *limit, *offset)
		if err != nil {
			return err
		}
		if events == nil {
			events = []db.TriggerEvent{}
		}
		return writeJSON(out, events)
	})
}
