package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"harbor/internal/knowledge"
	"harbor/internal/metrics"
	"harbor/internal/persona"
)

var readFile = os.ReadFile

// Replacer swaps a client's knowledge for a new chunk set.
type Replacer interface {
	Replace(ctx context.Context, clientID string, chunks []knowledge.Chunk) (int, error)
}

type ProductSource interface {
	FetchProducts(ctx context.Context, store string) ([]Product, error)
}

type Syncer struct {
	Knowledge Replacer
	Products  ProductSource
	// BaseDir resolves relative products files.
	BaseDir string
	Logger  *slog.Logger
}

type SyncOptions struct {
	DryRun bool
}

type SyncResult struct {
	ClientID string            `json:"client_id"`
	Products int               `json:"products"`
	Chunks   []knowledge.Chunk `json:"-"`
	Written  int               `json:"written"`
	DryRun   bool              `json:"dry_run"`
}

func NewSyncer(kb Replacer, products ProductSource) *Syncer {
	return &Syncer{Knowledge: kb, Products: products}
}

func (s *Syncer) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// HasSource reports whether the persona has any catalog to sync.
func HasSource(p *persona.Persona) bool {
	return p != nil && (strings.TrimSpace(p.Catalog.ShopifyStore) != "" || strings.TrimSpace(p.Catalog.ProductsFile) != "")
}

// Chunks builds the persona's full chunk set: store info first, then the
// Shopify catalog, then the markdown catalog.
func (s *Syncer) Chunks(ctx context.Context, p *persona.Persona) ([]knowledge.Chunk, int, error) {
	if !HasSource(p) {
		return nil, 0, errors.New("persona has no catalog source")
	}
	store := strings.TrimSpace(p.Catalog.ShopifyStore)
	var chunks []knowledge.Chunk
	if info, ok := StoreInfoChunk(p.BusinessName, store, p.Catalog.StoreInfo); ok {
		chunks = append(chunks, info)
	}
	products := 0
	if store != "" {
		if s.Products == nil {
			return nil, 0, errors.New("product source required")
		}
		items, err := s.Products.FetchProducts(ctx, store)
		if err != nil {
			return nil, 0, fmt.Errorf("fetch %s: %w", store, err)
		}
		for _, item := range items {
			if strings.TrimSpace(item.Handle) == "" {
				continue
			}
			chunks = append(chunks, ProductChunk(item, store))
			products++
		}
	}
	if path := strings.TrimSpace(p.Catalog.ProductsFile); path != "" {
		if !filepath.IsAbs(path) && s.BaseDir != "" {
			path = filepath.Join(s.BaseDir, path)
		}
		data, err := readFile(path)
		if err != nil {
			return nil, 0, fmt.Errorf("products file: %w", err)
		}
		parsed := ParseProductsMarkdown(string(data), store, p.BusinessName)
		for _, c := range parsed {
			if c.SourceID == "store-info" && len(chunks) > 0 && chunks[0].SourceID == "store-info" {
				continue
			}
			if c.SourceType == "product" {
				products++
			}
			chunks = append(chunks, c)
		}
	}
	return chunks, products, nil
}

// Sync rebuilds the persona's knowledge from its catalog sources.
func (s *Syncer) Sync(ctx context.Context, p *persona.Persona, opts SyncOptions) (SyncResult, error) {
	res, err := s.sync(ctx, p, opts)
	if !opts.DryRun {
		metrics.CatalogSyncsTotal.WithLabelValues(res.ClientID, metrics.Outcome(err)).Inc()
	}
	if err != nil {
		s.logger().Error("harbor.catalog.sync_failed", "client_id", res.ClientID, "error", err)
	}
	return res, err
}

func (s *Syncer) sync(ctx context.Context, p *persona.Persona, opts SyncOptions) (SyncResult, error) {
	if p == nil {
		return SyncResult{}, errors.New("persona required")
	}
	res := SyncResult{ClientID: p.KnowledgeClientID(), DryRun: opts.DryRun}
	chunks, products, err := s.Chunks(ctx, p)
	if err != nil {
		return res, err
	}
	res.Chunks = chunks
	res.Products = products
	if opts.DryRun {
		s.logger().Info("harbor.catalog.dry_run", "client_id", res.ClientID, "products", products, "chunks", len(chunks))
		return res, nil
	}
	if len(chunks) == 0 {
		return res, errors.New("catalog produced no chunks")
	}
	if s.Knowledge == nil {
		return res, errors.New("knowledge base not configured")
	}
	n, err := s.Knowledge.Replace(ctx, res.ClientID, chunks)
	if err != nil {
		return res, err
	}
	res.Written = n
	s.logger().Info("harbor.catalog.synced", "client_id", res.ClientID, "products", products, "chunks", n)
	return res, nil
}
