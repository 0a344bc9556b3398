// Package knowledge is the per-client retrieval store behind the agent.
package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"harbor/internal/db"
	"harbor/internal/llm"
)

const (
	DefaultTopK     = 5
	DefaultMinScore = 0.4
	DefaultMaxChars = 3000
)

// Store is the persistence the service needs; *db.DB implements it.
type Store interface {
	UpsertKnowledgeChunks(ctx context.Context, chunks []db.KnowledgeChunk) error
	ReplaceKnowledgeClient(ctx context.Context, clientID string, chunks []db.KnowledgeChunk) error
	SearchKnowledge(ctx context.Context, s db.KnowledgeSearch) ([]db.KnowledgeHit, error)
	DeleteKnowledgeClient(ctx context.Context, clientID string) (int64, error)
	KnowledgeStats(ctx context.Context, clientID string) (map[string]int, error)
}

// Chunk is a piece of knowledge before it is embedded.
type Chunk struct {
	SourceType string         `json:"source_type"`
	SourceID   string         `json:"source_id"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	URL        string         `json:"url"`
	Metadata   map[string]any `json:"metadata"`
}

// ChunkID is stable for identical content from the same source.
func ChunkID(clientID, sourceType, sourceID, content string) string {
	sum := sha256.Sum256([]byte(clientID + ":" + sourceType + ":" + sourceID + ":" + content))
	return hex.EncodeToString(sum[:])
}

type Service struct {
	Store    Store
	Embedder llm.Embedder
	Logger   *slog.Logger
}

func NewService(store Store, embedder llm.Embedder) *Service {
	return &Service{Store: store, Embedder: embedder}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) ready() error {
	if s == nil || s.Store == nil || s.Embedder == nil {
		return errors.New("knowledge base not configured")
	}
	return nil
}

// Upsert embeds and stores one chunk, returning its id.
func (s *Service) Upsert(ctx context.Context, clientID string, c Chunk) (string, error) {
	rows, err := s.embed(ctx, clientID, []Chunk{c})
	if err != nil {
		return "", err
	}
	if err := s.Store.UpsertKnowledgeChunks(ctx, rows); err != nil {
		return "", err
	}
	return rows[0].ID, nil
}

// UpsertBatch embeds and stores chunks, returning how many were written.
func (s *Service) UpsertBatch(ctx context.Context, clientID string, chunks []Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	rows, err := s.embed(ctx, clientID, chunks)
	if err != nil {
		return 0, err
	}
	if err := s.Store.UpsertKnowledgeChunks(ctx, rows); err != nil {
		return 0, err
	}
	s.logger().Info("harbor.knowledge.batch_upsert", "client_id", clientID, "count", len(rows))
	return len(rows), nil
}

// Replace clears the client's knowledge and stores chunks in its place.
func (s *Service) Replace(ctx context.Context, clientID string, chunks []Chunk) (int, error) {
	rows, err := s.embed(ctx, clientID, chunks)
	if err != nil {
		return 0, err
	}
	if err := s.Store.ReplaceKnowledgeClient(ctx, clientID, rows); err != nil {
		return 0, err
	}
	s.logger().Info("harbor.knowledge.replaced", "client_id", clientID, "count", len(rows))
	return len(rows), nil
}

func (s *Service) embed(ctx context.Context, clientID string, chunks []Chunk) ([]db.KnowledgeChunk, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(clientID) == "" {
		return nil, errors.New("client id required")
	}
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			return nil, fmt.Errorf("chunk %d (%s/%s): empty content", i, c.SourceType, c.SourceID)
		}
		texts[i] = c.Content
	}
	vecs, err := s.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	rows := make([]db.KnowledgeChunk, len(chunks))
	for i, c := range chunks {
		rows[i] = db.KnowledgeChunk{
			ID:         ChunkID(clientID, c.SourceType, c.SourceID, c.Content),
			ClientID:   clientID,
			SourceType: c.SourceType,
			SourceID:   c.SourceID,
			Title:      c.Title,
			Content:    c.Content,
			URL:        c.URL,
			Metadata:   c.Metadata,
			Embedding:  vecs[i],
		}
	}
	return rows, nil
}

type SearchOptions struct {
	TopK        int
	MinScore    float64
	SourceTypes []string
}

// Search finds the client's chunks most similar to query.
func (s *Service) Search(ctx context.Context, clientID, query string, opts SearchOptions) ([]db.KnowledgeHit, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.MinScore == 0 {
		opts.MinScore = DefaultMinScore
	}
	vec, err := s.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.Store.SearchKnowledge(ctx, db.KnowledgeSearch{
		ClientID:    clientID,
		Embedding:   vec,
		TopK:        opts.TopK,
		MinScore:    opts.MinScore,
		SourceTypes: opts.SourceTypes,
	})
}

// Context formats the best matches for a system prompt, stopping before
// maxChars would be exceeded.
func (s *Service) Context(ctx context.Context, clientID, query string, maxChars int) (string, error) {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	hits, err := s.Search(ctx, clientID, query, SearchOptions{})
	if err != nil {
		return "", err
	}
	return FormatContext(hits, maxChars), nil
}

// FormatContext renders hits as "[TYPE] title: content | URL: url" blocks.
func FormatContext(hits []db.KnowledgeHit, maxChars int) string {
	var parts []string
	total := 0
	for _, h := range hits {
		var b strings.Builder
		b.WriteString("[" + strings.ToUpper(h.SourceType) + "] ")
		if h.Title != "" {
			b.WriteString(llm.SanitizePromptInput(h.Title) + ": ")
		}
		b.WriteString(llm.SanitizePromptInput(h.Content))
		if url := hitURL(h); url != "" {
			b.WriteString(" | URL: " + url)
		}
		part := b.String()
		if total+len(part) > maxChars {
			break
		}
		parts = append(parts, part)
		total += len(part)
	}
	return strings.Join(parts, "\n\n")
}

func hitURL(h db.KnowledgeHit) string {
	if h.URL != "" {
		return h.URL
	}
	if u, ok := h.Metadata["url"].(string); ok {
		return u
	}
	return ""
}

func (s *Service) DeleteClient(ctx context.Context, clientID string) (int64, error) {
	if s == nil || s.Store == nil {
		return 0, errors.New("knowledge base not configured")
	}
	return s.Store.DeleteKnowledgeClient(ctx, clientID)
}

func (s *Service) Stats(ctx context.Context, clientID string) (map[string]int, error) {
	if s == nil || s.Store == nil {
		return nil, errors.New("knowledge base not configured")
	}
	return s.Store.KnowledgeStats(ctx, clientID)
}
