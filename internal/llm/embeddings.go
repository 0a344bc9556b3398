package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"harbor/internal/config"
)

const (
	embeddingPrefix   = "Represent this sentence: "
	maxEmbeddingChars = 8000
	maxEmbeddingBatch = 64
)

// Embedder turns text into vectors for the knowledge base.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// EmbeddingClient calls an OpenAI-compatible embeddings endpoint and keeps
// recent vectors in an LRU cache.
type EmbeddingClient struct {
	APIBase    string
	APIKey     string
	Model      string
	Dims       int
	HTTPClient *http.Client

	cache *lru.Cache[string, []float32]
}

func NewEmbeddingClient(cfg config.EmbeddingsConfig) (*EmbeddingClient, error) {
	if strings.TrimSpace(cfg.APIBase) == "" {
		return nil, errors.New("embeddings api_base required")
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 10000
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &EmbeddingClient{
		APIBase:    cfg.APIBase,
		APIKey:     cfg.APIKey,
		Model:      cfg.Model,
		Dims:       cfg.Dimensions,
		HTTPClient: &http.Client{Timeout: timeout},
		cache:      cache,
	}, nil
}

// PrepareEmbeddingText normalizes text the way the retrieval model expects.
func PrepareEmbeddingText(text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if r := []rune(text); len(r) > maxEmbeddingChars {
		text = string(r[:maxEmbeddingChars])
	}
	return embeddingPrefix + text
}

func (c *EmbeddingClient) Dimensions() int {
	if c.Dims <= 0 {
		return 1024
	}
	return c.Dims
}

func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds texts in order, serving repeats from the cache.
func (c *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errors.New("no texts provided")
	}
	results := make([][]float32, len(texts))
	var missIdx []int
	var missText []string
	for i, t := range texts {
		prepared := PrepareEmbeddingText(t)
		if c.cache != nil {
			if v, ok := c.cache.Get(prepared); ok {
				results[i] = v
				continue
			}
		}
		missIdx = append(missIdx, i)
		missText = append(missText, prepared)
	}
	for start := 0; start < len(missText); start += maxEmbeddingBatch {
		end := min(start+maxEmbeddingBatch, len(missText))
		vecs, err := c.call(ctx, missText[start:end])
		if err != nil {
			return nil, err
		}
		for j, v := range vecs {
			idx := missIdx[start+j]
			results[idx] = v
			if c.cache != nil {
				c.cache.Add(missText[start+j], v)
			}
		}
	}
	return results, nil
}

func (c *EmbeddingClient) call(ctx context.Context, inputs []string) ([][]float32, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	body, err := marshalJSON(embeddingRequest{Model: c.Model, Input: inputs})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint(c.APIBase, defaultOpenAIBase, "/embeddings"), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("embeddings status %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	vecs := make([][]float32, len(inputs))
	for _, item := range out.Data {
		if item.Index < 0 || item.Index >= len(vecs) {
			return nil, fmt.Errorf("invalid embedding index: %d", item.Index)
		}
		vecs[item.Index] = item.Embedding
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
		if len(v) != c.Dimensions() {
			return nil, fmt.Errorf("embedding dimension %d, want %d", len(v), c.Dimensions())
		}
	}
	return vecs, nil
}
