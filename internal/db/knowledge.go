package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// KnowledgeChunk is one embedded piece of a client's knowledge base.
type KnowledgeChunk struct {
	ID         string         `json:"id"`
	ClientID   string         `json:"client_id"`
	SourceType string         `json:"source_type"`
	SourceID   string         `json:"source_id"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	URL        string         `json:"url"`
	Metadata   map[string]any `json:"metadata"`
	Embedding  []float32      `json:"-"`
}

// KnowledgeHit is a chunk returned by similarity search.
type KnowledgeHit struct {
	ID         string         `json:"id"`
	SourceType string         `json:"source_type"`
	SourceID   string         `json:"source_id"`
	Title      string         `json:"title"`
	Content    string         `json:"content"`
	URL        string         `json:"url"`
	Metadata   map[string]any `json:"metadata"`
	Score      float64        `json:"score"`
}

// KnowledgeSearch selects chunks for one client.
type KnowledgeSearch struct {
	ClientID    string
	Embedding   []float32
	TopK        int
	MinScore    float64
	SourceTypes []string
}

const upsertChunkSQL = `
	INSERT INTO knowledge_chunks (id, client_id, source_type, source_id, title, content, url, metadata, embedding, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9::vector, now())
	ON CONFLICT (id) DO UPDATE SET
		title = EXCLUDED.title,
		content = EXCLUDED.content,
		url = EXCLUDED.url,
		metadata = EXCLUDED.metadata,
		embedding = EXCLUDED.embedding,
		updated_at = now()
`

// UpsertKnowledgeChunks writes chunks in one transaction.
func (d *DB) UpsertKnowledgeChunks(ctx context.Context, chunks []KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return d.withTx(ctx, func(conn dbConn) error {
		for _, c := range chunks {
			if err := upsertChunk(ctx, conn, c); err != nil {
				return err
			}
		}
		return nil
	})
}

func upsertChunk(ctx context.Context, conn dbConn, c KnowledgeChunk) error {
	if c.ID == "" || c.ClientID == "" {
		return errors.New("chunk id and client id required")
	}
	vec, err := vectorLiteral(c.Embedding)
	if err != nil {
		return fmt.Errorf("chunk %s: %w", c.ID, err)
	}
	meta := c.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, upsertChunkSQL,
		c.ID, c.ClientID, c.SourceType, c.SourceID, c.Title, c.Content, c.URL, string(metaJSON), vec)
	return err
}

// SearchKnowledge returns up to TopK chunks scoring above MinScore by cosine
// similarity, best first.
func (d *DB) SearchKnowledge(ctx context.Context, s KnowledgeSearch) ([]KnowledgeHit, error) {
	if s.ClientID == "" {
		return nil, errors.New("client id required")
	}
	vec, err := vectorLiteral(s.Embedding)
	if err != nil {
		return nil, err
	}
	topK := s.TopK
	if topK <= 0 {
		topK = 5
	}
	var types any
	if len(s.SourceTypes) > 0 {
		types = pq.Array(s.SourceTypes)
	}
	query := `SELECT COALESCE(jsonb_agg(
		jsonb_build_object(
			'id', id,
			'source_type', source_type,
			'source_id', source_id,
			'title', title,
			'content', content,
			'url', url,
			'metadata', metadata,
			'score', score
		) ORDER BY score DESC
	), '[]'::jsonb)
	FROM (
		SELECT id, source_type, source_id, title, content, url, metadata,
			1 - (embedding <=> $2::vector) AS score
		FROM knowledge_chunks
		WHERE client_id = $1
			AND 1 - (embedding <=> $2::vector) > $4
			AND ($5::text[] IS NULL OR source_type = ANY($5::text[]))
		ORDER BY embedding <=> $2::vector
		LIMIT $3
	) AS hits`
	row := d.conn.QueryRowContext(ctx, query, s.ClientID, vec, topK, s.MinScore, types)
	var out []byte
	if err := row.Scan(&out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	var hits []KnowledgeHit
	if err := json.Unmarshal(out, &hits); err != nil {
		return nil, err
	}
	return hits, nil
}

// DeleteKnowledgeClient removes every chunk for a client and reports how many.
func (d *DB) DeleteKnowledgeClient(ctx context.Context, clientID string) (int64, error) {
	if clientID == "" {
		return 0, errors.New("client id required")
	}
	res, err := d.conn.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE client_id=$1`, clientID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ReplaceKnowledgeClient swaps a client's chunks for chunks atomically.
func (d *DB) ReplaceKnowledgeClient(ctx context.Context, clientID string, chunks []KnowledgeChunk) error {
	if clientID == "" {
		return errors.New("client id required")
	}
	return d.withTx(ctx, func(conn dbConn) error {
		if _, err := conn.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE client_id=$1`, clientID); err != nil {
			return err
		}
		for _, c := range chunks {
			if c.ClientID != clientID {
				return fmt.Errorf("chunk %s belongs to %s", c.ID, c.ClientID)
			}
			if err := upsertChunk(ctx, conn, c); err != nil {
				return err
			}
		}
		return nil
	})
}

// KnowledgeStats counts a client's chunks per source type.
func (d *DB) KnowledgeStats(ctx context.Context, clientID string) (map[string]int, error) {
	query := `SELECT COALESCE(jsonb_object_agg(source_type, n), '{}'::jsonb)
	FROM (
		SELECT source_type, count(*) AS n
		FROM knowledge_chunks
		WHERE client_id = $1
		GROUP BY source_type
	) AS counts`
	row := d.conn.QueryRowContext(ctx, query, clientID)
	var out []byte
	if err := row.Scan(&out); err != nil {
		return nil, err
	}
	stats := map[string]int{}
	if len(out) == 0 {
		return stats, nil
	}
	if err := json.Unmarshal(out, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}
