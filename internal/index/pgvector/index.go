// Package pgvector provides a Postgres-backed VectorIndex using the
// pgvector extension. Embeddings come from a pluggable Embedder so the
// SQL layer stays testable without an embedding service.
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mgoodale/webscout/internal/research"
)

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Config controls the Postgres connection pool behind the index.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Index stores scratchpad documents with their embeddings.
type Index struct {
	pool     dbPool
	embedder Embedder
}

var _ research.VectorIndex = (*Index)(nil)

// New connects a pool and wraps it with the given embedder.
func New(ctx context.Context, cfg Config, embedder Embedder) (*Index, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("index.dsn is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Index{pool: pool, embedder: embedder}, nil
}

// NewWithPool constructs an index from an existing pool (primarily for testing).
func NewWithPool(pool dbPool, embedder Embedder) (*Index, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	return &Index{pool: pool, embedder: embedder}, nil
}

// Close releases the underlying pool resources.
func (x *Index) Close() {
	if x == nil || x.pool == nil {
		return
	}
	x.pool.Close()
}

// Upsert embeds the content and writes the document, replacing any
// prior row with the same (collection, id).
func (x *Index) Upsert(ctx context.Context, collection, id, content string, metadata map[string]any) error {
	vec, err := x.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embedding content: %w", err)
	}
	md, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	query := `
INSERT INTO scratchpad_index (collection, doc_id, content, embedding, metadata)
VALUES ($1, $2, $3, $4::vector, $5)
ON CONFLICT (collection, doc_id)
DO UPDATE SET content = EXCLUDED.content,
              embedding = EXCLUDED.embedding,
              metadata = EXCLUDED.metadata`
	if _, err := x.pool.Exec(ctx, query, collection, id, content, vectorLiteral(vec), md); err != nil {
		return fmt.Errorf("upsert index row: %w", err)
	}
	return nil
}

// Search embeds the query and returns the nearest documents by cosine
// distance, restricted to rows whose metadata contains the filter.
func (x *Index) Search(ctx context.Context, collection, query string, limit int, filter map[string]any) ([]research.IndexHit, error) {
	vec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if limit <= 0 {
		limit = 10
	}
	md, err := json.Marshal(orEmpty(filter))
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", err)
	}
	sql := `
SELECT doc_id, content, metadata, 1 - (embedding <=> $2::vector) AS score
FROM scratchpad_index
WHERE collection = $1 AND metadata @> $3
ORDER BY embedding <=> $2::vector
LIMIT $4`
	rows, err := x.pool.Query(ctx, sql, collection, vectorLiteral(vec), md, limit)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	defer rows.Close()

	var hits []research.IndexHit
	for rows.Next() {
		var hit research.IndexHit
		var rawMD []byte
		if err := rows.Scan(&hit.ID, &hit.Content, &rawMD, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		if len(rawMD) > 0 {
			if err := json.Unmarshal(rawMD, &hit.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate index rows: %w", err)
	}
	return hits, nil
}

// Delete removes rows in the collection whose metadata contains the filter.
func (x *Index) Delete(ctx context.Context, collection string, filter map[string]any) error {
	md, err := json.Marshal(orEmpty(filter))
	if err != nil {
		return fmt.Errorf("marshal filter: %w", err)
	}
	sql := `DELETE FROM scratchpad_index WHERE collection = $1 AND metadata @> $2`
	if _, err := x.pool.Exec(ctx, sql, collection, md); err != nil {
		return fmt.Errorf("delete index rows: %w", err)
	}
	return nil
}

// vectorLiteral renders a vector in pgvector's input syntax.
func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
