package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mgoodale/webscout/internal/research"
)

// ScratchpadStore is the durable scratchpad layer in Postgres. Entries
// are keyed by (user_id, key); Upsert replaces in place.
type ScratchpadStore struct {
	pool dbPool
}

var _ research.ScratchpadStore = (*ScratchpadStore)(nil)

// NewScratchpadStore creates a Postgres-backed ScratchpadStore with its own pool.
// It assumes a table schema like:
//
//	CREATE TABLE scratchpad_entries (
//		user_id TEXT NOT NULL REFERENCES users(id),
//		key TEXT NOT NULL,
//		content_type TEXT NOT NULL,
//		text_content TEXT NOT NULL DEFAULT '',
//		json_content JSONB,
//		binary_content BYTEA,
//		metadata JSONB,
//		created_at TIMESTAMPTZ NOT NULL,
//		updated_at TIMESTAMPTZ NOT NULL,
//		PRIMARY KEY (user_id, key)
//	);
func NewScratchpadStore(ctx context.Context, cfg PoolConfig) (*ScratchpadStore, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &ScratchpadStore{pool: pool}, nil
}

// NewScratchpadStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewScratchpadStoreWithPool(pool dbPool) (*ScratchpadStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &ScratchpadStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *ScratchpadStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Upsert writes an entry, replacing any previous content under the
// same (user, key) pair.
func (s *ScratchpadStore) Upsert(ctx context.Context, entry *research.ScratchpadEntry) error {
	if entry.UserID == "" || entry.Key == "" {
		return fmt.Errorf("user id and key are required")
	}
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	query := `
INSERT INTO scratchpad_entries (
	user_id, key, content_type, text_content, json_content,
	binary_content, metadata, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (user_id, key) DO UPDATE SET
	content_type = EXCLUDED.content_type,
	text_content = EXCLUDED.text_content,
	json_content = EXCLUDED.json_content,
	binary_content = EXCLUDED.binary_content,
	metadata = EXCLUDED.metadata,
	updated_at = EXCLUDED.updated_at`
	args := []any{
		entry.UserID,
		entry.Key,
		entry.ContentType,
		entry.TextContent,
		[]byte(entry.JSONContent),
		entry.BinaryContent,
		metadata,
		entry.CreatedAt,
		entry.UpdatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert scratchpad entry: %w", err)
	}
	return nil
}

const scratchpadColumns = `user_id, key, content_type, text_content,
	json_content, binary_content, metadata, created_at, updated_at`

func scanScratchpadEntry(row pgx.Row) (*research.ScratchpadEntry, error) {
	var (
		entry       research.ScratchpadEntry
		jsonContent []byte
		metadata    []byte
	)
	err := row.Scan(
		&entry.UserID,
		&entry.Key,
		&entry.ContentType,
		&entry.TextContent,
		&jsonContent,
		&entry.BinaryContent,
		&metadata,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, research.ErrNotFound
		}
		return nil, fmt.Errorf("scan scratchpad entry: %w", err)
	}
	entry.JSONContent = jsonContent
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &entry, nil
}

// Get fetches one entry by (user, key).
func (s *ScratchpadStore) Get(ctx context.Context, userID, key string) (*research.ScratchpadEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM scratchpad_entries WHERE user_id = $1 AND key = $2`,
		scratchpadColumns)
	return scanScratchpadEntry(s.pool.QueryRow(ctx, query, userID, key))
}

// List returns all of a user's entries, most recently updated first.
func (s *ScratchpadStore) List(ctx context.Context, userID string) ([]*research.ScratchpadEntry, error) {
	query := fmt.Sprintf(`
SELECT %s FROM scratchpad_entries
WHERE user_id = $1
ORDER BY updated_at DESC, key`, scratchpadColumns)

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list scratchpad entries: %w", err)
	}
	defer rows.Close()

	var entries []*research.ScratchpadEntry
	for rows.Next() {
		entry, err := scanScratchpadEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list scratchpad entries: %w", err)
	}
	return entries, nil
}

// Delete removes one entry by (user, key).
func (s *ScratchpadStore) Delete(ctx context.Context, userID, key string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM scratchpad_entries WHERE user_id = $1 AND key = $2`, userID, key)
	if err != nil {
		return fmt.Errorf("delete scratchpad entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return research.ErrNotFound
	}
	return nil
}
