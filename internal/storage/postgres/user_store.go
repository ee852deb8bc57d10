package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/mgoodale/webscout/internal/research"
)

// UserStore resolves accounts and enforces quota in Postgres.
type UserStore struct {
	pool dbPool
}

var _ research.UserStore = (*UserStore)(nil)

// NewUserStore creates a Postgres-backed UserStore with its own pool.
// It assumes a table schema like:
//
//	CREATE TABLE users (
//		id TEXT PRIMARY KEY,
//		username TEXT NOT NULL,
//		api_key TEXT NOT NULL UNIQUE,
//		provider_key TEXT NOT NULL DEFAULT '',
//		anthropic_key TEXT NOT NULL DEFAULT '',
//		usage_quota INT NOT NULL DEFAULT 0,
//		usage_count INT NOT NULL DEFAULT 0,
//		active BOOLEAN NOT NULL DEFAULT TRUE
//	);
func NewUserStore(ctx context.Context, cfg PoolConfig) (*UserStore, error) {
	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &UserStore{pool: pool}, nil
}

// NewUserStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewUserStoreWithPool(pool dbPool) (*UserStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &UserStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *UserStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const userColumns = `id, username, api_key, provider_key, anthropic_key,
	usage_quota, usage_count, active`

func scanUser(row pgx.Row) (*research.User, error) {
	var u research.User
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.APIKey,
		&u.ProviderKey,
		&u.AnthropicKey,
		&u.UsageQuota,
		&u.UsageCount,
		&u.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, research.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// GetUser fetches an account by id.
func (s *UserStore) GetUser(ctx context.Context, id string) (*research.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	return scanUser(s.pool.QueryRow(ctx, query, id))
}

// GetUserByAPIKey fetches an account by its API key.
func (s *UserStore) GetUserByAPIKey(ctx context.Context, apiKey string) (*research.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE api_key = $1`, userColumns)
	return scanUser(s.pool.QueryRow(ctx, query, apiKey))
}

// ConsumeCredits adds credits to the usage count in a single guarded
// update, so concurrent submissions cannot overdraw the quota.
func (s *UserStore) ConsumeCredits(ctx context.Context, userID string, credits int) error {
	if credits <= 0 {
		return fmt.Errorf("credits must be positive")
	}
	query := `
UPDATE users SET usage_count = usage_count + $2
WHERE id = $1 AND active AND usage_count + $2 <= usage_quota`

	tag, err := s.pool.Exec(ctx, query, userID, credits)
	if err != nil {
		return fmt.Errorf("consume credits: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing updated: the guard failed, the account is inactive, or
	// the user does not exist. Read the row to report which.
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.Active {
		return research.ErrUserInactive
	}
	return research.ErrQuotaExceeded
}
