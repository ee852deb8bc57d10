package postgres

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/mgoodale/webscout/internal/research"
)

func userRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "username", "api_key", "provider_key", "anthropic_key",
		"usage_quota", "usage_count", "active",
	})
}

func TestGetUserByAPIKey(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewUserStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM users WHERE api_key").
		WithArgs("key-1").
		WillReturnRows(userRows().AddRow("u1", "alice", "key-1", "fc", "an", 100, 3, true))

	user, err := store.GetUserByAPIKey(context.Background(), "key-1")
	require.NoError(t, err)
	require.Equal(t, "u1", user.ID)
	require.Equal(t, 3, user.UsageCount)
	require.True(t, user.Active)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeCreditsSucceeds(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewUserStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE users SET usage_count").
		WithArgs("u1", 5).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.ConsumeCredits(context.Background(), "u1", 5))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeCreditsQuotaExceeded(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewUserStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE users SET usage_count").
		WithArgs("u1", 500).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs("u1").
		WillReturnRows(userRows().AddRow("u1", "alice", "key-1", "fc", "an", 100, 99, true))

	err = store.ConsumeCredits(context.Background(), "u1", 500)
	require.ErrorIs(t, err, research.ErrQuotaExceeded)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeCreditsInactiveUser(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewUserStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE users SET usage_count").
		WithArgs("u2", 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs("u2").
		WillReturnRows(userRows().AddRow("u2", "bob", "key-2", "fc", "an", 100, 0, false))

	err = store.ConsumeCredits(context.Background(), "u2", 1)
	require.ErrorIs(t, err, research.ErrUserInactive)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeCreditsUnknownUser(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewUserStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE users SET usage_count").
		WithArgs("ghost", 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs("ghost").
		WillReturnRows(userRows())

	err = store.ConsumeCredits(context.Background(), "ghost", 1)
	require.ErrorIs(t, err, research.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
