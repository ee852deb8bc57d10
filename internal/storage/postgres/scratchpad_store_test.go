package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/mgoodale/webscout/internal/research"
)

func TestScratchpadUpsert(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewScratchpadStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	entry := &research.ScratchpadEntry{
		UserID:      "u1",
		Key:         "initial_query",
		ContentType: "text",
		TextContent: "what changed?",
		Metadata:    map[string]any{"session_id": "s1"},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	mock.ExpectExec("INSERT INTO scratchpad_entries").
		WithArgs(
			"u1",
			"initial_query",
			"text",
			"what changed?",
			[]byte(nil),
			[]byte(nil),
			[]byte(`{"session_id":"s1"}`),
			now,
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Upsert(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScratchpadGet(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewScratchpadStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rows := pgxmock.NewRows([]string{
		"user_id", "key", "content_type", "text_content",
		"json_content", "binary_content", "metadata", "created_at", "updated_at",
	}).AddRow("u1", "plan", "json", "", []byte(`{"steps":[]}`), []byte(nil),
		[]byte(`{"source":"llm"}`), now, now)

	mock.ExpectQuery("SELECT (.+) FROM scratchpad_entries WHERE user_id").
		WithArgs("u1", "plan").
		WillReturnRows(rows)

	entry, err := store.Get(context.Background(), "u1", "plan")
	require.NoError(t, err)
	require.Equal(t, json.RawMessage(`{"steps":[]}`), entry.JSONContent)
	require.Equal(t, "llm", entry.Metadata["source"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScratchpadGetNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewScratchpadStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM scratchpad_entries WHERE user_id").
		WithArgs("u1", "missing").
		WillReturnRows(pgxmock.NewRows([]string{"user_id"}))

	_, err = store.Get(context.Background(), "u1", "missing")
	require.ErrorIs(t, err, research.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestScratchpadDeleteNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewScratchpadStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("DELETE FROM scratchpad_entries").
		WithArgs("u1", "missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.ErrorIs(t, store.Delete(context.Background(), "u1", "missing"), research.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
