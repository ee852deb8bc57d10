package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mgoodale/webscout/internal/research"
)

func TestBlobStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewBlobStore()

	uri, err := store.Put(ctx, "jobs/j1/screenshot.png", []byte{0x89, 0x50}, "image/png")
	require.NoError(t, err)
	require.Equal(t, "memory://jobs/j1/screenshot.png", uri)

	data, err := store.Get(ctx, "jobs/j1/screenshot.png")
	require.NoError(t, err)
	require.Equal(t, []byte{0x89, 0x50}, data)

	require.NoError(t, store.Delete(ctx, "jobs/j1/screenshot.png"))
	_, err = store.Get(ctx, "jobs/j1/screenshot.png")
	require.ErrorIs(t, err, research.ErrNotFound)
}
