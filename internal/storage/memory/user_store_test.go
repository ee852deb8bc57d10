package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mgoodale/webscout/internal/research"
)

func TestUserLookup(t *testing.T) {
	ctx := context.Background()
	store := NewUserStore()
	require.NoError(t, store.AddUser(research.User{
		ID:         "u1",
		Username:   "alice",
		APIKey:     "key-abc",
		UsageQuota: 100,
		Active:     true,
	}))

	byID, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "alice", byID.Username)

	byKey, err := store.GetUserByAPIKey(ctx, "key-abc")
	require.NoError(t, err)
	require.Equal(t, "u1", byKey.ID)

	_, err = store.GetUserByAPIKey(ctx, "wrong")
	require.ErrorIs(t, err, research.ErrNotFound)
}

func TestConsumeCreditsEnforcesQuota(t *testing.T) {
	ctx := context.Background()
	store := NewUserStore()
	require.NoError(t, store.AddUser(research.User{ID: "u1", UsageQuota: 10, Active: true}))

	require.NoError(t, store.ConsumeCredits(ctx, "u1", 7))
	err := store.ConsumeCredits(ctx, "u1", 5)
	require.ErrorIs(t, err, research.ErrQuotaExceeded)

	// The failed debit must not change the count.
	user, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 7, user.UsageCount)

	require.NoError(t, store.ConsumeCredits(ctx, "u1", 3))
	user, err = store.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 10, user.UsageCount)
}

func TestConsumeCreditsConcurrent(t *testing.T) {
	ctx := context.Background()
	store := NewUserStore()
	require.NoError(t, store.AddUser(research.User{ID: "u1", UsageQuota: 50, Active: true}))

	var wg sync.WaitGroup
	errs := make([]error, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.ConsumeCredits(ctx, "u1", 1)
		}(i)
	}
	wg.Wait()

	granted := 0
	for _, err := range errs {
		if err == nil {
			granted++
		}
	}
	require.Equal(t, 50, granted)

	user, err := store.GetUser(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 50, user.UsageCount)
}
