package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mgoodale/webscout/internal/research"
)

func newJob(id, userID string) *research.Job {
	return &research.Job{
		ID:        id,
		UserID:    userID,
		Query:     "test query",
		Status:    research.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

func TestJobLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()

	require.NoError(t, store.CreateJob(ctx, newJob("j1", "u1")))
	require.Error(t, store.CreateJob(ctx, newJob("j1", "u1")))

	got, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, research.StatusPending, got.Status)
	require.Nil(t, got.StartedAt)

	require.NoError(t, store.UpdateJobStatus(ctx, "j1", research.StatusRunning, ""))
	got, err = store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, got.StartedAt)
	require.Nil(t, got.CompletedAt)

	require.NoError(t, store.UpdateJobStatus(ctx, "j1", research.StatusCompleted, ""))
	got, err = store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, got.CompletedAt)
}

func TestUpdateJobStatusRejectsTerminalTransition(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()

	require.NoError(t, store.CreateJob(ctx, newJob("j1", "u1")))
	require.NoError(t, store.UpdateJobStatus(ctx, "j1", research.StatusFailed, "provider down"))

	err := store.UpdateJobStatus(ctx, "j1", research.StatusRunning, "")
	require.ErrorIs(t, err, research.ErrTerminal)

	got, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, research.StatusFailed, got.Status)
	require.Equal(t, "provider down", got.ErrorMessage)
}

func TestGetJobNotFound(t *testing.T) {
	_, err := NewJobStore().GetJob(context.Background(), "nope")
	require.ErrorIs(t, err, research.ErrNotFound)
}

func TestListJobsFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()

	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		job := newJob(id, "u1")
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.CreateJob(ctx, job))
	}
	require.NoError(t, store.CreateJob(ctx, newJob("other", "u2")))

	jobs, err := store.ListJobs(ctx, "u1", 2, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	require.Equal(t, "c", jobs[0].ID)
	require.Equal(t, "b", jobs[1].ID)

	jobs, err = store.ListJobs(ctx, "u1", 2, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "a", jobs[0].ID)
}

func TestResultsFollowJob(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()

	require.NoError(t, store.CreateJob(ctx, newJob("j1", "u1")))
	require.NoError(t, store.CreateResult(ctx, &research.Result{ID: "r1", JobID: "j1", Content: "first"}))
	require.NoError(t, store.CreateResult(ctx, &research.Result{ID: "r2", JobID: "j1", Content: "second"}))

	err := store.CreateResult(ctx, &research.Result{ID: "r3", JobID: "missing"})
	require.ErrorIs(t, err, research.ErrNotFound)

	results, err := store.ListResults(ctx, "j1")
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "r1", results[0].ID)

	require.NoError(t, store.DeleteJob(ctx, "j1"))
	results, err = store.ListResults(ctx, "j1")
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSetProviderJobID(t *testing.T) {
	ctx := context.Background()
	store := NewJobStore()

	require.NoError(t, store.CreateJob(ctx, newJob("j1", "u1")))
	require.NoError(t, store.SetProviderJobID(ctx, "j1", "fc-123"))

	got, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, "fc-123", got.ProviderJobID)
}
