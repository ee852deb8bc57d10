// Package memory provides in-memory store implementations for
// development and testing.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/mgoodale/webscout/internal/research"
)

// JobStore keeps jobs and results in process memory.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]research.Job
	results map[string][]research.Result
}

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[string]research.Job),
		results: make(map[string][]research.Result),
	}
}

var _ research.JobStore = (*JobStore)(nil)

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job *research.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = *job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, id string) (*research.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, research.ErrNotFound
	}
	out := job
	return &out, nil
}

// ListJobs returns the user's jobs newest first.
func (s *JobStore) ListJobs(_ context.Context, userID string, limit, offset int) ([]*research.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var jobs []*research.Job
	for _, job := range s.jobs {
		if job.UserID != userID {
			continue
		}
		j := job
		jobs = append(jobs, &j)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if offset >= len(jobs) {
		return nil, nil
	}
	jobs = jobs[offset:]
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// UpdateJobStatus transitions a job, rejecting updates out of terminal
// states and stamping started/completed times.
func (s *JobStore) UpdateJobStatus(_ context.Context, id string, status research.JobStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return research.ErrNotFound
	}
	if job.Status.Terminal() {
		return research.ErrTerminal
	}
	job.Status = status
	job.ErrorMessage = errorMessage
	now := time.Now().UTC()
	if status == research.StatusRunning && job.StartedAt == nil {
		job.StartedAt = pointerTime(now)
	}
	if status.Terminal() {
		job.CompletedAt = pointerTime(now)
	}
	s.jobs[id] = job
	return nil
}

// SetProviderJobID records the provider's async job handle.
func (s *JobStore) SetProviderJobID(_ context.Context, id, providerJobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return research.ErrNotFound
	}
	job.ProviderJobID = providerJobID
	s.jobs[id] = job
	return nil
}

// DeleteJob removes a job and its results.
func (s *JobStore) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return research.ErrNotFound
	}
	delete(s.jobs, id)
	delete(s.results, id)
	return nil
}

// CreateResult appends a result row for a job.
func (s *JobStore) CreateResult(_ context.Context, result *research.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[result.JobID]; !ok {
		return research.ErrNotFound
	}
	s.results[result.JobID] = append(s.results[result.JobID], *result)
	return nil
}

// ListResults returns all results for a job in insertion order.
func (s *JobStore) ListResults(_ context.Context, jobID string) ([]*research.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.results[jobID]
	out := make([]*research.Result, len(rows))
	for i := range rows {
		r := rows[i]
		out[i] = &r
	}
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
