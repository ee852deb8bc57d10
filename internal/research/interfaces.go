package research

import (
	"context"
	"time"
)

// JobStore persists jobs and their results.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, userID string, limit, offset int) ([]*Job, error)
	// UpdateJobStatus transitions a job. It returns ErrTerminal when the
	// job has already completed or failed.
	UpdateJobStatus(ctx context.Context, id string, status JobStatus, errorMessage string) error
	SetProviderJobID(ctx context.Context, id, providerJobID string) error
	DeleteJob(ctx context.Context, id string) error

	CreateResult(ctx context.Context, result *Result) error
	ListResults(ctx context.Context, jobID string) ([]*Result, error)
}

// UserStore resolves accounts and enforces quota.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByAPIKey(ctx context.Context, apiKey string) (*User, error)
	// ConsumeCredits atomically adds credits to the user's usage count,
	// failing with ErrQuotaExceeded if the quota would be exceeded.
	ConsumeCredits(ctx context.Context, userID string, credits int) error
}

// ScratchpadStore is the durable key-value layer behind the scratchpad.
// Upsert replaces any existing entry with the same (user, key) pair.
type ScratchpadStore interface {
	Upsert(ctx context.Context, entry *ScratchpadEntry) error
	Get(ctx context.Context, userID, key string) (*ScratchpadEntry, error)
	List(ctx context.Context, userID string) ([]*ScratchpadEntry, error)
	Delete(ctx context.Context, userID, key string) error
}

// VectorIndex is the best-effort semantic recall layer. Implementations
// group documents by collection; a failed call must not corrupt the
// durable scratchpad state.
type VectorIndex interface {
	Upsert(ctx context.Context, collection, id, content string, metadata map[string]any) error
	Search(ctx context.Context, collection, query string, limit int, filter map[string]any) ([]IndexHit, error)
	Delete(ctx context.Context, collection string, filter map[string]any) error
}

// Queue hands jobs from submission to the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
	Close() error
}

// Publisher emits job lifecycle events to interested consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Close() error
}

// BlobStore holds large binary artifacts such as screenshots.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces unique identifiers for jobs and results.
type IDGenerator interface {
	NewID() string
}
