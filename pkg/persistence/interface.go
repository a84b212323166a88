package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/osvaldoandrade/netdemo/pkg/domain"
)

var (
	// ErrNotFound is returned when a job id does not exist
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a job id is already stored
	ErrAlreadyExists = errors.New("already exists")
)

// DefaultCleanupLimit applies when CleanupExpired is called with limit <= 0.
const DefaultCleanupLimit = 1000

// PluginPersistence provides storage operations for persistence plugins.
// This is the main interface that all persistence backends must implement.
type PluginPersistence interface {
	// JobStorage returns the job storage implementation
	JobStorage() JobStorage

	// Backend names the provider ("memory", "redis")
	Backend() string

	// Health checks if the persistence backend is healthy
	Health(ctx context.Context) error

	// Close releases resources held by the persistence backend
	Close() error
}

// JobStorage is the job store plus its FIFO pending queue. Implementations
// must be safe for concurrent use by many producers and consumers.
type JobStorage interface {
	// Submit stores a PENDING job and appends its id to the pending queue.
	// Returns ErrAlreadyExists when the id is taken.
	Submit(ctx context.Context, job *domain.Job) error

	// Get returns a snapshot of the job. Returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*domain.Job, error)

	// Update applies a status change through domain.Job.Transition. changed is
	// false when the update was a no-op (duplicate or late RUNNING).
	Update(ctx context.Context, id string, status domain.JobStatus, result *domain.ExecutionResult) (job *domain.Job, changed bool, err error)

	// Dequeue pops the oldest pending id, waiting up to wait for one to
	// arrive. ok is false when nothing was available.
	Dequeue(ctx context.Context, wait time.Duration) (id string, ok bool, err error)

	// PendingLength returns the number of queued ids
	PendingLength(ctx context.Context) (int64, error)

	// Count returns the number of stored jobs
	Count(ctx context.Context) (int64, error)

	// CleanupExpired removes up to limit terminal jobs whose retention
	// expired before the given time, oldest first. A limit <= 0 means
	// DefaultCleanupLimit.
	CleanupExpired(ctx context.Context, limit int, before time.Time) (int, error)
}
