package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/osvaldoandrade/netdemo/internal/metrics"
	"github.com/osvaldoandrade/netdemo/internal/registry"
	"github.com/osvaldoandrade/netdemo/internal/tracing"
	"github.com/osvaldoandrade/netdemo/pkg/domain"
	"github.com/osvaldoandrade/netdemo/pkg/persistence"

	"github.com/google/uuid"
)

// ErrDuplicateJob is returned by Submit when a caller-supplied id is taken.
var ErrDuplicateJob = errors.New("job id already exists")

type QueueService interface {
	// Submit validates the parameters against the registry and enqueues a
	// PENDING job. An empty jobID gets a generated one.
	Submit(ctx context.Context, jobID, demoID string, params map[string]any) (*domain.Job, error)
	// Status returns the current snapshot or a *domain.NotFoundError.
	Status(ctx context.Context, jobID string) (*domain.Job, error)
	// Update applies a state-machine transition. Repeating a terminal status
	// is a no-op that returns the stored job.
	Update(ctx context.Context, jobID string, status domain.JobStatus, result *domain.ExecutionResult) (*domain.Job, bool, error)
	// Next pops the oldest pending job id, waiting up to wait.
	Next(ctx context.Context, wait time.Duration) (string, bool, error)
}

type queueService struct {
	store    persistence.JobStorage
	registry *registry.Registry
	now      func() time.Time
}

func NewQueueService(store persistence.JobStorage, reg *registry.Registry, now func() time.Time) QueueService {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &queueService{store: store, registry: reg, now: now}
}

func (s *queueService) Submit(ctx context.Context, jobID, demoID string, params map[string]any) (*domain.Job, error) {
	demoID = strings.TrimSpace(demoID)
	if _, err := s.registry.Validate(demoID, params); err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			metrics.JobsRejectedTotal.WithLabelValues("unknown_demo").Inc()
		} else {
			metrics.JobsRejectedTotal.WithLabelValues("validation").Inc()
		}
		return nil, err
	}
	if jobID == "" {
		jobID = uuid.NewString()
	}

	job := domain.NewJob(jobID, demoID, params, s.now())
	job.TraceParent, job.TraceState = tracing.TraceContextStrings(ctx)
	if err := s.store.Submit(ctx, job); err != nil {
		if errors.Is(err, persistence.ErrAlreadyExists) {
			metrics.JobsRejectedTotal.WithLabelValues("duplicate").Inc()
			return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, jobID)
		}
		return nil, err
	}
	metrics.JobsSubmittedTotal.WithLabelValues(demoID).Inc()
	return job, nil
}

func (s *queueService) Status(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, domain.JobNotFound(jobID)
	}
	return job, err
}

func (s *queueService) Update(ctx context.Context, jobID string, status domain.JobStatus, result *domain.ExecutionResult) (*domain.Job, bool, error) {
	job, changed, err := s.store.Update(ctx, jobID, status, result)
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, false, domain.JobNotFound(jobID)
	}
	return job, changed, err
}

func (s *queueService) Next(ctx context.Context, wait time.Duration) (string, bool, error) {
	return s.store.Dequeue(ctx, wait)
}
