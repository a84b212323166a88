package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/osvaldoandrade/netdemo/pkg/persistence"
)

// RetentionService deletes terminal jobs whose retention window has passed.
type RetentionService interface {
	Start(ctx context.Context)
	RunOnce(ctx context.Context) (int, error)
	// Sweep removes up to limit jobs that expired before the given time.
	Sweep(ctx context.Context, limit int, before time.Time) (int, error)
}

type retentionService struct {
	store    persistence.JobStorage
	logger   *slog.Logger
	interval time.Duration
	batch    int
	now      func() time.Time
}

func NewRetentionService(store persistence.JobStorage, logger *slog.Logger, interval time.Duration, batch int) RetentionService {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &retentionService{
		store:    store,
		logger:   logger,
		interval: interval,
		batch:    batch,
		now:      time.Now,
	}
}

func (s *retentionService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := s.RunOnce(ctx)
			if err != nil {
				s.logger.Warn("job retention sweep failed", "err", err)
				continue
			}
			if removed > 0 {
				s.logger.Info("job retention sweep removed", "count", removed)
			}
		}
	}
}

// RunOnce sweeps in batches until a short batch shows nothing is left.
func (s *retentionService) RunOnce(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := s.store.CleanupExpired(ctx, s.batch, s.now())
		total += n
		if err != nil || n < s.batch {
			return total, err
		}
	}
}

func (s *retentionService) Sweep(ctx context.Context, limit int, before time.Time) (int, error) {
	if limit <= 0 {
		limit = s.batch
	}
	return s.store.CleanupExpired(ctx, limit, before)
}
