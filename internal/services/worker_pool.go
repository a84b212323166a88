package services

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/osvaldoandrade/netdemo/internal/backoff"
	"github.com/osvaldoandrade/netdemo/internal/metrics"
	"github.com/osvaldoandrade/netdemo/internal/sandbox"
	"github.com/osvaldoandrade/netdemo/internal/tracing"
	"github.com/osvaldoandrade/netdemo/pkg/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// JobExecutor runs one job. *sandbox.Executor implements it.
type JobExecutor interface {
	Execute(ctx context.Context, jobID, demoID string, params map[string]any) sandbox.Execution
}

type WorkerPool interface {
	// Start launches the workers and returns immediately. They stop when ctx
	// is cancelled, after finishing the job in hand.
	Start(ctx context.Context)
	// Wait blocks until every worker has returned.
	Wait()
}

type workerPool struct {
	queue       QueueService
	executor    JobExecutor
	logger      *slog.Logger
	concurrency int
	poll        time.Duration
	now         func() time.Time
	tracer      trace.Tracer
	wg          sync.WaitGroup
}

func NewWorkerPool(queue QueueService, executor JobExecutor, logger *slog.Logger, concurrency int, poll time.Duration) WorkerPool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if poll <= 0 {
		poll = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &workerPool{
		queue:       queue,
		executor:    executor,
		logger:      logger,
		concurrency: concurrency,
		poll:        poll,
		now:         time.Now,
		tracer:      tracing.Tracer(),
	}
}

func (p *workerPool) Start(ctx context.Context) {
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go func(n int) {
			defer p.wg.Done()
			p.loop(ctx, n)
		}(i)
	}
	p.logger.Info("workers started", "concurrency", p.concurrency)
}

func (p *workerPool) Wait() { p.wg.Wait() }

func (p *workerPool) loop(ctx context.Context, n int) {
	logger := p.logger.With("worker", n)
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(n)))
	failures := 0
	for ctx.Err() == nil {
		id, ok, err := p.queue.Next(ctx, p.poll)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			delay := backoff.Compute(backoff.ExpFullJitter, 200*time.Millisecond, 10*time.Second, failures, rng)
			failures++
			logger.Warn("dequeue failed", "err", err, "retry_in", delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		failures = 0
		if !ok {
			continue
		}
		p.process(ctx, logger, id)
	}
}

// process runs one job to a terminal status. A job that is already past
// PENDING (redelivered id) is skipped.
func (p *workerPool) process(ctx context.Context, logger *slog.Logger, id string) {
	job, changed, err := p.queue.Update(ctx, id, domain.StatusRunning, nil)
	if err != nil {
		var nf *domain.NotFoundError
		if errors.As(err, &nf) {
			logger.Warn("dequeued unknown job", "job_id", id)
			return
		}
		logger.Error("mark running failed", "job_id", id, "err", err)
		return
	}
	if !changed {
		logger.Info("skipping job not in pending state", "job_id", id, "status", job.Status)
		return
	}

	spanCtx := tracing.ContextWithRemoteParent(ctx, job.TraceParent, job.TraceState)
	spanCtx, span := p.tracer.Start(spanCtx, "netdemo.job.execute", trace.WithAttributes(
		attribute.String("netdemo.job_id", job.ID),
		attribute.String("netdemo.demo_id", job.DemoID),
	))
	defer span.End()

	start := p.now()
	exec := p.executor.Execute(spanCtx, job.ID, job.DemoID, job.Parameters)

	status := domain.StatusCompleted
	switch {
	case exec.TimedOut:
		status = domain.StatusTimeout
	case !exec.Result.Success:
		status = domain.StatusFailed
	}
	span.SetAttributes(
		attribute.String("netdemo.status", string(status)),
		attribute.String("netdemo.isolation", string(exec.Mode)),
	)
	if status != domain.StatusCompleted {
		span.SetStatus(codes.Error, exec.Result.Error)
	}

	// The terminal write must land even if shutdown cancelled ctx meanwhile.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	result := exec.Result
	if _, _, err := p.queue.Update(writeCtx, job.ID, status, &result); err != nil {
		logger.Error("record result failed", "job_id", job.ID, "status", status, "err", err)
		span.RecordError(err)
		return
	}

	elapsed := p.now().Sub(start)
	metrics.JobsFinishedTotal.WithLabelValues(job.DemoID, string(status)).Inc()
	metrics.JobExecutionSeconds.WithLabelValues(job.DemoID, string(status)).Observe(elapsed.Seconds())
	logger.Info("job finished", "job_id", job.ID, "demo", job.DemoID, "status", status, "isolation", exec.Mode, "duration_ms", elapsed.Milliseconds())
}
