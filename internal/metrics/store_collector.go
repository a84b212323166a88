package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/osvaldoandrade/netdemo/pkg/persistence"
	"github.com/prometheus/client_golang/prometheus"
)

type storeCollector struct {
	store   persistence.JobStorage
	backend string
	logger  *slog.Logger

	queueDepthDesc *prometheus.Desc
	jobsStoredDesc *prometheus.Desc
}

func newStoreCollector(store persistence.JobStorage, backend string, logger *slog.Logger) *storeCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &storeCollector{
		store:   store,
		backend: backend,
		logger:  logger,
		queueDepthDesc: prometheus.NewDesc(
			"netdemo_queue_depth",
			"Current number of PENDING jobs waiting for a worker.",
			[]string{"backend"},
			nil,
		),
		jobsStoredDesc: prometheus.NewDesc(
			"netdemo_jobs_stored",
			"Current number of job records held by the store.",
			[]string{"backend"},
			nil,
		),
	}
}

func (c *storeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDepthDesc
	ch <- c.jobsStoredDesc
}

func (c *storeCollector) Collect(ch chan<- prometheus.Metric) {
	if c.store == nil {
		return
	}

	// Keep store reads bounded so scrapes do not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pending, err := c.store.PendingLength(ctx)
	if err != nil {
		c.logger.Warn("prometheus store collector failed", "err", err)
		return
	}
	stored, err := c.store.Count(ctx)
	if err != nil {
		c.logger.Warn("prometheus store collector failed", "err", err)
		return
	}
	emitGauge(ch, c.queueDepthDesc, float64(pending), c.backend)
	emitGauge(ch, c.jobsStoredDesc, float64(stored), c.backend)
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var registerStoreCollectorOnce sync.Once

func RegisterStoreCollector(store persistence.JobStorage, backend string, logger *slog.Logger) {
	registerStoreCollectorOnce.Do(func() {
		prometheus.MustRegister(newStoreCollector(store, backend, logger))
	})
}
