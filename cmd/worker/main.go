// Command worker runs the job worker pool without the HTTP API, sharing
// the Redis queue with one or more API servers.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/osvaldoandrade/netdemo/pkg/app"
	"github.com/osvaldoandrade/netdemo/pkg/config"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.LoadConfigOptional(os.Getenv("NETDEMO_CONFIG_PATH"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] load config:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] invalid config:", err)
		os.Exit(1)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "[ERROR] init app:", err)
		os.Exit(1)
	}
	if application.Store.Backend() != "redis" {
		application.Logger.Warn("standalone worker is using the in-memory store; it will only see its own jobs")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics only; the API lives in the server process.
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			application.Logger.Error("metrics server", "err", err)
		}
	}()

	application.Workers.Start(ctx)
	application.Logger.Info("worker pool started", "concurrency", cfg.WorkerConcurrency, "sandbox", application.Executor.SandboxAvailable(ctx))
	<-ctx.Done()

	application.Logger.Info("stopping workers")
	application.Workers.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)
	_ = application.Close(shutdownCtx)
}
