package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/osvaldoandrade/netdemo/internal/demos"
	"github.com/osvaldoandrade/netdemo/internal/metrics"
	"github.com/osvaldoandrade/netdemo/internal/middleware"
	"github.com/osvaldoandrade/netdemo/internal/providers"
	"github.com/osvaldoandrade/netdemo/internal/ratelimit"
	"github.com/osvaldoandrade/netdemo/internal/registry"
	"github.com/osvaldoandrade/netdemo/internal/sandbox"
	"github.com/osvaldoandrade/netdemo/internal/services"
	"github.com/osvaldoandrade/netdemo/internal/tracing"
	"github.com/osvaldoandrade/netdemo/pkg/auth"
	"github.com/osvaldoandrade/netdemo/pkg/config"
	"github.com/osvaldoandrade/netdemo/pkg/persistence"
	_ "github.com/osvaldoandrade/netdemo/pkg/persistence/memory" // registers "memory"
	redisstore "github.com/osvaldoandrade/netdemo/pkg/persistence/redis"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

const retentionBatch = 500

type Application struct {
	Config    *config.Config
	Engine    *gin.Engine
	Logger    *slog.Logger
	Store     persistence.PluginPersistence
	Registry  *registry.Registry
	Queue     services.QueueService
	Executor  *sandbox.Executor
	Workers   services.WorkerPool
	Retention services.RetentionService
	Validator auth.Validator

	RateLimiter     ratelimit.Limiter
	TracingShutdown func(context.Context) error

	runner       sandbox.Runner
	redis        *redis.Client
	redisOwned   bool
	validatorSet bool
	logOutput    io.Writer
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithValidator replaces the validator built from cfg.Auth. A nil validator
// disables authentication.
func WithValidator(validator auth.Validator) ApplicationOption {
	return func(app *Application) error {
		app.Validator = validator
		app.validatorSet = true
		return nil
	}
}

// WithStore injects a persistence plugin instead of the configured backend.
func WithStore(store persistence.PluginPersistence) ApplicationOption {
	return func(app *Application) error {
		app.Store = store
		return nil
	}
}

// WithRedisClient shares an existing client for the store and rate limiter.
func WithRedisClient(client *redis.Client) ApplicationOption {
	return func(app *Application) error {
		app.redis = client
		return nil
	}
}

// WithRegistry replaces the built-in demo catalog.
func WithRegistry(reg *registry.Registry) ApplicationOption {
	return func(app *Application) error {
		app.Registry = reg
		return nil
	}
}

// WithRunner sets the sandbox backend instead of connecting to Docker.
func WithRunner(runner sandbox.Runner) ApplicationOption {
	return func(app *Application) error {
		app.runner = runner
		return nil
	}
}

// WithLogOutput redirects structured logs (tests).
func WithLogOutput(w io.Writer) ApplicationOption {
	return func(app *Application) error {
		app.logOutput = w
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	app := &Application{Config: cfg, logOutput: os.Stdout}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	app.Logger = newLogger(cfg, app.logOutput)
	slog.SetDefault(app.Logger)

	shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		OTLPInsecure: cfg.Tracing.Insecure(),
		SampleRatio:  sampleRatio(cfg),
	}, app.Logger)
	if err != nil {
		return nil, err
	}
	app.TracingShutdown = shutdown

	if err := app.setupStore(); err != nil {
		return nil, err
	}
	metrics.RegisterStoreCollector(app.Store.JobStorage(), app.Store.Backend(), app.Logger)

	if app.redis != nil {
		app.RateLimiter = ratelimit.NewTokenBucketLimiter(app.redis)
	} else {
		app.RateLimiter = ratelimit.NewMemoryLimiter()
	}

	if !app.validatorSet {
		v, err := middleware.NewValidator(cfg)
		if err != nil {
			return nil, err
		}
		app.Validator = v
	}

	if app.Registry == nil {
		app.Registry = demos.NewRegistry(demos.Options{})
	}
	app.setupRunner()
	app.Executor = sandbox.NewExecutor(app.Registry, sandbox.Options{
		Runner: app.runner,
		Limits: sandbox.Limits{
			CPUs:      cfg.Sandbox.CPUs,
			MemoryMB:  int64(cfg.Sandbox.MemoryMB),
			PidsLimit: int64(cfg.Sandbox.PidsLimit),
			ScratchMB: int64(cfg.Sandbox.ScratchMB),
		},
		Grace:           cfg.Sandbox.Grace(),
		AllowUnisolated: cfg.Sandbox.Unisolated(),
		Logger:          app.Logger.With("component", "executor"),
	})

	app.Queue = services.NewQueueService(app.Store.JobStorage(), app.Registry, nil)
	app.Workers = services.NewWorkerPool(app.Queue, app.Executor, app.Logger.With("component", "worker"), cfg.WorkerConcurrency, cfg.WorkerPoll())
	app.Retention = services.NewRetentionService(app.Store.JobStorage(), app.Logger.With("component", "retention"), time.Minute, retentionBatch)

	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(cfg.Tracing.ServiceName),
		middleware.LoggerMiddleware(app.Logger),
	)
	app.Engine = engine

	app.Logger.Info("application ready",
		"store", app.Store.Backend(),
		"demos", len(app.Registry.List()),
		"sandbox", app.runner != nil,
		"auth", cfg.Auth.Provider,
	)
	return app, nil
}

// Start launches background work: the retention sweeper and, unless they run
// as a separate process, the embedded workers.
func (a *Application) Start(ctx context.Context) {
	go a.Retention.Start(ctx)
	if a.Config.RunEmbeddedWorkers() {
		a.Workers.Start(ctx)
	}
}

// Close releases the store and sandbox connections. Call after the worker
// context is cancelled and Workers.Wait returned.
func (a *Application) Close(ctx context.Context) error {
	if c, ok := a.runner.(io.Closer); ok {
		_ = c.Close()
	}
	if a.TracingShutdown != nil {
		_ = a.TracingShutdown(ctx)
	}
	err := a.Store.Close()
	if a.redisOwned {
		_ = a.redis.Close()
	}
	return err
}

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := new(slog.LevelVar)
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "netdemo", "env", cfg.Env)
}

func sampleRatio(cfg *config.Config) float64 {
	if r := tracing.ParseSampleRatio(os.Getenv("OTEL_TRACES_SAMPLER_ARG")); r > 0 && r <= 1 {
		return r
	}
	return cfg.Tracing.SampleRatio
}

// setupStore prefers Redis. When Redis cannot be reached at startup the
// service degrades to the in-memory store and says so.
func (a *Application) setupStore() error {
	if a.Store != nil {
		return nil
	}
	pcfg := persistence.PluginConfig{Retention: a.Config.JobRetention()}

	if strings.EqualFold(a.Config.StoreBackend, "redis") {
		if a.redis == nil {
			client, err := providers.ConnectRedis(context.Background(), a.Config.RedisAddr, a.Config.RedisPassword, a.Config.RedisDB, 2*time.Second)
			if err != nil {
				a.Logger.Warn("redis unavailable; falling back to in-memory store", "err", err)
			} else {
				a.redis = client
				a.redisOwned = true
			}
		}
		if a.redis != nil {
			a.Store = redisstore.NewPluginWithClient(a.redis, pcfg)
			return nil
		}
	}

	store, err := persistence.NewPersistence(persistence.ProviderConfig{Type: "memory"}, pcfg)
	if err != nil {
		return err
	}
	a.Store = store
	return nil
}

func (a *Application) setupRunner() {
	if a.runner != nil || !a.Config.Sandbox.IsEnabled() {
		return
	}
	runner, err := sandbox.NewDockerRunner(a.Config.Sandbox.Image)
	if err != nil {
		a.Logger.Warn("docker client unavailable; privileged demos cannot be isolated", "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := runner.Available(ctx); err != nil {
		a.Logger.Warn("sandbox not ready", "image", a.Config.Sandbox.Image, "err", err)
	}
	a.runner = runner
}
