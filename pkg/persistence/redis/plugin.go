package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/osvaldoandrade/netdemo/internal/repository"
	"github.com/osvaldoandrade/netdemo/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

// Config holds Redis-specific configuration
type Config struct {
	Addr     string `json:"addr"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
}

// Plugin implements PluginPersistence for Redis/KVRocks
type Plugin struct {
	client  *redis.Client
	owned   bool
	jobRepo persistence.JobStorage
}

// NewPlugin creates a new Redis persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	var cfg Config
	if len(config.Config) > 0 {
		if err := json.Unmarshal(config.Config, &cfg); err != nil {
			return nil, fmt.Errorf("redis persistence config: %w", err)
		}
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis persistence config: addr is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	p := NewPluginWithClient(client, config)
	p.owned = true
	return p, nil
}

// NewPluginWithClient shares an existing client (the rate limiter and the
// metrics collector use the same connection pool).
func NewPluginWithClient(client *redis.Client, config persistence.PluginConfig) *Plugin {
	return &Plugin{
		client:  client,
		jobRepo: repository.NewJobRepository(client, config.RetentionOrDefault(), config.Now),
	}
}

// JobStorage returns the job storage implementation
func (p *Plugin) JobStorage() persistence.JobStorage {
	return p.jobRepo
}

func (p *Plugin) Backend() string { return "redis" }

// Health checks if Redis is healthy
func (p *Plugin) Health(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases the Redis connection when the plugin created it
func (p *Plugin) Close() error {
	if !p.owned {
		return nil
	}
	return p.client.Close()
}

func init() {
	persistence.RegisterProvider("redis", NewPlugin)
}
