package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port                int    `yaml:"port"`
	Env                 string `yaml:"env"`
	LogLevel            string `yaml:"logLevel"`
	LogFormat           string `yaml:"logFormat"`
	StoreBackend        string `yaml:"storeBackend"`
	RedisAddr           string `yaml:"redisAddr"`
	RedisPassword       string `yaml:"redisPassword"`
	RedisDB             int    `yaml:"redisDB"`
	JobRetentionSeconds int    `yaml:"jobRetentionSeconds"`
	WorkerConcurrency   int    `yaml:"workerConcurrency"`
	EmbeddedWorkers     *bool  `yaml:"embeddedWorkers"`
	WorkerPollSeconds   int    `yaml:"workerPollSeconds"`

	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type SandboxConfig struct {
	Enabled         *bool   `yaml:"enabled"`
	Image           string  `yaml:"image"`
	CPUs            float64 `yaml:"cpus"`
	MemoryMB        int     `yaml:"memoryMB"`
	PidsLimit       int     `yaml:"pidsLimit"`
	ScratchMB       int     `yaml:"scratchMB"`
	GraceSeconds    int     `yaml:"graceSeconds"`
	AllowUnisolated *bool   `yaml:"allowUnisolated"`
}

type AuthConfig struct {
	// Provider is one of none, static, jwt
	Provider    string `yaml:"provider"`
	Token       string `yaml:"token"`
	JWTSecret   string `yaml:"jwtSecret"`
	JWTIssuer   string `yaml:"jwtIssuer"`
	JWTAudience string `yaml:"jwtAudience"`
}

type RateLimitBucket struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	BurstSize         int `yaml:"burstSize"`
}

type RateLimitConfig struct {
	Submit RateLimitBucket `yaml:"submit"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"serviceName"`
	OTLPEndpoint string  `yaml:"otlpEndpoint"`
	OTLPInsecure *bool   `yaml:"otlpInsecure"`
	SampleRatio  float64 `yaml:"sampleRatio"`
}

// LoadConfig reads filePath, applies environment overrides and defaults.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", filePath, err)
	}
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

// LoadConfigOptional is LoadConfig where an empty path or a missing file
// yields environment overrides on top of defaults.
func LoadConfigOptional(filePath string) (*Config, error) {
	if strings.TrimSpace(filePath) != "" {
		c, err := LoadConfig(filePath)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	var c Config
	c.applyEnv()
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	if v := os.Getenv("NETDEMO_ENV"); v != "" {
		c.Env = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		c.StoreBackend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisPassword = v
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.WorkerConcurrency = n
		}
	}
	if v := os.Getenv("SANDBOX_IMAGE"); v != "" {
		c.Sandbox.Image = v
	}
	if v := os.Getenv("SANDBOX_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Sandbox.Enabled = &b
		}
	}
	if v := os.Getenv("AUTH_TOKEN"); v != "" {
		c.Auth.Token = v
		if c.Auth.Provider == "" {
			c.Auth.Provider = "static"
		}
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
		if c.Auth.Provider == "" {
			c.Auth.Provider = "jwt"
		}
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Tracing.OTLPEndpoint = v
		c.Tracing.Enabled = true
	}
	if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		c.Tracing.ServiceName = v
	}
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.Env == "" {
		c.Env = "dev"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.StoreBackend == "" {
		c.StoreBackend = "redis"
	}
	if c.RedisAddr == "" {
		c.RedisAddr = "localhost:6379"
	}
	if c.JobRetentionSeconds <= 0 {
		c.JobRetentionSeconds = 3600
	}
	if c.WorkerConcurrency <= 0 {
		c.WorkerConcurrency = 2
	}
	if c.EmbeddedWorkers == nil {
		c.EmbeddedWorkers = boolPtr(true)
	}
	if c.WorkerPollSeconds <= 0 {
		c.WorkerPollSeconds = 2
	}

	s := &c.Sandbox
	if s.Enabled == nil {
		s.Enabled = boolPtr(true)
	}
	if s.Image == "" {
		s.Image = "netdemo-sandbox:latest"
	}
	if s.CPUs <= 0 {
		s.CPUs = 1.0
	}
	if s.MemoryMB <= 0 {
		s.MemoryMB = 512
	}
	if s.PidsLimit <= 0 {
		s.PidsLimit = 100
	}
	if s.ScratchMB <= 0 {
		s.ScratchMB = 100
	}
	if s.GraceSeconds <= 0 {
		s.GraceSeconds = 5
	}
	if s.AllowUnisolated == nil {
		s.AllowUnisolated = boolPtr(c.IsDev())
	}

	if c.Auth.Provider == "" {
		c.Auth.Provider = "none"
	}
	if c.Auth.JWTAudience == "" {
		c.Auth.JWTAudience = "netdemo"
	}

	if c.RateLimit.Submit.RequestsPerMinute <= 0 {
		c.RateLimit.Submit.RequestsPerMinute = 30
	}
	if c.RateLimit.Submit.BurstSize <= 0 {
		c.RateLimit.Submit.BurstSize = 10
	}

	t := &c.Tracing
	if t.ServiceName == "" {
		t.ServiceName = "netdemo"
	}
	if t.OTLPEndpoint == "" {
		t.OTLPEndpoint = "localhost:4317"
	}
	if t.OTLPInsecure == nil {
		t.OTLPInsecure = boolPtr(true)
	}
	if t.SampleRatio <= 0 || t.SampleRatio > 1 {
		t.SampleRatio = 1.0
	}
}

func boolPtr(b bool) *bool { return &b }

func (c *Config) IsDev() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), "dev")
}

func (c *Config) JobRetention() time.Duration {
	return time.Duration(c.JobRetentionSeconds) * time.Second
}

func (c *Config) WorkerPoll() time.Duration {
	return time.Duration(c.WorkerPollSeconds) * time.Second
}

func (c *Config) RunEmbeddedWorkers() bool { return c.EmbeddedWorkers == nil || *c.EmbeddedWorkers }

func (s SandboxConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

func (s SandboxConfig) Unisolated() bool { return s.AllowUnisolated != nil && *s.AllowUnisolated }

func (s SandboxConfig) Grace() time.Duration { return time.Duration(s.GraceSeconds) * time.Second }

func (t TracingConfig) Insecure() bool { return t.OTLPInsecure == nil || *t.OTLPInsecure }

func (c *Config) Validate() error {
	var errs []string

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}
	switch strings.ToLower(c.StoreBackend) {
	case "redis":
		if strings.TrimSpace(c.RedisAddr) == "" {
			errs = append(errs, "redisAddr is required when storeBackend is redis")
		}
	case "memory":
	default:
		errs = append(errs, "storeBackend must be redis or memory")
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, "logFormat must be json or text")
	}

	switch strings.ToLower(c.Auth.Provider) {
	case "none":
		if !c.IsDev() {
			errs = append(errs, "auth.provider none is only allowed in dev")
		}
	case "static":
		if strings.TrimSpace(c.Auth.Token) == "" {
			errs = append(errs, "auth.token is required for the static provider")
		}
	case "jwt":
		if len(c.Auth.JWTSecret) < 16 {
			errs = append(errs, "auth.jwtSecret must be at least 16 bytes")
		}
	default:
		errs = append(errs, "auth.provider must be none, static or jwt")
	}

	if c.Sandbox.IsEnabled() && strings.TrimSpace(c.Sandbox.Image) == "" {
		errs = append(errs, "sandbox.image is required when the sandbox is enabled")
	}
	if c.Sandbox.CPUs > 16 {
		errs = append(errs, "sandbox.cpus must not exceed 16")
	}
	if c.WorkerConcurrency > 64 {
		errs = append(errs, "workerConcurrency must not exceed 64")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
