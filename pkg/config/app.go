package config

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/osakka/agentorch/internal/dispatch"
	"github.com/osakka/agentorch/internal/orchestrator"
	"github.com/osakka/agentorch/internal/router"
	"github.com/osakka/agentorch/pkg/errors"
	"github.com/osakka/agentorch/pkg/logging"
	"github.com/osakka/agentorch/pkg/paths"
	"github.com/osakka/agentorch/pkg/tracing"
)

// AppConfig represents the complete process configuration
type AppConfig struct {
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Server       ServerConfig       `yaml:"server"`
	Logging      logging.Config     `yaml:"logging"`
	Store        StoreConfig        `yaml:"store"`
	Tracing      tracing.Config     `yaml:"tracing"`
}

// OrchestratorConfig configures selection, dispatch, caching and the
// session log
type OrchestratorConfig struct {
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	CacheMaxEntries int           `yaml:"cache_max_entries"`
	MaxWorkers      int           `yaml:"max_workers"`
	TaskTimeout     time.Duration `yaml:"task_timeout"`
	SessionCapacity int           `yaml:"session_capacity"`
	Mode            string        `yaml:"mode"`

	// Rules replaces the built-in routing table when non-empty
	Rules               []router.Rule `yaml:"rules,omitempty"`
	DefaultCapabilities []string      `yaml:"default_capabilities"`

	CandidateTargets []string `yaml:"candidate_targets"`
	DefaultTargets   []string `yaml:"default_targets"`
	MaxTargets       int      `yaml:"max_targets"`

	NoCache []string `yaml:"no_cache,omitempty"`

	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerReset    time.Duration `yaml:"breaker_reset"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	CORS      CORSConfig      `yaml:"cors"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Admin     AdminConfig     `yaml:"admin"`

	EnableMetrics bool `yaml:"enable_metrics"`
}

// CORSConfig configures Cross-Origin Resource Sharing
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// RateLimitConfig configures the per-client token bucket
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// AdminConfig configures the JWT-guarded admin endpoints. An empty secret
// disables them.
type AdminConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	Issuer    string        `yaml:"issuer"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// StoreConfig configures SQLite persistence. An empty path disables it.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// MinSecretLength is the shortest accepted admin signing secret
const MinSecretLength = 32

// Defaults returns a configuration with every field populated.
func Defaults() *AppConfig {
	o := orchestrator.DefaultConfig()
	p := paths.DefaultPaths()

	return &AppConfig{
		Orchestrator: OrchestratorConfig{
			CacheTTL:            o.CacheTTL,
			CacheMaxEntries:     o.CacheMaxEntries,
			MaxWorkers:          o.MaxWorkers,
			TaskTimeout:         o.TaskTimeout,
			SessionCapacity:     o.SessionCapacity,
			Mode:                string(o.Mode),
			DefaultCapabilities: append([]string(nil), o.DefaultCapabilities...),
			CandidateTargets:    append([]string(nil), o.CandidateTargets...),
			DefaultTargets:      append([]string(nil), o.DefaultTargets...),
			MaxTargets:          o.MaxTargets,
			BreakerFailures:     5,
			BreakerReset:        30 * time.Second,
		},
		Server: ServerConfig{
			Address:         "127.0.0.1",
			Port:            8088,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 10,
				Burst:             20,
			},
			Admin: AdminConfig{
				Issuer:   "agentorch",
				TokenTTL: time.Hour,
			},
			EnableMetrics: true,
		},
		Logging: logging.Config{
			Level:      "info",
			MaxSize:    10 << 20,
			MaxBackups: 5,
			Stdout:     true,
		},
		Store: StoreConfig{
			Path: p.DatabaseFile,
		},
		Tracing: tracing.Config{
			Enabled:     false,
			ServiceName: "agentorch",
			Insecure:    true,
			SampleRatio: 1,
		},
	}
}

// Validate reports every invalid field at once.
func (c *AppConfig) Validate() error {
	var errs []error
	fail := func(field, format string, args ...interface{}) {
		errs = append(errs, errors.Configuration(field, fmt.Sprintf(format, args...)))
	}

	o := c.Orchestrator
	if o.CacheTTL <= 0 {
		fail("orchestrator.cache_ttl", "must be positive, got %s", o.CacheTTL)
	}
	if o.CacheMaxEntries <= 0 {
		fail("orchestrator.cache_max_entries", "must be positive, got %d", o.CacheMaxEntries)
	}
	if o.MaxWorkers <= 0 {
		fail("orchestrator.max_workers", "must be positive, got %d", o.MaxWorkers)
	}
	if o.TaskTimeout <= 0 {
		fail("orchestrator.task_timeout", "must be positive, got %s", o.TaskTimeout)
	}
	if o.SessionCapacity <= 0 {
		fail("orchestrator.session_capacity", "must be positive, got %d", o.SessionCapacity)
	}
	if _, err := dispatch.ParseMode(o.Mode); err != nil {
		fail("orchestrator.mode", "must be parallel or sequential, got %q", o.Mode)
	}
	if len(o.DefaultCapabilities) == 0 {
		fail("orchestrator.default_capabilities", "must name at least one capability")
	}
	if o.MaxTargets <= 0 {
		fail("orchestrator.max_targets", "must be positive, got %d", o.MaxTargets)
	}
	if o.BreakerFailures < 0 {
		fail("orchestrator.breaker_failures", "must not be negative, got %d", o.BreakerFailures)
	}
	if o.BreakerFailures > 0 && o.BreakerReset <= 0 {
		fail("orchestrator.breaker_reset", "must be positive when breaker_failures is set, got %s", o.BreakerReset)
	}

	s := c.Server
	if s.Port <= 0 || s.Port > 65535 {
		fail("server.port", "must be between 1 and 65535, got %d", s.Port)
	}
	if s.RateLimit.Enabled && (s.RateLimit.RequestsPerSecond <= 0 || s.RateLimit.Burst <= 0) {
		fail("server.rate_limit", "requests_per_second and burst must be positive when enabled")
	}
	if s.Admin.JWTSecret != "" && len(s.Admin.JWTSecret) < MinSecretLength {
		fail("server.admin.jwt_secret", "must be at least %d bytes", MinSecretLength)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		fail("logging.level", "%v", err)
	}

	if err := c.Tracing.Validate(); err != nil {
		fail("tracing.sample_ratio", "%v", err)
	}

	return stderrors.Join(errs...)
}

// ToOrchestrator converts the section into the orchestrator's constructor
// input.
func (c *AppConfig) ToOrchestrator() orchestrator.Config {
	o := c.Orchestrator
	return orchestrator.Config{
		CacheTTL:            o.CacheTTL,
		CacheMaxEntries:     o.CacheMaxEntries,
		MaxWorkers:          o.MaxWorkers,
		TaskTimeout:         o.TaskTimeout,
		SessionCapacity:     o.SessionCapacity,
		Mode:                dispatch.Mode(o.Mode),
		Rules:               o.Rules,
		DefaultCapabilities: o.DefaultCapabilities,
		CandidateTargets:    o.CandidateTargets,
		DefaultTargets:      o.DefaultTargets,
		MaxTargets:          o.MaxTargets,
		NoCache:             o.NoCache,
		BreakerFailures:     o.BreakerFailures,
		BreakerReset:        o.BreakerReset,
	}
}

// Load returns Defaults overlaid with filePath (optional) and environment
// overrides, validated.
func Load(filePath string, logger logging.Logger) (*AppConfig, error) {
	cfg := Defaults()
	if err := NewLoader(logger).LoadFromFile(filePath, cfg, DefaultLoadOptions()); err != nil {
		return nil, err
	}
	return cfg, nil
}
