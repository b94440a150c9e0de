package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds the complete ScamShield configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Edition determines feature availability
	Edition Edition `json:"edition"`

	// Rule loading and scoring
	Rules     RulesConfig     `json:"rules"`
	Scoring   ScoringConfig   `json:"scoring"`
	Secondary SecondaryConfig `json:"secondary"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// AsyncWorker enables the event bus detection worker
	AsyncWorker bool `json:"asyncWorker"`

	// WorkerTenants restricts the worker to these tenants; empty means all
	WorkerTenants []string `json:"workerTenants,omitempty"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// RulesConfig controls where rules come from and how strictly they are validated.
type RulesConfig struct {
	// Source is "file" or "database"
	Source string `json:"source"`

	// Path of the YAML/JSON rule file when Source is "file"
	Path string `json:"path"`

	// Strict rejects the whole rule batch when any record or condition is malformed.
	// When false, malformed records are skipped and malformed conditions never match.
	Strict bool `json:"strict"`
}

// Rule source types.
const (
	RuleSourceFile     = "file"
	RuleSourceDatabase = "database"
)

// ScoringConfig holds blend and response settings.
type ScoringConfig struct {
	// Alpha is the weight on the expert score when blending (0..1)
	Alpha float64 `json:"alpha"`

	// MaxHits caps the rule hits returned in API responses
	MaxHits int `json:"maxHits"`
}

// SecondaryConfig holds settings for the secondary probabilistic scorer.
type SecondaryConfig struct {
	// ModelPath points at a logistic model JSON file; empty disables the scorer
	ModelPath string        `json:"modelPath"`
	Timeout   time.Duration `json:"timeout"`
	CacheTTL  time.Duration `json:"cacheTtl"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled"`
	ServiceName  string `json:"serviceName"`
	ExporterType string `json:"exporterType"` // otlp, jaeger (OTLP endpoint)
	Endpoint     string `json:"endpoint"`
}

// Edition represents the product edition.
type Edition string

const (
	// EditionCommunity is the free edition with SQLite + channels
	EditionCommunity Edition = "community"

	// EditionPro is the paid edition with PostgreSQL + NATS + Redis
	EditionPro Edition = "pro"
)

// DefaultConfig returns a default configuration for the Community edition.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Edition: EditionCommunity,
		Rules: RulesConfig{
			Source: RuleSourceFile,
			Path:   "./rules/rules.yaml",
		},
		Scoring: ScoringConfig{
			Alpha:   0.7,
			MaxHits: 5,
		},
		Secondary: SecondaryConfig{
			ModelPath: "./models/secondary.json",
			Timeout:   200 * time.Millisecond,
			CacheTTL:  5 * time.Minute,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./scamshield.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			ServiceName:  "scamshield",
			ExporterType: "otlp",
		},
	}
}

// ProConfig returns a configuration for the Pro edition.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Edition = EditionPro
	cfg.Rules.Source = RuleSourceDatabase
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "scamshield",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.AsyncWorker = true
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadConfig picks the edition preset and applies environment overrides.
func LoadConfig(lookup func(string) (string, bool)) (*Config, error) {
	cfg := DefaultConfig()
	if v, ok := lookup("SCAMSHIELD_TIER"); ok && v == string(EditionPro) {
		cfg = ProConfig()
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides configuration values from SCAMSHIELD_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("SCAMSHIELD_RULES_SOURCE"); ok {
		if v != RuleSourceFile && v != RuleSourceDatabase {
			return fmt.Errorf("SCAMSHIELD_RULES_SOURCE: unsupported rule source %q", v)
		}
		c.Rules.Source = v
	}
	if v, ok := lookup("SCAMSHIELD_RULES_PATH"); ok {
		c.Rules.Path = v
	}
	if v, ok := lookup("SCAMSHIELD_RULES_STRICT"); ok {
		strict, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SCAMSHIELD_RULES_STRICT: %w", err)
		}
		c.Rules.Strict = strict
	}
	if v, ok := lookup("SCAMSHIELD_BLEND_ALPHA"); ok {
		alpha, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SCAMSHIELD_BLEND_ALPHA: %w", err)
		}
		c.Scoring.Alpha = alpha
	}
	if v, ok := lookup("SCAMSHIELD_MODEL_PATH"); ok {
		c.Secondary.ModelPath = v
	}
	if v, ok := lookup("SCAMSHIELD_SQLITE_PATH"); ok {
		c.Repository.SQLitePath = v
	}
	if v, ok := lookup("SCAMSHIELD_REDIS_ADDR"); ok {
		c.Cache.RedisAddr = v
	}
	if v, ok := lookup("SCAMSHIELD_NATS_URL"); ok {
		c.EventBus.NATSUrl = v
	}
	if v, ok := lookup("SCAMSHIELD_ASYNC_WORKER"); ok {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SCAMSHIELD_ASYNC_WORKER: %w", err)
		}
		c.AsyncWorker = enabled
	}
	if v, ok := lookup("SCAMSHIELD_TENANTS"); ok {
		c.WorkerTenants = nil
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				c.WorkerTenants = append(c.WorkerTenants, t)
			}
		}
	}
	if v, ok := lookup("SCAMSHIELD_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SCAMSHIELD_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("SCAMSHIELD_LOG_FORMAT"); ok {
		c.Logging.Format = v
	}
	if v, ok := lookup("SCAMSHIELD_OTLP_ENDPOINT"); ok {
		c.Tracing.Endpoint = v
		c.Tracing.Enabled = v != ""
	}
	if v, ok := lookup("SCAMSHIELD_DEBUG"); ok && v == "true" {
		c.Logging.Level = "debug"
	}

	return c.Validate()
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Scoring.Alpha < 0 || c.Scoring.Alpha > 1 {
		return fmt.Errorf("scoring alpha must be within [0,1], got %v", c.Scoring.Alpha)
	}
	if c.Scoring.MaxHits < 0 {
		return fmt.Errorf("scoring maxHits must not be negative, got %d", c.Scoring.MaxHits)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	if c.Rules.Source == RuleSourceFile && c.Rules.Path == "" {
		return fmt.Errorf("rules path is required for the file rule source")
	}
	return nil
}
