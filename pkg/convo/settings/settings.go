// Package settings loads the process configuration.
//
// Sources are applied in order, later ones winning: built-in defaults, an
// optional YAML or JSON file, a .env file, and CONVOGRAPH_* environment
// variables. The result is validated once and passed by reference.
package settings

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/randalmurphal/convograph/pkg/flowgraph/config"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "CONVOGRAPH_"

// Checkpoint backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderNone   = "none"
)

// Config is the full process configuration.
type Config struct {
	Server     Server     `mapstructure:"server"`
	LLM        LLM        `mapstructure:"llm"`
	Auth       Auth       `mapstructure:"auth"`
	Commerce   Commerce   `mapstructure:"commerce"`
	Checkpoint Checkpoint `mapstructure:"checkpoint"`
	Log        Log        `mapstructure:"log"`
	Telemetry  Telemetry  `mapstructure:"telemetry"`
}

// Server configures the HTTP surface.
type Server struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// TurnTimeout bounds a whole turn, streaming included.
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`
}

// LLM configures the model client and its resilience policy.
type LLM struct {
	// Provider is "openai" or "none". With "none" every reply uses its
	// fixed fallback text.
	Provider    string  `mapstructure:"provider"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`

	Timeout          time.Duration `mapstructure:"timeout"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerRecovery  time.Duration `mapstructure:"breaker_recovery"`
}

// Auth configures credential signing and password hashing.
type Auth struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
}

// Commerce configures the relational store.
type Commerce struct {
	Path string `mapstructure:"path"`
}

// Checkpoint configures conversation persistence and thread locking.
type Checkpoint struct {
	Backend string `mapstructure:"backend"`

	SQLitePath    string        `mapstructure:"sqlite_path"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisTTL      time.Duration `mapstructure:"redis_ttl"`
	PostgresDSN   string        `mapstructure:"postgres_dsn"`

	// EncryptionKey is a hex-encoded 32-byte AES key. Empty stores state
	// in the clear.
	EncryptionKey string `mapstructure:"encryption_key"`

	// DistributedLock adds a Redis lock on top of the in-process one, for
	// more than one server sharing a store.
	DistributedLock bool          `mapstructure:"distributed_lock"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
}

// Log configures the process logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Telemetry toggles OpenTelemetry metrics and spans on graph runs.
type Telemetry struct {
	Metrics bool `mapstructure:"metrics"`
	Tracing bool `mapstructure:"tracing"`
}

// Default returns the built-in configuration. It does not validate: the
// JWT secret has no default.
func Default() *Config {
	return &Config{
		Server: Server{
			Addr:            ":8000",
			ReadTimeout:     15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			TurnTimeout:     2 * time.Minute,
		},
		LLM: LLM{
			Provider:         ProviderOpenAI,
			Model:            "gpt-4o-mini",
			Temperature:      1.0,
			Timeout:          30 * time.Second,
			RetryAttempts:    3,
			RetryBaseDelay:   time.Second,
			BreakerThreshold: 5,
			BreakerRecovery:  60 * time.Second,
		},
		Auth: Auth{
			TokenTTL:   24 * time.Hour,
			BcryptCost: 12,
		},
		Commerce: Commerce{Path: "app_database.sqlite"},
		Checkpoint: Checkpoint{
			Backend:    BackendSQLite,
			SQLitePath: "checkpoints.sqlite",
			RedisAddr:  "localhost:6379",
			LockTTL:    30 * time.Second,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Options selects the optional sources.
type Options struct {
	// File is a YAML or JSON configuration file. Empty skips it.
	File string

	// EnvFile is a dotenv file. A missing file is ignored.
	EnvFile string
}

// Load builds, overlays and validates the configuration.
func Load(opts Options) (*Config, error) {
	cfg := Default()

	if opts.File != "" {
		c, err := config.FromFile(opts.File)
		if err != nil {
			return nil, err
		}
		c, err = c.ExpandEnv()
		if err != nil {
			return nil, err
		}
		if err := c.Decode(cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", opts.File, err)
		}
	}

	if opts.EnvFile != "" {
		// Variables already set in the environment keep their values.
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", opts.EnvFile, err)
		}
	}

	if err := config.New(envOverrides()).Decode(cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKeys maps each environment variable, without EnvPrefix, to its
// section and key.
var envKeys = map[string][2]string{
	"ADDR":              {"server", "addr"},
	"TURN_TIMEOUT":      {"server", "turn_timeout"},
	"LLM_PROVIDER":      {"llm", "provider"},
	"LLM_API_KEY":       {"llm", "api_key"},
	"LLM_BASE_URL":      {"llm", "base_url"},
	"LLM_MODEL":         {"llm", "model"},
	"LLM_TEMPERATURE":   {"llm", "temperature"},
	"LLM_TIMEOUT":       {"llm", "timeout"},
	"RETRY_ATTEMPTS":    {"llm", "retry_attempts"},
	"RETRY_BASE_DELAY":  {"llm", "retry_base_delay"},
	"BREAKER_THRESHOLD": {"llm", "breaker_threshold"},
	"BREAKER_RECOVERY":  {"llm", "breaker_recovery"},
	"JWT_SECRET":        {"auth", "jwt_secret"},
	"TOKEN_TTL":         {"auth", "token_ttl"},
	"BCRYPT_COST":       {"auth", "bcrypt_cost"},
	"COMMERCE_PATH":     {"commerce", "path"},
	"CHECKPOINT":        {"checkpoint", "backend"},
	"CHECKPOINT_PATH":   {"checkpoint", "sqlite_path"},
	"REDIS_ADDR":        {"checkpoint", "redis_addr"},
	"REDIS_PASSWORD":    {"checkpoint", "redis_password"},
	"REDIS_DB":          {"checkpoint", "redis_db"},
	"POSTGRES_DSN":      {"checkpoint", "postgres_dsn"},
	"ENCRYPTION_KEY":    {"checkpoint", "encryption_key"},
	"DISTRIBUTED_LOCK":  {"checkpoint", "distributed_lock"},
	"LOG_LEVEL":         {"log", "level"},
	"LOG_FORMAT":        {"log", "format"},
	"METRICS":           {"telemetry", "metrics"},
	"TRACING":           {"telemetry", "tracing"},
}

func envOverrides() map[string]any {
	tree := make(map[string]any)
	for name, path := range envKeys {
		v, ok := os.LookupEnv(EnvPrefix + name)
		if !ok {
			continue
		}
		section, _ := tree[path[0]].(map[string]any)
		if section == nil {
			section = make(map[string]any)
			tree[path[0]] = section
		}
		section[path[1]] = v
	}
	return tree
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Server.TurnTimeout <= 0 {
		errs = append(errs, errors.New("server.turn_timeout must be positive"))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("llm.timeout must be positive"))
	}
	if c.LLM.RetryAttempts < 1 {
		errs = append(errs, errors.New("llm.retry_attempts must be at least 1"))
	}
	switch c.LLM.Provider {
	case ProviderOpenAI:
		if c.LLM.APIKey == "" {
			errs = append(errs, errors.New("llm.api_key is required for the openai provider"))
		}
	case ProviderNone:
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not one of openai, none", c.LLM.Provider))
	}
	switch c.Checkpoint.Backend {
	case BackendMemory, BackendSQLite, BackendRedis:
	case BackendPostgres:
		if c.Checkpoint.PostgresDSN == "" {
			errs = append(errs, errors.New("checkpoint.postgres_dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("checkpoint.backend %q is not one of memory, sqlite, redis, postgres", c.Checkpoint.Backend))
	}
	if c.Checkpoint.EncryptionKey != "" {
		if _, err := c.Checkpoint.Key(); err != nil {
			errs = append(errs, err)
		}
	}
	if f := strings.ToLower(c.Log.Format); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Key decodes EncryptionKey. Returns nil for an empty key.
func (c Checkpoint) Key() ([]byte, error) {
	if c.EncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("checkpoint.encryption_key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("checkpoint.encryption_key must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}
