// Package config loads service settings from defaults, an optional .env
// file, the environment and bound command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/docutag/lincat/db"
	"github.com/docutag/lincat/llm"
	"github.com/docutag/lincat/storage"
	"github.com/docutag/lincat/tracing"
)

// Archive backends.
const (
	ArchiveFS = "fs"
	ArchiveS3 = "s3"
)

type Config struct {
	Port            string        // ex: "8080"
	ShutdownTimeout time.Duration // ex: 10s

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	// Storage
	DatabaseDriver string // "sqlite3" | "postgres"
	DatabaseURL    string // file path for sqlite3, DSN for postgres

	// Model
	GroqAPIKey        string // empty => heuristics only
	GroqModel         string
	GroqBaseURL       string
	LLMTimeout        time.Duration
	LLMRetries        int
	LLMMaxConcurrent  int
	FetchTimeout      time.Duration
	FetchMaxBytes     int64
	CategorizeTimeout time.Duration

	// Auth
	JWTSecret   string // empty => single-user local mode
	JWTAudience string

	// Redis (optional, enables the distributed category lock)
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisConnectTO time.Duration
	LockTTL        time.Duration

	// Export archive
	ArchiveBackend string // "fs" | "s3"
	ArchivePath    string
	S3             storage.S3Config

	// HTTP surface
	CORSEnabled      bool
	CORSOrigin       string
	RateLimitBurst   int
	RateLimitPerMin  int
	TrustProxy       bool
	MetricsNamespace string

	Tracing tracing.Config
}

// Defaults registered on every viper instance Load uses.
var defaults = map[string]any{
	"PORT":                    "8080",
	"LINCAT_SHUTDOWN_TIMEOUT": 10 * time.Second,
	"LINCAT_LOG_LEVEL":        "info",
	"LINCAT_LOG_PRETTY":       false,

	"DATABASE_DRIVER": db.DriverSQLite,
	"DATABASE_URL":    "",

	"GROQ_API_KEY":              "",
	"GROQ_MODEL":                llm.DefaultModel,
	"GROQ_BASE_URL":             llm.DefaultBaseURL,
	"LINCAT_LLM_TIMEOUT":        15 * time.Second,
	"LINCAT_LLM_RETRIES":        0,
	"LINCAT_LLM_MAX_CONCURRENT": 4,
	"LINCAT_FETCH_TIMEOUT":      10 * time.Second,
	"LINCAT_FETCH_MAX_BYTES":    int64(2 << 20),
	"LINCAT_CATEGORIZE_TIMEOUT": 45 * time.Second,

	"AUTH_JWT_SECRET": "",
	"AUTH_AUDIENCE":   "",

	"REDIS_ADDR":            "",
	"REDIS_PASSWORD":        "",
	"REDIS_DB":              0,
	"REDIS_CONNECT_TIMEOUT": 15 * time.Second,
	"LINCAT_LOCK_TTL":       10 * time.Second,

	"ARCHIVE_BACKEND":      ArchiveFS,
	"ARCHIVE_PATH":         storage.DefaultConfig().BasePath,
	"S3_ENDPOINT":          "",
	"S3_REGION":            "",
	"S3_BUCKET":            "",
	"S3_ACCESS_KEY_ID":     "",
	"S3_SECRET_ACCESS_KEY": "",
	"S3_USE_PATH_STYLE":    false,

	"CORS_ENABLED":              true,
	"CORS_ALLOWED_ORIGIN":       "*",
	"RATE_LIMIT_BURST":          10,
	"RATE_LIMIT_REFILL_PER_MIN": 30,
	"TRUST_PROXY":               false,
	"METRICS_NAMESPACE":         "lincat",

	"OTEL_ENABLED":                false,
	"OTEL_SERVICE_NAME":           "lincat",
	"OTEL_ENVIRONMENT":            "",
	"OTEL_SERVICE_VERSION":        "",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"OTEL_EXPORTER_OTLP_INSECURE": false,
	"OTEL_EXPORTER_OTLP_HEADERS":  "",
	"OTEL_SAMPLER_RATIO":          0.1,
}

// NewViper returns a viper instance with every key's default registered and
// environment lookup enabled. Callers may bind flags to it before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.AutomaticEnv()
	return v
}

// Load reads envFile (when it exists) into v and decodes the result.
// A nil v is replaced by NewViper().
func Load(v *viper.Viper, envFile string) (*Config, error) {
	if v == nil {
		v = NewViper()
	}

	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			v.SetConfigFile(envFile)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read %s: %w", envFile, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat %s: %w", envFile, err)
		}
	}

	cfg := &Config{
		Port:            strings.TrimPrefix(v.GetString("PORT"), ":"),
		ShutdownTimeout: v.GetDuration("LINCAT_SHUTDOWN_TIMEOUT"),
		LogLevel:        strings.ToLower(v.GetString("LINCAT_LOG_LEVEL")),
		PrettyLog:       v.GetBool("LINCAT_LOG_PRETTY"),

		DatabaseDriver: strings.ToLower(v.GetString("DATABASE_DRIVER")),
		DatabaseURL:    v.GetString("DATABASE_URL"),

		GroqAPIKey:        v.GetString("GROQ_API_KEY"),
		GroqModel:         v.GetString("GROQ_MODEL"),
		GroqBaseURL:       v.GetString("GROQ_BASE_URL"),
		LLMTimeout:        v.GetDuration("LINCAT_LLM_TIMEOUT"),
		LLMRetries:        v.GetInt("LINCAT_LLM_RETRIES"),
		LLMMaxConcurrent:  v.GetInt("LINCAT_LLM_MAX_CONCURRENT"),
		FetchTimeout:      v.GetDuration("LINCAT_FETCH_TIMEOUT"),
		FetchMaxBytes:     v.GetInt64("LINCAT_FETCH_MAX_BYTES"),
		CategorizeTimeout: v.GetDuration("LINCAT_CATEGORIZE_TIMEOUT"),

		JWTSecret:   v.GetString("AUTH_JWT_SECRET"),
		JWTAudience: v.GetString("AUTH_AUDIENCE"),

		RedisAddr:      v.GetString("REDIS_ADDR"),
		RedisPassword:  v.GetString("REDIS_PASSWORD"),
		RedisDB:        v.GetInt("REDIS_DB"),
		RedisConnectTO: v.GetDuration("REDIS_CONNECT_TIMEOUT"),
		LockTTL:        v.GetDuration("LINCAT_LOCK_TTL"),

		ArchiveBackend: strings.ToLower(v.GetString("ARCHIVE_BACKEND")),
		ArchivePath:    v.GetString("ARCHIVE_PATH"),
		S3: storage.S3Config{
			Endpoint:        v.GetString("S3_ENDPOINT"),
			Region:          v.GetString("S3_REGION"),
			Bucket:          v.GetString("S3_BUCKET"),
			AccessKeyID:     v.GetString("S3_ACCESS_KEY_ID"),
			SecretAccessKey: v.GetString("S3_SECRET_ACCESS_KEY"),
			UsePathStyle:    v.GetBool("S3_USE_PATH_STYLE"),
		},

		CORSEnabled:      v.GetBool("CORS_ENABLED"),
		CORSOrigin:       v.GetString("CORS_ALLOWED_ORIGIN"),
		RateLimitBurst:   v.GetInt("RATE_LIMIT_BURST"),
		RateLimitPerMin:  v.GetInt("RATE_LIMIT_REFILL_PER_MIN"),
		TrustProxy:       v.GetBool("TRUST_PROXY"),
		MetricsNamespace: v.GetString("METRICS_NAMESPACE"),

		Tracing: tracing.Config{
			Enabled:     v.GetBool("OTEL_ENABLED"),
			ServiceName: v.GetString("OTEL_SERVICE_NAME"),
			Environment: v.GetString("OTEL_ENVIRONMENT"),
			Version:     v.GetString("OTEL_SERVICE_VERSION"),
			Endpoint:    v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure:    v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
			Headers:     tracing.ParseHeaders(v.GetString("OTEL_EXPORTER_OTLP_HEADERS")),
			SampleRatio: v.GetFloat64("OTEL_SAMPLER_RATIO"),
		},
	}

	if cfg.DatabaseURL == "" && cfg.DatabaseDriver == db.DriverSQLite {
		cfg.DatabaseURL = db.DefaultConfig().DSN
	}

	return cfg, nil
}

// Validate rejects settings that cannot be served.
func (c *Config) Validate() error {
	var errs []error

	switch c.DatabaseDriver {
	case db.DriverSQLite:
	case db.DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when DATABASE_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported DATABASE_DRIVER %q", c.DatabaseDriver))
	}

	switch c.ArchiveBackend {
	case ArchiveFS:
		if c.ArchivePath == "" {
			errs = append(errs, errors.New("ARCHIVE_PATH is required when ARCHIVE_BACKEND=fs"))
		}
	case ArchiveS3:
		if err := c.S3.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("ARCHIVE_BACKEND=s3: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported ARCHIVE_BACKEND %q", c.ArchiveBackend))
	}

	if c.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	if c.CategorizeTimeout <= 0 {
		errs = append(errs, errors.New("LINCAT_CATEGORIZE_TIMEOUT must be positive"))
	}
	if c.LLMRetries < 0 {
		errs = append(errs, errors.New("LINCAT_LLM_RETRIES must not be negative"))
	}
	if c.FetchMaxBytes <= 0 {
		errs = append(errs, errors.New("LINCAT_FETCH_MAX_BYTES must be positive"))
	}

	return errors.Join(errs...)
}

// Addr is the listen address for Port.
func (c *Config) Addr() string {
	return ":" + c.Port
}

// LocalMode reports whether requests run without authentication.
func (c *Config) LocalMode() bool {
	return c.JWTSecret == ""
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	const mask = "***REDACTED***"
	if c.GroqAPIKey != "" {
		c.GroqAPIKey = mask
	}
	if c.JWTSecret != "" {
		c.JWTSecret = mask
	}
	if c.RedisPassword != "" {
		c.RedisPassword = mask
	}
	if c.S3.SecretAccessKey != "" {
		c.S3.SecretAccessKey = mask
	}
	if c.DatabaseDriver == db.DriverPostgres && c.DatabaseURL != "" {
		c.DatabaseURL = mask
	}
	c.Tracing.Headers = nil
	return c
}
