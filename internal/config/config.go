package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kiranshivaraju/filepreview/pkg/models"
)

// Config holds all configuration for the filepreview server and workers.
type Config struct {
	Server    ServerConfig
	Queue     QueueConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Transfer  TransferConfig
	Callback  CallbackConfig
	Converter ConverterConfig
	Defaults  models.Options
	Auth      AuthConfig
	Sentry    SentryConfig
}

type ServerConfig struct {
	Port     int
	Env      string
	LogLevel slog.Level
}

type QueueConfig struct {
	Backend           string
	Concurrency       int
	MaxAttempts       int
	PollInterval      time.Duration
	Lease             time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	ClaimRate         float64
	Retention         time.Duration
	RetentionSchedule string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL       string
	KeyPrefix string
}

type TransferConfig struct {
	DownloadTimeout time.Duration
	UploadTimeout   time.Duration
	WorkDir         string
}

type CallbackConfig struct {
	Timeout       time.Duration
	SuccessMethod string
}

type ConverterConfig struct {
	Name    string
	Command string
	Timeout time.Duration
}

type AuthConfig struct {
	UsersFile          string
	Users              []models.Credential
	RateLimitPerMinute int
}

type SentryConfig struct {
	DSN         string
	Environment string
}

// Queue backends.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

var validBackends = map[string]bool{
	BackendRedis:    true,
	BackendPostgres: true,
	BackendMemory:   true,
}

var validConverters = map[string]bool{
	"imaging": true,
	"command": true,
}

var validFormats = map[string]bool{
	models.FormatPNG: true,
	models.FormatJPG: true,
	models.FormatGIF: true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	env := envString("FILEPREVIEW_ENV", "development")

	level, err := parseLevel(os.Getenv("LOG_LEVEL"), env)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:     envInt("FILEPREVIEW_PORT", 3000),
			Env:      env,
			LogLevel: level,
		},
		Queue: QueueConfig{
			Backend:           envString("QUEUE_BACKEND", BackendRedis),
			Concurrency:       envInt("QUEUE_CONCURRENCY", 4),
			MaxAttempts:       envInt("QUEUE_MAX_ATTEMPTS", models.DefaultMaxAttempts),
			PollInterval:      envDuration("QUEUE_POLL_INTERVAL", time.Second),
			Lease:             envDuration("QUEUE_LEASE", 5*time.Minute),
			BackoffBase:       envDuration("QUEUE_BACKOFF_BASE", time.Second),
			BackoffMax:        envDuration("QUEUE_BACKOFF_MAX", time.Minute),
			ClaimRate:         envFloat("QUEUE_CLAIM_RATE", 0),
			Retention:         envDuration("QUEUE_RETENTION", 24*time.Hour),
			RetentionSchedule: envString("QUEUE_RETENTION_SCHEDULE", "@every 1h"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:       os.Getenv("REDIS_URL"),
			KeyPrefix: envString("REDIS_KEY_PREFIX", "filepreview"),
		},
		Transfer: TransferConfig{
			DownloadTimeout: envDuration("DOWNLOAD_TIMEOUT", 30*time.Second),
			UploadTimeout:   envDuration("UPLOAD_TIMEOUT", 60*time.Second),
			WorkDir:         envString("WORK_DIR", os.TempDir()),
		},
		Callback: CallbackConfig{
			Timeout:       envDuration("CALLBACK_TIMEOUT", 10*time.Second),
			SuccessMethod: strings.ToUpper(envString("CALLBACK_SUCCESS_METHOD", http.MethodPatch)),
		},
		Converter: ConverterConfig{
			Name:    envString("CONVERTER", "imaging"),
			Command: envString("CONVERT_COMMAND", "convert"),
			Timeout: envDuration("CONVERT_TIMEOUT", 2*time.Minute),
		},
		Defaults: models.Options{
			Width:        envInt("DEFAULT_WIDTH", 300),
			Height:       envInt("DEFAULT_HEIGHT", 300),
			Quality:      envInt("DEFAULT_QUALITY", 90),
			OutputFormat: envString("DEFAULT_OUTPUT_FORMAT", models.FormatPNG),
			Orientation:  envString("DEFAULT_ORIENTATION", models.OrientationPortrait),
			KeepAspect:   true,
		},
		Auth: AuthConfig{
			UsersFile:          os.Getenv("AUTH_USERS_FILE"),
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Sentry: SentryConfig{
			DSN:         os.Getenv("SENTRY_DSN"),
			Environment: env,
		},
	}

	if cfg.Auth.UsersFile != "" {
		users, err := readUsers(cfg.Auth.UsersFile)
		if err != nil {
			return nil, err
		}
		cfg.Auth.Users = users
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if !validBackends[c.Queue.Backend] {
		return fmt.Errorf("QUEUE_BACKEND must be one of redis, postgres, memory; got %q", c.Queue.Backend)
	}
	if c.Queue.Backend == BackendRedis && c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required when QUEUE_BACKEND is redis")
	}
	if c.Queue.Backend == BackendPostgres && c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required when QUEUE_BACKEND is postgres")
	}
	if c.Queue.Concurrency < 0 {
		return fmt.Errorf("QUEUE_CONCURRENCY must not be negative, got %d", c.Queue.Concurrency)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.Lease <= 0 {
		return fmt.Errorf("QUEUE_LEASE must be positive")
	}
	if c.Queue.BackoffBase <= 0 {
		return fmt.Errorf("QUEUE_BACKOFF_BASE must be positive, got %s", c.Queue.BackoffBase)
	}
	if c.Queue.BackoffMax < c.Queue.BackoffBase {
		return fmt.Errorf("QUEUE_BACKOFF_MAX must be at least QUEUE_BACKOFF_BASE, got %s", c.Queue.BackoffMax)
	}

	if !validConverters[c.Converter.Name] {
		return fmt.Errorf("CONVERTER must be one of imaging, command; got %q", c.Converter.Name)
	}

	if c.Callback.SuccessMethod != http.MethodPatch && c.Callback.SuccessMethod != http.MethodPost {
		return fmt.Errorf("CALLBACK_SUCCESS_METHOD must be PATCH or POST, got %q", c.Callback.SuccessMethod)
	}

	if !validFormats[c.Defaults.OutputFormat] {
		return fmt.Errorf("DEFAULT_OUTPUT_FORMAT must be one of png, jpg, gif; got %q", c.Defaults.OutputFormat)
	}
	if c.Defaults.Width <= 0 {
		return fmt.Errorf("DEFAULT_WIDTH must be greater than 0, got %d", c.Defaults.Width)
	}
	if c.Defaults.Height <= 0 {
		return fmt.Errorf("DEFAULT_HEIGHT must be greater than 0, got %d", c.Defaults.Height)
	}
	if c.Defaults.Quality < 0 || c.Defaults.Quality > 100 {
		return fmt.Errorf("DEFAULT_QUALITY must be between 0 and 100, got %d", c.Defaults.Quality)
	}
	if c.Defaults.Orientation != models.OrientationPortrait && c.Defaults.Orientation != models.OrientationLandscape {
		return fmt.Errorf("DEFAULT_ORIENTATION must be landscape or portrait, got %q", c.Defaults.Orientation)
	}

	return nil
}

// readUsers loads the basic-auth credential list from a JSON file.
func readUsers(path string) ([]models.Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read AUTH_USERS_FILE: %w", err)
	}
	var users []models.Credential
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("parse AUTH_USERS_FILE: %w", err)
	}
	for i, u := range users {
		if u.Username == "" || u.PasswordHash == "" {
			return nil, fmt.Errorf("AUTH_USERS_FILE entry %d needs username and passwordHash", i)
		}
	}
	return users, nil
}

// parseLevel defaults to debug, or error in production, unless LOG_LEVEL says otherwise.
func parseLevel(v, env string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "":
		if env == "production" {
			return slog.LevelError, nil
		}
		return slog.LevelDebug, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", v)
	}
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
