// Package config handles environment-based configuration for the orchestrator.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config represents the complete orchestrator configuration loaded from environment variables.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Docker    DockerConfig
	Runtime   RuntimeConfig
	Images    ImageConfig
	Logs      LogConfig
	Registry  RegistryConfig
	Reconcile ReconcileConfig
	Audit     AuditConfig
	Logging   LoggingConfig
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host        string
	Port        string
	Mode        string // "debug" or "release"
	APIPrefix   string
	CORSOrigins []string
}

// StoreConfig selects where registry records live. The audit tables always
// live in the sqlite database at DBPath.
type StoreConfig struct {
	Driver   string // "sqlite", "bolt" or "memory"
	DBPath   string
	BoltPath string
}

// DockerConfig contains Docker daemon settings.
type DockerConfig struct {
	Host string // empty means DOCKER_HOST or the default socket
}

// RuntimeConfig tunes calls to the container engine.
type RuntimeConfig struct {
	CallTimeout time.Duration
	PullTimeout time.Duration
	StopTimeout time.Duration
	RetrySteps  int
	RetryBase   time.Duration
}

// ImageConfig contains image catalog settings.
type ImageConfig struct {
	CacheTTL time.Duration
}

// LogConfig contains container log buffer settings.
type LogConfig struct {
	BufferLines int
	DefaultTail int
	GracePeriod time.Duration
}

// RegistryConfig contains container registry settings.
type RegistryConfig struct {
	RemovedRetention time.Duration
}

// ReconcileConfig contains reconciler settings.
type ReconcileConfig struct {
	Enabled  bool
	Interval time.Duration
}

// AuditConfig contains audit log retention settings.
type AuditConfig struct {
	RetentionDays int
}

// LoggingConfig contains process log settings.
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// Load reads a .env file when present, then configuration from environment
// variables with sensible defaults. All variables use the ORCH_ prefix.
//
// Configuration variables:
//   - ORCH_SERVER_HOST (default: "0.0.0.0")
//   - ORCH_SERVER_PORT (default: "8000")
//   - ORCH_SERVER_MODE (default: "debug")
//   - ORCH_API_PREFIX (default: "/api/orchestrator")
//   - ORCH_CORS_ORIGINS (default: "http://localhost:3000", comma separated)
//   - ORCH_STORE_DRIVER (default: "sqlite")
//   - ORCH_DB_PATH (default: "/app/data/orchestrator.db" or "./orchestrator.db")
//   - ORCH_BOLT_PATH (default: next to the database, "orchestrator.bolt")
//   - ORCH_DOCKER_HOST (default: DOCKER_HOST)
//   - ORCH_RUNTIME_CALL_TIMEOUT (default: "10s")
//   - ORCH_RUNTIME_PULL_TIMEOUT (default: "5m")
//   - ORCH_RUNTIME_RETRY_STEPS (default: "4")
//   - ORCH_RUNTIME_RETRY_BASE (default: "200ms")
//   - ORCH_STOP_TIMEOUT (default: "10s")
//   - ORCH_IMAGE_CACHE_TTL (default: "5s")
//   - ORCH_LOG_BUFFER_LINES (default: "1000")
//   - ORCH_LOG_DEFAULT_TAIL (default: "100")
//   - ORCH_LOG_GRACE_PERIOD (default: "2m")
//   - ORCH_REMOVED_RETENTION (default: "30s")
//   - ORCH_RECONCILE_ENABLED (default: "true")
//   - ORCH_RECONCILE_INTERVAL (default: "15s")
//   - ORCH_AUDIT_RETENTION_DAYS (default: "30")
//   - ORCH_LOG_LEVEL (default: "info")
//   - ORCH_LOG_FORMAT (default: "text")
//
// Returns an error if validation fails.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logrus.Warnf("Failed to read .env file: %v", err)
	}

	dbPath := getDBPath()
	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("ORCH_SERVER_HOST", "0.0.0.0"),
			Port:        getEnv("ORCH_SERVER_PORT", "8000"),
			Mode:        getEnv("ORCH_SERVER_MODE", "debug"),
			APIPrefix:   getEnv("ORCH_API_PREFIX", "/api/orchestrator"),
			CORSOrigins: getEnvList("ORCH_CORS_ORIGINS", []string{"http://localhost:3000"}),
		},
		Store: StoreConfig{
			Driver:   strings.ToLower(getEnv("ORCH_STORE_DRIVER", "sqlite")),
			DBPath:   dbPath,
			BoltPath: getEnv("ORCH_BOLT_PATH", boltPathFor(dbPath)),
		},
		Docker: DockerConfig{
			Host: getEnv("ORCH_DOCKER_HOST", ""),
		},
		Runtime: RuntimeConfig{
			CallTimeout: getEnvDuration("ORCH_RUNTIME_CALL_TIMEOUT", 10*time.Second),
			PullTimeout: getEnvDuration("ORCH_RUNTIME_PULL_TIMEOUT", 5*time.Minute),
			StopTimeout: getEnvDuration("ORCH_STOP_TIMEOUT", 10*time.Second),
			RetrySteps:  getEnvInt("ORCH_RUNTIME_RETRY_STEPS", 4),
			RetryBase:   getEnvDuration("ORCH_RUNTIME_RETRY_BASE", 200*time.Millisecond),
		},
		Images: ImageConfig{
			CacheTTL: getEnvDuration("ORCH_IMAGE_CACHE_TTL", 5*time.Second),
		},
		Logs: LogConfig{
			BufferLines: getEnvInt("ORCH_LOG_BUFFER_LINES", 1000),
			DefaultTail: getEnvInt("ORCH_LOG_DEFAULT_TAIL", 100),
			GracePeriod: getEnvDuration("ORCH_LOG_GRACE_PERIOD", 2*time.Minute),
		},
		Registry: RegistryConfig{
			RemovedRetention: getEnvDuration("ORCH_REMOVED_RETENTION", 30*time.Second),
		},
		Reconcile: ReconcileConfig{
			Enabled:  getEnvBool("ORCH_RECONCILE_ENABLED", true),
			Interval: getEnvDuration("ORCH_RECONCILE_INTERVAL", 15*time.Second),
		},
		Audit: AuditConfig{
			RetentionDays: getEnvInt("ORCH_AUDIT_RETENTION_DAYS", 30),
		},
		Logging: LoggingConfig{
			Level:  strings.ToLower(getEnv("ORCH_LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("ORCH_LOG_FORMAT", "text")),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Print logs the loaded configuration.
func (c *Config) Print() {
	logrus.Info("Configuration loaded:")
	logrus.Infof("  Server: %s:%s%s (mode: %s)", c.Server.Host, c.Server.Port, c.Server.APIPrefix, c.Server.Mode)
	logrus.Infof("  Store: %s (db: %s)", c.Store.Driver, c.Store.DBPath)
	logrus.Infof("  Runtime: call timeout=%v, retries=%d, stop timeout=%v", c.Runtime.CallTimeout, c.Runtime.RetrySteps, c.Runtime.StopTimeout)
	logrus.Infof("  Logs: buffer=%d lines, grace=%v", c.Logs.BufferLines, c.Logs.GracePeriod)
	logrus.Infof("  Reconciler: enabled=%v, interval=%v", c.Reconcile.Enabled, c.Reconcile.Interval)
	logrus.Infof("  Audit Retention: %d days", c.Audit.RetentionDays)
}

// validate checks if the configuration is valid.
func validate(cfg *Config) error {
	switch cfg.Server.Mode {
	case "debug", "release":
	default:
		return fmt.Errorf("server mode must be debug or release, got %q", cfg.Server.Mode)
	}
	if !strings.HasPrefix(cfg.Server.APIPrefix, "/") {
		return errors.New("API prefix must start with /")
	}
	switch cfg.Store.Driver {
	case "sqlite", "bolt", "memory":
	default:
		return fmt.Errorf("store driver must be sqlite, bolt or memory, got %q", cfg.Store.Driver)
	}
	if cfg.Runtime.CallTimeout <= 0 || cfg.Runtime.PullTimeout <= 0 || cfg.Runtime.StopTimeout <= 0 {
		return errors.New("runtime timeouts must be positive")
	}
	if cfg.Runtime.RetrySteps < 1 {
		return errors.New("runtime retry steps must be at least 1")
	}
	if cfg.Images.CacheTTL <= 0 {
		return errors.New("image cache TTL must be positive")
	}
	if cfg.Logs.GracePeriod <= 0 {
		return errors.New("log grace period must be positive")
	}
	if cfg.Registry.RemovedRetention <= 0 {
		return errors.New("removed retention must be positive")
	}
	if cfg.Logs.BufferLines < 1 {
		return errors.New("log buffer lines must be at least 1")
	}
	if cfg.Logs.DefaultTail < 1 || cfg.Logs.DefaultTail > cfg.Logs.BufferLines {
		return errors.New("log default tail must be between 1 and the buffer size")
	}
	if cfg.Reconcile.Interval < time.Second {
		return errors.New("reconcile interval must be at least 1 second")
	}
	if cfg.Audit.RetentionDays < 1 {
		return errors.New("audit retention days must be at least 1")
	}
	if _, err := logrus.ParseLevel(cfg.Logging.Level); err != nil {
		return err
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log format must be text or json, got %q", cfg.Logging.Format)
	}

	return nil
}

// getDBPath determines the database path based on environment and filesystem.
// Priority:
//  1. ORCH_DB_PATH environment variable
//  2. /app/data/orchestrator.db (if /app/data exists - Docker container)
//  3. ./orchestrator.db (development fallback)
func getDBPath() string {
	if path := os.Getenv("ORCH_DB_PATH"); path != "" {
		return path
	}

	if _, err := os.Stat("/app/data"); err == nil {
		return "/app/data/orchestrator.db"
	}

	return "./orchestrator.db"
}

func boltPathFor(dbPath string) string {
	if strings.HasSuffix(dbPath, ".db") {
		return strings.TrimSuffix(dbPath, ".db") + ".bolt"
	}
	return dbPath + ".bolt"
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// getEnvInt retrieves an integer environment variable or returns a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		logrus.Warnf("Invalid integer value for %s: %s, using default: %d", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
		logrus.Warnf("Invalid boolean value for %s: %s, using default: %v", key, value, defaultValue)
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable or returns a default value.
// Accepts values like "30s", "5m", "1h"
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		logrus.Warnf("Invalid duration value for %s: %s, using default: %v", key, value, defaultValue)
	}
	return defaultValue
}
