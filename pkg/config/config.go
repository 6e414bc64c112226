package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration for the sync core: where its
// local store lives, how verbose it logs, and how the SyncEngine and
// queue maintenance are paced.
type Config struct {
	// Application
	AppEnv   string
	LogLevel string

	// Database
	SQLitePath string // path to the local SQLite store (default: ~/.synccore/data.db)

	// Sync
	SyncPollInterval    time.Duration // cadence of the periodic SyncAccount sweep
	SyncDrainLimit      int           // max operations drained per push cycle
	SyncMailboxSize     int           // buffered capacity of each account's mailbox
	QueueRetryBaseDelay time.Duration // loaded only; CalculateRetryDelay uses its fixed 30s base
	QueueRetryMaxDelay  time.Duration // loaded only; CalculateRetryDelay uses its fixed 5h ceiling

	// CalDAV basic-auth credentials for the default account binding.
	// Multi-account credential routing is a host concern; this env pair
	// covers the single-account case the bundled binary runs as.
	CalDAVUsername string
	CalDAVPassword string

	// HealthAddr, when set, serves /healthz on this address.
	HealthAddr string
}

// Load loads configuration from environment variables, optionally
// overridden by a .env file in the working directory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		AppEnv:   getEnv("SYNCCORE_APP_ENV", "development"),
		LogLevel: getEnv("SYNCCORE_LOG_LEVEL", "info"),

		SQLitePath: getEnv("SYNCCORE_SQLITE_PATH", getDefaultSQLitePath()),

		SyncPollInterval:    getDurationEnv("SYNCCORE_SYNC_POLL_INTERVAL", 5*time.Minute),
		SyncDrainLimit:      getIntEnv("SYNCCORE_SYNC_DRAIN_LIMIT", 100),
		SyncMailboxSize:     getIntEnv("SYNCCORE_SYNC_MAILBOX_SIZE", 4),
		QueueRetryBaseDelay: getDurationEnv("SYNCCORE_QUEUE_RETRY_BASE_DELAY", 30*time.Second),
		QueueRetryMaxDelay:  getDurationEnv("SYNCCORE_QUEUE_RETRY_MAX_DELAY", 5*time.Hour),

		CalDAVUsername: getEnv("SYNCCORE_CALDAV_USERNAME", ""),
		CalDAVPassword: getEnv("SYNCCORE_CALDAV_PASSWORD", ""),

		HealthAddr: getEnv("SYNCCORE_HEALTH_ADDR", ""),
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getDefaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".synccore/data.db"
	}
	return home + "/.synccore/data.db"
}
