// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds every setting read from the environment at startup.
type Config struct {
	Port     string
	LogLevel logrus.Level

	Postgres Postgres
	Redis    Redis

	// TokenExpire is the JWT lifetime; zero issues tokens without expiry.
	TokenExpire time.Duration

	BoardPairs int

	PresenceDebounce time.Duration
	PresenceLeaseTTL time.Duration

	SessionRetention     time.Duration
	SessionIdleTimeout   time.Duration
	HousekeepingInterval time.Duration

	HistorianBatchSize int
	HistorianFlush     time.Duration
}

type Postgres struct {
	User     string
	Password string
	Host     string
	Port     string
	Database string
}

// ConnString is the pgx connection URL.
func (p Postgres) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", p.User, p.Password, p.Host, p.Port, p.Database)
}

type Redis struct {
	Addr      string
	DB        int
	QueueName string
}

// Load reads the configuration from the environment. Unset or malformed
// values fall back to their defaults.
func Load() Config {
	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = logrus.InfoLevel
	}

	return Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: level,
		Postgres: Postgres{
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Database: getEnv("PG_DATABASE", "memory_match"),
		},
		Redis: Redis{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			DB:        getEnvInt("REDIS_DB", 0),
			QueueName: getEnv("HISTORIAN_QUEUE_NAME", "memory_match_actions"),
		},
		TokenExpire:          getEnvTokenExpire("TOKEN_EXPIRE_TIME", 72*time.Hour),
		BoardPairs:           getEnvInt("BOARD_PAIRS", 8),
		PresenceDebounce:     getEnvDuration("PRESENCE_DEBOUNCE", 3*time.Second),
		PresenceLeaseTTL:     getEnvDuration("PRESENCE_LEASE_TTL", 30*time.Second),
		SessionRetention:     getEnvDuration("SESSION_RETENTION", 10*time.Minute),
		SessionIdleTimeout:   getEnvDuration("SESSION_IDLE_TIMEOUT", time.Hour),
		HousekeepingInterval: getEnvDuration("HOUSEKEEPING_INTERVAL", 30*time.Second),
		HistorianBatchSize:   getEnvInt("HISTORIAN_BATCH_SIZE", 100),
		HistorianFlush:       time.Duration(getEnvInt("HISTORIAN_FLUSH_MS", 500)) * time.Millisecond,
	}
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// getEnvTokenExpire treats "never" and "0" as no expiry.
func getEnvTokenExpire(key string, def time.Duration) time.Duration {
	switch s := os.Getenv(key); s {
	case "":
		return def
	case "never", "0":
		return 0
	default:
		return getEnvDuration(key, def)
	}
}

// getEnvDuration accepts Go duration strings such as "3s" or "10m".
func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := time.ParseDuration(s)
	if err != nil || v <= 0 {
		return def
	}
	return v
}
