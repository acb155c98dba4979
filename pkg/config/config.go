package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	EventLog      EventLogConfig
	Dataset       DatasetConfig
	Notifications NotificationConfig
	HTTP          HTTPConfig
	OTEL          OTELConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host        string
	Port        int
	Environment string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// EventLogConfig selects and tunes the event log backend
type EventLogConfig struct {
	Backend      string // "postgres" or "memory"
	DefaultLimit int
	MaxLimit     int
}

// DatasetConfig selects where the referral dataset is persisted
type DatasetConfig struct {
	Backend string // "file" or "postgres"
	Path    string
	Name    string
}

// NotificationConfig holds the alert rule toggles and the feed watcher cadence
type NotificationConfig struct {
	OnReject            bool
	OnRedAccept         bool
	OnImminentArrival   bool
	ETAThresholdMinutes int
	PollInterval        time.Duration
	PollBatchSize       int
}

// HTTPConfig holds CORS and rate limiting settings
type HTTPConfig struct {
	AllowedOrigins     []string
	WriteRatePerMinute int
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			Port:        getEnvAsInt("SERVER_PORT", 8080),
			Environment: getEnv("APP_ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "referraldesk"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		EventLog: EventLogConfig{
			Backend:      getEnv("EVENT_LOG_BACKEND", "memory"),
			DefaultLimit: getEnvAsInt("EVENT_POLL_DEFAULT_LIMIT", 200),
			MaxLimit:     getEnvAsInt("EVENT_POLL_MAX_LIMIT", 1000),
		},
		Dataset: DatasetConfig{
			Backend: getEnv("DATASET_BACKEND", "file"),
			Path:    getEnv("DATASET_PATH", "data.json"),
			Name:    getEnv("DATASET_NAME", "default"),
		},
		Notifications: NotificationConfig{
			OnReject:            getEnvAsBool("NOTIFY_ON_REJECT", true),
			OnRedAccept:         getEnvAsBool("NOTIFY_ON_RED_ACCEPT", true),
			OnImminentArrival:   getEnvAsBool("NOTIFY_ON_IMMINENT", true),
			ETAThresholdMinutes: getEnvAsInt("NOTIFY_ETA_THRESHOLD_MIN", 15),
			PollInterval:        getEnvAsDuration("FEED_POLL_INTERVAL", 3*time.Second),
			PollBatchSize:       getEnvAsInt("FEED_POLL_BATCH", 200),
		},
		HTTP: HTTPConfig{
			AllowedOrigins:     getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
			WriteRatePerMinute: getEnvAsInt("WRITE_RATE_PER_MINUTE", 120),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "referraldesk"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.EventLog.Backend {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported EVENT_LOG_BACKEND %q", c.EventLog.Backend)
	}
	switch c.Dataset.Backend {
	case "file", "postgres":
	default:
		return fmt.Errorf("unsupported DATASET_BACKEND %q", c.Dataset.Backend)
	}
	if c.EventLog.DefaultLimit <= 0 || c.EventLog.MaxLimit < c.EventLog.DefaultLimit {
		return fmt.Errorf("invalid event poll limits: default=%d max=%d", c.EventLog.DefaultLimit, c.EventLog.MaxLimit)
	}
	if c.Notifications.PollInterval <= 0 {
		return fmt.Errorf("FEED_POLL_INTERVAL must be positive")
	}
	return nil
}

// NeedsPostgres reports whether any configured backend requires a database connection.
func (c *Config) NeedsPostgres() bool {
	return c.EventLog.Backend == "postgres" || c.Dataset.Backend == "postgres"
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
