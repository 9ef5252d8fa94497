package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	RabbitMQ RabbitMQConfig
	Redis    RedisConfig
	Dispatch DispatchConfig
	Watchdog WatchdogConfig
	Metrics  MetricsConfig
	Channel  ChannelConfig
	Env      string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// RabbitMQConfig holds RabbitMQ configuration
type RabbitMQConfig struct {
	Host     string
	Port     string
	User     string
	Password string
}

// RedisConfig holds Redis configuration (dispatch locks)
type RedisConfig struct {
	URL string
}

// DispatchConfig holds dispatcher tuning
type DispatchConfig struct {
	// MessageDelay is the fixed pause between consecutive sends of one
	// campaign, required by provider rate limits.
	MessageDelay time.Duration
	// LockTTL bounds how long a crashed worker can hold a campaign lock.
	LockTTL time.Duration
}

// WatchdogConfig holds reconciliation tuning
type WatchdogConfig struct {
	// StaleThreshold is how long a SENDING campaign may sit without any
	// progress before the watchdog intervenes.
	StaleThreshold time.Duration
	Interval       time.Duration
}

// MetricsConfig holds the metrics listener configuration
type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

// ChannelConfig holds outbound channel client configuration
type ChannelConfig struct {
	GraphAPIBaseURL    string
	PageAccessToken    string
	WebhookVerifyToken string
	SendTimeout        time.Duration
	// Simulate replaces the real Graph API client with the simulator.
	Simulate       bool
	SimSuccessRate float64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnv("POSTGRES_PORT", "5432"),
			User:     getEnv("POSTGRES_USER", "socialcrm"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			DBName:   getEnv("POSTGRES_DB", "socialcrm_db"),
		},
		RabbitMQ: RabbitMQConfig{
			Host:     getEnv("RABBITMQ_HOST", "localhost"),
			Port:     getEnv("RABBITMQ_PORT", "5672"),
			User:     getEnv("RABBITMQ_DEFAULT_USER", "guest"),
			Password: getEnv("RABBITMQ_DEFAULT_PASS", "guest"),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", "redis://localhost:6379/0"),
		},
		Dispatch: DispatchConfig{
			MessageDelay: getEnvAsDuration("DISPATCH_MESSAGE_DELAY", 2*time.Second),
			LockTTL:      getEnvAsDuration("DISPATCH_LOCK_TTL", 90*time.Second),
		},
		Watchdog: WatchdogConfig{
			StaleThreshold: getEnvAsDuration("WATCHDOG_STALE_THRESHOLD", 30*time.Minute),
			Interval:       getEnvAsDuration("WATCHDOG_INTERVAL", 5*time.Minute),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
			Port:    getEnvAsInt("METRICS_PORT", 8081),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		Channel: ChannelConfig{
			GraphAPIBaseURL:    getEnv("GRAPH_API_BASE_URL", "https://graph.facebook.com/v19.0"),
			PageAccessToken:    getEnv("PAGE_ACCESS_TOKEN", ""),
			WebhookVerifyToken: getEnv("WEBHOOK_VERIFY_TOKEN", ""),
			SendTimeout:        getEnvAsDuration("CHANNEL_SEND_TIMEOUT", 10*time.Second),
			Simulate:           getEnvAsBool("CHANNEL_SIMULATE", false),
			SimSuccessRate:     getEnvAsFloat("CHANNEL_SIM_SUCCESS_RATE", 0.95),
		},
		Env: getEnv("ENV", "development"),
	}

	// Validate required fields
	if config.Database.Password == "" {
		return nil, fmt.Errorf("POSTGRES_PASSWORD is required")
	}
	if !config.Channel.Simulate && config.Channel.PageAccessToken == "" {
		return nil, fmt.Errorf("PAGE_ACCESS_TOKEN is required unless CHANNEL_SIMULATE=true")
	}

	return config, nil
}

// GetDatabaseDSN returns PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// GetRabbitMQURL returns RabbitMQ connection URL
func (c *Config) GetRabbitMQURL() string {
	return fmt.Sprintf(
		"amqp://%s:%s@%s:%s/",
		c.RabbitMQ.User,
		c.RabbitMQ.Password,
		c.RabbitMQ.Host,
		c.RabbitMQ.Port,
	)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// getEnv gets environment variable or returns default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets environment variable as integer or returns default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsBool gets environment variable as boolean or returns default
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsFloat gets environment variable as float or returns default
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsDuration gets environment variable as duration or returns default
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
