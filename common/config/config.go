package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all engine configuration
type Config struct {
	Service   ServiceConfig
	Engine    EngineConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	Telemetry TelemetryConfig
}

// ServiceConfig holds process-level settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// EngineConfig holds scheduler tunables
type EngineConfig struct {
	MaxConcurrency       int           // bounded parallelism per execution, default 10
	DefaultNodeTimeout   time.Duration
	ExecutionTimeout     time.Duration // 0 disables the wall-clock timeout
	DefaultMaxIterations int           // per person_job cap, default 100
	HeartbeatInterval    time.Duration // event bus heartbeat, default 30s
	SubscriberQueueSize  int
}

// RedisConfig backs the optional checkpoint and CAS extensions
type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// PostgresConfig backs the optional completed-execution archive sink
type PostgresConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Database string
	User     string
	Password string
	MaxConns int
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof bool
	PprofPort   int
	MetricsPort int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Engine: EngineConfig{
			MaxConcurrency:       getEnvInt("ENGINE_MAX_CONCURRENCY", 10),
			DefaultNodeTimeout:   getEnvDuration("ENGINE_NODE_TIMEOUT", 60*time.Second),
			ExecutionTimeout:     getEnvDuration("ENGINE_EXECUTION_TIMEOUT", 0),
			DefaultMaxIterations: getEnvInt("ENGINE_DEFAULT_MAX_ITERATIONS", 100),
			HeartbeatInterval:    getEnvDuration("ENGINE_HEARTBEAT_INTERVAL", 30*time.Second),
			SubscriberQueueSize:  getEnvInt("ENGINE_SUBSCRIBER_QUEUE_SIZE", 256),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Postgres: PostgresConfig{
			Enabled:  getEnvBool("POSTGRES_ENABLED", false),
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			Database: getEnv("POSTGRES_DB", "dipeo"),
			User:     getEnv("POSTGRES_USER", "dipeo"),
			Password: getEnv("POSTGRES_PASSWORD", "dipeo"),
			MaxConns: getEnvInt("POSTGRES_MAX_CONNS", 10),
		},
		Telemetry: TelemetryConfig{
			EnablePprof: getEnvBool("ENABLE_PPROF", false),
			PprofPort:   getEnvInt("PPROF_PORT", 6060),
			MetricsPort: getEnvInt("METRICS_PORT", 9090),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}
	if c.Engine.MaxConcurrency < 1 {
		return fmt.Errorf("engine max concurrency must be >= 1")
	}
	if c.Engine.DefaultMaxIterations < 1 {
		return fmt.Errorf("engine default max iterations must be >= 1")
	}
	return nil
}

// PostgresURL returns the PostgreSQL connection string for the archive sink
func (c *Config) PostgresURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
