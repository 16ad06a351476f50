package bootstrap

import (
	"github.com/dipeo/engine/common/config"
	"github.com/dipeo/engine/common/logger"
)

// Option configures the bootstrap process
type Option func(*options)

type options struct {
	skipTelemetry bool
	skipRedis     bool
	skipPostgres  bool
	customLogger  *logger.Logger
	customConfig  *config.Config
}

// WithoutTelemetry skips telemetry initialization
func WithoutTelemetry() Option {
	return func(o *options) {
		o.skipTelemetry = true
	}
}

// WithoutRedis skips Redis client construction even if RedisConfig.Enabled
func WithoutRedis() Option {
	return func(o *options) {
		o.skipRedis = true
	}
}

// WithoutPostgres skips pgx pool construction even if PostgresConfig.Enabled
func WithoutPostgres() Option {
	return func(o *options) {
		o.skipPostgres = true
	}
}

// WithCustomLogger uses a custom logger instead of creating one
func WithCustomLogger(log *logger.Logger) Option {
	return func(o *options) {
		o.customLogger = log
	}
}

// WithCustomConfig uses a custom config instead of loading from env
func WithCustomConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.customConfig = cfg
	}
}

func defaultOptions() *options {
	return &options{}
}
