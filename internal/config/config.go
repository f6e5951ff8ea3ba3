// Package config loads service configuration from YAML, the environment and
// built-in defaults.
package config

import "time"

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Cache    CacheConfig    `yaml:"cache"`
	Hub      HubConfig      `yaml:"hub"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig selects the durable store. Driver is one of sqlite3,
// postgres or pgx.
type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type CacheConfig struct {
	Prefix string        `yaml:"prefix"`
	TTL    time.Duration `yaml:"ttl"`
}

type HubConfig struct {
	StoreTimeout   time.Duration   `yaml:"store_timeout"`
	SendBuffer     int             `yaml:"send_buffer"`
	MaxMessageSize int64           `yaml:"max_message_size"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// LogConfig selects the slog handler. Format is text or json.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}
