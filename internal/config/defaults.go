package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultAddr              = ":8080"
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 15 * time.Second
	DefaultDBDriver          = "sqlite3"
	DefaultDBDSN             = "nowchat.db"
	DefaultRedisAddr         = "localhost:6379"
	DefaultCachePrefix       = "nowchat:"
	DefaultCacheTTL          = time.Hour
	DefaultStoreTimeout      = 5 * time.Second
	DefaultSendBuffer        = 256
	DefaultMaxMessageSize    = 64 << 10
	DefaultRatePerSecond     = 10
	DefaultRateBurst         = 20
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if len(c.Server.AllowedOrigins) == 0 {
		c.Server.AllowedOrigins = []string{"*"}
	}
	if c.Server.ReadHeaderTimeout == 0 {
		c.Server.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}

	// Storage defaults
	if c.Database.Driver == "" {
		c.Database.Driver = DefaultDBDriver
	}
	if c.Database.DSN == "" && c.Database.Driver == DefaultDBDriver {
		c.Database.DSN = DefaultDBDSN
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = DefaultCachePrefix
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = DefaultCacheTTL
	}

	// Hub defaults
	if c.Hub.StoreTimeout == 0 {
		c.Hub.StoreTimeout = DefaultStoreTimeout
	}
	if c.Hub.SendBuffer == 0 {
		c.Hub.SendBuffer = DefaultSendBuffer
	}
	if c.Hub.MaxMessageSize == 0 {
		c.Hub.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.Hub.RateLimit.PerSecond == 0 {
		c.Hub.RateLimit.PerSecond = DefaultRatePerSecond
	}
	if c.Hub.RateLimit.Burst == 0 {
		c.Hub.RateLimit.Burst = DefaultRateBurst
	}

	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
