package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}

	switch c.Database.Driver {
	case "sqlite3", "postgres", "pgx":
	default:
		return fmt.Errorf("database.driver must be sqlite3, postgres or pgx, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}

	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if c.Redis.DB < 0 {
		return errors.New("redis.db must be >= 0")
	}
	if c.Cache.TTL < 0 {
		return errors.New("cache.ttl must be >= 0")
	}

	if c.Hub.StoreTimeout < 0 {
		return errors.New("hub.store_timeout must be >= 0")
	}
	if c.Hub.SendBuffer < 1 {
		return errors.New("hub.send_buffer must be >= 1")
	}
	if c.Hub.MaxMessageSize < 1 {
		return errors.New("hub.max_message_size must be >= 1")
	}
	if c.Hub.RateLimit.PerSecond <= 0 {
		return errors.New("hub.rate_limit.per_second must be > 0")
	}
	if c.Hub.RateLimit.Burst < 1 {
		return errors.New("hub.rate_limit.burst must be >= 1")
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}
