package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the file and before defaults.
const (
	EnvAddr           = "NOWCHAT_ADDR"
	EnvDBDriver       = "NOWCHAT_DB_DRIVER"
	EnvDBDSN          = "NOWCHAT_DB_DSN"
	EnvRedisAddr      = "NOWCHAT_REDIS_ADDR"
	EnvAllowedOrigins = "NOWCHAT_ALLOWED_ORIGINS"
	EnvLogLevel       = "NOWCHAT_LOG_LEVEL"
)

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadAndValidate loads path (or starts empty when path is ""), applies
// environment overrides and defaults, and validates the result.
func LoadAndValidate(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		var err error
		if cfg, err = Load(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAddr); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv(EnvDBDriver); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv(EnvDBDSN); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv(EnvAllowedOrigins); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		c.Server.AllowedOrigins = origins
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}
