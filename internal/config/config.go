/*
Copyright 2025 RedisGate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads the RedisGate configuration from a YAML file and
// applies environment variable overrides. The file location is resolved from
// CONFIG_PATH, falling back to an ENVIRONMENT-specific default.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Health    HealthConfig    `yaml:"health"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host                  string `yaml:"host"`
	Port                  int    `yaml:"port"`
	RequestTimeoutSeconds int    `yaml:"request_timeout_seconds"`
	MaxRequestSizeMB      int    `yaml:"max_request_size_mb"`
}

// DatabaseConfig holds the PostgreSQL pool settings.
type DatabaseConfig struct {
	URL                      string `yaml:"url"`
	MaxConnections           int    `yaml:"max_connections"`
	MinConnections           int    `yaml:"min_connections"`
	ConnectionTimeoutSeconds int    `yaml:"connection_timeout_seconds"`
	IdleTimeoutSeconds       int    `yaml:"idle_timeout_seconds"`
	MaxLifetimeSeconds       int    `yaml:"max_lifetime_seconds"`
}

// RedisConfig holds the upstream pool settings.
type RedisConfig struct {
	DefaultTimeoutMS int `yaml:"default_timeout_ms"`
	MaxRetries       int `yaml:"max_retries"`
	RetryDelayMS     int `yaml:"retry_delay_ms"`
}

// RateLimitConfig holds the token bucket settings.
type RateLimitConfig struct {
	DefaultRequestsPerSecond int  `yaml:"default_requests_per_second"`
	Enabled                  bool `yaml:"enabled"`
}

// MetricsConfig holds the metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// HealthConfig holds the health endpoint settings.
type HealthConfig struct {
	Enabled              bool `yaml:"enabled"`
	CheckIntervalSeconds int  `yaml:"check_interval_seconds"`
}

// SecurityConfig holds token signing settings.
type SecurityConfig struct {
	JWTSecret        string `yaml:"jwt_secret"`
	TokenExpiryHours int    `yaml:"token_expiry_hours"`
	APIKeyExpiryDays int    `yaml:"api_key_expiry_days"`
	EnableCORS       bool   `yaml:"enable_cors"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSONFormat bool   `yaml:"json_format"`
}

// Default returns a configuration populated with defaults. Loading a file
// overlays onto this, so absent keys keep their default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                  "0.0.0.0",
			Port:                  3000,
			RequestTimeoutSeconds: 30,
			MaxRequestSizeMB:      10,
		},
		Database: DatabaseConfig{
			MaxConnections:           10,
			MinConnections:           2,
			ConnectionTimeoutSeconds: 3,
			IdleTimeoutSeconds:       600,
			MaxLifetimeSeconds:       1800,
		},
		Redis: RedisConfig{
			DefaultTimeoutMS: 5000,
			MaxRetries:       3,
			RetryDelayMS:     1000,
		},
		RateLimit: RateLimitConfig{
			DefaultRequestsPerSecond: 100,
			Enabled:                  true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Health: HealthConfig{
			Enabled:              true,
			CheckIntervalSeconds: 30,
		},
		Security: SecurityConfig{
			TokenExpiryHours: 24,
			APIKeyExpiryDays: 365,
			EnableCORS:       true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load resolves the config path from CONFIG_PATH (or an ENVIRONMENT-specific
// default filename), parses the file, applies env overrides and validates.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		switch os.Getenv("ENVIRONMENT") {
		case "production":
			path = "config.production.yaml"
		case "test":
			path = "config.test.yaml"
		default:
			path = "config.yaml"
		}
	}
	return LoadFromFile(path)
}

// LoadFromFile parses the named YAML file, applies environment overrides and
// validates the result.
func LoadFromFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides overlays environment variables onto the file-supplied
// values. Environment always wins.
func (c *Config) ApplyEnvOverrides() error {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		c.Server.Host = host
	}
	for _, key := range []string{"SERVER_PORT", "APP_PORT"} {
		if raw := os.Getenv(key); raw != "" {
			port, err := strconv.Atoi(raw)
			if err != nil || port <= 0 || port > 65535 {
				return fmt.Errorf("%s must be a valid port number, got %q", key, raw)
			}
			c.Server.Port = port
		}
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		c.Database.URL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		c.Security.JWTSecret = secret
	}
	if raw := os.Getenv("RATE_LIMIT_RPS"); raw != "" {
		rps, err := strconv.Atoi(raw)
		if err != nil || rps <= 0 {
			return fmt.Errorf("RATE_LIMIT_RPS must be a positive number, got %q", raw)
		}
		c.RateLimit.DefaultRequestsPerSecond = rps
	}
	return nil
}

// Validate enforces the invariants the rest of the system assumes.
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("server port cannot be 0")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Database.MaxConnections == 0 {
		return fmt.Errorf("database max_connections must be > 0")
	}
	if c.Database.MinConnections > c.Database.MaxConnections {
		return fmt.Errorf("database min_connections cannot exceed max_connections")
	}
	if c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.RateLimit.Enabled && c.RateLimit.DefaultRequestsPerSecond == 0 {
		return fmt.Errorf("rate limit RPS must be > 0 when enabled")
	}
	return nil
}

// BindAddress returns the host:port the HTTP server listens on.
func (c *Config) BindAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
