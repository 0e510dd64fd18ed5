// Package config loads and validates the broker's process configuration
// from the environment, in the same ValidateEnv-then-build shape the
// teacher uses, reading the env surface of this broker instead of the
// video-conferencing one.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the broker's fully-resolved, validated runtime configuration.
type Config struct {
	BindAddr   string
	Port       int
	AuthEnabled          bool
	DefaultTokenExpiryHrs int

	MaxConnections          int
	MaxConnectionsPerClient int

	CORSAllowedOrigins []string

	RateLimitPerMinute int

	CodeExecEnabled bool
	SandboxEndpoint string

	LogLevel  string
	LogFormat string

	DataDir string

	HeartbeatIntervalSeconds int

	RedisAddr string
}

// Load reads and validates environment configuration, applying the
// defaults named in the external interface contract.
func Load() (*Config, error) {
	cfg := &Config{
		BindAddr:                getEnvOrDefault("BIND_ADDR", "0.0.0.0"),
		Port:                    getEnvIntOrDefault("PORT", 5001),
		AuthEnabled:             getEnvBoolOrDefault("AUTH_ENABLED", false),
		DefaultTokenExpiryHrs:   getEnvIntOrDefault("DEFAULT_TOKEN_EXPIRY_HOURS", 720),
		MaxConnections:          getEnvIntOrDefault("MAX_CONNECTIONS", 1000),
		MaxConnectionsPerClient: getEnvIntOrDefault("MAX_CONNECTIONS_PER_CLIENT", 10),
		CORSAllowedOrigins:      splitCSV(getEnvOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		RateLimitPerMinute:      getEnvIntOrDefault("RATE_LIMIT_PER_MINUTE", 60),
		CodeExecEnabled:         getEnvBoolOrDefault("CODE_EXEC_ENABLED", false),
		SandboxEndpoint:         os.Getenv("SANDBOX_ENDPOINT"),
		LogLevel:                getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:               getEnvOrDefault("LOG_FORMAT", "text"),
		DataDir:                 getEnvOrDefault("DATA_DIR", "./data"),
		HeartbeatIntervalSeconds: getEnvIntOrDefault("HEARTBEAT_INTERVAL_SECONDS", 30),
		RedisAddr:               os.Getenv("REDIS_ADDR"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: PORT out of range: %d", c.Port)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid LOG_LEVEL %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: invalid LOG_FORMAT %q", c.LogFormat)
	}
	if c.CodeExecEnabled && c.SandboxEndpoint == "" {
		return fmt.Errorf("config: CODE_EXEC_ENABLED requires SANDBOX_ENDPOINT")
	}
	for _, origin := range c.CORSAllowedOrigins {
		if origin == "*" {
			return fmt.Errorf("config: wildcard CORS_ALLOWED_ORIGINS is disallowed")
		}
	}
	if c.MaxConnections <= 0 || c.MaxConnectionsPerClient <= 0 {
		return fmt.Errorf("config: connection caps must be positive")
	}
	return nil
}

// Redacted returns a copy with secret-shaped fields masked, suitable for
// startup logging.
func (c *Config) Redacted() map[string]any {
	return map[string]any{
		"bind_addr":          c.BindAddr,
		"port":               c.Port,
		"auth_enabled":        c.AuthEnabled,
		"max_connections":     c.MaxConnections,
		"max_conn_per_client": c.MaxConnectionsPerClient,
		"cors_allowed_origins": c.CORSAllowedOrigins,
		"rate_limit_per_minute": c.RateLimitPerMinute,
		"code_exec_enabled":   c.CodeExecEnabled,
		"sandbox_endpoint":    redactSecret(c.SandboxEndpoint),
		"log_level":           c.LogLevel,
		"data_dir":            c.DataDir,
		"redis_configured":    c.RedisAddr != "",
	}
}

func redactSecret(s string) string {
	if s == "" {
		return ""
	}
	return "***redacted***"
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvBoolOrDefault(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
