// Package config loads the gateway's runtime settings from the environment.
package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// RateLimitConfig controls per-connection inbound message throttling.
type RateLimitConfig struct {
	Burst     int
	PerSecond float64
}

// Config holds the gateway settings.
type Config struct {
	Port            string
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AllowedOrigins  []string
	WSPath          string
	MaxMessageSize  int64
	SendBuffer      int
	RateLimit       RateLimitConfig
	TokenCacheTTL   time.Duration
	TriggerAPIKey   string
	SessionLogDSN   string
	LogLevel        string
	LogDevelopment  bool
	ShutdownTimeout time.Duration
}

const defaultSecret = "development-insecure-secret-change-me"

// Default returns the configuration used when no environment is set.
func Default() Config {
	return Config{
		Port:      ":8009",
		JWTSecret: defaultSecret,
		AllowedOrigins: []string{
			"http://localhost:3000",
			"http://localhost:5173",
		},
		WSPath:         "/ws",
		MaxMessageSize: 4096,
		SendBuffer:     64,
		RateLimit: RateLimitConfig{
			Burst:     20,
			PerSecond: 10,
		},
		TokenCacheTTL:   time.Minute,
		SessionLogDSN:   "gateway-sessions.db",
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
	}
}

// FromEnv reads the configuration from environment variables, falling back
// to Default for anything unset or unparsable.
func FromEnv() Config {
	cfg := Default()

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.JWTSecret = getEnv("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = getEnv("JWT_ISSUER", cfg.JWTIssuer)
	cfg.JWTAudience = getEnv("JWT_AUDIENCE", cfg.JWTAudience)
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = strings.Split(origins, ",")
	}
	cfg.WSPath = getEnv("WS_PATH", cfg.WSPath)
	cfg.MaxMessageSize = int64(getEnvInt("MAX_MESSAGE_SIZE", int(cfg.MaxMessageSize)))
	cfg.SendBuffer = getEnvInt("SEND_BUFFER", cfg.SendBuffer)
	cfg.RateLimit.Burst = getEnvInt("RATE_LIMIT_BURST", cfg.RateLimit.Burst)
	cfg.RateLimit.PerSecond = getEnvFloat("RATE_LIMIT_PER_SECOND", cfg.RateLimit.PerSecond)
	cfg.TokenCacheTTL = getEnvSeconds("TOKEN_CACHE_TTL", cfg.TokenCacheTTL)
	cfg.TriggerAPIKey = getEnv("TRIGGER_API_KEY", cfg.TriggerAPIKey)
	cfg.SessionLogDSN = getEnv("SESSION_LOG_DSN", cfg.SessionLogDSN)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogDevelopment = getEnvBool("LOG_DEVELOPMENT", cfg.LogDevelopment)
	cfg.ShutdownTimeout = getEnvSeconds("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	return Sanitize(cfg)
}

// Sanitize fills in defaults for invalid values and normalizes origins.
func Sanitize(cfg Config) Config {
	def := Default()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = def.JWTSecret
	}
	if cfg.WSPath == "" || !strings.HasPrefix(cfg.WSPath, "/") {
		cfg.WSPath = def.WSPath
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.PerSecond <= 0 {
		cfg.RateLimit.PerSecond = def.RateLimit.PerSecond
	}
	if cfg.TokenCacheTTL < 0 {
		cfg.TokenCacheTTL = 0
	}
	if strings.EqualFold(cfg.SessionLogDSN, "off") {
		cfg.SessionLogDSN = ""
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	cfg.AllowedOrigins = NormalizeOrigins(cfg.AllowedOrigins)

	return cfg
}

// UsesDefaultSecret reports whether the insecure development secret is active.
func (c Config) UsesDefaultSecret() bool {
	return c.JWTSecret == defaultSecret
}

// NormalizeOrigins lower-cases scheme and host, drops anything that is not an
// absolute origin and keeps "*" as the allow-all marker.
func NormalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	seen := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if o != "*" {
			var ok bool
			if o, ok = NormalizeOrigin(o); !ok {
				continue
			}
		}
		if _, dup := seen[o]; dup {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	return out
}

// NormalizeOrigin returns scheme://host for a well-formed origin.
func NormalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil && v > 0 {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil && v > 0 {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

// getEnvSeconds accepts either a plain number of seconds or a Go duration.
func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
		return d
	}
	return fallback
}
