package httpapi

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr      = ":8080"
	defaultAllowedOrigin   = "http://localhost:3000"
	defaultPublicAPIURL    = "http://localhost:8080"
	defaultJWTIssuer       = "reviv"
	defaultJWTCookieName   = "reviv_session"
	defaultRequestTimeout  = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second
	defaultEntriesLimit    = 50
	maxEntriesLimit        = 200
)

// Config aggregates runtime settings for the HTTP API.
type Config struct {
	ListenAddr           string
	AllowedOrigins       []string
	PublicAPIURL         string
	JWTSigningKey        string
	JWTIssuer            string
	JWTCookieName        string
	CallbackToken        string
	PaymentWebhookSecret string
	RequestTimeout       time.Duration
	ShutdownTimeout      time.Duration
}

// Validate applies defaults and rejects unusable settings.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.PublicAPIURL = strings.TrimRight(defaultIfEmpty(cfg.PublicAPIURL, defaultPublicAPIURL), "/")
	cfg.JWTIssuer = defaultIfEmpty(cfg.JWTIssuer, defaultJWTIssuer)
	cfg.JWTCookieName = defaultIfEmpty(cfg.JWTCookieName, defaultJWTCookieName)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if len(cfg.JWTSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	if strings.TrimSpace(cfg.PaymentWebhookSecret) == "" {
		return fmt.Errorf("payment webhook secret is required")
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
