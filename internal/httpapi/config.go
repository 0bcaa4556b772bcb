package httpapi

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr      = ":8080"
	defaultAllowedOrigin   = "http://localhost:8000"
	defaultPublicBaseURL   = "http://localhost:8080"
	defaultReceiptIssuer   = "bookingbridge"
	defaultReceiptLifetime = 72 * time.Hour
	defaultEventLogDriver  = "sqlite"
	defaultEventLogDSN     = "file:bookingbridge_events.db"
	defaultCurrency        = "usd"

	defaultAvailabilitySoftTTL = 30 * time.Second
	defaultAvailabilityHardTTL = 2 * time.Minute
	defaultListingSoftTTL      = 10 * time.Minute
	defaultListingHardTTL      = 30 * time.Minute
	defaultStormTTL            = 1500 * time.Millisecond
)

// Config aggregates runtime settings for the booking API.
type Config struct {
	ListenAddr     string
	PublicBaseURL  string
	AllowedOrigins []string
	SharedSecret   string

	CaspioBaseURL      string
	CaspioTokenURL     string
	CaspioClientID     string
	CaspioClientSecret string

	StripeAPIKey        string
	StripeWebhookSecret string
	Currency            string

	ReceiptSigningKey string
	ReceiptIssuer     string
	ReceiptLifetime   time.Duration

	SuccessURL  string
	CancelURL   string
	SiteBaseURL string

	EventLogDriver string
	EventLogDSN    string

	AvailabilitySoftTTL time.Duration
	AvailabilityHardTTL time.Duration
	ListingSoftTTL      time.Duration
	ListingHardTTL      time.Duration
	StormTTL            time.Duration
}

// Validate ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.PublicBaseURL = strings.TrimRight(defaultIfEmpty(cfg.PublicBaseURL, defaultPublicBaseURL), "/")
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.Currency = defaultIfEmpty(cfg.Currency, defaultCurrency)
	cfg.ReceiptIssuer = defaultIfEmpty(cfg.ReceiptIssuer, defaultReceiptIssuer)
	if cfg.ReceiptLifetime <= 0 {
		cfg.ReceiptLifetime = defaultReceiptLifetime
	}
	cfg.SuccessURL = defaultIfEmpty(cfg.SuccessURL, cfg.PublicBaseURL+"/pages/checkout/success")
	cfg.CancelURL = defaultIfEmpty(cfg.CancelURL, cfg.PublicBaseURL+"/pages/checkout/cancel")
	cfg.SiteBaseURL = defaultIfEmpty(cfg.SiteBaseURL, defaultAllowedOrigin)
	cfg.EventLogDriver = defaultIfEmpty(cfg.EventLogDriver, defaultEventLogDriver)
	cfg.EventLogDSN = defaultIfEmpty(cfg.EventLogDSN, defaultEventLogDSN)
	if cfg.AvailabilitySoftTTL <= 0 {
		cfg.AvailabilitySoftTTL = defaultAvailabilitySoftTTL
	}
	if cfg.AvailabilityHardTTL <= 0 {
		cfg.AvailabilityHardTTL = defaultAvailabilityHardTTL
	}
	if cfg.ListingSoftTTL <= 0 {
		cfg.ListingSoftTTL = defaultListingSoftTTL
	}
	if cfg.ListingHardTTL <= 0 {
		cfg.ListingHardTTL = defaultListingHardTTL
	}
	if cfg.StormTTL <= 0 {
		cfg.StormTTL = defaultStormTTL
	}

	if strings.TrimSpace(cfg.SharedSecret) == "" {
		return fmt.Errorf("shared secret is required")
	}
	if strings.TrimSpace(cfg.CaspioBaseURL) == "" {
		return fmt.Errorf("caspio base url is required")
	}
	if strings.TrimSpace(cfg.CaspioTokenURL) == "" {
		return fmt.Errorf("caspio token url is required")
	}
	if strings.TrimSpace(cfg.CaspioClientID) == "" || strings.TrimSpace(cfg.CaspioClientSecret) == "" {
		return fmt.Errorf("caspio client credentials are required")
	}
	if strings.TrimSpace(cfg.StripeAPIKey) == "" {
		return fmt.Errorf("stripe api key is required")
	}
	if strings.TrimSpace(cfg.StripeWebhookSecret) == "" {
		return fmt.Errorf("stripe webhook secret is required")
	}
	if strings.TrimSpace(cfg.ReceiptSigningKey) == "" {
		return fmt.Errorf("receipt signing key is required")
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
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
