package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/harborpoint/bookingbridge/internal/httpapi"
)

const (
	flagListenAddr          = "listen-addr"
	flagPublicBaseURL       = "public-base-url"
	flagAllowedOrigins      = "allowed-origins"
	flagSharedSecret        = "shared-secret"
	flagCaspioBaseURL       = "caspio-base-url"
	flagCaspioTokenURL      = "caspio-token-url"
	flagCaspioClientID      = "caspio-client-id"
	flagCaspioClientSecret  = "caspio-client-secret"
	flagStripeAPIKey        = "stripe-api-key"
	flagStripeWebhookSecret = "stripe-webhook-secret"
	flagCurrency            = "currency"
	flagReceiptSigningKey   = "receipt-signing-key"
	flagReceiptIssuer       = "receipt-issuer"
	flagReceiptLifetime     = "receipt-lifetime"
	flagSuccessURL          = "success-url"
	flagCancelURL           = "cancel-url"
	flagSiteBaseURL         = "site-base-url"
	flagEventLogDriver      = "eventlog-driver"
	flagEventLogDSN         = "eventlog-dsn"
	flagAvailabilitySoftTTL = "availability-soft-ttl"
	flagAvailabilityHardTTL = "availability-hard-ttl"
	flagListingSoftTTL      = "listing-soft-ttl"
	flagListingHardTTL      = "listing-hard-ttl"
	flagStormTTL            = "storm-ttl"
	envPrefix               = "BOOKINGBRIDGE"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "bookingd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := httpapi.Config{}
	cmd := &cobra.Command{
		Use:           "bookingd",
		Short:         "Booking API middleware between the website, Caspio, and Stripe",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, &cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return httpapi.Run(ctx, cfg)
		},
	}

	cmd.Flags().String(flagListenAddr, "", "HTTP listen address")
	cmd.Flags().String(flagPublicBaseURL, "", "public base URL this service is reachable at")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagSharedSecret, "", "shared secret for mutating API routes and the trigger endpoint (required)")
	cmd.Flags().String(flagCaspioBaseURL, "", "Caspio REST API base URL (required)")
	cmd.Flags().String(flagCaspioTokenURL, "", "Caspio OAuth2 token URL (required)")
	cmd.Flags().String(flagCaspioClientID, "", "Caspio OAuth2 client id (required)")
	cmd.Flags().String(flagCaspioClientSecret, "", "Caspio OAuth2 client secret (required)")
	cmd.Flags().String(flagStripeAPIKey, "", "Stripe secret API key (required)")
	cmd.Flags().String(flagStripeWebhookSecret, "", "Stripe webhook signing secret (required)")
	cmd.Flags().String(flagCurrency, "", "checkout currency code")
	cmd.Flags().String(flagReceiptSigningKey, "", "HS256 key for receipt-link tokens (required)")
	cmd.Flags().String(flagReceiptIssuer, "", "issuer claim on receipt-link tokens")
	cmd.Flags().Duration(flagReceiptLifetime, 0, "receipt-link token lifetime (e.g. 72h)")
	cmd.Flags().String(flagSuccessURL, "", "checkout success redirect URL")
	cmd.Flags().String(flagCancelURL, "", "checkout cancel redirect URL")
	cmd.Flags().String(flagSiteBaseURL, "", "booking website base URL linked from result pages")
	cmd.Flags().String(flagEventLogDriver, "", "webhook journal driver (sqlite or postgres)")
	cmd.Flags().String(flagEventLogDSN, "", "webhook journal DSN")
	cmd.Flags().Duration(flagAvailabilitySoftTTL, 0, "availability cache soft TTL")
	cmd.Flags().Duration(flagAvailabilityHardTTL, 0, "availability cache hard TTL")
	cmd.Flags().Duration(flagListingSoftTTL, 0, "listings cache soft TTL")
	cmd.Flags().Duration(flagListingHardTTL, 0, "listings cache hard TTL")
	cmd.Flags().Duration(flagStormTTL, 0, "duplicate-trigger absorption window")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *httpapi.Config) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	allFlags := []string{
		flagListenAddr, flagPublicBaseURL, flagAllowedOrigins, flagSharedSecret,
		flagCaspioBaseURL, flagCaspioTokenURL, flagCaspioClientID, flagCaspioClientSecret,
		flagStripeAPIKey, flagStripeWebhookSecret, flagCurrency,
		flagReceiptSigningKey, flagReceiptIssuer, flagReceiptLifetime,
		flagSuccessURL, flagCancelURL, flagSiteBaseURL,
		flagEventLogDriver, flagEventLogDSN,
		flagAvailabilitySoftTTL, flagAvailabilityHardTTL, flagListingSoftTTL, flagListingHardTTL, flagStormTTL,
	}
	for _, flagName := range allFlags {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	for _, required := range []string{
		flagSharedSecret,
		flagCaspioBaseURL, flagCaspioTokenURL, flagCaspioClientID, flagCaspioClientSecret,
		flagStripeAPIKey, flagStripeWebhookSecret,
		flagReceiptSigningKey,
	} {
		if !v.IsSet(required) {
			return fmt.Errorf("%s is required", required)
		}
	}

	cfg.ListenAddr = strings.TrimSpace(v.GetString(flagListenAddr))
	cfg.PublicBaseURL = strings.TrimSpace(v.GetString(flagPublicBaseURL))
	cfg.AllowedOrigins = httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins))
	cfg.SharedSecret = v.GetString(flagSharedSecret)
	cfg.CaspioBaseURL = strings.TrimSpace(v.GetString(flagCaspioBaseURL))
	cfg.CaspioTokenURL = strings.TrimSpace(v.GetString(flagCaspioTokenURL))
	cfg.CaspioClientID = strings.TrimSpace(v.GetString(flagCaspioClientID))
	cfg.CaspioClientSecret = v.GetString(flagCaspioClientSecret)
	cfg.StripeAPIKey = v.GetString(flagStripeAPIKey)
	cfg.StripeWebhookSecret = v.GetString(flagStripeWebhookSecret)
	cfg.Currency = strings.TrimSpace(v.GetString(flagCurrency))
	cfg.ReceiptSigningKey = v.GetString(flagReceiptSigningKey)
	cfg.ReceiptIssuer = strings.TrimSpace(v.GetString(flagReceiptIssuer))
	cfg.ReceiptLifetime = v.GetDuration(flagReceiptLifetime)
	cfg.SuccessURL = strings.TrimSpace(v.GetString(flagSuccessURL))
	cfg.CancelURL = strings.TrimSpace(v.GetString(flagCancelURL))
	cfg.SiteBaseURL = strings.TrimSpace(v.GetString(flagSiteBaseURL))
	cfg.EventLogDriver = strings.TrimSpace(v.GetString(flagEventLogDriver))
	cfg.EventLogDSN = strings.TrimSpace(v.GetString(flagEventLogDSN))
	cfg.AvailabilitySoftTTL = v.GetDuration(flagAvailabilitySoftTTL)
	cfg.AvailabilityHardTTL = v.GetDuration(flagAvailabilityHardTTL)
	cfg.ListingSoftTTL = v.GetDuration(flagListingSoftTTL)
	cfg.ListingHardTTL = v.GetDuration(flagListingHardTTL)
	cfg.StormTTL = v.GetDuration(flagStormTTL)

	return cfg.Validate()
}
