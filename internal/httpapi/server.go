// Package httpapi exposes the booking middleware over HTTP: cache-backed
// reads, reservation and checkout proxies, the rollup trigger endpoint, and
// the Stripe webhook.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/harborpoint/bookingbridge/internal/caspio"
	"github.com/harborpoint/bookingbridge/internal/chatbot"
	"github.com/harborpoint/bookingbridge/internal/payments"
	"github.com/harborpoint/bookingbridge/internal/store/eventlog"
	"github.com/harborpoint/bookingbridge/pkg/booking"
	"github.com/harborpoint/bookingbridge/pkg/swrcache"
)

// Run boots the booking API using the supplied configuration.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("zap init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	caspioClient, err := caspio.New(caspio.Config{
		BaseURL:      cfg.CaspioBaseURL,
		TokenURL:     cfg.CaspioTokenURL,
		ClientID:     cfg.CaspioClientID,
		ClientSecret: cfg.CaspioClientSecret,
	})
	if err != nil {
		return fmt.Errorf("caspio client: %w", err)
	}
	store, err := caspio.NewStore(caspioClient)
	if err != nil {
		return fmt.Errorf("caspio store: %w", err)
	}

	rollups, err := booking.NewRollupService(store,
		booking.WithOperationLogger(newZapOperationLogger(logger)),
		booking.WithStormTTL(cfg.StormTTL),
	)
	if err != nil {
		return fmt.Errorf("rollup service: %w", err)
	}

	availabilityCache, err := swrcache.New[[]caspio.Record](swrcache.Options{
		SoftTTL: cfg.AvailabilitySoftTTL,
		HardTTL: cfg.AvailabilityHardTTL,
		Logger:  logger.Named("availability_cache"),
	})
	if err != nil {
		return fmt.Errorf("availability cache: %w", err)
	}
	listingsCache, err := swrcache.New[[]caspio.Record](swrcache.Options{
		SoftTTL: cfg.ListingSoftTTL,
		HardTTL: cfg.ListingHardTTL,
		Logger:  logger.Named("listings_cache"),
	})
	if err != nil {
		return fmt.Errorf("listings cache: %w", err)
	}

	paymentsClient, err := payments.New(payments.Config{
		APIKey:        cfg.StripeAPIKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		SuccessURL:    cfg.SuccessURL,
		CancelURL:     cfg.CancelURL,
		Currency:      cfg.Currency,
	})
	if err != nil {
		return fmt.Errorf("payments client: %w", err)
	}
	receipts, err := payments.NewReceiptTokens([]byte(cfg.ReceiptSigningKey), cfg.ReceiptIssuer, cfg.ReceiptLifetime)
	if err != nil {
		return fmt.Errorf("receipt tokens: %w", err)
	}

	journal, err := eventlog.Open(cfg.EventLogDriver, cfg.EventLogDSN)
	if err != nil {
		return fmt.Errorf("event journal: %w", err)
	}

	handler := &httpHandler{
		logger:         logger,
		cfg:            cfg,
		store:          store,
		availability:   availabilityCache,
		listings:       listingsCache,
		rollups:        rollups,
		paymentsClient: paymentsClient,
		journal:        journal,
		receipts:       receipts,
		script:         chatbot.DefaultScript(),
	}

	router := setupRouter(cfg, handler)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("bookingbridge listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(handler.logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization", "X-Api-Key"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.SetHTMLTemplate(newPageTemplates())

	router.GET("/healthz", handler.handleHealthz)
	router.GET("/pages/checkout/success", handler.handleSuccessPage)
	router.GET("/pages/checkout/cancel", handler.handleCancelPage)
	router.POST("/webhooks/stripe", handler.handleStripeWebhook)

	api := router.Group("/api")
	api.GET("/availability", handler.handleAvailability)
	api.GET("/listings", handler.handleListings)
	api.GET("/receipts", handler.handleReceipt)
	api.POST("/chatbot/step", handler.handleChatbotStep)
	// The trigger endpoint authenticates inside the handler so the datastore
	// webhook can pass the token as a query parameter.
	api.POST("/rollup/recompute", handler.handleRollupRecompute)

	secured := api.Group("")
	secured.Use(requireSharedSecret(cfg.SharedSecret))
	secured.POST("/reservations", handler.handleCreateReservation)
	secured.GET("/reservations/:id", handler.handleGetReservation)
	secured.POST("/checkout", handler.handleCheckout)
	secured.POST("/refunds", handler.handleRefund)
	secured.GET("/events/recent", handler.handleRecentEvents)

	return router
}
