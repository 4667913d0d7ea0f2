package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/MrJamesThe3rd/payments/internal/config"
	"github.com/MrJamesThe3rd/payments/internal/database"
	"github.com/MrJamesThe3rd/payments/internal/deadletter"
	"github.com/MrJamesThe3rd/payments/internal/events"
	"github.com/MrJamesThe3rd/payments/internal/gateway/mock"
	"github.com/MrJamesThe3rd/payments/internal/gateway/stripe"
	paymentsHttp "github.com/MrJamesThe3rd/payments/internal/http"
	"github.com/MrJamesThe3rd/payments/internal/http/auth"
	paymentHandler "github.com/MrJamesThe3rd/payments/internal/http/payment"
	webhookHandler "github.com/MrJamesThe3rd/payments/internal/http/webhook"
	"github.com/MrJamesThe3rd/payments/internal/logging"
	"github.com/MrJamesThe3rd/payments/internal/metrics"
	"github.com/MrJamesThe3rd/payments/internal/payment"
	"github.com/MrJamesThe3rd/payments/internal/payment/memstore"
	"github.com/MrJamesThe3rd/payments/internal/payment/store"
	"github.com/MrJamesThe3rd/payments/internal/telemetry"
	"github.com/MrJamesThe3rd/payments/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Service: cfg.App.Name})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:    cfg.App.Name,
		ServiceVersion: cfg.App.Version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}

	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	repo, closeRepo, err := openRepository(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRepo()

	registry := metrics.NewRegistry()
	recorder := metrics.New(registry)

	opts := []payment.Option{
		payment.WithObserver(recorder),
		payment.WithGatewayTimeout(cfg.Gateway.Timeout),
		payment.WithLeaseTTL(cfg.Gateway.LeaseTTL),
	}

	if len(cfg.Kafka.Brokers) > 0 {
		writer := events.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer writer.Close()

		opts = append(opts, payment.WithNotifier(events.NewPublisher(writer, cfg.Kafka.Timeout)))
		logger.Info("publishing state changes", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", writer.Topic))
	}

	paymentService := payment.NewService(repo, newGateway(cfg, logger), logger, opts...)

	var webhookOpts []webhookHandler.Option

	if cfg.Redis.Addr != "" {
		client, err := deadletter.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return err
		}
		defer client.Close()

		webhookOpts = append(webhookOpts, webhookHandler.WithDeadLetters(deadletter.NewQueue(client, logger, cfg.Redis.List)))
	}

	if cfg.Stripe.WebhookSecret == "" {
		logger.Warn("STRIPE_WEBHOOK_SECRET not set, every webhook will be rejected")
	}

	verifier := webhook.NewVerifier(cfg.Stripe.WebhookSecret, webhook.WithTolerance(cfg.Stripe.WebhookTolerance))

	authenticator := auth.New(cfg.Auth.JWTSecret, cfg.Auth.Issuer, logger)
	if !authenticator.Enabled() {
		logger.Warn("JWT_SECRET not set, payment routes are unauthenticated")
	}

	router := paymentsHttp.New(
		paymentHandler.NewHandler(paymentService, logger),
		webhookHandler.NewHandler(verifier, paymentService, logger, webhookOpts...),
		paymentsHttp.Options{
			Logger:         logger,
			Metrics:        recorder,
			MetricsHandler: metrics.Handler(registry),
			Auth:           authenticator,
			AllowedOrigins: cfg.Server.AllowedOrigins,
		},
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.Port),
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.Timeout,
		ReadTimeout:       cfg.Server.Timeout,
		// Capture and refund may wait on the gateway for its full timeout.
		WriteTimeout: cfg.Server.Timeout + cfg.Gateway.Timeout,
		IdleTimeout:  2 * cfg.Server.Timeout,
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("gateway", cfg.Gateway.Provider))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	return nil
}

func openRepository(ctx context.Context, cfg *config.Config, logger *zap.Logger) (payment.Repository, func(), error) {
	if cfg.DB.Driver == config.DriverMemory {
		logger.Warn("using in-memory storage, transactions are lost on restart")
		return memstore.New(), func() {}, nil
	}

	db, err := database.New(ctx, cfg.ConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}

	closeDB := func() { closeQuietly(db, logger) }

	s := store.New(db)

	if cfg.DB.Migrate {
		if err := s.Migrate(ctx); err != nil {
			closeDB()
			return nil, nil, err
		}
	}

	return s, closeDB, nil
}

func closeQuietly(db *sql.DB, logger *zap.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("failed to close database", zap.Error(err))
	}
}

func newGateway(cfg *config.Config, logger *zap.Logger) payment.Gateway {
	if cfg.Gateway.Provider == config.ProviderStripe {
		return stripe.New(stripe.Config{
			SecretKey: cfg.Stripe.SecretKey,
			BaseURL:   cfg.Stripe.BaseURL,
			Timeout:   cfg.Gateway.Timeout,
			Logger:    logger,
		})
	}

	logger.Info("using mock gateway",
		zap.Bool("disable_random", cfg.Mock.DisableRandom),
		zap.Float64("failure_rate", cfg.Mock.FailureRate),
		zap.Stringer("decline_above", cfg.Mock.DeclineAbove),
	)

	return mock.New(mock.Config{
		FailureRate:   cfg.Mock.FailureRate,
		DisableRandom: cfg.Mock.DisableRandom,
		DeclineAbove:  cfg.Mock.DeclineAbove,
	})
}
