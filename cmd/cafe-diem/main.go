package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mthsnx/caffe-diem/internal/config"
	"github.com/mthsnx/caffe-diem/internal/db"
	"github.com/mthsnx/caffe-diem/internal/events"
	"github.com/mthsnx/caffe-diem/internal/menu"
	"github.com/mthsnx/caffe-diem/internal/metrics"
	"github.com/mthsnx/caffe-diem/internal/order"
	"github.com/mthsnx/caffe-diem/internal/payment"
	"github.com/mthsnx/caffe-diem/internal/payment/vipps"
	"github.com/mthsnx/caffe-diem/internal/tracing"
	"github.com/mthsnx/caffe-diem/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	setupLogger(cfg.App)
	log.Info().Msg("Starting cafe-diem...")

	ctx := context.Background()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, "cafe-diem")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to set up tracing")
	}

	if err := db.Migrate(cfg.Postgres); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply database migrations")
	}

	dbPool, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	catalog, err := menu.LoadFile(cfg.App.MenuPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load menu")
	}
	log.Info().Int("items", len(catalog.Items())).Str("path", cfg.App.MenuPath).Msg("Menu loaded")

	initialStatus, err := order.ParseInitialStatus(cfg.App.InitialStatus)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid ORDER_INITIAL_STATUS")
	}

	var publisher events.Publisher = events.NopPublisher{}
	var amqpPublisher *events.AMQPPublisher
	if cfg.AMQP.URL != "" {
		amqpPublisher, err = events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
		}
		publisher = amqpPublisher
		log.Info().Str("exchange", cfg.AMQP.Exchange).Msg("Publishing order status events")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(registry)

	orderRepository := order.NewRepository(dbPool.Pool)
	orderSvc := order.NewService(orderRepository, publisher, initialStatus)

	var paymentSvc payment.Service
	if cfg.Payment.Enabled {
		paymentSvc = payment.NewService(orderSvc, newProvider(cfg.Payment))
		log.Info().Str("provider", cfg.Payment.Provider).Msg("Payments enabled")
	}

	router := transport.NewRouter(transport.Deps{
		Orders:   orderSvc,
		Payments: paymentSvc,
		Menu:     catalog,
		Metrics:  appMetrics,
		Gatherer: registry,
		Health:   dbPool.Pool.Ping,
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 20 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Str("port", cfg.App.Port).Msg("Could not listen")
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	if amqpPublisher != nil {
		if err := amqpPublisher.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close RabbitMQ publisher")
		}
	}
	dbPool.Close()

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush traces")
	}

	log.Info().Msg("cafe-diem stopped gracefully.")
}

func newProvider(cfg config.PaymentConfig) payment.Provider {
	if cfg.Provider == config.ProviderStub {
		log.Warn().Msg("Using stub payment provider, no money will be collected")
		return payment.StubProvider{FallbackURL: cfg.Vipps.FallbackURL}
	}
	return vipps.NewClient(cfg.Vipps)
}

func setupLogger(cfg config.AppConfig) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	logger := zerolog.New(os.Stderr)
	if strings.EqualFold(cfg.LogFormat, "console") {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = logger.With().Timestamp().Str("service", "cafe-diem").Logger()
}
