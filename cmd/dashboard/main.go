package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/sivakasi-crackers/order-dashboard/internal/api"
	"github.com/sivakasi-crackers/order-dashboard/internal/cache"
	"github.com/sivakasi-crackers/order-dashboard/internal/circuitbreaker"
	"github.com/sivakasi-crackers/order-dashboard/internal/config"
	"github.com/sivakasi-crackers/order-dashboard/internal/dashboard"
	"github.com/sivakasi-crackers/order-dashboard/internal/events"
	"github.com/sivakasi-crackers/order-dashboard/internal/invoice"
	"github.com/sivakasi-crackers/order-dashboard/internal/store"
	"github.com/sivakasi-crackers/order-dashboard/internal/websocket"
	"github.com/sivakasi-crackers/order-dashboard/pkg/models"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := run(logger); err != nil {
		logger.WithError(err).Fatal("Dashboard stopped")
	}
	logger.Info("Server gracefully stopped")
}

func run(logger *logrus.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetLevel(cfg.Level())

	source, closeSource, err := openSource(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSource()

	renderer, err := invoice.NewRenderer(cfg.Shop(), cfg.Location(), cfg.InvoiceOptions(), logger)
	if err != nil {
		return err
	}

	breakers := circuitbreaker.NewManager(logger)

	var opts []dashboard.Option
	if cfg.RedisAddr != "" {
		invoiceCache := cache.NewInvoiceCache(cache.NewClient(cfg.RedisAddr), cfg.InvoiceCacheTTL).
			WithBreaker(breakers.GetOrCreate(circuitbreaker.Config{Name: "redis", MaxFailures: cfg.BreakerMaxFailures, Cooldown: cfg.BreakerCooldown}))
		defer invoiceCache.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := invoiceCache.Ping(pingCtx); err != nil {
			logger.WithError(err).WithField("addr", cfg.RedisAddr).Warn("Redis not reachable, invoices will be rendered on every download")
		}
		cancel()
		opts = append(opts, dashboard.WithInvoiceCache(invoiceCache))
		logger.WithField("addr", cfg.RedisAddr).Info("Invoice cache configured")
	}
	if cfg.InvoiceTopic != "" {
		producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			return err
		}
		defer producer.Close()
		producer.WithTopics(cfg.InvoiceTopic, cfg.OrderTopic).
			WithBreaker(breakers.GetOrCreate(circuitbreaker.Config{Name: "kafka", MaxFailures: cfg.BreakerMaxFailures, Cooldown: cfg.BreakerCooldown}))
		opts = append(opts, dashboard.WithInvoicePublisher(producer))
		logger.WithField("topic", cfg.InvoiceTopic).Info("Invoice events enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsHub := websocket.NewHub(logger)
	go wsHub.Run(ctx)

	dash := dashboard.New(store.New(source, logger), renderer, logger, opts...)
	dash.OnChange(wsHub.Publish)
	dash.Start()
	defer dash.Close()

	handler := api.NewHandler(dash, cfg.Contact(), logger)
	handler.SetWebSocketHub(wsHub)
	handler.SetBreakers(breakers)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":   cfg.HTTPAddr,
			"source": cfg.OrderSource,
		}).Info("Starting order dashboard")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig.String()).Info("Shutting down server...")
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	return nil
}

// openSource builds the order source named by ORDER_SOURCE. The returned
// close function is always safe to call.
func openSource(cfg *config.Config, logger *logrus.Logger) (store.Source, func(), error) {
	noop := func() {}

	switch cfg.OrderSource {
	case config.SourcePostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, noop, fmt.Errorf("open database: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, noop, fmt.Errorf("connect to database: %w", err)
		}
		logger.Info("Database connection established")

		src := store.NewPostgresSource(db, cfg.DatabaseURL, cfg.OrderChannel, logger)
		if err := src.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, noop, err
		}
		return src, func() { db.Close() }, nil

	case config.SourceKafka:
		return store.NewKafkaSource(cfg.KafkaBrokers, cfg.OrderTopic, logger), noop, nil

	default:
		initial := models.Collection{}
		if cfg.SeedFile != "" {
			data, err := os.ReadFile(cfg.SeedFile)
			if err != nil {
				return nil, noop, fmt.Errorf("read seed file: %w", err)
			}
			initial, err = models.DecodeCollection(data)
			if err != nil {
				logger.WithError(err).Warn("Some seed orders could not be decoded")
			}
		}
		logger.WithField("count", len(initial)).Info("Serving orders from memory")
		return store.NewMemorySource(initial), noop, nil
	}
}
