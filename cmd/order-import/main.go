package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/sivakasi-crackers/order-dashboard/internal/config"
	"github.com/sivakasi-crackers/order-dashboard/internal/events"
	"github.com/sivakasi-crackers/order-dashboard/internal/migration"
	"github.com/sivakasi-crackers/order-dashboard/internal/store"
	"github.com/sivakasi-crackers/order-dashboard/pkg/models"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	file := flag.String("file", "", "exported order collection (JSON keyed by order id)")
	defaults := migration.DefaultConfig()
	batchSize := flag.Int("batch", defaults.BatchSize, "orders per batch")
	concurrency := flag.Int("concurrency", defaults.Concurrency, "batches written in parallel")
	delay := flag.Duration("delay", defaults.DelayBetween, "pause after each batch")
	dryRun := flag.Bool("dry-run", false, "report what would be imported without writing")
	overwrite := flag.Bool("overwrite", false, "rewrite orders the target already holds")
	validate := flag.Bool("validate", true, "compare the target with the export afterwards")
	format := flag.String("report", "summary", "report format: summary or json")
	flag.Parse()

	if *file == "" {
		logger.Fatal("-file is required")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	logger.SetLevel(cfg.Level())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	data, err := os.ReadFile(*file)
	if err != nil {
		logger.WithError(err).Fatal("Failed to read export")
	}
	source, err := models.DecodeCollection(data)
	if err != nil {
		logger.WithError(err).Warn("Some exported orders could not be decoded")
	}

	target, err := openTarget(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open order target")
	}
	defer target.close()

	existing, err := migration.Snapshot(ctx, target.source)
	if err != nil {
		logger.WithError(err).Fatal("Failed to read target orders")
	}

	importer := migration.NewImporter(target.writer, logger)
	importer.SetConfig(migration.Config{
		BatchSize:    *batchSize,
		Concurrency:  *concurrency,
		DelayBetween: *delay,
		DryRun:       *dryRun,
		SkipExisting: !*overwrite,
	})

	result, err := importer.Import(ctx, source, existing)
	if err != nil {
		logger.WithError(err).Fatal("Import interrupted")
	}

	var validation *migration.ValidationResult
	if *validate && !*dryRun {
		after, err := migration.Snapshot(ctx, target.source)
		if err != nil {
			logger.WithError(err).Fatal("Failed to re-read target orders")
		}
		validation = migration.Validate(source, after, logger)
	}

	report, err := migration.GenerateReport(result, validation, *format)
	if err != nil {
		logger.WithError(err).Fatal("Failed to build report")
	}
	fmt.Print(string(report))

	if result.Failed > 0 || (validation != nil && !validation.IsValid) {
		os.Exit(1)
	}
}

type importTarget struct {
	writer migration.Writer
	source store.Source
	close  func()
}

type kafkaWriter struct {
	producer *events.KafkaProducer
}

func (w kafkaWriter) Put(ctx context.Context, rec models.OrderRecord) error {
	return w.producer.PublishOrderRecord(ctx, rec)
}

func openTarget(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*importTarget, error) {
	switch cfg.OrderSource {
	case config.SourcePostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("connect to database: %w", err)
		}

		src := store.NewPostgresSource(db, cfg.DatabaseURL, cfg.OrderChannel, logger)
		if err := src.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return &importTarget{writer: src, source: src, close: func() { db.Close() }}, nil

	case config.SourceKafka:
		producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			return nil, err
		}
		producer.WithTopics(cfg.InvoiceTopic, cfg.OrderTopic)
		return &importTarget{
			writer: kafkaWriter{producer: producer},
			source: store.NewKafkaSource(cfg.KafkaBrokers, cfg.OrderTopic, logger),
			close:  func() { producer.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("order import needs ORDER_SOURCE=%s or %s, got %q",
			config.SourcePostgres, config.SourceKafka, cfg.OrderSource)
	}
}
