package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/sivakasi-crackers/order-dashboard/internal/config"
	"github.com/sivakasi-crackers/order-dashboard/internal/events"
	"github.com/sivakasi-crackers/order-dashboard/internal/store"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	initial := flag.Int("orders", 20, "orders to place at startup")
	interval := flag.Duration("interval", 3*time.Second, "time between feed changes, 0 to stop after seeding")
	groupID := flag.String("group", "order-feeder", "consumer group for invoice events")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	logger.SetLevel(cfg.Level())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writer, closeWriter, err := openWriter(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open order target")
	}
	defer closeWriter()

	f := newFeed(writer, rand.New(rand.NewSource(time.Now().UnixNano())), logger)
	for i := 0; i < *initial; i++ {
		if _, err := f.place(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to seed orders")
		}
	}
	logger.WithField("count", f.size()).Info("Seed orders written")

	if cfg.InvoiceTopic != "" {
		consumer, err := events.NewKafkaConsumer(cfg.KafkaBrokers, *groupID, cfg.InvoiceTopic, f, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka consumer")
		}
		defer consumer.Close()

		go func() {
			logger.WithField("topic", cfg.InvoiceTopic).Info("Recording invoice downloads")
			if err := consumer.Start(ctx); err != nil {
				logger.WithError(err).Error("Kafka consumer error")
			}
		}()
	}

	if *interval <= 0 {
		return
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for tick := 1; ; tick++ {
		select {
		case <-sigChan:
			logger.Info("Order feeder stopped")
			return
		case <-ticker.C:
			if err := step(ctx, f, tick); err != nil {
				logger.WithError(err).Error("Feed step failed")
			}
		}
	}
}

// step places a new order every third tick, purges cancelled orders every
// tenth and otherwise advances an open order.
func step(ctx context.Context, f *feed, tick int) error {
	switch {
	case tick%10 == 0:
		_, err := f.purge(ctx)
		return err
	case tick%3 == 0:
		_, err := f.place(ctx)
		return err
	default:
		_, _, err := f.advance(ctx)
		return err
	}
}

func openWriter(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (orderWriter, func(), error) {
	switch cfg.OrderSource {
	case config.SourcePostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}

		// Wait for database to be ready
		for i := 0; i < 30; i++ {
			if err = db.PingContext(ctx); err == nil {
				break
			}
			logger.Info("Waiting for database...")
			time.Sleep(2 * time.Second)
		}
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("connect to database: %w", err)
		}

		src := store.NewPostgresSource(db, cfg.DatabaseURL, cfg.OrderChannel, logger)
		if err := src.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return src, func() { db.Close() }, nil

	case config.SourceKafka:
		producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			return nil, nil, err
		}
		producer.WithTopics(cfg.InvoiceTopic, cfg.OrderTopic)
		return kafkaWriter{producer: producer}, func() { producer.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("order feeder needs ORDER_SOURCE=%s or %s, got %q",
			config.SourcePostgres, config.SourceKafka, cfg.OrderSource)
	}
}
