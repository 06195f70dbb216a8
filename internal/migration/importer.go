// Package migration copies an exported order collection into a live order
// store and checks the result against the export.
package migration

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/sivakasi-crackers/order-dashboard/internal/store"
	"github.com/sivakasi-crackers/order-dashboard/pkg/models"
)

// Writer is the target store.
type Writer interface {
	Put(ctx context.Context, rec models.OrderRecord) error
}

type Config struct {
	BatchSize    int           `json:"batch_size"`
	Concurrency  int           `json:"concurrency"`
	DelayBetween time.Duration `json:"delay_between"`
	DryRun       bool          `json:"dry_run"`
	SkipExisting bool          `json:"skip_existing"`
}

func DefaultConfig() Config {
	return Config{
		BatchSize:    50,
		Concurrency:  5,
		DelayBetween: 100 * time.Millisecond,
		SkipExisting: true,
	}
}

type Result struct {
	TotalOrders    int           `json:"total_orders"`
	Imported       int           `json:"imported"`
	Failed         int           `json:"failed"`
	Skipped        int           `json:"skipped"`
	ProcessingTime time.Duration `json:"processing_time"`
	Errors         []ImportError `json:"errors"`
	Statistics     Statistics    `json:"statistics"`
	DryRun         bool          `json:"dry_run"`
	Timestamp      time.Time     `json:"timestamp"`
}

type ImportError struct {
	OrderID   string    `json:"order_id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

type Statistics struct {
	OrdersPerSecond   float64         `json:"orders_per_second"`
	TotalValue        decimal.Decimal `json:"total_value"`
	AverageOrderValue decimal.Decimal `json:"average_order_value"`
	LargestOrder      decimal.Decimal `json:"largest_order"`
}

type Importer struct {
	writer Writer
	logger *logrus.Logger
	config Config
}

func NewImporter(writer Writer, logger *logrus.Logger) *Importer {
	return &Importer{
		writer: writer,
		logger: logger,
		config: DefaultConfig(),
	}
}

func (im *Importer) SetConfig(config Config) {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultConfig().BatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	im.config = config
	im.logger.WithFields(logrus.Fields{
		"batch_size":    config.BatchSize,
		"concurrency":   config.Concurrency,
		"dry_run":       config.DryRun,
		"skip_existing": config.SkipExisting,
	}).Info("Import configuration updated")
}

// Import writes every record of source that the target does not already
// hold. existing is the target's current collection and may be nil.
func (im *Importer) Import(ctx context.Context, source, existing models.Collection) (*Result, error) {
	startTime := time.Now()
	result := &Result{
		Errors:    []ImportError{},
		DryRun:    im.config.DryRun,
		Timestamp: startTime,
	}

	var pending []models.OrderRecord
	for _, rec := range source.Records() {
		if _, ok := existing[rec.ID]; ok && im.config.SkipExisting {
			result.Skipped++
			continue
		}
		pending = append(pending, rec)
	}
	result.TotalOrders = len(source)

	im.logger.WithFields(logrus.Fields{
		"source":  len(source),
		"target":  len(existing),
		"pending": len(pending),
		"skipped": result.Skipped,
	}).Info("Orders identified for import")

	switch {
	case len(pending) == 0:
		im.logger.Info("No orders need importing")
	case im.config.DryRun:
		im.logger.WithField("count", len(pending)).Info("DRY RUN: Would import orders")
		result.Imported = len(pending)
	default:
		im.importBatches(ctx, pending, result)
	}

	result.ProcessingTime = time.Since(startTime)
	result.Statistics = calculateStatistics(result, source)

	im.logger.WithFields(logrus.Fields{
		"imported": result.Imported,
		"failed":   result.Failed,
		"skipped":  result.Skipped,
		"duration": result.ProcessingTime,
	}).Info("Import completed")

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (im *Importer) importBatches(ctx context.Context, pending []models.OrderRecord, result *Result) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	semaphore := make(chan struct{}, im.config.Concurrency)

	for _, batch := range createBatches(pending, im.config.BatchSize) {
		wg.Add(1)
		go func(batch []models.OrderRecord) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			batchResult := im.processBatch(ctx, batch)
			mu.Lock()
			mergeResults(result, batchResult)
			mu.Unlock()

			if im.config.DelayBetween > 0 {
				select {
				case <-time.After(im.config.DelayBetween):
				case <-ctx.Done():
				}
			}
		}(batch)
	}
	wg.Wait()
}

func (im *Importer) processBatch(ctx context.Context, batch []models.OrderRecord) *Result {
	result := &Result{}
	for _, rec := range batch {
		if ctx.Err() != nil {
			return result
		}
		if err := im.writer.Put(ctx, rec); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, ImportError{
				OrderID:   rec.ID,
				Error:     err.Error(),
				Timestamp: time.Now(),
			})
			im.logger.WithError(err).WithField("order_id", rec.ID).Error("Failed to import order")
			continue
		}
		result.Imported++
		im.logger.WithField("order_id", rec.ID).Debug("Imported order")
	}
	return result
}

func createBatches(records []models.OrderRecord, size int) [][]models.OrderRecord {
	var batches [][]models.OrderRecord
	for i := 0; i < len(records); i += size {
		end := i + size
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[i:end])
	}
	return batches
}

func mergeResults(target, source *Result) {
	target.Imported += source.Imported
	target.Failed += source.Failed
	target.Skipped += source.Skipped
	target.Errors = append(target.Errors, source.Errors...)
}

func calculateStatistics(result *Result, source models.Collection) Statistics {
	stats := Statistics{}
	if result.ProcessingTime > 0 {
		stats.OrdersPerSecond = float64(result.Imported) / result.ProcessingTime.Seconds()
	}
	for _, rec := range source {
		stats.TotalValue = stats.TotalValue.Add(rec.TotalAmount.Decimal)
		if rec.TotalAmount.GreaterThan(stats.LargestOrder) {
			stats.LargestOrder = rec.TotalAmount.Decimal
		}
	}
	if len(source) > 0 {
		stats.AverageOrderValue = stats.TotalValue.Div(decimal.NewFromInt(int64(len(source)))).Round(2)
	}
	return stats
}

// Snapshot runs src until it publishes its first collection and returns it.
func Snapshot(ctx context.Context, src store.Source) (models.Collection, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	first := make(chan models.Collection, 1)
	errc := make(chan error, 1)
	go func() {
		errc <- src.Run(ctx, func(c models.Collection) {
			select {
			case first <- c:
			default:
			}
			cancel()
		})
	}()

	select {
	case c := <-first:
		return c, nil
	case err := <-errc:
		select {
		case c := <-first:
			return c, nil
		default:
		}
		if err == nil {
			err = errors.New("order source stopped before its first snapshot")
		}
		return nil, err
	}
}
