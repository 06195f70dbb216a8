package main

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/sivakasi-crackers/order-dashboard/internal/events"
	"github.com/sivakasi-crackers/order-dashboard/pkg/models"
)

type product struct {
	name  string
	price string
}

var catalogue = []product{
	{"Flower Pots Big", "180.00"},
	{"Ground Chakkar Special", "95.50"},
	{"Bijili Crackers (100 pcs)", "60.00"},
	{"Sparklers 10cm Electric", "42.00"},
	{"Rocket Bomb", "150.00"},
	{"Twinkling Star 1.5 inch", "38.25"},
	{"Pencil Crackers (10 pcs)", "55.00"},
	{"Chakkar Big (25 pcs) Deluxe Gold Edition Gift Box", "361.50"},
	{"Atom Bomb", "120.00"},
	{"Multi Colour Shots (30 shots)", "899.00"},
}

var customers = []struct{ name, city string }{
	{"Anu Priya", "Sivakasi"},
	{"Balamurugan", "Madurai"},
	{"Chitra Devi", "Virudhunagar"},
	{"Dinesh Kumar", "Chennai"},
	{"Ezhil Arasi", "Coimbatore"},
	{"Faizal", "Tirunelveli"},
	{"Gowri Shankar", "Salem"},
	{"Hema Malini", "Trichy"},
}

var progression = map[models.Status]models.Status{
	models.StatusPending:    models.StatusProcessing,
	models.StatusProcessing: models.StatusShipped,
	models.StatusShipped:    models.StatusDelivered,
}

// orderWriter is where the feed publishes its orders.
type orderWriter interface {
	Put(ctx context.Context, rec models.OrderRecord) error
	Delete(ctx context.Context, id string) error
}

type kafkaWriter struct {
	producer *events.KafkaProducer
}

func (w kafkaWriter) Put(ctx context.Context, rec models.OrderRecord) error {
	return w.producer.PublishOrderRecord(ctx, rec)
}

func (w kafkaWriter) Delete(ctx context.Context, id string) error {
	return w.producer.DeleteOrderRecord(ctx, id)
}

// feed plays the part of the storefront: it places orders, moves them
// through fulfilment and records invoice downloads.
type feed struct {
	mu        sync.Mutex
	orders    map[string]models.OrderRecord
	writer    orderWriter
	rng       *rand.Rand
	now       func() time.Time
	nextToken int64
	logger    *logrus.Logger
}

func newFeed(writer orderWriter, rng *rand.Rand, logger *logrus.Logger) *feed {
	return &feed{
		orders:    make(map[string]models.OrderRecord),
		writer:    writer,
		rng:       rng,
		now:       time.Now,
		nextToken: 1,
		logger:    logger,
	}
}

func (f *feed) place(ctx context.Context) (models.OrderRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	c := customers[f.rng.Intn(len(customers))]
	rec := models.OrderRecord{
		ID:            uuid.New().String(),
		TokenNumber:   models.NewInteger(f.nextToken),
		InvoiceNumber: models.Text(fmt.Sprintf("INV-%s-%04d", f.now().Format("2006"), f.nextToken)),
		Customer:      models.Text(c.name),
		Phone:         models.Text(fmt.Sprintf("98%08d", f.rng.Intn(100000000))),
		Address:       models.Text(fmt.Sprintf("%d, Main Bazaar Street", f.rng.Intn(200)+1)),
		City:          models.Text(c.city),
		OrderDate:     models.NewTimestamp(f.now().UTC()),
		Status:        models.StatusPending,
	}

	total := decimal.Zero
	for i, n := 0, f.rng.Intn(6)+1; i < n; i++ {
		p := catalogue[f.rng.Intn(len(catalogue))]
		qty := int64(f.rng.Intn(5) + 1)
		price := decimal.RequireFromString(p.price)
		rec.Cart = append(rec.Cart, models.LineItem{
			ProductName: models.Text(p.name),
			Quantity:    models.NewInteger(qty),
			OurPrice:    models.Amount{Decimal: price},
		})
		total = total.Add(price.Mul(decimal.NewFromInt(qty)))
	}
	rec.TotalAmount = models.Amount{Decimal: total}

	if err := f.writer.Put(ctx, rec); err != nil {
		return models.OrderRecord{}, err
	}
	f.orders[rec.ID] = rec
	f.nextToken++

	f.logger.WithFields(logrus.Fields{
		"order_id": rec.ID,
		"token":    rec.TokenNumber.Value,
		"items":    len(rec.Cart),
		"total":    rec.TotalAmount.StringFixed(2),
	}).Info("Order placed")
	return rec, nil
}

// advance moves one open order to its next status. Now and then an order
// is cancelled instead.
func (f *feed) advance(ctx context.Context) (models.OrderRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var open []string
	for id, rec := range f.orders {
		if _, ok := progression[rec.Status]; ok {
			open = append(open, id)
		}
	}
	if len(open) == 0 {
		return models.OrderRecord{}, false, nil
	}
	sort.Strings(open)

	rec := f.orders[open[f.rng.Intn(len(open))]]
	if f.rng.Intn(10) == 0 {
		rec.Status = models.StatusCancelled
	} else {
		rec.Status = progression[rec.Status]
	}

	if err := f.writer.Put(ctx, rec); err != nil {
		return models.OrderRecord{}, false, err
	}
	f.orders[rec.ID] = rec

	f.logger.WithFields(logrus.Fields{
		"order_id": rec.ID,
		"status":   rec.Status,
	}).Info("Order status changed")
	return rec, true, nil
}

// purge removes cancelled orders from the feed.
func (f *feed) purge(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	removed := 0
	for id, rec := range f.orders {
		if rec.Status != models.StatusCancelled {
			continue
		}
		if err := f.writer.Delete(ctx, id); err != nil {
			return removed, err
		}
		delete(f.orders, id)
		removed++
	}
	return removed, nil
}

// HandleInvoiceRendered marks the order's invoice as downloaded.
func (f *feed) HandleInvoiceRendered(ctx context.Context, event events.InvoiceRenderedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	rec, ok := f.orders[event.OrderID]
	if !ok {
		f.logger.WithField("order_id", event.OrderID).Debug("Invoice event for an order this feed does not own")
		return nil
	}
	if rec.PDFDownloaded {
		return nil
	}

	rec.PDFDownloaded = true
	if err := f.writer.Put(ctx, rec); err != nil {
		return err
	}
	f.orders[rec.ID] = rec
	f.logger.WithField("order_id", rec.ID).Info("Invoice download recorded")
	return nil
}

func (f *feed) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}
