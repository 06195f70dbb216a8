// Package dashboard holds the live order snapshot behind the admin screens.
// It owns the single store subscription, answers filtered views over the
// latest snapshot and renders invoices on demand.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/sivakasi-crackers/order-dashboard/internal/invoice"
	"github.com/sivakasi-crackers/order-dashboard/internal/orderquery"
	"github.com/sivakasi-crackers/order-dashboard/pkg/models"
)

var ErrOrderNotFound = errors.New("order not found")

type Subscriber interface {
	Subscribe(onUpdate func([]models.OrderRecord)) (unsubscribe func())
}

type InvoiceRenderer interface {
	Render(o models.OrderRecord) (*invoice.Rendered, error)
}

// InvoiceCache stores rendered invoices keyed by order id and a fingerprint
// of the record they were rendered from. Get returns nil on a miss.
type InvoiceCache interface {
	Get(ctx context.Context, orderID, fingerprint string) (*invoice.Rendered, error)
	Set(ctx context.Context, orderID, fingerprint string, r *invoice.Rendered) error
}

type InvoicePublisher interface {
	PublishInvoiceRendered(ctx context.Context, o models.OrderRecord, r *invoice.Rendered, cached bool) error
}

type Option func(*Dashboard)

func WithInvoiceCache(c InvoiceCache) Option {
	return func(d *Dashboard) { d.cache = c }
}

func WithInvoicePublisher(p InvoicePublisher) Option {
	return func(d *Dashboard) { d.events = p }
}

type Dashboard struct {
	store    Subscriber
	renderer InvoiceRenderer
	cache    InvoiceCache
	events   InvoicePublisher
	logger   *logrus.Logger

	snapshot atomic.Pointer[[]models.OrderRecord]

	subMu       sync.Mutex
	unsubscribe func()

	hookMu sync.RWMutex
	hooks  []func([]models.OrderRecord)
}

func New(store Subscriber, renderer InvoiceRenderer, logger *logrus.Logger, opts ...Option) *Dashboard {
	d := &Dashboard{
		store:    store,
		renderer: renderer,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start subscribes to the store. Calling it again releases the previous
// subscription before opening a new one, so at most one is ever held.
func (d *Dashboard) Start() {
	d.subMu.Lock()
	defer d.subMu.Unlock()

	if d.unsubscribe != nil {
		d.unsubscribe()
		d.unsubscribe = nil
	}
	d.unsubscribe = d.store.Subscribe(d.update)
	d.logger.Info("Dashboard subscribed to orders")
}

// Close releases the subscription. Safe to call more than once.
func (d *Dashboard) Close() {
	d.subMu.Lock()
	defer d.subMu.Unlock()

	if d.unsubscribe == nil {
		return
	}
	d.unsubscribe()
	d.unsubscribe = nil
	d.logger.Info("Dashboard unsubscribed from orders")
}

// OnChange registers fn to be called with every new snapshot. Hooks run on
// the delivery goroutine and must not block for long.
func (d *Dashboard) OnChange(fn func([]models.OrderRecord)) {
	d.hookMu.Lock()
	d.hooks = append(d.hooks, fn)
	d.hookMu.Unlock()
}

func (d *Dashboard) update(records []models.OrderRecord) {
	if records == nil {
		records = []models.OrderRecord{}
	}
	d.snapshot.Store(&records)

	d.logger.WithField("count", len(records)).Debug("Order snapshot replaced")

	d.hookMu.RLock()
	hooks := append(([]func([]models.OrderRecord))(nil), d.hooks...)
	d.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(records)
	}
}

// Loaded reports whether a snapshot has arrived since the dashboard started.
func (d *Dashboard) Loaded() bool {
	return d.snapshot.Load() != nil
}

// Snapshot returns the latest snapshot. Callers must not modify it.
func (d *Dashboard) Snapshot() []models.OrderRecord {
	if p := d.snapshot.Load(); p != nil {
		return *p
	}
	return []models.OrderRecord{}
}

func (d *Dashboard) View(p orderquery.Params) []models.OrderRecord {
	return orderquery.Apply(d.Snapshot(), p.Normalize())
}

func (d *Dashboard) Stats() orderquery.Stats {
	return orderquery.Summarize(d.Snapshot())
}

func (d *Dashboard) Order(id string) (models.OrderRecord, error) {
	for _, r := range d.Snapshot() {
		if r.ID == id {
			return r, nil
		}
	}
	return models.OrderRecord{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
}

// Invoice renders the invoice for the order as it stands in the current
// snapshot. A cached rendering of the identical record is reused. Cache and
// publish failures are logged and never fail the download.
func (d *Dashboard) Invoice(ctx context.Context, id string) (*invoice.Rendered, error) {
	o, err := d.Order(id)
	if err != nil {
		return nil, err
	}

	log := d.logger.WithField("order_id", id)
	key, err := invoice.Fingerprint(o)
	if err != nil {
		log.WithError(err).Warn("Failed to fingerprint order, skipping invoice cache")
	}

	if d.cache != nil && key != "" {
		cached, err := d.cache.Get(ctx, id, key)
		if err != nil {
			log.WithError(err).Warn("Invoice cache lookup failed")
		} else if cached != nil {
			log.Debug("Invoice served from cache")
			d.publish(ctx, o, cached, true)
			return cached, nil
		}
	}

	rendered, err := d.renderer.Render(o)
	if err != nil {
		return nil, fmt.Errorf("render invoice %s: %w", id, err)
	}
	log.WithFields(logrus.Fields{
		"file":  rendered.FileName,
		"pages": rendered.Pages,
	}).Info("Invoice rendered")

	if d.cache != nil && key != "" {
		if err := d.cache.Set(ctx, id, key, rendered); err != nil {
			log.WithError(err).Warn("Failed to cache invoice")
		}
	}
	d.publish(ctx, o, rendered, false)
	return rendered, nil
}

func (d *Dashboard) publish(ctx context.Context, o models.OrderRecord, r *invoice.Rendered, cached bool) {
	if d.events == nil {
		return
	}
	if err := d.events.PublishInvoiceRendered(ctx, o, r, cached); err != nil {
		d.logger.WithError(err).WithField("order_id", o.ID).Warn("Failed to publish invoice event")
	}
}
