// Package cache keeps recently rendered invoices in Redis so repeated
// downloads of an unchanged order skip the PDF renderer.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sivakasi-crackers/order-dashboard/internal/circuitbreaker"
	"github.com/sivakasi-crackers/order-dashboard/internal/invoice"
)

const (
	// invoice:{order_id}:{fingerprint} -> JSON entry
	KeyInvoice = "invoice:%s:%s"

	DefaultInvoiceTTL = 10 * time.Minute
	dialTimeout       = 2 * time.Second
)

type entry struct {
	FileName string `json:"fileName"`
	Pages    int    `json:"pages"`
	Data     []byte `json:"data"`
}

// InvoiceCache is safe to use as a nil pointer, in which case every lookup
// misses and every store is dropped.
type InvoiceCache struct {
	rdb     *redis.Client
	ttl     time.Duration
	breaker *circuitbreaker.CircuitBreaker
}

func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: dialTimeout,
		ReadTimeout: dialTimeout,
	})
}

func NewInvoiceCache(rdb *redis.Client, ttl time.Duration) *InvoiceCache {
	if ttl <= 0 {
		ttl = DefaultInvoiceTTL
	}
	return &InvoiceCache{rdb: rdb, ttl: ttl}
}

// WithBreaker routes every Redis call through cb. While the breaker is open
// lookups fail fast instead of waiting on a dead server.
func (c *InvoiceCache) WithBreaker(cb *circuitbreaker.CircuitBreaker) *InvoiceCache {
	c.breaker = cb
	return c
}

func Key(orderID, fingerprint string) string {
	return fmt.Sprintf(KeyInvoice, orderID, fingerprint)
}

// Ping checks the connection once at startup.
func (c *InvoiceCache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.rdb.Ping(ctx).Err()
}

func (c *InvoiceCache) Get(ctx context.Context, orderID, fingerprint string) (*invoice.Rendered, error) {
	if c == nil {
		return nil, nil
	}
	var raw []byte
	miss := false
	err := c.breaker.Execute(func() error {
		var err error
		raw, err = c.rdb.Get(ctx, Key(orderID, fingerprint)).Bytes()
		if errors.Is(err, redis.Nil) {
			miss = true
			return nil
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get cached invoice: %w", err)
	}
	if miss {
		return nil, nil
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode cached invoice: %w", err)
	}
	return &invoice.Rendered{FileName: e.FileName, Pages: e.Pages, Data: e.Data}, nil
}

func (c *InvoiceCache) Set(ctx context.Context, orderID, fingerprint string, r *invoice.Rendered) error {
	if c == nil || r == nil {
		return nil
	}
	raw, err := encode(r)
	if err != nil {
		return err
	}
	err = c.breaker.Execute(func() error {
		return c.rdb.Set(ctx, Key(orderID, fingerprint), raw, c.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("cache invoice: %w", err)
	}
	return nil
}

func encode(r *invoice.Rendered) ([]byte, error) {
	raw, err := json.Marshal(entry{FileName: r.FileName, Pages: r.Pages, Data: r.Data})
	if err != nil {
		return nil, fmt.Errorf("encode invoice: %w", err)
	}
	return raw, nil
}

func (c *InvoiceCache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
