package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/sivakasi-crackers/order-dashboard/pkg/models"
)

const (
	DefaultOrderChannel = "customer_orders_changed"

	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
	listenerPingInterval = 90 * time.Second
)

// PostgresSource treats the customer_orders table as the realtime
// collection. Each row holds one order document; a statement-level trigger
// raises a NOTIFY on every change and the source reloads the whole table.
type PostgresSource struct {
	db          *sql.DB
	dsn         string
	channel     string
	logger      *logrus.Logger
	newListener func(dsn string, onEvent pq.EventCallbackType) Listener
}

// Listener is the LISTEN side of the connection. *pq.Listener satisfies it.
type Listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

func NewPostgresSource(db *sql.DB, dsn, channel string, logger *logrus.Logger) *PostgresSource {
	if channel == "" {
		channel = DefaultOrderChannel
	}
	return &PostgresSource{
		db:      db,
		dsn:     dsn,
		channel: channel,
		logger:  logger,
		newListener: func(dsn string, onEvent pq.EventCallbackType) Listener {
			return pq.NewListener(dsn, listenerMinReconnect, listenerMaxReconnect, onEvent)
		},
	}
}

// EnsureSchema creates the orders table and its change trigger if missing.
func (s *PostgresSource) EnsureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS customer_orders (
			id VARCHAR(255) PRIMARY KEY,
			doc JSONB NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION notify_customer_orders() RETURNS trigger AS $$
		BEGIN
			PERFORM pg_notify(%s, TG_OP);
			RETURN NULL;
		END;
		$$ LANGUAGE plpgsql`, pq.QuoteLiteral(s.channel)),
		`DROP TRIGGER IF EXISTS customer_orders_notify ON customer_orders`,
		`CREATE TRIGGER customer_orders_notify
			AFTER INSERT OR UPDATE OR DELETE OR TRUNCATE ON customer_orders
			FOR EACH STATEMENT EXECUTE FUNCTION notify_customer_orders()`,
	}

	for _, query := range queries {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Load reads the whole collection. Rows whose document cannot be decoded
// are skipped and logged.
func (s *PostgresSource) Load(ctx context.Context) (models.Collection, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, doc FROM customer_orders`)
	if err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	defer rows.Close()

	coll := models.Collection{}
	for rows.Next() {
		var id string
		var doc []byte
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		rec, err := models.DecodeRecord(id, doc)
		if err != nil {
			s.logger.WithError(err).WithField("order_id", id).Warn("Skipping undecodable order document")
			continue
		}
		coll[id] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}
	return coll, nil
}

// Put upserts one order document. Used by the development feeder; the
// dashboard itself never writes.
func (s *PostgresSource) Put(ctx context.Context, rec models.OrderRecord) error {
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal order %s: %w", rec.ID, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO customer_orders (id, doc, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
	`, rec.ID, doc)
	if err != nil {
		return fmt.Errorf("put order %s: %w", rec.ID, err)
	}
	return nil
}

func (s *PostgresSource) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM customer_orders WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete order %s: %w", id, err)
	}
	return nil
}

// Run listens for change notifications and publishes a full reload for
// each burst of them. A reload that fails after startup is logged and the
// previous snapshot stands until the next notification.
func (s *PostgresSource) Run(ctx context.Context, publish func(models.Collection)) error {
	listener := s.newListener(s.dsn, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			s.logger.WithError(err).WithField("event", ev).Warn("Order listener connection event")
		}
	})
	defer listener.Close()

	if err := listener.Listen(s.channel); err != nil {
		return fmt.Errorf("listen %s: %w", s.channel, err)
	}

	coll, err := s.Load(ctx)
	if err != nil {
		return err
	}
	publish(coll)
	s.logger.WithFields(logrus.Fields{
		"channel": s.channel,
		"count":   len(coll),
	}).Info("Order listener started")

	ping := time.NewTicker(listenerPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case _, ok := <-listener.NotificationChannel():
			if !ok {
				return errors.New("order listener closed")
			}
			drainNotifications(listener.NotificationChannel())

			coll, err := s.Load(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				s.logger.WithError(err).Error("Failed to reload orders after notification")
				continue
			}
			publish(coll)

		case <-ping.C:
			if err := listener.Ping(); err != nil {
				s.logger.WithError(err).Warn("Order listener ping failed")
			}
		}
	}
}

// drainNotifications folds queued notifications into the reload about to
// happen. A nil notification (reconnect) is folded the same way.
func drainNotifications(ch <-chan *pq.Notification) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
