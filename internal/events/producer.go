package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sivakasi-crackers/order-dashboard/internal/circuitbreaker"
	"github.com/sivakasi-crackers/order-dashboard/internal/invoice"
	"github.com/sivakasi-crackers/order-dashboard/pkg/models"
)

const (
	InvoiceRenderedTopic = "invoice.rendered"
	OrderTopic           = "customer-orders"
)

type InvoiceRenderedEvent struct {
	EventID       string    `json:"event_id"`
	OrderID       string    `json:"order_id"`
	TokenNumber   string    `json:"token_number,omitempty"`
	InvoiceNumber string    `json:"invoice_number,omitempty"`
	FileName      string    `json:"file_name"`
	Pages         int       `json:"pages"`
	Bytes         int       `json:"bytes"`
	Cached        bool      `json:"cached"`
	EventTime     time.Time `json:"event_time"`
}

type KafkaProducer struct {
	producer     sarama.SyncProducer
	logger       *logrus.Logger
	invoiceTopic string
	orderTopic   string
	breaker      *circuitbreaker.CircuitBreaker
}

func NewKafkaProducer(brokers []string, logger *logrus.Logger) (*KafkaProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0
	config.ClientID = "order-dashboard"

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return NewKafkaProducerWithClient(producer, logger), nil
}

// NewKafkaProducerWithClient wraps an existing producer, e.g. a mock in tests.
func NewKafkaProducerWithClient(producer sarama.SyncProducer, logger *logrus.Logger) *KafkaProducer {
	return &KafkaProducer{
		producer:     producer,
		logger:       logger,
		invoiceTopic: InvoiceRenderedTopic,
		orderTopic:   OrderTopic,
	}
}

// WithTopics overrides the default topic names. Empty names keep the default.
func (p *KafkaProducer) WithTopics(invoiceTopic, orderTopic string) *KafkaProducer {
	if invoiceTopic != "" {
		p.invoiceTopic = invoiceTopic
	}
	if orderTopic != "" {
		p.orderTopic = orderTopic
	}
	return p
}

// WithBreaker guards every send with cb so an unreachable cluster is not
// retried on each call.
func (p *KafkaProducer) WithBreaker(cb *circuitbreaker.CircuitBreaker) *KafkaProducer {
	p.breaker = cb
	return p
}

func (p *KafkaProducer) PublishInvoiceRendered(ctx context.Context, o models.OrderRecord, r *invoice.Rendered, cached bool) error {
	event := InvoiceRenderedEvent{
		EventID:       uuid.New().String(),
		OrderID:       o.ID,
		TokenNumber:   o.TokenNumber.String(),
		InvoiceNumber: string(o.InvoiceNumber),
		FileName:      r.FileName,
		Pages:         r.Pages,
		Bytes:         len(r.Data),
		Cached:        cached,
		EventTime:     time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal invoice event: %w", err)
	}

	return p.send(ctx, &sarama.ProducerMessage{
		Topic: p.invoiceTopic,
		Key:   sarama.StringEncoder(o.ID),
		Value: sarama.ByteEncoder(data),
	}, logrus.Fields{"order_id": o.ID, "event_id": event.EventID})
}

// PublishOrderRecord writes the order document keyed by its id to the
// compacted order topic.
func (p *KafkaProducer) PublishOrderRecord(ctx context.Context, rec models.OrderRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("publish order: empty id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal order %s: %w", rec.ID, err)
	}

	return p.send(ctx, &sarama.ProducerMessage{
		Topic: p.orderTopic,
		Key:   sarama.StringEncoder(rec.ID),
		Value: sarama.ByteEncoder(data),
	}, logrus.Fields{"order_id": rec.ID})
}

// DeleteOrderRecord writes a tombstone for the order.
func (p *KafkaProducer) DeleteOrderRecord(ctx context.Context, id string) error {
	return p.send(ctx, &sarama.ProducerMessage{
		Topic: p.orderTopic,
		Key:   sarama.StringEncoder(id),
	}, logrus.Fields{"order_id": id, "tombstone": true})
}

func (p *KafkaProducer) send(ctx context.Context, msg *sarama.ProducerMessage, fields logrus.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var partition int32
	var offset int64
	err := p.breaker.Execute(func() error {
		var err error
		partition, offset, err = p.producer.SendMessage(msg)
		return err
	})
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("Failed to send message to Kafka")
		return fmt.Errorf("send to %s: %w", msg.Topic, err)
	}

	p.logger.WithFields(fields).WithFields(logrus.Fields{
		"topic":     msg.Topic,
		"partition": partition,
		"offset":    offset,
	}).Info("Event published to Kafka")

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}
