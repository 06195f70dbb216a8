package events

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// InvoiceEventHandler is told about every invoice handed to a user.
type InvoiceEventHandler interface {
	HandleInvoiceRendered(ctx context.Context, event InvoiceRenderedEvent) error
}

// KafkaConsumer reads invoice.rendered events as part of a consumer group.
type KafkaConsumer struct {
	consumerGroup sarama.ConsumerGroup
	handler       InvoiceEventHandler
	logger        *logrus.Logger
	topics        []string
}

type consumerGroupHandler struct {
	handler InvoiceEventHandler
	logger  *logrus.Logger
}

func NewKafkaConsumer(brokers []string, groupID, topic string, handler InvoiceEventHandler, logger *logrus.Logger) (*KafkaConsumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Version = sarama.V2_6_0_0

	consumerGroup, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, err
	}
	if topic == "" {
		topic = InvoiceRenderedTopic
	}

	return &KafkaConsumer{
		consumerGroup: consumerGroup,
		handler:       handler,
		logger:        logger,
		topics:        []string{topic},
	}, nil
}

func (c *KafkaConsumer) Start(ctx context.Context) error {
	handler := &consumerGroupHandler{
		handler: c.handler,
		logger:  c.logger,
	}

	for {
		if err := c.consumerGroup.Consume(ctx, c.topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}
			c.logger.WithError(err).Error("Error consuming from Kafka")
			return err
		}
		if ctx.Err() != nil {
			c.logger.Info("Kafka consumer context cancelled")
			return nil
		}
	}
}

func (c *KafkaConsumer) Close() error {
	return c.consumerGroup.Close()
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session setup")
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger.Info("Kafka consumer group session cleanup")
	return nil
}

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if err := h.handleMessage(session.Context(), message); err != nil {
				h.logger.WithError(err).WithFields(logrus.Fields{
					"topic":     message.Topic,
					"partition": message.Partition,
					"offset":    message.Offset,
				}).Error("Failed to handle message")
				continue
			}
			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessage decodes and dispatches one event. Undecodable payloads are
// reported as handled so they do not block the partition.
func (h *consumerGroupHandler) handleMessage(ctx context.Context, message *sarama.ConsumerMessage) error {
	var event InvoiceRenderedEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		h.logger.WithError(err).WithField("key", string(message.Key)).Warn("Skipping undecodable invoice event")
		return nil
	}
	if event.OrderID == "" {
		h.logger.WithField("event_id", event.EventID).Warn("Skipping invoice event without order id")
		return nil
	}

	h.logger.WithFields(logrus.Fields{
		"order_id": event.OrderID,
		"event_id": event.EventID,
		"cached":   event.Cached,
	}).Info("Processing invoice rendered event")
	return h.handler.HandleInvoiceRendered(ctx, event)
}
