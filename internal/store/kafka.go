package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/sivakasi-crackers/order-dashboard/pkg/models"
)

const (
	DefaultOrderTopic = "customer-orders"

	kafkaSettleDelay = 100 * time.Millisecond
	kafkaMaxSettle   = time.Second
)

// KafkaSource materializes a compacted topic of order documents: the
// message key is the order id, the value its JSON document, and an empty
// value deletes the order. Every partition is read from the oldest offset so
// each Run rebuilds the collection from scratch. Bursts of messages are
// folded into one snapshot once the topic has been quiet for a moment, and
// a steady stream is still published at least every kafkaMaxSettle.
type KafkaSource struct {
	topic       string
	logger      *logrus.Logger
	newConsumer func() (sarama.Consumer, error)
}

func NewKafkaSource(brokers []string, topic string, logger *logrus.Logger) *KafkaSource {
	return NewKafkaSourceWithConsumer(func() (sarama.Consumer, error) {
		config := sarama.NewConfig()
		config.Version = sarama.V2_6_0_0
		config.ClientID = "order-dashboard"
		return sarama.NewConsumer(brokers, config)
	}, topic, logger)
}

// NewKafkaSourceWithConsumer builds a source over a caller-supplied consumer
// factory. Each Run opens one consumer and closes it on return.
func NewKafkaSourceWithConsumer(newConsumer func() (sarama.Consumer, error), topic string, logger *logrus.Logger) *KafkaSource {
	if topic == "" {
		topic = DefaultOrderTopic
	}
	return &KafkaSource{topic: topic, logger: logger, newConsumer: newConsumer}
}

func (s *KafkaSource) Run(ctx context.Context, publish func(models.Collection)) error {
	consumer, err := s.newConsumer()
	if err != nil {
		return fmt.Errorf("create kafka consumer: %w", err)
	}
	defer consumer.Close()

	partitions, err := consumer.Partitions(s.topic)
	if err != nil {
		return fmt.Errorf("list partitions for %s: %w", s.topic, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	messages := make(chan *sarama.ConsumerMessage)
	var wg sync.WaitGroup
	var claimed []sarama.PartitionConsumer
	defer func() {
		cancel()
		for _, pc := range claimed {
			pc.AsyncClose()
		}
		wg.Wait()
	}()

	for _, p := range partitions {
		pc, err := consumer.ConsumePartition(s.topic, p, sarama.OffsetOldest)
		if err != nil {
			return fmt.Errorf("consume %s/%d: %w", s.topic, p, err)
		}
		claimed = append(claimed, pc)

		wg.Add(1)
		go func(pc sarama.PartitionConsumer) {
			defer wg.Done()
			for {
				select {
				case msg, ok := <-pc.Messages():
					if !ok {
						return
					}
					select {
					case messages <- msg:
					case <-runCtx.Done():
						return
					}
				case <-runCtx.Done():
					return
				}
			}
		}(pc)
	}

	s.logger.WithFields(logrus.Fields{
		"topic":      s.topic,
		"partitions": len(partitions),
	}).Info("Order feed consumer started")

	coll := models.Collection{}
	settle := time.NewTimer(kafkaSettleDelay)
	defer settle.Stop()
	dirty := true
	dirtySince := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil

		case msg := <-messages:
			s.apply(coll, msg)
			if !dirty {
				dirty = true
				dirtySince = time.Now()
			}
			if !settle.Stop() {
				select {
				case <-settle.C:
				default:
				}
			}
			settle.Reset(settleWait(dirtySince))

		case <-settle.C:
			if dirty {
				publish(clone(coll))
				dirty = false
			}
		}
	}
}

// settleWait is how long to wait for more messages before publishing a
// collection that has been dirty since the given time.
func settleWait(dirtySince time.Time) time.Duration {
	wait := kafkaSettleDelay
	if left := kafkaMaxSettle - time.Since(dirtySince); left < wait {
		wait = left
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

func (s *KafkaSource) apply(coll models.Collection, msg *sarama.ConsumerMessage) {
	id := string(msg.Key)
	if id == "" {
		s.logger.WithFields(logrus.Fields{
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("Ignoring order message without key")
		return
	}
	if len(msg.Value) == 0 {
		delete(coll, id)
		return
	}

	rec, err := models.DecodeRecord(id, msg.Value)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"order_id":  id,
			"partition": msg.Partition,
			"offset":    msg.Offset,
		}).Warn("Skipping undecodable order message")
		return
	}
	coll[id] = rec
}
