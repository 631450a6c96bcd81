package notify

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"car-watchdog/utils"
)

// NewKafkaProducer builds the async producer used by KafkaMirror.
func NewKafkaProducer(brokers []string) (sarama.AsyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.ClientID = "car-watchdog"
	return sarama.NewAsyncProducer(brokers, cfg)
}

// KafkaMirror copies broadcast events to a Kafka topic.
type KafkaMirror struct {
	producer  sarama.AsyncProducer
	topic     string
	logger    *utils.Logger
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewKafkaMirror wraps producer and starts draining its result channels.
func NewKafkaMirror(producer sarama.AsyncProducer, topic string, logger *utils.Logger) *KafkaMirror {
	m := &KafkaMirror{
		producer: producer,
		topic:    topic,
		logger:   logger.Named("kafka"),
	}
	m.wg.Add(2)
	go m.handleSuccesses()
	go m.handleErrors()
	return m
}

func (m *KafkaMirror) handleSuccesses() {
	defer m.wg.Done()
	for msg := range m.producer.Successes() {
		m.logger.Debug("Delivered to %s at offset %d", msg.Topic, msg.Offset)
	}
}

func (m *KafkaMirror) handleErrors() {
	defer m.wg.Done()
	for err := range m.producer.Errors() {
		m.logger.Error("Delivery to %s failed: %v", err.Msg.Topic, err.Err)
	}
}

// Publish queues payload keyed by key. It only blocks while the producer's
// input is full.
func (m *KafkaMirror) Publish(ctx context.Context, key string, payload []byte) error {
	msg := &sarama.ProducerMessage{
		Topic:     m.topic,
		Key:       sarama.StringEncoder(key),
		Value:     sarama.ByteEncoder(payload),
		Timestamp: time.Now(),
	}

	select {
	case m.producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending messages and waits for the result handlers.
func (m *KafkaMirror) Close() {
	m.closeOnce.Do(func() {
		m.producer.AsyncClose()
		m.wg.Wait()
		m.logger.Info("Producer closed")
	})
}
