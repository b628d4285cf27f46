package sink

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/wartag/tagwire/config"
	"github.com/wartag/tagwire/scheduler"
)

// KafkaSink publishes scheduler Events to a single Kafka topic. Grounded
// on kafka/producer.go's Producer.getWriter/Produce: same *kafka.Writer
// construction (LeastBytes balancer, synchronous RequiredAcks, batch
// settings) and synchronous WriteMessages call per event.
type KafkaSink struct {
	cfg    *config.KafkaSinkConfig
	writer *kafka.Writer
}

// NewKafkaSink builds a writer for cfg.Topic. Unlike the MQTT/Redis
// sinks, kafka-go's Writer dials lazily on first write, so this never
// fails on construction — connectivity problems surface from Publish.
func NewKafkaSink(cfg *config.KafkaSinkConfig) *KafkaSink {
	transport := &kafka.Transport{DialTimeout: 10 * time.Second}
	if cfg.UseTLS {
		transport.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	requiredAcks := cfg.RequiredAcks
	if requiredAcks == 0 {
		requiredAcks = -1 // all replicas, matches kafka/config.go's DefaultConfig
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		Transport:              transport,
		RequiredAcks:           kafka.RequiredAcks(requiredAcks),
		Async:                  false,
		MaxAttempts:            maxRetries,
		BatchSize:              100,
		BatchBytes:             1048576,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}

	return &KafkaSink{cfg: cfg, writer: writer}
}

// Publish writes ev as one Kafka message keyed by its TagID, so a
// partitioned topic keeps all of one tag's events in order.
func (s *KafkaSink) Publish(ctx context.Context, ev scheduler.Event) error {
	payload, err := marshal(newMessage(ev))
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%d", ev.TagID)
	msg := kafka.Message{Key: []byte(key), Value: payload, Time: time.Now()}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("sink: kafka produce to %s: %w", s.cfg.Topic, err)
	}
	return nil
}

// Close flushes and closes the writer's connections.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
