package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tubedrift/tubedrift/server/internal/config"
)

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes notifications to a topic, keyed by session id so one
// session's changes stay ordered within a partition.
type KafkaSink struct {
	topic  string
	writer messageWriter
}

var _ Sink = (*KafkaSink)(nil)

// NewKafkaSink creates a writer for cfg.
func NewKafkaSink(cfg config.KafkaConfig) *KafkaSink {
	return &KafkaSink{
		topic: cfg.Topic,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			MaxAttempts:  3,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (k *KafkaSink) Name() string { return "kafka:" + k.topic }

func (k *KafkaSink) Send(ctx context.Context, n Notification) error {
	value, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(n.SessionID),
		Value: value,
		Time:  n.At,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte("history")},
			{Key: "timestamp", Value: []byte(n.At.UTC().Format(time.RFC3339))},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
