package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"commissions-backend/internal/application/notifications"

	"github.com/segmentio/kafka-go"
)

const DefaultTopic = "project.status-changed"

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes status changes keyed by project id, so one project's events stay ordered
// within a partition.
type KafkaSink struct {
	Writer MessageWriter
	Topic  string
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaSink{
		Writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		Topic: topic,
	}, nil
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Send(ctx context.Context, ev notifications.StatusChanged) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.Writer.WriteMessages(ctx, kafka.Message{
		Topic: s.Topic,
		Key:   []byte(ev.ProjectID.String()),
		Value: payload,
		Time:  time.Now().UTC(),
	})
}

func (s *KafkaSink) Close() error {
	return s.Writer.Close()
}
