package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shestoi/orderflow/platform/rabbitmq"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// DLQSink пишет мёртвые письма RabbitMQ-консьюмеров в Kafka топик.
// Ключ сообщения correlation id (order id), чтобы письма одного заказа попадали в одну партицию.
type DLQSink struct {
	logger *zap.Logger
	writer messageWriter
	topic  string
}

// NewDLQSink создаёт sink с kafka.Writer на cfg.DLQTopic
func NewDLQSink(logger *zap.Logger, cfg Config) *DLQSink {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.DLQTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newDLQSink(logger, writer, cfg.DLQTopic)
}

func newDLQSink(logger *zap.Logger, writer messageWriter, topic string) *DLQSink {
	return &DLQSink{
		logger: logger,
		writer: writer,
		topic:  topic,
	}
}

// Send отправляет сообщение в DLQ топик
func (s *DLQSink) Send(ctx context.Context, dl rabbitmq.DeadLetter) error {
	value, err := json.Marshal(dl.Message())
	if err != nil {
		s.logger.Error("failed to marshal DLQ message",
			zap.Error(err),
			zap.String("original_queue", dl.Queue),
		)
		return err
	}

	// ключ: correlation id если есть, иначе имя очереди
	key := []byte(dl.CorrelationID)
	if len(key) == 0 {
		key = []byte(dl.Queue)
	}

	msg := kafka.Message{
		Key:   key,
		Value: value,
		Headers: []kafka.Header{
			{Key: "original_queue", Value: []byte(dl.Queue)},
			{Key: "event_type", Value: []byte(dl.EventType)},
		},
	}

	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.logger.Error("failed to publish message to DLQ",
			zap.Error(err),
			zap.String("dlq_topic", s.topic),
			zap.String("original_queue", dl.Queue),
		)
		return fmt.Errorf("kafka dlq: %w", err)
	}

	s.logger.Info("message sent to DLQ",
		zap.String("dlq_topic", s.topic),
		zap.String("original_queue", dl.Queue),
		zap.String("correlation_id", dl.CorrelationID),
		zap.Int("attempts", dl.Attempts),
	)
	return nil
}

// Close закрывает Kafka writer
func (s *DLQSink) Close() error {
	return s.writer.Close()
}
