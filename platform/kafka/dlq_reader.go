package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/shestoi/orderflow/platform/rabbitmq"
)

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// DLQReader читает мёртвые письма из DLQ топика для ручного разбора.
// Без consumer group: каждый запуск читает топик с начала и ничего не коммитит.
type DLQReader struct {
	logger *zap.Logger
	reader messageReader
	topic  string
}

// NewDLQReader создаёт reader на cfg.DLQTopic (партиция 0, с первого offset)
func NewDLQReader(logger *zap.Logger, cfg Config) *DLQReader {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.DLQTopic,
		Partition:   0,
		StartOffset: kafka.FirstOffset,
		MaxWait:     500 * time.Millisecond,
	})
	return newDLQReader(logger, reader, cfg.DLQTopic)
}

func newDLQReader(logger *zap.Logger, reader messageReader, topic string) *DLQReader {
	return &DLQReader{
		logger: logger,
		reader: reader,
		topic:  topic,
	}
}

// Read возвращает до limit записей. Конец топика определяется по истечению idle:
// если за idle не пришло ни одной записи, чтение завершается без ошибки.
func (r *DLQReader) Read(ctx context.Context, limit int, idle time.Duration) ([]rabbitmq.DLQMessage, error) {
	var out []rabbitmq.DLQMessage
	for limit <= 0 || len(out) < limit {
		readCtx, cancel := context.WithTimeout(ctx, idle)
		msg, err := r.reader.ReadMessage(readCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return out, nil
			}
			return out, fmt.Errorf("read dlq topic %s: %w", r.topic, err)
		}

		var dl rabbitmq.DLQMessage
		if err := json.Unmarshal(msg.Value, &dl); err != nil {
			r.logger.Warn("skipping malformed DLQ record",
				zap.Error(err),
				zap.Int64("offset", msg.Offset),
			)
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}

// Close закрывает reader
func (r *DLQReader) Close() error {
	return r.reader.Close()
}
