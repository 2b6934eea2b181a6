package rabbitmq

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// DeadLetter сообщение, которое не удалось обработать
type DeadLetter struct {
	Queue         string
	RoutingKey    string
	Body          []byte
	Err           error
	Attempts      int
	EventType     string
	EventID       string
	CorrelationID string
	FailedAt      time.Time
}

// DLQMessage представление DeadLetter на проводе (JSON)
type DLQMessage struct {
	OriginalQueue      string `json:"original_queue"`
	OriginalRoutingKey string `json:"original_routing_key"`
	OriginalBody       string `json:"original_body"` // base64
	ErrorMessage       string `json:"error_message"`
	FailedAt           string `json:"failed_at"` // RFC3339
	EventType          string `json:"event_type,omitempty"`
	EventID            string `json:"event_id,omitempty"`
	CorrelationID      string `json:"correlation_id,omitempty"`
	Attempts           int    `json:"attempts"`
}

// Message собирает DLQMessage
func (d DeadLetter) Message() DLQMessage {
	errorMsg := "unknown error"
	if d.Err != nil {
		errorMsg = d.Err.Error()
	}
	failedAt := d.FailedAt
	if failedAt.IsZero() {
		failedAt = time.Now()
	}
	return DLQMessage{
		OriginalQueue:      d.Queue,
		OriginalRoutingKey: d.RoutingKey,
		OriginalBody:       base64.StdEncoding.EncodeToString(d.Body),
		ErrorMessage:       errorMsg,
		FailedAt:           failedAt.UTC().Format(time.RFC3339),
		EventType:          d.EventType,
		EventID:            d.EventID,
		CorrelationID:      d.CorrelationID,
		Attempts:           d.Attempts,
	}
}

// Encode сериализует DeadLetter в JSON
func (d DeadLetter) Encode() ([]byte, error) {
	return json.Marshal(d.Message())
}

// DeadLetterSink принимает сообщения, исчерпавшие попытки обработки
type DeadLetterSink interface {
	Send(ctx context.Context, dl DeadLetter) error
}

type rawPublisher interface {
	PublishRaw(ctx context.Context, exchange, key string, msg amqp.Publishing) error
}

// DLXSink публикует DeadLetter в dead-letter exchange с ключом = имя исходной очереди,
// так сообщение попадает в <queue>.dlq
type DLXSink struct {
	logger    *zap.Logger
	publisher rawPublisher
	exchange  string
}

// NewDLXSink создаёт sink поверх publisher-а сервиса
func NewDLXSink(logger *zap.Logger, publisher rawPublisher, deadLetterExchange string) *DLXSink {
	return &DLXSink{
		logger:    logger,
		publisher: publisher,
		exchange:  deadLetterExchange,
	}
}

// Send отправляет сообщение в DLQ
func (s *DLXSink) Send(ctx context.Context, dl DeadLetter) error {
	body, err := dl.Encode()
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     dl.EventID,
		CorrelationId: dl.CorrelationID,
		Type:          dl.EventType,
		Timestamp:     time.Now().UTC(),
		Headers: amqp.Table{
			"x-original-queue":       dl.Queue,
			"x-original-routing-key": dl.RoutingKey,
			"x-attempts":             int32(dl.Attempts),
		},
		Body: body,
	}

	if err := s.publisher.PublishRaw(ctx, s.exchange, dl.Queue, msg); err != nil {
		s.logger.Error("failed to publish message to DLQ",
			zap.Error(err),
			zap.String("dlx", s.exchange),
			zap.String("original_queue", dl.Queue),
		)
		return err
	}

	s.logger.Info("message sent to DLQ",
		zap.String("dlx", s.exchange),
		zap.String("original_queue", dl.Queue),
		zap.String("event_type", dl.EventType),
		zap.String("correlation_id", dl.CorrelationID),
		zap.Int("attempts", dl.Attempts),
		zap.String("error", dl.Message().ErrorMessage),
	)
	return nil
}
