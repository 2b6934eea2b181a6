package rabbitmq

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// deadLetterGetter часть *amqp.Channel, нужная для просмотра DLQ
type deadLetterGetter interface {
	Get(queue string, autoAck bool) (amqp.Delivery, bool, error)
}

// PeekDeadLetters читает до limit сообщений из очереди мёртвых писем и возвращает их
// в очередь (nack с requeue). Понимает оба формата: запись DLXSink и исходное
// сообщение, которое брокер перенёс в DLX после nack без requeue.
func PeekDeadLetters(ch deadLetterGetter, queue string, limit int) ([]DLQMessage, error) {
	var (
		out        []DLQMessage
		deliveries []amqp.Delivery
	)
	defer func() {
		for _, d := range deliveries {
			_ = d.Nack(false, true)
		}
	}()

	for limit <= 0 || len(out) < limit {
		d, ok, err := ch.Get(queue, false)
		if err != nil {
			return out, fmt.Errorf("get from %s: %w", queue, err)
		}
		if !ok {
			break
		}
		deliveries = append(deliveries, d)
		out = append(out, deadLetterFromDelivery(d))
	}
	return out, nil
}

func deadLetterFromDelivery(d amqp.Delivery) DLQMessage {
	var dl DLQMessage
	if err := json.Unmarshal(d.Body, &dl); err == nil && dl.OriginalQueue != "" {
		return dl
	}

	// Сообщение перенёс сам брокер: причина и исходная очередь лежат в x-death
	dl = DLQMessage{
		OriginalRoutingKey: d.RoutingKey,
		OriginalBody:       base64.StdEncoding.EncodeToString(d.Body),
		ErrorMessage:       "dead-lettered by broker",
		EventType:          d.Type,
		EventID:            d.MessageId,
		CorrelationID:      d.CorrelationId,
		Attempts:           1,
	}
	if q, ok := d.Headers["x-first-death-queue"].(string); ok {
		dl.OriginalQueue = q
	}
	if deaths, ok := d.Headers["x-death"].([]interface{}); ok && len(deaths) > 0 {
		if death, ok := deaths[0].(amqp.Table); ok {
			if reason, ok := death["reason"].(string); ok {
				dl.ErrorMessage = "dead-lettered by broker: " + reason
			}
			if count, ok := death["count"].(int64); ok && count > 0 {
				dl.Attempts = int(count)
			}
			if at, ok := death["time"].(time.Time); ok {
				dl.FailedAt = at.UTC().Format(time.RFC3339)
			}
			if keys, ok := death["routing-keys"].([]interface{}); ok && len(keys) > 0 {
				if key, ok := keys[0].(string); ok {
					dl.OriginalRoutingKey = key
				}
			}
		}
	}
	return dl
}
