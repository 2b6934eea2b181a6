package sender

import (
	"context"
	"errors"
)

// ErrNoRecipient получатель не известен (например, у заказа нет e-mail)
var ErrNoRecipient = errors.New("no recipient")

// Message готовое к отправке уведомление
type Message struct {
	// To адрес получателя; для telegram игнорируется, чат задан в конфигурации
	To      string
	Subject string
	Body    string
}

// Sender канал доставки уведомлений
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// truncate оставляет первые maxLen символов (рун), не разрезая многобайтовые символы
func truncate(s string, maxLen int) string {
	n := 0
	for i := range s {
		if n == maxLen {
			return s[:i] + "..."
		}
		n++
	}
	return s
}
