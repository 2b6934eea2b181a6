package events

import "strings"

// Type дискриминатор типа события
type Type string

const (
	// OrderCreated публикует Order Service после сохранения заказа в pending
	OrderCreated Type = "OrderCreated"
	// PaymentProcessed публикует Payment Service при любом исходе оплаты
	PaymentProcessed Type = "PaymentProcessed"
)

// Сервисы-источники событий (первый сегмент routing key)
const (
	OriginOrder   = "order"
	OriginPayment = "payment"
)

// Статусы оплаты в PaymentProcessed
const (
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
)

var origins = map[Type]string{
	OrderCreated:     OriginOrder,
	PaymentProcessed: OriginPayment,
}

// Origin возвращает сервис-источник для известного типа события
func Origin(t Type) (string, bool) {
	origin, ok := origins[t]
	return origin, ok
}

// Known сообщает, зарегистрирован ли тип события
func Known(t Type) bool {
	_, ok := origins[t]
	return ok
}

// RoutingKey строит ключ маршрутизации "<origin>.<event.type>".
// OrderCreated -> order.order.created, PaymentProcessed -> payment.payment.processed
func RoutingKey(origin string, t Type) string {
	return origin + "." + dotted(string(t))
}

// RoutingKeyFor строит ключ для известного типа события
func RoutingKeyFor(t Type) (string, bool) {
	origin, ok := Origin(t)
	if !ok {
		return "", false
	}
	return RoutingKey(origin, t), true
}

// dotted переводит CamelCase в dot.lower.case
func dotted(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
