// Package gateway содержит подключаемые платёжные шлюзы.
// Отказ банка (decline) это нормальный исход, а не ошибка; ошибка означает, что исход неизвестен.
package gateway

import (
	"context"
	"errors"

	"github.com/shestoi/orderflow/platform/events"
)

// ErrUnavailable шлюз не ответил (таймаут, сеть, 5xx). Списание можно повторить с тем же IdempotencyKey.
var ErrUnavailable = errors.New("payment gateway unavailable")

// ChargeRequest запрос на списание
type ChargeRequest struct {
	OrderID        string
	UserID         string
	Amount         events.Money
	IdempotencyKey string
}

// ChargeResult ответ шлюза
type ChargeResult struct {
	Approved      bool
	TransactionID string
	DeclineReason string
}

// Gateway платёжный шлюз
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}
