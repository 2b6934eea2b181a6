package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"strings"
	"time"
)

// DeclineInsufficientFunds причина отказа фейкового шлюза
const DeclineInsufficientFunds = "insufficient_funds"

// FakeGateway детерминированный шлюз для локального запуска и тестов.
// Решение зависит только от order id, поэтому повторная доставка даёт тот же исход и тот же transaction id.
type FakeGateway struct {
	successRate float64
	latency     time.Duration
}

// NewFakeGateway successRate в [0, 1]; latency имитирует поход в банк
func NewFakeGateway(successRate float64, latency time.Duration) *FakeGateway {
	if successRate < 0 {
		successRate = 0
	}
	if successRate > 1 {
		successRate = 1
	}
	return &FakeGateway{successRate: successRate, latency: latency}
}

// Charge решает исход по хешу order id
func (g *FakeGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	if g.latency > 0 {
		timer := time.NewTimer(g.latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ChargeResult{}, ctx.Err()
		case <-timer.C:
		}
	}

	if !g.approve(req.OrderID) {
		return ChargeResult{Approved: false, DeclineReason: DeclineInsufficientFunds}, nil
	}
	return ChargeResult{Approved: true, TransactionID: transactionID(req.IdempotencyKey)}, nil
}

func (g *FakeGateway) approve(orderID string) bool {
	h := fnv.New32a()
	h.Write([]byte(orderID))
	bucket := h.Sum32() % 10000
	return float64(bucket) < g.successRate*10000
}

// transactionID формат TXN- + 12 hex символов в верхнем регистре
func transactionID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "TXN-" + strings.ToUpper(hex.EncodeToString(sum[:6]))
}
