package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shestoi/orderflow/platform/events"
)

// HTTPGateway шлюз внешнего платёжного провайдера по HTTP.
// Таймаут свой собственный, не зависит от таймаутов брокера.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

// NewHTTPGateway создаёт клиента к {baseURL}/charges
func NewHTTPGateway(baseURL string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

type chargeRequestBody struct {
	OrderID string       `json:"order_id"`
	UserID  string       `json:"user_id"`
	Amount  events.Money `json:"amount"`
}

type chargeResponseBody struct {
	Approved      bool   `json:"approved"`
	TransactionID string `json:"transaction_id"`
	DeclineReason string `json:"decline_reason"`
}

// Charge POST /charges с заголовком Idempotency-Key.
// 2xx ответ шлюза, 4xx отказ, 5xx и сетевые ошибки ErrUnavailable.
func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	body, err := json.Marshal(chargeRequestBody{OrderID: req.OrderID, UserID: req.UserID, Amount: req.Amount})
	if err != nil {
		return ChargeResult{}, fmt.Errorf("marshal charge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return ChargeResult{}, fmt.Errorf("build charge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ChargeResult{}, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		return ChargeResult{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		var decoded chargeResponseBody
		_ = json.Unmarshal(raw, &decoded)
		reason := decoded.DeclineReason
		if reason == "" {
			reason = fmt.Sprintf("declined_%d", resp.StatusCode)
		}
		return ChargeResult{Approved: false, DeclineReason: reason}, nil
	}

	var decoded chargeResponseBody
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return ChargeResult{}, fmt.Errorf("%w: decode response: %v", ErrUnavailable, err)
	}
	if decoded.Approved && decoded.TransactionID == "" {
		return ChargeResult{}, fmt.Errorf("%w: approved charge without transaction id", ErrUnavailable)
	}
	if !decoded.Approved && decoded.DeclineReason == "" {
		decoded.DeclineReason = "declined"
	}
	return ChargeResult{
		Approved:      decoded.Approved,
		TransactionID: decoded.TransactionID,
		DeclineReason: decoded.DeclineReason,
	}, nil
}
