package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shestoi/orderflow/platform/events"
	"github.com/shestoi/orderflow/platform/observability"
	"github.com/shestoi/orderflow/services/payment/internal/repository"
	"github.com/shestoi/orderflow/services/payment/internal/service"
)

// PaymentReader чтение платежей для операционного endpoint
type PaymentReader interface {
	GetByOrderID(ctx context.Context, orderID string) (repository.Payment, error)
}

// Handler HTTP-обработчики Payment Service
type Handler struct {
	payments PaymentReader
	logger   *zap.Logger
}

// NewHandler создаёт новый HTTP handler
func NewHandler(payments PaymentReader, logger *zap.Logger) *Handler {
	return &Handler{payments: payments, logger: logger}
}

// PaymentResponse платёж в HTTP ответе
type PaymentResponse struct {
	ID            string       `json:"id"`
	OrderID       string       `json:"order_id"`
	UserID        string       `json:"user_id"`
	Amount        events.Money `json:"amount"`
	Status        string       `json:"status"`
	TransactionID string       `json:"transaction_id,omitempty"`
	FailureReason string       `json:"failure_reason,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// GetByOrderID обрабатывает GET /payments/order/{orderId}
func (h *Handler) GetByOrderID(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")

	p, err := h.payments.GetByOrderID(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "payment_not_found"})
			return
		}
		observability.LoggerFromContext(r.Context(), h.logger).Error("failed to get payment", zap.Error(err), zap.String("order_id", orderID))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}

	writeJSON(w, http.StatusOK, PaymentResponse{
		ID:            p.ID,
		OrderID:       p.OrderID,
		UserID:        p.UserID,
		Amount:        p.Amount,
		Status:        string(p.Status),
		TransactionID: p.TransactionID,
		FailureReason: p.FailureReason,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
