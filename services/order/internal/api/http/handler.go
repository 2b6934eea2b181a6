package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/shestoi/orderflow/platform/events"
	"github.com/shestoi/orderflow/platform/observability"
	"github.com/shestoi/orderflow/services/order/internal/repository"
	"github.com/shestoi/orderflow/services/order/internal/service"
)

// OrderService операции service слоя, нужные HTTP
type OrderService interface {
	Checkout(ctx context.Context, input service.CheckoutInput) (repository.Order, error)
	GetOrder(ctx context.Context, orderID string) (repository.Order, error)
	GetOrderStatus(ctx context.Context, orderID string) (service.OrderStatusView, error)
	ListUserOrders(ctx context.Context, userID string) ([]repository.Order, error)
}

// Handler содержит HTTP-обработчики для Order Service
// Зависит от service слоя, но не знает о деталях реализации (RabbitMQ, БД и т.д.)
type Handler struct {
	orderService OrderService
	logger       *zap.Logger
	validate     *validator.Validate
}

// NewHandler создаёт новый HTTP handler
func NewHandler(orderService OrderService, logger *zap.Logger) *Handler {
	return &Handler{
		orderService: orderService,
		logger:       logger,
		validate:     validator.New(),
	}
}

// CheckoutItem позиция в запросе checkout
type CheckoutItem struct {
	ProductID string       `json:"product_id" validate:"required"`
	Quantity  int32        `json:"quantity" validate:"gt=0"`
	Price     events.Money `json:"price" validate:"gte=0,lte=1000000000"` // до 10 000 000.00
}

// CheckoutRequest тело POST /checkout
type CheckoutRequest struct {
	UserID    string         `json:"user_id" validate:"required"`
	UserEmail string         `json:"user_email" validate:"omitempty,email"`
	Items     []CheckoutItem `json:"items" validate:"required,min=1,dive"`
}

// OrderResponse заказ в HTTP ответе
type OrderResponse struct {
	ID                   string         `json:"id"`
	UserID               string         `json:"user_id"`
	UserEmail            string         `json:"user_email,omitempty"`
	Status               string         `json:"status"`
	TotalAmount          events.Money   `json:"total_amount"`
	Items                []CheckoutItem `json:"items"`
	ProcessingDurationMs *int64         `json:"processing_duration_ms,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// OrderStatusResponse ответ GET /orders/{id}/status
type OrderStatusResponse struct {
	ID                   string       `json:"id"`
	Status               string       `json:"status"`
	TotalAmount          events.Money `json:"total_amount"`
	ProcessingDurationMs *int64       `json:"processing_duration_ms,omitempty"`
}

// ErrorResponse тело ответа с ошибкой
type ErrorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	OrderID string            `json:"order_id,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// Checkout обрабатывает POST /checkout: создаёт pending заказ и сразу возвращает его (201)
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observability.LoggerFromContext(ctx, h.logger)

	var req CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request_body", Message: err.Error()})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_failed", Fields: validationFields(err)})
		return
	}

	items := make([]repository.OrderItem, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, repository.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.Price})
	}

	order, err := h.orderService.Checkout(ctx, service.CheckoutInput{
		UserID:    req.UserID,
		UserEmail: req.UserEmail,
		Items:     items,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_failed", Message: err.Error()})
		case errors.Is(err, service.ErrPublishFailed):
			// заказ сохранён в pending, событие будет опубликовано повторно
			log.Warn("checkout accepted but event not published", zap.String("order_id", order.ID), zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "broker_unavailable", Message: err.Error(), OrderID: order.ID})
		default:
			log.Error("checkout failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
		}
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

// GetOrder обрабатывает GET /orders/{id}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	order, err := h.orderService.GetOrder(r.Context(), id)
	if err != nil {
		h.writeReadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// GetOrderStatus обрабатывает GET /orders/{id}/status, используется клиентом для polling
func (h *Handler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	view, err := h.orderService.GetOrderStatus(r.Context(), id)
	if err != nil {
		h.writeReadError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, OrderStatusResponse{
		ID:                   view.ID,
		Status:               string(view.Status),
		TotalAmount:          view.TotalAmount,
		ProcessingDurationMs: view.ProcessingDurationMs,
	})
}

// ListUserOrders обрабатывает GET /orders/user/{userId}
func (h *Handler) ListUserOrders(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	orders, err := h.orderService.ListUserOrders(r.Context(), userID)
	if err != nil {
		h.writeReadError(w, r, err)
		return
	}

	resp := make([]OrderResponse, 0, len(orders))
	for _, o := range orders {
		resp = append(resp, toOrderResponse(o))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeReadError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "order_not_found", Message: err.Error()})
	case errors.Is(err, service.ErrValidation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_failed", Message: err.Error()})
	default:
		observability.LoggerFromContext(r.Context(), h.logger).Error("failed to read orders", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
	}
}

func toOrderResponse(o repository.Order) OrderResponse {
	items := make([]CheckoutItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, CheckoutItem{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.UnitPrice})
	}
	return OrderResponse{
		ID:                   o.ID,
		UserID:               o.UserID,
		UserEmail:            o.UserEmail,
		Status:               string(o.Status),
		TotalAmount:          o.TotalAmount,
		Items:                items,
		ProcessingDurationMs: o.ProcessingDurationMs,
		CreatedAt:            o.CreatedAt,
		UpdatedAt:            o.UpdatedAt,
	}
}

func validationFields(err error) map[string]string {
	out := map[string]string{}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fe.Namespace()] = fe.Tag()
		}
		return out
	}
	out["error"] = err.Error()
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
