package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	platformhealth "github.com/shestoi/orderflow/platform/health/http"
	"github.com/shestoi/orderflow/services/order/internal/repository"
	"github.com/shestoi/orderflow/services/order/internal/service"
)

type mockOrderService struct {
	mock.Mock
}

func (m *mockOrderService) Checkout(ctx context.Context, input service.CheckoutInput) (repository.Order, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(repository.Order), args.Error(1)
}

func (m *mockOrderService) GetOrder(ctx context.Context, orderID string) (repository.Order, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(repository.Order), args.Error(1)
}

func (m *mockOrderService) GetOrderStatus(ctx context.Context, orderID string) (service.OrderStatusView, error) {
	args := m.Called(ctx, orderID)
	return args.Get(0).(service.OrderStatusView), args.Error(1)
}

func (m *mockOrderService) ListUserOrders(ctx context.Context, userID string) ([]repository.Order, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]repository.Order), args.Error(1)
}

func newTestRouter(t *testing.T, svc *mockOrderService, checks ...platformhealth.Check) http.Handler {
	t.Helper()
	t.Cleanup(func() { svc.AssertExpectations(t) })
	return NewRouter(NewHandler(svc, zap.NewNop()), nil, nil, checks...)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

var createdAt = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestCheckout_Created(t *testing.T) {
	svc := &mockOrderService{}
	router := newTestRouter(t, svc)

	svc.On("Checkout", mock.Anything, service.CheckoutInput{
		UserID:    "user-1",
		UserEmail: "user@example.com",
		Items:     []repository.OrderItem{{ProductID: "sku-1", Quantity: 2, UnitPrice: 5000}},
	}).Return(repository.Order{
		ID:          "order-1",
		UserID:      "user-1",
		UserEmail:   "user@example.com",
		Items:       []repository.OrderItem{{ProductID: "sku-1", Quantity: 2, UnitPrice: 5000}},
		TotalAmount: 10000,
		Status:      repository.StatusPending,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}, nil).Once()

	rec := do(t, router, http.MethodPost, "/checkout",
		`{"user_id":"user-1","user_email":"user@example.com","items":[{"product_id":"sku-1","quantity":2,"price":50.00}]}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "order-1", resp["id"])
	assert.Equal(t, "pending", resp["status"])
	assert.Equal(t, 100.0, resp["total_amount"])
	assert.NotContains(t, resp, "processing_duration_ms")
}

func TestCheckout_BadRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "broken json", body: `{"user_id":`},
		{name: "empty items", body: `{"user_id":"user-1","items":[]}`},
		{name: "missing user", body: `{"items":[{"product_id":"sku-1","quantity":1,"price":1}]}`},
		{name: "zero quantity", body: `{"user_id":"user-1","items":[{"product_id":"sku-1","quantity":0,"price":1}]}`},
		{name: "negative price", body: `{"user_id":"user-1","items":[{"product_id":"sku-1","quantity":1,"price":-1}]}`},
		{name: "bad email", body: `{"user_id":"user-1","user_email":"nope","items":[{"product_id":"sku-1","quantity":1,"price":1}]}`},
		{name: "price above limit", body: `{"user_id":"user-1","items":[{"product_id":"sku-1","quantity":1,"price":10000000.01}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockOrderService{}
			router := newTestRouter(t, svc)

			rec := do(t, router, http.MethodPost, "/checkout", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			svc.AssertNotCalled(t, "Checkout", mock.Anything, mock.Anything)
		})
	}
}

func TestCheckout_ServiceValidationIsBadRequest(t *testing.T) {
	svc := &mockOrderService{}
	router := newTestRouter(t, svc)

	// каждая позиция в лимите, но сумма не помещается в int64
	svc.On("Checkout", mock.Anything, mock.Anything).
		Return(repository.Order{}, fmt.Errorf("%w: items[1]: order total is too large", service.ErrValidation)).Once()

	rec := do(t, router, http.MethodPost, "/checkout",
		`{"user_id":"user-1","items":[{"product_id":"sku-1","quantity":2000000000,"price":9000000},{"product_id":"sku-2","quantity":2000000000,"price":9000000}]}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "validation_failed")
}

func TestCheckout_BrokerUnavailable(t *testing.T) {
	svc := &mockOrderService{}
	router := newTestRouter(t, svc)

	svc.On("Checkout", mock.Anything, mock.Anything).
		Return(repository.Order{ID: "order-1", Status: repository.StatusPending},
			fmt.Errorf("%w: order order-1: broker down", service.ErrPublishFailed)).Once()

	rec := do(t, router, http.MethodPost, "/checkout", `{"user_id":"user-1","items":[{"product_id":"sku-1","quantity":1,"price":1}]}`)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "broker_unavailable", resp.Error)
	assert.Equal(t, "order-1", resp.OrderID)
}

func TestGetOrderStatus(t *testing.T) {
	svc := &mockOrderService{}
	router := newTestRouter(t, svc)

	duration := int64(1520)
	svc.On("GetOrderStatus", mock.Anything, "order-1").Return(service.OrderStatusView{
		ID: "order-1", Status: repository.StatusPaid, TotalAmount: 10000, ProcessingDurationMs: &duration,
	}, nil).Once()
	svc.On("GetOrderStatus", mock.Anything, "missing").
		Return(service.OrderStatusView{}, fmt.Errorf("%w: missing", service.ErrOrderNotFound)).Once()

	rec := do(t, router, http.MethodGet, "/orders/order-1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"order-1","status":"paid","total_amount":100.00,"processing_duration_ms":1520}`, rec.Body.String())

	rec = do(t, router, http.MethodGet, "/orders/missing/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetOrder(t *testing.T) {
	svc := &mockOrderService{}
	router := newTestRouter(t, svc)

	svc.On("GetOrder", mock.Anything, "order-1").Return(repository.Order{
		ID: "order-1", UserID: "user-1", Status: repository.StatusFailed, TotalAmount: 250,
		Items: []repository.OrderItem{{ProductID: "sku-1", Quantity: 1, UnitPrice: 250}}, CreatedAt: createdAt,
	}, nil).Once()
	svc.On("GetOrder", mock.Anything, "boom").Return(repository.Order{}, fmt.Errorf("db down")).Once()

	rec := do(t, router, http.MethodGet, "/orders/order-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "failed", resp.Status)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "sku-1", resp.Items[0].ProductID)

	rec = do(t, router, http.MethodGet, "/orders/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListUserOrders(t *testing.T) {
	svc := &mockOrderService{}
	router := newTestRouter(t, svc)

	svc.On("ListUserOrders", mock.Anything, "user-1").Return([]repository.Order{
		{ID: "order-2", UserID: "user-1", Status: repository.StatusPending},
		{ID: "order-1", UserID: "user-1", Status: repository.StatusPaid},
	}, nil).Once()

	rec := do(t, router, http.MethodGet, "/orders/user/user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp []OrderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 2)
	assert.Equal(t, "order-2", resp[0].ID)
}

func TestHealth_ReportsFailedCheck(t *testing.T) {
	svc := &mockOrderService{}
	router := newTestRouter(t, svc, platformhealth.Check{
		Name: "rabbitmq",
		Fn:   func(ctx context.Context) error { return fmt.Errorf("connection closed") },
	})

	rec := do(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection closed")
}
