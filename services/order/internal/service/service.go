package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shestoi/orderflow/platform/events"
	"github.com/shestoi/orderflow/platform/observability"
	"github.com/shestoi/orderflow/services/order/internal/repository"
)

// OrderService содержит бизнес-логику работы с заказами
// Зависит от интерфейсов: репозиторий, publisher и метрики подменяются в тестах
type OrderService struct {
	logger    *zap.Logger
	repo      repository.OrderRepository
	publisher EventPublisher
	metrics   MetricsRecorder
	now       func() time.Time
	newID     func() string
}

// NewOrderService создаёт новый экземпляр OrderService
func NewOrderService(
	logger *zap.Logger,
	repo repository.OrderRepository,
	publisher EventPublisher,
	metrics MetricsRecorder,
) *OrderService {
	return &OrderService{
		logger:    logger,
		repo:      repo,
		publisher: publisher,
		metrics:   metrics,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// CheckoutInput содержит входные данные для checkout
type CheckoutInput struct {
	UserID    string
	UserEmail string
	Items     []repository.OrderItem
}

// PaymentProcessedEvent исход оплаты заказа
type PaymentProcessedEvent struct {
	OrderID       string
	PaymentID     string
	Status        string
	TransactionID string
	Reason        string
}

// OrderStatusView ответ для polling клиентов
type OrderStatusView struct {
	ID                   string
	Status               repository.Status
	TotalAmount          events.Money
	ProcessingDurationMs *int64
}

// Checkout проверяет позиции, сохраняет заказ в pending и публикует OrderCreated.
// Не ждёт оплату: возвращает pending заказ сразу после публикации.
// При ErrPublishFailed заказ тоже возвращается: он сохранён и будет опубликован позже.
func (s *OrderService) Checkout(ctx context.Context, input CheckoutInput) (repository.Order, error) {
	log := observability.L(ctx, s.logger)

	total, err := validateCheckout(input)
	if err != nil {
		return repository.Order{}, err
	}

	now := s.now()
	order := repository.Order{
		ID:          s.newID(),
		UserID:      input.UserID,
		UserEmail:   input.UserEmail,
		Items:       append([]repository.OrderItem(nil), input.Items...),
		TotalAmount: total,
		Status:      repository.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.repo.Create(ctx, order); err != nil {
		log.Error("failed to save order", zap.Error(err), zap.String("order_id", order.ID))
		return repository.Order{}, fmt.Errorf("save order: %w", err)
	}

	if err := s.publishOrderCreated(ctx, order); err != nil {
		// заказ уже в БД и остаётся pending с event_published=false: его подберёт RepublishUnpublished
		log.Error("order saved but OrderCreated not published",
			zap.Error(err),
			zap.String("order_id", order.ID),
			zap.String("user_id", order.UserID),
		)
		return order, fmt.Errorf("%w: order %s: %v", ErrPublishFailed, order.ID, err)
	}
	order.EventPublished = true

	log.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.Int("items", len(order.Items)),
		zap.String("total_amount", order.TotalAmount.String()),
	)
	return order, nil
}

// HandlePaymentProcessed переводит заказ в paid или failed.
// Неизвестный заказ и повторная доставка для финального статуса не ошибка: событие просто отбрасывается.
func (s *OrderService) HandlePaymentProcessed(ctx context.Context, event PaymentProcessedEvent) error {
	log := observability.L(ctx, s.logger).With(
		zap.String("order_id", event.OrderID),
		zap.String("payment_status", event.Status),
	)

	var to repository.Status
	switch event.Status {
	case events.PaymentStatusCompleted:
		to = repository.StatusPaid
	case events.PaymentStatusFailed:
		to = repository.StatusFailed
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOutcome, event.Status)
	}

	order, err := s.repo.GetByID(ctx, event.OrderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn("payment processed for unknown order, discarding")
			return nil
		}
		return fmt.Errorf("get order: %w", err)
	}

	if order.Status.Terminal() {
		log.Info("order already in terminal status, skipping",
			zap.String("status", string(order.Status)),
		)
		return nil
	}

	now := s.now()
	durationMs := now.Sub(order.CreatedAt).Milliseconds()
	if durationMs < 0 {
		durationMs = 0
	}

	err = s.repo.UpdateStatus(ctx, order.ID, repository.StatusUpdate{
		From:                 order.Status,
		To:                   to,
		ProcessingDurationMs: durationMs,
		UpdatedAt:            now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) || errors.Is(err, repository.ErrNotFound) {
			// параллельная доставка успела раньше
			log.Info("order status changed concurrently, skipping", zap.Error(err))
			return nil
		}
		return fmt.Errorf("update order status: %w", err)
	}

	if s.metrics != nil {
		s.metrics.RecordProcessingDuration(ctx, durationMs, string(to))
	}

	log.Info("order status updated",
		zap.String("status", string(to)),
		zap.Int64("processing_duration_ms", durationMs),
		zap.String("reason", event.Reason),
	)
	return nil
}

// publishOrderCreated публикует OrderCreated и отмечает заказ опубликованным.
// Ошибка отметки только логируется: событие уже в брокере, повторная публикация безопасна для Payment Service.
func (s *OrderService) publishOrderCreated(ctx context.Context, order repository.Order) error {
	payload := events.OrderCreatedPayload{
		OrderID:     order.ID,
		UserID:      order.UserID,
		UserEmail:   order.UserEmail,
		TotalAmount: order.TotalAmount,
		Items:       toEventItems(order.Items),
	}
	if err := s.publisher.PublishOrderCreated(ctx, payload); err != nil {
		return err
	}
	if err := s.repo.MarkEventPublished(ctx, order.ID); err != nil {
		observability.L(ctx, s.logger).Warn("failed to mark order event as published",
			zap.Error(err),
			zap.String("order_id", order.ID),
		)
	}
	return nil
}

// RepublishUnpublished переопубликовывает OrderCreated для заказов, у которых публикация при checkout не прошла.
// Берёт только заказы старше minAge, чтобы не пересечься с идущим checkout. Возвращает число опубликованных.
func (s *OrderService) RepublishUnpublished(ctx context.Context, minAge time.Duration, limit int) (int, error) {
	orders, err := s.repo.ListUnpublished(ctx, s.now().Add(-minAge), limit)
	if err != nil {
		return 0, fmt.Errorf("list unpublished orders: %w", err)
	}

	published := 0
	for _, order := range orders {
		if ctx.Err() != nil {
			return published, ctx.Err()
		}
		if order.Status.Terminal() {
			// исход уже известен, событие дошло другим путём
			if err := s.repo.MarkEventPublished(ctx, order.ID); err != nil {
				s.logger.Warn("failed to mark terminal order event as published",
					zap.Error(err),
					zap.String("order_id", order.ID),
				)
			}
			continue
		}
		if err := s.publishOrderCreated(ctx, order); err != nil {
			return published, fmt.Errorf("%w: order %s: %v", ErrPublishFailed, order.ID, err)
		}
		published++
		s.logger.Info("OrderCreated republished", zap.String("order_id", order.ID))
	}
	return published, nil
}

// GetOrder получает заказ по ID
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (repository.Order, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		return repository.Order{}, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

// GetOrderStatus текущий статус заказа
func (s *OrderService) GetOrderStatus(ctx context.Context, orderID string) (OrderStatusView, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return OrderStatusView{}, err
	}
	return OrderStatusView{
		ID:                   order.ID,
		Status:               order.Status,
		TotalAmount:          order.TotalAmount,
		ProcessingDurationMs: order.ProcessingDurationMs,
	}, nil
}

// ListUserOrders заказы пользователя, новые первыми
func (s *OrderService) ListUserOrders(ctx context.Context, userID string) ([]repository.Order, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	orders, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// validateCheckout проверяет позиции и считает сумму заказа в копейках
func validateCheckout(input CheckoutInput) (events.Money, error) {
	if input.UserID == "" {
		return 0, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if len(input.Items) == 0 {
		return 0, fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	}

	var total events.Money
	for i, item := range input.Items {
		if item.ProductID == "" {
			return 0, fmt.Errorf("%w: items[%d]: product id is required", ErrValidation, i)
		}
		if item.Quantity <= 0 {
			return 0, fmt.Errorf("%w: items[%d]: quantity must be positive", ErrValidation, i)
		}
		if item.UnitPrice < 0 {
			return 0, fmt.Errorf("%w: items[%d]: unit price must not be negative", ErrValidation, i)
		}
		// сумма в int64 копейках не должна переполниться
		if item.UnitPrice > 0 && item.UnitPrice > (math.MaxInt64-total)/events.Money(item.Quantity) {
			return 0, fmt.Errorf("%w: items[%d]: order total is too large", ErrValidation, i)
		}
		total += item.UnitPrice * events.Money(item.Quantity)
	}
	return total, nil
}

func toEventItems(items []repository.OrderItem) []events.OrderItem {
	out := make([]events.OrderItem, 0, len(items))
	for _, it := range items {
		out = append(out, events.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return out
}
