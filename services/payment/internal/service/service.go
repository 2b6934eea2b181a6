package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shestoi/orderflow/platform/events"
	"github.com/shestoi/orderflow/platform/observability"
	"github.com/shestoi/orderflow/services/payment/internal/gateway"
	"github.com/shestoi/orderflow/services/payment/internal/repository"
)

// Options политика вызова шлюза. Она своя и не зависит от ретраев брокера.
type Options struct {
	GatewayTimeout     time.Duration
	GatewayMaxAttempts int
	GatewayBackoff     time.Duration
}

// PaymentService содержит бизнес-логику оплаты заказа
// Зависит от интерфейсов: репозиторий, шлюз и publisher подменяются в тестах
type PaymentService struct {
	logger    *zap.Logger
	repo      repository.PaymentRepository
	gateway   gateway.Gateway
	publisher EventPublisher
	opts      Options
	now       func() time.Time
	newID     func() string
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewPaymentService создаёт новый экземпляр PaymentService
func NewPaymentService(
	logger *zap.Logger,
	repo repository.PaymentRepository,
	gw gateway.Gateway,
	publisher EventPublisher,
	opts Options,
) *PaymentService {
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 5 * time.Second
	}
	if opts.GatewayMaxAttempts <= 0 {
		opts.GatewayMaxAttempts = 3
	}
	return &PaymentService{
		logger:    logger,
		repo:      repo,
		gateway:   gw,
		publisher: publisher,
		opts:      opts,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
		sleep:     sleepContext,
	}
}

// OrderCreatedEvent входные данные из события OrderCreated
type OrderCreatedEvent struct {
	OrderID   string
	UserID    string
	UserEmail string
	Amount    events.Money
}

// HandleOrderCreated проводит оплату заказа и публикует PaymentProcessed при любом исходе.
// Идемпотентен по order id: повторная доставка не создаёт второй платёж и не списывает повторно,
// а переотправляет уже известный исход.
func (s *PaymentService) HandleOrderCreated(ctx context.Context, event OrderCreatedEvent) error {
	if event.OrderID == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidEvent)
	}
	log := observability.L(ctx, s.logger).With(zap.String("order_id", event.OrderID))

	now := s.now()
	payment, created, err := s.repo.CreatePending(ctx, repository.Payment{
		ID:        s.newID(),
		OrderID:   event.OrderID,
		UserID:    event.UserID,
		UserEmail: event.UserEmail,
		Amount:    event.Amount,
		Status:    repository.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}

	if !created && payment.Status.Terminal() {
		// прошлая публикация могла не дойти: переотправляем исход без повторного списания
		log.Info("payment already processed, republishing outcome",
			zap.String("payment_id", payment.ID),
			zap.String("status", string(payment.Status)),
		)
		return s.publish(ctx, payment)
	}
	if !created {
		log.Warn("resuming pending payment", zap.String("payment_id", payment.ID))
	}

	payment, err = s.settle(ctx, log, payment)
	if err != nil {
		return err
	}

	log.Info("payment processed",
		zap.String("payment_id", payment.ID),
		zap.String("status", string(payment.Status)),
		zap.String("transaction_id", payment.TransactionID),
		zap.String("reason", payment.FailureReason),
	)
	return s.publish(ctx, payment)
}

// settle списывает деньги и фиксирует финальный статус
func (s *PaymentService) settle(ctx context.Context, log *zap.Logger, payment repository.Payment) (repository.Payment, error) {
	var result gateway.ChargeResult
	if payment.Amount <= 0 {
		result = gateway.ChargeResult{Approved: false, DeclineReason: ReasonInvalidAmount}
	} else {
		var err error
		result, err = s.charge(ctx, log, payment)
		if err != nil {
			if ctx.Err() != nil {
				return repository.Payment{}, ctx.Err()
			}
			// Шлюз так и не ответил: фиксируем отказ, иначе заказ навсегда останется pending.
			// Исход списания при этом неизвестен (таймаут мог случиться после capture),
			// поэтому в лог пишем всё нужное для сверки с процессингом по idempotency key.
			log.Error("payment gateway unavailable, failing payment; reconcile with processor",
				zap.Error(err),
				zap.String("payment_id", payment.ID),
				zap.String("idempotency_key", payment.OrderID),
				zap.String("amount", payment.Amount.String()),
				zap.Bool("reconcile", true),
			)
			result = gateway.ChargeResult{Approved: false, DeclineReason: ReasonGatewayUnavailable}
		}
	}

	now := s.now()
	var err error
	if result.Approved {
		err = s.repo.Complete(ctx, payment.ID, result.TransactionID, now)
	} else {
		err = s.repo.Fail(ctx, payment.ID, result.DeclineReason, now)
	}
	if errors.Is(err, repository.ErrNotPending) {
		// параллельная доставка успела завершить платёж: публикуем её исход
		stored, getErr := s.repo.GetByOrderID(ctx, payment.OrderID)
		if getErr != nil {
			return repository.Payment{}, fmt.Errorf("reload payment: %w", getErr)
		}
		return stored, nil
	}
	if err != nil {
		return repository.Payment{}, fmt.Errorf("save payment outcome: %w", err)
	}

	payment.UpdatedAt = now
	if result.Approved {
		payment.Status = repository.StatusCompleted
		payment.TransactionID = result.TransactionID
	} else {
		payment.Status = repository.StatusFailed
		payment.FailureReason = result.DeclineReason
	}
	return payment, nil
}

// charge вызывает шлюз с собственным таймаутом на попытку и ограниченным числом попыток.
// Ключ идемпотентности order id: шлюз не спишет дважды.
func (s *PaymentService) charge(ctx context.Context, log *zap.Logger, payment repository.Payment) (gateway.ChargeResult, error) {
	req := gateway.ChargeRequest{
		OrderID:        payment.OrderID,
		UserID:         payment.UserID,
		Amount:         payment.Amount,
		IdempotencyKey: payment.OrderID,
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.GatewayMaxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.sleep(ctx, s.opts.GatewayBackoff*time.Duration(1<<(attempt-2))); err != nil {
				return gateway.ChargeResult{}, err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, s.opts.GatewayTimeout)
		result, err := s.gateway.Charge(callCtx, req)
		cancel()
		if err == nil {
			return result, nil
		}

		lastErr = err
		log.Warn("payment gateway call failed",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.opts.GatewayMaxAttempts),
		)
	}
	return gateway.ChargeResult{}, lastErr
}

func (s *PaymentService) publish(ctx context.Context, p repository.Payment) error {
	payload := events.PaymentProcessedPayload{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		UserID:    p.UserID,
		UserEmail: p.UserEmail,
		Amount:    p.Amount,
		Status:    string(p.Status),
	}
	if p.Status == repository.StatusCompleted {
		payload.TransactionID = p.TransactionID
	} else {
		payload.Reason = p.FailureReason
	}

	if err := s.publisher.PublishPaymentProcessed(ctx, payload); err != nil {
		return fmt.Errorf("publish PaymentProcessed for order %s: %w", p.OrderID, err)
	}
	return nil
}

// GetByOrderID платёж заказа, для операционного чтения
func (s *PaymentService) GetByOrderID(ctx context.Context, orderID string) (repository.Payment, error) {
	p, err := s.repo.GetByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return repository.Payment{}, fmt.Errorf("%w: %s", ErrPaymentNotFound, orderID)
		}
		return repository.Payment{}, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
