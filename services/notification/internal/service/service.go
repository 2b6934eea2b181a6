package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shestoi/orderflow/platform/events"
	"github.com/shestoi/orderflow/platform/idempotency"
	"github.com/shestoi/orderflow/services/notification/internal/sender"
	"github.com/shestoi/orderflow/services/notification/internal/templates"
)

const (
	defaultReserveTTL = 5 * time.Minute
	defaultDedupeTTL  = 24 * time.Hour
)

// Options настройки дедупликации
type Options struct {
	// ReserveTTL сколько держится ключ на время отправки; после падения процесса
	// ключ протухнет и redelivery сможет отправить уведомление
	ReserveTTL time.Duration
	// DedupeTTL сколько помнить успешно отправленное уведомление
	DedupeTTL time.Duration
}

// NotificationService содержит бизнес-логику обработки уведомлений.
// Ничего не публикует: конечная точка конвейера.
type NotificationService struct {
	logger   *zap.Logger
	dedupe   idempotency.Store
	sender   sender.Sender
	renderer *templates.Renderer
	opts     Options
}

// NewNotificationService создаёт новый экземпляр NotificationService
func NewNotificationService(
	logger *zap.Logger,
	dedupe idempotency.Store,
	s sender.Sender,
	renderer *templates.Renderer,
	opts Options,
) *NotificationService {
	if opts.ReserveTTL <= 0 {
		opts.ReserveTTL = defaultReserveTTL
	}
	if opts.DedupeTTL <= 0 {
		opts.DedupeTTL = defaultDedupeTTL
	}
	return &NotificationService{
		logger:   logger,
		dedupe:   dedupe,
		sender:   s,
		renderer: renderer,
		opts:     opts,
	}
}

// HandlePaymentProcessed отправляет подтверждение или уведомление об отказе.
// Повторная доставка того же исхода не приводит к повторной отправке.
func (s *NotificationService) HandlePaymentProcessed(ctx context.Context, event PaymentProcessedEvent) error {
	log := s.logger.With(
		zap.String("order_id", event.OrderID),
		zap.String("status", event.Status),
	)

	if event.OrderID == "" {
		return fmt.Errorf("%w: empty order id", ErrInvalidEvent)
	}
	var kind templates.Kind
	switch event.Status {
	case events.PaymentStatusCompleted:
		kind = templates.OrderConfirmation
	case events.PaymentStatusFailed:
		kind = templates.PaymentFailed
	default:
		return fmt.Errorf("%w: unknown payment status %q", ErrInvalidEvent, event.Status)
	}

	key := idempotency.Key(string(events.PaymentProcessed), event.OrderID)
	reserved, err := s.dedupe.Reserve(ctx, key, s.opts.ReserveTTL)
	if err != nil {
		return fmt.Errorf("reserve dedupe key: %w", err)
	}
	if !reserved {
		log.Info("notification already sent (duplicate)")
		return nil
	}

	rendered, err := s.renderer.Render(kind, templates.Data{
		OrderID:       event.OrderID,
		UserEmail:     event.UserEmail,
		Amount:        event.Amount.String(),
		TransactionID: event.TransactionID,
		Reason:        event.Reason,
	})
	if err != nil {
		s.release(ctx, log, key)
		return err
	}

	err = s.sender.Send(ctx, sender.Message{
		To:      event.UserEmail,
		Subject: rendered.Subject,
		Body:    rendered.Body,
	})
	if err != nil && !errors.Is(err, sender.ErrNoRecipient) {
		s.release(ctx, log, key)
		log.Error("failed to send notification", zap.Error(err))
		return fmt.Errorf("send notification: %w", err)
	}

	if markErr := s.dedupe.MarkProcessed(ctx, key, s.opts.DedupeTTL); markErr != nil {
		// Уведомление уже ушло; резерв продолжает защищать от дубля до ReserveTTL
		log.Warn("failed to extend dedupe key", zap.Error(markErr))
	}

	if err != nil {
		// Повтор не поможет: адрес не появится. Ключ оставляем
		log.Warn("notification skipped: no recipient", zap.String("user_id", event.UserID))
		return nil
	}

	log.Info("notification sent",
		zap.String("template", string(kind)),
		zap.String("user_id", event.UserID),
	)
	return nil
}

func (s *NotificationService) release(ctx context.Context, log *zap.Logger, key string) {
	if err := s.dedupe.Release(ctx, key); err != nil {
		log.Error("failed to release dedupe key", zap.Error(err), zap.String("key", key))
	}
}
