package service

import "errors"

var (
	// ErrValidation некорректный запрос на checkout (HTTP 400)
	ErrValidation = errors.New("validation error")
	// ErrPublishFailed заказ сохранён, но OrderCreated не ушёл в брокер (HTTP 503)
	ErrPublishFailed = errors.New("failed to publish order event")
	// ErrOrderNotFound заказ не найден (HTTP 404)
	ErrOrderNotFound = errors.New("order not found")
	// ErrUnknownOutcome PaymentProcessed с неизвестным статусом оплаты
	ErrUnknownOutcome = errors.New("unknown payment outcome")
)
