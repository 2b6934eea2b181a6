package service

import "errors"

var (
	// ErrPaymentNotFound платежа для заказа нет
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrInvalidEvent событие без order id, повторять бессмысленно
	ErrInvalidEvent = errors.New("invalid order event")
)

// Причины отказа, которые выставляет сам сервис (не шлюз)
const (
	ReasonInvalidAmount      = "invalid_amount"
	ReasonGatewayUnavailable = "gateway_unavailable"
)
