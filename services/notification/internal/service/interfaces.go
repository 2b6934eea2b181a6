package service

import (
	"github.com/shestoi/orderflow/platform/events"
)

// PaymentProcessedEvent исход оплаты заказа (входящее из email_service_queue)
type PaymentProcessedEvent struct {
	OrderID       string
	PaymentID     string
	UserID        string
	UserEmail     string
	Amount        events.Money
	Status        string
	TransactionID string
	Reason        string
}
