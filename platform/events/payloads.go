package events

// OrderItem позиция заказа со снимком цены на момент оформления
type OrderItem struct {
	ProductID string `json:"productId"`
	Quantity  int32  `json:"quantity"`
	UnitPrice Money  `json:"unitPrice"`
}

// OrderCreatedPayload payload события OrderCreated
type OrderCreatedPayload struct {
	OrderID     string      `json:"orderId"`
	UserID      string      `json:"userId"`
	UserEmail   string      `json:"userEmail,omitempty"`
	TotalAmount Money       `json:"totalAmount"`
	Items       []OrderItem `json:"items"`
}

// PaymentProcessedPayload payload события PaymentProcessed.
// TransactionID есть только при completed, Reason только при failed.
type PaymentProcessedPayload struct {
	PaymentID     string `json:"paymentId"`
	OrderID       string `json:"orderId"`
	UserID        string `json:"userId"`
	UserEmail     string `json:"userEmail,omitempty"`
	Amount        Money  `json:"amount"`
	Status        string `json:"status"`
	TransactionID string `json:"transactionId,omitempty"`
	Reason        string `json:"reason,omitempty"`
}
