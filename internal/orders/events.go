package orders

import (
	"time"

	"github.com/breakfastfactory/commerce/internal/money"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusUpdated = "OrderStatusUpdated"
)

// Real-time event name pushed to the owning user's room.
const RealtimeOrderStatusUpdated = "orderStatusUpdated"

type ItemPrice struct {
	ProductID string      `json:"product_id"`
	Qty       int         `json:"qty"`
	Price     money.Cents `json:"price"`
}

type OrderCreatedPayload struct {
	OrderID       string        `json:"order_id"`
	OrderNumber   string        `json:"order_number"`
	ExternalID    string        `json:"external_id,omitempty"`
	UserID        string        `json:"user_id"`
	OutletID      string        `json:"outlet_id"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Items         []ItemPrice   `json:"items"`
	Total         money.Cents   `json:"total"`
	CreditDueDate *time.Time    `json:"credit_due_date,omitempty"`
}

type OrderStatusUpdatedPayload struct {
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id"`
	OutletID  string `json:"outlet_id"`
	OldStatus Status `json:"old_status"`
	NewStatus Status `json:"new_status"`
}

// StatusNotification is the body of the orderStatusUpdated push.
type StatusNotification struct {
	OrderID   string `json:"orderId"`
	NewStatus Status `json:"newStatus"`
	Message   string `json:"message"`
}
