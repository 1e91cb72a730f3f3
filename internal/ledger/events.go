package ledger

import "github.com/breakfastfactory/commerce/internal/money"

const (
	TopicPaymentRecorded = "credit.payment.recorded"
	EventPaymentRecorded = "CreditPaymentRecorded"
)

type PaymentRecordedPayload struct {
	CreditID  string      `json:"credit_id"`
	OrderID   string      `json:"order_id"`
	UserID    string      `json:"user_id"`
	OutletID  string      `json:"outlet_id"`
	Amount    money.Cents `json:"amount"`
	Remaining money.Cents `json:"remaining"`
	Status    Status      `json:"status"`
}
