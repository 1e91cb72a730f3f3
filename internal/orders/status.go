package orders

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

var allStatuses = []Status{StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}

func (s Status) Valid() bool {
	for _, v := range allStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further fulfilment happens after s.
// UpdateStatus does not enforce it; outlets may still correct a status.
func IsTerminal(s Status) bool {
	return s == StatusDelivered || s == StatusCancelled
}

type PaymentMethod string

const (
	PaymentPaystack       PaymentMethod = "paystack"
	PaymentMTNMoMo        PaymentMethod = "mtn_momo"
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentCredit         PaymentMethod = "credit"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentPaystack, PaymentMTNMoMo, PaymentCashOnDelivery, PaymentCredit:
		return true
	}
	return false
}
