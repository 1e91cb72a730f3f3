package orders

import (
	"encoding/json"
	"time"

	"github.com/breakfastfactory/commerce/internal/money"
)

type Product struct {
	ID        string      `json:"id"`
	OutletID  string      `json:"outletId"`
	SKU       string      `json:"sku"`
	Name      string      `json:"name"`
	Image     string      `json:"image"`
	Stock     int         `json:"stock"`
	Price     money.Cents `json:"price"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

type ShippingAddress struct {
	FullName   string `json:"fullName" validate:"required"`
	Phone      string `json:"phone" validate:"required"`
	Address    string `json:"address" validate:"required"`
	City       string `json:"city" validate:"required"`
	PostalCode string `json:"postalCode,omitempty"`
}

// OrderItem is a snapshot of the product at placement time.
type OrderItem struct {
	ProductID string      `json:"productId"`
	Name      string      `json:"name"`
	Quantity  int         `json:"quantity"`
	UnitPrice money.Cents `json:"unitPrice"`
	Image     string      `json:"image"`
}

type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"orderNumber"`
	ExternalID      string          `json:"externalId,omitempty"`
	UserID          string          `json:"userId"`
	OutletID        string          `json:"outletId"`
	Items           []OrderItem     `json:"items"`
	ShippingAddress ShippingAddress `json:"shippingAddress"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod"`
	PaymentResult   json.RawMessage `json:"paymentResult,omitempty"`
	TotalPrice      money.Cents     `json:"totalPrice"`
	Status          Status          `json:"status"`
	CreditDueDate   *time.Time      `json:"creditDueDate,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type ItemInput struct {
	ProductID string `json:"productId" validate:"required"`
	Qty       int    `json:"quantity" validate:"gt=0"`
}

type PlaceOrderInput struct {
	ExternalID      string
	UserID          string
	OutletID        string
	Items           []ItemInput
	ShippingAddress ShippingAddress
	PaymentMethod   PaymentMethod
	PaymentResult   json.RawMessage
	CreditDueDate   *time.Time
}

type DateRange string

const (
	RangeToday DateRange = "today"
	RangeWeek  DateRange = "week"
	RangeMonth DateRange = "month"
	RangeYear  DateRange = "year"
	RangeAll   DateRange = "all"
)

// Since returns the lower createdAt bound for r, or zero for "all".
func (r DateRange) Since(now time.Time) time.Time {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	switch r {
	case RangeToday:
		return today
	case RangeWeek:
		return today.AddDate(0, 0, -7)
	case RangeMonth:
		return today.AddDate(0, -1, 0)
	case RangeYear:
		return today.AddDate(-1, 0, 0)
	}
	return time.Time{}
}

func (r DateRange) Valid() bool {
	switch r {
	case RangeToday, RangeWeek, RangeMonth, RangeYear, RangeAll, "":
		return true
	}
	return false
}

type ListFilter struct {
	OutletID   string
	StartIndex int
	Limit      int
	Search     string
	Status     Status
	DateRange  DateRange
	Ascending  bool
}

const (
	DefaultLimit = 9
	MaxLimit     = 100
)

// Normalize clamps paging fields.
func (f *ListFilter) Normalize() {
	if f.StartIndex < 0 {
		f.StartIndex = 0
	}
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
}

type Page struct {
	Orders      []Order `json:"orders"`
	TotalOrders int     `json:"totalOrders"`
}
