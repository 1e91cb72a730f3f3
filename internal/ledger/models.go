package ledger

import (
	"time"

	"github.com/breakfastfactory/commerce/internal/money"
)

type Status string

const (
	StatusPending       Status = "pending"
	StatusPartiallyPaid Status = "partially_paid"
	StatusPaid          Status = "paid"
	StatusOverdue       Status = "overdue"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPartiallyPaid, StatusPaid, StatusOverdue:
		return true
	}
	return false
}

// Derive computes the status from amounts and the due date.
func Derive(amount, remaining money.Cents, due, now time.Time) Status {
	switch {
	case remaining == 0:
		return StatusPaid
	case due.Before(now):
		return StatusOverdue
	case remaining < amount:
		return StatusPartiallyPaid
	default:
		return StatusPending
	}
}

type Payment struct {
	Amount money.Cents `json:"amount"`
	Date   time.Time   `json:"date"`
	Notes  string      `json:"notes"`
}

type OrderRef struct {
	ID          string      `json:"id"`
	OrderNumber string      `json:"orderNumber"`
	TotalPrice  money.Cents `json:"totalPrice"`
}

type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type OutletRef struct {
	ID string `json:"id"`
}

type Credit struct {
	ID              string      `json:"id"`
	OrderID         string      `json:"orderId"`
	UserID          string      `json:"userId"`
	OutletID        string      `json:"outletId"`
	Amount          money.Cents `json:"amount"`
	RemainingAmount money.Cents `json:"remainingAmount"`
	Status          Status      `json:"status"`
	DueDate         time.Time   `json:"dueDate"`
	Payments        []Payment   `json:"payments"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`

	Order  *OrderRef  `json:"order,omitempty"`
	User   *UserRef   `json:"user,omitempty"`
	Outlet *OutletRef `json:"outlet,omitempty"`
}

// Paid is the sum of recorded payments.
func (c Credit) Paid() money.Cents {
	var sum money.Cents
	for _, p := range c.Payments {
		sum += p.Amount
	}
	return sum
}

// Effective returns c with Status derived at now.
func (c Credit) Effective(now time.Time) Credit {
	c.Status = Derive(c.Amount, c.RemainingAmount, c.DueDate, now)
	return c
}

type Summary struct {
	TotalAmount     money.Cents `json:"totalAmount"`
	RemainingAmount money.Cents `json:"remainingAmount"`
	OverdueCount    int         `json:"overdueCount"`
	TotalCustomers  int         `json:"totalCustomers"`
}

// Scope restricts queries to one outlet or one user. Empty fields are unbounded.
type Scope struct {
	OutletID string
	UserID   string
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

type ListFilter struct {
	Scope
	Status   Status
	Search   string
	Page     int
	PageSize int
}

func (f *ListFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}
}

func (f ListFilter) Offset() int { return (f.Page - 1) * f.PageSize }

type Page struct {
	Credits    []Credit `json:"credits"`
	Total      int      `json:"total"`
	TotalPages int      `json:"totalPages"`
}

func TotalPages(total, pageSize int) int {
	if total == 0 || pageSize <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}

type CreateInput struct {
	OrderID  string
	UserID   string
	OutletID string
	Amount   money.Cents
	DueDate  time.Time
}

// CreditOrder is a credit-method order that has no credit yet.
type CreditOrder struct {
	OrderID  string
	UserID   string
	OutletID string
	Total    money.Cents
	DueDate  *time.Time
}
