package restock

import "time"

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

type Request struct {
	ID                string     `json:"id"`
	OutletID          string     `json:"outletId"`
	ProductID         string     `json:"productId"`
	ProductName       string     `json:"productName"`
	CurrentQuantity   int        `json:"currentQuantity"`
	RequestedQuantity int        `json:"requestedQuantity"`
	Status            Status     `json:"status"`
	AdminNote         string     `json:"adminNote"`
	ProcessedAt       *time.Time `json:"processedAt,omitempty"`
	CreatedAt         time.Time  `json:"createdAt"`
}

type ListFilter struct {
	OutletID string
	Status   Status
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

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

type Page struct {
	Requests   []Request `json:"requests"`
	Total      int       `json:"total"`
	TotalPages int       `json:"totalPages"`
}
