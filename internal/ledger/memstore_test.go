package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/breakfastfactory/commerce/internal/apperr"
)

// memStore keeps the Store contract in memory: one mutex makes ApplyPayment's
// check-and-decrement atomic the way the conditional UPDATE does in Postgres.
type memStore struct {
	mu      sync.Mutex
	credits map[string]*Credit
	byOrder map[string]string
	orders  map[string]memOrder
	seq     int
}

type memOrder struct {
	CreditOrder
	number   string
	customer string
}

func newMemStore() *memStore {
	return &memStore{
		credits: map[string]*Credit{},
		byOrder: map[string]string{},
		orders:  map[string]memOrder{},
	}
}

func (m *memStore) addOrder(o CreditOrder, number, customer string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.OrderID] = memOrder{CreditOrder: o, number: number, customer: customer}
}

func (m *memStore) Create(_ context.Context, in CreateInput) (Credit, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byOrder[in.OrderID]; ok {
		return m.copyOf(id), true, nil
	}
	o, ok := m.orders[in.OrderID]
	if !ok {
		return Credit{}, false, apperr.NotFound("order %s not found", in.OrderID)
	}
	m.seq++
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(m.seq) * time.Second)
	c := &Credit{
		ID:              uuid.NewString(),
		OrderID:         in.OrderID,
		UserID:          in.UserID,
		OutletID:        in.OutletID,
		Amount:          in.Amount,
		RemainingAmount: in.Amount,
		Status:          StatusPending,
		DueDate:         in.DueDate,
		Payments:        []Payment{},
		CreatedAt:       now,
		UpdatedAt:       now,
		Order:           &OrderRef{ID: in.OrderID, OrderNumber: o.number, TotalPrice: o.Total},
		User:            &UserRef{ID: in.UserID, Name: o.customer},
		Outlet:          &OutletRef{ID: in.OutletID},
	}
	m.credits[c.ID] = c
	m.byOrder[in.OrderID] = c.ID
	return m.copyOf(c.ID), false, nil
}

// callers hold mu.
func (m *memStore) copyOf(id string) Credit {
	c := *m.credits[id]
	c.Payments = append([]Payment{}, c.Payments...)
	return c
}

func (m *memStore) Get(_ context.Context, id string) (Credit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credits[id]; !ok {
		return Credit{}, apperr.NotFound("credit %s not found", id)
	}
	return m.copyOf(id), nil
}

func (m *memStore) matches(c *Credit, s Scope) bool {
	return (s.OutletID == "" || c.OutletID == s.OutletID) && (s.UserID == "" || c.UserID == s.UserID)
}

func (m *memStore) List(_ context.Context, f ListFilter, now time.Time) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var hits []Credit
	for id, c := range m.credits {
		if !m.matches(c, f.Scope) {
			continue
		}
		if f.Status != "" && Derive(c.Amount, c.RemainingAmount, c.DueDate, now) != f.Status {
			continue
		}
		if f.Search != "" {
			q := strings.ToLower(f.Search)
			if !strings.Contains(strings.ToLower(c.Order.OrderNumber), q) &&
				!strings.Contains(strings.ToLower(c.User.Name), q) {
				continue
			}
		}
		hits = append(hits, m.copyOf(id))
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].CreatedAt.After(hits[j].CreatedAt) })

	total := len(hits)
	start := f.Offset()
	if start > total {
		start = total
	}
	end := start + f.PageSize
	if end > total {
		end = total
	}
	return Page{Credits: hits[start:end], Total: total}, nil
}

func (m *memStore) ApplyPayment(_ context.Context, id string, p Payment) (Credit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.credits[id]
	if !ok {
		return Credit{}, apperr.NotFound("credit %s not found", id)
	}
	if c.RemainingAmount < p.Amount {
		return Credit{}, ErrInsufficientBalance
	}
	c.RemainingAmount -= p.Amount
	c.Payments = append(c.Payments, p)
	c.Status = StatusPartiallyPaid
	if c.RemainingAmount == 0 {
		c.Status = StatusPaid
	}
	c.UpdatedAt = p.Date
	return m.copyOf(id), nil
}

func (m *memStore) Summary(_ context.Context, s Scope, now time.Time) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out Summary
	users := map[string]struct{}{}
	for _, c := range m.credits {
		if !m.matches(c, s) {
			continue
		}
		out.TotalAmount += c.Amount
		out.RemainingAmount += c.RemainingAmount
		if c.RemainingAmount > 0 && c.DueDate.Before(now) {
			out.OverdueCount++
		}
		users[c.UserID] = struct{}{}
	}
	out.TotalCustomers = len(users)
	return out, nil
}

func (m *memStore) MarkOverdue(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, c := range m.credits {
		if c.RemainingAmount > 0 && c.DueDate.Before(now) && c.Status != StatusOverdue {
			c.Status = StatusOverdue
			n++
		}
	}
	return n, nil
}

func (m *memStore) CreditOrdersWithoutCredit(_ context.Context, limit int) ([]CreditOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []CreditOrder
	for id, o := range m.orders {
		if _, ok := m.byOrder[id]; ok {
			continue
		}
		out = append(out, o.CreditOrder)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
