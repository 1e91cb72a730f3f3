// Package ledger tracks deferred-payment (credit) orders and the installments
// paid against them.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/breakfastfactory/commerce/internal/apperr"
	kafkax "github.com/breakfastfactory/commerce/internal/kafka"
	"github.com/breakfastfactory/commerce/internal/money"
)

// ErrInsufficientBalance is returned by Store.ApplyPayment when the
// conditional decrement matched no row because the balance is too small.
var ErrInsufficientBalance = errors.New("ledger: insufficient remaining balance")

// Store persists credits. ApplyPayment must decrement the balance and append
// the payment atomically, and never let remaining go below zero.
type Store interface {
	Create(ctx context.Context, in CreateInput) (Credit, bool, error)
	Get(ctx context.Context, id string) (Credit, error)
	List(ctx context.Context, f ListFilter, now time.Time) (Page, error)
	ApplyPayment(ctx context.Context, id string, p Payment) (Credit, error)
	Summary(ctx context.Context, s Scope, now time.Time) (Summary, error)
	MarkOverdue(ctx context.Context, now time.Time) (int64, error)
	CreditOrdersWithoutCredit(ctx context.Context, limit int) ([]CreditOrder, error)
}

type EventSink interface {
	PublishEnvelope(ctx context.Context, topic string, key []byte, env kafkax.Envelope) error
}

type Service interface {
	// Create reports existed=true when the order already had this credit.
	Create(ctx context.Context, in CreateInput) (Credit, bool, error)
	Get(ctx context.Context, id string) (Credit, error)
	List(ctx context.Context, f ListFilter) (Page, error)
	RecordPayment(ctx context.Context, id string, amount money.Cents, notes string) (Credit, error)
	Summary(ctx context.Context, s Scope) (Summary, error)
	SweepOverdue(ctx context.Context) (int64, error)
	ReconcileMissing(ctx context.Context, limit int) (int, error)
	CreateForOrder(ctx context.Context, o CreditOrder) (Credit, bool, error)
}

type Deps struct {
	Store      Store
	Events     EventSink
	Producer   string
	CreditTerm time.Duration
	Now        func() time.Time
}

type service struct {
	Deps
}

func NewService(d Deps) Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.CreditTerm <= 0 {
		d.CreditTerm = 30 * 24 * time.Hour
	}
	return &service{Deps: d}
}

// Create opens a credit explicitly. The due date must be in the future.
func (s *service) Create(ctx context.Context, in CreateInput) (Credit, bool, error) {
	if err := validateCreate(in); err != nil {
		return Credit{}, false, err
	}
	now := s.Now()
	if !in.DueDate.After(now) {
		return Credit{}, false, apperr.Validation("dueDate must be in the future")
	}
	c, existed, err := s.Store.Create(ctx, in)
	if err != nil {
		return Credit{}, false, err
	}
	if existed && (c.UserID != in.UserID || c.OutletID != in.OutletID || c.Amount != in.Amount) {
		return Credit{}, false, apperr.Conflict("order %s already has a different credit", in.OrderID)
	}
	return c.Effective(now), existed, nil
}

func validateCreate(in CreateInput) error {
	if in.OrderID == "" || in.UserID == "" || in.OutletID == "" {
		return apperr.Validation("orderId, userId and outletId are required")
	}
	if _, err := uuid.Parse(in.OrderID); err != nil {
		return apperr.Validation("invalid orderId %q", in.OrderID)
	}
	if in.Amount <= 0 {
		return apperr.Validation("amount must be positive")
	}
	if in.DueDate.IsZero() {
		return apperr.Validation("dueDate is required")
	}
	return nil
}

// CreateForOrder records the credit of a placed credit order. A due date that
// already passed is accepted: the debt exists and reads as overdue.
func (s *service) CreateForOrder(ctx context.Context, o CreditOrder) (Credit, bool, error) {
	due := s.Now().Add(s.CreditTerm)
	if o.DueDate != nil {
		due = *o.DueDate
	}
	in := CreateInput{OrderID: o.OrderID, UserID: o.UserID, OutletID: o.OutletID, Amount: o.Total, DueDate: due}
	if err := validateCreate(in); err != nil {
		return Credit{}, false, err
	}
	c, existed, err := s.Store.Create(ctx, in)
	if err != nil {
		return Credit{}, false, err
	}
	return c.Effective(s.Now()), existed, nil
}

func (s *service) Get(ctx context.Context, id string) (Credit, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Credit{}, apperr.NotFound("credit %s not found", id)
	}
	c, err := s.Store.Get(ctx, id)
	if err != nil {
		return Credit{}, err
	}
	return c.Effective(s.Now()), nil
}

func (s *service) List(ctx context.Context, f ListFilter) (Page, error) {
	if f.Status != "" && !f.Status.Valid() {
		return Page{}, apperr.Validation("invalid status %q", f.Status)
	}
	f.Normalize()
	now := s.Now()
	p, err := s.Store.List(ctx, f, now)
	if err != nil {
		return Page{}, err
	}
	for i := range p.Credits {
		p.Credits[i] = p.Credits[i].Effective(now)
	}
	p.TotalPages = TotalPages(p.Total, f.PageSize)
	return p, nil
}

// RecordPayment applies one installment. A payment that passed validation but
// lost the balance to a concurrent payment is a conflict, not a validation
// error, so the client knows to reload.
func (s *service) RecordPayment(ctx context.Context, id string, amount money.Cents, notes string) (Credit, error) {
	if amount <= 0 {
		return Credit{}, apperr.Validation("payment amount must be positive")
	}
	c, err := s.Get(ctx, id)
	if err != nil {
		return Credit{}, err
	}
	if amount > c.RemainingAmount {
		return Credit{}, apperr.Validation("payment of %s exceeds remaining balance %s", amount, c.RemainingAmount)
	}

	now := s.Now()
	updated, err := s.Store.ApplyPayment(ctx, id, Payment{Amount: amount, Date: now.UTC(), Notes: notes})
	if errors.Is(err, ErrInsufficientBalance) {
		return Credit{}, apperr.Conflict("credit %s balance changed, reload and retry", id)
	}
	if err != nil {
		return Credit{}, err
	}
	updated = updated.Effective(now)

	log.Info().Str("credit_id", id).Str("amount", amount.String()).
		Str("remaining", updated.RemainingAmount.String()).Msg("payment recorded")
	s.emitPayment(ctx, updated, amount)
	return updated, nil
}

func (s *service) Summary(ctx context.Context, sc Scope) (Summary, error) {
	return s.Store.Summary(ctx, sc, s.Now())
}

func (s *service) SweepOverdue(ctx context.Context) (int64, error) {
	return s.Store.MarkOverdue(ctx, s.Now())
}

// ReconcileMissing creates credits for credit orders whose order.created
// event never produced one.
func (s *service) ReconcileMissing(ctx context.Context, limit int) (int, error) {
	missing, err := s.Store.CreditOrdersWithoutCredit(ctx, limit)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, o := range missing {
		_, existed, err := s.CreateForOrder(ctx, o)
		if err != nil {
			log.Error().Err(err).Str("order_id", o.OrderID).Msg("reconcile credit")
			continue
		}
		if !existed {
			created++
		}
	}
	return created, nil
}

func (s *service) emitPayment(ctx context.Context, c Credit, amount money.Cents) {
	if s.Events == nil {
		return
	}
	env, err := kafkax.NewEnvelope(EventPaymentRecorded, s.Producer, c.ID, PaymentRecordedPayload{
		CreditID:  c.ID,
		OrderID:   c.OrderID,
		UserID:    c.UserID,
		OutletID:  c.OutletID,
		Amount:    amount,
		Remaining: c.RemainingAmount,
		Status:    c.Status,
	})
	if err != nil {
		log.Error().Err(err).Msg("build payment envelope")
		return
	}
	if err := s.Events.PublishEnvelope(ctx, TopicPaymentRecorded, []byte(c.ID), env); err != nil {
		log.Error().Err(err).Str("credit_id", c.ID).Msg("publish payment event")
	}
}
