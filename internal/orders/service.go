package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/breakfastfactory/commerce/internal/apperr"
	kafkax "github.com/breakfastfactory/commerce/internal/kafka"
	"github.com/breakfastfactory/commerce/internal/redisx"
)

// EventSink takes domain events bound for Kafka.
type EventSink interface {
	PublishEnvelope(ctx context.Context, topic string, key []byte, env kafkax.Envelope) error
}

// Notifier pushes a named event to a real-time room.
type Notifier interface {
	Publish(ctx context.Context, room, event string, data any) error
}

// Cache is a byte cache; Get returns redisx.ErrMiss on a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

type Service interface {
	PlaceOrder(ctx context.Context, in PlaceOrderInput) (Order, bool, error)
	Get(ctx context.Context, id string) (Order, error)
	UpdateStatus(ctx context.Context, id string, status Status) (Order, error)
	ListOutletOrders(ctx context.Context, f ListFilter) (Page, error)
}

type Deps struct {
	Repo       Repository
	Events     EventSink
	Notifier   Notifier
	Cache      Cache
	Producer   string // envelope producer name
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

// NewOrderNumber formats BF-YYMMDD-XXXXXX.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return "BF-" + now.UTC().Format("060102") + "-" + suffix
}

func (s *service) PlaceOrder(ctx context.Context, in PlaceOrderInput) (Order, bool, error) {
	if err := s.validatePlacement(&in); err != nil {
		return Order{}, false, err
	}

	idemKey := fmt.Sprintf(redisx.KeyIdemOrderCreate, in.ExternalID)
	if in.ExternalID != "" && s.Cache != nil {
		if b, err := s.Cache.Get(ctx, idemKey); err == nil {
			if o, err := s.Repo.GetOrder(ctx, string(b)); err == nil {
				return o, true, nil
			}
		}
	}

	var (
		o       Order
		existed bool
		err     error
	)
	for attempt := 0; attempt < 3; attempt++ {
		o, existed, err = s.Repo.CreateOrder(ctx, in, NewOrderNumber(s.Now()))
		if !errors.Is(err, ErrDuplicateNumber) {
			break
		}
	}
	if err != nil {
		return Order{}, false, err
	}

	if s.Cache != nil && in.ExternalID != "" {
		if err := s.Cache.Set(ctx, idemKey, []byte(o.ID), redisx.TTLIdempotency); err != nil {
			log.Warn().Err(err).Str("order_id", o.ID).Msg("cache idempotency key")
		}
	}
	if !existed {
		s.emit(ctx, TopicOrderCreated, EventOrderCreated, o.ID, createdPayload(o))
	}
	return o, existed, nil
}

func (s *service) validatePlacement(in *PlaceOrderInput) error {
	if in.UserID == "" || in.OutletID == "" {
		return apperr.Validation("userId and outletId are required")
	}
	if len(in.Items) == 0 {
		return apperr.Validation("order has no items")
	}
	for _, it := range in.Items {
		if _, err := uuid.Parse(it.ProductID); err != nil {
			return apperr.Validation("invalid product id %q", it.ProductID)
		}
		if it.Qty <= 0 {
			return apperr.Validation("quantity for product %s must be positive", it.ProductID)
		}
	}
	if !in.PaymentMethod.Valid() {
		return apperr.Validation("unknown payment method %q", in.PaymentMethod)
	}
	if len(in.PaymentResult) > 0 && !json.Valid(in.PaymentResult) {
		return apperr.Validation("paymentResult is not valid JSON")
	}

	if in.PaymentMethod != PaymentCredit {
		in.CreditDueDate = nil
		return nil
	}
	now := s.Now()
	if in.CreditDueDate == nil {
		due := now.Add(s.CreditTerm).UTC()
		in.CreditDueDate = &due
	} else if !in.CreditDueDate.After(now) {
		return apperr.Validation("credit due date must be in the future")
	}
	return nil
}

func createdPayload(o Order) OrderCreatedPayload {
	items := make([]ItemPrice, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, ItemPrice{ProductID: it.ProductID, Qty: it.Quantity, Price: it.UnitPrice})
	}
	return OrderCreatedPayload{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		ExternalID:    o.ExternalID,
		UserID:        o.UserID,
		OutletID:      o.OutletID,
		PaymentMethod: o.PaymentMethod,
		Items:         items,
		Total:         o.TotalPrice,
		CreditDueDate: o.CreditDueDate,
	}
}

// Get reads through the Redis order cache. A miss only fills an empty key, so
// a read that raced with UpdateStatus cannot overwrite the newer entry.
func (s *service) Get(ctx context.Context, id string) (Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Order{}, apperr.NotFound("order %s not found", id)
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, id)
	if s.Cache != nil {
		if b, err := s.Cache.Get(ctx, key); err == nil {
			var o Order
			if err := json.Unmarshal(b, &o); err == nil {
				return o, nil
			}
		}
	}

	o, err := s.Repo.GetOrder(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if s.Cache != nil {
		if b, err := json.Marshal(o); err == nil {
			_, _ = s.Cache.SetNX(ctx, key, b, redisx.TTLStatusCache)
		}
	}
	return o, nil
}

// UpdateStatus persists the new status and, when it actually changed, pushes
// one orderStatusUpdated event to the owner's room. Push failures are logged
// only.
func (s *service) UpdateStatus(ctx context.Context, id string, status Status) (Order, error) {
	if !status.Valid() {
		return Order{}, apperr.Validation("invalid status %q", status)
	}
	if _, err := uuid.Parse(id); err != nil {
		return Order{}, apperr.NotFound("order %s not found", id)
	}

	o, old, changed, err := s.Repo.UpdateStatus(ctx, id, status)
	if err != nil {
		return Order{}, err
	}
	if !changed {
		return o, nil
	}

	if s.Cache != nil {
		s.refreshCache(ctx, o)
	}

	note := StatusNotification{
		OrderID:   o.ID,
		NewStatus: status,
		Message:   fmt.Sprintf("Order %s is now %s", o.OrderNumber, status),
	}
	if s.Notifier != nil {
		if err := s.Notifier.Publish(ctx, o.UserID, RealtimeOrderStatusUpdated, note); err != nil {
			log.Error().Err(err).Str("order_id", o.ID).Str("room", o.UserID).Msg("push order status")
		}
	}

	s.emit(ctx, TopicOrderStatusUpdated, EventOrderStatusUpdated, o.ID, OrderStatusUpdatedPayload{
		OrderID:   o.ID,
		UserID:    o.UserID,
		OutletID:  o.OutletID,
		OldStatus: old,
		NewStatus: status,
	})
	return o, nil
}

// refreshCache writes o over any cached copy; if that fails the key is dropped
// so readers fall back to Postgres.
func (s *service) refreshCache(ctx context.Context, o Order) {
	key := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	b, err := json.Marshal(o)
	if err == nil {
		err = s.Cache.Set(ctx, key, b, redisx.TTLStatusCache)
	}
	if err == nil {
		return
	}
	log.Warn().Err(err).Str("order_id", o.ID).Msg("refresh order cache")
	if err := s.Cache.Del(ctx, key); err != nil {
		log.Warn().Err(err).Str("order_id", o.ID).Msg("invalidate order cache")
	}
}

func (s *service) ListOutletOrders(ctx context.Context, f ListFilter) (Page, error) {
	if f.OutletID == "" {
		return Page{}, apperr.Validation("outletId is required")
	}
	if f.Status != "" && !f.Status.Valid() {
		return Page{}, apperr.Validation("invalid status %q", f.Status)
	}
	if !f.DateRange.Valid() {
		return Page{}, apperr.Validation("invalid dateRange %q", f.DateRange)
	}
	f.Normalize()
	return s.Repo.ListOutletOrders(ctx, f, s.Now())
}

func (s *service) emit(ctx context.Context, topic, eventType, orderID string, payload any) {
	if s.Events == nil {
		return
	}
	env, err := kafkax.NewEnvelope(eventType, s.Producer, orderID, payload)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("build envelope")
		return
	}
	env.TraceID = traceID(ctx)
	if err := s.Events.PublishEnvelope(ctx, topic, PartitionKey(orderID), env); err != nil {
		log.Error().Err(err).Str("event", eventType).Str("order_id", orderID).Msg("publish domain event")
	}
}

type traceKey struct{}

// WithTraceID stores the request id carried into event envelopes.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
