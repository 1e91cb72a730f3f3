package ledger

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/breakfastfactory/commerce/internal/apperr"
	kafkax "github.com/breakfastfactory/commerce/internal/kafka"
	"github.com/breakfastfactory/commerce/internal/orders"
)

// Dedup claims an event id atomically; Release undoes a claim whose work failed.
type Dedup interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// OrderConsumer turns order.created events for credit orders into credits.
type OrderConsumer struct {
	Ledger Service
	Dedup  Dedup

	// claims this consumer holds for events whose work failed; a retry may
	// proceed even if Release did not reach redis
	held sync.Map
}

// HandleOrderCreated is installed as the kafka consumer handler. Returning an
// error makes the consumer retry this event before anything behind it on the
// partition is committed.
func (c *OrderConsumer) HandleOrderCreated(ctx context.Context, m kafkago.Message) error {
	env, err := kafkax.DecodeEnvelope(m.Value)
	if err != nil {
		// poison message; committing it is the only way past it
		log.Error().Err(err).Int64("offset", m.Offset).Msg("drop undecodable event")
		return nil
	}
	if env.EventType != orders.EventOrderCreated {
		return nil
	}

	p, err := kafkax.UnwrapPayload[orders.OrderCreatedPayload](env.Payload)
	if err != nil {
		log.Error().Err(err).Str("event_id", env.EventID).Msg("drop event with bad payload")
		return nil
	}
	if p.PaymentMethod != orders.PaymentCredit {
		return nil
	}

	claimed := false
	if c.Dedup != nil {
		won, err := c.Dedup.Claim(ctx, env.EventID)
		switch {
		case err != nil:
			// credits are unique per order, so processing unclaimed is safe
			log.Warn().Err(err).Str("event_id", env.EventID).Msg("dedup claim failed, processing anyway")
		case !won:
			if _, ours := c.held.Load(env.EventID); !ours {
				return nil
			}
			claimed = true
		default:
			claimed = true
		}
	}

	cr, existed, err := c.Ledger.CreateForOrder(ctx, CreditOrder{
		OrderID:  p.OrderID,
		UserID:   p.UserID,
		OutletID: p.OutletID,
		Total:    p.Total,
		DueDate:  p.CreditDueDate,
	})
	switch {
	case apperr.Is(err, apperr.KindValidation), apperr.Is(err, apperr.KindNotFound):
		log.Error().Err(err).Str("order_id", p.OrderID).Msg("order cannot open a credit")
		return nil
	case err != nil:
		if claimed {
			if rerr := c.Dedup.Release(ctx, env.EventID); rerr != nil {
				log.Warn().Err(rerr).Str("event_id", env.EventID).Msg("dedup release failed")
				c.held.Store(env.EventID, struct{}{})
			}
		}
		return err
	}
	c.held.Delete(env.EventID)

	log.Info().Str("order_id", p.OrderID).Str("credit_id", cr.ID).Bool("existed", existed).
		Str("trace_id", env.TraceID).Msg("credit opened")
	return nil
}
