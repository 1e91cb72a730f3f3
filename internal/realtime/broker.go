package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/breakfastfactory/commerce/internal/redisx"
)

// RedisBroker publishes room events on Redis so every API instance can
// deliver them to its own local subscribers.
type RedisBroker struct {
	rdb *redis.Client
	hub *Hub
}

func NewRedisBroker(rdb *redis.Client, hub *Hub) *RedisBroker {
	return &RedisBroker{rdb: rdb, hub: hub}
}

func (b *RedisBroker) Publish(ctx context.Context, room, event string, data any) error {
	m, err := encode(event, data)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("realtime: encode message: %w", err)
	}
	if err := b.rdb.Publish(ctx, fmt.Sprintf(redisx.KeyRoom, room), payload).Err(); err != nil {
		return fmt.Errorf("realtime: publish to %s: %w", room, err)
	}
	return nil
}

// Run forwards every room:* message into the local hub until ctx is done.
func (b *RedisBroker) Run(ctx context.Context) error {
	ps := b.rdb.PSubscribe(ctx, redisx.PatternRooms)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("realtime: psubscribe: %w", err)
	}
	log.Info().Str("pattern", redisx.PatternRooms).Msg("realtime broker subscribed")

	ch := ps.Channel()
	prefix := strings.TrimSuffix(redisx.PatternRooms, "*")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var m Message
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("drop malformed room message")
				continue
			}
			b.hub.Deliver(strings.TrimPrefix(msg.Channel, prefix), m)
		}
	}
}
