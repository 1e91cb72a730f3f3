package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers processed event ids per consumer for TTLDedup.
type Dedup struct {
	rdb     redis.Cmdable
	service string
}

func NewDedup(rdb redis.Cmdable, service string) *Dedup {
	return &Dedup{rdb: rdb, service: service}
}

func (d *Dedup) key(eventID string) string { return fmt.Sprintf(KeyDedup, d.service, eventID) }

// Claim reports whether this caller took eventID. A false result means another
// delivery already claimed it within TTLDedup.
func (d *Dedup) Claim(ctx context.Context, eventID string) (bool, error) {
	return MarkOnce(ctx, d.rdb, d.key(eventID), TTLDedup)
}

// Release drops a claim so a failed attempt can be retried.
func (d *Dedup) Release(ctx context.Context, eventID string) error {
	return d.rdb.Del(ctx, d.key(eventID)).Err()
}
