package realtime

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breakfastfactory/commerce/internal/redisx"
)

func TestRedisBroker_FansOutAcrossInstances(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redisx.New(addr)
	defer rdb.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// two instances, each with its own hub
	hubA, hubB := NewHub(4), NewHub(4)
	brokerA, brokerB := NewRedisBroker(rdb, hubA), NewRedisBroker(rdb, hubB)
	go func() { _ = brokerA.Run(ctx) }()
	go func() { _ = brokerB.Run(ctx) }()

	room := uuid.NewString()
	sub := hubB.Subscribe(room)
	defer sub.Close()

	// PSUBSCRIBE is async; publish until B sees it
	require.Eventually(t, func() bool {
		require.NoError(t, brokerA.Publish(ctx, room, "orderStatusUpdated", note{"o1", "delivered"}))
		select {
		case m := <-sub.C:
			return m.Event == "orderStatusUpdated"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 100*time.Millisecond)

	assert.Equal(t, 0, hubA.Subscribers(room))
}
