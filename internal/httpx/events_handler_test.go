package httpx

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breakfastfactory/commerce/internal/orders"
)

// nextEvent reads one SSE frame and returns its event name and data.
func nextEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if event != "" || data != "" {
				return event, data
			}
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
}

func TestEventsStream(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?token="+token(t, customer), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	event, _ := nextEvent(t, r)
	require.Equal(t, "ready", event)
	require.Equal(t, 1, h.hub.Subscribers(customer.Room()))

	require.NoError(t, h.hub.Publish(ctx, "someone-else", orders.RealtimeOrderStatusUpdated, map[string]string{"orderId": "o0"}))
	require.NoError(t, h.hub.Publish(ctx, customer.Room(), orders.RealtimeOrderStatusUpdated,
		orders.StatusNotification{OrderID: "o1", NewStatus: orders.StatusShipped, Message: "Order BF-1 is now shipped"}))

	event, data := nextEvent(t, r)
	assert.Equal(t, orders.RealtimeOrderStatusUpdated, event)
	assert.JSONEq(t, `{"orderId":"o1","newStatus":"shipped","message":"Order BF-1 is now shipped"}`, data)

	cancel()
	assert.Eventually(t, func() bool { return h.hub.Subscribers(customer.Room()) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventsStreamRejectsMissingToken(t *testing.T) {
	h := newHarness(t)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
