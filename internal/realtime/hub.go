// Package realtime fans named events out to rooms of connected clients.
// Delivery is at-most-once: a subscriber whose buffer is full misses the event.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
)

// Publisher sends an event to every subscriber of room.
type Publisher interface {
	Publish(ctx context.Context, room, event string, data any) error
}

type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type Subscription struct {
	C <-chan Message

	ch   chan Message
	room string
	hub  *Hub
	once sync.Once
}

// Close leaves the room. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Subscription]struct{}
	buffer  int
	dropped atomic.Int64
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{rooms: map[string]map[*Subscription]struct{}{}, buffer: buffer}
}

func (h *Hub) Subscribe(room string) *Subscription {
	ch := make(chan Message, h.buffer)
	s := &Subscription{C: ch, ch: ch, room: room, hub: h}
	h.mu.Lock()
	if h.rooms[room] == nil {
		h.rooms[room] = map[*Subscription]struct{}{}
	}
	h.rooms[room][s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.rooms[s.room]
	if _, ok := subs[s]; !ok {
		return
	}
	delete(subs, s)
	if len(subs) == 0 {
		delete(h.rooms, s.room)
	}
	close(s.ch)
}

// Deliver hands m to the room's subscribers without blocking and returns how
// many received it.
func (h *Hub) Deliver(room string, m Message) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for s := range h.rooms[room] {
		select {
		case s.ch <- m:
			n++
		default:
			h.dropped.Add(1)
		}
	}
	return n
}

// Publish delivers in-process; use it when a single API instance serves all clients.
func (h *Hub) Publish(_ context.Context, room, event string, data any) error {
	m, err := encode(event, data)
	if err != nil {
		return err
	}
	h.Deliver(room, m)
	return nil
}

func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) Dropped() int64 { return h.dropped.Load() }

func encode(event string, data any) (Message, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("realtime: encode %s: %w", event, err)
	}
	return Message{Event: event, Data: b}, nil
}
