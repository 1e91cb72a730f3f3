package httpx

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/rs/zerolog/log"

	"github.com/breakfastfactory/commerce/internal/auth"
	"github.com/breakfastfactory/commerce/internal/realtime"
)

// EventsHandler streams the caller's room over server-sent events.
type EventsHandler struct {
	Hub       *realtime.Hub
	Heartbeat time.Duration
}

func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, errors.New("streaming unsupported"))
		return
	}
	id, _ := auth.FromContext(r.Context())
	beat := h.Heartbeat
	if beat <= 0 {
		beat = 25 * time.Second
	}

	sub := h.Hub.Subscribe(id.Room())
	defer sub.Close()

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := sse.Encode(w, sse.Event{Event: "ready", Data: map[string]string{"room": id.Room()}}); err != nil {
		return
	}
	flusher.Flush()
	log.Debug().Str("room", id.Room()).Msg("stream opened")

	ticker := time.NewTicker(beat)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			log.Debug().Str("room", id.Room()).Msg("stream closed")
			return
		case m, ok := <-sub.C:
			if !ok {
				return
			}
			if err := sse.Encode(w, sse.Event{Event: m.Event, Data: string(m.Data)}); err != nil {
				log.Warn().Err(err).Str("room", id.Room()).Msg("stream write")
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
