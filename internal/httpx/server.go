package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/breakfastfactory/commerce/internal/auth"
	"github.com/breakfastfactory/commerce/internal/ledger"
	"github.com/breakfastfactory/commerce/internal/orders"
	"github.com/breakfastfactory/commerce/internal/realtime"
	"github.com/breakfastfactory/commerce/internal/restock"
)

type Deps struct {
	Ledger         ledger.Service
	Orders         orders.Service
	Restock        restock.Service
	Hub            *realtime.Hub
	Auth           *auth.Verifier
	RequestTimeout time.Duration
	Heartbeat      time.Duration
}

func NewRouter(d Deps) *chi.Mux {
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 10 * time.Second
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, requestLogger, middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// long-lived stream, outside the request timeout
	r.With(d.Auth.StreamMiddleware).Get("/events", (&EventsHandler{Hub: d.Hub, Heartbeat: d.Heartbeat}).Stream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(d.RequestTimeout), d.Auth.Middleware)
		(&CreditsHandler{Ledger: d.Ledger}).Register(r)
		(&OrdersHandler{Orders: d.Orders}).Register(r)
		(&RestockHandler{Restock: d.Restock}).Register(r)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			log.Info().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		}()
		next.ServeHTTP(ww, r)
	})
}
