package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/breakfastfactory/commerce/internal/auth"
	"github.com/breakfastfactory/commerce/internal/config"
	"github.com/breakfastfactory/commerce/internal/httpx"
	kafkax "github.com/breakfastfactory/commerce/internal/kafka"
	"github.com/breakfastfactory/commerce/internal/ledger"
	"github.com/breakfastfactory/commerce/internal/orders"
	"github.com/breakfastfactory/commerce/internal/postgres"
	"github.com/breakfastfactory/commerce/internal/realtime"
	"github.com/breakfastfactory/commerce/internal/redisx"
	"github.com/breakfastfactory/commerce/internal/restock"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	cfg.SetupLogging("api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		if err := postgres.Migrate(cfg.PostgresDSN); err != nil {
			log.Fatal().Err(err).Msg("migrate")
		}
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024)
	prod.Start()

	hub := realtime.NewHub(32)
	broker := realtime.NewRedisBroker(rdb, hub)

	ordersSvc := orders.NewService(orders.Deps{
		Repo:       orders.NewRepo(db),
		Events:     prod,
		Notifier:   broker,
		Cache:      redisx.NewCache(rdb),
		Producer:   cfg.ServiceName,
		CreditTerm: cfg.CreditTerm,
	})
	ledgerSvc := ledger.NewService(ledger.Deps{
		Store:      ledger.NewRepo(db),
		Events:     prod,
		Producer:   cfg.ServiceName,
		CreditTerm: cfg.CreditTerm,
	})

	router := httpx.NewRouter(httpx.Deps{
		Ledger:         ledgerSvc,
		Orders:         ordersSvc,
		Restock:        restock.NewService(restock.NewRepo(db)),
		Hub:            hub,
		Auth:           auth.NewVerifier(cfg.JWTSecret),
		RequestTimeout: cfg.RequestTimeout,
		Heartbeat:      cfg.Heartbeat,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("http listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return broker.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("api stopped")
	}
	prod.Close()
	prod.WaitClosed()
	log.Info().Msg("api stopped")
}
