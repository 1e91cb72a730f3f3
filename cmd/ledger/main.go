package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/breakfastfactory/commerce/internal/config"
	kafkax "github.com/breakfastfactory/commerce/internal/kafka"
	"github.com/breakfastfactory/commerce/internal/ledger"
	"github.com/breakfastfactory/commerce/internal/orders"
	"github.com/breakfastfactory/commerce/internal/postgres"
	"github.com/breakfastfactory/commerce/internal/redisx"
)

// The ledger worker opens credits for credit orders from order.created and
// runs the overdue sweep.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	cfg.SetupLogging("ledger")

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

	prod := kafkax.NewProducer(cfg.KafkaBrokers, 256)
	prod.Start()

	svc := ledger.NewService(ledger.Deps{
		Store:      ledger.NewRepo(db),
		Events:     prod,
		Producer:   cfg.ServiceName + "-ledger",
		CreditTerm: cfg.CreditTerm,
	})
	handler := &ledger.OrderConsumer{Ledger: svc, Dedup: redisx.NewDedup(rdb, "ledger")}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.LedgerGroup, orders.TopicOrderCreated, cfg.LedgerWorkers)
	sweeper := &ledger.Sweeper{Ledger: svc, Interval: cfg.SweepInterval}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("group", cfg.LedgerGroup).Str("topic", orders.TopicOrderCreated).
			Int("workers", cfg.LedgerWorkers).Msg("ledger consumer started")
		return cons.Start(gctx, handler.HandleOrderCreated)
	})
	g.Go(func() error { return sweeper.Run(gctx) })

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("ledger worker failed")
	}
	prod.Close()
	prod.WaitClosed()
	log.Info().Msg("ledger worker stopped")
}
