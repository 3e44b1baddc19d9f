package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/config"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/credit"
	kafkax "github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/kafka"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/orders"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/postgres"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/redisx"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/referral"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("svc", "referral")
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("db connect", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	var ledger credit.Ledger = &credit.PGLedger{DB: db}
	if cfg.CreditBackend == config.CreditRedis {
		ledger = &credit.RedisLedger{RDB: rdb}
	}

	rec := &referral.Reconciler{
		Attributor:  referral.NewAttributor(&referral.PGStore{DB: db}, ledger, cfg.ReferralCommissionRate, logger),
		Orders:      &orders.Repo{DB: db},
		Redis:       rdb,
		ServiceName: cfg.ServiceName + "-referral",
		Log:         logger,
	}

	var wg sync.WaitGroup
	for _, topic := range []string{orders.TopicOrderCreated, orders.TopicOrderStatusChanged} {
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ReferralGroup, topic, cfg.ReferralWorkers, logger)
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			logger.Info("consumer started", "group", cfg.ReferralGroup, "topic", topic, "workers", cfg.ReferralWorkers)
			if err := cons.Start(ctx, rec.HandleMessage); err != nil {
				logger.Error("consumer exit", "topic", topic, "error", err)
				cancel()
			}
		}(topic)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down consumers")
	cancel()
	wg.Wait()
}
