package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/cart"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/config"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/credit"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/httpx"
	kafkax "github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/kafka"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/mw"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/orders"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/postgres"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/pricing"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/rabbitmq"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/redisx"
	"github.com/Lilith2/darkvsx-hd2-boosting-website-sub001/internal/referral"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
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
	if err := postgres.InitSchema(ctx, db); err != nil {
		logger.Error("schema", "error", err)
		os.Exit(1)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Events
	var (
		events   orders.EventPublisher
		shutdown func()
	)
	switch cfg.EventBroker {
	case config.BrokerRabbitMQ:
		pub, err := rabbitmq.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQQueue, logger)
		if err != nil {
			logger.Error("rabbitmq", "error", err)
			os.Exit(1)
		}
		events, shutdown = pub, pub.Close
	default:
		prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger)
		prod.Start(ctx)
		events = prod
		shutdown = func() {
			prod.Close() // flushes the inbox, then closes the writer
			prod.WaitClosed()
		}
	}

	var ledger credit.Ledger = &credit.PGLedger{DB: db}
	if cfg.CreditBackend == config.CreditRedis {
		ledger = &credit.RedisLedger{RDB: rdb}
	}

	catalog := &pricing.Catalog{DB: db}
	validator := pricing.NewValidator(catalog, logger)
	attributor := referral.NewAttributor(&referral.PGStore{DB: db}, ledger, cfg.ReferralCommissionRate, logger)
	manager := orders.NewManager(orders.Config{
		Repo:        &orders.Repo{DB: db},
		Validator:   validator,
		Ledger:      ledger,
		DebitInRepo: cfg.CreditBackend == config.CreditPostgres,
		Accruer:     attributor,
		Events:      events,
		ClientIP:    httpx.ClientIP,
		TaxRate:     cfg.TaxRate,
		Producer:    cfg.ServiceName,
		Logger:      logger,
	})

	router := httpx.NewRouter(cfg.CORSOrigins)
	h := &httpx.Handler{
		Catalog:   catalog,
		Validator: validator,
		Orders:    manager,
		Credits:   ledger,
		Referrals: attributor,
		Carts:     &cart.RedisStore{RDB: rdb},
		Redis:     rdb,
		TaxRate:   cfg.TaxRate,
		CartTTL:   cfg.CartTTL,
		Log:       logger,
	}
	h.Register(router, mw.AuthMiddleware(cfg.JWTSecret))

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr, "broker", cfg.EventBroker, "credits", cfg.CreditBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	shutdown()
	cancel()
}
