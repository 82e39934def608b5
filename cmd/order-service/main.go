package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"

	"github.com/go-chi/chi/v5"

	"github.com/orderflow/order-service/internal/config"
	"github.com/orderflow/order-service/internal/order/application"
	orderhttp "github.com/orderflow/order-service/internal/order/infrastructure/http"
	orderkafka "github.com/orderflow/order-service/internal/order/infrastructure/kafka"
	orderpg "github.com/orderflow/order-service/internal/order/infrastructure/postgres"
	"github.com/orderflow/order-service/internal/order/infrastructure/stock"
	"github.com/orderflow/order-service/pkg/idempotency"
	"github.com/orderflow/order-service/pkg/logging"
	"github.com/orderflow/order-service/pkg/metrics"
	"github.com/orderflow/order-service/pkg/outbox"
	"github.com/orderflow/order-service/pkg/shutdown"
	"github.com/orderflow/order-service/pkg/tracing"
)

func main() {
	log := logging.New()

	ctx, cancel := shutdown.WithSignals(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", "err", err)
		os.Exit(1)
	}

	tp, err := tracing.Init(ctx, "order-service", cfg.OTLPEndpoint, log)
	if err != nil {
		log.Error("otel init failed", "err", err)
		os.Exit(1)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	// Postgres, with the decimal codec registered per connection so NUMERIC
	// columns scan straight into decimal.Decimal.
	poolCfg, err := pgxpool.ParseConfig(cfg.PGURL)
	if err != nil {
		log.Error("pg config parse failed", "err", err)
		os.Exit(1)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Error("pg connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	repo := orderpg.NewRepository(log, pool)
	if err := repo.Migrate(ctx); err != nil {
		log.Error("migrate failed", "err", err)
		os.Exit(1)
	}

	// Outbox relay: publishes reservation requests committed alongside orders.
	writer := orderkafka.NewWriter(cfg.KafkaBrokers)
	defer writer.Close()
	store := orderpg.NewOutboxStore(log, pool)
	dispatch := outbox.NewDispatcher(log, writer, cfg.ReservationRequestTopic)
	relay := outbox.NewRelay(log, store, dispatch, "order-service-relay")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	idem := idempotency.NewStore(rdb, 10*time.Minute)

	sagaMetrics := metrics.NewSagaMetrics(prometheus.DefaultRegisterer)

	stockClient := stock.NewClient(log, cfg.StockURL, cfg.StockTimeout)
	saga := application.NewSaga(log, repo, stockClient, sagaMetrics)
	handler := orderhttp.NewHandler(log, saga)
	consumer := orderkafka.NewConsumer(log, cfg.KafkaBrokers, cfg.ReservationResultTopic, cfg.ConsumerGroup, saga, idem, sagaMetrics)

	r := chi.NewRouter()
	r.Mount("/", handler.Routes())
	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		if err := relay.Run(ctx); err != nil {
			log.Error("relay stopped with error", "err", err)
		}
	}()

	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("consumer stopped", "err", err)
			cancel()
		}
	}()

	go func() {
		log.Info("http listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	log.Info("order-service shutdown complete")
}
