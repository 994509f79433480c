package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/PratikDhanave/attendance-ingest/internal/config"
	"github.com/PratikDhanave/attendance-ingest/internal/httpserver"
	"github.com/PratikDhanave/attendance-ingest/internal/ingest"
	"github.com/PratikDhanave/attendance-ingest/internal/logging"
	"github.com/PratikDhanave/attendance-ingest/internal/store"
)

// memDedupSize bounds the in-process dedup index for the memory backend.
const memDedupSize = 1 << 20

// main boots the service: config → logger → DB → schema → queue → drainer → HTTP server.
func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load(".env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to durable storage (Postgres) using a connection pool.
	db, err := store.NewPostgresStore(cfg.DB.URL)
	if err != nil {
		return err
	}
	defer db.Close()

	// Ensure required tables/indexes exist so a fresh database is enough.
	schemaCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = db.EnsureSchema(schemaCtx)
	cancel()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := ingest.NewMetrics(reg)

	var (
		queue ingest.Queue
		probe httpserver.QueueProbe
	)
	if cfg.QueueEnabled() {
		q, dedup, closeBackend, err := openBackend(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeBackend()
		queue, probe = q, q

		drainer := ingest.NewDrainer(q, dedup, db, ingest.DrainerConfig{
			BatchSize:    cfg.Ingestion.Queue.BatchSize,
			PopTimeout:   cfg.PopTimeout(),
			PollInterval: cfg.PollInterval(),
			DedupPrefix:  cfg.Ingestion.Dedup.Prefix,
		},
			ingest.WithDrainerLogger(logger.Named("drainer")),
			ingest.WithDrainerMetrics(metrics),
		)
		if err := drainer.Start(ctx); err != nil {
			return err
		}
		defer drainer.Stop()
	} else {
		logger.Info("ingestion queue disabled, readings are persisted synchronously")
	}

	producer := ingest.NewProducer(queue, db, cfg.QueueEnabled(),
		ingest.WithProducerLogger(logger.Named("producer")),
		ingest.WithProducerMetrics(metrics),
	)

	router := httpserver.NewRouter(cfg, httpserver.Deps{
		DB:       db,
		Queue:    probe,
		Enqueuer: producer,
		Counter:  db,
		Gatherer: reg,
		Log:      logger.Named("http"),
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server started", zap.String("addr", cfg.HTTP.Addr), zap.String("queue_backend", cfg.Ingestion.Queue.Backend))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openBackend builds the shared queue and dedup index for the configured backend.
func openBackend(ctx context.Context, cfg config.Config) (ingest.Queue, ingest.DedupIndex, func(), error) {
	q := cfg.Ingestion.Queue

	if q.Backend == config.BackendMemory {
		return ingest.NewMemQueue(q.MemoryCapacity),
			ingest.NewMemDedupIndex(memDedupSize, cfg.DedupTTL()),
			func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		// Blocking pops hold the connection for up to the pop timeout.
		ReadTimeout: cfg.PopTimeout() + 3*time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, nil, err
	}

	return ingest.NewRedisQueue(rdb, q.Key),
		ingest.NewRedisDedupIndex(rdb, cfg.DedupTTL()),
		func() { _ = rdb.Close() }, nil
}
