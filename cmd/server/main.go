package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/ruralpay/payqueue/internal/config"
	"github.com/ruralpay/payqueue/internal/database"
	"github.com/ruralpay/payqueue/internal/handlers"
	"github.com/ruralpay/payqueue/internal/logging"
	"github.com/ruralpay/payqueue/internal/metrics"
	"github.com/ruralpay/payqueue/internal/notify"
	"github.com/ruralpay/payqueue/internal/priority"
	"github.com/ruralpay/payqueue/internal/rankedset"
	"github.com/ruralpay/payqueue/internal/services"
	"github.com/ruralpay/payqueue/internal/store"
	"github.com/ruralpay/payqueue/internal/workers"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("[SERVER] Exiting", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Persistent store
	var st store.Store
	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn("[SERVER] Using in-memory store, data is lost on restart")
		st = store.NewMemory()
	case "postgres":
		db, err := database.OpenPostgres(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := store.Migrate(ctx, db); err != nil {
			return err
		}
		st = store.NewPostgres(db)
	default:
		return errors.New("unknown storage.driver " + cfg.Storage.Driver)
	}

	// Ranked sets and the advisory lock
	var (
		queueSet, holdSet rankedset.Set
		locker            services.Locker
	)
	switch cfg.Storage.RankedDriver {
	case "memory":
		queueSet = rankedset.NewMemory(rankedset.Descending)
		holdSet = rankedset.NewMemory(rankedset.Ascending)
		locker = services.NewLocalLocker(cfg.Lock.TTL)
	case "redis":
		client, err := database.OpenRedis(ctx, cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer client.Close()
		queueSet = rankedset.NewRedis(client, cfg.Redis.KeyPrefix+":queue", rankedset.Descending)
		holdSet = rankedset.NewRedis(client, cfg.Redis.KeyPrefix+":holds", rankedset.Ascending)
		locker = services.NewRedisLocker(client, cfg.Redis.KeyPrefix, cfg.Lock.TTL)
	default:
		return errors.New("unknown ranked.driver " + cfg.Storage.RankedDriver)
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New("payqueue", reg)

	// Notifications
	sinks := []notify.Sink{notify.NewAuditLogger(logger)}
	if cfg.RabbitMQ.URL != "" {
		publisher, err := notify.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, logger)
		if err != nil {
			logger.Warn("[RABBITMQ] Broker unavailable, events will not be published", zap.Error(err))
			sinks = append(sinks, notify.NewFallbackPublisher(logger))
		} else {
			defer publisher.Close()
			sinks = append(sinks, publisher)
		}
	}
	notifier := notify.New(logger, sinks, notify.WithMetrics(m))
	notifier.Start()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := notifier.Close(closeCtx); err != nil {
			logger.Warn("[NOTIFY] Pending events not delivered at shutdown", zap.Error(err))
		}
	}()

	transferCfg, err := services.NewTransferConfig(cfg)
	if err != nil {
		return err
	}
	calc := priority.NewCalculator(cfg.Priority)
	svc := services.NewTransferService(st,
		services.NewPriorityQueue(queueSet, calc),
		services.NewTimeLock(holdSet),
		calc,
		transferCfg,
		services.WithLocker(locker),
		services.WithNotifier(notifier),
		services.WithMetrics(m),
		services.WithLogger(logger),
	)

	stats, err := svc.Rebuild(ctx)
	if err != nil {
		return err
	}
	logger.Info("[SERVER] Ranked sets rebuilt",
		zap.Int("queued", stats.Queued),
		zap.Int("held", stats.Held),
		zap.Int("pruned", stats.Pruned))

	scheduler := workers.NewScheduler(svc, cfg.Workers, m, logger)
	if err := scheduler.Start(); err != nil {
		return err
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(handlers.NewTransferHandler(svc, logger), m, cfg.JWT.SecretKey, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("[SERVER] Starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			<-scheduler.Stop().Done()
			return err
		}
	}

	logger.Info("[SERVER] Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	select {
	case <-scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		logger.Warn("[SERVER] Sweeps still running at shutdown deadline")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("[SERVER] Stopped")
	return nil
}
