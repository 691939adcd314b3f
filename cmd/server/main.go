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

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/intelliavatar/internal/ai"
	"github.com/suPer8Hu/intelliavatar/internal/chain"
	"github.com/suPer8Hu/intelliavatar/internal/config"
	"github.com/suPer8Hu/intelliavatar/internal/db"
	"github.com/suPer8Hu/intelliavatar/internal/gateway"
	"github.com/suPer8Hu/intelliavatar/internal/httpapi"
	"github.com/suPer8Hu/intelliavatar/internal/job"
	"github.com/suPer8Hu/intelliavatar/internal/logging"
	"github.com/suPer8Hu/intelliavatar/internal/quota"
	"github.com/suPer8Hu/intelliavatar/internal/storage"
	"github.com/suPer8Hu/intelliavatar/internal/store/natsbus"
	"github.com/suPer8Hu/intelliavatar/internal/store/rabbitmq"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal(logging.New(os.Stderr, "", 0), "load config", err)
	}
	logger := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	gdb, err := db.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logging.Fatal(logger, "open database", err, "driver", cfg.DBDriver)
	}
	defer db.Close(gdb)
	if err := db.Migrate(gdb); err != nil {
		logging.Fatal(logger, "migrate", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gate, closeGate, err := newQuotaGate(ctx, cfg, gdb)
	if err != nil {
		logging.Fatal(logger, "quota backend", err, "backend", cfg.QuotaBackend)
	}
	defer closeGate()

	gw := gateway.New(gateway.Deps{
		Jobs:     job.NewRepo(gdb),
		Quota:    gate,
		Files:    storage.NewLocal(cfg.StorageRoot),
		Speech:   ai.NewSarvamTTS(cfg.TTSBaseURL, cfg.SarvamAPIKey),
		Language: cfg.TTSLanguage,
		Logger:   logger,
	})

	closeChain, err := wireChain(ctx, cfg, gw, logger)
	if err != nil {
		logging.Fatal(logger, "chain transport", err, "transport", cfg.ChainTransport)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(gw, cfg, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr, "quota", cfg.QuotaBackend, "chain", cfg.ChainTransport)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	// after the listener so in-flight submissions can still dispatch
	closeChain()
}

func newQuotaGate(ctx context.Context, cfg config.Config, gdb *gorm.DB) (quota.Gate, func(), error) {
	if cfg.QuotaBackend != "redis" {
		return quota.NewStore(gdb, cfg.QuotaLimits), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	return quota.NewRedisGate(rdb, cfg.QuotaLimits), func() { _ = rdb.Close() }, nil
}

// wireChain installs the gateway's chain dispatcher. The broker transports
// also subscribe so tasks come back into this gateway.
func wireChain(ctx context.Context, cfg config.Config, gw *gateway.Gateway, logger *slog.Logger) (func(), error) {
	switch cfg.ChainTransport {
	case "rabbitmq":
		return wireRabbit(ctx, cfg, gw, logger)
	case "nats":
		bus, err := natsbus.Connect(cfg.NATSURL, cfg.NATSSubject, logger)
		if err != nil {
			return nil, err
		}
		if _, err := bus.Subscribe(gw.HandleChained, cfg.ChainTimeout); err != nil {
			bus.Close()
			return nil, err
		}
		gw.SetDispatcher(bus)
		return bus.Close, nil
	default:
		pool := chain.NewPool(gw.HandleChained, cfg.ChainWorkers, cfg.ChainQueueSize, cfg.ChainTimeout, logger)
		gw.SetDispatcher(pool)
		return pool.Close, nil
	}
}

func wireRabbit(ctx context.Context, cfg config.Config, gw *gateway.Gateway, logger *slog.Logger) (func(), error) {
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue, cfg.ChainQueueSize, logger)
	if err != nil {
		return nil, err
	}
	cons, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, gw.HandleChained, cfg.ChainWorkers, cfg.ChainTimeout, logger)
	if err != nil {
		_ = pub.Close()
		return nil, err
	}
	gw.SetDispatcher(pub)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := cons.Run(ctx); err != nil {
			logger.Error("chain consumer stopped", "err", err)
		}
	}()
	return func() {
		_ = pub.Close()
		<-done
		_ = cons.Close()
	}, nil
}
