package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xela07ax/attackmap/internal/connectors"
	"github.com/xela07ax/attackmap/internal/feedsim"
	"github.com/xela07ax/attackmap/internal/infra"
	"github.com/xela07ax/attackmap/internal/repository/postgres"
)

// feedsim — эмулятор бэкенда для локальной разработки: REST + /ws/logs + /ws/maplogs.
func main() {
	flags := pflag.NewFlagSet("feedsim", pflag.ExitOnError)
	infra.RegisterFlags(flags)
	_ = flags.Parse(os.Args[1:])

	cfg, err := infra.LoadConfig(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := infra.NewLogger(cfg.Env, cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg.Feedsim, cfg.Redis, logger); err != nil {
		logger.Fatal("feedsim failed", zap.Error(err))
	}
}

func run(cfg infra.FeedsimConfig, redisCfg infra.RedisConfig, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Хранилище: Postgres (таблица failed_logins) или память
	var store feedsim.Storage
	if cfg.DatabaseURL != "" {
		repo, err := postgres.NewAttackRepo(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer repo.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := repo.Ping(pingCtx); err != nil {
			return fmt.Errorf("database unreachable: %w", err)
		}
		if err := repo.Migrate(pingCtx); err != nil {
			return err
		}
		store = repo
		logger.Info("using postgres storage")
	} else {
		store = feedsim.NewMemoryStorage(cfg.Retain)
		logger.Info("using in-memory storage", zap.Int("retain", cfg.Retain))
	}

	// 2. Рассылка: WebSocket-хаб и, опционально, Redis
	hub := feedsim.NewHub(logger)
	publishers := []feedsim.Publisher{hub}
	pingers := []feedsim.Pinger{hub}
	if cfg.PublishRedis {
		rdb := redis.NewClient(&redis.Options{Addr: redisCfg.Addr, Password: redisCfg.Password, DB: redisCfg.DB})
		defer rdb.Close()
		rp := feedsim.NewRedisPublisher(rdb, logger)
		publishers = append(publishers, rp)
		pingers = append(pingers, rp)
	}

	batcher := feedsim.NewBatcher(store, cfg.BatchSize, cfg.FlushInterval, logger, publishers...)
	batcher.Start()

	srv := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     feedsim.NewServer(store, batcher, hub, logger),
		ReadTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return feedsim.Generate(gctx, connectors.NewMockFeed(cfg.Seed), batcher, cfg.Rate, logger)
	})
	g.Go(func() error {
		feedsim.KeepAlive(gctx, cfg.PingInterval, logger, pingers...)
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("feedsim started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	// Финальный flush после остановки генератора
	batcher.Stop()
	logger.Info("feedsim exited")
	return err
}
