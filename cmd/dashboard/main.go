package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xela07ax/attackmap/internal/connectors"
	"github.com/xela07ax/attackmap/internal/console/handler"
	"github.com/xela07ax/attackmap/internal/console/server"
	"github.com/xela07ax/attackmap/internal/console/service"
	"github.com/xela07ax/attackmap/internal/domain"
	"github.com/xela07ax/attackmap/internal/engine"
	"github.com/xela07ax/attackmap/internal/history"
	"github.com/xela07ax/attackmap/internal/infra"
)

func main() {
	flags := pflag.NewFlagSet("dashboard", pflag.ExitOnError)
	infra.RegisterFlags(flags)
	_ = flags.Parse(os.Args[1:])

	// 1. Конфиг и логгер
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

	if err := run(cfg, logger); err != nil {
		logger.Fatal("dashboard failed", zap.Error(err))
	}
}

func run(cfg *infra.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, _ := cfg.Display.Location() // Проверено в Validate

	// 2. Метрики
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := engine.NewMetrics(reg)

	// 3. REST-апстрим (Rate Limit -> Circuit Breaker -> Retries)
	var upstream *engine.Upstream
	if base := cfg.ActiveUpstream().HTTPBase; base != "" {
		client, err := connectors.NewHTTPClient(base, cfg.Bootstrap.RequestTimeout)
		if err != nil {
			return fmt.Errorf("upstream client: %w", err)
		}
		safe := engine.NewReliabilityWrapper(client, engine.ReliabilityOptions{
			RateLimit:      cfg.Bootstrap.RateLimit,
			Burst:          cfg.Bootstrap.Burst,
			Attempts:       cfg.Bootstrap.Attempts,
			RequestTimeout: cfg.Bootstrap.RequestTimeout,
			CBInterval:     cfg.Bootstrap.CBInterval,
			CBTimeout:      cfg.Bootstrap.CBTimeout,
			CBFailures:     cfg.Bootstrap.CBFailures,
		}, metrics, logger)
		upstream = engine.NewUpstream(safe, cfg.Bootstrap.Endpoints, logger)
	}

	var boot engine.SnapshotSource
	if cfg.Bootstrap.Enabled && upstream != nil {
		boot = upstream
	}

	// 4. Живой канал
	live, closeLive, err := newLiveSource(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLive()

	// 5. Ядро
	core := engine.NewCore(history.NewStore(cfg.History.Capacity), boot, live, metrics, logger)

	// 6. Консоль
	var remote service.RemoteStats
	if upstream != nil {
		remote = upstream
	}
	dash := service.NewDashboardService(core, remote, service.DashboardOptions{
		Location:     loc,
		TimeFormat:   cfg.Display.TimeFormat,
		Server:       domain.LatLon{Lat: cfg.Display.ServerLat, Lon: cfg.Display.ServerLon},
		ChartsSource: cfg.Charts.Source,
	}, logger)

	api := server.NewConsoleServer(logger, reg,
		handler.NewDashboardHandler(dash, logger),
		handler.NewStreamHandler(core, dash, cfg.Server.AllowedOrigins, logger),
	)
	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 7. Запуск и Graceful Shutdown
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return core.Run(gctx) })
	g.Go(func() error {
		logger.Info("dashboard API started", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down dashboard...")
		// Ждём финальный кадр phase=closed, чтобы /ws/dashboard успел его отправить
		<-core.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("dashboard exited")
	return err
}

// newLiveSource выбирает транспорт живого канала по live.transport.
func newLiveSource(cfg *infra.Config, logger *zap.Logger) (connectors.LiveSource, func(), error) {
	noop := func() {}

	var (
		src     connectors.LiveSource
		closeFn = noop
	)
	switch cfg.Live.Transport {
	case "websocket":
		src = connectors.NewWebSocketSource(cfg.LiveURL(), cfg.Live.IdleTimeout, logger)
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		src = connectors.NewRedisSource(rdb, cfg.Redis.Channel, logger)
		closeFn = func() { _ = rdb.Close() }
	case "none":
		return nil, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown live transport %q", cfg.Live.Transport)
	}

	if cfg.Live.Reconnect {
		src = engine.NewResilientSource(src, cfg.Live.ReconnectMaxBackoff, logger)
	}
	return src, closeFn, nil
}
