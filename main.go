package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradebot-core/internal/ai"
	"tradebot-core/internal/api"
	"tradebot-core/internal/bot"
	"tradebot-core/internal/engine"
	"tradebot-core/internal/events"
	"tradebot-core/internal/market"
	"tradebot-core/internal/monitor"
	"tradebot-core/internal/order"
	"tradebot-core/internal/schedule"
	"tradebot-core/internal/supervisor"
	"tradebot-core/pkg/cache"
	"tradebot-core/pkg/config"
	"tradebot-core/pkg/db"
	"tradebot-core/pkg/logger"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	seriesCleanupInterval = 10 * time.Minute
	seriesMaxAge          = time.Hour
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tradebot:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	log.Info("starting", zap.String("version", version), zap.String("port", cfg.Port), zap.String("db_path", cfg.DBPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	tenants, err := config.LoadTenants(cfg.TenantsFile)
	if err != nil {
		return fmt.Errorf("load tenants: %w", err)
	}
	if len(tenants) > 0 {
		if err := database.SyncBotConfigs(ctx, tenants); err != nil {
			return fmt.Errorf("sync tenants: %w", err)
		}
		log.Info("tenant configs synced", zap.Int("count", len(tenants)), zap.String("file", cfg.TenantsFile))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitor.NewMetrics(reg)

	bus := events.NewBus()
	mon := &monitor.Monitor{Bus: bus, Logger: log.Named("alerts")}
	mon.Start(ctx)

	series := cache.NewSeriesCache()
	clock := schedule.Real()

	sim := market.NewSimulated(cfg.SimSeed)
	if cfg.SimVolatility > 0 {
		sim.Volatility = cfg.SimVolatility
	}
	prices := market.NewRateLimited(sim, cfg.MarketRateLimit, cfg.MarketRateBurst)

	var analyst ai.Analyzer = ai.Heuristic{}
	if cfg.AIEndpoint != "" {
		analyst = ai.NewClient(cfg.AIEndpoint, cfg.AIAPIKey, cfg.AITimeout)
		log.Info("ai analyst enabled", zap.String("endpoint", cfg.AIEndpoint))
	}

	exec := order.NewSimulated(prices, order.SimConfig{
		SlippageBps:         cfg.SimSlippageBps,
		GatewayLatencyMinMs: cfg.SimGwLatencyMinMs,
		GatewayLatencyMaxMs: cfg.SimGwLatencyMaxMs,
	}, cfg.SimSeed)

	orders := order.NewManager(database, exec, bus, metrics, log)
	if err := orders.Load(ctx); err != nil {
		return fmt.Errorf("load pending orders: %w", err)
	}

	botCfg := bot.Config{
		Interval:       cfg.CycleInterval,
		HistoryPeriods: cfg.HistoryPeriods,
		InitialCapital: cfg.InitialCapital,
		MaxHold:        cfg.MaxHoldDuration,
	}
	factory := func(tenantID string) supervisor.Runner {
		return bot.New(tenantID, botCfg, bot.Deps{
			Queries:  database.Queries(),
			Market:   prices,
			Analyst:  analyst,
			Executor: exec,
			Cache:    series,
			Clock:    clock,
			Bus:      bus,
			Metrics:  metrics,
			Logger:   log.Named("bot"),
		})
	}
	sup := supervisor.New(database, factory, supervisor.Config{
		Interval:    cfg.SupervisorInterval,
		StopTimeout: cfg.StopTimeout,
	}, clock, metrics, log)

	svc := engine.NewImpl(engine.Config{
		Queries:   database.Queries(),
		Lifecycle: sup,
		Orders:    orders,
		Cache:     series,
		Metrics:   metrics,
		Clock:     clock,
		Logger:    log,
		Meta:      engine.SystemStatus{Mode: "simulated", Version: version},
	})

	server := api.NewServer(svc, bus, reg, log, api.Options{
		RateLimit:      cfg.APIRateLimit,
		RateBurst:      cfg.APIRateBurst,
		RequestTimeout: cfg.APIRequestTimeout,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sup.Run(gctx)
		return nil
	})
	g.Go(func() error {
		orders.Run(gctx, clock, cfg.OrderCheckInterval, quoteSource(prices, log))
		return nil
	})
	g.Go(func() error {
		schedule.Every(gctx, clock, seriesCleanupInterval, func(context.Context) {
			if n := series.Cleanup(seriesMaxAge); n > 0 {
				log.Debug("series cache pruned", zap.Int("removed", n))
			}
		})
		return nil
	})
	g.Go(func() error {
		return server.Serve(gctx, ":"+cfg.Port)
	})

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case err := <-done:
		return finish(log, err)
	case <-ctx.Done():
		log.Info("shutdown requested", zap.Duration("grace", cfg.ShutdownGracePeriod))
	}

	select {
	case err := <-done:
		return finish(log, err)
	case <-time.After(cfg.ShutdownGracePeriod):
		log.Error("shutdown grace period exceeded", zap.Strings("running", sup.Running()))
		return errors.New("shutdown timed out")
	}
}

func finish(log *zap.Logger, err error) error {
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("stopped")
	return nil
}

// quoteSource prices conditional orders from live market quotes only. A
// symbol without a quote is left out and re-checked on the next pass.
func quoteSource(provider market.Provider, log *zap.Logger) order.PriceSource {
	return func(ctx context.Context, symbols []string) map[string]float64 {
		out := make(map[string]float64, len(symbols))
		for _, sym := range symbols {
			q, err := provider.CurrentPrice(ctx, sym)
			if err != nil {
				log.Debug("no quote for pending orders", zap.String("symbol", sym), zap.Error(err))
				continue
			}
			if q.Price > 0 {
				out[sym] = q.Price
			}
		}
		return out
	}
}
