package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/pumpfun-indexer/streamcore/internal/chain"
	"github.com/pumpfun-indexer/streamcore/internal/clock"
	"github.com/pumpfun-indexer/streamcore/internal/config"
	"github.com/pumpfun-indexer/streamcore/internal/eventbus"
	"github.com/pumpfun-indexer/streamcore/internal/graduation"
	"github.com/pumpfun-indexer/streamcore/internal/holder"
	"github.com/pumpfun-indexer/streamcore/internal/jobs"
	"github.com/pumpfun-indexer/streamcore/internal/logging"
	"github.com/pumpfun-indexer/streamcore/internal/metrics"
	"github.com/pumpfun-indexer/streamcore/internal/parser"
	"github.com/pumpfun-indexer/streamcore/internal/ratelimit"
	"github.com/pumpfun-indexer/streamcore/internal/store"
	"github.com/pumpfun-indexer/streamcore/internal/store/postgres"
	"github.com/pumpfun-indexer/streamcore/internal/stream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() // nolint:errcheck

	reg := metrics.NewRegistry()
	clk := clock.Real()
	bus := eventbus.New(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	limiter := ratelimit.New(clk, cfg.RateLimit.MaxSubscriptions, cfg.RateLimit.TimeWindow, reg)

	newClient := func(connectionID string) stream.Client {
		return stream.NewGRPCClient(connectionID, cfg.Upstream.Endpoint, cfg.Upstream.APIKey)
	}
	pool := stream.NewPool(stream.PoolConfig{
		MinConnections:      cfg.Pool.MinConnections,
		MaxConnections:      cfg.Pool.MaxConnections,
		HealthCheckInterval: cfg.Pool.HealthCheckInterval,
	}, newClient, clk, logger, bus, reg)
	if err := pool.Initialize(ctx); err != nil {
		logger.Fatal("pool initialize failed", zap.Error(err))
	}

	programIDs := map[string][]string{
		"bonding_curve": cfg.Pool.PriorityGroups.High,
		"amm_pool":      cfg.Pool.PriorityGroups.Medium,
		"external_amm":  cfg.Pool.PriorityGroups.Low,
	}
	builder := stream.NewSubscriptionBuilder(programIDs)

	lb := stream.NewLoadBalancer(stream.LoadBalanceConfig{
		RebalanceThreshold:      cfg.LoadBalance.RebalanceThreshold,
		MinRebalanceInterval:    cfg.LoadBalance.MinRebalanceInterval,
		LoadCalculationInterval: cfg.LoadBalance.LoadCalculationInterval,
		MigrationBatchSize:      cfg.LoadBalance.MigrationBatchSize,
		TargetLoadRatio:         cfg.LoadBalance.TargetLoadRatio,
	}, clk, logger, reg)

	manager := stream.NewManager(pool, limiter, builder, lb, bus, logger, reg, clk)
	go manager.RunRebalanceLoop(ctx, cfg.LoadBalance.LoadCalculationInterval, 10*time.Second)

	dispatcher := parser.NewDispatcher(logger,
		parser.TokenCreationStrategy{},
		parser.BondingCurveStrategy{},
		parser.PoolTradeStrategy{},
		parser.ExternalPoolStrategy{ExternalProgramIDs: cfg.Pool.ExternalPrograms},
	)

	tracker := chain.NewTracker(clk, logger, bus, reg)
	go tracker.RunStatsLoop(ctx)

	var tokenStore store.TokenStore
	if cfg.Store.DSN != "" {
		pg, err := postgres.Open(ctx, cfg.Store.DSN)
		if err != nil {
			logger.Fatal("failed to open store", zap.Error(err))
		}
		defer pg.Close()
		tokenStore = pg
	} else {
		logger.Warn("store.dsn not configured, graduation detection disabled")
	}
	graduationTracker := graduation.NewTracker(tokenStore, logger)
	graduationTracker.Wire(bus)

	for name, ids := range programIDs {
		group := stream.SubscriptionGroup{
			Name:            name,
			ProgramIDs:      ids,
			Commitment:      stream.CommitmentConfirmed,
			MonitorPriority: groupPriority(name),
		}
		ch, err := manager.Subscribe(ctx, group)
		if err != nil {
			logger.Error("failed to subscribe group", zap.String("group", name), zap.Error(err))
			continue
		}
		go ingestGroup(ctx, ch, dispatcher, bus, logger)
	}

	apiLimiter := ratelimit.NewWindowLimiter(clk, 10, time.Second)
	fetcher := holder.NewTieredFetcher(nil, nil, nil) // wired with real sources by the deployment that configures endpoints
	orchestrator := holder.NewOrchestrator(fetcher, nil, holder.NewInMemoryClassificationCache(), holder.DefaultScoreCalculator{}, nil, apiLimiter, clk, logger, reg)
	analyzer := holder.NewJobAdapter(orchestrator)

	jobQueue := jobs.NewQueue(clk, reg)
	workerPool := jobs.NewPool(jobQueue, analyzer, cfg.Jobs.MaxWorkers, clk, logger, bus, reg)
	go workerPool.Run(ctx)

	scheduler := jobs.NewScheduler(jobQueue, clk, logger)
	go scheduler.Run(ctx)

	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- runAdminServer(ctx, reg, logger)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("admin http server error", zap.Error(err))
		}
		stop()
	}

	pool.Shutdown()
	logger.Info("streamcore stopped")
}

// groupPriority maps a monitor-type name back to its configured priority
// class; bonding-curve creation and trades are high priority, graduated
// pools medium, everything else low (spec.md §6).
func groupPriority(name string) stream.Priority {
	switch name {
	case "bonding_curve":
		return stream.PriorityHigh
	case "amm_pool":
		return stream.PriorityMedium
	default:
		return stream.PriorityLow
	}
}

// ingestGroup drains one subscription group's demuxed channel, converts
// each transaction update into the parser's wire-decoupled Tx, dispatches
// it to the matching strategy, and republishes every resulting event onto
// the bus for downstream persistence/alerting subscribers.
func ingestGroup(ctx context.Context, ch <-chan stream.RawMessage, dispatcher *parser.Dispatcher, bus *eventbus.Bus, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-ch:
			if !ok {
				return
			}
			tx, ok := stream.ToTx(raw)
			if !ok {
				continue
			}
			for _, ev := range dispatcher.Dispatch(tx) {
				publishEvent(bus, ev, logger)
			}
		}
	}
}

func publishEvent(bus *eventbus.Bus, ev parser.Event, logger *zap.Logger) {
	switch e := ev.(type) {
	case parser.TokenCreated:
		bus.Publish(eventbus.TopicTokenCreated, e)
	case parser.BondingCurveTrade:
		bus.Publish(eventbus.TopicBondingCurveTrade, e)
	case parser.PoolTrade, parser.ExternalPoolTrade:
		bus.Publish(eventbus.TopicAMMTrade, e)
	default:
		logger.Warn("no topic mapping for parsed event type")
	}
}

func runAdminServer(ctx context.Context, reg *metrics.Registry, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:         ":9090",
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("admin http server starting", zap.String("addr", httpServer.Addr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("admin http server shutdown error", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}
