package main

import (
	"MarginTrading/internal/config"
	"MarginTrading/internal/ingestion"
	"MarginTrading/internal/kv"
	"MarginTrading/internal/monitor"
	"MarginTrading/internal/observability"
	"MarginTrading/internal/persistence"
	"MarginTrading/internal/queue"
	"MarginTrading/internal/schedule"
	"MarginTrading/internal/server"
	"MarginTrading/internal/snapshot"
	"MarginTrading/internal/state"
	"MarginTrading/internal/validation"
	"MarginTrading/internal/workflow"
	"context"
	"errors"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the snapshot service",
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, "margintrading")
	logger.Info().Str("version", Version).Msg("MarginTrading starting")

	// --- Context with graceful shutdown ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Observability ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(reg)
	health := observability.NewHealthChecker()

	// --- Postgres ---
	db, err := persistence.OpenPostgres(ctx, cfg.Postgres.DSN, cfg.Postgres.MaxOpenConns)
	if err != nil {
		return err
	}
	defer db.Close()
	health.AddCheck("postgres", db.PingContext)
	logger.Info().Msg("Postgres connected")

	migrator, err := persistence.NewMigrator(db, newLogger(cfg, "migrate"))
	if err != nil {
		return err
	}
	applied, err := migrator.Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info().Int("applied", applied).Msg("migrations applied")

	// --- Durable flags ---
	store, closeStore, err := openKVStore(ctx, cfg, health, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	flagRetry := kv.RetryPolicy{
		Attempts: cfg.Snapshot.FlagRetryAttempts,
		Backoff:  cfg.Snapshot.FlagRetryBackoff,
	}
	windows := kv.NewRecord[schedule.Window](store, schedule.WindowKey, flagRetry)
	platform, err := restoreSchedule(ctx, windows, logger)
	if err != nil {
		return err
	}

	// --- Blob store ---
	blobs, err := persistence.OpenBadger(cfg.Blob.Dir, newLogger(cfg, "badger"))
	if err != nil {
		return err
	}
	defer blobs.Close()

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, newLogger(cfg, "nats"))
	if err != nil {
		return err
	}
	defer nc.Close()
	health.AddCheck("nats", func(ctx context.Context) error {
		if nc.Status() != nats.CONNECTED {
			return fmt.Errorf("nats status %s", nc.Status())
		}
		return nil
	})
	if err := ingestion.EnsureStreams(ctx, js, logger); err != nil {
		return err
	}
	if err := ingestion.EnsureOutboundStream(ctx, js, logger); err != nil {
		return err
	}

	// --- Caches ---
	liquidations := kv.NewLiquidationRegistry(store, cfg.Snapshot.LiquidationTTL)
	orders := state.NewOrdersCache()
	accounts := state.NewAccountsCache(liquidations)
	fxQuotes := state.NewQuotesCache()
	tradingQuotes := state.NewQuotesCache()

	repo := persistence.NewSnapshotRepository(db)
	// Inside a trading-disabled window the closed day is the one to resume.
	today := schedule.TradingDay(time.Now())
	if w := platform.Current(); !w.TradingEnabled {
		today = w.TradingDay
	}
	if err := warmStart(ctx, repo, today, orders, accounts, fxQuotes, tradingQuotes, logger); err != nil {
		logger.Warn().Err(err).Msg("cache warm start failed, waiting for upstream replay")
	}

	// --- Snapshot pipeline ---
	validator := validation.NewEnvironmentValidator(
		orders,
		validation.NewStructuralChecker(accounts),
		blobs,
		metrics,
		newLogger(cfg, "validation"),
	)
	strategies := validation.NewStrategies(validator, validation.StrategyConfig{
		Retries:     cfg.Snapshot.ValidationRetries,
		BackoffUnit: cfg.Snapshot.ValidationBackoffUnit,
	}, metrics, newLogger(cfg, "validation"))

	tracker := workflow.Synchronized(workflow.NewMachine())
	drafts := workflow.NewDraftWorkflow(tracker, store, flagRetry, newLogger(cfg, "workflow"))

	subjects := ingestion.DefaultSubjects()
	service := snapshot.NewService(snapshot.Deps{
		Strategies:    strategies,
		Accounts:      accounts,
		FxQuotes:      fxQuotes,
		TradingQuotes: tradingQuotes,
		Repository:    repo,
		Queues:        ingestion.NewDrainChecker(js, subjects),
		Schedule:      platform,
		Workflow:      drafts,
		Notifier:      ingestion.NewOutboundPublisher(js, metrics, newLogger(cfg, "publisher")),
	}, metrics, newLogger(cfg, "snapshot"))

	requests := queue.NewWaitable[snapshot.CreationRequest, snapshot.Summary](queue.New[snapshot.CreationRequest]())
	requestsMonitor := monitor.NewRequestsMonitor(requests, service, blobs,
		cfg.Snapshot.PollInterval, metrics, newLogger(cfg, "requests-monitor"))
	if err := requestsMonitor.Recover(ctx); err != nil {
		return err
	}
	if _, err := drafts.Restore(ctx, today); err != nil {
		logger.Error().Err(err).Msg("draft workflow not restored")
	}
	draftMonitor := monitor.NewDraftMonitor(tracker, service,
		cfg.Snapshot.FallbackPollInterval, cfg.Snapshot.FallbackDelay, metrics, newLogger(cfg, "draft-monitor"))

	// --- Ingestion ---
	subscriber := ingestion.NewNATSSubscriber(js, &ingestion.Handler{
		Schedule:      platform,
		Windows:       windows,
		Drafts:        drafts,
		Requests:      requests,
		Dedup:         ingestion.NewDedupCache(persistence.NewRequestLog(db), 10_000, metrics),
		Orders:        orders,
		Accounts:      accounts,
		TradingQuotes: tradingQuotes,
		FxQuotes:      fxQuotes,
		Metrics:       metrics,
		Logger:        newLogger(cfg, "ingestion"),
	}, newLogger(cfg, "nats"))

	// --- Servers ---
	srv := server.NewServer(cfg.Server.GRPCAddr, cfg.Server.HTTPAddr, server.Deps{
		API: &server.AdminAPI{
			Queue:       requests,
			Service:     service,
			History:     repo,
			Drafts:      drafts,
			Schedule:    platform,
			WaitTimeout: cfg.Snapshot.WaitTimeout,
			Metrics:     metrics,
			Logger:      newLogger(cfg, "api"),
		},
		HealthChecker: health,
		Gatherer:      reg,
		Logger:        newLogger(cfg, "server"),
	})

	// --- Run ---
	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	var wg sync.WaitGroup
	errCh := make(chan error, 5)
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(workCtx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}

	run("requests monitor", requestsMonitor.Run)
	run("draft monitor", draftMonitor.Run)
	run("grpc server", srv.StartGRPC)
	run("http server", srv.StartHTTP)
	if cfg.Blob.Dir != "" {
		run("badger gc", func(ctx context.Context) error { return blobs.RunGC(ctx, cfg.Blob.GCInterval) })
	}

	if err := subscriber.Subscribe(workCtx, subjects); err != nil {
		cancelWork()
		wg.Wait()
		return err
	}
	srv.SetServing(true)
	logger.Info().Msg("MarginTrading ready")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("component failed, shutting down")
	}

	// --- Shutdown ---
	srv.SetServing(false)
	subscriber.Stop()
	cancelWork()
	wg.Wait()

	if err := requestsMonitor.Shutdown(context.Background()); err != nil {
		logger.Error().Err(err).Msg("queue state not saved")
	}
	if err := nc.Drain(); err != nil {
		logger.Warn().Err(err).Msg("nats drain failed")
	}

	logger.Info().Msg("MarginTrading stopped")
	return runErr
}

// openKVStore connects Redis when configured, falling back to the
// in-process store.
func openKVStore(ctx context.Context, cfg config.Config, health *observability.HealthChecker, logger zerolog.Logger) (kv.Store, func(), error) {
	if cfg.Redis.URL == "" {
		logger.Warn().Msg("redis.url not set, durable flags are kept in memory")
		return kv.NewMemoryStore(), func() {}, nil
	}

	client, err := kv.ConnectRedis(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, nil, err
	}
	health.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
	logger.Info().Msg("Redis connected")
	return kv.NewRedisStore(client, cfg.Redis.Prefix), func() { closeRedis(client, logger) }, nil
}

func closeRedis(client *redis.Client, logger zerolog.Logger) {
	if err := client.Close(); err != nil {
		logger.Warn().Err(err).Msg("redis close failed")
	}
}

// restoreSchedule resumes the last persisted trading window. Market-state
// consumers resume after their ack floor, so an acknowledged closure is not
// redelivered after a restart.
func restoreSchedule(ctx context.Context, windows *kv.Record[schedule.Window], logger zerolog.Logger) (*schedule.PlatformSchedule, error) {
	platform := schedule.NewPlatformSchedule()
	w, ok, err := windows.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore schedule: %w", err)
	}
	if !ok {
		logger.Info().Msg("no persisted schedule window, trading enabled")
		return platform, nil
	}
	platform.Restore(w)
	logger.Info().
		Bool("trading_enabled", w.TradingEnabled).
		Str("trading_day", w.TradingDay.Format(time.DateOnly)).
		Msg("schedule window restored")
	return platform, nil
}

// warmStart seeds the caches from the last draft persisted for tradingDay.
func warmStart(
	ctx context.Context,
	repo *persistence.SnapshotRepository,
	tradingDay time.Time,
	orders *state.OrdersCache,
	accounts *state.AccountsCache,
	fxQuotes, tradingQuotes *state.QuotesCache,
	logger zerolog.Logger,
) error {
	draft, err := repo.GetLastDraft(ctx, tradingDay)
	if err != nil {
		return err
	}
	if draft == nil {
		logger.Info().Str("trading_day", tradingDay.Format(time.DateOnly)).Msg("no draft to warm start from")
		return nil
	}

	orders.Init(draft.Orders, draft.Positions)
	accounts.Init(draft.Accounts)
	fxQuotes.Init(draft.BestFxPrices)
	tradingQuotes.Init(draft.BestTradingPrices)

	summary := draft.Summary()
	logger.Info().
		Str("correlation_id", summary.CorrelationID).
		Int("orders", summary.OrdersCount).
		Int("positions", summary.PositionsCount).
		Int("accounts", summary.AccountsCount).
		Msg("caches restored from last draft")
	return nil
}
