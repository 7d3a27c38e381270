package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"yield-ledger/internal/accounting"
	"yield-ledger/internal/chain"
	"yield-ledger/internal/config"
	"yield-ledger/internal/ingestion"
	"yield-ledger/internal/lease"
	"yield-ledger/internal/logging"
	"yield-ledger/internal/observability"
	"yield-ledger/internal/storage"
	"yield-ledger/internal/storage/memory"
	"yield-ledger/internal/storage/migrations"
	pgstore "yield-ledger/internal/storage/postgres"
	"yield-ledger/internal/verification"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config file")
	mode := flag.String("mode", "live", "Mode: live, backfill or verify")
	fromBlock := flag.Uint64("from-block", 0, "First block for backfill (default: chain.start_block)")
	toBlock := flag.Uint64("to-block", 0, "Last block for backfill (default: head minus confirmations)")
	rpcURL := flag.String("rpc-url", "", "Ethereum JSON-RPC endpoint (overrides chain.rpc_url)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (overrides stores.postgres_dsn)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string for price history (overrides stores.clickhouse_dsn)")
	redisAddr := flag.String("redis-addr", "", "Redis address for the single-writer lease (overrides stores.redis.addr)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL and ClickHouse")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (overrides metrics.addr)")
	replay := flag.Bool("replay", false, "In verify mode, also replay the indexed range into memory and compare")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, *rpcURL, *postgresDSN, *clickhouseDSN, *redisAddr, *metricsAddr, *useMemory)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.Named("indexer")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsSrv := startMetricsServer(cfg.Metrics.Addr, logger)

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
			cancel()
		case <-done:
			return
		}

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing immediate shutdown", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Warn("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, logger, *mode, *fromBlock, *toBlock, *replay)

	close(done)
	cancel()

	if metricsSrv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		stop()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("indexer failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

// applyFlags lets non-empty command line values override the config file.
func applyFlags(cfg *config.Config, rpcURL, postgresDSN, clickhouseDSN, redisAddr, metricsAddr string, useMemory bool) {
	if rpcURL != "" {
		cfg.Chain.RPCURL = rpcURL
	}
	if postgresDSN != "" {
		cfg.Stores.PostgresDSN = postgresDSN
	}
	if clickhouseDSN != "" {
		cfg.Stores.ClickHouseDSN = clickhouseDSN
	}
	if redisAddr != "" {
		cfg.Stores.Redis.Addr = redisAddr
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	if useMemory {
		cfg.Stores.UseMemory = true
	}
}

func startMetricsServer(addr string, logger *zap.Logger) *http.Server {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("starting metrics server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return srv
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger, mode string, fromBlock, toBlock uint64, replay bool) error {
	client, err := ethclient.DialContext(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	defer client.Close()

	binding, err := chain.NewEthBinding(client,
		chain.WithMaxRetries(cfg.Chain.MaxRetries),
		chain.WithRetryDelay(cfg.Chain.RetryDelay),
		chain.WithLogger(logger.Named("chain")),
	)
	if err != nil {
		return err
	}

	source, err := ingestion.NewEthSource(client, cfg.TokenAddresses(), logger.Named("source"))
	if err != nil {
		return err
	}

	stores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.close()

	l, closeLease, err := openLease(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeLease()

	processor := accounting.NewProcessor(binding, accounting.Config{
		TokenNames:     cfg.TokenNames(),
		MaxAllocations: cfg.Accounting.MaxAllocations,
	}, logger.Named("accounting"))

	runner := ingestion.NewRunner(ingestion.RunnerOptions{
		Source:        source,
		Store:         stores.db,
		History:       stores.history,
		Processor:     processor,
		Lease:         l,
		StartBlock:    cfg.Chain.StartBlock,
		Confirmations: cfg.Chain.Confirmations,
		BatchBlocks:   cfg.Chain.BatchBlocks,
		PollInterval:  cfg.Chain.PollInterval,
		Logger:        logger.Named("runner"),
	})

	switch mode {
	case "live":
		return runner.Run(ctx)
	case "backfill":
		if fromBlock == 0 {
			fromBlock = cfg.Chain.StartBlock
		}
		if toBlock == 0 {
			head, err := source.Head(ctx)
			if err != nil {
				return fmt.Errorf("read chain head: %w", err)
			}
			if head < cfg.Chain.Confirmations {
				return fmt.Errorf("chain head %d is below confirmation depth %d", head, cfg.Chain.Confirmations)
			}
			toBlock = head - cfg.Chain.Confirmations
		}
		_, err := runner.Backfill(ctx, fromBlock, toBlock)
		return err
	case "verify":
		return verify(ctx, cfg, logger, stores.db, source, processor, replay)
	default:
		return fmt.Errorf("unknown mode: %s", mode)
	}
}

type stores struct {
	db      storage.Database
	history storage.PriceHistoryStore
	closers []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores connects and migrates the configured backends. The ledger lives
// in PostgreSQL, price history in ClickHouse when a DSN is given.
func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	s := &stores{}

	if cfg.Stores.UseMemory {
		logger.Info("using in-memory storage")
		s.db = memory.NewStore()
		s.history = memory.NewPriceHistoryStore()
		return s, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.Stores.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s.closers = append(s.closers, pool.Close)

	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("postgres migrations: %w", err)
	}
	s.db = pgstore.NewStore(pool)
	logger.Info("connected to postgres", zap.Strings("migrations_applied", applied))

	if cfg.Stores.ClickHouseDSN == "" {
		s.history = memory.NewPriceHistoryStore()
		logger.Info("no clickhouse dsn, keeping price history in memory")
		return s, nil
	}

	history, applied, err := migrations.RunClickhouseMigrations(ctx, cfg.Stores.ClickHouseDSN)
	if err != nil {
		s.close()
		return nil, fmt.Errorf("clickhouse migrations: %w", err)
	}
	s.closers = append(s.closers, func() { _ = history.Close() })
	s.history = history
	logger.Info("connected to clickhouse", zap.Strings("migrations_applied", applied))

	return s, nil
}

// openLease returns the single-writer lease, or a no-op one without Redis.
func openLease(ctx context.Context, cfg *config.Config, logger *zap.Logger) (lease.Lease, func(), error) {
	rc := cfg.Stores.Redis
	if rc.Addr == "" {
		return lease.Noop{}, func() {}, nil
	}

	client, err := lease.Dial(ctx, rc.Addr, rc.Password, rc.DB)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	host, _ := os.Hostname()
	owner := fmt.Sprintf("%s-%d", host, os.Getpid())

	l, err := lease.NewRedis(client, rc.Prefix+"indexer-lease", owner, rc.LeaseTTL, logger.Named("lease"))
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	logger.Info("using redis lease", zap.String("addr", rc.Addr), zap.String("owner", owner))
	return l, func() { _ = client.Close() }, nil
}

// verify checks the stored ledger's invariants and, when replay is set,
// compares it with a fresh replay of the indexed block range.
func verify(ctx context.Context, cfg *config.Config, logger *zap.Logger, db storage.Database, source ingestion.EventSource, processor *accounting.Processor, replay bool) error {
	tokens := cfg.TokenAddresses()

	report, err := verification.NewVerifier(db).VerifyAll(ctx, tokens)
	if err != nil {
		return err
	}
	logReport(logger, "invariants", report)
	divergent := report.DivergentTokens

	if replay {
		cp, err := db.GetCheckpoint(ctx)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		rv := verification.NewReplayVerifier(verification.ReplayVerifierOptions{
			Source:    source,
			Processor: processor,
			Stored:    db,
			Logger:    logger.Named("replay"),
		})
		report, err := rv.Verify(ctx, tokens, cfg.Chain.StartBlock, cp.ScannedThrough)
		if err != nil {
			return err
		}
		logReport(logger, "replay", report)
		divergent += report.DivergentTokens
	}

	if divergent > 0 {
		return fmt.Errorf("verification found %d divergent token results", divergent)
	}
	return nil
}

func logReport(logger *zap.Logger, check string, report *verification.Report) {
	for _, res := range report.Results {
		if res.Match {
			logger.Info("token verified", zap.String("check", check), zap.String("token", res.TokenID), zap.Int("positions", res.Positions))
			continue
		}
		for _, d := range res.Divergences {
			logger.Warn("divergence",
				zap.String("check", check),
				zap.String("token", res.TokenID),
				zap.String("field", d.Field),
				zap.Any("expected", d.Expected),
				zap.Any("actual", d.Actual),
			)
		}
	}
	logger.Info("verification summary",
		zap.String("check", check),
		zap.Int("tokens", report.TotalTokens),
		zap.Int("matched", report.MatchedTokens),
		zap.Int("divergent", report.DivergentTokens),
	)
}
