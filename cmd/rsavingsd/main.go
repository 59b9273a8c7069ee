package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"rsavings/config"
	"rsavings/core/events"
	"rsavings/core/state"
	"rsavings/native/rtoken"
	"rsavings/native/strategy"
	"rsavings/observability"
	"rsavings/observability/logging"
	"rsavings/rpc"
	"rsavings/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	memdb := flag.Bool("memdb", false, "Run against an in-memory store (data is lost on exit)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("RSAVINGS_ENV"))

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("rsavingsd", env, logging.Options{
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	poolAddr, err := rtoken.ParseAddress(cfg.PoolAddress)
	if err != nil {
		logger.Error("invalid pool address", "error", err)
		os.Exit(1)
	}

	var db storage.Database
	if *memdb {
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
		if err != nil {
			logger.Error("failed to open database", "dataDir", cfg.DataDir, "error", err)
			os.Exit(1)
		}
		db = ldb
	}
	defer db.Close()

	ledger := state.NewLedger(db)
	token := strategy.NewLedgerToken(db, poolAddr)

	alloc, err := strategy.NewFixedRateStrategy(cfg.ParsedInitialExchangeRate(), cfg.ParsedRatePerBlock())
	if err != nil {
		logger.Error("failed to build strategy", "error", err)
		os.Exit(1)
	}
	alloc.SetCustodian(token)

	journal, err := events.NewJournal(db, logger)
	if err != nil {
		logger.Error("failed to open event journal", "error", err)
		os.Exit(1)
	}

	engine := rtoken.NewEngine(poolAddr)
	engine.SetState(ledger)
	engine.SetStrategy(alloc)
	engine.SetToken(token)
	engine.SetEmitter(journal)
	engine.SetLogger(logger)
	engine.SetDustEpsilon(cfg.ParsedDustEpsilon())

	if err := applyGenesis(cfg, ledger, token, engine); err != nil {
		logger.Error("failed to apply genesis", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(registry)

	_, handler := rpc.NewServer(rpc.Options{
		Engine:        engine,
		Token:         token,
		Journal:       journal,
		Metrics:       metrics,
		Logger:        logger,
		Registry:      registry,
		RatePerSecond: cfg.RateLimitPerSecond,
		Burst:         cfg.RateLimitBurst,
	})

	blockInterval, err := cfg.ParsedBlockInterval()
	if err != nil {
		logger.Error("invalid block interval", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Accrual ticker: each tick is one block of interest growth.
	go func() {
		ticker := time.NewTicker(blockInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				alloc.AdvanceBlocks(1)
			}
		}
	}()

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("rsavingsd listening", "address", cfg.ListenAddress, "blockInterval", blockInterval.String())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", "error", err)
	}
	logger.Info("rsavingsd stopped")
}

// applyGenesis seeds token balances, pool allowances and predefined hats on
// first start. A guard key makes the allocation a one-time initialization;
// later starts skip it even if the genesis file changed.
func applyGenesis(cfg *config.Config, ledger *state.Ledger, token *strategy.LedgerToken, engine *rtoken.Engine) error {
	if strings.TrimSpace(cfg.GenesisFile) == "" {
		return nil
	}
	applied, err := ledger.GenesisApplied()
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	gen, err := config.LoadGenesis(cfg.GenesisFile)
	if err != nil {
		return err
	}
	for _, acc := range gen.Accounts {
		if balance := acc.ParsedBalance(); balance.Sign() > 0 {
			if err := token.Credit(acc.Address, balance); err != nil {
				return err
			}
		}
		if approve := acc.ParsedApprove(); approve.Sign() > 0 {
			if err := token.Approve(acc.Address, approve); err != nil {
				return err
			}
		}
	}
	for _, hat := range gen.Hats {
		if _, err := engine.GetOrCreateHat(hat.Recipients, hat.Proportions); err != nil {
			return err
		}
	}
	return ledger.MarkGenesisApplied()
}
