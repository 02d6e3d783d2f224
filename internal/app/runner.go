package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"exitwatch/internal/chain"
	"exitwatch/internal/config"
	"exitwatch/internal/events"
	"exitwatch/internal/exit"
	"exitwatch/internal/journal"
	"exitwatch/internal/storage"
	"exitwatch/internal/storage/postgres"
	"exitwatch/internal/swap"
	"exitwatch/internal/wallet"
)

const shutdownTimeout = 15 * time.Second

// Runner wires the monitor and its dependencies and owns their lifecycle.
type Runner struct {
	logger  *zap.Logger
	config  *config.Config
	store   storage.Store
	bus     *events.Bus
	journal *journal.Journal
	monitor *exit.Monitor
}

// NewRunner creates an unwired runner.
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{logger: logger}
}

// Initialize loads configuration and constructs the full dependency graph.
// In demo mode no network-facing client is built at all and every monitoring
// pass is a hard no-op.
func (r *Runner) Initialize(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	r.config = cfg

	store, err := postgres.NewStore(cfg.PostgresURL, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to position store: %w", err)
	}
	if err := postgres.RunMigrations(store); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	r.store = store

	r.bus = events.NewBus(r.logger, 64)

	j, err := journal.New(cfg.JournalPath, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open exit journal: %w", err)
	}
	r.journal = j
	j.Attach(r.bus)

	notifier := events.NewNotifier(nil, r.logger)
	notifier.Attach(r.bus)

	thresholds := exit.Thresholds{
		TakeProfitEnabled: cfg.TakeProfitEnabled,
		TakeProfitPercent: cfg.TakeProfitPercent,
		StopLossEnabled:   cfg.StopLossEnabled,
		StopLossPercent:   cfg.StopLossPercent,
	}
	monitorConfig := exit.MonitorConfig{
		UserID:     cfg.UserID,
		Interval:   time.Duration(cfg.MonitorIntervalMS) * time.Millisecond,
		Thresholds: thresholds,
		DemoMode:   cfg.DemoMode,
	}

	if cfg.DemoMode {
		r.logger.Warn("Demo mode enabled: monitoring passes will not touch the store or the chain")
		r.monitor = exit.NewMonitor(store, nil, nil, nil, r.bus, r.logger, monitorConfig)
		return nil
	}

	slippage, err := cfg.Slippage()
	if err != nil {
		return err
	}
	fees, err := cfg.Fees()
	if err != nil {
		return err
	}

	rpcClient := rpc.New(cfg.RPCURL)
	swapClient := swap.NewClient(cfg.SwapAPIURL, r.logger)
	tokenClient := swap.NewTokenClient(cfg.TokenAPIURL, r.logger)

	signer, err := wallet.New(cfg.WalletPrivateKey, rpcClient, r.logger)
	if err != nil {
		return fmt.Errorf("failed to load wallet: %w", err)
	}

	confirmCfg := chain.DefaultConfig()
	confirmCfg.Timeout = time.Duration(cfg.ConfirmTimeoutMS) * time.Millisecond
	confirmer := chain.NewService(rpcClient, r.logger, confirmCfg)

	pipeline := exit.NewPipeline(store, swapClient, swapClient, signer, confirmer,
		r.bus, r.logger, exit.PipelineConfig{
			Slippage: slippage,
			Fees:     fees,
		})

	r.monitor = exit.NewMonitor(store, swapClient, tokenClient, pipeline, r.bus, r.logger, monitorConfig)
	return nil
}

// Run starts the monitor and blocks until a shutdown signal arrives.
func (r *Runner) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.monitor.Start(ctx)

	<-ctx.Done()
	r.logger.Info("Shutdown signal received")
	return r.shutdown()
}

// shutdown stops the monitor, drains the bus and releases resources. An
// in-flight pass is given time to finish so a broadcast sell still gets
// persisted.
func (r *Runner) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var firstErr error
	if err := r.monitor.Stop(ctx); err != nil {
		r.logger.Warn("Monitor did not stop cleanly", zap.Error(err))
		firstErr = err
	}
	if err := r.bus.Shutdown(ctx); err != nil {
		r.logger.Warn("Event bus did not drain cleanly", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	if err := r.journal.Close(); err != nil {
		r.logger.Warn("Failed to close exit journal", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	if err := r.store.Close(); err != nil {
		r.logger.Warn("Failed to close position store", zap.Error(err))
		if firstErr == nil {
			firstErr = err
		}
	}
	r.logger.Info("Shutdown complete")
	return firstErr
}
