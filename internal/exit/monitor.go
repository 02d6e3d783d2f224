package exit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"exitwatch/internal/events"
	"exitwatch/internal/position"
	"exitwatch/internal/storage"
)

// Pricer resolves the current market price of a token in base-asset terms.
type Pricer interface {
	Price(ctx context.Context, mint string, decimals uint8) (float64, error)
}

// MetadataProvider resolves display metadata for token mints. May be nil, in
// which case placeholder symbols are left as stored.
type MetadataProvider interface {
	TokenMetadata(ctx context.Context, mints []string) ([]position.TokenMetadata, error)
}

// Executor runs a triggered decision through the exit pipeline. The monitor
// never talks to the chain directly.
type Executor interface {
	ExecuteExit(ctx context.Context, d *Decision)
}

// Session gates evaluation passes on the host's user session. May be nil, in
// which case passes always run.
type Session interface {
	Active() bool
}

// MonitorConfig tunes the evaluation loop.
type MonitorConfig struct {
	UserID     string
	Interval   time.Duration
	Thresholds Thresholds
	// PassTimeout bounds a single pass end to end, price refresh included.
	PassTimeout time.Duration
	// PriceWorkers caps concurrent price lookups inside a pass.
	PriceWorkers int
	// DemoMode turns every pass into a hard no-op before any external call
	// is made. The store, the price provider and the chain are never touched.
	DemoMode bool
}

const (
	DefaultInterval     = 30 * time.Second
	DefaultPassTimeout  = 45 * time.Second
	DefaultPriceWorkers = 4
)

// PassSummary is the aggregate outcome of one evaluation pass.
type PassSummary struct {
	Total       int
	Holding     int
	TakeProfits int
	StopLosses  int
	Executed    int
	Pending     int
	Duration    time.Duration
}

// PassResult pairs the per-position decisions of a pass with its summary.
// Decisions includes holds, so a host can inspect every evaluated position.
type PassResult struct {
	Decisions []*Decision
	Summary   PassSummary
}

// Monitor periodically evaluates open positions against exit thresholds and
// hands triggered decisions to the pipeline. Exactly one pass runs at a time;
// a tick that lands while a pass is in flight is skipped, not queued.
type Monitor struct {
	store    storage.Store
	pricer   Pricer
	metadata MetadataProvider
	executor Executor
	session  Session
	bus      *events.Bus
	logger   *zap.Logger
	config   MonitorConfig

	mu         sync.Mutex
	running    bool
	passActive bool
	lastPass   time.Time
	cancel     context.CancelFunc
	done       chan struct{}

	// pending holds decisions parked awaiting a signer, keyed by position id.
	// They are retried on every subsequent pass until resolved.
	pending map[string]*Decision
}

// NewMonitor creates a monitor. metadata may be nil.
func NewMonitor(store storage.Store, pricer Pricer, metadata MetadataProvider, executor Executor,
	bus *events.Bus, logger *zap.Logger, config MonitorConfig) *Monitor {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.PassTimeout <= 0 {
		config.PassTimeout = DefaultPassTimeout
	}
	if config.PriceWorkers <= 0 {
		config.PriceWorkers = DefaultPriceWorkers
	}
	return &Monitor{
		store:    store,
		pricer:   pricer,
		metadata: metadata,
		executor: executor,
		bus:      bus,
		logger:   logger.Named("monitor"),
		config:   config,
		pending:  make(map[string]*Decision),
	}
}

// SetSession installs a session gate. Must be called before Start.
func (m *Monitor) SetSession(s Session) {
	m.session = s
}

// Start arms the evaluation loop. Calling Start on a running monitor is a
// no-op. The first pass runs immediately, not after the first interval.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		m.logger.Debug("Monitor already running, ignoring start")
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	m.mu.Unlock()

	m.logger.Info("Monitoring started",
		zap.Duration("interval", m.config.Interval),
		zap.Bool("demo_mode", m.config.DemoMode))
	m.publish(events.MonitoringStartedEvent{
		BaseEvent: events.NewBase(events.MonitoringStarted),
		Interval:  m.config.Interval,
	})

	go m.loop(loopCtx)
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	m.RunPassNow(ctx, true)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunPassNow(ctx, true)
		}
	}
}

// Stop halts the loop and waits for an in-flight pass to finish, or for ctx
// to expire. Stopping a stopped monitor is a no-op.
func (m *Monitor) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Run state does not survive a stop.
	m.mu.Lock()
	m.lastPass = time.Time{}
	m.pending = make(map[string]*Decision)
	m.mu.Unlock()

	m.logger.Info("Monitoring stopped")
	m.publish(events.MonitoringStoppedEvent{
		BaseEvent: events.NewBase(events.MonitoringStopped),
		Reason:    "requested",
	})
	return nil
}

// IsMonitoring reports whether the loop is armed.
func (m *Monitor) IsMonitoring() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// PendingCount reports how many exits are parked awaiting a signer.
func (m *Monitor) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// LastPass reports when the most recent pass finished. Zero before the first
// pass completes.
func (m *Monitor) LastPass() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPass
}

// RunPassNow runs a single evaluation pass synchronously. executeExits false
// evaluates and reports only, leaving positions and the pending set alone.
// Returns nil when a pass is already in flight and this one was dropped, or
// in demo mode, where a pass is a hard no-op.
func (m *Monitor) RunPassNow(ctx context.Context, executeExits bool) *PassResult {
	// Demo mode bails before the store fetch: a demo pass performs no
	// network call of any kind.
	if m.config.DemoMode {
		m.logger.Debug("Demo mode, skipping pass")
		return nil
	}

	m.mu.Lock()
	if m.passActive {
		m.mu.Unlock()
		m.logger.Debug("Pass already in flight, skipping tick")
		return nil
	}
	m.passActive = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.passActive = false
		m.lastPass = time.Now()
		m.mu.Unlock()
		// A panicking pass must not take the loop down with it.
		if r := recover(); r != nil {
			m.logger.Error("Pass panicked", zap.Any("panic", r))
		}
	}()

	passCtx, cancel := context.WithTimeout(ctx, m.config.PassTimeout)
	defer cancel()
	return m.runPass(passCtx, executeExits)
}

func (m *Monitor) runPass(ctx context.Context, executeExits bool) *PassResult {
	started := time.Now()
	result := &PassResult{}

	if m.session != nil && !m.session.Active() {
		m.logger.Debug("Session inactive, skipping pass")
		return result
	}

	positions, err := m.store.ListOpenPositions(ctx, m.config.UserID)
	if err != nil {
		m.logger.Warn("Failed to list open positions, skipping pass", zap.Error(err))
		return result
	}
	if len(positions) == 0 && len(m.pending) == 0 {
		m.logger.Debug("No open positions")
		return result
	}

	m.refreshPrices(ctx, positions)
	positions = m.enrichMetadata(ctx, positions)

	summary := &result.Summary
	summary.Total = len(positions)
	var triggered []*Decision
	for _, pos := range positions {
		d := Evaluate(pos, pos.CurrentPrice, m.config.Thresholds)
		result.Decisions = append(result.Decisions, &d)
		switch d.Action {
		case ActionTakeProfit:
			summary.TakeProfits++
		case ActionStopLoss:
			summary.StopLosses++
		default:
			summary.Holding++
			continue
		}
		m.logger.Info("Exit threshold crossed",
			zap.String("position_id", d.PositionID),
			zap.String("token", d.TokenSymbol),
			zap.String("action", string(d.Action)),
			zap.Float64("pnl_percent", d.PnLPercent))
		triggered = append(triggered, &d)
	}
	combined := m.mergePending(triggered)
	for _, d := range combined[len(triggered):] {
		// Carried-over parked decisions are part of the pass result too.
		result.Decisions = append(result.Decisions, d)
	}

	if executeExits {
		// Exits run one at a time: they share a signer, and concurrent sells
		// race each other on the blockhash and account state.
		for _, d := range combined {
			m.executor.ExecuteExit(ctx, d)
			if d.Executed {
				summary.Executed++
			}
			m.trackPending(d)
		}
	}

	summary.Pending = m.PendingCount()
	summary.Duration = time.Since(started)
	m.logger.Info("Pass completed",
		zap.Int("total", summary.Total),
		zap.Int("holding", summary.Holding),
		zap.Int("take_profits", summary.TakeProfits),
		zap.Int("stop_losses", summary.StopLosses),
		zap.Int("executed", summary.Executed),
		zap.Int("pending", summary.Pending),
		zap.Bool("execute_exits", executeExits),
		zap.Duration("duration", summary.Duration))
	m.publish(events.PassCompletedEvent{
		BaseEvent:   events.NewBase(events.PassCompleted),
		Total:       summary.Total,
		Holding:     summary.Holding,
		TakeProfits: summary.TakeProfits,
		StopLosses:  summary.StopLosses,
		Executed:    summary.Executed,
		Duration:    summary.Duration,
	})
	return result
}

// refreshPrices updates CurrentPrice in place from live quotes. A failed
// lookup keeps the stored snapshot price; one dead token must not stall the
// whole pass.
func (m *Monitor) refreshPrices(ctx context.Context, positions []position.Position) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.PriceWorkers)
	for i := range positions {
		g.Go(func() error {
			pos := &positions[i]
			price, err := m.pricer.Price(gctx, pos.TokenMint, pos.Decimals)
			if err != nil {
				m.logger.Debug("Price lookup failed, using stored price",
					zap.String("token", pos.TokenMint),
					zap.Error(err))
				return nil
			}
			pos.CurrentPrice = price
			return nil
		})
	}
	_ = g.Wait()
}

// enrichMetadata fills in placeholder token symbols from the metadata
// provider. Best effort.
func (m *Monitor) enrichMetadata(ctx context.Context, positions []position.Position) []position.Position {
	if m.metadata == nil {
		return positions
	}
	var mints []string
	for _, pos := range positions {
		if pos.TokenSymbol == "" || pos.TokenSymbol == position.PlaceholderSymbol {
			mints = append(mints, pos.TokenMint)
		}
	}
	if len(mints) == 0 {
		return positions
	}
	meta, err := m.metadata.TokenMetadata(ctx, mints)
	if err != nil {
		m.logger.Debug("Token metadata lookup failed", zap.Error(err))
		return positions
	}
	return position.MergeMetadata(positions, meta)
}

// mergePending folds parked decisions into this pass's triggered set. A
// freshly triggered decision for the same position replaces the parked one
// but inherits its quote so a still-fresh route is not thrown away.
func (m *Monitor) mergePending(triggered []*Decision) []*Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	fresh := make(map[string]*Decision, len(triggered))
	for _, d := range triggered {
		fresh[d.PositionID] = d
	}
	for id, parked := range m.pending {
		if d, ok := fresh[id]; ok {
			if d.Quote == nil {
				d.Quote = parked.Quote
			}
			continue
		}
		triggered = append(triggered, parked)
	}
	return triggered
}

func (m *Monitor) trackPending(d *Decision) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.AwaitingSignature {
		m.pending[d.PositionID] = d
		return
	}
	delete(m.pending, d.PositionID)
}

func (m *Monitor) publish(event events.Event) {
	if m.bus == nil {
		return
	}
	_ = m.bus.Publish(event)
}
