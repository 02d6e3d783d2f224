package exit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"exitwatch/internal/position"
)

type mockPricer struct {
	mu     sync.Mutex
	prices map[string]float64
	err    error
	calls  int
}

func (m *mockPricer) Price(ctx context.Context, mint string, decimals uint8) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return 0, m.err
	}
	price, ok := m.prices[mint]
	if !ok {
		return 0, errors.New("no route")
	}
	return price, nil
}

func (m *mockPricer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type mockExecutor struct {
	mu       sync.Mutex
	executed []*Decision
	// mutate lets a test shape the pipeline outcome per decision.
	mutate  func(d *Decision)
	block   chan struct{}
	panicky bool
}

func (m *mockExecutor) ExecuteExit(ctx context.Context, d *Decision) {
	if m.block != nil {
		<-m.block
	}
	if m.panicky {
		panic("pipeline blew up")
	}
	m.mu.Lock()
	m.executed = append(m.executed, d)
	m.mu.Unlock()
	if m.mutate != nil {
		m.mutate(d)
	} else {
		d.Executed = true
	}
}

func (m *mockExecutor) executedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.executed))
	for _, d := range m.executed {
		ids = append(ids, d.PositionID)
	}
	return ids
}

type mockMetadata struct {
	meta  []position.TokenMetadata
	calls int
}

func (m *mockMetadata) TokenMetadata(ctx context.Context, mints []string) ([]position.TokenMetadata, error) {
	m.calls++
	return m.meta, nil
}

func monitorPosition(id, mint string, entry, current float64) *position.Position {
	return &position.Position{
		ID:           id,
		UserID:       "user-1",
		TokenMint:    mint,
		TokenSymbol:  "TKN",
		Decimals:     6,
		Amount:       100,
		EntryPrice:   entry,
		CurrentPrice: current,
		Status:       position.StatusOpen,
		OpenedAt:     time.Now().Add(-time.Hour),
	}
}

func defaultThresholds() Thresholds {
	return Thresholds{
		TakeProfitEnabled: true,
		TakeProfitPercent: 20,
		StopLossEnabled:   true,
		StopLossPercent:   10,
	}
}

func newTestMonitor(t *testing.T, store *mockStore, pricer *mockPricer, executor *mockExecutor, cfg MonitorConfig) *Monitor {
	t.Helper()
	if cfg.UserID == "" {
		cfg.UserID = "user-1"
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = defaultThresholds()
	}
	return NewMonitor(store, pricer, nil, executor, nil, zaptest.NewLogger(t), cfg)
}

func TestPassExecutesTriggeredExits(t *testing.T) {
	store := newMockStore(
		monitorPosition("pos-tp", "mint-tp", 1.00, 1.00),
		monitorPosition("pos-hold", "mint-hold", 1.00, 1.00),
		monitorPosition("pos-sl", "mint-sl", 2.00, 2.00),
	)
	pricer := &mockPricer{prices: map[string]float64{
		"mint-tp":   1.25,
		"mint-hold": 1.05,
		"mint-sl":   1.70,
	}}
	executor := &mockExecutor{}
	m := newTestMonitor(t, store, pricer, executor, MonitorConfig{})

	result := m.RunPassNow(context.Background(), true)

	require.NotNil(t, result)
	assert.ElementsMatch(t, []string{"pos-tp", "pos-sl"}, executor.executedIDs())
	assert.Equal(t, 3, pricer.callCount())
	assert.Equal(t, 3, result.Summary.Total)
	assert.Equal(t, 1, result.Summary.Holding)
	assert.Equal(t, 1, result.Summary.TakeProfits)
	assert.Equal(t, 1, result.Summary.StopLosses)
	assert.Equal(t, 2, result.Summary.Executed)
	assert.Len(t, result.Decisions, 3)
	assert.False(t, m.LastPass().IsZero())
}

func TestPassUsesStoredPriceWhenLookupFails(t *testing.T) {
	// Stored snapshot already crosses the take-profit line; a dead price
	// route must not suppress the exit.
	store := newMockStore(monitorPosition("pos-1", "mint-1", 1.00, 1.30))
	pricer := &mockPricer{err: errors.New("aggregator down")}
	executor := &mockExecutor{}
	m := newTestMonitor(t, store, pricer, executor, MonitorConfig{})

	m.RunPassNow(context.Background(), true)

	assert.Equal(t, []string{"pos-1"}, executor.executedIDs())
}

func TestEvaluateOnlyPassDoesNotExecute(t *testing.T) {
	store := newMockStore(monitorPosition("pos-1", "mint-1", 1.00, 1.00))
	pricer := &mockPricer{prices: map[string]float64{"mint-1": 1.30}}
	executor := &mockExecutor{}
	m := newTestMonitor(t, store, pricer, executor, MonitorConfig{})

	result := m.RunPassNow(context.Background(), false)

	require.NotNil(t, result)
	require.Len(t, result.Decisions, 1)
	assert.Equal(t, ActionTakeProfit, result.Decisions[0].Action)
	assert.Equal(t, 1, result.Summary.TakeProfits)
	assert.Zero(t, result.Summary.Executed)
	assert.Empty(t, executor.executedIDs())
	assert.Zero(t, m.PendingCount())
}

func TestPassSkippedWhileAnotherIsInFlight(t *testing.T) {
	store := newMockStore(monitorPosition("pos-1", "mint-1", 1.00, 1.30))
	pricer := &mockPricer{prices: map[string]float64{"mint-1": 1.30}}
	executor := &mockExecutor{block: make(chan struct{})}
	m := newTestMonitor(t, store, pricer, executor, MonitorConfig{})

	firstDone := make(chan *PassResult)
	go func() {
		firstDone <- m.RunPassNow(context.Background(), true)
	}()

	// Wait until the first pass is parked inside the executor.
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.passActive
	}, time.Second, 5*time.Millisecond)

	assert.Nil(t, m.RunPassNow(context.Background(), true))

	close(executor.block)
	assert.NotNil(t, <-firstDone)
}

func TestStoreFailureSkipsPass(t *testing.T) {
	store := newMockStore()
	store.listErr = errors.New("connection refused")
	executor := &mockExecutor{}
	m := newTestMonitor(t, store, &mockPricer{}, executor, MonitorConfig{})

	result := m.RunPassNow(context.Background(), true)

	assert.NotNil(t, result)
	assert.Empty(t, executor.executedIDs())
}

func TestDemoModeTouchesNothing(t *testing.T) {
	// The stored snapshot is deep in take-profit territory; a demo pass must
	// still refuse to reach any collaborator and must produce no result.
	store := newMockStore(monitorPosition("pos-1", "mint-1", 1.00, 1.50))
	pricer := &mockPricer{prices: map[string]float64{"mint-1": 1.50}}
	executor := &mockExecutor{}
	m := newTestMonitor(t, store, pricer, executor, MonitorConfig{DemoMode: true})

	result := m.RunPassNow(context.Background(), true)

	assert.Nil(t, result)
	assert.Zero(t, store.listCalls)
	assert.Zero(t, pricer.callCount())
	assert.Empty(t, executor.executedIDs())
}

func TestPendingDecisionRetriedOnNextPass(t *testing.T) {
	store := newMockStore(monitorPosition("pos-1", "mint-1", 1.00, 1.00))
	pricer := &mockPricer{prices: map[string]float64{"mint-1": 1.30}}
	executor := &mockExecutor{mutate: func(d *Decision) {
		d.AwaitingSignature = true
	}}
	m := newTestMonitor(t, store, pricer, executor, MonitorConfig{})

	m.RunPassNow(context.Background(), true)
	assert.Equal(t, 1, m.PendingCount())

	// Signer comes back: the parked decision resolves on the next pass.
	executor.mutate = func(d *Decision) {
		d.AwaitingSignature = false
		d.Executed = true
	}
	m.RunPassNow(context.Background(), true)

	assert.Zero(t, m.PendingCount())
	assert.Equal(t, []string{"pos-1", "pos-1"}, executor.executedIDs())
}

func TestPendingDecisionSurvivesPositionPriceDip(t *testing.T) {
	// The position dipped back inside the hold band, but a parked decision
	// still retries until it resolves.
	store := newMockStore(monitorPosition("pos-1", "mint-1", 1.00, 1.00))
	pricer := &mockPricer{prices: map[string]float64{"mint-1": 1.30}}
	executor := &mockExecutor{mutate: func(d *Decision) {
		d.AwaitingSignature = true
	}}
	m := newTestMonitor(t, store, pricer, executor, MonitorConfig{})

	m.RunPassNow(context.Background(), true)
	require.Equal(t, 1, m.PendingCount())

	pricer.mu.Lock()
	pricer.prices["mint-1"] = 1.05
	pricer.mu.Unlock()
	m.RunPassNow(context.Background(), true)

	assert.Len(t, executor.executedIDs(), 2)
}

func TestPanicInPassIsContained(t *testing.T) {
	store := newMockStore(monitorPosition("pos-1", "mint-1", 1.00, 1.00))
	pricer := &mockPricer{prices: map[string]float64{"mint-1": 1.30}}
	executor := &mockExecutor{panicky: true}
	m := newTestMonitor(t, store, pricer, executor, MonitorConfig{})

	require.NotPanics(t, func() {
		m.RunPassNow(context.Background(), true)
	})

	// The guard flag is released, so the next pass still runs.
	executor.panicky = false
	assert.NotNil(t, m.RunPassNow(context.Background(), true))
}

type stubSession struct{ active bool }

func (s *stubSession) Active() bool { return s.active }

func TestInactiveSessionSkipsEvaluation(t *testing.T) {
	store := newMockStore(monitorPosition("pos-1", "mint-1", 1.00, 1.00))
	pricer := &mockPricer{prices: map[string]float64{"mint-1": 1.30}}
	executor := &mockExecutor{}
	m := newTestMonitor(t, store, pricer, executor, MonitorConfig{})
	session := &stubSession{active: false}
	m.SetSession(session)

	result := m.RunPassNow(context.Background(), true)

	require.NotNil(t, result)
	assert.Zero(t, result.Summary.Total)
	assert.Zero(t, pricer.callCount())
	assert.Empty(t, executor.executedIDs())

	session.active = true
	m.RunPassNow(context.Background(), true)
	assert.Equal(t, []string{"pos-1"}, executor.executedIDs())
}

func TestStartStopLifecycle(t *testing.T) {
	store := newMockStore()
	m := newTestMonitor(t, store, &mockPricer{}, &mockExecutor{}, MonitorConfig{Interval: time.Hour})

	assert.False(t, m.IsMonitoring())

	m.Start(context.Background())
	assert.True(t, m.IsMonitoring())

	// Idempotent.
	m.Start(context.Background())
	assert.True(t, m.IsMonitoring())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))
	assert.False(t, m.IsMonitoring())

	require.NoError(t, m.Stop(ctx))
}

func TestIntervalDefaultsToThirtySeconds(t *testing.T) {
	m := newTestMonitor(t, newMockStore(), &mockPricer{}, &mockExecutor{}, MonitorConfig{})
	assert.Equal(t, 30*time.Second, m.config.Interval)
}

func TestStopResetsRunState(t *testing.T) {
	store := newMockStore(monitorPosition("pos-1", "mint-1", 1.00, 1.30))
	pricer := &mockPricer{prices: map[string]float64{"mint-1": 1.30}}
	executor := &mockExecutor{mutate: func(d *Decision) {
		d.AwaitingSignature = true
	}}
	m := newTestMonitor(t, store, pricer, executor, MonitorConfig{Interval: time.Hour})

	m.RunPassNow(context.Background(), true)
	require.False(t, m.LastPass().IsZero())
	require.Equal(t, 1, m.PendingCount())
	m.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Stop(ctx))

	assert.True(t, m.LastPass().IsZero())
	assert.Zero(t, m.PendingCount())
}

func TestMetadataEnrichmentFillsPlaceholders(t *testing.T) {
	pos := monitorPosition("pos-1", "mint-1", 1.00, 1.00)
	pos.TokenSymbol = position.PlaceholderSymbol
	store := newMockStore(pos)
	pricer := &mockPricer{prices: map[string]float64{"mint-1": 1.30}}
	executor := &mockExecutor{}
	meta := &mockMetadata{meta: []position.TokenMetadata{
		{TokenMint: "mint-1", Symbol: "WIF", Decimals: 6},
	}}
	m := NewMonitor(store, pricer, meta, executor, nil, zaptest.NewLogger(t), MonitorConfig{
		UserID:     "user-1",
		Thresholds: defaultThresholds(),
	})

	m.RunPassNow(context.Background(), true)

	require.Equal(t, 1, meta.calls)
	require.Len(t, executor.executed, 1)
	assert.Equal(t, "WIF", executor.executed[0].TokenSymbol)
}
