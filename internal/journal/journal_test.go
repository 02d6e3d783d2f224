package journal

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"exitwatch/internal/events"
)

func readRows(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestAppendAndFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exits.csv")
	j, err := New(path, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, j.Append(Record{
		PositionID:  "pos-1",
		TokenSymbol: "WIF",
		Action:      "take_profit",
		ExitPrice:   0.5,
		PnLPercent:  25,
		TxSignature: "sig-1",
		Confirmed:   true,
		Outcome:     "executed",
	}))
	require.NoError(t, j.Close())

	rows := readRows(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, headers(), rows[0])
	assert.Equal(t, "pos-1", rows[1][1])
	assert.Equal(t, "take_profit", rows[1][4])
	assert.Equal(t, "0.500000", rows[1][5])
	assert.Equal(t, "true", rows[1][8])
}

func TestHeaderWrittenOnlyOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exits.csv")

	j, err := New(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, j.Append(Record{PositionID: "pos-1", Outcome: "executed"}))
	require.NoError(t, j.Close())

	j, err = New(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, j.Append(Record{PositionID: "pos-2", Outcome: "failed"}))
	require.NoError(t, j.Close())

	rows := readRows(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, headers(), rows[0])
	assert.Equal(t, "pos-1", rows[1][1])
	assert.Equal(t, "pos-2", rows[2][1])
}

func TestAppendAfterCloseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exits.csv")
	j, err := New(path, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.Error(t, j.Append(Record{PositionID: "pos-1"}))
	assert.NoError(t, j.Close())
}

func TestAttachJournalsBusEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exits.csv")
	logger := zaptest.NewLogger(t)

	j, err := New(path, logger)
	require.NoError(t, err)

	bus := events.NewBus(logger, 16)
	subs := j.Attach(bus)
	require.Len(t, subs, 2)

	require.NoError(t, bus.Publish(events.ExitExecutedEvent{
		BaseEvent:   events.NewBase(events.ExitExecuted),
		PositionID:  "pos-1",
		TokenSymbol: "WIF",
		Action:      "take_profit",
		ExitPrice:   0.5,
		PnLPercent:  25,
		TxSignature: "sig-1",
		Confirmed:   true,
	}))
	require.NoError(t, bus.Publish(events.ExitFailedEvent{
		BaseEvent:  events.NewBase(events.ExitFailed),
		PositionID: "pos-2",
		Action:     "stop_loss",
		Stage:      "quote",
		Reason:     "QUOTE_UNAVAILABLE: aggregator down",
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, bus.Shutdown(ctx))
	require.NoError(t, j.Close())

	rows := readRows(t, path)
	require.Len(t, rows, 3)

	// Async delivery does not guarantee row order.
	byPosition := map[string][]string{}
	for _, row := range rows[1:] {
		byPosition[row[1]] = row
	}
	require.Contains(t, byPosition, "pos-1")
	require.Contains(t, byPosition, "pos-2")
	assert.Equal(t, "executed", byPosition["pos-1"][9])
	assert.Equal(t, "failed", byPosition["pos-2"][9])
	assert.Contains(t, byPosition["pos-2"][10], "QUOTE_UNAVAILABLE")
}
