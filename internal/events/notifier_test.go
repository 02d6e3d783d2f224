package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func collectNotifications(t *testing.T, events ...Event) []Notification {
	t.Helper()

	bus := NewBus(zaptest.NewLogger(t), 16)
	defer shutdownBus(t, bus)

	var notes []Notification
	notifier := NewNotifier(func(n Notification) {
		notes = append(notes, n)
	}, zaptest.NewLogger(t))
	subs := notifier.Attach(bus)
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()

	for _, e := range events {
		require.NoError(t, bus.PublishSync(context.Background(), e))
	}
	return notes
}

func TestConfirmedExitNotifiesInfo(t *testing.T) {
	notes := collectNotifications(t, ExitExecutedEvent{
		BaseEvent:   NewBase(ExitExecuted),
		PositionID:  "pos-1",
		TokenMint:   "mint-1",
		TokenSymbol: "ALPHA",
		Action:      "take_profit",
		ExitPrice:   0.5,
		PnLPercent:  25.0,
		TxSignature: "sig-1",
		Confirmed:   true,
	})

	require.Len(t, notes, 1)
	assert.Equal(t, SeverityInfo, notes[0].Severity)
	assert.Equal(t, "Position closed", notes[0].Title)
	assert.Contains(t, notes[0].Message, "ALPHA")
	assert.Contains(t, notes[0].Message, "+25.00%")
	assert.Equal(t, "pos-1", notes[0].Metadata["position_id"])
	assert.Equal(t, "sig-1", notes[0].Metadata["tx_signature"])
}

func TestUnconfirmedExitNotifiesWarning(t *testing.T) {
	notes := collectNotifications(t, ExitExecutedEvent{
		BaseEvent:   NewBase(ExitExecuted),
		PositionID:  "pos-1",
		TokenSymbol: "ALPHA",
		Confirmed:   false,
	})

	require.Len(t, notes, 1)
	assert.Equal(t, SeverityWarning, notes[0].Severity)
	assert.Equal(t, "Position closed, confirmation pending", notes[0].Title)
}

func TestFailureSeverityFollowsStage(t *testing.T) {
	cases := []struct {
		stage string
		want  Severity
	}{
		{"quote", SeverityWarning},
		{"build", SeverityWarning},
		{"broadcast", SeverityCritical},
		{"persist", SeverityCritical},
	}
	for _, tc := range cases {
		t.Run(tc.stage, func(t *testing.T) {
			notes := collectNotifications(t, ExitFailedEvent{
				BaseEvent:   NewBase(ExitFailed),
				PositionID:  "pos-1",
				TokenSymbol: "ALPHA",
				Action:      "stop_loss",
				Stage:       tc.stage,
				Reason:      "boom",
			})

			require.Len(t, notes, 1)
			assert.Equal(t, tc.want, notes[0].Severity)
			assert.Contains(t, notes[0].Message, tc.stage)
			assert.Equal(t, tc.stage, notes[0].Metadata["stage"])
		})
	}
}

func TestPendingAndUnconfirmedEventsNotify(t *testing.T) {
	notes := collectNotifications(t,
		ExitPendingSignatureEvent{
			BaseEvent:   NewBase(ExitPendingSignature),
			PositionID:  "pos-1",
			TokenSymbol: "ALPHA",
			Action:      "take_profit",
		},
		ExitUnconfirmedEvent{
			BaseEvent:   NewBase(ExitUnconfirmed),
			PositionID:  "pos-2",
			TokenSymbol: "BETA",
			TxSignature: "sig-2",
		},
	)

	require.Len(t, notes, 2)
	assert.Equal(t, "Exit waiting for wallet", notes[0].Title)
	assert.Equal(t, SeverityWarning, notes[0].Severity)
	assert.Equal(t, "Exit unconfirmed", notes[1].Title)
	assert.Equal(t, "sig-2", notes[1].Metadata["tx_signature"])
}

func TestNilSinkLogsWithoutPanicking(t *testing.T) {
	notifier := NewNotifier(nil, zaptest.NewLogger(t))

	bus := NewBus(zaptest.NewLogger(t), 16)
	defer shutdownBus(t, bus)
	notifier.Attach(bus)

	require.NoError(t, bus.PublishSync(context.Background(), ExitExecutedEvent{
		BaseEvent: NewBase(ExitExecuted),
		Confirmed: true,
	}))
}
