package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Sink receives user-facing notifications. Hosts plug in whatever surface
// they have; the default runner logs them.
type Sink func(Notification)

// Notifier translates exit outcomes on the bus into Notification toasts.
type Notifier struct {
	sink   Sink
	logger *zap.Logger
}

// NewNotifier creates a notifier delivering to sink. A nil sink logs each
// notification instead of delivering it.
func NewNotifier(sink Sink, logger *zap.Logger) *Notifier {
	n := &Notifier{logger: logger.Named("notify")}
	if sink == nil {
		sink = n.logSink
	}
	n.sink = sink
	return n
}

func (n *Notifier) logSink(note Notification) {
	fields := []zap.Field{
		zap.String("severity", string(note.Severity)),
		zap.String("message", note.Message),
	}
	switch note.Severity {
	case SeverityCritical:
		n.logger.Error(note.Title, fields...)
	case SeverityWarning:
		n.logger.Warn(note.Title, fields...)
	default:
		n.logger.Info(note.Title, fields...)
	}
}

// Attach subscribes the notifier to exit outcomes on the bus. The returned
// subscriptions are owned by the caller; unsubscribing detaches the notifier.
func (n *Notifier) Attach(bus *Bus) []Subscription {
	subs := []Subscription{
		bus.SubscribeFunc(ExitExecuted, func(ctx context.Context, e Event) error {
			ev, ok := e.(ExitExecutedEvent)
			if !ok {
				return nil
			}
			n.sink(newExecutedNotification(ev))
			return nil
		}),
		bus.SubscribeFunc(ExitFailed, func(ctx context.Context, e Event) error {
			ev, ok := e.(ExitFailedEvent)
			if !ok {
				return nil
			}
			n.sink(newFailedNotification(ev))
			return nil
		}),
		bus.SubscribeFunc(ExitPendingSignature, func(ctx context.Context, e Event) error {
			ev, ok := e.(ExitPendingSignatureEvent)
			if !ok {
				return nil
			}
			n.sink(Notification{
				Title:    "Exit waiting for wallet",
				Message:  fmt.Sprintf("%s exit for %s is parked until a signer is available", ev.Action, ev.TokenSymbol),
				Severity: SeverityWarning,
				Metadata: map[string]string{
					"position_id": ev.PositionID,
					"action":      ev.Action,
				},
			})
			return nil
		}),
		bus.SubscribeFunc(ExitUnconfirmed, func(ctx context.Context, e Event) error {
			ev, ok := e.(ExitUnconfirmedEvent)
			if !ok {
				return nil
			}
			n.sink(Notification{
				Title:    "Exit unconfirmed",
				Message:  fmt.Sprintf("Sell of %s was broadcast but not confirmed in time; it may still land", ev.TokenSymbol),
				Severity: SeverityWarning,
				Metadata: map[string]string{
					"position_id":  ev.PositionID,
					"tx_signature": ev.TxSignature,
				},
			})
			return nil
		}),
	}
	return subs
}

func newExecutedNotification(ev ExitExecutedEvent) Notification {
	severity := SeverityInfo
	title := "Position closed"
	message := fmt.Sprintf("%s sold at %.6f (%+.2f%%)", ev.TokenSymbol, ev.ExitPrice, ev.PnLPercent)
	if !ev.Confirmed {
		severity = SeverityWarning
		title = "Position closed, confirmation pending"
	}
	return Notification{
		Title:    title,
		Message:  message,
		Severity: severity,
		Metadata: map[string]string{
			"position_id":  ev.PositionID,
			"token_mint":   ev.TokenMint,
			"action":       ev.Action,
			"tx_signature": ev.TxSignature,
		},
	}
}

func newFailedNotification(ev ExitFailedEvent) Notification {
	// A failure at or past broadcast means money may have moved; everything
	// earlier is retried on the next pass.
	severity := SeverityWarning
	if ev.Stage == "broadcast" || ev.Stage == "persist" {
		severity = SeverityCritical
	}
	return Notification{
		Title:    "Exit failed",
		Message:  fmt.Sprintf("%s exit for %s failed at %s: %s", ev.Action, ev.TokenSymbol, ev.Stage, ev.Reason),
		Severity: severity,
		Metadata: map[string]string{
			"position_id": ev.PositionID,
			"token_mint":  ev.TokenMint,
			"stage":       ev.Stage,
		},
	}
}
