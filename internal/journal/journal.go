package journal

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"exitwatch/internal/events"
)

const flushInterval = 5 * time.Second

// Record is one journaled exit outcome.
type Record struct {
	Timestamp   time.Time
	PositionID  string
	TokenMint   string
	TokenSymbol string
	Action      string
	ExitPrice   float64
	PnLPercent  float64
	TxSignature string
	Confirmed   bool
	Outcome     string
	Detail      string
}

func headers() []string {
	return []string{
		"timestamp",
		"position_id",
		"token_mint",
		"token_symbol",
		"action",
		"exit_price",
		"pnl_percent",
		"tx_signature",
		"confirmed",
		"outcome",
		"detail",
	}
}

func (r *Record) row() []string {
	return []string{
		r.Timestamp.Format(time.RFC3339),
		r.PositionID,
		r.TokenMint,
		r.TokenSymbol,
		r.Action,
		formatFloat(r.ExitPrice),
		formatFloat(r.PnLPercent),
		r.TxSignature,
		strconv.FormatBool(r.Confirmed),
		r.Outcome,
		r.Detail,
	}
}

func formatFloat(f float64) string {
	if f == 0 {
		return ""
	}
	return strconv.FormatFloat(f, 'f', 6, 64)
}

// Journal appends exit outcomes to a CSV file. Writes are buffered and
// flushed periodically; Close drains the buffer.
type Journal struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
	buf    *bufio.Writer
	ticker *time.Ticker
	done   chan struct{}
	logger *zap.Logger
	closed bool
}

// New opens (or creates) the journal file in append mode. The header row is
// written only when the file is new.
func New(filePath string, logger *zap.Logger) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat journal file: %w", err)
	}

	buf := bufio.NewWriter(file)
	j := &Journal{
		file:   file,
		buf:    buf,
		writer: csv.NewWriter(buf),
		ticker: time.NewTicker(flushInterval),
		done:   make(chan struct{}),
		logger: logger.Named("journal"),
	}

	if info.Size() == 0 {
		if err := j.writer.Write(headers()); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to write journal header: %w", err)
		}
	}

	go j.periodicFlush()
	return j, nil
}

// Append records one exit outcome.
func (j *Journal) Append(r Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return fmt.Errorf("journal is closed")
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now().UTC()
	}
	if err := j.writer.Write(r.row()); err != nil {
		return fmt.Errorf("failed to append journal record: %w", err)
	}
	return nil
}

// Flush drains buffered records to disk.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.flushLocked()
}

func (j *Journal) flushLocked() error {
	j.writer.Flush()
	if err := j.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush journal: %w", err)
	}
	if err := j.buf.Flush(); err != nil {
		return fmt.Errorf("failed to flush journal buffer: %w", err)
	}
	return nil
}

func (j *Journal) periodicFlush() {
	for {
		select {
		case <-j.ticker.C:
			if err := j.Flush(); err != nil {
				j.logger.Error("Periodic journal flush failed", zap.Error(err))
			}
		case <-j.done:
			return
		}
	}
}

// Close flushes and closes the journal file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	j.ticker.Stop()
	close(j.done)

	if err := j.flushLocked(); err != nil {
		j.file.Close()
		return err
	}
	return j.file.Close()
}

// Attach subscribes the journal to exit outcomes on the bus. The returned
// subscriptions are owned by the caller; unsubscribing detaches the journal.
func (j *Journal) Attach(bus *events.Bus) []events.Subscription {
	record := func(r Record) {
		if err := j.Append(r); err != nil {
			j.logger.Warn("Failed to journal exit", zap.Error(err))
		}
	}

	executed := bus.SubscribeFunc(events.ExitExecuted, func(ctx context.Context, e events.Event) error {
		ev, ok := e.(events.ExitExecutedEvent)
		if !ok {
			return nil
		}
		outcome := "executed"
		if !ev.Confirmed {
			outcome = "executed_unconfirmed"
		}
		record(Record{
			Timestamp:   ev.Timestamp(),
			PositionID:  ev.PositionID,
			TokenMint:   ev.TokenMint,
			TokenSymbol: ev.TokenSymbol,
			Action:      ev.Action,
			ExitPrice:   ev.ExitPrice,
			PnLPercent:  ev.PnLPercent,
			TxSignature: ev.TxSignature,
			Confirmed:   ev.Confirmed,
			Outcome:     outcome,
		})
		return nil
	})

	failed := bus.SubscribeFunc(events.ExitFailed, func(ctx context.Context, e events.Event) error {
		ev, ok := e.(events.ExitFailedEvent)
		if !ok {
			return nil
		}
		record(Record{
			Timestamp:   ev.Timestamp(),
			PositionID:  ev.PositionID,
			TokenMint:   ev.TokenMint,
			TokenSymbol: ev.TokenSymbol,
			Action:      ev.Action,
			Outcome:     "failed",
			Detail:      ev.Reason,
		})
		return nil
	})

	return []events.Subscription{executed, failed}
}
