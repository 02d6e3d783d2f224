package storage

import (
	"context"
	"errors"

	"exitwatch/internal/position"
)

// ErrPositionNotFound is returned when the requested position record does not
// exist, typically because another pass already resolved it.
var ErrPositionNotFound = errors.New("position not found")

// Store is the position store client. The store is the single authority over
// position records; the monitor reads snapshots and commits exit patches only.
type Store interface {
	// ListOpenPositions returns all open positions for the user, in store order.
	ListOpenPositions(ctx context.Context, userID string) ([]position.Position, error)

	// GetPosition re-fetches the authoritative record by id.
	// Returns ErrPositionNotFound if the record vanished.
	GetPosition(ctx context.Context, id string) (*position.Position, error)

	// UpdatePosition applies an exit patch to a position. The patch is the
	// only write shape the monitor is allowed to issue.
	UpdatePosition(ctx context.Context, id string, patch position.ExitPatch) error

	// Close releases the underlying connection pool.
	Close() error
}
