// Package ledger persists trade aggregates with a degraded fallback
// path when the primary store is unreachable.
package ledger

import (
	"context"
	"errors"

	"optionrelay/internal/models"
)

// ErrLegsRequired rejects OpenTrade calls without computed legs. A
// trade only exists once the strategy has decided what to trade.
var ErrLegsRequired = errors.New("ledger: legs are mandatory to open a trade")

// ErrDegraded wraps write failures where the primary store was
// unreachable. When only the journal took the write, callers still get
// the trade back together with this error so the degradation is never
// hidden; when both stores failed, the outcome was not durably stored.
var ErrDegraded = errors.New("ledger: primary store unavailable")

// ErrTradeNotFound is returned for updates against unknown trade IDs.
var ErrTradeNotFound = errors.New("ledger: trade not found")

// Interface is the contract for trade persistence.
//
// Implementations must be safe for concurrent use; reads always go to
// the primary store, the fallback is write-path only.
type Interface interface {
	// FindOpenTrade returns the ACTIVE trade for the normalized
	// symbol, or nil when the symbol has nothing open.
	FindOpenTrade(ctx context.Context, symbol string) (*models.Trade, error)

	// OpenTrade creates an ACTIVE trade for the signal and legs.
	// The returned trade is non-nil even when persistence degraded;
	// inspect the error with errors.Is(err, ErrDegraded).
	OpenTrade(ctx context.Context, signal models.Signal, legs []models.Leg) (*models.Trade, error)

	// CompleteTrade transitions the trade to COMPLETED.
	CompleteTrade(ctx context.Context, tradeID string) error

	// AttachResults appends execution results to the trade.
	AttachResults(ctx context.Context, tradeID string, results []models.ExecutionResult) error

	// Close releases the underlying stores.
	Close() error
}
