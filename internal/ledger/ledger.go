package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"optionrelay/internal/models"
)

// Ledger composes the primary SQLite store with the append-only
// journal fallback. Reads always prefer the primary; writes fall back
// to the journal when the primary is unreachable and report the
// degradation through ErrDegraded.
type Ledger struct {
	primary  *SQLStore
	fallback *Journal
	logger   *log.Logger
	now      func() time.Time
}

// Ensure Ledger implements Interface.
var _ Interface = (*Ledger)(nil)

// New builds a ledger over the given stores.
func New(primary *SQLStore, fallback *Journal, logger *log.Logger) *Ledger {
	if logger == nil {
		logger = log.New(os.Stderr, "ledger: ", log.LstdFlags)
	}
	return &Ledger{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Open creates both stores from file paths and wires them together.
func Open(dbPath, journalPath string, logger *log.Logger) (*Ledger, error) {
	primary, err := NewSQLStore(dbPath)
	if err != nil {
		return nil, err
	}
	fallback, err := NewJournal(journalPath)
	if err != nil {
		_ = primary.Close()
		return nil, err
	}
	return New(primary, fallback, logger), nil
}

// Close releases the primary store.
func (l *Ledger) Close() error {
	return l.primary.Close()
}

// FindOpenTrade looks up the ACTIVE trade for the symbol in the
// primary store. The fallback is write-path only.
func (l *Ledger) FindOpenTrade(ctx context.Context, symbol string) (*models.Trade, error) {
	return l.primary.FindOpen(ctx, models.NormalizeSymbol(symbol))
}

// OpenTrade creates an ACTIVE trade the instant legs are computed;
// strategy success is decoupled from broker success. Legs are
// mandatory.
func (l *Ledger) OpenTrade(ctx context.Context, signal models.Signal, legs []models.Leg) (*models.Trade, error) {
	if len(legs) == 0 {
		return nil, ErrLegsRequired
	}
	now := l.now()
	trade := &models.Trade{
		ID:         uuid.New().String(),
		Symbol:     signal.Symbol,
		NormSymbol: models.NormalizeSymbol(signal.Symbol),
		Signal:     signal,
		Legs:       legs,
		Status:     models.StatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := l.primary.Insert(ctx, trade); err != nil {
		return trade, l.degrade(err, JournalRecord{
			Op:         opOpen,
			TradeID:    trade.ID,
			NormSymbol: trade.NormSymbol,
			Trade:      trade,
			At:         now,
		})
	}
	return trade, nil
}

// CompleteTrade marks the trade COMPLETED. Called unconditionally once
// a square-off fan-out finishes, independent of its success rate.
func (l *Ledger) CompleteTrade(ctx context.Context, tradeID string) error {
	now := l.now()
	err := l.primary.SetStatus(ctx, tradeID, models.StatusCompleted, now)
	if err == nil {
		return nil
	}
	if isNotFound(err) {
		return err
	}
	return l.degrade(err, JournalRecord{Op: opComplete, TradeID: tradeID, At: now})
}

// AttachResults appends execution results to the trade.
func (l *Ledger) AttachResults(ctx context.Context, tradeID string, results []models.ExecutionResult) error {
	if len(results) == 0 {
		return nil
	}
	now := l.now()

	existing, err := l.primary.Get(ctx, tradeID)
	if err == nil && existing == nil {
		return fmt.Errorf("%w: %s", ErrTradeNotFound, tradeID)
	}
	if err == nil {
		merged := append(existing.ExecutionResults, results...)
		if err = l.primary.SetResults(ctx, tradeID, merged, now); err == nil {
			return nil
		}
	}
	return l.degrade(err, JournalRecord{Op: opResults, TradeID: tradeID, Results: results, At: now})
}

// degrade journals the failed primary write. Both-stores failure is
// reported to the caller; the outcome is then not durably stored.
func (l *Ledger) degrade(primaryErr error, rec JournalRecord) error {
	l.logger.Printf("primary store write failed (%s %s): %v; falling back to journal",
		rec.Op, rec.TradeID, primaryErr)
	if jerr := l.fallback.Append(rec); jerr != nil {
		l.logger.Printf("journal fallback also failed for %s %s: %v", rec.Op, rec.TradeID, jerr)
		return fmt.Errorf("%w: primary: %v; journal: %v", ErrDegraded, primaryErr, jerr)
	}
	return fmt.Errorf("%w: %v (journaled)", ErrDegraded, primaryErr)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrTradeNotFound)
}
