// Package position orchestrates the trade lifecycle: it consumes
// parsed signals, drives strike selection and ledger state, fans
// orders out across subscribed accounts and reports outcomes.
package position

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"optionrelay/internal/accounts"
	"optionrelay/internal/broker"
	"optionrelay/internal/executor"
	"optionrelay/internal/ledger"
	"optionrelay/internal/models"
	"optionrelay/internal/notify"
	"optionrelay/internal/parser"
	"optionrelay/internal/strategy"
	"optionrelay/internal/util"
)

// Duplicate-entry policies (open question upstream: the source system
// silently re-enters; kept configurable rather than hardened).
const (
	DuplicatePolicyProceed = "proceed"
	DuplicatePolicyReject  = "reject"
)

// Config holds strategy-level parameters.
type Config struct {
	// Index is the option index traded, e.g. BANKNIFTY.
	Index string
	// TargetDelta is the delta magnitude both sides aim for.
	TargetDelta float64
	// LotSize is the exchange lot for the index's options.
	LotSize int
	// TickSize rounds limit prices before submission.
	TickSize float64
	// DuplicateEntryPolicy is one of the DuplicatePolicy constants.
	DuplicateEntryPolicy string
}

// Outcome is what one processed alert produced.
type Outcome struct {
	Signal           *models.Signal           `json:"signal"`
	Trade            *models.Trade            `json:"trade,omitempty"`
	Results          []models.ExecutionResult `json:"results,omitempty"`
	SquaredOff       *models.Trade            `json:"squared_off,omitempty"`
	SquareOffResults []models.ExecutionResult `json:"square_off_results,omitempty"`
}

// Manager is the engine's orchestrator. All trade mutations go through
// it; everything else only reads.
type Manager struct {
	ledger   ledger.Interface
	market   broker.MarketData
	executor *executor.Executor
	accounts accounts.Provider
	sink     notify.Sink
	logger   *log.Logger
	config   Config
	locks    *symbolLocks
}

// NewManager wires the orchestrator. sink may be nil.
func NewManager(
	l ledger.Interface,
	market broker.MarketData,
	exec *executor.Executor,
	provider accounts.Provider,
	sink notify.Sink,
	logger *log.Logger,
	config Config,
) *Manager {
	if l == nil {
		panic("position.NewManager: ledger must not be nil")
	}
	if market == nil {
		panic("position.NewManager: market data must not be nil")
	}
	if exec == nil {
		panic("position.NewManager: executor must not be nil")
	}
	if provider == nil {
		panic("position.NewManager: accounts provider must not be nil")
	}
	if sink == nil {
		sink = notify.NoopSink{}
	}
	if logger == nil {
		logger = log.New(os.Stderr, "position: ", log.LstdFlags)
	}
	if config.DuplicateEntryPolicy == "" {
		config.DuplicateEntryPolicy = DuplicatePolicyProceed
	}
	if config.TickSize <= 0 {
		config.TickSize = 0.05
	}
	return &Manager{
		ledger:   l,
		market:   market,
		executor: exec,
		accounts: provider,
		sink:     sink,
		logger:   logger,
		config:   config,
		locks:    newSymbolLocks(),
	}
}

// HandleAlert parses and processes one raw alert end to end. Signals
// for the same normalized symbol are processed serially.
func (m *Manager) HandleAlert(ctx context.Context, text string) (*Outcome, error) {
	sig, ok := parser.Parse(text)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrParse, truncate(text, 120))
	}
	return m.HandleSignal(ctx, sig)
}

// HandleSignal processes an already-parsed signal.
func (m *Manager) HandleSignal(ctx context.Context, sig *models.Signal) (*Outcome, error) {
	if err := sig.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	norm := models.NormalizeSymbol(sig.Symbol)
	unlock := m.locks.acquire(norm)
	defer unlock()

	if sig.IsEntry() {
		return m.handleEntry(ctx, sig)
	}
	return m.handleExit(ctx, sig)
}

func (m *Manager) handleEntry(ctx context.Context, sig *models.Signal) (*Outcome, error) {
	out := &Outcome{Signal: sig}

	existing, err := m.ledger.FindOpenTrade(ctx, sig.Symbol)
	if err != nil {
		m.logger.Printf("open-trade lookup failed for %s: %v; proceeding as if none open", sig.Symbol, err)
	}

	if existing != nil {
		if existing.Signal.Direction == sig.Direction {
			if m.config.DuplicateEntryPolicy == DuplicatePolicyReject {
				return nil, fmt.Errorf("%w: %s already has active %s trade %s",
					ErrDuplicateEntry, sig.Symbol, sig.Direction, existing.ID)
			}
			m.logger.Printf("same-direction entry for %s while trade %s active; proceeding per policy",
				sig.Symbol, existing.ID)
		} else {
			m.logger.Printf("opposite entry for %s; squaring off trade %s first", sig.Symbol, existing.ID)
			out.SquaredOff = existing
			out.SquareOffResults = m.squareOff(ctx, existing)
		}
	}

	legs, err := m.buildEntryLegs(ctx, sig)
	if err != nil {
		return nil, err
	}

	trade, err := m.ledger.OpenTrade(ctx, *sig, legs)
	if err != nil {
		if trade == nil {
			return nil, fmt.Errorf("opening trade for %s: %w", sig.Symbol, err)
		}
		// Degraded persistence never fails the operation.
		m.logger.Printf("trade %s opened with degraded persistence: %v", trade.ID, err)
	}
	out.Trade = trade

	batches := m.entryBatches()
	results := m.executor.ExecuteWithProtection(ctx, legs, batches)
	out.Results = results

	if err := m.ledger.AttachResults(ctx, trade.ID, results); err != nil {
		m.logger.Printf("attaching entry results to trade %s failed: %v", trade.ID, err)
	}
	trade.ExecutionResults = append(trade.ExecutionResults, results...)

	m.sink.Notify(sig, legs, results)
	return out, nil
}

func (m *Manager) handleExit(ctx context.Context, sig *models.Signal) (*Outcome, error) {
	existing, err := m.ledger.FindOpenTrade(ctx, sig.Symbol)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup failed: %v", ErrNoActiveTrade, err)
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoActiveTrade, sig.Symbol)
	}

	out := &Outcome{Signal: sig, SquaredOff: existing}
	out.SquareOffResults = m.squareOff(ctx, existing)
	m.sink.Notify(sig, nil, out.SquareOffResults)
	return out, nil
}

// buildEntryLegs runs the strategy pipeline: nearest expiry, chain
// snapshot, delta-targeted strikes, tick-rounded limit prices. Any
// failure here aborts the signal before a trade exists.
func (m *Manager) buildEntryLegs(ctx context.Context, sig *models.Signal) ([]models.Leg, error) {
	index := m.config.Index
	if index == "" {
		index = models.NormalizeSymbol(sig.Symbol)
	}

	expiries, err := m.market.GetExpirations(ctx, index)
	if err != nil {
		return nil, fmt.Errorf("%w: listing expiries for %s: %v", ErrStrategyCalculation, index, err)
	}
	if len(expiries) == 0 {
		return nil, fmt.Errorf("%w: no expiries available for %s", ErrStrategyCalculation, index)
	}
	expiry := expiries[0]

	chain, err := m.market.GetOptionChain(ctx, index, expiry)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching chain for %s %s: %v", ErrStrategyCalculation, index, expiry, err)
	}

	pair, err := strategy.SelectStrikes(chain, m.config.TargetDelta)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStrategyCalculation, err)
	}

	legs := strategy.BuildLegs(pair, sig.Direction, expiry)
	for i := range legs {
		legs[i].LimitPrice = util.RoundToTick(legs[i].LimitPrice, m.config.TickSize)
	}
	m.logger.Printf("selected %s legs: CE %.0f (d=%.2f) / PE %.0f (d=%.2f), expiry %s",
		sig.Direction, pair.CE.Strike, pair.CE.Delta, pair.PE.Strike, pair.PE.Delta, expiry)
	return legs, nil
}

// entryBatches sizes every subscribed account at lot size x multiplier.
func (m *Manager) entryBatches() []executor.AccountBatch {
	subs := m.accounts.Subscribed()
	batches := make([]executor.AccountBatch, 0, len(subs))
	for _, acct := range subs {
		qty := m.config.LotSize * acct.LotMultiplier
		if qty <= 0 {
			m.logger.Printf("skipping account %s: unusable lot multiplier %d", acct.AccountID, acct.LotMultiplier)
			continue
		}
		batches = append(batches, executor.AccountBatch{
			Account:    acct,
			Quantities: []int{qty, qty},
		})
	}
	return batches
}

// squareOff reverses the trade's legs across all accounts and marks
// the trade completed unconditionally once the fan-out attempt has
// finished, whatever its per-account success rate.
func (m *Manager) squareOff(ctx context.Context, trade *models.Trade) []models.ExecutionResult {
	reversed := make([]models.Leg, len(trade.Legs))
	for i, leg := range trade.Legs {
		price := leg.LimitPrice
		if quote, err := m.market.GetQuote(ctx, leg.InstrumentID); err == nil && quote > 0 {
			price = quote
		} else if err != nil {
			m.logger.Printf("no fresh quote for %s, using recorded price %.2f: %v",
				leg.InstrumentID, leg.LimitPrice, err)
		}
		reversed[i] = leg.Reversed(util.RoundToTick(price, m.config.TickSize))
	}

	batches := m.squareOffBatches(trade)
	results := m.executor.Execute(ctx, reversed, batches)

	if err := m.ledger.AttachResults(ctx, trade.ID, results); err != nil {
		m.logger.Printf("attaching square-off results to trade %s failed: %v", trade.ID, err)
	}
	if err := m.ledger.CompleteTrade(ctx, trade.ID); err != nil {
		m.logger.Printf("completing trade %s failed: %v", trade.ID, err)
	}
	m.logger.Printf("trade %s squared off (%d attempts)", trade.ID, len(results))
	return results
}

// squareOffBatches resolves per-account quantities through the
// fallback chain: executed quantity from the original trade, then
// configured lot size x multiplier, then skip the account.
func (m *Manager) squareOffBatches(trade *models.Trade) []executor.AccountBatch {
	subs := m.accounts.Subscribed()
	batches := make([]executor.AccountBatch, 0, len(subs))

	for _, acct := range subs {
		quantities := make([]int, len(trade.Legs))
		resolved := true
		for li := range trade.Legs {
			if qty, ok := trade.ExecutedQuantity(acct.AccountID, li); ok {
				quantities[li] = qty
				continue
			}
			if qty := m.config.LotSize * acct.LotMultiplier; qty > 0 {
				quantities[li] = qty
				continue
			}
			resolved = false
			break
		}
		if !resolved {
			m.logger.Printf("skipping square-off for account %s on trade %s: no resolvable quantity",
				acct.AccountID, trade.ID)
			continue
		}
		batches = append(batches, executor.AccountBatch{Account: acct, Quantities: quantities})
	}
	return batches
}

// IsRequestError reports whether err belongs to the taxonomy that
// fails the whole alert (as opposed to per-attempt broker failures).
func IsRequestError(err error) bool {
	return errors.Is(err, ErrParse) ||
		errors.Is(err, ErrNoActiveTrade) ||
		errors.Is(err, ErrStrategyCalculation) ||
		errors.Is(err, ErrDuplicateEntry)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
