package models

import (
	"fmt"
	"strings"
	"time"
)

// OptionType represents the contract type of a leg.
type OptionType string

const (
	// OptionTypeCE is a call option contract.
	OptionTypeCE OptionType = "CE"
	// OptionTypePE is a put option contract.
	OptionTypePE OptionType = "PE"
)

// LegAction is the order side for a leg.
type LegAction string

const (
	// ActionBuy buys the contract.
	ActionBuy LegAction = "BUY"
	// ActionSell sells the contract.
	ActionSell LegAction = "SELL"
)

// Opposite returns the reversed action (BUY <-> SELL).
func (a LegAction) Opposite() LegAction {
	if a == ActionBuy {
		return ActionSell
	}
	return ActionBuy
}

// Leg is one side of a two-sided option position. Legs are always
// produced in CE/PE pairs by the strike selector.
type Leg struct {
	OptionType   OptionType `json:"option_type"`
	Action       LegAction  `json:"action"`
	Strike       float64    `json:"strike"`
	Delta        float64    `json:"delta"`
	LimitPrice   float64    `json:"limit_price"`
	InstrumentID string     `json:"instrument_id"`
	Expiry       string     `json:"expiry"`
}

// Reversed returns a copy of the leg with the action flipped,
// optionally repriced. A zero price keeps the recorded limit price.
func (l Leg) Reversed(price float64) Leg {
	r := l
	r.Action = l.Action.Opposite()
	if price > 0 {
		r.LimitPrice = price
	}
	return r
}

// TradeStatus is the lifecycle state of a Trade.
type TradeStatus string

const (
	// StatusPending is reserved for trades awaiting leg computation.
	StatusPending TradeStatus = "PENDING"
	// StatusActive is the open state; set at creation regardless of
	// downstream broker outcome.
	StatusActive TradeStatus = "ACTIVE"
	// StatusCompleted is reached only through an explicit square-off
	// attempt, independent of that attempt's per-account success rate.
	StatusCompleted TradeStatus = "COMPLETED"
	// StatusFailed marks trades abandoned by an operator.
	StatusFailed TradeStatus = "FAILED"
	// StatusCancelled marks trades cancelled by an operator.
	StatusCancelled TradeStatus = "CANCELLED"
)

// Valid returns true if the status is one of the defined constants.
func (s TradeStatus) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ExecutionResult records one (leg, account) placement attempt. One
// instance is produced per attempt even on failure; results are never
// dropped.
type ExecutionResult struct {
	AccountID  string     `json:"account_id"`
	LegIndex   int        `json:"leg_index"`
	OptionType OptionType `json:"option_type"`
	Action     LegAction  `json:"action"`
	Success    bool       `json:"success"`
	Quantity   int        `json:"quantity,omitempty"`
	Price      float64    `json:"price,omitempty"`
	OrderID    string     `json:"order_id,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Trade is the aggregate for a symbol's current open option position.
// It is created when legs are computed, mutated only by the position
// manager, and never deleted - only superseded.
type Trade struct {
	ID               string            `json:"id"`
	Symbol           string            `json:"symbol"`
	NormSymbol       string            `json:"norm_symbol"`
	Signal           Signal            `json:"signal"`
	Legs             []Leg             `json:"legs"`
	ExecutionResults []ExecutionResult `json:"execution_results,omitempty"`
	Status           TradeStatus       `json:"status"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// IsActive returns true while the trade holds the symbol's open position.
func (t *Trade) IsActive() bool { return t.Status == StatusActive }

// ExecutedQuantity returns the quantity actually placed for the given
// account and leg in this trade's execution results, or false when no
// successful attempt was recorded.
func (t *Trade) ExecutedQuantity(accountID string, legIndex int) (int, bool) {
	for _, r := range t.ExecutionResults {
		if r.AccountID == accountID && r.LegIndex == legIndex && r.Success && r.Quantity > 0 {
			return r.Quantity, true
		}
	}
	return 0, false
}

// Validate checks aggregate invariants.
func (t *Trade) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("trade ID is required")
	}
	if !t.Status.Valid() {
		return fmt.Errorf("trade %s: invalid status %q", t.ID, t.Status)
	}
	if len(t.Legs) == 0 {
		return fmt.Errorf("trade %s: legs are mandatory", t.ID)
	}
	if t.NormSymbol != NormalizeSymbol(t.Symbol) {
		return fmt.Errorf("trade %s: norm_symbol %q does not match symbol %q", t.ID, t.NormSymbol, t.Symbol)
	}
	return nil
}

// SubscribedAccount is a brokerage account enrolled for order fan-out.
// Supplied by the subscription collaborator; read-only to the engine.
type SubscribedAccount struct {
	AccountID      string `json:"account_id" yaml:"id"`
	DisplayName    string `json:"display_name" yaml:"name"`
	LotMultiplier  int    `json:"lot_multiplier" yaml:"lot_multiplier"`
	CredentialsRef string `json:"credentials_ref" yaml:"credentials_ref"`
}

// continuousMarker is the TradingView continuous-contract suffix
// ("BANKNIFTY1!" quotes the front-month future).
const continuousMarker = "1!"

// NormalizeSymbol maps alert symbols onto the ledger key: trimmed,
// upper-cased, with a trailing continuous-contract marker stripped.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.TrimSuffix(s, continuousMarker)
	return s
}
