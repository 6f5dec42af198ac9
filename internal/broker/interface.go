// Package broker defines the uniform capability interfaces the engine
// uses to talk to brokerage collaborators. Per-broker request shapes
// and credential handling live behind these interfaces in adapters;
// the orchestrator never branches on broker type.
package broker

import (
	"context"
	"fmt"

	"optionrelay/internal/models"
)

// OrderType names for PlaceLegRequest.
const (
	OrderTypeLimit    = "LIMIT"
	OrderTypeStopLoss = "SL-M"
)

// PlaceLegRequest describes one leg placement for one account.
type PlaceLegRequest struct {
	AccountID    string           `json:"account_id"`
	InstrumentID string           `json:"instrument_id"`
	Action       models.LegAction `json:"action"`
	Quantity     int              `json:"quantity"`
	OrderType    string           `json:"order_type"`
	LimitPrice   float64          `json:"limit_price,omitempty"`
	TriggerPrice float64          `json:"trigger_price,omitempty"`
	Tag          string           `json:"tag,omitempty"`
}

// Validate checks the request before it reaches an adapter.
func (r PlaceLegRequest) Validate() error {
	if r.AccountID == "" {
		return fmt.Errorf("account id is required")
	}
	if r.InstrumentID == "" {
		return fmt.Errorf("instrument id is required")
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("quantity must be > 0 (got %d)", r.Quantity)
	}
	return nil
}

// PlaceLegResponse is the broker's acknowledgement of one placement.
type PlaceLegResponse struct {
	OrderID        string  `json:"order_id"`
	FilledQuantity int     `json:"filled_quantity"`
	AvgPrice       float64 `json:"avg_price"`
}

// OrderPlacer places one leg for one account. A failed placement is an
// error for that (leg, account) pair only; there is no automatic retry.
type OrderPlacer interface {
	PlaceLeg(ctx context.Context, req PlaceLegRequest) (*PlaceLegResponse, error)
}

// MarketData exposes the two read operations the engine consumes plus
// the freshest-quote lookup used when squaring off.
type MarketData interface {
	GetExpirations(ctx context.Context, index string) ([]string, error)
	GetOptionChain(ctx context.Context, index, expiry string) (models.ChainSnapshot, error)
	GetQuote(ctx context.Context, instrumentID string) (float64, error)
}
