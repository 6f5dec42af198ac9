package broker

import (
	"context"
	"fmt"
	"sync"

	"optionrelay/internal/models"
)

// PaperBroker is the in-memory adapter used in paper mode and in
// tests. It records every placement and serves market data from a
// static chain, with optional per-account failure injection.
type PaperBroker struct {
	mu          sync.Mutex
	orders      []PlaceLegRequest
	nextOrderID int

	expirations []string
	chain       models.ChainSnapshot
	quotes      map[string]float64

	// FailAccounts rejects every placement for the listed accounts.
	FailAccounts map[string]bool
	// FailAll rejects every placement.
	FailAll bool
}

// Ensure PaperBroker satisfies both capabilities.
var (
	_ OrderPlacer = (*PaperBroker)(nil)
	_ MarketData  = (*PaperBroker)(nil)
)

// NewPaperBroker builds a paper adapter over the given market data.
func NewPaperBroker(expirations []string, chain models.ChainSnapshot, quotes map[string]float64) *PaperBroker {
	if quotes == nil {
		quotes = make(map[string]float64)
	}
	return &PaperBroker{
		expirations:  expirations,
		chain:        chain,
		quotes:       quotes,
		FailAccounts: make(map[string]bool),
	}
}

// PlaceLeg records the order and acknowledges it at the limit price.
func (p *PaperBroker) PlaceLeg(ctx context.Context, req PlaceLegRequest) (*PlaceLegResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailAll || p.FailAccounts[req.AccountID] {
		return nil, fmt.Errorf("paper broker: simulated rejection for account %s", req.AccountID)
	}

	p.nextOrderID++
	p.orders = append(p.orders, req)
	return &PlaceLegResponse{
		OrderID:        fmt.Sprintf("PAPER-%d", p.nextOrderID),
		FilledQuantity: req.Quantity,
		AvgPrice:       req.LimitPrice,
	}, nil
}

// Orders returns a copy of everything placed so far.
func (p *PaperBroker) Orders() []PlaceLegRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PlaceLegRequest, len(p.orders))
	copy(out, p.orders)
	return out
}

// GetExpirations lists the configured expiries for any index.
func (p *PaperBroker) GetExpirations(ctx context.Context, index string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.expirations) == 0 {
		return nil, fmt.Errorf("paper broker: no expirations configured for %s", index)
	}
	return p.expirations, nil
}

// GetOptionChain returns the static chain snapshot.
func (p *PaperBroker) GetOptionChain(ctx context.Context, index, expiry string) (models.ChainSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.chain) == 0 {
		return nil, fmt.Errorf("paper broker: no chain data for %s %s", index, expiry)
	}
	return p.chain, nil
}

// GetQuote returns the configured last price for the instrument.
func (p *PaperBroker) GetQuote(ctx context.Context, instrumentID string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.quotes[instrumentID]
	if !ok {
		return 0, fmt.Errorf("paper broker: no quote for %s", instrumentID)
	}
	return q, nil
}

// SetQuote updates the paper quote for an instrument.
func (p *PaperBroker) SetQuote(instrumentID string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.quotes[instrumentID] = price
}
