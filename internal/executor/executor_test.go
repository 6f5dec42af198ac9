package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionrelay/internal/broker"
	"optionrelay/internal/models"
	"optionrelay/internal/scheduler"
)

// countingPlacer fails every nth attempt (1-based); failEvery=0 never
// fails, failEvery=1 always fails.
type countingPlacer struct {
	mu        sync.Mutex
	attempts  []broker.PlaceLegRequest
	failEvery int
}

var _ broker.OrderPlacer = (*countingPlacer)(nil)

func (p *countingPlacer) PlaceLeg(ctx context.Context, req broker.PlaceLegRequest) (*broker.PlaceLegResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts = append(p.attempts, req)
	n := len(p.attempts)
	if p.failEvery > 0 && n%p.failEvery == 0 {
		return nil, fmt.Errorf("simulated broker failure on attempt %d", n)
	}
	return &broker.PlaceLegResponse{
		OrderID:        fmt.Sprintf("ORD-%d", n),
		FilledQuantity: req.Quantity,
		AvgPrice:       req.LimitPrice,
	}, nil
}

func twoLegs() []models.Leg {
	return []models.Leg{
		{OptionType: models.OptionTypeCE, Action: models.ActionBuy, Strike: 51600,
			LimitPrice: 210.5, InstrumentID: "CE51600", Expiry: "2026-09-03"},
		{OptionType: models.OptionTypePE, Action: models.ActionSell, Strike: 51500,
			LimitPrice: 198.4, InstrumentID: "PE51500", Expiry: "2026-09-03"},
	}
}

func batchesFor(n int) []AccountBatch {
	out := make([]AccountBatch, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, AccountBatch{
			Account:    models.SubscribedAccount{AccountID: fmt.Sprintf("acc-%d", i), LotMultiplier: 1},
			Quantities: []int{30, 30},
		})
	}
	return out
}

func fastConfig() Config {
	return Config{
		InterRequestDelay: 0,
		AttemptTimeout:    time.Second,
	}
}

func TestExecuteCountInvariantAcrossFailureRates(t *testing.T) {
	tests := []struct {
		name      string
		failEvery int
		wantFails int
	}{
		{"all succeed", 0, 0},
		{"half fail", 2, 3},
		{"all fail", 1, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			placer := &countingPlacer{failEvery: tt.failEvery}
			e := New(placer, nil, nil, fastConfig())

			results := e.Execute(context.Background(), twoLegs(), batchesFor(3))
			require.Len(t, results, 6, "2 legs x 3 accounts must always yield 6 results")

			fails := 0
			for _, r := range results {
				if !r.Success {
					fails++
					assert.NotEmpty(t, r.Error, "failed attempts carry an error payload")
				} else {
					assert.NotEmpty(t, r.OrderID)
				}
			}
			assert.Equal(t, tt.wantFails, fails)
		})
	}
}

func TestExecuteResultOrderingAndPayload(t *testing.T) {
	placer := &countingPlacer{}
	e := New(placer, nil, nil, fastConfig())

	results := e.Execute(context.Background(), twoLegs(), batchesFor(2))
	require.Len(t, results, 4)

	assert.Equal(t, "acc-0", results[0].AccountID)
	assert.Equal(t, 0, results[0].LegIndex)
	assert.Equal(t, models.OptionTypeCE, results[0].OptionType)
	assert.Equal(t, models.ActionBuy, results[0].Action)
	assert.Equal(t, 30, results[0].Quantity)
	assert.Equal(t, 210.5, results[0].Price)

	assert.Equal(t, "acc-0", results[1].AccountID)
	assert.Equal(t, 1, results[1].LegIndex)
	assert.Equal(t, "acc-1", results[2].AccountID)
}

func TestExecutePerAccountAttemptsAreOrdered(t *testing.T) {
	placer := &countingPlacer{}
	e := New(placer, nil, nil, fastConfig())

	e.Execute(context.Background(), twoLegs(), batchesFor(3))

	// For each account the CE attempt must precede the PE attempt.
	seen := map[string]int{}
	for _, req := range placer.attempts {
		switch req.InstrumentID {
		case "CE51600":
			assert.Equal(t, 0, seen[req.AccountID], "CE must be first for %s", req.AccountID)
		case "PE51500":
			assert.Equal(t, 1, seen[req.AccountID], "PE must be second for %s", req.AccountID)
		}
		seen[req.AccountID]++
	}
}

func TestExecuteParallelAccountsKeepsInvariant(t *testing.T) {
	placer := &countingPlacer{failEvery: 2}
	cfg := fastConfig()
	cfg.ParallelAccounts = true
	e := New(placer, nil, nil, cfg)

	results := e.Execute(context.Background(), twoLegs(), batchesFor(5))
	require.Len(t, results, 10)
	for i, r := range results {
		wantAccount := fmt.Sprintf("acc-%d", i/2)
		assert.Equal(t, wantAccount, r.AccountID, "results stay in (account, leg) order")
		assert.Equal(t, i%2, r.LegIndex)
	}
}

func TestExecuteCancelledContextStillYieldsResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	placer := &countingPlacer{}
	e := New(placer, nil, nil, fastConfig())

	results := e.Execute(ctx, twoLegs(), batchesFor(2))
	require.Len(t, results, 4)
	for _, r := range results {
		assert.False(t, r.Success)
		assert.NotEmpty(t, r.Error)
	}
}

func TestExecuteWithProtectionSchedulesStopForShortLegs(t *testing.T) {
	placer := &countingPlacer{}
	sched := scheduler.New(nil)
	defer sched.Stop()

	cfg := fastConfig()
	cfg.StopLossDelay = 5 * time.Millisecond
	cfg.StopLossBufferPct = 0.3
	cfg.TickSize = 0.05
	e := New(placer, sched, nil, cfg)

	results := e.ExecuteWithProtection(context.Background(), twoLegs(), batchesFor(1))
	require.Len(t, results, 2)

	// Only the SELL leg (PE) gets a protective stop.
	require.Eventually(t, func() bool {
		placer.mu.Lock()
		defer placer.mu.Unlock()
		return len(placer.attempts) == 3
	}, 2*time.Second, 5*time.Millisecond)

	placer.mu.Lock()
	sl := placer.attempts[2]
	placer.mu.Unlock()
	assert.Equal(t, broker.OrderTypeStopLoss, sl.OrderType)
	assert.Equal(t, models.ActionBuy, sl.Action, "protective stop reverses the short leg")
	assert.Equal(t, "PE51500", sl.InstrumentID)
	assert.Equal(t, 30, sl.Quantity)
	// 198.4 * 1.3 = 257.92 -> nearest 0.05 tick is 257.90.
	assert.InDelta(t, 257.90, sl.TriggerPrice, 1e-9)
}

func TestExecuteWithProtectionSkipsFailedLegs(t *testing.T) {
	placer := &countingPlacer{failEvery: 1}
	sched := scheduler.New(nil)
	defer sched.Stop()

	cfg := fastConfig()
	cfg.StopLossDelay = time.Millisecond
	e := New(placer, sched, nil, cfg)

	e.ExecuteWithProtection(context.Background(), twoLegs(), batchesFor(1))
	time.Sleep(50 * time.Millisecond)

	placer.mu.Lock()
	defer placer.mu.Unlock()
	assert.Len(t, placer.attempts, 2, "no protective stop after failed placements")
}
