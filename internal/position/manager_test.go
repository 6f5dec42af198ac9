package position

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionrelay/internal/accounts"
	"optionrelay/internal/broker"
	"optionrelay/internal/executor"
	"optionrelay/internal/ledger"
	"optionrelay/internal/models"
	"optionrelay/internal/notify"
)

const (
	entryBuyAlert  = "BANKNIFTY | BEAR TRAP | ENTRY AT 51590.5 | SL: 51550.5 | TARGET: 51650.5"
	entrySellAlert = "BANKNIFTY | BULL TRAP | ENTRY AT 51590.5 | SL: 51650.5 | TARGET: 51450.5"
	exitAlert      = "BB TRAP LONG EXIT (SL HIT) BANKNIFTY AT 51550.5"
)

func testChain() models.ChainSnapshot {
	return models.ChainSnapshot{
		51400: {
			CE: &models.OptionQuote{Delta: 0.62, Ask: 250.0, InstrumentID: "CE51400"},
			PE: &models.OptionQuote{Delta: -0.45, Ask: 180.0, InstrumentID: "PE51400"},
		},
		51500: {
			CE: &models.OptionQuote{Delta: 0.48, Ask: 210.5, InstrumentID: "CE51500"},
			PE: &models.OptionQuote{Delta: -0.55, Ask: 198.4, InstrumentID: "PE51500"},
		},
		51600: {
			CE: &models.OptionQuote{Delta: 0.35, Ask: 160.0, InstrumentID: "CE51600"},
			PE: &models.OptionQuote{Delta: -0.70, Ask: 260.0, InstrumentID: "PE51600"},
		},
	}
}

func twoAccounts() []models.SubscribedAccount {
	return []models.SubscribedAccount{
		{AccountID: "acc-1", DisplayName: "Primary", LotMultiplier: 1},
		{AccountID: "acc-2", DisplayName: "Double", LotMultiplier: 2},
	}
}

type rig struct {
	manager *Manager
	paper   *broker.PaperBroker
	ledger  *ledger.Ledger
}

func newRig(t *testing.T, accts []models.SubscribedAccount, cfg Config) *rig {
	t.Helper()

	dir := t.TempDir()
	led, err := ledger.Open(filepath.Join(dir, "trades.db"), filepath.Join(dir, "journal.jsonl"), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })

	paper := broker.NewPaperBroker([]string{"2026-09-03", "2026-09-10"}, testChain(), nil)
	exec := executor.New(paper, nil, quietLogger(), executor.Config{
		InterRequestDelay: 0,
		AttemptTimeout:    executor.DefaultConfig.AttemptTimeout,
	})

	mgr := NewManager(led, paper, exec, accounts.NewStaticProvider(accts), notify.NoopSink{}, quietLogger(), cfg)
	return &rig{manager: mgr, paper: paper, ledger: led}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func defaultCfg() Config {
	return Config{Index: "BANKNIFTY", TargetDelta: 0.50, LotSize: 15, TickSize: 0.05}
}

func TestEntryFansOutToAllAccounts(t *testing.T) {
	r := newRig(t, twoAccounts(), defaultCfg())
	ctx := context.Background()

	out, err := r.manager.HandleAlert(ctx, entryBuyAlert)
	require.NoError(t, err)
	require.NotNil(t, out.Trade)
	assert.Equal(t, models.StatusActive, out.Trade.Status)
	assert.Nil(t, out.SquaredOff)

	require.Len(t, out.Results, 4, "2 legs x 2 accounts")
	for _, res := range out.Results {
		assert.True(t, res.Success)
	}

	orders := r.paper.Orders()
	require.Len(t, orders, 4)
	// acc-1 first, legs in order: BUY CE then SELL PE, delta-selected strikes.
	assert.Equal(t, "acc-1", orders[0].AccountID)
	assert.Equal(t, "CE51500", orders[0].InstrumentID)
	assert.Equal(t, models.ActionBuy, orders[0].Action)
	assert.Equal(t, 15, orders[0].Quantity)
	assert.Equal(t, "PE51400", orders[1].InstrumentID)
	assert.Equal(t, models.ActionSell, orders[1].Action)
	assert.Equal(t, 30, orders[2].Quantity, "acc-2 sizes at lot x multiplier")

	open, err := r.ledger.FindOpenTrade(ctx, "BANKNIFTY")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, out.Trade.ID, open.ID)
	assert.Len(t, open.ExecutionResults, 4)
}

func TestSameDirectionEntryProceedsWithoutSquareOff(t *testing.T) {
	r := newRig(t, twoAccounts(), defaultCfg())
	ctx := context.Background()

	first, err := r.manager.HandleAlert(ctx, entryBuyAlert)
	require.NoError(t, err)

	second, err := r.manager.HandleAlert(ctx, entryBuyAlert)
	require.NoError(t, err)
	assert.Nil(t, second.SquaredOff, "same direction never squares off")
	assert.NotEqual(t, first.Trade.ID, second.Trade.ID)

	open, err := r.ledger.FindOpenTrade(ctx, "BANKNIFTY")
	require.NoError(t, err)
	assert.Equal(t, second.Trade.ID, open.ID, "most recent trade wins the lookup")
}

func TestSameDirectionEntryRejectedUnderRejectPolicy(t *testing.T) {
	cfg := defaultCfg()
	cfg.DuplicateEntryPolicy = DuplicatePolicyReject
	r := newRig(t, twoAccounts(), cfg)
	ctx := context.Background()

	_, err := r.manager.HandleAlert(ctx, entryBuyAlert)
	require.NoError(t, err)

	ordersBefore := len(r.paper.Orders())
	_, err = r.manager.HandleAlert(ctx, entryBuyAlert)
	require.ErrorIs(t, err, ErrDuplicateEntry)
	assert.Len(t, r.paper.Orders(), ordersBefore, "rejection places nothing")
}

func TestOppositeEntrySquaresOffThenEnters(t *testing.T) {
	r := newRig(t, twoAccounts(), defaultCfg())
	ctx := context.Background()

	first, err := r.manager.HandleAlert(ctx, entryBuyAlert)
	require.NoError(t, err)

	out, err := r.manager.HandleAlert(ctx, entrySellAlert)
	require.NoError(t, err)
	require.NotNil(t, out.SquaredOff)
	assert.Equal(t, first.Trade.ID, out.SquaredOff.ID)
	assert.Len(t, out.SquareOffResults, 4)
	require.NotNil(t, out.Trade)
	assert.Equal(t, models.DirectionSell, out.Trade.Signal.Direction)

	// 4 entry + 4 square-off + 4 fresh entry.
	orders := r.paper.Orders()
	require.Len(t, orders, 12)
	// Square-off reverses the original legs: BUY CE becomes SELL CE.
	assert.Equal(t, "CE51500", orders[4].InstrumentID)
	assert.Equal(t, models.ActionSell, orders[4].Action)
	assert.Equal(t, models.ActionBuy, orders[5].Action)

	open, err := r.ledger.FindOpenTrade(ctx, "BANKNIFTY")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, out.Trade.ID, open.ID, "only the fresh trade stays open")
}

func TestExitSquaresOffActiveTrade(t *testing.T) {
	r := newRig(t, twoAccounts(), defaultCfg())
	ctx := context.Background()

	entry, err := r.manager.HandleAlert(ctx, entryBuyAlert)
	require.NoError(t, err)

	out, err := r.manager.HandleAlert(ctx, exitAlert)
	require.NoError(t, err)
	require.NotNil(t, out.SquaredOff)
	assert.Equal(t, entry.Trade.ID, out.SquaredOff.ID)
	assert.Len(t, out.SquareOffResults, 4)
	assert.Nil(t, out.Trade)

	open, err := r.ledger.FindOpenTrade(ctx, "BANKNIFTY")
	require.NoError(t, err)
	assert.Nil(t, open, "completed trade no longer matches open lookup")
}

func TestExitWithoutActiveTradeFails(t *testing.T) {
	r := newRig(t, twoAccounts(), defaultCfg())

	_, err := r.manager.HandleAlert(context.Background(), exitAlert)
	require.ErrorIs(t, err, ErrNoActiveTrade)
	assert.Empty(t, r.paper.Orders())
}

func TestSquareOffUsesFreshQuoteWhenAvailable(t *testing.T) {
	r := newRig(t, twoAccounts(), defaultCfg())
	ctx := context.Background()

	_, err := r.manager.HandleAlert(ctx, entryBuyAlert)
	require.NoError(t, err)

	r.paper.SetQuote("CE51500", 220.02)
	_, err = r.manager.HandleAlert(ctx, exitAlert)
	require.NoError(t, err)

	orders := r.paper.Orders()
	ceExit := orders[4]
	require.Equal(t, "CE51500", ceExit.InstrumentID)
	assert.InDelta(t, 220.00, ceExit.LimitPrice, 1e-9, "fresh quote rounded to tick")

	peExit := orders[5]
	require.Equal(t, "PE51400", peExit.InstrumentID)
	assert.InDelta(t, 180.0, peExit.LimitPrice, 1e-9, "no quote falls back to recorded price")
}

func TestSquareOffQuantityFallbackChain(t *testing.T) {
	r := newRig(t, twoAccounts(), defaultCfg())
	ctx := context.Background()

	// acc-2's entry fails entirely, leaving it without executed quantities.
	r.paper.FailAccounts["acc-2"] = true
	out, err := r.manager.HandleAlert(ctx, entryBuyAlert)
	require.NoError(t, err)
	require.Len(t, out.Results, 4)
	assert.False(t, out.Results[2].Success)
	assert.False(t, out.Results[3].Success)

	r.paper.FailAccounts["acc-2"] = false
	exit, err := r.manager.HandleAlert(ctx, exitAlert)
	require.NoError(t, err)
	require.Len(t, exit.SquareOffResults, 4)

	// acc-1 unwinds the executed quantity; acc-2 falls back to
	// lot size x multiplier since nothing was recorded for it.
	orders := r.paper.Orders()
	squareOff := orders[len(orders)-4:]
	assert.Equal(t, 15, squareOff[0].Quantity)
	assert.Equal(t, 15, squareOff[1].Quantity)
	assert.Equal(t, 30, squareOff[2].Quantity)
	assert.Equal(t, 30, squareOff[3].Quantity)
}

func TestSquareOffSkipsAccountWithNoResolvableQuantity(t *testing.T) {
	accts := append(twoAccounts(), models.SubscribedAccount{AccountID: "acc-dud", LotMultiplier: 0})
	r := newRig(t, accts, defaultCfg())
	ctx := context.Background()

	_, err := r.manager.HandleAlert(ctx, entryBuyAlert)
	require.NoError(t, err)

	out, err := r.manager.HandleAlert(ctx, exitAlert)
	require.NoError(t, err)
	assert.Len(t, out.SquareOffResults, 4, "dud account is skipped, not failed")
	for _, req := range r.paper.Orders() {
		assert.NotEqual(t, "acc-dud", req.AccountID)
	}
}

func TestStrategyFailureAbortsBeforeAnyTrade(t *testing.T) {
	dir := t.TempDir()
	led, err := ledger.Open(filepath.Join(dir, "trades.db"), filepath.Join(dir, "journal.jsonl"), quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })

	// No chain data: strike selection cannot run.
	paper := broker.NewPaperBroker([]string{"2026-09-03"}, nil, nil)
	exec := executor.New(paper, nil, quietLogger(), executor.Config{})
	mgr := NewManager(led, paper, exec, accounts.NewStaticProvider(twoAccounts()), nil, quietLogger(), defaultCfg())

	_, err = mgr.HandleAlert(context.Background(), entryBuyAlert)
	require.ErrorIs(t, err, ErrStrategyCalculation)

	open, err := led.FindOpenTrade(context.Background(), "BANKNIFTY")
	require.NoError(t, err)
	assert.Nil(t, open, "nothing persisted when strategy fails")
	assert.Empty(t, paper.Orders())
}

func TestUnparseableAlertFails(t *testing.T) {
	r := newRig(t, twoAccounts(), defaultCfg())

	_, err := r.manager.HandleAlert(context.Background(), "hello from tradingview")
	require.ErrorIs(t, err, ErrParse)
	assert.True(t, IsRequestError(err))
}

func TestBrokerFailuresAreDataNotErrors(t *testing.T) {
	r := newRig(t, twoAccounts(), defaultCfg())
	r.paper.FailAll = true

	out, err := r.manager.HandleAlert(context.Background(), entryBuyAlert)
	require.NoError(t, err, "total broker failure still reports success with results")
	require.NotNil(t, out.Trade)
	require.Len(t, out.Results, 4)
	for _, res := range out.Results {
		assert.False(t, res.Success)
		assert.NotEmpty(t, res.Error)
	}

	open, lerr := r.ledger.FindOpenTrade(context.Background(), "BANKNIFTY")
	require.NoError(t, lerr)
	require.NotNil(t, open, "trade stays ACTIVE regardless of broker outcome")
}
