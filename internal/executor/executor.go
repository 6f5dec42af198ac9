// Package executor fans one set of option legs out across many
// subscribed accounts with per-attempt isolation.
package executor

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"optionrelay/internal/broker"
	"optionrelay/internal/models"
	"optionrelay/internal/scheduler"
	"optionrelay/internal/util"
)

// Config contains executor tuning knobs.
type Config struct {
	// InterRequestDelay is the minimum gap between consecutive
	// placements for the same account. Deliberately trades latency
	// for broker-side rate-limit compliance.
	InterRequestDelay time.Duration
	// AttemptTimeout bounds each broker call. Clamped to MaxAttemptTimeout.
	AttemptTimeout time.Duration
	// ParallelAccounts runs one worker per account. Per-account
	// ordering and pacing are preserved either way; the default is
	// sequential for determinism.
	ParallelAccounts bool
	// StopLossDelay is how long after a successful short leg the
	// deferred protective stop is submitted. Zero disables it.
	StopLossDelay time.Duration
	// StopLossBufferPct is the adverse premium move that triggers the
	// protective stop (0.3 = trigger at 130% of entry premium).
	StopLossBufferPct float64
	// TickSize rounds trigger prices before submission.
	TickSize float64
}

// MaxAttemptTimeout caps per-attempt broker timeouts.
const MaxAttemptTimeout = 30 * time.Second

// DefaultConfig is the default executor configuration.
var DefaultConfig = Config{
	InterRequestDelay: time.Second,
	AttemptTimeout:    15 * time.Second,
	StopLossDelay:     30 * time.Second,
	StopLossBufferPct: 0.3,
	TickSize:          0.05,
}

// AccountBatch pairs an account with the per-leg quantities it should
// trade. Quantities align by index with the legs passed to Execute.
type AccountBatch struct {
	Account    models.SubscribedAccount
	Quantities []int
}

// Executor places legs through the order-placement collaborator.
type Executor struct {
	placer  broker.OrderPlacer
	limiter *broker.RateLimiter
	sched   *scheduler.Scheduler
	logger  *log.Logger
	config  Config
}

// New creates an executor. sched may be nil to disable deferred
// protective stops.
func New(placer broker.OrderPlacer, sched *scheduler.Scheduler, logger *log.Logger, config ...Config) *Executor {
	if placer == nil {
		panic("executor.New: placer must not be nil")
	}
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultConfig.AttemptTimeout
	}
	if cfg.AttemptTimeout > MaxAttemptTimeout {
		cfg.AttemptTimeout = MaxAttemptTimeout
	}
	if cfg.InterRequestDelay < 0 {
		cfg.InterRequestDelay = 0
	}
	if logger == nil {
		logger = log.New(os.Stderr, "executor: ", log.LstdFlags)
	}
	return &Executor{
		placer:  placer,
		limiter: broker.NewRateLimiter(cfg.InterRequestDelay),
		sched:   sched,
		logger:  logger,
		config:  cfg,
	}
}

// Execute attempts one placement per (leg, account) pair. The result
// slice always has len(legs) x len(batches) entries in (account, leg)
// order; a failed attempt yields a result with Success=false and the
// error payload. One pair's failure never prevents the others.
func (e *Executor) Execute(ctx context.Context, legs []models.Leg, batches []AccountBatch) []models.ExecutionResult {
	results := make([]models.ExecutionResult, len(legs)*len(batches))

	if e.config.ParallelAccounts {
		g := new(errgroup.Group)
		for bi := range batches {
			bi := bi
			g.Go(func() error {
				e.executeAccount(ctx, legs, batches[bi], results[bi*len(legs):(bi+1)*len(legs)])
				return nil
			})
		}
		_ = g.Wait()
		return results
	}

	for bi := range batches {
		e.executeAccount(ctx, legs, batches[bi], results[bi*len(legs):(bi+1)*len(legs)])
	}
	return results
}

// ExecuteWithProtection is Execute plus deferred protective stops: for
// every successfully placed short leg it schedules a stop-loss buyback
// after the configured delay. The deferred phase is fire-and-forget
// with respect to the caller but cancellable through the scheduler.
func (e *Executor) ExecuteWithProtection(ctx context.Context, legs []models.Leg, batches []AccountBatch) []models.ExecutionResult {
	results := e.Execute(ctx, legs, batches)
	if e.sched == nil || e.config.StopLossDelay <= 0 {
		return results
	}
	for bi := range batches {
		for li := range legs {
			r := results[bi*len(legs)+li]
			if r.Success && legs[li].Action == models.ActionSell {
				e.scheduleProtectiveStop(legs[li], r)
			}
		}
	}
	return results
}

// executeAccount runs one account's legs strictly in order, pacing
// through the shared per-account rate limiter.
func (e *Executor) executeAccount(ctx context.Context, legs []models.Leg, batch AccountBatch, out []models.ExecutionResult) {
	for li, leg := range legs {
		qty := 0
		if li < len(batch.Quantities) {
			qty = batch.Quantities[li]
		}
		out[li] = e.attempt(ctx, leg, li, batch.Account, qty)
	}
}

func (e *Executor) attempt(ctx context.Context, leg models.Leg, legIndex int, account models.SubscribedAccount, quantity int) models.ExecutionResult {
	result := models.ExecutionResult{
		AccountID:  account.AccountID,
		LegIndex:   legIndex,
		OptionType: leg.OptionType,
		Action:     leg.Action,
		Quantity:   quantity,
	}

	if err := e.limiter.Wait(ctx, account.AccountID); err != nil {
		result.Error = fmt.Sprintf("rate limit wait: %v", err)
		return result
	}

	attemptCtx, cancel := context.WithTimeout(ctx, e.config.AttemptTimeout)
	defer cancel()

	resp, err := e.placer.PlaceLeg(attemptCtx, broker.PlaceLegRequest{
		AccountID:    account.AccountID,
		InstrumentID: leg.InstrumentID,
		Action:       leg.Action,
		Quantity:     quantity,
		OrderType:    broker.OrderTypeLimit,
		LimitPrice:   leg.LimitPrice,
	})
	if err != nil {
		// Terminal for this pair; any retry is an operator concern.
		e.logger.Printf("placement failed account=%s leg=%d %s %s: %v",
			account.AccountID, legIndex, leg.Action, leg.InstrumentID, err)
		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.OrderID = resp.OrderID
	if resp.FilledQuantity > 0 {
		result.Quantity = resp.FilledQuantity
	}
	result.Price = resp.AvgPrice
	if result.Price == 0 {
		result.Price = leg.LimitPrice
	}
	return result
}

func (e *Executor) scheduleProtectiveStop(leg models.Leg, placed models.ExecutionResult) {
	trigger := util.RoundToTick(leg.LimitPrice*(1+e.config.StopLossBufferPct), e.config.TickSize)
	name := fmt.Sprintf("sl:%s:%s", placed.AccountID, leg.InstrumentID)

	task := e.sched.Schedule(name, e.config.StopLossDelay, func(ctx context.Context) {
		slCtx, cancel := context.WithTimeout(ctx, e.config.AttemptTimeout)
		defer cancel()

		_, err := e.placer.PlaceLeg(slCtx, broker.PlaceLegRequest{
			AccountID:    placed.AccountID,
			InstrumentID: leg.InstrumentID,
			Action:       leg.Action.Opposite(),
			Quantity:     placed.Quantity,
			OrderType:    broker.OrderTypeStopLoss,
			TriggerPrice: trigger,
			Tag:          "protective-stop",
		})
		if err != nil {
			e.logger.Printf("deferred protective stop failed account=%s %s: %v",
				placed.AccountID, leg.InstrumentID, err)
			return
		}
		e.logger.Printf("protective stop placed account=%s %s trigger=%.2f",
			placed.AccountID, leg.InstrumentID, trigger)
	})
	if task != nil {
		e.logger.Printf("protective stop scheduled account=%s %s in %s",
			placed.AccountID, leg.InstrumentID, e.config.StopLossDelay)
	}
}
