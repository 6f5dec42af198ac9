package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerSettings configures breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// CircuitBreakerPlacer wraps an OrderPlacer with a circuit breaker so
// a dead broker backend fails fast instead of eating the fan-out's
// per-attempt timeout on every remaining (leg, account) pair.
type CircuitBreakerPlacer struct {
	placer  OrderPlacer
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerPlacer implements OrderPlacer.
var _ OrderPlacer = (*CircuitBreakerPlacer)(nil)

// NewCircuitBreakerPlacer wraps placer with sensible defaults.
func NewCircuitBreakerPlacer(placer OrderPlacer) *CircuitBreakerPlacer {
	return NewCircuitBreakerPlacerWithSettings(placer, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerPlacerWithSettings wraps placer with custom settings.
func NewCircuitBreakerPlacerWithSettings(placer OrderPlacer, settings CircuitBreakerSettings) *CircuitBreakerPlacer {
	gbSettings := gobreaker.Settings{
		Name:        "OrderPlacerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}
	return &CircuitBreakerPlacer{
		placer:  placer,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// PlaceLeg routes the placement through the breaker.
func (c *CircuitBreakerPlacer) PlaceLeg(ctx context.Context, req PlaceLegRequest) (*PlaceLegResponse, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.placer.PlaceLeg(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	resp, ok := res.(*PlaceLegResponse)
	if !ok {
		return nil, errors.New("circuit breaker: type assertion failed")
	}
	return resp, nil
}
