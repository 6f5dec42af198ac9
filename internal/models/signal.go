package models

import "fmt"

// Direction is the side of an entry relative to the underlying index.
type Direction string

const (
	// DirectionBuy is a long entry on the underlying.
	DirectionBuy Direction = "buy"
	// DirectionSell is a short entry on the underlying.
	DirectionSell Direction = "sell"
)

// Valid returns true if the Direction is one of the defined constants.
func (d Direction) Valid() bool {
	switch d {
	case DirectionBuy, DirectionSell:
		return true
	default:
		return false
	}
}

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction {
	if d == DirectionBuy {
		return DirectionSell
	}
	return DirectionBuy
}

// SignalKind tags the two signal variants.
type SignalKind string

const (
	// SignalEntry opens (or replaces) a position for a symbol.
	SignalEntry SignalKind = "entry"
	// SignalExit closes the symbol's open position.
	SignalExit SignalKind = "exit"
)

// Signal is a parsed trading alert. Immutable once parsed.
//
// Entry signals carry Direction, EntryPrice, StopLoss and Target.
// Exit signals carry ExitPrice and ExitReason; Direction holds the
// original entry direction when the alert states one and is empty
// otherwise (legacy direction-less exits).
type Signal struct {
	Kind       SignalKind `json:"kind"`
	Symbol     string     `json:"symbol"`
	Direction  Direction  `json:"direction,omitempty"`
	EntryPrice float64    `json:"entry_price,omitempty"`
	StopLoss   float64    `json:"stop_loss,omitempty"`
	Target     float64    `json:"target,omitempty"`
	ExitPrice  float64    `json:"exit_price,omitempty"`
	ExitReason string     `json:"exit_reason,omitempty"`
}

// IsEntry returns true for entry signals.
func (s *Signal) IsEntry() bool { return s.Kind == SignalEntry }

// IsExit returns true for exit signals.
func (s *Signal) IsExit() bool { return s.Kind == SignalExit }

// Validate checks the variant-specific required fields.
func (s *Signal) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("signal symbol is required")
	}
	switch s.Kind {
	case SignalEntry:
		if !s.Direction.Valid() {
			return fmt.Errorf("entry signal direction %q invalid", s.Direction)
		}
		if s.EntryPrice <= 0 {
			return fmt.Errorf("entry signal price must be > 0 (got %.2f)", s.EntryPrice)
		}
	case SignalExit:
		if s.Direction != "" && !s.Direction.Valid() {
			return fmt.Errorf("exit signal direction %q invalid", s.Direction)
		}
		if s.ExitPrice <= 0 {
			return fmt.Errorf("exit signal price must be > 0 (got %.2f)", s.ExitPrice)
		}
	default:
		return fmt.Errorf("unknown signal kind %q", s.Kind)
	}
	return nil
}
