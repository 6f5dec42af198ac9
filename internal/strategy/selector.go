// Package strategy selects option contracts for the trap strategy's
// two-legged entries.
package strategy

import (
	"errors"
	"fmt"
	"math"

	"optionrelay/internal/models"
)

// ErrNoQualifyingStrike is returned when a side of the chain has no
// candidate contract. Fatal for the signal: no trade is recorded.
var ErrNoQualifyingStrike = errors.New("no qualifying strike")

// SelectedStrike is one chosen contract.
type SelectedStrike struct {
	Strike       float64 `json:"strike"`
	Delta        float64 `json:"delta"`
	Ask          float64 `json:"ask"`
	InstrumentID string  `json:"instrument_id"`
}

// DisplayAsk returns the ask rounded to two decimals. Display only;
// selection always compares unrounded values.
func (s SelectedStrike) DisplayAsk() float64 {
	return math.Round(s.Ask*100) / 100
}

// StrikePair is the CE/PE selection for one entry. The two strikes may
// differ: each side is optimized independently.
type StrikePair struct {
	CE SelectedStrike `json:"ce"`
	PE SelectedStrike `json:"pe"`
}

// SelectStrikes picks the CE contract whose delta is nearest
// targetDelta and the PE contract whose delta is nearest -targetDelta.
// Strikes missing a side are skipped for that side only. The scan runs
// in ascending strike order with a strict improvement test, so ties
// resolve to the first strike encountered - reproducible, not
// numerically significant.
func SelectStrikes(chain models.ChainSnapshot, targetDelta float64) (StrikePair, error) {
	var pair StrikePair
	if targetDelta <= 0 {
		return pair, fmt.Errorf("target delta must be > 0 (got %.4f)", targetDelta)
	}

	bestCE, bestPE := math.MaxFloat64, math.MaxFloat64
	foundCE, foundPE := false, false

	for _, strike := range chain.Strikes() {
		entry := chain[strike]
		if entry.CE != nil {
			if diff := math.Abs(entry.CE.Delta - targetDelta); diff < bestCE {
				bestCE = diff
				foundCE = true
				pair.CE = SelectedStrike{
					Strike:       strike,
					Delta:        entry.CE.Delta,
					Ask:          entry.CE.Ask,
					InstrumentID: entry.CE.InstrumentID,
				}
			}
		}
		if entry.PE != nil {
			if diff := math.Abs(entry.PE.Delta - (-targetDelta)); diff < bestPE {
				bestPE = diff
				foundPE = true
				pair.PE = SelectedStrike{
					Strike:       strike,
					Delta:        entry.PE.Delta,
					Ask:          entry.PE.Ask,
					InstrumentID: entry.PE.InstrumentID,
				}
			}
		}
	}

	if !foundCE {
		return StrikePair{}, fmt.Errorf("%w for CE side (target delta %.2f)", ErrNoQualifyingStrike, targetDelta)
	}
	if !foundPE {
		return StrikePair{}, fmt.Errorf("%w for PE side (target delta -%.2f)", ErrNoQualifyingStrike, targetDelta)
	}
	return pair, nil
}

// BuildLegs maps a directional entry onto the strategy's synthetic
// pair: a buy goes long the CE and short the PE, a sell the reverse.
// Limit prices start from the snapshot asks; the caller rounds them to
// the instrument's tick before submission.
func BuildLegs(pair StrikePair, direction models.Direction, expiry string) []models.Leg {
	ceAction, peAction := models.ActionBuy, models.ActionSell
	if direction == models.DirectionSell {
		ceAction, peAction = models.ActionSell, models.ActionBuy
	}
	return []models.Leg{
		{
			OptionType:   models.OptionTypeCE,
			Action:       ceAction,
			Strike:       pair.CE.Strike,
			Delta:        pair.CE.Delta,
			LimitPrice:   pair.CE.Ask,
			InstrumentID: pair.CE.InstrumentID,
			Expiry:       expiry,
		},
		{
			OptionType:   models.OptionTypePE,
			Action:       peAction,
			Strike:       pair.PE.Strike,
			Delta:        pair.PE.Delta,
			LimitPrice:   pair.PE.Ask,
			InstrumentID: pair.PE.InstrumentID,
			Expiry:       expiry,
		},
	}
}
