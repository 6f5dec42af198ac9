package models

import "sort"

// OptionQuote is one side of a strike row in an option-chain snapshot.
type OptionQuote struct {
	Delta        float64 `json:"delta"`
	Ask          float64 `json:"ask"`
	InstrumentID string  `json:"instrument_id"`
}

// ChainEntry holds the CE/PE quotes for one strike. Either side may be
// missing; a missing side is skipped during selection for that side only.
type ChainEntry struct {
	CE *OptionQuote `json:"ce,omitempty"`
	PE *OptionQuote `json:"pe,omitempty"`
}

// ChainSnapshot maps strike price to the quotes observed at snapshot time.
type ChainSnapshot map[float64]ChainEntry

// Strikes returns the snapshot's strikes in ascending order. Selection
// scans in this order so ties resolve reproducibly.
func (c ChainSnapshot) Strikes() []float64 {
	strikes := make([]float64, 0, len(c))
	for k := range c {
		strikes = append(strikes, k)
	}
	sort.Float64s(strikes)
	return strikes
}
