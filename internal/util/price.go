// Package util provides common utility functions for price calculations.
package util

import "github.com/shopspring/decimal"

// RoundToTick rounds x to the nearest exchange tick increment, e.g.
// with tick=0.05, 210.52 becomes 210.50. Computed in decimal space so
// binary-float ticks like 0.05 do not accumulate representation error.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	dx := decimal.NewFromFloat(x)
	dt := decimal.NewFromFloat(tick)
	f, _ := dx.Div(dt).Round(0).Mul(dt).Float64()
	return f
}

// RoundTo2 rounds x to two decimals for display.
func RoundTo2(x float64) float64 {
	f, _ := decimal.NewFromFloat(x).Round(2).Float64()
	return f
}
