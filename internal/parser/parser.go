// Package parser turns raw alert text into typed signals.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"optionrelay/internal/models"
)

// Pattern couples one alert form with its signal constructor. The
// package evaluates patterns strictly in slice order: several legacy
// forms are textual subsets of newer ones, so precedence is part of the
// contract, not an implementation detail. Tests enumerate the list.
type Pattern struct {
	Name   string
	Regexp *regexp.Regexp
	Build  func(m []string) *models.Signal
}

const price = `(\d+(?:\.\d+)?)`

// Patterns is the ordered matcher chain, highest priority first.
var Patterns = []Pattern{
	{
		Name:   "bear-trap-entry",
		Regexp: regexp.MustCompile(`(?i)^(\S+) \| bear trap \| entry at ` + price + ` \| sl: ` + price + ` \| target: ` + price + `$`),
		Build: func(m []string) *models.Signal {
			return entrySignal(m[1], models.DirectionBuy, m[2], m[3], m[4])
		},
	},
	{
		Name:   "bull-trap-entry",
		Regexp: regexp.MustCompile(`(?i)^(\S+) \| bull trap \| entry at ` + price + ` \| sl: ` + price + ` \| target: ` + price + `$`),
		Build: func(m []string) *models.Signal {
			return entrySignal(m[1], models.DirectionSell, m[2], m[3], m[4])
		},
	},
	{
		Name:   "long-exit",
		Regexp: regexp.MustCompile(`(?i)^bb trap long exit \(([^)]+)\) (\S+) at ` + price + `$`),
		Build: func(m []string) *models.Signal {
			return exitSignal(m[2], models.DirectionBuy, m[3], m[1])
		},
	},
	{
		Name:   "short-exit",
		Regexp: regexp.MustCompile(`(?i)^bb trap short exit \(([^)]+)\) (\S+) at ` + price + `$`),
		Build: func(m []string) *models.Signal {
			return exitSignal(m[2], models.DirectionSell, m[3], m[1])
		},
	},
	{
		Name:   "legacy-exit-directional",
		Regexp: regexp.MustCompile(`(?i)^bb trap exit (long|short) (\S+) at ` + price + `$`),
		Build: func(m []string) *models.Signal {
			dir := models.DirectionBuy
			if strings.EqualFold(m[1], "short") {
				dir = models.DirectionSell
			}
			return exitSignal(m[2], dir, m[3], legacyExitReason)
		},
	},
	{
		// Subset of the directional form above: "BB TRAP EXIT LONG X at P"
		// would match here with symbol "LONG", hence the fixed ordering.
		Name:   "legacy-exit",
		Regexp: regexp.MustCompile(`(?i)^bb trap exit (\S+) at ` + price + `$`),
		Build: func(m []string) *models.Signal {
			return exitSignal(m[1], "", m[2], legacyExitReason)
		},
	},
	{
		Name:   "legacy-entry",
		Regexp: regexp.MustCompile(`(?i)^bb trap (buy|sell) (\S+) at ` + price + ` sl ` + price + ` tgt ` + price + `$`),
		Build: func(m []string) *models.Signal {
			dir := models.DirectionBuy
			if strings.EqualFold(m[1], "sell") {
				dir = models.DirectionSell
			}
			return entrySignal(m[2], dir, m[3], m[4], m[5])
		},
	},
}

// legacyExitReason labels exits from alert forms that carry no reason.
const legacyExitReason = "MANUAL"

// Parse matches text against the pattern chain and returns the first
// hit. Matching is case-insensitive and collapses internal whitespace
// runs to single spaces. Returns (nil, false) when nothing matches;
// callers surface that as a bad request, not a server failure.
func Parse(text string) (*models.Signal, bool) {
	norm := strings.Join(strings.Fields(text), " ")
	if norm == "" {
		return nil, false
	}
	for i := range Patterns {
		if m := Patterns[i].Regexp.FindStringSubmatch(norm); m != nil {
			return Patterns[i].Build(m), true
		}
	}
	return nil, false
}

func entrySignal(symbol string, dir models.Direction, entry, sl, target string) *models.Signal {
	return &models.Signal{
		Kind:       models.SignalEntry,
		Symbol:     strings.ToUpper(symbol),
		Direction:  dir,
		EntryPrice: parsePrice(entry),
		StopLoss:   parsePrice(sl),
		Target:     parsePrice(target),
	}
}

func exitSignal(symbol string, dir models.Direction, exit, reason string) *models.Signal {
	return &models.Signal{
		Kind:       models.SignalExit,
		Symbol:     strings.ToUpper(symbol),
		Direction:  dir,
		ExitPrice:  parsePrice(exit),
		ExitReason: strings.ToUpper(strings.TrimSpace(reason)),
	}
}

func parsePrice(s string) float64 {
	// The capture groups only admit digits and one dot.
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
