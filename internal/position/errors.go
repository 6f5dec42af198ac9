package position

import "errors"

// Only these three error classes fail an alert end to end. Once legs
// are computed and a trade is open, processing always reports success
// with a results breakdown - broker failures are data, not errors.
var (
	// ErrParse marks unrecognized alert text. Nothing is persisted.
	ErrParse = errors.New("unrecognized alert text")

	// ErrNoActiveTrade marks an exit with nothing open for the symbol.
	ErrNoActiveTrade = errors.New("no active trade for symbol")

	// ErrStrategyCalculation marks missing expiries, chain data, or
	// qualifying strikes: the engine could not decide what to trade,
	// which is distinct from deciding and having the broker fail.
	ErrStrategyCalculation = errors.New("strategy calculation failed")

	// ErrDuplicateEntry is returned only under the reject policy when
	// a same-direction entry arrives while a trade is active.
	ErrDuplicateEntry = errors.New("duplicate same-direction entry")
)
