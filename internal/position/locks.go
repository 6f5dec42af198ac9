package position

import "sync"

// symbolLocks serializes signal processing per normalized symbol. The
// at-most-one-active-trade invariant cannot survive two concurrent
// entries for the same symbol racing the ledger lookup, so admission
// is serialized here rather than left to upstream delivery guarantees.
type symbolLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSymbolLocks() *symbolLocks {
	return &symbolLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the symbol's mutex and returns its unlock func.
func (s *symbolLocks) acquire(symbol string) func() {
	s.mu.Lock()
	m, ok := s.locks[symbol]
	if !ok {
		m = &sync.Mutex{}
		s.locks[symbol] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}
