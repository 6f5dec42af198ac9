package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"optionrelay/internal/models"
)

// Journal op names.
const (
	opOpen     = "open"
	opComplete = "complete"
	opResults  = "results"
)

// JournalRecord is one append-only fallback entry. Records mirror the
// primary-store mutations so an operator can replay them once the
// primary is back.
type JournalRecord struct {
	Op         string                   `json:"op"`
	TradeID    string                   `json:"trade_id"`
	NormSymbol string                   `json:"norm_symbol,omitempty"`
	Trade      *models.Trade            `json:"trade,omitempty"`
	Results    []models.ExecutionResult `json:"results,omitempty"`
	At         time.Time                `json:"at"`
}

// Journal is the degraded fallback store: an append-only JSON-lines
// file keyed like the primary. It does not guarantee the primary's
// query semantics - lookups are full scans with best-effort symbol
// normalization. That is a documented limitation of the fallback path,
// not a bug; in the base design it is write-path only.
type Journal struct {
	mu   sync.Mutex
	path string
}

// NewJournal creates the fallback store at path.
func NewJournal(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}
	return &Journal{path: path}, nil
}

// Append writes one record as a single JSON line.
func (j *Journal) Append(rec JournalRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding journal record: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("appending journal record: %w", err)
	}
	return f.Sync()
}

// FindOpenTrade scans the whole journal and replays it for the symbol:
// the last opened trade not later completed wins. Best effort only.
func (j *Journal) FindOpenTrade(symbol string) (*models.Trade, error) {
	norm := models.NormalizeSymbol(symbol)
	var open *models.Trade

	err := j.scan(func(rec JournalRecord) {
		switch rec.Op {
		case opOpen:
			if rec.Trade != nil && models.NormalizeSymbol(rec.Trade.Symbol) == norm {
				open = rec.Trade
			}
		case opComplete:
			if open != nil && open.ID == rec.TradeID {
				open = nil
			}
		case opResults:
			if open != nil && open.ID == rec.TradeID {
				open.ExecutionResults = append(open.ExecutionResults, rec.Results...)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return open, nil
}

func (j *Journal) scan(visit func(JournalRecord)) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	f, err := os.Open(j.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec JournalRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			// A torn final line from a crashed writer is tolerated.
			continue
		}
		visit(rec)
	}
	return scanner.Err()
}
