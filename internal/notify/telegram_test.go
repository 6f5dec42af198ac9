package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"optionrelay/internal/models"
)

func sampleSignal() *models.Signal {
	return &models.Signal{
		Kind:       models.SignalEntry,
		Symbol:     "BANKNIFTY",
		Direction:  models.DirectionBuy,
		EntryPrice: 51590.5,
		StopLoss:   51550.5,
		Target:     51650.5,
	}
}

func sampleResults() []models.ExecutionResult {
	return []models.ExecutionResult{
		{AccountID: "acc-1", Success: true, Quantity: 30},
		{AccountID: "acc-2", Success: false, Error: "margin"},
	}
}

func TestNotifySendsMarkdown(t *testing.T) {
	var payloads []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p map[string]any
		require.NoError(t, json.Unmarshal(body, &p))
		payloads = append(payloads, p)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewTelegramSink("token", "chat", nil).WithBaseURL(srv.URL)
	sink.Notify(sampleSignal(), nil, sampleResults())

	require.Len(t, payloads, 1)
	assert.Equal(t, "Markdown", payloads[0]["parse_mode"])
	assert.Contains(t, payloads[0]["text"], "1 ok, 1 failed (2 attempts)")
}

func TestNotifyFallsBackToPlainTextOnFormattingRejection(t *testing.T) {
	var payloads []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var p map[string]any
		require.NoError(t, json.Unmarshal(body, &p))
		payloads = append(payloads, p)
		if _, hasMode := p["parse_mode"]; hasMode {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"ok":false,"description":"can't parse entities"}`)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewTelegramSink("token", "chat", nil).WithBaseURL(srv.URL)
	sink.Notify(sampleSignal(), nil, sampleResults())

	require.Len(t, payloads, 2, "one markdown attempt plus one plain retry")
	_, hasMode := payloads[1]["parse_mode"]
	assert.False(t, hasMode)
	assert.Equal(t, payloads[0]["text"], payloads[1]["text"])
}

func TestNotifyGivesUpAfterServerError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := NewTelegramSink("token", "chat", nil).WithBaseURL(srv.URL)
	sink.Notify(sampleSignal(), nil, nil)

	assert.Equal(t, 1, calls, "5xx is not a formatting rejection, no retry")
}

func TestNotifyUnconfiguredIsNoop(t *testing.T) {
	sink := NewTelegramSink("", "", nil)
	// Must not panic or attempt network I/O.
	sink.Notify(sampleSignal(), nil, nil)
}

func TestSummaryIncludesLegsAndExit(t *testing.T) {
	legs := []models.Leg{
		{OptionType: models.OptionTypeCE, Action: models.ActionBuy, Strike: 51600, LimitPrice: 210.5, Expiry: "2026-09-03"},
		{OptionType: models.OptionTypePE, Action: models.ActionSell, Strike: 51500, LimitPrice: 198.4, Expiry: "2026-09-03"},
	}
	text := Summary(sampleSignal(), legs, sampleResults())
	assert.Contains(t, text, "BUY entry")
	assert.Contains(t, text, "51600CE")
	assert.Contains(t, text, "SELL 2026-09-03 51500PE @ 198.40")

	exit := &models.Signal{Kind: models.SignalExit, Symbol: "BANKNIFTY", ExitPrice: 51550.5, ExitReason: "SL HIT"}
	text = Summary(exit, nil, nil)
	assert.Contains(t, text, "Exit")
	assert.Contains(t, text, "SL HIT")
}
