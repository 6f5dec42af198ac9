// Package notify pushes best-effort trade summaries to a chat channel.
// Notification failure is never allowed to fail signal processing.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"optionrelay/internal/models"
)

// Sink receives a summary of one processed signal.
type Sink interface {
	Notify(signal *models.Signal, legs []models.Leg, results []models.ExecutionResult)
}

// NoopSink discards notifications (disabled config, tests).
type NoopSink struct{}

// Notify implements Sink.
func (NoopSink) Notify(*models.Signal, []models.Leg, []models.ExecutionResult) {}

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramSink sends summaries through the Telegram bot API. Messages
// go out with Markdown formatting first; if Telegram rejects the
// formatting (a 4xx on parse), the same text is retried once without a
// parse mode before giving up.
type TelegramSink struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   *log.Logger
}

// Ensure TelegramSink implements Sink.
var _ Sink = (*TelegramSink)(nil)

// NewTelegramSink builds a sink for the given bot and chat.
func NewTelegramSink(botToken, chatID string, logger *log.Logger) *TelegramSink {
	if logger == nil {
		logger = log.New(os.Stderr, "notify: ", log.LstdFlags)
	}
	return &TelegramSink{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  defaultTelegramAPI,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger,
	}
}

// WithBaseURL points the sink at a different API host. Used by tests.
func (t *TelegramSink) WithBaseURL(baseURL string) *TelegramSink {
	t.baseURL = strings.TrimRight(baseURL, "/")
	return t
}

// Notify formats and sends the summary. All failures are logged only.
func (t *TelegramSink) Notify(signal *models.Signal, legs []models.Leg, results []models.ExecutionResult) {
	if t.botToken == "" || t.chatID == "" {
		t.logger.Printf("telegram sink not configured, dropping notification")
		return
	}
	text := Summary(signal, legs, results)

	if err := t.send(text, "Markdown"); err != nil {
		if !isFormattingRejection(err) {
			t.logger.Printf("notification failed: %v", err)
			return
		}
		t.logger.Printf("markdown rejected, retrying as plain text: %v", err)
		if err := t.send(text, ""); err != nil {
			t.logger.Printf("plain-text notification also failed: %v", err)
		}
	}
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("telegram status %d: %s", e.status, e.body)
}

func isFormattingRejection(err error) bool {
	se, ok := err.(*statusError)
	return ok && se.status >= 400 && se.status < 500
}

func (t *TelegramSink) send(text, parseMode string) error {
	payload := map[string]any{
		"chat_id": t.chatID,
		"text":    text,
	}
	if parseMode != "" {
		payload["parse_mode"] = parseMode
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	return nil
}

// Summary renders the human-readable message for one processed signal.
func Summary(signal *models.Signal, legs []models.Leg, results []models.ExecutionResult) string {
	var b strings.Builder

	switch {
	case signal == nil:
		b.WriteString("*Trade update*\n")
	case signal.IsEntry():
		fmt.Fprintf(&b, "*%s entry* on %s @ %.2f\n", strings.ToUpper(string(signal.Direction)), signal.Symbol, signal.EntryPrice)
		fmt.Fprintf(&b, "SL %.2f / Target %.2f\n", signal.StopLoss, signal.Target)
	default:
		fmt.Fprintf(&b, "*Exit* on %s @ %.2f (%s)\n", signal.Symbol, signal.ExitPrice, signal.ExitReason)
	}

	for _, leg := range legs {
		fmt.Fprintf(&b, "%s %s %.0f%s @ %.2f\n", leg.Action, leg.Expiry, leg.Strike, leg.OptionType, leg.LimitPrice)
	}

	ok, failed := 0, 0
	for _, r := range results {
		if r.Success {
			ok++
		} else {
			failed++
		}
	}
	fmt.Fprintf(&b, "Placed: %d ok, %d failed (%d attempts)", ok, failed, len(results))
	return b.String()
}
