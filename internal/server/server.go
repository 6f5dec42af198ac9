// Package server exposes the alert webhook and read-only trade
// endpoints over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"optionrelay/internal/ledger"
	"optionrelay/internal/position"
)

const maxAlertBody = 64 << 10

type Server struct {
	router    *chi.Mux
	server    *http.Server
	manager   *position.Manager
	ledger    ledger.Interface
	logger    *logrus.Logger
	port      int
	authToken string
}

type Config struct {
	Port      int
	AuthToken string
}

func NewServer(cfg Config, manager *position.Manager, led ledger.Interface, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Server{
		router:    chi.NewRouter(),
		manager:   manager,
		ledger:    led,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Post("/webhook/alert", s.handleAlert)
	s.router.Get("/trades/open", s.handleOpenTrade)
	s.router.Get("/health", s.handleHealth)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}

		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Starting webhook server on port %d", s.port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleAlert accepts raw alert text or a JSON body carrying the text
// in a "message" field (the TradingView webhook template).
func (s *Server) handleAlert(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAlertBody))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	text := extractAlertText(body)
	if strings.TrimSpace(text) == "" {
		http.Error(w, "empty alert", http.StatusBadRequest)
		return
	}

	outcome, err := s.manager.HandleAlert(r.Context(), text)
	if err != nil {
		s.logger.WithError(err).Warnf("alert rejected: %.120s", text)
		http.Error(w, err.Error(), statusFor(err))
		return
	}

	s.writeJSON(w, http.StatusOK, outcome)
}

// extractAlertText prefers a JSON "message" field when the payload is
// a JSON object; anything else is treated as the alert text itself.
func extractAlertText(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") && gjson.Valid(trimmed) {
		if msg := gjson.Get(trimmed, "message"); msg.Exists() {
			return msg.String()
		}
	}
	return trimmed
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, position.ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, position.ErrNoActiveTrade):
		return http.StatusNotFound
	case errors.Is(err, position.ErrDuplicateEntry):
		return http.StatusConflict
	case errors.Is(err, position.ErrStrategyCalculation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleOpenTrade(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		http.Error(w, "symbol query parameter is required", http.StatusBadRequest)
		return
	}

	trade, err := s.ledger.FindOpenTrade(r.Context(), symbol)
	if err != nil {
		s.logger.WithError(err).Error("open trade lookup failed")
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if trade == nil {
		http.Error(w, "no open trade", http.StatusNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, trade)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("encoding response")
	}
}
