package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"optionrelay/internal/accounts"
	"optionrelay/internal/broker"
	"optionrelay/internal/config"
	"optionrelay/internal/executor"
	"optionrelay/internal/ledger"
	"optionrelay/internal/models"
	"optionrelay/internal/notify"
	"optionrelay/internal/position"
	"optionrelay/internal/scheduler"
	"optionrelay/internal/server"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "[RELAY] ", log.LstdFlags|log.Lshortfile)
	httpLogger := newHTTPLogger(cfg.Environment.LogLevel)

	logger.Printf("Starting option relay in %s mode", cfg.Environment.Mode)
	if cfg.IsPaperTrading() {
		logger.Println("PAPER TRADING MODE - no real money at risk")
	} else {
		// No live broker adapter ships yet; refusing beats silently
		// paper-trading a live config.
		logger.Fatal("live mode is not supported by this build; set environment.mode to paper")
	}

	if err := ensureDir(cfg.Storage.DBPath); err != nil {
		logger.Fatalf("Failed to prepare storage directory: %v", err)
	}
	if err := ensureDir(cfg.Storage.JournalPath); err != nil {
		logger.Fatalf("Failed to prepare journal directory: %v", err)
	}

	led, err := ledger.Open(cfg.Storage.DBPath, cfg.Storage.JournalPath, logger)
	if err != nil {
		logger.Fatalf("Failed to open ledger: %v", err)
	}
	defer func() {
		if err := led.Close(); err != nil {
			logger.Printf("Closing ledger: %v", err)
		}
	}()

	paper := broker.NewPaperBroker(defaultExpirations(), defaultChain(), nil)
	placer := broker.NewCircuitBreakerPlacer(paper)

	sched := scheduler.New(logger)
	defer sched.Stop()

	exec := executor.New(placer, sched, logger, executor.Config{
		InterRequestDelay: cfg.InterRequestDelay(),
		AttemptTimeout:    cfg.AttemptTimeout(),
		ParallelAccounts:  cfg.Executor.ParallelAccounts,
		StopLossDelay:     cfg.StopLossDelay(),
		StopLossBufferPct: cfg.Executor.StopLossBufferPct,
		TickSize:          cfg.Strategy.TickSize,
	})

	var sink notify.Sink = notify.NoopSink{}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.ChatID != "" {
		sink = notify.NewTelegramSink(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		logger.Println("Telegram notifications enabled")
	}

	manager := position.NewManager(
		led,
		paper,
		exec,
		accounts.NewStaticProvider(cfg.Accounts),
		sink,
		logger,
		position.Config{
			Index:                cfg.Strategy.Index,
			TargetDelta:          cfg.Strategy.TargetDelta,
			LotSize:              cfg.Strategy.LotSize,
			TickSize:             cfg.Strategy.TickSize,
			DuplicateEntryPolicy: cfg.Strategy.DuplicateEntryPolicy,
		},
	)

	srv := server.NewServer(server.Config{
		Port:      cfg.Server.Port,
		AuthToken: cfg.Server.AuthToken,
	}, manager, led, httpLogger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	logger.Printf("Webhook server listening on port %d (%d subscribed accounts)",
		cfg.Server.Port, len(cfg.Accounts))

	select {
	case <-ctx.Done():
		logger.Println("Shutdown signal received, stopping relay...")
	case err := <-errCh:
		logger.Printf("Server stopped: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("Server shutdown: %v", err)
	}

	logger.Println("Relay stopped")
}

func newHTTPLogger(level string) *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)
	return l
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o750)
}

// defaultExpirations seeds the paper adapter with the next two weekly
// expiries relative to startup.
func defaultExpirations() []string {
	now := time.Now()
	first := nextWeekday(now, time.Thursday)
	return []string{
		first.Format("2006-01-02"),
		first.AddDate(0, 0, 7).Format("2006-01-02"),
	}
}

func nextWeekday(from time.Time, day time.Weekday) time.Time {
	d := (int(day) - int(from.Weekday()) + 7) % 7
	if d == 0 {
		d = 7
	}
	return from.AddDate(0, 0, d)
}

// defaultChain seeds the paper adapter with a plausible BANKNIFTY-style
// chain so paper-mode entries have strikes to select from.
func defaultChain() models.ChainSnapshot {
	chain := make(models.ChainSnapshot)
	base := 51000.0
	for i := 0; i < 21; i++ {
		strike := base + float64(i)*100
		// Call deltas sweep from deep ITM to OTM as strikes rise; put
		// deltas are negative and do the reverse.
		ceDelta := 0.95 - float64(i)*0.04
		peDelta := -(0.10 + float64(i)*0.04)
		chain[strike] = models.ChainEntry{
			CE: &models.OptionQuote{
				Delta:        ceDelta,
				Ask:          300 - float64(i)*10,
				InstrumentID: instrumentID("CE", strike),
			},
			PE: &models.OptionQuote{
				Delta:        peDelta,
				Ask:          50 + float64(i)*10,
				InstrumentID: instrumentID("PE", strike),
			},
		}
	}
	return chain
}

func instrumentID(optType string, strike float64) string {
	return fmt.Sprintf("%s%d", optType, int(strike))
}
