package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vitos/crypto_trade_manager/internal/domain"
	"github.com/vitos/crypto_trade_manager/internal/infrastructure/exchange"
	"github.com/vitos/crypto_trade_manager/internal/infrastructure/logger"
	"github.com/vitos/crypto_trade_manager/internal/infrastructure/storage"
	"github.com/vitos/crypto_trade_manager/internal/usecase"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Broker struct {
		APIKey       string `yaml:"api_key"`
		APISecret    string `yaml:"api_secret"`
		RESTEndpoint string `yaml:"rest_endpoint"`
		WSEndpoint   string `yaml:"ws_endpoint"`
	} `yaml:"broker"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Replacement struct {
		Enabled             bool    `yaml:"enabled"`
		Simulated           bool    `yaml:"simulated"`
		ReplaceAfterSeconds int     `yaml:"replace_after_seconds"`
		PriceDeviationPct   float64 `yaml:"price_deviation_pct"`
		MaxReplacements     int     `yaml:"max_replacements"`
		IntervalMs          int     `yaml:"interval_ms"`
	} `yaml:"replacement"`
	Conditional struct {
		Enabled    bool `yaml:"enabled"`
		MaxActive  int  `yaml:"max_active"`
		IntervalMs int  `yaml:"interval_ms"`
	} `yaml:"conditional"`
	Exit struct {
		ROITableEnabled bool            `yaml:"roi_table_enabled"`
		ROITable        map[int]float64 `yaml:"roi_table"`
		IntervalMs      int             `yaml:"interval_ms"`
	} `yaml:"exit"`
	Reconcile struct {
		QuantityEpsilon float64 `yaml:"quantity_epsilon"`
		IntervalMs      int     `yaml:"interval_ms"`
	} `yaml:"reconcile"`
	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func main() {
	cfg, err := loadConfig("config/config.yaml")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var log *zap.Logger
	if cfg.Logging.File != "" {
		log, err = logger.NewFileLogger(cfg.Logging.File, cfg.Logging.Level)
	} else {
		log, err = logger.NewLogger(cfg.Logging.Level)
	}
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = "bot.db"
	}
	store, err := storage.NewSQLiteStore(dbPath)
	if err != nil {
		log.Fatal("Failed to init sqlite", zap.Error(err))
	}
	defer store.Close()

	restEndpoint := cfg.Broker.RESTEndpoint
	if restEndpoint == "" {
		restEndpoint = exchange.BybitBaseURL
	}
	wsEndpoint := cfg.Broker.WSEndpoint
	if wsEndpoint == "" {
		wsEndpoint = exchange.BybitWSURL
	}
	adapter := exchange.NewBybitAdapter(
		cfg.Broker.APIKey, cfg.Broker.APISecret,
		restEndpoint, wsEndpoint, log)
	if err := adapter.ConnectWS(); err != nil {
		log.Warn("Price stream unavailable, using REST fallback", zap.Error(err))
	}

	replacer := usecase.NewOrderReplacementEngine(store, store, adapter, adapter, usecase.ReplacementConfig{
		Enabled:             cfg.Replacement.Enabled,
		Simulated:           cfg.Replacement.Simulated,
		ReplaceAfterSeconds: cfg.Replacement.ReplaceAfterSeconds,
		PriceDeviationPct:   cfg.Replacement.PriceDeviationPct,
		MaxReplacements:     cfg.Replacement.MaxReplacements,
	}, log)

	conditionals := usecase.NewConditionalOrderEngine(store, usecase.ConditionalConfig{
		Enabled:   cfg.Conditional.Enabled,
		MaxActive: cfg.Conditional.MaxActive,
	}, log)

	exits := usecase.NewPositionExitEvaluator(store, usecase.ExitConfig{
		ROITableEnabled: cfg.Exit.ROITableEnabled,
		ROITable:        cfg.Exit.ROITable,
	}, log)

	reconciler := usecase.NewPositionReconciler(store, store, adapter, usecase.ReconcilerConfig{
		QuantityEpsilon: cfg.Reconcile.QuantityEpsilon,
	}, log)

	executor := usecase.NewTradeExecutor(store, store, store, adapter, log)

	// One goroutine owns the signal; every worker loop watches the
	// derived context, so a single SIGINT stops all of them.
	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	// Each engine runs on its own interval. The select-driven loops
	// guarantee an engine's invocations never overlap with themselves.

	go runEvery(ctx, intervalOr(cfg.Replacement.IntervalMs, 30_000), func(ctx context.Context) {
		result, err := replacer.ProcessOpenOrders(ctx)
		if err != nil {
			log.Error("Order replacement cycle failed", zap.Error(err))
			return
		}
		if result.Checked > 0 {
			log.Info("Order replacement cycle",
				zap.Int("checked", result.Checked),
				zap.Int("replaced", result.Replaced),
				zap.Int("skipped", result.Skipped),
				zap.Int("filled_during_cancel", result.FilledDuringCancel),
				zap.Strings("errors", result.Errors))
		}
	})

	go runEvery(ctx, intervalOr(cfg.Conditional.IntervalMs, 10_000), func(ctx context.Context) {
		prices, err := snapshotPrices(ctx, store, adapter)
		if err != nil {
			log.Error("Failed to snapshot prices", zap.Error(err))
			return
		}
		actions, err := conditionals.CheckTriggers(ctx, prices)
		if err != nil {
			log.Error("Trigger check failed", zap.Error(err))
			return
		}
		for _, action := range actions {
			if _, err := executor.ExecuteAction(ctx, action); err != nil {
				log.Error("Failed to execute triggered action",
					zap.String("order_id", action.OrderID),
					zap.String("symbol", action.Symbol),
					zap.Error(err))
			}
		}
		if _, err := conditionals.ExpireOldOrders(ctx); err != nil {
			log.Error("Expiry sweep failed", zap.Error(err))
		}
	})

	go runEvery(ctx, intervalOr(cfg.Exit.IntervalMs, 15_000), func(ctx context.Context) {
		if err := exits.UpdateTrailingStops(ctx); err != nil {
			log.Error("Trailing stop update failed", zap.Error(err))
		}
		decisions, err := exits.CheckExitConditions(ctx)
		if err != nil {
			log.Error("Exit evaluation failed", zap.Error(err))
			return
		}
		for _, symbol := range decisions.PositionsToClose {
			if err := executor.ClosePosition(ctx, symbol, decisions.ExitReasons[symbol]); err != nil {
				log.Error("Failed to close position",
					zap.String("symbol", symbol),
					zap.Error(err))
			}
		}
	})

	go runEvery(ctx, intervalOr(cfg.Reconcile.IntervalMs, 60_000), func(ctx context.Context) {
		if err := reconciler.SyncWithBroker(ctx); err != nil {
			log.Error("Reconciliation failed", zap.Error(err))
		}
	})

	<-ctx.Done()
	log.Info("Shutting down...")
}

func intervalOr(ms, fallback int) time.Duration {
	if ms <= 0 {
		ms = fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// runEvery invokes fn on a fixed interval until ctx is cancelled.
// Invocations are strictly sequential per loop.
func runEvery(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fn(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// snapshotPrices collects quotes for every symbol with a pending
// conditional order, subscribing new symbols to the stream as they
// appear.
func snapshotPrices(ctx context.Context, store *storage.SQLiteStore, adapter *exchange.BybitAdapter) (map[string]float64, error) {
	pending, err := store.ListConditionalOrdersByStatus(ctx, domain.ConditionalStatusPending)
	if err != nil {
		return nil, err
	}

	symbols := make(map[string]bool)
	for _, order := range pending {
		symbols[order.Symbol] = true
	}

	var toSubscribe []string
	for symbol := range symbols {
		toSubscribe = append(toSubscribe, symbol)
	}
	if err := adapter.Subscribe(toSubscribe); err != nil {
		return nil, err
	}

	prices := make(map[string]float64)
	for symbol := range symbols {
		quote, err := adapter.GetQuote(ctx, symbol)
		if err != nil || quote == nil {
			continue
		}
		prices[symbol] = quote.Price
	}
	return prices, nil
}
