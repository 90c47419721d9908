package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gotnw/tradebot/internal/adapters/dexscreener"
	"github.com/gotnw/tradebot/internal/adapters/jupiter"
	"github.com/gotnw/tradebot/internal/bridge"
	"github.com/gotnw/tradebot/internal/config"
	"github.com/gotnw/tradebot/internal/engine"
	"github.com/gotnw/tradebot/internal/feed"
	"github.com/gotnw/tradebot/internal/monitor"
	"github.com/gotnw/tradebot/internal/notify"
	"github.com/gotnw/tradebot/internal/observability"
	"github.com/gotnw/tradebot/internal/signals"
	"github.com/gotnw/tradebot/internal/state"
)

// controlState tracks the operational state for the control plane.
type controlState struct {
	paused atomic.Bool // soft pause: no new entries, manage existing
	killed atomic.Bool // hard kill: close all, halt entries
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	profile := flag.String("profile", "", "Strategy profile: aggressive|balanced|conservative")
	simMode := flag.Bool("sim", false, "Simulated swaps only")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	if *simMode {
		cfg.General.SimMode = true
	}

	setupLogging(cfg.General)

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Configuration validation failed")
	}

	settings := cfg.Trading
	activeProfile := *profile
	if activeProfile != "" {
		settings, err = config.ApplyProfile(settings, activeProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Unknown strategy profile")
		}
	}
	settingsStore := config.NewStore(settings)

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Bool("sim_mode", cfg.General.SimMode).
		Str("profile", activeProfile).
		Bool("autobuy", settings.AutoBuy).
		Bool("autosell", settings.AutoSell).
		Int("max_positions", settings.MaxPositions).
		Float64("trailing_stop_pct", settings.TrailingStopPct).
		Msg("Configuration loaded")

	// Price pipeline.
	cache := feed.NewCache()
	history := feed.NewHistory(cfg.Feed.HistoryCap)
	bounds := feed.NewBounds(cfg.Feed.MinPriceUSD, cfg.Feed.MaxPriceUSD)

	requestTimeout := time.Duration(cfg.Feed.RequestTimeoutSeconds) * time.Second
	dex := dexscreener.New(cfg.Feed.DexScreenerURL, requestTimeout)
	jup := jupiter.New(jupiter.Config{
		QuoteURL:           cfg.Feed.JupiterURL,
		SolPriceURL:        cfg.Feed.SolPriceURL,
		DefaultSolPriceUSD: cfg.Feed.DefaultSolPriceUSD,
		Timeout:            requestTimeout,
	})

	priceFeed := feed.New(feed.Config{
		Freshness:          time.Duration(cfg.Feed.FreshnessSeconds) * time.Second,
		PushStaleness:      time.Duration(cfg.Feed.PushStalenessSeconds) * time.Second,
		ForceRefreshBudget: time.Duration(cfg.Feed.ForceRefreshBudgetSeconds) * time.Second,
	}, bounds, cache, history, []feed.PriceSourceAdapter{dex, jup})

	// Push subscription -> bridge queue.
	tickQueue := bridge.New[feed.Tick]()
	wsClient := feed.NewWSClient(feed.WSConfig{URL: cfg.Feed.WSURL})
	wsClient.SetOnTick(tickQueue.Put)

	// Signals.
	whales := signals.NewWhaleTracker(settings.WhaleThresholdSOL, 5*time.Minute, 3)
	wsClient.SetOnTrade(func(tr feed.Trade) {
		whales.Record(tr.Token, tr.AmountSOL, tr.Side)
	})
	aggregator := signals.NewAggregator(history, whales)
	predictor := &signals.ThresholdPredictor{
		MomentumPct: settings.MomentumThresholdPct,
		Volatility:  settings.VolatilityThreshold,
	}

	// Trading engine.
	posStore := engine.NewStore()
	pending := engine.NewPendingBuySet()
	exits := engine.NewExitEngine()
	trades := engine.NewTradeLog(cfg.State.HistoryCap)
	entry := engine.NewEntryEngine(posStore, pending, predictor)
	bus := notify.NewBus(256)
	swapper := engine.NewSimSwapper()
	if !cfg.General.SimMode {
		log.Warn().Msg("Live swap execution not configured, falling back to simulated swaps")
	}
	trader := engine.NewTrader(posStore, exits, trades, pending, swapper, bus)

	// State persistence.
	stateMgr := state.NewManager(cfg.State.Path)
	if snap, err := stateMgr.Load(); err != nil {
		log.Warn().Err(err).Str("path", cfg.State.Path).Msg("State load failed, starting fresh")
	} else {
		for i := range snap.Positions {
			pos := snap.Positions[i]
			posStore.Restore(&pos)
		}
		trades.Restore(snap.Trades)
		if len(snap.Positions) > 0 || len(snap.Trades) > 0 {
			log.Info().
				Int("positions", len(snap.Positions)).
				Int("trades", len(snap.Trades)).
				Msg("State restored")
		}
	}
	trader.SetSaveHook(func() error {
		return stateMgr.Save(state.Snapshot{
			Positions: posStore.Snapshot(),
			Trades:    trades.Records(),
			Strategy:  activeProfile,
		})
	})

	// Monitor scheduler.
	ctrl := &controlState{}
	scheduler := monitor.New(monitor.Config{
		CycleInterval:    time.Duration(cfg.Monitor.CycleIntervalMs) * time.Millisecond,
		PositionInterval: time.Duration(cfg.Monitor.PositionIntervalMs) * time.Millisecond,
		RapidInterval:    time.Duration(cfg.Monitor.RapidCycleIntervalMs) * time.Millisecond,
		RapidEnabled:     cfg.Monitor.RapidCycleEnabled,
	}, settingsStore, priceFeed, tickQueue, aggregator, entry, trader, posStore, bus)
	scheduler.SetPauseCheck(func() bool {
		return ctrl.paused.Load() || ctrl.killed.Load()
	})

	// Re-watch tokens carried by restored positions.
	for _, pos := range posStore.Snapshot() {
		scheduler.Watch(pos.Token, pos.Category)
		if err := wsClient.Subscribe(pos.Token); err != nil {
			log.Warn().Err(err).Str("token", pos.Token).Msg("Push subscribe failed")
		}
	}

	// Health checks.
	healthMon := observability.NewHealthMonitor()
	healthMon.Register("push_feed", func(_ context.Context) observability.ComponentHealth {
		if wsClient.Connected() {
			return observability.ComponentHealth{Status: observability.StatusHealthy}
		}
		return observability.ComponentHealth{
			Status:  observability.StatusDegraded,
			Message: "push subscription disconnected, REST fallback active",
		}
	})
	healthMon.Register("positions", func(_ context.Context) observability.ComponentHealth {
		return observability.ComponentHealth{
			Status:  observability.StatusHealthy,
			Message: fmt.Sprintf("%d open", posStore.Count()),
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	var wg sync.WaitGroup

	// Push subscription loop.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := wsClient.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Push subscription terminated")
			bus.Publish(notify.Event{Kind: notify.PriceSourceDegraded, Reason: "push subscription down"})
		}
	}()

	// Monitor cycles + tick consumers.
	wg.Add(1)
	go func() { defer wg.Done(); scheduler.Run(ctx) }()
	wg.Add(1)
	go func() { defer wg.Done(); scheduler.RunRapid(ctx) }()
	wg.Add(1)
	go func() { defer wg.Done(); scheduler.ConsumeTicks(ctx) }()
	wg.Add(1)
	go func() { defer wg.Done(); scheduler.DrainDisplay(ctx) }()

	// Notification subscriber: surfaces engine events as log lines.
	events := bus.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case e := <-events:
				log.Info().
					Str("kind", string(e.Kind)).
					Str("token", e.Token).
					Str("reason", e.Reason).
					Msg("[EVENT]")
			}
		}
	}()

	// HTTP: health, stats, positions, trades, metrics, control plane.
	wg.Add(1)
	go func() {
		defer wg.Done()
		runHTTP(ctx, cfg, ctrl, healthMon, scheduler, wsClient, priceFeed, trader, posStore, trades, settingsStore)
	}()

	// Periodic stats logging.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ts := trader.Stats()
				fs := priceFeed.Stats()
				log.Info().
					Int64("buys", ts.Buys).
					Int64("sells", ts.Sells).
					Int64("swap_failures", ts.SwapFailures).
					Int("open_positions", ts.OpenPositions).
					Int64("cache_hits", fs.CacheHits).
					Int64("push_hits", fs.PushHits).
					Int64("price_misses", fs.Misses).
					Int("coop_depth", tickQueue.CooperativeLen()).
					Bool("paused", ctrl.paused.Load()).
					Msg("[STATS]")
			}
		}
	}()

	log.Info().Msg("Trade bot running")
	<-ctx.Done()

	log.Info().Msg("Shutting down...")
	wg.Wait()

	// Persist final state.
	if err := stateMgr.Save(state.Snapshot{
		Positions: posStore.Snapshot(),
		Trades:    trades.Records(),
		Strategy:  activeProfile,
	}); err != nil {
		log.Error().Err(err).Msg("Final state save failed")
	}

	final := trader.Stats()
	log.Info().
		Int64("buys", final.Buys).
		Int64("sells", final.Sells).
		Int("open_positions", final.OpenPositions).
		Msg("Trade bot - Final Statistics")
	log.Info().Msg("Shutdown complete")
}

func runHTTP(ctx context.Context, cfg *config.Config, ctrl *controlState,
	healthMon *observability.HealthMonitor, scheduler *monitor.Scheduler,
	wsClient *feed.WSClient, priceFeed *feed.Feed, trader *engine.Trader,
	posStore *engine.Store, trades *engine.TradeLog, settingsStore *config.Store) {

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(healthMon.Check(r.Context()))
	})

	mux.HandleFunc("/stats", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"trader":  trader.Stats(),
			"feed":    priceFeed.Stats(),
			"watched": scheduler.Watched(),
			"paused":  ctrl.paused.Load(),
			"killed":  ctrl.killed.Load(),
		})
	})

	mux.HandleFunc("/positions", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(posStore.Snapshot())
	})

	mux.HandleFunc("/trades", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(trades.Records())
	})

	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", observability.Handler())
	}

	mux.HandleFunc("/watch", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "token required", http.StatusBadRequest)
			return
		}
		category := r.URL.Query().Get("category")
		scheduler.Watch(token, category)
		if err := wsClient.Subscribe(token); err != nil {
			log.Warn().Err(err).Str("token", token).Msg("Push subscribe failed")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"watching","token":%q}`, token)
	})

	mux.HandleFunc("/control/pause", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		ctrl.paused.Store(true)
		log.Warn().Msg("[CONTROL] Paused - no new entries")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"paused"}`)
	})

	mux.HandleFunc("/control/resume", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		ctrl.paused.Store(false)
		ctrl.killed.Store(false)
		log.Info().Msg("[CONTROL] Resumed")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"running"}`)
	})

	mux.HandleFunc("/control/kill", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		ctrl.killed.Store(true)
		ctrl.paused.Store(true)
		log.Error().Msg("[CONTROL] Kill switch - closing all positions")
		go func() {
			killCtx, killCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer killCancel()
			trader.ForceCloseAll(killCtx)
		}()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"killed","action":"force_close_all"}`)
	})

	mux.HandleFunc("/control/strategy", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		name := r.URL.Query().Get("profile")
		updated, err := config.ApplyProfile(settingsStore.Load(), name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := settingsStore.Swap(updated); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Info().Str("profile", name).Msg("[CONTROL] Strategy profile applied")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","profile":%q}`, name)
	})

	addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("HTTP server started (health + stats + control)")

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("HTTP server error")
	}
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "tradebot").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "tradebot").
			Str("instance", general.InstanceID).Logger()
	}
}
