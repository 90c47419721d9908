package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/gotnw/tradebot/internal/bridge"
	"github.com/gotnw/tradebot/internal/config"
	"github.com/gotnw/tradebot/internal/engine"
	"github.com/gotnw/tradebot/internal/feed"
	"github.com/gotnw/tradebot/internal/notify"
	"github.com/gotnw/tradebot/internal/observability"
	"github.com/gotnw/tradebot/internal/signals"
)

// ---------------------------------------------------------------------------
// Monitor Scheduler — drives the tick -> aggregate -> evaluate cycle
// ---------------------------------------------------------------------------

// Config tunes the scheduler's cycle timing.
type Config struct {
	// CycleInterval is the sleep between fan-out batches.
	CycleInterval time.Duration
	// PositionInterval is the per-token minimum re-check interval for
	// open positions.
	PositionInterval time.Duration
	// RapidInterval drives the optional tick-level entry scan.
	RapidInterval time.Duration
	RapidEnabled  bool
}

// Scheduler runs the monitoring cycle for open positions and the entry
// scan for watched tokens. Each due token is evaluated in its own
// goroutine; a single token's failure never aborts the batch. Per-token
// rate limiters prevent redundant work when the loop outpaces prices.
type Scheduler struct {
	cfg      Config
	settings *config.Store
	feed     *feed.Feed
	queue    *bridge.Queue[feed.Tick]
	agg      *signals.Aggregator
	entry    *engine.EntryEngine
	trader   *engine.Trader
	store    *engine.Store
	bus      *notify.Bus

	mu       sync.RWMutex
	watch    map[string]string // token -> category
	limiters map[string]*tokenLimiter

	autoBuyPaused func() bool
}

// tokenLimiter pairs a limiter with the interval it was built for, so a
// token moving between the entry scan and position monitoring gets its
// cadence rebuilt instead of keeping the first-seen rate forever.
type tokenLimiter struct {
	lim      *rate.Limiter
	interval time.Duration
}

// New creates a scheduler.
func New(cfg Config, settings *config.Store, f *feed.Feed, q *bridge.Queue[feed.Tick],
	agg *signals.Aggregator, entry *engine.EntryEngine, trader *engine.Trader, store *engine.Store,
	bus *notify.Bus) *Scheduler {
	if cfg.CycleInterval <= 0 {
		cfg.CycleInterval = time.Second
	}
	if cfg.PositionInterval <= 0 {
		cfg.PositionInterval = time.Second
	}
	if cfg.RapidInterval <= 0 {
		cfg.RapidInterval = 500 * time.Millisecond
	}
	return &Scheduler{
		cfg:      cfg,
		settings: settings,
		feed:     f,
		queue:    q,
		agg:      agg,
		entry:    entry,
		trader:   trader,
		store:    store,
		bus:      bus,
		watch:    make(map[string]string),
		limiters: make(map[string]*tokenLimiter),
	}
}

// SetPauseCheck installs a predicate consulted before opening new
// positions (the control plane's soft pause).
func (s *Scheduler) SetPauseCheck(fn func() bool) {
	s.autoBuyPaused = fn
}

// Watch adds a token to the entry scan under a category.
func (s *Scheduler) Watch(token, category string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watch[token] = category
}

// Unwatch removes a token from the entry scan.
func (s *Scheduler) Unwatch(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watch, token)
}

// Watched returns the tokens currently in the entry scan.
func (s *Scheduler) Watched() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.watch))
	for t := range s.watch {
		out = append(out, t)
	}
	return out
}

// Run executes monitoring cycles until the context is done.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().
		Dur("cycle", s.cfg.CycleInterval).
		Dur("position_interval", s.cfg.PositionInterval).
		Bool("rapid", s.cfg.RapidEnabled).
		Msg("monitor: started")

	ticker := time.NewTicker(s.cfg.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("monitor: stopped")
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle fans out one evaluation per due token and waits for the batch.
func (s *Scheduler) runCycle(ctx context.Context) {
	start := time.Now()
	settings := s.settings.Load()

	var wg sync.WaitGroup

	for _, token := range s.store.Tokens() {
		if !s.due(token, s.cfg.PositionInterval) {
			continue
		}
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			s.checkPosition(ctx, tok, settings)
		}(token)
	}

	for _, token := range s.entryCandidates() {
		if !s.due(token, s.cfg.CycleInterval) {
			continue
		}
		wg.Add(1)
		go func(tok string) {
			defer wg.Done()
			s.scanEntry(ctx, tok, settings)
		}(token)
	}

	wg.Wait()
	observability.CycleDuration.Observe(time.Since(start).Seconds())
}

// RunRapid drives the tighter entry scan loop for tick-level momentum,
// when enabled.
func (s *Scheduler) RunRapid(ctx context.Context) {
	if !s.cfg.RapidEnabled {
		return
	}
	ticker := time.NewTicker(s.cfg.RapidInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			settings := s.settings.Load()
			var wg sync.WaitGroup
			for _, token := range s.entryCandidates() {
				wg.Add(1)
				go func(tok string) {
					defer wg.Done()
					s.scanEntry(ctx, tok, settings)
				}(token)
			}
			wg.Wait()
		}
	}
}

// ConsumeTicks drains the cooperative view of the bridge queue: each
// push tick refreshes the feed's push channel and, for tokens with an
// open position, triggers an immediate exit check.
func (s *Scheduler) ConsumeTicks(ctx context.Context) {
	for {
		tick, ok := s.queue.GetCooperative(ctx)
		if !ok {
			return
		}

		s.feed.RecordPush(tick)

		if s.store.Has(tick.Token) && s.due(tick.Token, s.cfg.PositionInterval) {
			settings := s.settings.Load()
			s.checkPosition(ctx, tick.Token, settings)
		}
	}
}

// DrainDisplay consumes the preemptive view, surfacing ticks as log
// lines for the display/reporting side without touching trading state.
func (s *Scheduler) DrainDisplay(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		tick, ok := s.queue.GetPreemptive(true, time.Second)
		if !ok {
			continue
		}
		log.Debug().
			Str("token", tick.Token).
			Str("price", tick.Price.String()).
			Msg("tick")
	}
}

// checkPosition runs one exit cycle for a token holding a position.
func (s *Scheduler) checkPosition(ctx context.Context, token string, settings config.Settings) {
	q, err := s.feed.GetPrice(ctx, token, false)
	if err != nil {
		if errors.Is(err, feed.ErrNoPrice) {
			log.Warn().Str("token", token).Msg("monitor: no price, skipping cycle")
			return
		}
		log.Error().Err(err).Str("token", token).Msg("monitor: price fetch failed")
		return
	}

	if err := s.trader.CheckExits(ctx, token, q.Price, settings); err != nil {
		log.Error().Err(err).Str("token", token).Msg("monitor: exit check failed")
	}
}

// scanEntry evaluates entry signals for a watched token.
func (s *Scheduler) scanEntry(ctx context.Context, token string, settings config.Settings) {
	if !settings.AutoBuy {
		return
	}
	if s.autoBuyPaused != nil && s.autoBuyPaused() {
		return
	}

	q, err := s.feed.GetPrice(ctx, token, false)
	if err != nil {
		log.Debug().Err(err).Str("token", token).Msg("monitor: entry scan skipped")
		return
	}

	s.mu.RLock()
	category := s.watch[token]
	s.mu.RUnlock()

	metrics := s.agg.Snapshot(token, settings.MomentumWindow)
	decision := s.entry.Evaluate(token, category, metrics, settings)
	if !decision.ShouldBuy {
		s.publishRejection(token, decision.Reason)
		return
	}

	log.Info().
		Str("token", token).
		Str("reason", decision.Reason).
		Float64("momentum_pct", metrics.MomentumPct).
		Float64("dip_pct", metrics.DipPct).
		Msg("monitor: entry signal")

	if _, err := s.trader.OpenPosition(ctx, token, q.Symbol, category, q, settings, decision.Reason); err != nil {
		log.Warn().Err(err).Str("token", token).Msg("monitor: entry failed")
	}
}

// publishRejection surfaces hard entry rejections on the bus. A quiet
// cycle (no signal) is not an event; capacity and safety vetoes are.
func (s *Scheduler) publishRejection(token, reason string) {
	if s.bus == nil {
		return
	}
	switch reason {
	case engine.ReasonWhaleDump:
		s.bus.Publish(notify.Event{Kind: notify.WhaleDump, Token: token, Reason: reason})
	case engine.ReasonPendingBuy, engine.ReasonCategoryCap, engine.ReasonPositionCap:
		s.bus.Publish(notify.Event{Kind: notify.EntryRejected, Token: token, Reason: reason})
	}
}

// entryCandidates returns watched tokens without an open position.
func (s *Scheduler) entryCandidates() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.watch))
	for t := range s.watch {
		if !s.store.Has(t) {
			out = append(out, t)
		}
	}
	return out
}

// due consults the token's rate limiter so re-checks never run more
// often than the minimum interval.
func (s *Scheduler) due(token string, interval time.Duration) bool {
	s.mu.Lock()
	tl, ok := s.limiters[token]
	if !ok || tl.interval != interval {
		tl = &tokenLimiter{
			lim:      rate.NewLimiter(rate.Every(interval), 1),
			interval: interval,
		}
		s.limiters[token] = tl
	}
	s.mu.Unlock()
	return tl.lim.Allow()
}
