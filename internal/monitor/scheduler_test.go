package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotnw/tradebot/internal/bridge"
	"github.com/gotnw/tradebot/internal/config"
	"github.com/gotnw/tradebot/internal/engine"
	"github.com/gotnw/tradebot/internal/feed"
	"github.com/gotnw/tradebot/internal/notify"
	"github.com/gotnw/tradebot/internal/signals"
)

// scriptedAdapter serves fixed prices per token; unknown tokens fail.
type scriptedAdapter struct {
	prices map[string]float64
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) Fetch(_ context.Context, token string) (feed.Quote, error) {
	p, ok := a.prices[token]
	if !ok {
		return feed.Quote{}, errors.New("no pairs for token")
	}
	return feed.Quote{
		Price:        decimal.NewFromFloat(p),
		LiquidityUSD: decimal.NewFromInt(50000),
		Symbol:       "TOK",
		ObservedAt:   time.Now(),
	}, nil
}

type schedFixture struct {
	settings  *config.Store
	history   *feed.History
	feed      *feed.Feed
	queue     *bridge.Queue[feed.Tick]
	store     *engine.Store
	trader    *engine.Trader
	bus       *notify.Bus
	scheduler *Scheduler
}

func newSchedFixture(t *testing.T, s config.Settings, adapter feed.PriceSourceAdapter) *schedFixture {
	t.Helper()

	history := feed.NewHistory(32)
	pf := feed.New(feed.Config{
		Freshness:     time.Millisecond, // force adapter hits in tests
		PushStaleness: time.Minute,
	}, feed.NewBounds(0.0000001, 10000), feed.NewCache(), history, []feed.PriceSourceAdapter{adapter})

	store := engine.NewStore()
	pending := engine.NewPendingBuySet()
	trades := engine.NewTradeLog(100)
	trader := engine.NewTrader(store, engine.NewExitEngine(), trades, pending, engine.NewSimSwapper(), notify.NewBus(16))
	entry := engine.NewEntryEngine(store, pending, nil)
	agg := signals.NewAggregator(history, nil)

	settings := config.NewStore(s)
	f := &schedFixture{
		settings: settings,
		history:  history,
		feed:     pf,
		queue:    bridge.New[feed.Tick](),
		store:    store,
		trader:   trader,
		bus:      notify.NewBus(16),
	}
	f.scheduler = New(Config{
		CycleInterval:    10 * time.Millisecond,
		PositionInterval: time.Millisecond,
	}, settings, pf, f.queue, agg, entry, trader, store, f.bus)
	return f
}

func openSchedPosition(t *testing.T, f *schedFixture, token string) {
	t.Helper()
	pos, err := engine.NewPosition(token, "TOK", "meme",
		decimal.NewFromInt(1), decimal.NewFromFloat(0.2), decimal.NewFromInt(1000), f.settings.Load())
	require.NoError(t, err)
	require.NoError(t, f.store.Open(pos))
}

func TestRunCycleTokenFailureIsIsolated(t *testing.T) {
	s := config.DefaultSettings()
	// Only "b" has a price; it gaps down 12% and must fully close while
	// the unpriced "a" survives the batch untouched.
	f := newSchedFixture(t, s, &scriptedAdapter{prices: map[string]float64{"b": 0.88}})
	openSchedPosition(t, f, "a")
	openSchedPosition(t, f, "b")

	f.scheduler.runCycle(context.Background())

	assert.True(t, f.store.Has("a"), "price miss must only skip that token's cycle")
	assert.False(t, f.store.Has("b"))
}

func TestRunCycleOpensEntryForWatchedToken(t *testing.T) {
	s := config.DefaultSettings()
	s.AutoBuy = true
	f := newSchedFixture(t, s, &scriptedAdapter{prices: map[string]float64{"c": 1.12}})

	// Rising history: +10% momentum beats the 5% threshold.
	for _, p := range []float64{1.0, 1.04, 1.08, 1.10} {
		f.history.Append("c", feed.Point{Price: decimal.NewFromFloat(p), At: time.Now()})
	}
	f.scheduler.Watch("c", "meme")

	f.scheduler.runCycle(context.Background())

	assert.True(t, f.store.Has("c"))
}

func TestScanEntryRespectsPause(t *testing.T) {
	s := config.DefaultSettings()
	s.AutoBuy = true
	f := newSchedFixture(t, s, &scriptedAdapter{prices: map[string]float64{"c": 1.12}})
	for _, p := range []float64{1.0, 1.10} {
		f.history.Append("c", feed.Point{Price: decimal.NewFromFloat(p), At: time.Now()})
	}
	f.scheduler.Watch("c", "meme")
	f.scheduler.SetPauseCheck(func() bool { return true })

	f.scheduler.runCycle(context.Background())

	assert.False(t, f.store.Has("c"))
}

func TestScanEntryAutoBuyDisabled(t *testing.T) {
	s := config.DefaultSettings() // AutoBuy off by default
	f := newSchedFixture(t, s, &scriptedAdapter{prices: map[string]float64{"c": 1.12}})
	for _, p := range []float64{1.0, 1.10} {
		f.history.Append("c", feed.Point{Price: decimal.NewFromFloat(p), At: time.Now()})
	}
	f.scheduler.Watch("c", "meme")

	f.scheduler.runCycle(context.Background())

	assert.False(t, f.store.Has("c"))
}

func TestWatchUnwatch(t *testing.T) {
	f := newSchedFixture(t, config.DefaultSettings(), &scriptedAdapter{})

	f.scheduler.Watch("a", "meme")
	f.scheduler.Watch("b", "defi")
	assert.ElementsMatch(t, []string{"a", "b"}, f.scheduler.Watched())

	f.scheduler.Unwatch("a")
	assert.ElementsMatch(t, []string{"b"}, f.scheduler.Watched())
}

func TestEntryCandidatesExcludePositionedTokens(t *testing.T) {
	f := newSchedFixture(t, config.DefaultSettings(), &scriptedAdapter{})
	openSchedPosition(t, f, "held")
	f.scheduler.Watch("held", "meme")
	f.scheduler.Watch("free", "meme")

	assert.ElementsMatch(t, []string{"free"}, f.scheduler.entryCandidates())
}

func TestConsumeTicksRecordsPush(t *testing.T) {
	// The adapter knows nothing; a consumed push tick must still make the
	// price available through the fallback chain.
	f := newSchedFixture(t, config.DefaultSettings(), &scriptedAdapter{})

	f.queue.Put(feed.Tick{
		Token: "tok",
		Price: decimal.NewFromFloat(2.5),
		At:    time.Now(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	f.scheduler.ConsumeTicks(ctx)

	q, err := f.feed.GetPrice(context.Background(), "tok", false)
	require.NoError(t, err)
	assert.True(t, q.Price.Equal(decimal.NewFromFloat(2.5)))
}

func TestDueRateLimitsPerToken(t *testing.T) {
	f := newSchedFixture(t, config.DefaultSettings(), &scriptedAdapter{})

	assert.True(t, f.scheduler.due("tok", time.Hour))
	assert.False(t, f.scheduler.due("tok", time.Hour), "second check inside the interval must be skipped")
	assert.True(t, f.scheduler.due("other", time.Hour), "limiters are per token")
}

func TestDueRebuildsLimiterOnIntervalChange(t *testing.T) {
	// A token first seen in the entry scan switches cadence once a
	// position opens; the limiter must follow the new interval.
	f := newSchedFixture(t, config.DefaultSettings(), &scriptedAdapter{})

	require.True(t, f.scheduler.due("tok", time.Hour))
	require.False(t, f.scheduler.due("tok", time.Hour))

	assert.True(t, f.scheduler.due("tok", time.Millisecond), "interval change must rebuild the limiter")
	time.Sleep(5 * time.Millisecond)
	assert.True(t, f.scheduler.due("tok", time.Millisecond), "new cadence must govern later checks")
}

func TestScanEntryPublishesRejections(t *testing.T) {
	s := config.DefaultSettings()
	s.AutoBuy = true
	s.MaxPositions = 1
	f := newSchedFixture(t, s, &scriptedAdapter{prices: map[string]float64{"c": 1.12, "held": 1.0}})
	events := f.bus.Subscribe()

	openSchedPosition(t, f, "held")
	for _, p := range []float64{1.0, 1.10} {
		f.history.Append("c", feed.Point{Price: decimal.NewFromFloat(p), At: time.Now()})
	}
	f.scheduler.Watch("c", "meme")

	f.scheduler.runCycle(context.Background())

	assert.False(t, f.store.Has("c"))
	select {
	case ev := <-events:
		assert.Equal(t, notify.EntryRejected, ev.Kind)
		assert.Equal(t, "c", ev.Token)
		assert.Equal(t, engine.ReasonPositionCap, ev.Reason)
	default:
		t.Fatal("expected an entry_rejected event on the bus")
	}
}
