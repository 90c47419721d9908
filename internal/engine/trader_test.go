package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotnw/tradebot/internal/config"
	"github.com/gotnw/tradebot/internal/feed"
	"github.com/gotnw/tradebot/internal/notify"
)

type traderFixture struct {
	store   *Store
	trades  *TradeLog
	pending *PendingBuySet
	swapper *SimSwapper
	trader  *Trader
}

func newTraderFixture(t *testing.T) *traderFixture {
	t.Helper()
	f := &traderFixture{
		store:   NewStore(),
		trades:  NewTradeLog(100),
		pending: NewPendingBuySet(),
		swapper: NewSimSwapper(),
	}
	f.trader = NewTrader(f.store, NewExitEngine(), f.trades, f.pending, f.swapper, notify.NewBus(16))
	return f
}

func goodQuote() feed.Quote {
	return feed.Quote{
		Price:        d(1.0),
		LiquidityUSD: d(50000),
		Symbol:       "TOK",
	}
}

func TestCheckExitsSwapFailureLeavesPositionUnchanged(t *testing.T) {
	s := config.DefaultSettings()
	f := newTraderFixture(t)
	openTestPosition(t, f.store, "tok", "meme")
	f.swapper.FailNext(errors.New("rpc unreachable"))

	err := f.trader.CheckExits(context.Background(), "tok", d(1.25), s)
	require.Error(t, err)

	// Position must be re-evaluatable next cycle as if nothing happened.
	snap := f.store.Snapshot()
	require.Len(t, snap, 1)
	assert.False(t, snap[0].TPLevelsHit[0])
	assert.True(t, snap[0].RemainingTokenAmount.Equal(d(1000)))
	assert.Equal(t, 0, f.trades.Len())
	assert.EqualValues(t, 1, f.trader.Stats().SwapFailures)
}

func TestCheckExitsPartialTakeProfit(t *testing.T) {
	s := config.DefaultSettings()
	f := newTraderFixture(t)
	openTestPosition(t, f.store, "tok", "meme")

	require.NoError(t, f.trader.CheckExits(context.Background(), "tok", d(1.25), s))

	snap := f.store.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].TPLevelsHit[0])
	assert.True(t, snap[0].RemainingTokenAmount.Equal(d(750)))

	records := f.trades.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "sell", records[0].Side)
	assert.Equal(t, "take_profit @ 20.0%", records[0].Reason)
	assert.NotEmpty(t, records[0].TxID)
}

func TestCheckExitsFullCloseRemovesPosition(t *testing.T) {
	s := config.DefaultSettings()
	s.TrailingStopPct = 0
	f := newTraderFixture(t)
	openTestPosition(t, f.store, "tok", "meme")

	require.NoError(t, f.trader.CheckExits(context.Background(), "tok", d(0.88), s))

	assert.False(t, f.store.Has("tok"))
	assert.Equal(t, 0, f.store.CategoryCount("meme"))
	records := f.trades.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "stop_loss @ -10.0%", records[0].Reason)
}

func TestCheckExitsConfirmationTimeoutAppliesOptimistically(t *testing.T) {
	s := config.DefaultSettings()
	f := newTraderFixture(t)
	openTestPosition(t, f.store, "tok", "meme")
	f.swapper.FailNext(ErrConfirmationTimeout)

	require.NoError(t, f.trader.CheckExits(context.Background(), "tok", d(1.25), s))

	snap := f.store.Snapshot()
	require.Len(t, snap, 1)
	assert.True(t, snap[0].TPLevelsHit[0], "unconfirmed fill is assumed successful")
	assert.Equal(t, 1, f.trades.Len())
}

func TestCheckExitsAutoSellDisabled(t *testing.T) {
	s := config.DefaultSettings()
	s.AutoSell = false
	f := newTraderFixture(t)
	openTestPosition(t, f.store, "tok", "meme")

	require.NoError(t, f.trader.CheckExits(context.Background(), "tok", d(1.25), s))

	snap := f.store.Snapshot()
	assert.False(t, snap[0].TPLevelsHit[0])
	assert.Equal(t, 0, f.trades.Len())
}

func TestCheckExitsNoPosition(t *testing.T) {
	f := newTraderFixture(t)
	assert.NoError(t, f.trader.CheckExits(context.Background(), "tok", d(1.0), config.DefaultSettings()))
}

func TestOpenPosition(t *testing.T) {
	s := config.DefaultSettings()

	t.Run("success", func(t *testing.T) {
		f := newTraderFixture(t)
		pos, err := f.trader.OpenPosition(context.Background(), "tok", "TOK", "meme", goodQuote(), s, ReasonMomentum)
		require.NoError(t, err)

		assert.True(t, f.store.Has("tok"))
		assert.True(t, pos.TokenAmount.Equal(d(0.2)), "0.2 SOL at price 1.0")
		assert.False(t, f.pending.Has("tok"), "pending entry must clear on resolution")

		records := f.trades.Records()
		require.Len(t, records, 1)
		assert.Equal(t, "buy", records[0].Side)
		assert.Equal(t, ReasonMomentum, records[0].Reason)
	})

	t.Run("price below fast-buy floor", func(t *testing.T) {
		f := newTraderFixture(t)
		q := goodQuote()
		q.Price = d(0.000001)
		_, err := f.trader.OpenPosition(context.Background(), "tok", "TOK", "meme", q, s, ReasonMomentum)
		require.Error(t, err)
		assert.False(t, f.store.Has("tok"))
		assert.False(t, f.pending.Has("tok"))
	})

	t.Run("liquidity below minimum", func(t *testing.T) {
		f := newTraderFixture(t)
		q := goodQuote()
		q.LiquidityUSD = d(100)
		_, err := f.trader.OpenPosition(context.Background(), "tok", "TOK", "meme", q, s, ReasonMomentum)
		assert.Error(t, err)
	})

	t.Run("in-flight entry rejected", func(t *testing.T) {
		f := newTraderFixture(t)
		require.True(t, f.pending.TryAdd("tok"))
		_, err := f.trader.OpenPosition(context.Background(), "tok", "TOK", "meme", goodQuote(), s, ReasonMomentum)
		assert.ErrorIs(t, err, ErrEntryInFlight)
	})

	t.Run("swap failure opens nothing", func(t *testing.T) {
		f := newTraderFixture(t)
		f.swapper.FailNext(errors.New("slippage exceeded"))
		_, err := f.trader.OpenPosition(context.Background(), "tok", "TOK", "meme", goodQuote(), s, ReasonMomentum)
		require.Error(t, err)
		assert.False(t, f.store.Has("tok"))
		assert.Equal(t, 0, f.trades.Len())
	})
}

func TestForceCloseAll(t *testing.T) {
	f := newTraderFixture(t)
	openTestPosition(t, f.store, "a", "meme")
	openTestPosition(t, f.store, "b", "defi")

	f.trader.ForceCloseAll(context.Background())

	assert.Equal(t, 0, f.store.Count())
	records := f.trades.Records()
	require.Len(t, records, 2)
	for _, r := range records {
		assert.Equal(t, "force_close", r.Reason)
	}
}

func TestSaveHookRunsAfterStateChanges(t *testing.T) {
	s := config.DefaultSettings()
	f := newTraderFixture(t)
	openTestPosition(t, f.store, "tok", "meme")

	saves := 0
	f.trader.SetSaveHook(func() error {
		saves++
		return nil
	})

	require.NoError(t, f.trader.CheckExits(context.Background(), "tok", d(1.25), s))
	assert.Equal(t, 1, saves)

	_, err := f.trader.OpenPosition(context.Background(), "tok2", "T2", "defi", goodQuote(), s, ReasonDip)
	require.NoError(t, err)
	assert.Equal(t, 2, saves)
}
