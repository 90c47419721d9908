package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotnw/tradebot/internal/config"
)

func TestNewPositionValidation(t *testing.T) {
	s := config.DefaultSettings()

	_, err := NewPosition("tok", "TOK", "meme", d(0), d(0.2), d(1000), s)
	assert.Error(t, err, "zero entry price")

	_, err = NewPosition("tok", "TOK", "meme", d(1), d(0), d(1000), s)
	assert.Error(t, err, "zero amount")

	pos, err := NewPosition("tok", "TOK", "meme", d(1), d(0.2), d(1000), s)
	require.NoError(t, err)
	assert.NotEmpty(t, pos.ID)
	assert.Equal(t, StatusOpen, pos.Status)
	assert.True(t, pos.HighestPrice.Equal(d(1)))
	assert.True(t, pos.RemainingAmount.Equal(pos.Amount))
}

func TestNewPositionSortsLevels(t *testing.T) {
	s := config.DefaultSettings()
	s.TakeProfitLevels = []config.Level{
		{ThresholdPct: 100, SellPct: 25},
		{ThresholdPct: 20, SellPct: 25},
		{ThresholdPct: 50, SellPct: 25},
	}
	s.StopLossLevels = []config.Level{
		{ThresholdPct: -5, SellPct: 50},
		{ThresholdPct: -10, SellPct: 100},
	}

	pos, err := NewPosition("tok", "TOK", "meme", d(1), d(0.2), d(1000), s)
	require.NoError(t, err)

	assert.InDelta(t, 20.0, pos.TakeProfitLevels[0].ThresholdPct, 1e-9)
	assert.InDelta(t, 100.0, pos.TakeProfitLevels[2].ThresholdPct, 1e-9)
	assert.InDelta(t, -10.0, pos.StopLossLevels[0].ThresholdPct, 1e-9)
	assert.Len(t, pos.TPLevelsHit, 3)
	assert.Len(t, pos.SLLevelsHit, 2)
}

func TestGainPct(t *testing.T) {
	pos := newTestPosition(t, config.DefaultSettings())
	assert.InDelta(t, 25.0, pos.GainPct(d(1.25)), 1e-9)
	assert.InDelta(t, -10.0, pos.GainPct(d(0.90)), 1e-9)
}

func TestReduceClampsToZero(t *testing.T) {
	pos := newTestPosition(t, config.DefaultSettings())

	pos.reduce(50)
	assert.True(t, pos.RemainingTokenAmount.Equal(d(500)))
	assert.Equal(t, StatusOpen, pos.Status)

	pos.reduce(100)
	assert.True(t, pos.RemainingTokenAmount.IsZero())
	assert.Equal(t, StatusClosed, pos.Status)
}

func TestStoreOpenRejectsDuplicate(t *testing.T) {
	store := NewStore()
	openTestPosition(t, store, "tok", "meme")

	s := config.DefaultSettings()
	dup, err := NewPosition("tok", "TOK", "meme", d(1), d(0.2), d(1000), s)
	require.NoError(t, err)
	assert.ErrorIs(t, store.Open(dup), ErrPositionExists)
	assert.Equal(t, 1, store.Count())
}

func TestStoreRemoveIdempotent(t *testing.T) {
	store := NewStore()
	openTestPosition(t, store, "tok", "meme")
	require.Equal(t, 1, store.CategoryCount("meme"))

	store.Remove("tok")
	assert.False(t, store.Has("tok"))
	assert.Equal(t, 0, store.CategoryCount("meme"))

	store.Remove("tok") // double close must not go negative
	assert.Equal(t, 0, store.CategoryCount("meme"))
}

func TestStoreSnapshotIsCopy(t *testing.T) {
	store := NewStore()
	openTestPosition(t, store, "tok", "meme")

	snap := store.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Token = "mutated"

	assert.True(t, store.Has("tok"))
	assert.False(t, store.Has("mutated"))
}

func TestStoreWithPosition(t *testing.T) {
	store := NewStore()

	found, err := store.WithPosition("missing", func(_ *Position) error {
		t.Fatal("fn must not run without a position")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, found)

	openTestPosition(t, store, "tok", "meme")
	found, err = store.WithPosition("tok", func(pos *Position) error {
		pos.ObservePrice(d(2))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, found)

	snap := store.Snapshot()
	assert.True(t, snap[0].HighestPrice.Equal(d(2)))
}

func TestStoreRestoreSkipsExisting(t *testing.T) {
	store := NewStore()
	openTestPosition(t, store, "tok", "meme")

	s := config.DefaultSettings()
	ghost, err := NewPosition("tok", "GHOST", "meme", d(9), d(0.2), d(10), s)
	require.NoError(t, err)
	store.Restore(ghost)

	assert.Equal(t, 1, store.Count())
	assert.Equal(t, 1, store.CategoryCount("meme"))
	assert.Equal(t, "SYM", store.Snapshot()[0].Symbol)
}
