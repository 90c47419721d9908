package dexscreener

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchPicksDeepestLiquidityPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tok123", r.URL.Path)
		w.Write([]byte(`{
			"pairs": [
				{"priceUsd": "0.001", "liquidity": {"usd": 1000}, "volume": {"h24": 50}, "baseToken": {"symbol": "SHALLOW"}},
				{"priceUsd": "0.0012", "liquidity": {"usd": 90000}, "volume": {"h24": 8000}, "baseToken": {"symbol": "DEEP"}},
				{"priceUsd": "0.0011", "liquidity": {"usd": 20000}, "volume": {"h24": 300}, "baseToken": {"symbol": "MID"}}
			]
		}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	q, err := c.Fetch(context.Background(), "tok123")
	require.NoError(t, err)

	assert.True(t, q.Price.Equal(decimal.NewFromFloat(0.0012)))
	assert.Equal(t, "DEEP", q.Symbol)
	assert.True(t, q.LiquidityUSD.Equal(decimal.NewFromInt(90000)))
	assert.False(t, q.ObservedAt.IsZero())
}

func TestFetchNoPairs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"pairs": []}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.Fetch(context.Background(), "tok")
	assert.ErrorContains(t, err, "no pairs")
}

func TestFetchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.Fetch(context.Background(), "tok")
	assert.ErrorContains(t, err, "status 429")
}

func TestFetchBadPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"pairs": [{"priceUsd": "not-a-number", "liquidity": {"usd": 100}}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.Fetch(context.Background(), "tok")
	assert.Error(t, err)
}
