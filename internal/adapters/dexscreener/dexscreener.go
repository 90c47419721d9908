package dexscreener

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gotnw/tradebot/internal/feed"
)

// ---------------------------------------------------------------------------
// DexScreener adapter — primary REST price aggregator
// ---------------------------------------------------------------------------

// Client fetches token quotes from the DexScreener pairs API. When a
// token trades in several pools, the pool with the deepest liquidity
// wins.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a DexScreener client.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string { return "dexscreener" }

type pairResponse struct {
	Pairs []struct {
		PriceUSD  string `json:"priceUsd"`
		Liquidity struct {
			USD float64 `json:"usd"`
		} `json:"liquidity"`
		Volume struct {
			H24 float64 `json:"h24"`
		} `json:"volume"`
		BaseToken struct {
			Symbol string `json:"symbol"`
		} `json:"baseToken"`
	} `json:"pairs"`
}

// Fetch returns the normalized quote for a token.
func (c *Client) Fetch(ctx context.Context, token string) (feed.Quote, error) {
	url := fmt.Sprintf("%s/%s", c.baseURL, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return feed.Quote{}, fmt.Errorf("dexscreener: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return feed.Quote{}, fmt.Errorf("dexscreener: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return feed.Quote{}, fmt.Errorf("dexscreener: unexpected status %d", resp.StatusCode)
	}

	var parsed pairResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return feed.Quote{}, fmt.Errorf("dexscreener: decode: %w", err)
	}
	if len(parsed.Pairs) == 0 {
		return feed.Quote{}, fmt.Errorf("dexscreener: no pairs for token %s", token)
	}

	best := parsed.Pairs[0]
	for _, p := range parsed.Pairs[1:] {
		if p.Liquidity.USD > best.Liquidity.USD {
			best = p
		}
	}

	price, err := decimal.NewFromString(best.PriceUSD)
	if err != nil {
		return feed.Quote{}, fmt.Errorf("dexscreener: parse price %q: %w", best.PriceUSD, err)
	}

	return feed.Quote{
		Price:        price,
		LiquidityUSD: decimal.NewFromFloat(best.Liquidity.USD),
		Volume24h:    decimal.NewFromFloat(best.Volume.H24),
		Symbol:       best.BaseToken.Symbol,
		ObservedAt:   time.Now(),
	}, nil
}
