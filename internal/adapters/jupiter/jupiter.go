package jupiter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gotnw/tradebot/internal/feed"
)

// ---------------------------------------------------------------------------
// Jupiter adapter — swap-quote-derived price, last rung of the chain
// ---------------------------------------------------------------------------

// SOLMint is the wrapped SOL mint address used as the quote input.
const SOLMint = "So11111111111111111111111111111111111111112"

// notionalLamports is the fixed swap size priced against: 1 SOL.
const notionalLamports = 1_000_000_000

// Config configures the Jupiter price client.
type Config struct {
	QuoteURL    string
	SolPriceURL string
	// DefaultSolPriceUSD is used when the reference rate lookup fails.
	DefaultSolPriceUSD float64
	// TokenDecimals is assumed for out-amount scaling (SPL default 6).
	TokenDecimals int32
	// SolPriceTTL bounds how long a fetched SOL/USD rate is reused.
	SolPriceTTL time.Duration
	Timeout     time.Duration
}

// Client derives a token's USD price from a quoted 1-SOL swap, using a
// cached SOL/USD reference rate with a configured fallback.
type Client struct {
	cfg  Config
	http *http.Client

	mu          sync.Mutex
	solPriceUSD decimal.Decimal
	solPriceAt  time.Time
}

// New creates a Jupiter price client.
func New(cfg Config) *Client {
	if cfg.TokenDecimals == 0 {
		cfg.TokenDecimals = 6
	}
	if cfg.SolPriceTTL <= 0 {
		cfg.SolPriceTTL = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.DefaultSolPriceUSD <= 0 {
		cfg.DefaultSolPriceUSD = 150
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *Client) Name() string { return "jupiter" }

type quoteResponse struct {
	OutAmount string `json:"outAmount"`
}

// Fetch quotes a 1-SOL swap into the token and converts the implied
// per-token SOL price to USD. Liquidity and volume are unknown on this
// path and left at zero.
func (c *Client) Fetch(ctx context.Context, token string) (feed.Quote, error) {
	url := fmt.Sprintf("%s?inputMint=%s&outputMint=%s&amount=%d",
		c.cfg.QuoteURL, SOLMint, token, notionalLamports)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return feed.Quote{}, fmt.Errorf("jupiter: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return feed.Quote{}, fmt.Errorf("jupiter: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return feed.Quote{}, fmt.Errorf("jupiter: unexpected status %d", resp.StatusCode)
	}

	var parsed quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return feed.Quote{}, fmt.Errorf("jupiter: decode: %w", err)
	}

	outRaw, err := decimal.NewFromString(parsed.OutAmount)
	if err != nil || !outRaw.IsPositive() {
		return feed.Quote{}, fmt.Errorf("jupiter: bad out amount %q", parsed.OutAmount)
	}
	outTokens := outRaw.Shift(-c.cfg.TokenDecimals)

	solUSD := c.solPrice(ctx)
	price := solUSD.Div(outTokens) // USD paid for 1 SOL worth of tokens, per token

	return feed.Quote{
		Price:      price,
		ObservedAt: time.Now(),
	}, nil
}

// solPrice returns the SOL/USD reference rate: cached value inside the
// TTL, then a fresh lookup, then the configured default.
func (c *Client) solPrice(ctx context.Context) decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.solPriceUSD.IsZero() && time.Since(c.solPriceAt) < c.cfg.SolPriceTTL {
		return c.solPriceUSD
	}

	if p, err := c.fetchSolPrice(ctx); err == nil {
		c.solPriceUSD = p
		c.solPriceAt = time.Now()
		return p
	} else {
		log.Debug().Err(err).Msg("jupiter: SOL/USD lookup failed, using fallback rate")
	}

	if !c.solPriceUSD.IsZero() {
		return c.solPriceUSD // stale beats nothing
	}
	return decimal.NewFromFloat(c.cfg.DefaultSolPriceUSD)
}

type solPriceResponse struct {
	Solana struct {
		USD float64 `json:"usd"`
	} `json:"solana"`
}

func (c *Client) fetchSolPrice(ctx context.Context) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.SolPriceURL, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var parsed solPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return decimal.Zero, fmt.Errorf("decode: %w", err)
	}
	if parsed.Solana.USD <= 0 {
		return decimal.Zero, fmt.Errorf("non-positive rate %g", parsed.Solana.USD)
	}
	return decimal.NewFromFloat(parsed.Solana.USD), nil
}
