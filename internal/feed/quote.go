package feed

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoPrice is returned when every adapter in the fallback chain failed
// or was rejected. Callers must never treat this as price = 0.
var ErrNoPrice = errors.New("no price available")

// ErrImplausibleQuote marks a quote outside the configured sanity bounds.
// It is treated as an adapter failure: the quote is never cached and the
// fallback chain continues.
var ErrImplausibleQuote = errors.New("quote outside sanity bounds")

// Quote is a normalized price/liquidity/volume snapshot for a token.
type Quote struct {
	Price        decimal.Decimal `json:"price"`
	LiquidityUSD decimal.Decimal `json:"liquidity_usd"`
	Volume24h    decimal.Decimal `json:"volume_24h"`
	Symbol       string          `json:"symbol"`
	ObservedAt   time.Time       `json:"observed_at"`
}

// Tick is a push-channel price update delivered by the subscription layer.
type Tick struct {
	Token     string          `json:"token"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Liquidity decimal.Decimal `json:"liquidity"`
	At        time.Time       `json:"at"`
}

// Trade is a push-channel large-transaction observation, fed to the
// whale tracker.
type Trade struct {
	Token     string    `json:"token"`
	Side      string    `json:"side"` // buy|sell
	AmountSOL float64   `json:"amount_sol"`
	At        time.Time `json:"at"`
}

// Bounds is the plausible price range for incoming quotes.
type Bounds struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

// NewBounds builds sanity bounds from configured float limits.
func NewBounds(min, max float64) Bounds {
	return Bounds{
		Min: decimal.NewFromFloat(min),
		Max: decimal.NewFromFloat(max),
	}
}

// Check validates a quote against the bounds. Zero and negative prices
// are always rejected.
func (b Bounds) Check(q Quote) error {
	if !q.Price.IsPositive() {
		return fmt.Errorf("%w: price %s", ErrImplausibleQuote, q.Price)
	}
	if q.Price.LessThanOrEqual(b.Min) || q.Price.GreaterThanOrEqual(b.Max) {
		return fmt.Errorf("%w: price %s not in (%s, %s)",
			ErrImplausibleQuote, q.Price, b.Min, b.Max)
	}
	return nil
}
