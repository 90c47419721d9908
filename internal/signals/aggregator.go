package signals

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/gotnw/tradebot/internal/feed"
)

// Metrics is the per-token signal snapshot handed to the entry and exit
// logic. Percentages are plain floats; prices stay decimal.
type Metrics struct {
	Price        decimal.Decimal `json:"price"`
	Volume       decimal.Decimal `json:"volume"`
	Liquidity    decimal.Decimal `json:"liquidity"`
	MomentumPct  float64         `json:"momentum_pct"`
	DipPct       float64         `json:"dip_pct"`
	Volatility   float64         `json:"volatility"`
	MicroPumpPct float64         `json:"micro_pump_pct"`
	WhaleBuys    int             `json:"whale_buys"`
	WhaleSells   int             `json:"whale_sells"`
	WhaleDump    bool            `json:"whale_dump"`
	Samples      int             `json:"samples"`
}

// Aggregator computes signal metrics from the rolling price history and
// the whale tracker. It holds no per-token state of its own.
type Aggregator struct {
	history *feed.History
	whales  *WhaleTracker
}

// NewAggregator creates an aggregator over the given history and tracker.
func NewAggregator(history *feed.History, whales *WhaleTracker) *Aggregator {
	return &Aggregator{history: history, whales: whales}
}

// Snapshot computes metrics for a token using up to window history points.
// With fewer than two samples, all rate metrics are zero.
func (a *Aggregator) Snapshot(token string, window int) Metrics {
	points := a.history.Recent(token, window)
	m := Metrics{Samples: len(points)}

	if a.whales != nil {
		m.WhaleBuys, m.WhaleSells = a.whales.RecentCounts(token)
		m.WhaleDump = a.whales.DumpDetected(token)
	}
	if len(points) == 0 {
		return m
	}

	last := points[len(points)-1]
	m.Price = last.Price
	m.Volume = last.Volume
	m.Liquidity = last.Liquidity

	if len(points) < 2 {
		return m
	}

	prices := make([]float64, len(points))
	for i, p := range points {
		prices[i] = p.Price.InexactFloat64()
	}

	m.MomentumPct = momentumPct(prices)
	m.DipPct = dipPct(prices)
	m.Volatility = volatility(prices)
	m.MicroPumpPct = microPumpPct(prices)
	return m
}

// momentumPct is the % change from the oldest to the newest sample.
func momentumPct(prices []float64) float64 {
	first, last := prices[0], prices[len(prices)-1]
	if first <= 0 {
		return 0
	}
	return (last - first) / first * 100
}

// dipPct is the drop from the window high to the newest sample, as a
// positive percentage. Zero when the newest sample is the high.
func dipPct(prices []float64) float64 {
	high := prices[0]
	for _, p := range prices {
		if p > high {
			high = p
		}
	}
	last := prices[len(prices)-1]
	if high <= 0 || last >= high {
		return 0
	}
	return (high - last) / high * 100
}

// volatility is the standard deviation of log returns, scaled to percent.
func volatility(prices []float64) float64 {
	var returns []float64
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 && prices[i] > 0 {
			returns = append(returns, math.Log(prices[i]/prices[i-1]))
		}
	}
	if len(returns) < 2 {
		return 0
	}

	var sum float64
	for _, r := range returns {
		sum += r
	}
	mean := sum / float64(len(returns))

	var variance float64
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance) * 100
}

// microPumpPct is the % change across the last three samples, catching
// short-interval spikes the full-window momentum smooths over.
func microPumpPct(prices []float64) float64 {
	n := len(prices)
	if n < 3 {
		return 0
	}
	base := prices[n-3]
	if base <= 0 {
		return 0
	}
	return (prices[n-1] - base) / base * 100
}
