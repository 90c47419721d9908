package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ---------------------------------------------------------------------------
// Prometheus metrics
// ---------------------------------------------------------------------------

var (
	// TicksIngested counts push-channel ticks accepted by the feed.
	TicksIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradebot",
		Name:      "ticks_ingested_total",
		Help:      "Push-channel ticks accepted by the price feed.",
	})

	// PriceFetches counts price lookups by source and outcome.
	PriceFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradebot",
		Name:      "price_fetches_total",
		Help:      "Price lookups by source and outcome (hit, error, rejected, miss).",
	}, []string{"source", "outcome"})

	// ExitsFired counts exit actions executed, by reason.
	ExitsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradebot",
		Name:      "exits_fired_total",
		Help:      "Exit actions executed, labeled by trigger reason.",
	}, []string{"reason"})

	// EntriesOpened counts entry orders that filled, by signal reason.
	EntriesOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradebot",
		Name:      "entries_opened_total",
		Help:      "Entry orders filled, labeled by signal reason.",
	}, []string{"reason"})

	// SwapFailures counts swap submissions that returned an error.
	SwapFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradebot",
		Name:      "swap_failures_total",
		Help:      "Swap submissions that failed; position state left unchanged.",
	})

	// OpenPositions tracks the number of currently open positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tradebot",
		Name:      "open_positions",
		Help:      "Currently open positions.",
	})

	// BridgeDepth tracks the depth of each bridge queue view.
	BridgeDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "tradebot",
		Name:      "bridge_queue_depth",
		Help:      "Pending items per bridge queue view.",
	}, []string{"view"})

	// CycleDuration observes monitor cycle wall time.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tradebot",
		Name:      "monitor_cycle_seconds",
		Help:      "Wall time of one monitor fan-out cycle.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
