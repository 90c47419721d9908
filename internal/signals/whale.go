package signals

import (
	"sync"
	"time"
)

// WhaleTx is a single large transaction observation.
type WhaleTx struct {
	AmountSOL float64
	Side      string // buy|sell
	At        time.Time
}

// WhaleTracker records transactions above a configured size threshold
// and exposes recent buy/sell counts as a market-stress signal.
type WhaleTracker struct {
	threshold float64
	window    time.Duration
	dumpCount int

	mu     sync.RWMutex
	tokens map[string][]WhaleTx
}

// NewWhaleTracker creates a tracker. Transactions below thresholdSOL are
// ignored; counts cover the trailing window; dumpCount sells inside the
// window flag a whale dump.
func NewWhaleTracker(thresholdSOL float64, window time.Duration, dumpCount int) *WhaleTracker {
	if window <= 0 {
		window = 5 * time.Minute
	}
	if dumpCount <= 0 {
		dumpCount = 3
	}
	return &WhaleTracker{
		threshold: thresholdSOL,
		window:    window,
		dumpCount: dumpCount,
		tokens:    make(map[string][]WhaleTx),
	}
}

// Record observes a transaction. Below-threshold amounts are dropped.
func (w *WhaleTracker) Record(token string, amountSOL float64, side string) {
	if amountSOL < w.threshold {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	txs := append(w.tokens[token], WhaleTx{AmountSOL: amountSOL, Side: side, At: time.Now()})
	w.tokens[token] = w.prune(txs)
}

// RecentCounts returns whale buy and sell counts inside the window.
func (w *WhaleTracker) RecentCounts(token string) (buys, sells int) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	cutoff := time.Now().Add(-w.window)
	for _, tx := range w.tokens[token] {
		if tx.At.Before(cutoff) {
			continue
		}
		if tx.Side == "sell" {
			sells++
		} else {
			buys++
		}
	}
	return buys, sells
}

// DumpDetected reports whether whale sells inside the window reached the
// configured dump count.
func (w *WhaleTracker) DumpDetected(token string) bool {
	_, sells := w.RecentCounts(token)
	return sells >= w.dumpCount
}

// Reset drops all observations for a token.
func (w *WhaleTracker) Reset(token string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.tokens, token)
}

// prune drops observations older than the window. Caller holds the lock.
func (w *WhaleTracker) prune(txs []WhaleTx) []WhaleTx {
	cutoff := time.Now().Add(-w.window)
	kept := txs[:0]
	for _, tx := range txs {
		if !tx.At.Before(cutoff) {
			kept = append(kept, tx)
		}
	}
	return kept
}
