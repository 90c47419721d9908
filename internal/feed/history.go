package feed

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Point is one sample in a token's rolling history.
type Point struct {
	Price     decimal.Decimal
	Volume    decimal.Decimal
	Liquidity decimal.Decimal
	At        time.Time
}

// tokenHistory is a bounded ring of points for one token.
type tokenHistory struct {
	points []Point
	head   int
	count  int
}

// History keeps a bounded rolling price/volume/liquidity series per token
// for the signal aggregator. Oldest samples are overwritten once the cap
// is reached.
type History struct {
	cap    int
	mu     sync.RWMutex
	tokens map[string]*tokenHistory
}

// NewHistory creates a history store with the given per-token cap.
func NewHistory(cap int) *History {
	if cap < 2 {
		cap = 2
	}
	return &History{
		cap:    cap,
		tokens: make(map[string]*tokenHistory),
	}
}

// Append records a sample for a token.
func (h *History) Append(token string, p Point) {
	h.mu.Lock()
	defer h.mu.Unlock()

	th, ok := h.tokens[token]
	if !ok {
		th = &tokenHistory{points: make([]Point, h.cap)}
		h.tokens[token] = th
	}
	th.points[th.head] = p
	th.head = (th.head + 1) % h.cap
	if th.count < h.cap {
		th.count++
	}
}

// Recent returns up to n most recent samples for a token, oldest first.
func (h *History) Recent(token string, n int) []Point {
	h.mu.RLock()
	defer h.mu.RUnlock()

	th, ok := h.tokens[token]
	if !ok || th.count == 0 {
		return nil
	}
	if n <= 0 || n > th.count {
		n = th.count
	}

	out := make([]Point, 0, n)
	start := (th.head - n + h.cap) % h.cap
	for i := 0; i < n; i++ {
		out = append(out, th.points[(start+i)%h.cap])
	}
	return out
}

// Len returns the number of samples stored for a token.
func (h *History) Len(token string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	th, ok := h.tokens[token]
	if !ok {
		return 0
	}
	return th.count
}

// Reset drops the history of a token.
func (h *History) Reset(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.tokens, token)
}
