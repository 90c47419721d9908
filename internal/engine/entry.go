package engine

import (
	"sync"

	"github.com/gotnw/tradebot/internal/config"
	"github.com/gotnw/tradebot/internal/signals"
)

// ---------------------------------------------------------------------------
// Entry-Signal Engine
// ---------------------------------------------------------------------------

// Entry decision reasons.
const (
	ReasonExistingPosition = "existing_position"
	ReasonPendingBuy       = "pending_buy"
	ReasonCategoryCap      = "category_cap"
	ReasonPositionCap      = "position_cap"
	ReasonWhaleDump        = "whale_dump"
	ReasonNoSignal         = "no_signal"
	ReasonMomentum         = "momentum"
	ReasonDip              = "dip_buy"
	ReasonAIPump           = "ai_pump"
)

// EntryDecision is the outcome of evaluating a token for entry.
type EntryDecision struct {
	ShouldBuy bool
	Reason    string
}

// PendingBuySet tracks tokens with an entry order in flight. A token is
// added before submission and removed unconditionally once the order
// resolves — the sole defense against duplicate concurrent entries.
type PendingBuySet struct {
	mu     sync.Mutex
	tokens map[string]struct{}
}

// NewPendingBuySet creates an empty set.
func NewPendingBuySet() *PendingBuySet {
	return &PendingBuySet{tokens: make(map[string]struct{})}
}

// TryAdd inserts the token, returning false if it was already present.
func (p *PendingBuySet) TryAdd(token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.tokens[token]; ok {
		return false
	}
	p.tokens[token] = struct{}{}
	return true
}

// Has reports whether the token has an entry in flight.
func (p *PendingBuySet) Has(token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.tokens[token]
	return ok
}

// Remove deletes the token. Safe to call when absent.
func (p *PendingBuySet) Remove(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.tokens, token)
}

// Len returns the number of in-flight entries.
func (p *PendingBuySet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tokens)
}

// EntryEngine decides whether to open a new position. Preconditions run
// before any signal logic; signals are evaluated in fixed order with the
// first satisfied one winning.
type EntryEngine struct {
	store     *Store
	pending   *PendingBuySet
	predictor signals.Predictor
}

// NewEntryEngine creates an entry engine.
func NewEntryEngine(store *Store, pending *PendingBuySet, predictor signals.Predictor) *EntryEngine {
	return &EntryEngine{store: store, pending: pending, predictor: predictor}
}

// Evaluate returns an entry decision for a token. No signal evaluation
// happens when a precondition fails.
func (e *EntryEngine) Evaluate(token, category string, m signals.Metrics, s config.Settings) EntryDecision {
	// Preconditions.
	if e.store.Has(token) {
		return EntryDecision{Reason: ReasonExistingPosition}
	}
	if e.pending.Has(token) {
		return EntryDecision{Reason: ReasonPendingBuy}
	}
	if s.MaxPositionsPerCategory > 0 && e.store.CategoryCount(category) >= s.MaxPositionsPerCategory {
		return EntryDecision{Reason: ReasonCategoryCap}
	}
	if s.MaxPositions > 0 && e.store.Count() >= s.MaxPositions {
		return EntryDecision{Reason: ReasonPositionCap}
	}
	if m.WhaleDump {
		return EntryDecision{Reason: ReasonWhaleDump}
	}

	// Signals, first satisfied wins.
	if m.MomentumPct >= s.MomentumThresholdPct {
		return EntryDecision{ShouldBuy: true, Reason: ReasonMomentum}
	}
	if m.DipPct >= s.DipThresholdPct {
		return EntryDecision{ShouldBuy: true, Reason: ReasonDip}
	}
	if e.predictor != nil {
		if pump, conf := e.predictor.PredictPumpProbability(token, m); pump && conf >= s.AIConfidence {
			return EntryDecision{ShouldBuy: true, Reason: ReasonAIPump}
		}
		// A price forecast counts as an AI entry when the projected gain
		// clears the momentum bar.
		if future, ok := e.predictor.PredictFuturePrice(token); ok && m.Price.IsPositive() {
			cur, _ := m.Price.Float64()
			if cur > 0 && (future-cur)/cur*100 >= s.MomentumThresholdPct {
				return EntryDecision{ShouldBuy: true, Reason: ReasonAIPump}
			}
		}
	}

	return EntryDecision{Reason: ReasonNoSignal}
}
