package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/gotnw/tradebot/internal/config"
	"github.com/gotnw/tradebot/internal/observability"
)

// Status is the position lifecycle state: Open -> (PartialExit)* -> Closed.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// ErrPositionExists is returned when opening a second position for a token.
var ErrPositionExists = errors.New("position already exists for token")

// Position is an open holding of a token with its ordered exit rules.
// Size fields are mutated only by the trader under the store's per-token
// exclusivity.
type Position struct {
	ID       string `json:"id"`
	Token    string `json:"token"`
	Symbol   string `json:"symbol"`
	Category string `json:"category"`

	EntryPrice           decimal.Decimal `json:"entry_price"`
	Amount               decimal.Decimal `json:"amount"`                 // initial size, SOL
	RemainingAmount      decimal.Decimal `json:"remaining_amount"`       // SOL
	TokenAmount          decimal.Decimal `json:"token_amount"`           // initial token units
	RemainingTokenAmount decimal.Decimal `json:"remaining_token_amount"` // token units
	HighestPrice         decimal.Decimal `json:"highest_price"`          // monotonic max since entry

	TakeProfitLevels []config.Level `json:"take_profit_levels"`
	StopLossLevels   []config.Level `json:"stop_loss_levels"`
	TPLevelsHit      []bool         `json:"tp_levels_hit"`
	SLLevelsHit      []bool         `json:"sl_levels_hit"`

	OpenedAt time.Time `json:"opened_at"`
	Status   Status    `json:"status"`
}

// NewPosition creates an Open position with validated invariants.
func NewPosition(token, symbol, category string, entryPrice, amount, tokenAmount decimal.Decimal, s config.Settings) (*Position, error) {
	if !entryPrice.IsPositive() {
		return nil, fmt.Errorf("position: entry price must be positive, got %s", entryPrice)
	}
	if !amount.IsPositive() || !tokenAmount.IsPositive() {
		return nil, fmt.Errorf("position: amounts must be positive, got %s / %s", amount, tokenAmount)
	}

	tp := sortLevelsAsc(s.TakeProfitLevels)
	sl := sortLevelsAsc(s.StopLossLevels)

	return &Position{
		ID:                   uuid.NewString(),
		Token:                token,
		Symbol:               symbol,
		Category:             category,
		EntryPrice:           entryPrice,
		Amount:               amount,
		RemainingAmount:      amount,
		TokenAmount:          tokenAmount,
		RemainingTokenAmount: tokenAmount,
		HighestPrice:         entryPrice,
		TakeProfitLevels:     tp,
		StopLossLevels:       sl,
		TPLevelsHit:          make([]bool, len(tp)),
		SLLevelsHit:          make([]bool, len(sl)),
		OpenedAt:             time.Now(),
		Status:               StatusOpen,
	}, nil
}

// ObservePrice raises HighestPrice when the new price is a fresh high.
func (p *Position) ObservePrice(price decimal.Decimal) {
	if price.GreaterThan(p.HighestPrice) {
		p.HighestPrice = price
	}
}

// GainPct is the signed percentage gain at the given price.
func (p *Position) GainPct(price decimal.Decimal) float64 {
	if !p.EntryPrice.IsPositive() {
		return 0
	}
	gain := price.Sub(p.EntryPrice).Div(p.EntryPrice).Mul(decimal.NewFromInt(100))
	return gain.InexactFloat64()
}

// reduce applies a partial exit of sellPct of the remaining size.
// RemainingAmount stays non-negative; reaching zero closes the position.
func (p *Position) reduce(sellPct float64) {
	frac := decimal.NewFromFloat(sellPct / 100.0)
	p.RemainingAmount = p.RemainingAmount.Sub(p.RemainingAmount.Mul(frac))
	p.RemainingTokenAmount = p.RemainingTokenAmount.Sub(p.RemainingTokenAmount.Mul(frac))
	if p.RemainingAmount.Sign() <= 0 || p.RemainingTokenAmount.Sign() <= 0 {
		p.RemainingAmount = decimal.Zero
		p.RemainingTokenAmount = decimal.Zero
		p.Status = StatusClosed
	}
}

// close zeroes the remaining size and marks the position Closed.
func (p *Position) close() {
	p.RemainingAmount = decimal.Zero
	p.RemainingTokenAmount = decimal.Zero
	p.Status = StatusClosed
}

// sortLevelsAsc returns a copy sorted ascending by threshold, the order
// level lists are always evaluated in.
func sortLevelsAsc(levels []config.Level) []config.Level {
	out := make([]config.Level, len(levels))
	copy(out, levels)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ThresholdPct < out[j-1].ThresholdPct; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

// Store is the in-memory map of open positions, at most one per token.
// All mutations of a position go through WithPosition, which serializes
// access per token; different tokens proceed fully concurrently.
type Store struct {
	mu        sync.RWMutex
	positions map[string]*Position
	byCat     map[string]int

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewStore creates an empty position store.
func NewStore() *Store {
	return &Store{
		positions: make(map[string]*Position),
		byCat:     make(map[string]int),
		locks:     make(map[string]*sync.Mutex),
	}
}

// Open inserts a new position. Fails if the token already has one.
func (s *Store) Open(pos *Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.positions[pos.Token]; exists {
		return fmt.Errorf("%w: %s", ErrPositionExists, pos.Token)
	}
	s.positions[pos.Token] = pos
	s.byCat[pos.Category]++
	observability.OpenPositions.Set(float64(len(s.positions)))
	return nil
}

// Remove deletes a token's position and decrements its category counter.
// Removing an absent token is a no-op, so a close is applied exactly once.
func (s *Store) Remove(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[token]
	if !ok {
		return
	}
	delete(s.positions, token)
	if s.byCat[pos.Category] > 0 {
		s.byCat[pos.Category]--
	}
	observability.OpenPositions.Set(float64(len(s.positions)))
}

// Has reports whether the token has an open position.
func (s *Store) Has(token string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.positions[token]
	return ok
}

// Count returns the number of open positions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// CategoryCount returns the number of open positions in a category.
func (s *Store) CategoryCount(category string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byCat[category]
}

// Tokens returns the tokens with open positions.
func (s *Store) Tokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.positions))
	for t := range s.positions {
		out = append(out, t)
	}
	return out
}

// Snapshot returns value copies of all open positions for reporting.
func (s *Store) Snapshot() []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Position, 0, len(s.positions))
	for _, p := range s.positions {
		cp := *p
		out = append(out, cp)
	}
	return out
}

// WithPosition runs fn with the token's position under the per-token
// lock. Returns false without calling fn when no position exists.
func (s *Store) WithPosition(token string, fn func(pos *Position) error) (bool, error) {
	lock := s.tokenLock(token)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	pos, ok := s.positions[token]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, fn(pos)
}

// Restore re-inserts a previously persisted position, bypassing the
// duplicate check error path on conflicting saves.
func (s *Store) Restore(pos *Position) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.positions[pos.Token]; exists {
		return
	}
	s.positions[pos.Token] = pos
	s.byCat[pos.Category]++
	observability.OpenPositions.Set(float64(len(s.positions)))
}

func (s *Store) tokenLock(token string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[token]
	if !ok {
		l = &sync.Mutex{}
		s.locks[token] = l
	}
	return l
}
