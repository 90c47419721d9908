package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrConfirmationTimeout signals that a swap was submitted but its
// confirmation could not be observed within the bound. The transaction
// id is still returned; the trader applies the state change and logs
// the uncertainty.
var ErrConfirmationTimeout = errors.New("swap confirmation timeout")

// Swapper is the opaque on-chain execution boundary. Idempotency is NOT
// guaranteed: the engine never calls it twice for the same logical
// entry/exit without confirming the first attempt's outcome.
type Swapper interface {
	// ExecuteSwap trades amount of the token in the given direction
	// ("buy" or "sell") and returns the transaction id.
	ExecuteSwap(ctx context.Context, token string, amount decimal.Decimal, side string) (string, error)
}

// ---------------------------------------------------------------------------
// SimSwapper — dry-run execution, always fills
// ---------------------------------------------------------------------------

// SimSwapper is the simulated swapper used in sim mode and tests. Every
// swap fills instantly with a synthetic transaction id. Tests can queue
// failures with FailNext.
type SimSwapper struct {
	mu       sync.Mutex
	failNext error
	executed int
}

// NewSimSwapper creates a simulated swapper.
func NewSimSwapper() *SimSwapper {
	return &SimSwapper{}
}

// FailNext makes the next ExecuteSwap return err instead of filling.
func (s *SimSwapper) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

func (s *SimSwapper) ExecuteSwap(_ context.Context, _ string, _ decimal.Decimal, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return "", err
	}
	s.executed++
	return "sim-" + uuid.NewString(), nil
}

// Executed returns the number of filled simulated swaps.
func (s *SimSwapper) Executed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executed
}
