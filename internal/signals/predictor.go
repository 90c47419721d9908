package signals

import "sync"

// Predictor is the opaque interface to the ML subsystem. A "not trained
// yet" state is expressed as (false, low confidence) — identical to a
// low-confidence no.
type Predictor interface {
	// PredictPumpProbability returns whether a pump is expected and the
	// model's confidence in [0,1].
	PredictPumpProbability(token string, m Metrics) (bool, float64)
	// PredictFuturePrice returns a predicted price and whether a
	// prediction is available.
	PredictFuturePrice(token string) (float64, bool)
}

// ---------------------------------------------------------------------------
// ThresholdPredictor — rule-based fallback used when no model is wired
// ---------------------------------------------------------------------------

// ThresholdPredictor flags a pump when momentum and volatility both
// exceed their thresholds. It never predicts a future price.
type ThresholdPredictor struct {
	MomentumPct float64
	Volatility  float64
}

func (p *ThresholdPredictor) PredictPumpProbability(_ string, m Metrics) (bool, float64) {
	if m.MomentumPct >= p.MomentumPct && m.Volatility >= p.Volatility {
		return true, 0.8
	}
	return false, 0.2
}

func (p *ThresholdPredictor) PredictFuturePrice(_ string) (float64, bool) {
	return 0, false
}

// ---------------------------------------------------------------------------
// StubPredictor — deterministic predictor for tests
// ---------------------------------------------------------------------------

// StubResponse is one pre-loaded prediction.
type StubResponse struct {
	Pump        bool
	Confidence  float64
	FuturePrice float64
}

// StubPredictor returns pre-loaded responses in order, cycling back to
// the start when all have been consumed.
type StubPredictor struct {
	mu        sync.Mutex
	responses []StubResponse
	idx       int
	calls     int
}

// NewStubPredictor creates a stub with the given responses.
func NewStubPredictor(responses []StubResponse) *StubPredictor {
	return &StubPredictor{responses: responses}
}

func (s *StubPredictor) PredictPumpProbability(_ string, _ Metrics) (bool, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if len(s.responses) == 0 {
		return false, 0
	}
	r := s.responses[s.idx]
	s.idx = (s.idx + 1) % len(s.responses)
	return r.Pump, r.Confidence
}

// PredictFuturePrice serves the FuturePrice of the current response
// without advancing the cycle; a zero value means no forecast.
func (s *StubPredictor) PredictFuturePrice(_ string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.responses) == 0 {
		return 0, false
	}
	fp := s.responses[s.idx].FuturePrice
	return fp, fp > 0
}

// Calls returns the total number of prediction requests.
func (s *StubPredictor) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
