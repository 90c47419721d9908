package engine

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gotnw/tradebot/internal/config"
)

// ---------------------------------------------------------------------------
// Exit-Trigger Engine — ordered liquidation rules, one action per cycle
// ---------------------------------------------------------------------------

// Rule identifiers used in decisions and trade records.
const (
	RuleTimeBased  = "time_based_close"
	RuleTrailing   = "trailing_stop"
	RuleStopLoss   = "stop_loss"
	RuleTakeProfit = "take_profit"
)

// ExitDecision is what the exit engine wants to do for one cycle.
type ExitDecision struct {
	ShouldSell  bool
	SellPct     float64         // % of remaining size
	SellAmount  decimal.Decimal // token units to sell
	Rule        string          // which rule fired
	Reason      string          // human-readable, includes the threshold
	LevelIndex  int             // index into the fired level list, -1 otherwise
	IsFullClose bool
}

// ExitEngine evaluates a position's exit rules in fixed precedence:
// time-based close, trailing stop, stop-loss levels, take-profit levels.
// The first rule that fires wins; the rest are skipped for the cycle, so
// a single tick can never trigger cascading sells across thresholds.
type ExitEngine struct{}

// NewExitEngine creates an exit engine. It is stateless; all per-position
// state lives on the Position itself.
func NewExitEngine() *ExitEngine {
	return &ExitEngine{}
}

// Evaluate checks the rules against a fresh price and returns at most one
// decision. It also raises the position's HighestPrice watermark.
func (ee *ExitEngine) Evaluate(pos *Position, price decimal.Decimal, now time.Time, s config.Settings) ExitDecision {
	if pos.Status != StatusOpen || pos.RemainingTokenAmount.Sign() <= 0 {
		return ExitDecision{}
	}

	pos.ObservePrice(price)
	gainPct := pos.GainPct(price)

	if d := ee.checkTimeBased(pos, gainPct, now, s); d.ShouldSell {
		return d
	}
	if d := ee.checkTrailingStop(pos, price, s); d.ShouldSell {
		return d
	}
	if d := ee.checkStopLoss(pos, gainPct); d.ShouldSell {
		return d
	}
	return ee.checkTakeProfit(pos, gainPct)
}

// checkTimeBased closes stagnant positions: past the grace period with a
// gain still below the smallest take-profit threshold.
func (ee *ExitEngine) checkTimeBased(pos *Position, gainPct float64, now time.Time, s config.Settings) ExitDecision {
	if !s.TimeBasedExitEnabled {
		return ExitDecision{}
	}
	if now.Sub(pos.OpenedAt) < s.GracePeriod() {
		return ExitDecision{}
	}
	minTP := s.MinTakeProfitPct()
	if len(pos.TakeProfitLevels) > 0 {
		minTP = pos.TakeProfitLevels[0].ThresholdPct
	}
	if gainPct >= minTP {
		return ExitDecision{}
	}

	return ExitDecision{
		ShouldSell:  true,
		SellPct:     100,
		SellAmount:  pos.RemainingTokenAmount,
		Rule:        RuleTimeBased,
		Reason:      RuleTimeBased,
		LevelIndex:  -1,
		IsFullClose: true,
	}
}

// checkTrailingStop fires on drawdown from the highest observed price.
func (ee *ExitEngine) checkTrailingStop(pos *Position, price decimal.Decimal, s config.Settings) ExitDecision {
	if s.TrailingStopPct <= 0 || !pos.HighestPrice.IsPositive() {
		return ExitDecision{}
	}

	drawdown := pos.HighestPrice.Sub(price).
		Div(pos.HighestPrice).
		Mul(decimal.NewFromInt(100)).
		InexactFloat64()
	if drawdown < s.TrailingStopPct {
		return ExitDecision{}
	}

	return ExitDecision{
		ShouldSell:  true,
		SellPct:     100,
		SellAmount:  pos.RemainingTokenAmount,
		Rule:        RuleTrailing,
		Reason:      fmt.Sprintf("%s @ -%.1f%% from high", RuleTrailing, drawdown),
		LevelIndex:  -1,
		IsFullClose: true,
	}
}

// checkStopLoss walks the levels ascending by threshold (most negative
// first) and applies the first satisfied, unfired level.
func (ee *ExitEngine) checkStopLoss(pos *Position, gainPct float64) ExitDecision {
	for i, lv := range pos.StopLossLevels {
		if pos.SLLevelsHit[i] {
			continue
		}
		if gainPct > lv.ThresholdPct {
			continue
		}
		return ee.partialDecision(pos, RuleStopLoss, i, lv)
	}
	return ExitDecision{}
}

// checkTakeProfit walks the levels ascending by threshold and applies the
// first satisfied, unfired level.
func (ee *ExitEngine) checkTakeProfit(pos *Position, gainPct float64) ExitDecision {
	for i, lv := range pos.TakeProfitLevels {
		if pos.TPLevelsHit[i] {
			continue
		}
		if gainPct < lv.ThresholdPct {
			continue
		}
		return ee.partialDecision(pos, RuleTakeProfit, i, lv)
	}
	return ExitDecision{}
}

func (ee *ExitEngine) partialDecision(pos *Position, rule string, idx int, lv config.Level) ExitDecision {
	sellAmount := pos.RemainingTokenAmount.Mul(decimal.NewFromFloat(lv.SellPct / 100.0))
	full := lv.SellPct >= 100

	return ExitDecision{
		ShouldSell:  true,
		SellPct:     lv.SellPct,
		SellAmount:  sellAmount,
		Rule:        rule,
		Reason:      fmt.Sprintf("%s @ %.1f%%", rule, lv.ThresholdPct),
		LevelIndex:  idx,
		IsFullClose: full,
	}
}

// Apply mutates the position after a successful swap: marks the fired
// level, reduces the remaining size, closes on zero. Called only under
// the store's per-token lock.
func (ee *ExitEngine) Apply(pos *Position, d ExitDecision) {
	switch d.Rule {
	case RuleStopLoss:
		if d.LevelIndex >= 0 && d.LevelIndex < len(pos.SLLevelsHit) {
			pos.SLLevelsHit[d.LevelIndex] = true
		}
	case RuleTakeProfit:
		if d.LevelIndex >= 0 && d.LevelIndex < len(pos.TPLevelsHit) {
			pos.TPLevelsHit[d.LevelIndex] = true
		}
	}

	if d.IsFullClose {
		pos.close()
		return
	}
	pos.reduce(d.SellPct)
}
