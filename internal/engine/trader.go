package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/gotnw/tradebot/internal/config"
	"github.com/gotnw/tradebot/internal/feed"
	"github.com/gotnw/tradebot/internal/notify"
	"github.com/gotnw/tradebot/internal/observability"
)

// ---------------------------------------------------------------------------
// Trader — executes entry and exit decisions against the swap boundary
// ---------------------------------------------------------------------------

// ErrEntryInFlight is returned when a buy is already pending for a token.
var ErrEntryInFlight = errors.New("entry already in flight")

// Trader applies entry and exit decisions: it calls the swapper, mutates
// position state only after a successful (or optimistically-confirmed)
// swap, appends trade records and publishes notifications. A SaveHook,
// when set, runs after every state-changing action; its failures are
// logged, never fatal.
type Trader struct {
	store   *Store
	exits   *ExitEngine
	trades  *TradeLog
	pending *PendingBuySet
	swapper Swapper
	bus     *notify.Bus

	saveHook func() error

	buys         atomic.Int64
	sells        atomic.Int64
	swapFailures atomic.Int64
}

// NewTrader creates a trader.
func NewTrader(store *Store, exits *ExitEngine, trades *TradeLog, pending *PendingBuySet, swapper Swapper, bus *notify.Bus) *Trader {
	return &Trader{
		store:   store,
		exits:   exits,
		trades:  trades,
		pending: pending,
		swapper: swapper,
		bus:     bus,
	}
}

// SetSaveHook installs the persistence hook invoked after every
// state-changing action.
func (t *Trader) SetSaveHook(fn func() error) {
	t.saveHook = fn
}

// CheckExits runs one exit cycle for a token at the given price. At most
// one liquidation action executes; a swap failure leaves the position
// unchanged for re-evaluation next cycle.
func (t *Trader) CheckExits(ctx context.Context, token string, price decimal.Decimal, s config.Settings) error {
	var closed bool
	var execErr error

	_, err := t.store.WithPosition(token, func(pos *Position) error {
		d := t.exits.Evaluate(pos, price, time.Now(), s)
		if !d.ShouldSell {
			return nil
		}
		if !s.AutoSell {
			log.Debug().Str("token", token).Str("reason", d.Reason).
				Msg("trader: exit signal suppressed, autosell disabled")
			return nil
		}

		txID, swapErr := t.swapper.ExecuteSwap(ctx, token, d.SellAmount, "sell")
		if swapErr != nil && !errors.Is(swapErr, ErrConfirmationTimeout) {
			t.swapFailures.Add(1)
			observability.SwapFailures.Inc()
			log.Error().Err(swapErr).Str("token", token).Str("reason", d.Reason).
				Msg("trader: exit swap failed, position unchanged")
			t.bus.Publish(notify.Event{Kind: notify.SwapFailed, Token: token, Reason: d.Reason})
			execErr = fmt.Errorf("exit swap: %w", swapErr)
			return nil
		}
		if errors.Is(swapErr, ErrConfirmationTimeout) {
			// Submitted but unconfirmed: apply optimistically, keep the
			// tx id visible for the operator.
			log.Warn().Str("token", token).Str("tx", txID).
				Msg("trader: exit confirmation timed out, applying optimistically")
		}

		soldSOL := pos.RemainingAmount.Mul(decimal.NewFromFloat(d.SellPct / 100.0))
		pnl := price.Sub(pos.EntryPrice).Mul(d.SellAmount)

		t.exits.Apply(pos, d)
		closed = pos.Status == StatusClosed

		t.sells.Add(1)
		observability.ExitsFired.WithLabelValues(d.Rule).Inc()

		t.trades.Append(TradeRecord{
			Token:       token,
			Symbol:      pos.Symbol,
			Side:        "sell",
			EntryPrice:  pos.EntryPrice,
			ExitPrice:   price,
			Amount:      soldSOL,
			TokenAmount: d.SellAmount,
			ProfitLoss:  pnl,
			Reason:      d.Reason,
			TxID:        txID,
		})

		kind := notify.PartialExit
		if closed {
			kind = notify.PositionClosed
		}
		t.bus.Publish(notify.Event{
			Kind:   kind,
			Token:  token,
			Reason: d.Reason,
			Fields: map[string]any{
				"sell_pct":  d.SellPct,
				"exit_price": price.String(),
				"pnl":        pnl.String(),
			},
		})

		log.Info().
			Str("token", token).
			Str("reason", d.Reason).
			Float64("sell_pct", d.SellPct).
			Str("pnl", pnl.String()).
			Bool("closed", closed).
			Msg("trader: exit executed")
		return nil
	})
	if err != nil {
		return err
	}
	if execErr != nil {
		return execErr
	}

	if closed {
		t.store.Remove(token)
	}
	t.save()
	return nil
}

// OpenPosition opens a new position for a token at the quoted price.
// The token enters the pending-buy set before submission and leaves it
// unconditionally when the order resolves.
func (t *Trader) OpenPosition(ctx context.Context, token, symbol, category string, q feed.Quote, s config.Settings, reason string) (*Position, error) {
	if !t.pending.TryAdd(token) {
		return nil, fmt.Errorf("%w: %s", ErrEntryInFlight, token)
	}
	defer t.pending.Remove(token)

	if q.Price.LessThan(decimal.NewFromFloat(s.FastBuyPriceFloor)) {
		return nil, fmt.Errorf("price %s below fast-buy floor", q.Price)
	}
	if q.LiquidityUSD.LessThan(decimal.NewFromFloat(s.MinLiquidityUSD)) {
		return nil, fmt.Errorf("liquidity %s below minimum", q.LiquidityUSD)
	}

	amount := decimal.NewFromFloat(s.BuyAmountSOL)
	txID, err := t.swapper.ExecuteSwap(ctx, token, amount, "buy")
	if err != nil && !errors.Is(err, ErrConfirmationTimeout) {
		t.swapFailures.Add(1)
		observability.SwapFailures.Inc()
		t.bus.Publish(notify.Event{Kind: notify.SwapFailed, Token: token, Reason: reason})
		return nil, fmt.Errorf("entry swap: %w", err)
	}
	if errors.Is(err, ErrConfirmationTimeout) {
		log.Warn().Str("token", token).Str("tx", txID).
			Msg("trader: entry confirmation timed out, applying optimistically")
	}

	tokenAmount := amount.Div(q.Price)
	pos, err := NewPosition(token, symbol, category, q.Price, amount, tokenAmount, s)
	if err != nil {
		return nil, err
	}
	if err := t.store.Open(pos); err != nil {
		return nil, err
	}

	t.buys.Add(1)
	observability.EntriesOpened.WithLabelValues(reason).Inc()

	t.trades.Append(TradeRecord{
		Token:       token,
		Symbol:      symbol,
		Side:        "buy",
		EntryPrice:  q.Price,
		Amount:      amount,
		TokenAmount: tokenAmount,
		Reason:      reason,
		TxID:        txID,
	})
	t.bus.Publish(notify.Event{
		Kind:   notify.PositionOpened,
		Token:  token,
		Reason: reason,
		Fields: map[string]any{"entry_price": q.Price.String(), "amount": amount.String()},
	})

	log.Info().
		Str("token", token).
		Str("reason", reason).
		Str("entry_price", q.Price.String()).
		Str("amount", amount.String()).
		Msg("trader: position opened")

	t.save()
	return pos, nil
}

// ForceCloseAll liquidates every open position, used on shutdown or by
// the control plane kill switch.
func (t *Trader) ForceCloseAll(ctx context.Context) {
	for _, token := range t.store.Tokens() {
		tok := token
		var closed bool
		_, _ = t.store.WithPosition(tok, func(pos *Position) error {
			txID, err := t.swapper.ExecuteSwap(ctx, tok, pos.RemainingTokenAmount, "sell")
			if err != nil && !errors.Is(err, ErrConfirmationTimeout) {
				log.Error().Err(err).Str("token", tok).Msg("trader: force close swap failed")
				return nil
			}
			t.trades.Append(TradeRecord{
				Token:       tok,
				Symbol:      pos.Symbol,
				Side:        "sell",
				EntryPrice:  pos.EntryPrice,
				ExitPrice:   pos.HighestPrice,
				Amount:      pos.RemainingAmount,
				TokenAmount: pos.RemainingTokenAmount,
				Reason:      "force_close",
				TxID:        txID,
			})
			pos.close()
			closed = true
			return nil
		})
		if closed {
			t.store.Remove(tok)
			t.bus.Publish(notify.Event{Kind: notify.PositionClosed, Token: tok, Reason: "force_close"})
		}
	}
	t.save()
}

// Stats reports trader counters.
type TraderStats struct {
	Buys         int64 `json:"buys"`
	Sells        int64 `json:"sells"`
	SwapFailures int64 `json:"swap_failures"`
	OpenPositions int  `json:"open_positions"`
	PendingBuys   int  `json:"pending_buys"`
}

func (t *Trader) Stats() TraderStats {
	return TraderStats{
		Buys:          t.buys.Load(),
		Sells:         t.sells.Load(),
		SwapFailures:  t.swapFailures.Load(),
		OpenPositions: t.store.Count(),
		PendingBuys:   t.pending.Len(),
	}
}

func (t *Trader) save() {
	if t.saveHook == nil {
		return
	}
	if err := t.saveHook(); err != nil {
		log.Error().Err(err).Msg("trader: state save failed")
	}
}
