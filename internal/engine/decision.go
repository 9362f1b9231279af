// Package engine implements the per-instrument decision state machine: it derives the
// cross-account imbalance, decides direction/price/size, enforces every cap, and
// submits post-only orders with retry-then-cooldown on rejection.
package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"dualhedge/internal/gateway"
	"dualhedge/internal/ledger"
	"dualhedge/internal/model"
	"dualhedge/internal/orders"
	"dualhedge/internal/registry"
)

// Params bundles the tunables the engine needs per tick; populated from config.
type Params struct {
	SingleOrderDiffThreshold decimal.Decimal
	PostOnlyMaxRetry         int
	PostOnlyCooldown         time.Duration
	OrderbookDepth           int
}

// Alerter is the subset of the risk manager the engine needs: a cooldown alert on
// post-only retry exhaustion and a surfacing hook for auth/permanent gateway failures.
// Satisfied by *risk.Manager; nil is a no-op, which the unit tests in this package
// rely on.
type Alerter interface {
	NotifyPostOnlyCooldown(instrument string, account model.Account, now time.Time)
	NotifyGatewayError(instrument string, account model.Account, gwErr *gateway.Error, now time.Time)
}

// Engine drives the decision cycle for a single instrument's SymbolState.
type Engine struct {
	gw      gateway.Gateway
	table   *orders.Table
	reg     *registry.Registry
	alerter Alerter
	params  Params
}

// New builds a decision engine bound to gw, the managed-order table, and the
// instrument registry used for tick/step rounding. reg and alerter may be
// nil: a nil registry disables tick/step rounding, a nil alerter silences the
// post-only-cooldown alert — both exercised by unit tests that stub the gateway
// directly.
func New(gw gateway.Gateway, table *orders.Table, reg *registry.Registry, alerter Alerter, params Params) *Engine {
	return &Engine{gw: gw, table: table, reg: reg, alerter: alerter, params: params}
}

// dustTolerance is the notional difference below which two positions are treated as equal.
var dustTolerance = decimal.NewFromFloat(0.01)

// Tick runs one full decision cycle for state: reconcile is assumed to have already run
// this tick (fills folded into lots, matcher invoked) by the caller.
func (e *Engine) Tick(ctx context.Context, state *model.SymbolState, now time.Time) {
	if !state.Config.Enabled {
		return
	}

	book, err := e.gw.Orderbook(ctx, state.Config.Instrument, e.depth())
	if err != nil {
		log.Printf("engine: orderbook fetch failed for %s: %v", state.Config.Instrument, err)
		return
	}
	state.LastOrderbook = book

	absA := state.Positions.AAbsNotional
	absB := state.Positions.BAbsNotional
	diff := absA.Sub(absB).Abs()

	orderCap := e.activityCap(diff)

	if diff.LessThanOrEqual(dustTolerance) {
		e.handleEqual(ctx, state, orderCap, now)
		return
	}

	small, large := model.AccountA, model.AccountB
	if absB.LessThan(absA) {
		small, large = model.AccountB, model.AccountA
	}

	e.enforceLowDiffCap(ctx, state, orderCap, small, now)
	e.enforceLowDiffCap(ctx, state, orderCap, large, now)

	gap := e.computeGap(state, absA, absB, small, large)

	e.considerNewOrder(ctx, state, small, large, orderCap, gap, now)
	// The large-position account may still post corrective hedges against stray lots
	// that would otherwise never close out, even past the total-position max.
	e.considerCorrective(ctx, state, large, orderCap, gap, now)
}

// computeGap derives the imbalance target: gap = large - (small + hedge_open/2),
// where large/small are the two accounts' absolute notionals and hedge_open is the
// outstanding notional of currently open strategy orders already resting on the small
// account's closing side. Those orders, once filled, narrow the gap themselves, so only
// half their notional still counts as work the next new order needs to do. gap > 0 means
// the small account must still add liquidity to converge on the large one.
func (e *Engine) computeGap(state *model.SymbolState, absA, absB decimal.Decimal, small, large model.Account) decimal.Decimal {
	largeVal := decimal.Max(absA, absB)
	smallVal := decimal.Min(absA, absB)
	hedgeOpen := e.hedgeOpenNotional(state, small, e.mirrorSide(state, large))
	return largeVal.Sub(smallVal.Add(hedgeOpen.Div(decimal.NewFromInt(2))))
}

// hedgeOpenNotional sums the unfilled notional of account's currently open (non-terminal)
// strategy orders on side.
func (e *Engine) hedgeOpenNotional(state *model.SymbolState, account model.Account, side model.Side) decimal.Decimal {
	total := decimal.Zero
	for _, o := range state.Orders {
		if o.Account != account || !o.IsStrategy || o.State.Terminal() || o.Side != side {
			continue
		}
		if o.HedgeAbandoned {
			continue // timed-out partial remainder no longer counts as in-flight hedge
		}
		total = total.Add(o.RemainingSize().Mul(o.LimitPrice))
	}
	return total
}

// activityCap returns the per-account strategy-order cap for this tick's imbalance.
func (e *Engine) activityCap(diff decimal.Decimal) int {
	if diff.LessThan(e.params.SingleOrderDiffThreshold) {
		return 1
	}
	return 2
}

// enforceLowDiffCap cancels the oldest excess strategy orders down to orderCap for account.
func (e *Engine) enforceLowDiffCap(ctx context.Context, state *model.SymbolState, orderCap int, account model.Account, now time.Time) {
	if state.ActiveOrderCount(account) <= orderCap {
		return
	}
	if err := e.table.CancelOlderThanKeep(ctx, state, account, orderCap, now); err != nil {
		log.Printf("engine: cancel-to-cap failed for %s/%s: %v", state.Config.Instrument, account, err)
		var gwErr *gateway.Error
		if e.alerter != nil && errors.As(err, &gwErr) {
			e.alerter.NotifyGatewayError(state.Config.Instrument, account, gwErr, now)
		}
	}
}

// handleEqual places one order per account when positions are (near) equal.
func (e *Engine) handleEqual(ctx context.Context, state *model.SymbolState, orderCap int, now time.Time) {
	if state.Config.PositionMode == model.PositionModeDecrease {
		if state.Positions.AAbsNotional.LessThanOrEqual(dustTolerance) && state.Positions.BAbsNotional.LessThanOrEqual(dustTolerance) {
			return
		}
	}

	aSide := state.Config.ASideWhenEqual
	if state.Config.PositionMode == model.PositionModeDecrease {
		aSide = aSide.Opposite()
	}
	bSide := aSide.Opposite()

	// Equal (including both-zero bootstrap) positions have no established large/small
	// side to converge on, so the last-lap shrink doesn't apply here; both accounts
	// post the full configured notional.
	target := state.Config.OrderNotionalUSDT
	e.placeIfRoom(ctx, state, model.AccountA, aSide, orderCap, state.Positions.BEntryPrice, target, false, now)
	e.placeIfRoom(ctx, state, model.AccountB, bSide, orderCap, state.Positions.AEntryPrice, target, false, now)
}

// considerNewOrder lets only the smaller-position account add new exposure. The side
// preference is driven by the oldest unmatched lot on the large account, so the order
// created will, once filled, match it; with no such lot the small side mirrors the
// large account's exposure sign and guards on its entry price.
func (e *Engine) considerNewOrder(ctx context.Context, state *model.SymbolState, small, large model.Account, orderCap int, gap decimal.Decimal, now time.Time) {
	guard := e.fallbackGuard(state, small, large)
	side := e.mirrorSide(state, large)
	if lot := ledger.OldestUnmatched(state); lot != nil && lot.Account == large {
		guard = lot.GuardPrice
		side = lot.Side.Opposite()
	}
	target := decimal.Min(state.Config.OrderNotionalUSDT, gap.Mul(decimal.NewFromInt(2)))
	e.placeIfRoom(ctx, state, small, side, orderCap, guard, target, false, now)
}

// considerCorrective lets the larger-position account post a hedge that only reduces imbalance.
func (e *Engine) considerCorrective(ctx context.Context, state *model.SymbolState, large model.Account, orderCap int, gap decimal.Decimal, now time.Time) {
	lot := ledger.OldestUnmatched(state)
	if lot == nil || lot.Account != large.Other() {
		return
	}
	target := decimal.Min(state.Config.OrderNotionalUSDT, gap.Mul(decimal.NewFromInt(2)))
	e.placeIfRoom(ctx, state, large, lot.Side.Opposite(), orderCap, lot.GuardPrice, target, true, now)
}

// mirrorSide returns the side the small account should take to mirror the large account's exposure.
func (e *Engine) mirrorSide(state *model.SymbolState, large model.Account) model.Side {
	if large == model.AccountA {
		if state.Positions.ASignedBase.IsPositive() {
			return model.SideSell // A is long; small side sells to hedge it
		}
		return model.SideBuy
	}
	if state.Positions.BSignedBase.IsPositive() {
		return model.SideSell
	}
	return model.SideBuy
}

func (e *Engine) fallbackGuard(state *model.SymbolState, small, large model.Account) decimal.Decimal {
	return state.Positions.EntryPrice(large)
}

// placeIfRoom computes price/size for a caller-determined targetNotional (the per-tick
// gap already folded in) and, if all caps pass, submits the order with post-only retry.
func (e *Engine) placeIfRoom(ctx context.Context, state *model.SymbolState, account model.Account, side model.Side, orderCap int, guard, targetNotional decimal.Decimal, corrective bool, now time.Time) {
	if state.InCooldown(account, now) {
		return
	}
	if state.ActiveOrderCount(account) >= orderCap {
		return
	}

	if targetNotional.LessThanOrEqual(decimal.Zero) {
		return
	}

	meta := e.instrumentMeta(ctx, state.Config.Instrument)
	price := e.priceFor(state, side, guard, meta)
	if price.LessThanOrEqual(decimal.Zero) {
		return
	}
	size := e.sizeFor(targetNotional, price, meta)
	if size.LessThanOrEqual(decimal.Zero) {
		return
	}

	if !e.passesBounds(state, size, price, corrective) {
		return
	}

	e.submitWithRetry(ctx, state, account, side, price, size, guard, now)
}

// instrumentMeta fetches the registry-cached tick/step/min-size metadata for instrument.
// A zero InstrumentMeta (no registry, or a lookup failure) disables rounding, which unit
// tests that stub the gateway directly rely on.
func (e *Engine) instrumentMeta(ctx context.Context, instrument string) gateway.InstrumentMeta {
	if e.reg == nil {
		return gateway.InstrumentMeta{}
	}
	meta, err := e.reg.Get(ctx, instrument)
	if err != nil {
		log.Printf("engine: instrument metadata fetch failed for %s: %v", instrument, err)
		return gateway.InstrumentMeta{}
	}
	return meta
}

// priceFor computes the guard-respecting limit price, rounded conservatively to the
// instrument's tick size: sells round up, buys round down, so rounding can
// never push the price across the guard-price protection inequality. A non-positive
// guard means no protection applies (bootstrap from flat positions) and top-of-book
// is used as-is.
func (e *Engine) priceFor(state *model.SymbolState, side model.Side, guard decimal.Decimal, meta gateway.InstrumentMeta) decimal.Decimal {
	book := state.LastOrderbook
	if side == model.SideSell {
		p := book.Ask1
		if guard.IsPositive() {
			p = decimal.Max(p, guard)
		}
		return ceilToTick(p, meta.TickSize)
	}
	p := book.Bid1
	if guard.IsPositive() {
		p = decimal.Min(p, guard)
	}
	return floorToTick(p, meta.TickSize)
}

// sizeFor converts a target notional to base units at price, floors to the instrument's
// size step and base-decimal precision, and rejects anything below min_size.
func (e *Engine) sizeFor(targetNotional, price decimal.Decimal, meta gateway.InstrumentMeta) decimal.Decimal {
	size := targetNotional.Div(price)

	if meta.SizeStep.IsPositive() {
		size = size.Div(meta.SizeStep).Floor().Mul(meta.SizeStep)
	}
	if meta.BaseDecimals > 0 {
		size = size.Truncate(meta.BaseDecimals)
	}
	if meta.MinSize.IsPositive() && size.LessThan(meta.MinSize) {
		return decimal.Zero
	}
	return size
}

// floorToTick rounds p down to the nearest multiple of tick. A non-positive tick
// disables rounding (no instrument metadata available).
func floorToTick(p, tick decimal.Decimal) decimal.Decimal {
	if tick.LessThanOrEqual(decimal.Zero) {
		return p
	}
	return p.Div(tick).Floor().Mul(tick)
}

// ceilToTick rounds p up to the nearest multiple of tick.
func ceilToTick(p, tick decimal.Decimal) decimal.Decimal {
	if tick.LessThanOrEqual(decimal.Zero) {
		return p
	}
	return p.Div(tick).Ceil().Mul(tick)
}

// passesBounds enforces the total-position increase/decrease bound. Corrective
// orders (those pairing off a stray lot, never expanding imbalance) are permitted past
// the increase-mode max even when both sides already exceed it — pending operator
// confirmation of that reading.
func (e *Engine) passesBounds(state *model.SymbolState, size, price decimal.Decimal, corrective bool) bool {
	notional := size.Mul(price)
	projectedTotal := state.Positions.AAbsNotional.Add(state.Positions.BAbsNotional).Add(notional)

	switch state.Config.PositionMode {
	case model.PositionModeIncrease:
		if corrective {
			return true
		}
		if state.Config.MaxTotalPositionUSDT.IsPositive() && projectedTotal.GreaterThan(state.Config.MaxTotalPositionUSDT) {
			return false
		}
	case model.PositionModeDecrease:
		projectedTotal = state.Positions.AAbsNotional.Add(state.Positions.BAbsNotional).Sub(notional)
		if projectedTotal.LessThan(state.Config.MinTotalPositionUSDT) {
			return false
		}
	}
	return true
}

// submitWithRetry places the order, retrying on PostOnlyRejected up to the configured limit.
func (e *Engine) submitWithRetry(ctx context.Context, state *model.SymbolState, account model.Account, side model.Side, price, size, guard decimal.Decimal, now time.Time) {
	attempts := 0
	for {
		_, gwErr := e.table.Submit(ctx, state, account, side, price, size, guard, now)
		if gwErr == nil {
			return
		}
		if gwErr.Kind != gateway.KindPostOnlyRejected {
			log.Printf("engine: placement failed for %s/%s: %v", state.Config.Instrument, account, gwErr)
			if e.alerter != nil {
				e.alerter.NotifyGatewayError(state.Config.Instrument, account, gwErr, now)
			}
			return
		}

		attempts++
		if attempts >= e.params.PostOnlyMaxRetry {
			state.CooldownUntil[account] = now.Add(e.params.PostOnlyCooldown)
			log.Printf("engine: post-only exhausted for %s/%s, cooldown until %s", state.Config.Instrument, account, state.CooldownUntil[account])
			if e.alerter != nil {
				e.alerter.NotifyPostOnlyCooldown(state.Config.Instrument, account, now)
			}
			return
		}

		book, err := e.gw.Orderbook(ctx, state.Config.Instrument, e.depth())
		if err != nil {
			return
		}
		state.LastOrderbook = book
		price = e.priceFor(state, side, guard, e.instrumentMeta(ctx, state.Config.Instrument))
	}
}

// depth returns the configured orderbook depth, defaulting to 10 when unset so
// tests constructing Params{} by zero value keep working.
func (e *Engine) depth() int {
	if e.params.OrderbookDepth > 0 {
		return e.params.OrderbookDepth
	}
	return 10
}
