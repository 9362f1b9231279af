// Package ledger implements the per-instrument FIFO fill ledger and cross-account matcher.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"dualhedge/internal/model"
)

// AppendLot pushes a new lot onto the tail of its (account, side) queue.
func AppendLot(state *model.SymbolState, acc model.Account, side model.Side, size, guardPrice decimal.Decimal, ts time.Time) {
	if size.LessThanOrEqual(decimal.Zero) {
		return
	}
	lot := &model.FillLot{
		Account:    acc,
		Instrument: state.Config.Instrument,
		Side:       side,
		Size:       size,
		GuardPrice: guardPrice,
		Timestamp:  ts,
	}
	state.Lots[acc][side] = append(state.Lots[acc][side], lot)
}

// Match repeatedly pairs the oldest opposing lots across accounts until no admissible
// pair remains. A pair (L, L') is admissible iff L.Account != L'.Account, L.Side !=
// L'.Side, and the price-protection inequality holds (the sell-side guard must be >=
// the buy-side guard). Oldest lots match first; among lots of equal age, the one whose
// guard price leaves more protection margin is preferred.
func Match(state *model.SymbolState) {
	for {
		matchedAny := false
		for _, buyAcc := range []model.Account{model.AccountA, model.AccountB} {
			sellAcc := buyAcc.Other()
			buyQueue := state.Lots[buyAcc][model.SideBuy]
			sellQueue := state.Lots[sellAcc][model.SideSell]
			if len(buyQueue) == 0 || len(sellQueue) == 0 {
				continue
			}

			bi := pickLot(buyQueue, model.SideBuy)
			si := pickLot(sellQueue, model.SideSell)
			buyLot := buyQueue[bi]
			sellLot := sellQueue[si]

			if sellLot.GuardPrice.LessThan(buyLot.GuardPrice) {
				// Protection would be violated; this pair cannot match yet.
				continue
			}

			qty := decimal.Min(buyLot.Size, sellLot.Size)
			if qty.LessThanOrEqual(decimal.Zero) {
				continue
			}

			buyLot.Size = buyLot.Size.Sub(qty)
			sellLot.Size = sellLot.Size.Sub(qty)
			matchedAny = true

			if buyLot.Size.LessThanOrEqual(decimal.Zero) {
				state.Lots[buyAcc][model.SideBuy] = removeAt(buyQueue, bi)
			}
			if sellLot.Size.LessThanOrEqual(decimal.Zero) {
				state.Lots[sellAcc][model.SideSell] = removeAt(sellQueue, si)
			}
		}
		if !matchedAny {
			return
		}
	}
}

// pickLot returns the index of the next lot to pair from queue: the head (oldest, since
// queues append in arrival order), except that among a leading run of equal-age lots
// the one leaving more protection margin wins — the highest guard for sell lots, the
// lowest for buy lots.
func pickLot(queue []*model.FillLot, side model.Side) int {
	best := 0
	for i := 1; i < len(queue) && queue[i].Timestamp.Equal(queue[0].Timestamp); i++ {
		if side == model.SideSell {
			if queue[i].GuardPrice.GreaterThan(queue[best].GuardPrice) {
				best = i
			}
		} else if queue[i].GuardPrice.LessThan(queue[best].GuardPrice) {
			best = i
		}
	}
	return best
}

func removeAt(queue []*model.FillLot, i int) []*model.FillLot {
	return append(queue[:i], queue[i+1:]...)
}

// OldestUnmatched returns the oldest lot across both accounts/sides for instrument, or
// nil if the ledger is empty. Used by the decision engine to find a guard price to
// mirror when the positions aren't exactly equal.
func OldestUnmatched(state *model.SymbolState) *model.FillLot {
	var oldest *model.FillLot
	for _, acc := range []model.Account{model.AccountA, model.AccountB} {
		for _, side := range []model.Side{model.SideBuy, model.SideSell} {
			q := state.Lots[acc][side]
			if len(q) == 0 {
				continue
			}
			if oldest == nil || q[0].Timestamp.Before(oldest.Timestamp) {
				oldest = q[0]
			}
		}
	}
	return oldest
}

// StuckLots returns every unmatched lot older than threshold relative to now.
func StuckLots(state *model.SymbolState, threshold time.Duration, now time.Time) []*model.FillLot {
	var out []*model.FillLot
	for _, acc := range []model.Account{model.AccountA, model.AccountB} {
		for _, side := range []model.Side{model.SideBuy, model.SideSell} {
			for _, lot := range state.Lots[acc][side] {
				if now.Sub(lot.Timestamp) >= threshold {
					out = append(out, lot)
				}
			}
		}
	}
	return out
}
