// Package reconcile seeds synthetic lots from pre-existing positions and classifies
// pre-existing orders as adopted strategy orders vs. foreign orders at startup.
package reconcile

import (
	"context"
	"log"
	"strconv"
	"time"

	"dualhedge/internal/gateway"
	"dualhedge/internal/model"
	"dualhedge/internal/orders"
)

// Reconciler performs the one-time (or reconnect-time) adoption pass: pre-existing
// positions become synthetic hedge-ledger lots and pre-existing orders are classified
// as adopted strategy orders or foreign.
type Reconciler struct {
	gw gateway.Gateway
}

// New builds a reconciler bound to gw.
func New(gw gateway.Gateway) *Reconciler {
	return &Reconciler{gw: gw}
}

// Report summarizes one reconciliation pass for logging/audit.
type Report struct {
	Instrument      string
	SyntheticLots   int
	AdoptedOrders   int
	ForeignOrders   int
}

// Reconcile runs the full adoption pass for one instrument's state. It is idempotent:
// running it twice against unchanged exchange state produces no duplicate lots and no
// double-counted positions, because adoption keys off position/order identity rather
// than appending blindly.
func (r *Reconciler) Reconcile(ctx context.Context, state *model.SymbolState, now time.Time) (Report, error) {
	rep := Report{Instrument: state.Config.Instrument}

	for _, acc := range []model.Account{model.AccountA, model.AccountB} {
		positions, err := r.gw.Positions(ctx, acc)
		if err != nil {
			return rep, err
		}
		for _, p := range positions {
			if p.Instrument != state.Config.Instrument || p.SignedSize.IsZero() {
				continue
			}
			if alreadySeeded(state, acc) {
				continue
			}
			side := model.SideBuy
			if p.SignedSize.IsNegative() {
				side = model.SideSell
			}
			// Guard uses entry price, not mark price; the conservative bound.
			size := p.SignedSize.Abs()
			state.Lots[acc][side] = append(state.Lots[acc][side], &model.FillLot{
				Account: acc, Instrument: state.Config.Instrument, Side: side,
				Size: size, GuardPrice: p.EntryPrice, Timestamp: now,
			})
			rep.SyntheticLots++
			log.Printf("reconcile: seeded synthetic lot %s %s %s size=%s guard(entry)=%s", state.Config.Instrument, acc, side, size, p.EntryPrice)
		}

		liveOrders, err := r.gw.OpenOrders(ctx, acc, state.Config.Instrument)
		if err != nil {
			return rep, err
		}
		for _, lo := range liveOrders {
			if _, adopted := findManagedByExchangeID(state, lo.ExchangeOrderID); adopted {
				continue
			}
			if isStrategyClientID(lo.ClientID) {
				clientID, _ := strconv.ParseInt(lo.ClientID, 10, 64)
				state.Orders[clientID] = &model.ManagedOrder{
					ClientID: clientID, ExchangeOrderID: lo.ExchangeOrderID, Account: acc,
					Instrument: lo.Instrument, Side: lo.Side, LimitPrice: lo.LimitPrice,
					OriginalSize: lo.OriginalSize, TradedSize: lo.TradedSize, State: lo.State,
					IsStrategy: true, CreatedAt: now, LastUpdatedAt: now,
				}
				rep.AdoptedOrders++
				continue
			}
			if _, known := state.ForeignOrders[lo.ExchangeOrderID]; !known {
				state.ForeignOrders[lo.ExchangeOrderID] = &model.ForeignOrder{
					ExchangeOrderID: lo.ExchangeOrderID, Account: acc, Instrument: state.Config.Instrument, FirstSeenAt: now,
				}
				rep.ForeignOrders++
			}
		}
	}

	return rep, nil
}

// alreadySeeded reports whether account already has unmatched lots for this instrument.
// Adoption is meant to run once at startup, before any live trading has produced lots;
// a non-empty ledger means a prior reconcile pass already seeded it, keeping re-entry idempotent.
func alreadySeeded(state *model.SymbolState, acc model.Account) bool {
	return len(state.Lots[acc][model.SideBuy])+len(state.Lots[acc][model.SideSell]) > 0
}

func findManagedByExchangeID(state *model.SymbolState, exchangeOrderID string) (*model.ManagedOrder, bool) {
	for _, o := range state.Orders {
		if o.ExchangeOrderID == exchangeOrderID {
			return o, true
		}
	}
	return nil, false
}

// isStrategyClientID reports whether a client id string falls within the engine's
// reserved numeric range, per internal/orders.ClientIDFloor/ClientIDCeil.
func isStrategyClientID(clientID string) bool {
	id, err := strconv.ParseInt(clientID, 10, 64)
	if err != nil {
		return false
	}
	return id >= orders.ClientIDFloor && id <= orders.ClientIDCeil
}
