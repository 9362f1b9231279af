// Package orders implements the managed-order table: reconciling the exchange's view of
// resting orders into FillLot deltas and handling partial-fill timeouts.
package orders

import (
	"context"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"dualhedge/internal/gateway"
	"dualhedge/internal/ledger"
	"dualhedge/internal/model"
)

// clientIDFloor/clientIDCeil bound the numeric client-id range this engine reserves for
// its own strategy orders, used by the reconciler to classify adopted vs foreign orders.
const (
	ClientIDFloor int64 = 9_000_000_000_000
	ClientIDCeil  int64 = 9_999_999_999_999
)

// nextClientID is a process-local monotonic counter seeded from the current time so
// restarts don't immediately collide with recently-used ids. Atomic because decisions
// for different instruments run in parallel goroutines within one tick.
var nextClientID atomic.Int64

func init() {
	span := ClientIDCeil - ClientIDFloor
	nextClientID.Store(ClientIDFloor + time.Now().UnixMilli()%span)
}

// NewClientID returns the next reserved client id for a strategy order.
func NewClientID() int64 {
	id := nextClientID.Add(1)
	if id >= ClientIDCeil {
		nextClientID.Store(ClientIDFloor)
		return ClientIDFloor
	}
	return id
}

// isSentinelOrderID reports whether an exchange order id is the temporary placeholder
// some placement responses carry before the real id is queryable.
func isSentinelOrderID(id string) bool {
	return id == "" || id == "0"
}

// Table owns the managed-order map embedded in model.SymbolState and reconciles it
// against the exchange each tick.
type Table struct {
	gw gateway.Gateway
}

// New builds a managed-order table bound to gw.
func New(gw gateway.Gateway) *Table {
	return &Table{gw: gw}
}

// Reconcile fetches the current open-order view for account/instrument and folds any
// traded-size increase into new FillLots, ages out abandoned partial fills, and retires
// orders no longer seen on the exchange.
func (t *Table) Reconcile(ctx context.Context, state *model.SymbolState, account model.Account, partialFillTimeout time.Duration, now time.Time) error {
	live, err := t.gw.OpenOrders(ctx, account, state.Config.Instrument)
	if err != nil {
		return err
	}

	seen := make(map[int64]bool, len(live))
	byExchangeID := make(map[string]*model.ManagedOrder)
	byClientID := make(map[int64]*model.ManagedOrder)
	for _, o := range state.Orders {
		if o.Account == account {
			byExchangeID[o.ExchangeOrderID] = o
			byClientID[o.ClientID] = o
		}
	}

	for _, lo := range live {
		mo := byExchangeID[lo.ExchangeOrderID]
		if mo == nil {
			// Align a temporary-sentinel exchange id to the real one by client-id match.
			if id, err := strconv.ParseInt(lo.ClientID, 10, 64); err == nil {
				if cand := byClientID[id]; cand != nil && isSentinelOrderID(cand.ExchangeOrderID) {
					cand.ExchangeOrderID = lo.ExchangeOrderID
					mo = cand
				}
			}
		}
		if mo == nil {
			continue // not a strategy order we placed or adopted; reconciler handles adoption
		}
		seen[mo.ClientID] = true
		mo.MissedPolls = 0

		delta := lo.TradedSize.Sub(mo.TradedSize)
		if delta.IsPositive() {
			ledger.AppendLot(state, account, sideOfFill(mo.Side), delta, mo.LimitPrice, now)
			mo.TradedSize = lo.TradedSize
			mo.LastUpdatedAt = now
		}

		switch {
		case mo.TradedSize.GreaterThanOrEqual(mo.OriginalSize):
			mo.State = model.OrderFilled
		case mo.TradedSize.IsPositive():
			mo.State = model.OrderPartial
			if !mo.HedgeAbandoned && now.Sub(mo.LastUpdatedAt) >= partialFillTimeout {
				// The remainder stops counting toward open hedge notional; the order
				// itself keeps resting and its fills keep reconciling.
				mo.HedgeAbandoned = true
				log.Printf("orders: partial fill on %s (%s, client %d) idle past timeout; remaining size abandoned for hedging", state.Config.Instrument, account, mo.ClientID)
			}
		default:
			mo.State = model.OrderOpen
		}
	}

	// Anything previously live but now missing from the exchange's view gets polled
	// once more before being treated as terminal.
	for _, mo := range state.Orders {
		if mo.Account != account || mo.State.Terminal() || seen[mo.ClientID] {
			continue
		}
		mo.MissedPolls++
		if mo.MissedPolls < 2 {
			continue
		}
		if mo.TradedSize.GreaterThanOrEqual(mo.OriginalSize) {
			mo.State = model.OrderFilled
		} else {
			mo.State = model.OrderCancelled
		}
		mo.LastUpdatedAt = now
	}

	// Terminal orders stay one retention window for bookkeeping, then drop out of the table.
	for id, mo := range state.Orders {
		if mo.Account == account && mo.State.Terminal() && now.Sub(mo.LastUpdatedAt) >= terminalRetention {
			delete(state.Orders, id)
		}
	}

	return nil
}

// terminalRetention is how long a finished order lingers in the table after its last
// update; long enough for the same tick's ledger finalisation and logging to see it.
const terminalRetention = time.Minute

// sideOfFill maps a resting order's side to the FillLot side its fills produce — identical,
// since a buy order's fill is a buy lot and a sell order's fill is a sell lot.
func sideOfFill(side model.Side) model.Side { return side }

// Submit places a new managed order and records it in the table under a freshly reserved client id.
func (t *Table) Submit(ctx context.Context, state *model.SymbolState, account model.Account, side model.Side, price, size, guardPrice decimal.Decimal, now time.Time) (*model.ManagedOrder, *gateway.Error) {
	clientID := NewClientID()
	mo := &model.ManagedOrder{
		ClientID:      clientID,
		Account:       account,
		Instrument:    state.Config.Instrument,
		Side:          side,
		LimitPrice:    price,
		OriginalSize:  size,
		State:         model.OrderPending,
		CreatedAt:     now,
		LastUpdatedAt: now,
		IsStrategy:    true,
		GuardPrice:    guardPrice,
	}

	orderID, gwErr := t.gw.PlacePostOnly(ctx, account, state.Config.Instrument, side, price, size, clientID)
	if gwErr != nil {
		mo.State = model.OrderRejected
		return mo, gwErr
	}

	mo.ExchangeOrderID = orderID
	mo.State = model.OrderOpen
	state.Orders[clientID] = mo
	return mo, nil
}

// CancelOlderThanKeep cancels all but the newest `keep` strategy orders for account,
// oldest first, used both by the low-diff cap-tightening rule and by shutdown cleanup.
func (t *Table) CancelOlderThanKeep(ctx context.Context, state *model.SymbolState, account model.Account, keep int, now time.Time) error {
	var live []*model.ManagedOrder
	for _, o := range state.Orders {
		if o.Account == account && o.IsStrategy && !o.State.Terminal() {
			live = append(live, o)
		}
	}
	if len(live) <= keep {
		return nil
	}

	// Oldest first.
	for i := 0; i < len(live); i++ {
		for j := i + 1; j < len(live); j++ {
			if live[j].CreatedAt.Before(live[i].CreatedAt) {
				live[i], live[j] = live[j], live[i]
			}
		}
	}

	toCancel := live[:len(live)-keep]
	for _, o := range toCancel {
		if err := t.gw.Cancel(ctx, account, o.Instrument, o.ExchangeOrderID); err != nil {
			return err
		}
		o.State = model.OrderCancelled
		o.LastUpdatedAt = now
	}
	return nil
}
