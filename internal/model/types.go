// Package model holds the hedging engine's core data types.
//
// All monetary and size fields use decimal.Decimal rather than float64 so that
// tick-rounding and guard-price comparisons are exact.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account identifies one of the two accounts the engine drives.
type Account string

const (
	AccountA Account = "A"
	AccountB Account = "B"
)

// Other returns the opposite account.
func (a Account) Other() Account {
	if a == AccountA {
		return AccountB
	}
	return AccountA
}

// Side is a trading direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderState is the managed-order lifecycle state.
type OrderState string

const (
	OrderPending   OrderState = "PENDING"
	OrderOpen      OrderState = "OPEN"
	OrderPartial   OrderState = "PARTIAL"
	OrderFilled    OrderState = "FILLED"
	OrderCancelled OrderState = "CANCELLED"
	OrderRejected  OrderState = "REJECTED"
)

// Terminal reports whether the state is final.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected:
		return true
	default:
		return false
	}
}

// PositionMode selects whether a symbol is actively growing or unwinding its pair position.
type PositionMode string

const (
	PositionModeIncrease PositionMode = "increase"
	PositionModeDecrease PositionMode = "decrease"
)

// SymbolConfig is the immutable per-instrument configuration loaded from the symbols file.
type SymbolConfig struct {
	Instrument            string
	Enabled               bool
	OrderNotionalUSDT     decimal.Decimal
	ImbalanceLimitUSDT    decimal.Decimal
	MaxTotalPositionUSDT  decimal.Decimal
	MinTotalPositionUSDT  decimal.Decimal
	ASideWhenEqual        Side
	PositionMode          PositionMode
}

// FillLot is a record of unmatched fill size awaiting a cross-account hedge. The
// matcher decrements Size in place as the lot is consumed; the other fields never change.
type FillLot struct {
	Account    Account
	Instrument string
	Side       Side
	Size       decimal.Decimal // base units, always > 0
	GuardPrice decimal.Decimal // protected execution price
	Timestamp  time.Time
}

// Remaining is an alias kept for readability at call sites that mutate Size in place.
func (l *FillLot) Remaining() decimal.Decimal { return l.Size }

// ManagedOrder is a mutable record of a strategy-submitted (or adopted) order.
type ManagedOrder struct {
	ClientID        int64
	ExchangeOrderID string // may be a temporary sentinel until reconciled
	Account         Account
	Instrument      string
	Side            Side
	LimitPrice      decimal.Decimal
	OriginalSize    decimal.Decimal
	TradedSize      decimal.Decimal
	State           OrderState
	CreatedAt       time.Time
	LastUpdatedAt   time.Time
	IsStrategy      bool
	GuardPrice      decimal.Decimal // the lot guard that motivated this order, if any

	// HedgeAbandoned marks a partial fill idle past the configured timeout: the
	// remaining size no longer counts toward open hedge notional. The order itself
	// keeps resting.
	HedgeAbandoned bool

	// MissedPolls counts consecutive reconcile passes where the exchange no longer
	// reported this order; it is polled once more before being treated as terminal.
	MissedPolls int
}

// RemainingSize returns the order's unfilled quantity.
func (o *ManagedOrder) RemainingSize() decimal.Decimal {
	return o.OriginalSize.Sub(o.TradedSize)
}

// Positions tracks per-account exposure for one instrument.
type Positions struct {
	AAbsNotional  decimal.Decimal
	BAbsNotional  decimal.Decimal
	ASignedBase   decimal.Decimal
	BSignedBase   decimal.Decimal
	AEntryPrice   decimal.Decimal
	BEntryPrice   decimal.Decimal
}

// AbsNotional returns the absolute notional for the given account.
func (p Positions) AbsNotional(acc Account) decimal.Decimal {
	if acc == AccountA {
		return p.AAbsNotional
	}
	return p.BAbsNotional
}

// EntryPrice returns the entry price for the given account.
func (p Positions) EntryPrice(acc Account) decimal.Decimal {
	if acc == AccountA {
		return p.AEntryPrice
	}
	return p.BEntryPrice
}

// TopOfBook is the best bid/ask snapshot for an instrument.
type TopOfBook struct {
	Bid1      decimal.Decimal
	Ask1      decimal.Decimal
	Timestamp time.Time
}

// ForeignOrder records a non-strategy order observed on an account, for alerting only.
type ForeignOrder struct {
	ExchangeOrderID string
	Account         Account
	Instrument      string
	FirstSeenAt     time.Time
	LastAlertedAt   time.Time
}

// SymbolState is the full mutable per-instrument state the engine maintains.
type SymbolState struct {
	Config SymbolConfig

	// lots[account][side] is a FIFO queue, oldest first.
	Lots map[Account]map[Side][]*FillLot

	// Orders is keyed by locally assigned client id.
	Orders map[int64]*ManagedOrder

	Positions Positions

	LastOrderbook TopOfBook

	// CooldownUntil is keyed by account; zero value means no cooldown.
	CooldownUntil map[Account]time.Time

	// ForeignOrders is keyed by exchange order id.
	ForeignOrders map[string]*ForeignOrder
}

// NewSymbolState builds an empty state for a configured instrument.
func NewSymbolState(cfg SymbolConfig) *SymbolState {
	return &SymbolState{
		Config: cfg,
		Lots: map[Account]map[Side][]*FillLot{
			AccountA: {SideBuy: nil, SideSell: nil},
			AccountB: {SideBuy: nil, SideSell: nil},
		},
		Orders:        make(map[int64]*ManagedOrder),
		CooldownUntil: make(map[Account]time.Time),
		ForeignOrders: make(map[string]*ForeignOrder),
	}
}

// InCooldown reports whether the given account is currently backed off for this instrument.
func (s *SymbolState) InCooldown(acc Account, now time.Time) bool {
	until, ok := s.CooldownUntil[acc]
	return ok && now.Before(until)
}

// ActiveOrderCount counts live (non-terminal) strategy orders for an account.
func (s *SymbolState) ActiveOrderCount(acc Account) int {
	n := 0
	for _, o := range s.Orders {
		if o.Account == acc && o.IsStrategy && !o.State.Terminal() {
			n++
		}
	}
	return n
}

// AlertKind enumerates the categories of alert the risk manager raises.
type AlertKind string

const (
	AlertMMR              AlertKind = "mmr_alert"
	AlertStuckHedge       AlertKind = "stuck_hedge"
	AlertPostOnlyCooldown AlertKind = "post_only_cooldown"
	AlertForeignOrder     AlertKind = "non_strategy_order_present"
	AlertAuthFailure      AlertKind = "auth_failure"
	AlertPermanentError   AlertKind = "permanent_error"
)

// AlertState is the process-wide deduplication and daily-report bookkeeping state.
type AlertState struct {
	// LastSent is keyed by "(kind, scope)" where scope is an instrument id, account id, or order id.
	LastSent map[string]time.Time

	// StuckAccumulator tracks, per instrument, the earliest unmatched-lot timestamp seen today.
	StuckAccumulator map[string]time.Time
}

// NewAlertState builds empty alert bookkeeping.
func NewAlertState() *AlertState {
	return &AlertState{
		LastSent:         make(map[string]time.Time),
		StuckAccumulator: make(map[string]time.Time),
	}
}
