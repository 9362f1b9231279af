// Package gateway is the thin typed facade over the external exchange client.
//
// The rest of the engine only ever depends on the Gateway interface; the concrete
// binding lives in binance.go and is selected once at startup.
package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"dualhedge/internal/model"
)

// InstrumentMeta describes exchange-side precision for one instrument.
type InstrumentMeta struct {
	Instrument   string
	TickSize     decimal.Decimal
	SizeStep     decimal.Decimal
	MinSize      decimal.Decimal
	BaseDecimals int32
}

// ExchangeOrder is a normalized view of a resting or recently-closed order.
type ExchangeOrder struct {
	ExchangeOrderID string
	ClientID        string
	Instrument      string
	Side            model.Side
	LimitPrice      decimal.Decimal
	OriginalSize    decimal.Decimal
	TradedSize      decimal.Decimal
	State           model.OrderState
}

// ExchangePosition is a normalized account position.
type ExchangePosition struct {
	Instrument  string
	SignedSize  decimal.Decimal // base units, signed
	EntryPrice  decimal.Decimal
	MarkPrice   decimal.Decimal
}

// Summary is a normalized account risk summary.
type Summary struct {
	Equity            decimal.Decimal
	MaintenanceMargin decimal.Decimal
	AvailableBalance  decimal.Decimal
}

// Gateway abstracts one trading venue for both accounts.
type Gateway interface {
	PlacePostOnly(ctx context.Context, account model.Account, instrument string, side model.Side, price, size decimal.Decimal, clientID int64) (exchangeOrderID string, gwErr *Error)
	Cancel(ctx context.Context, account model.Account, instrument, exchangeOrderID string) error
	OpenOrders(ctx context.Context, account model.Account, instrument string) ([]ExchangeOrder, error)
	Positions(ctx context.Context, account model.Account) ([]ExchangePosition, error)
	AccountSummary(ctx context.Context, account model.Account) (Summary, error)
	Orderbook(ctx context.Context, instrument string, depth int) (model.TopOfBook, error)
	Instrument(ctx context.Context, instrument string) (InstrumentMeta, error)
}

// defaultTimeout bounds every single exchange RPC so a stall never blocks the tick loop forever.
const defaultTimeout = 10 * time.Second

// withTimeout bounds a single RPC; applied at every gateway call site.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultTimeout)
}
