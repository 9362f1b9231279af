package orders

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"dualhedge/internal/gateway"
	"dualhedge/internal/model"
)

type fakeGateway struct {
	openOrders []gateway.ExchangeOrder
	cancelled  []string
}

func (f *fakeGateway) PlacePostOnly(ctx context.Context, account model.Account, instrument string, side model.Side, price, size decimal.Decimal, clientID int64) (string, *gateway.Error) {
	return "ex-1", nil
}
func (f *fakeGateway) Cancel(ctx context.Context, account model.Account, instrument, exchangeOrderID string) error {
	f.cancelled = append(f.cancelled, exchangeOrderID)
	return nil
}
func (f *fakeGateway) OpenOrders(ctx context.Context, account model.Account, instrument string) ([]gateway.ExchangeOrder, error) {
	return f.openOrders, nil
}
func (f *fakeGateway) Positions(ctx context.Context, account model.Account) ([]gateway.ExchangePosition, error) {
	return nil, nil
}
func (f *fakeGateway) AccountSummary(ctx context.Context, account model.Account) (gateway.Summary, error) {
	return gateway.Summary{}, nil
}
func (f *fakeGateway) Orderbook(ctx context.Context, instrument string, depth int) (model.TopOfBook, error) {
	return model.TopOfBook{}, nil
}
func (f *fakeGateway) Instrument(ctx context.Context, instrument string) (gateway.InstrumentMeta, error) {
	return gateway.InstrumentMeta{}, nil
}

func TestReconcileAppendsLotOnFillDelta(t *testing.T) {
	fg := &fakeGateway{}
	tbl := New(fg)
	st := model.NewSymbolState(model.SymbolConfig{Instrument: "BTCUSDT"})

	mo := &model.ManagedOrder{
		ClientID: 1, ExchangeOrderID: "ex-1", Account: model.AccountA, Instrument: "BTCUSDT",
		Side: model.SideBuy, LimitPrice: decimal.NewFromFloat(100), OriginalSize: decimal.NewFromInt(2),
		TradedSize: decimal.Zero, State: model.OrderOpen, IsStrategy: true, CreatedAt: time.Now(), LastUpdatedAt: time.Now(),
	}
	st.Orders[1] = mo
	fg.openOrders = []gateway.ExchangeOrder{{
		ExchangeOrderID: "ex-1", Instrument: "BTCUSDT", Side: model.SideBuy,
		LimitPrice: decimal.NewFromFloat(100), OriginalSize: decimal.NewFromInt(2), TradedSize: decimal.NewFromInt(1),
		State: model.OrderPartial,
	}}

	err := tbl.Reconcile(context.Background(), st, model.AccountA, time.Hour, time.Now())
	require.NoError(t, err)
	require.Len(t, st.Lots[model.AccountA][model.SideBuy], 1)
	require.True(t, st.Lots[model.AccountA][model.SideBuy][0].Size.Equal(decimal.NewFromInt(1)))
	require.Equal(t, model.OrderPartial, mo.State)
}

func TestReconcileMarksMissingOrderTerminal(t *testing.T) {
	fg := &fakeGateway{}
	tbl := New(fg)
	st := model.NewSymbolState(model.SymbolConfig{Instrument: "BTCUSDT"})

	mo := &model.ManagedOrder{
		ClientID: 1, ExchangeOrderID: "ex-1", Account: model.AccountA, Instrument: "BTCUSDT",
		Side: model.SideBuy, LimitPrice: decimal.NewFromFloat(100), OriginalSize: decimal.NewFromInt(2),
		TradedSize: decimal.NewFromInt(2), State: model.OrderOpen, IsStrategy: true, CreatedAt: time.Now(), LastUpdatedAt: time.Now(),
	}
	st.Orders[1] = mo
	fg.openOrders = nil // no longer resting

	// First miss only increments the grace counter; the order is polled once more.
	err := tbl.Reconcile(context.Background(), st, model.AccountA, time.Hour, time.Now())
	require.NoError(t, err)
	require.Equal(t, model.OrderOpen, mo.State)

	err = tbl.Reconcile(context.Background(), st, model.AccountA, time.Hour, time.Now())
	require.NoError(t, err)
	require.Equal(t, model.OrderFilled, mo.State)
}

func TestReconcileAlignsSentinelOrderID(t *testing.T) {
	fg := &fakeGateway{}
	tbl := New(fg)
	st := model.NewSymbolState(model.SymbolConfig{Instrument: "BTCUSDT"})

	mo := &model.ManagedOrder{
		ClientID: 9_000_000_000_042, ExchangeOrderID: "0", Account: model.AccountA, Instrument: "BTCUSDT",
		Side: model.SideBuy, LimitPrice: decimal.NewFromFloat(100), OriginalSize: decimal.NewFromInt(2),
		State: model.OrderOpen, IsStrategy: true, CreatedAt: time.Now(), LastUpdatedAt: time.Now(),
	}
	st.Orders[mo.ClientID] = mo
	fg.openOrders = []gateway.ExchangeOrder{{
		ExchangeOrderID: "ex-real", ClientID: "9000000000042", Instrument: "BTCUSDT", Side: model.SideBuy,
		LimitPrice: decimal.NewFromFloat(100), OriginalSize: decimal.NewFromInt(2), State: model.OrderOpen,
	}}

	err := tbl.Reconcile(context.Background(), st, model.AccountA, time.Hour, time.Now())
	require.NoError(t, err)
	require.Equal(t, "ex-real", mo.ExchangeOrderID)
	require.Equal(t, model.OrderOpen, mo.State)
}

func TestPartialFillTimeoutAbandonsRemainderWithoutCancelling(t *testing.T) {
	fg := &fakeGateway{}
	tbl := New(fg)
	st := model.NewSymbolState(model.SymbolConfig{Instrument: "BTCUSDT"})

	now := time.Now()
	mo := &model.ManagedOrder{
		ClientID: 1, ExchangeOrderID: "ex-1", Account: model.AccountA, Instrument: "BTCUSDT",
		Side: model.SideBuy, LimitPrice: decimal.NewFromFloat(100), OriginalSize: decimal.NewFromInt(1000),
		TradedSize: decimal.NewFromInt(400), State: model.OrderPartial, IsStrategy: true,
		CreatedAt: now.Add(-time.Hour), LastUpdatedAt: now.Add(-31 * time.Minute),
	}
	st.Orders[1] = mo
	fg.openOrders = []gateway.ExchangeOrder{{
		ExchangeOrderID: "ex-1", Instrument: "BTCUSDT", Side: model.SideBuy,
		LimitPrice: decimal.NewFromFloat(100), OriginalSize: decimal.NewFromInt(1000), TradedSize: decimal.NewFromInt(400),
		State: model.OrderPartial,
	}}

	err := tbl.Reconcile(context.Background(), st, model.AccountA, 30*time.Minute, now)
	require.NoError(t, err)
	require.True(t, mo.HedgeAbandoned)
	require.Equal(t, model.OrderPartial, mo.State)
	require.Empty(t, fg.cancelled, "the timeout rule never cancels the resting remainder")
}

func TestCancelOlderThanKeepKeepsNewest(t *testing.T) {
	fg := &fakeGateway{}
	tbl := New(fg)
	st := model.NewSymbolState(model.SymbolConfig{Instrument: "BTCUSDT"})

	old := &model.ManagedOrder{ClientID: 1, ExchangeOrderID: "old", Account: model.AccountA, IsStrategy: true, State: model.OrderOpen, CreatedAt: time.Now().Add(-time.Hour)}
	newer := &model.ManagedOrder{ClientID: 2, ExchangeOrderID: "new", Account: model.AccountA, IsStrategy: true, State: model.OrderOpen, CreatedAt: time.Now()}
	st.Orders[1] = old
	st.Orders[2] = newer

	err := tbl.CancelOlderThanKeep(context.Background(), st, model.AccountA, 1, time.Now())
	require.NoError(t, err)
	require.Equal(t, []string{"old"}, fg.cancelled)
	require.Equal(t, model.OrderCancelled, old.State)
	require.Equal(t, model.OrderOpen, newer.State)
}
