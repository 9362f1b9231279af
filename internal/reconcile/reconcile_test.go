package reconcile

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
	positions map[model.Account][]gateway.ExchangePosition
	orders    map[model.Account][]gateway.ExchangeOrder
}

func (f *fakeGateway) PlacePostOnly(ctx context.Context, account model.Account, instrument string, side model.Side, price, size decimal.Decimal, clientID int64) (string, *gateway.Error) {
	return "", nil
}
func (f *fakeGateway) Cancel(ctx context.Context, account model.Account, instrument, exchangeOrderID string) error {
	return nil
}
func (f *fakeGateway) OpenOrders(ctx context.Context, account model.Account, instrument string) ([]gateway.ExchangeOrder, error) {
	return f.orders[account], nil
}
func (f *fakeGateway) Positions(ctx context.Context, account model.Account) ([]gateway.ExchangePosition, error) {
	return f.positions[account], nil
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

func TestReconcileSeedsSyntheticLotAndFlagsForeignOrder(t *testing.T) {
	fg := &fakeGateway{
		positions: map[model.Account][]gateway.ExchangePosition{
			model.AccountA: {{Instrument: "BTCUSDT", SignedSize: decimal.NewFromFloat(1.5), EntryPrice: decimal.NewFromFloat(1000)}},
		},
		orders: map[model.Account][]gateway.ExchangeOrder{
			model.AccountA: {{ExchangeOrderID: "foreign-1", ClientID: "not-ours", Instrument: "BTCUSDT", Side: model.SideSell, LimitPrice: decimal.NewFromFloat(1010), OriginalSize: decimal.NewFromFloat(1), State: model.OrderOpen}},
		},
	}
	r := New(fg)
	st := model.NewSymbolState(model.SymbolConfig{Instrument: "BTCUSDT"})

	rep, err := r.Reconcile(context.Background(), st, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, rep.SyntheticLots)
	require.Equal(t, 1, rep.ForeignOrders)
	require.Len(t, st.Lots[model.AccountA][model.SideBuy], 1)
	require.True(t, st.Lots[model.AccountA][model.SideBuy][0].GuardPrice.Equal(decimal.NewFromFloat(1000)))
	require.Contains(t, st.ForeignOrders, "foreign-1")
}

func TestReconcileIsIdempotent(t *testing.T) {
	fg := &fakeGateway{
		positions: map[model.Account][]gateway.ExchangePosition{
			model.AccountA: {{Instrument: "BTCUSDT", SignedSize: decimal.NewFromFloat(1.5), EntryPrice: decimal.NewFromFloat(1000)}},
		},
	}
	r := New(fg)
	st := model.NewSymbolState(model.SymbolConfig{Instrument: "BTCUSDT"})

	_, err := r.Reconcile(context.Background(), st, time.Now())
	require.NoError(t, err)
	_, err = r.Reconcile(context.Background(), st, time.Now())
	require.NoError(t, err)

	require.Len(t, st.Lots[model.AccountA][model.SideBuy], 1, "a second reconcile pass must not duplicate the synthetic lot")
}
