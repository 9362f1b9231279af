package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"dualhedge/internal/gateway"
	"dualhedge/internal/model"
	"dualhedge/internal/orders"
	"dualhedge/internal/registry"
)

type stubGateway struct {
	book      model.TopOfBook
	meta      gateway.InstrumentMeta
	placed    int
	rejectN   int // number of PostOnlyRejected responses to return before succeeding
	lastSize  decimal.Decimal
	lastPx    decimal.Decimal
	lastSide  model.Side
	lastAcct  model.Account
	cancelled []string
}

func (s *stubGateway) PlacePostOnly(ctx context.Context, account model.Account, instrument string, side model.Side, price, size decimal.Decimal, clientID int64) (string, *gateway.Error) {
	s.lastPx, s.lastSize, s.lastSide, s.lastAcct = price, size, side, account
	if s.placed < s.rejectN {
		s.placed++
		return "", &gateway.Error{Kind: gateway.KindPostOnlyRejected}
	}
	s.placed++
	return "ex-ok", nil
}
func (s *stubGateway) Cancel(ctx context.Context, account model.Account, instrument, exchangeOrderID string) error {
	s.cancelled = append(s.cancelled, exchangeOrderID)
	return nil
}
func (s *stubGateway) OpenOrders(ctx context.Context, account model.Account, instrument string) ([]gateway.ExchangeOrder, error) {
	return nil, nil
}
func (s *stubGateway) Positions(ctx context.Context, account model.Account) ([]gateway.ExchangePosition, error) {
	return nil, nil
}
func (s *stubGateway) AccountSummary(ctx context.Context, account model.Account) (gateway.Summary, error) {
	return gateway.Summary{}, nil
}
func (s *stubGateway) Orderbook(ctx context.Context, instrument string, depth int) (model.TopOfBook, error) {
	return s.book, nil
}
func (s *stubGateway) Instrument(ctx context.Context, instrument string) (gateway.InstrumentMeta, error) {
	return s.meta, nil
}

func baseConfig() model.SymbolConfig {
	return model.SymbolConfig{
		Instrument:           "BTCUSDT",
		Enabled:              true,
		OrderNotionalUSDT:    decimal.NewFromInt(1000),
		ImbalanceLimitUSDT:   decimal.NewFromInt(1000),
		MaxTotalPositionUSDT: decimal.NewFromInt(100000),
		MinTotalPositionUSDT: decimal.Zero,
		ASideWhenEqual:       model.SideBuy,
		PositionMode:         model.PositionModeIncrease,
	}
}

func TestTickPlacesBothSidesWhenEqual(t *testing.T) {
	gw := &stubGateway{book: model.TopOfBook{Bid1: decimal.NewFromFloat(1002.0), Ask1: decimal.NewFromFloat(1002.1)}}
	tbl := orders.New(gw)
	eng := New(gw, tbl, nil, nil, Params{SingleOrderDiffThreshold: decimal.NewFromInt(20), PostOnlyMaxRetry: 5, PostOnlyCooldown: 5 * time.Minute})

	st := model.NewSymbolState(baseConfig())
	eng.Tick(context.Background(), st, time.Now())

	require.Equal(t, 2, gw.placed)
	require.Len(t, st.Orders, 2)
}

func TestTickRespectsMaxTotalPositionBound(t *testing.T) {
	gw := &stubGateway{book: model.TopOfBook{Bid1: decimal.NewFromFloat(1000), Ask1: decimal.NewFromFloat(1000.1)}}
	tbl := orders.New(gw)
	eng := New(gw, tbl, nil, nil, Params{SingleOrderDiffThreshold: decimal.NewFromInt(20), PostOnlyMaxRetry: 5, PostOnlyCooldown: 5 * time.Minute})

	cfg := baseConfig()
	cfg.MaxTotalPositionUSDT = decimal.NewFromInt(100) // already below a single order's notional
	st := model.NewSymbolState(cfg)
	st.Positions.AAbsNotional = decimal.NewFromInt(90)
	st.Positions.BAbsNotional = decimal.NewFromInt(90)

	eng.Tick(context.Background(), st, time.Now())
	require.Equal(t, 0, gw.placed, "placement exceeding max_total_position_usdt must be rejected")
}

func TestTickRoundsPriceAndSizeToInstrumentStep(t *testing.T) {
	gw := &stubGateway{
		book: model.TopOfBook{Bid1: decimal.NewFromFloat(1002.07), Ask1: decimal.NewFromFloat(1002.13)},
		meta: gateway.InstrumentMeta{TickSize: decimal.NewFromFloat(0.1), SizeStep: decimal.NewFromFloat(0.001), MinSize: decimal.NewFromFloat(0.001), BaseDecimals: 3},
	}
	tbl := orders.New(gw)
	reg := registry.New(gw, time.Hour)
	eng := New(gw, tbl, reg, nil, Params{SingleOrderDiffThreshold: decimal.NewFromInt(20), PostOnlyMaxRetry: 5, PostOnlyCooldown: 5 * time.Minute})

	st := model.NewSymbolState(baseConfig())
	eng.Tick(context.Background(), st, time.Now())

	require.Equal(t, 2, gw.placed)
	// A buys at floor(1002.07/0.1)*0.1 = 1002.0; the last call recorded is B's sell.
	require.True(t, gw.lastPx.Equal(decimal.NewFromFloat(1002.2)), "sell price must ceil to tick: got %s", gw.lastPx)
	require.True(t, gw.lastSize.Equal(gw.lastSize.Truncate(3)), "size must be truncated to base decimals: got %s", gw.lastSize)
}

func TestHedgeSellPriceRespectsGuardOverAsk(t *testing.T) {
	// A is long 1000U at entry 1002 with its fill lot unmatched; B is flat. Even with
	// ask1 below the guard, B's hedge sell must not price under 1002.
	gw := &stubGateway{book: model.TopOfBook{Bid1: decimal.NewFromFloat(1001.0), Ask1: decimal.NewFromFloat(1001.1)}}
	tbl := orders.New(gw)
	eng := New(gw, tbl, nil, nil, Params{SingleOrderDiffThreshold: decimal.NewFromInt(20), PostOnlyMaxRetry: 5, PostOnlyCooldown: 5 * time.Minute})

	st := model.NewSymbolState(baseConfig())
	st.Positions.AAbsNotional = decimal.NewFromInt(1000)
	st.Positions.ASignedBase = decimal.NewFromInt(1)
	st.Positions.AEntryPrice = decimal.NewFromFloat(1002.0)
	st.Lots[model.AccountA][model.SideBuy] = []*model.FillLot{{
		Account: model.AccountA, Instrument: "BTCUSDT", Side: model.SideBuy,
		Size: decimal.NewFromInt(1), GuardPrice: decimal.NewFromFloat(1002.0), Timestamp: time.Now().Add(-time.Minute),
	}}

	eng.Tick(context.Background(), st, time.Now())

	require.Equal(t, 1, gw.placed)
	require.Equal(t, model.AccountB, gw.lastAcct)
	require.Equal(t, model.SideSell, gw.lastSide)
	require.True(t, gw.lastPx.Equal(decimal.NewFromFloat(1002.0)), "guard must win over ask1: got %s", gw.lastPx)
}

func TestLowDiffTightensCapAndCancelsOlder(t *testing.T) {
	gw := &stubGateway{book: model.TopOfBook{Bid1: decimal.NewFromFloat(100), Ask1: decimal.NewFromFloat(100.1)}}
	tbl := orders.New(gw)
	eng := New(gw, tbl, nil, nil, Params{SingleOrderDiffThreshold: decimal.NewFromInt(20), PostOnlyMaxRetry: 5, PostOnlyCooldown: 5 * time.Minute})

	st := model.NewSymbolState(baseConfig())
	st.Positions.AAbsNotional = decimal.NewFromInt(500)
	st.Positions.BAbsNotional = decimal.NewFromInt(485)
	st.Positions.ASignedBase = decimal.NewFromInt(5)
	st.Positions.BSignedBase = decimal.NewFromInt(-4)

	now := time.Now()
	older := &model.ManagedOrder{ClientID: 1, ExchangeOrderID: "older", Account: model.AccountB, Instrument: "BTCUSDT", Side: model.SideSell, State: model.OrderOpen, IsStrategy: true, CreatedAt: now.Add(-time.Hour)}
	newer := &model.ManagedOrder{ClientID: 2, ExchangeOrderID: "newer", Account: model.AccountB, Instrument: "BTCUSDT", Side: model.SideSell, State: model.OrderOpen, IsStrategy: true, CreatedAt: now}
	st.Orders[1] = older
	st.Orders[2] = newer

	eng.Tick(context.Background(), st, now)

	require.Equal(t, []string{"older"}, gw.cancelled)
	require.Equal(t, model.OrderCancelled, older.State)
	require.Equal(t, model.OrderOpen, newer.State)
}

func TestCorrectiveBypassesIncreaseMaxBound(t *testing.T) {
	gw := &stubGateway{}
	eng := New(gw, orders.New(gw), nil, nil, Params{})

	cfg := baseConfig()
	cfg.MaxTotalPositionUSDT = decimal.NewFromInt(100)
	st := model.NewSymbolState(cfg)
	st.Positions.AAbsNotional = decimal.NewFromInt(90)
	st.Positions.BAbsNotional = decimal.NewFromInt(90)

	size, price := decimal.NewFromInt(1), decimal.NewFromInt(50)
	require.False(t, eng.passesBounds(st, size, price, false))
	require.True(t, eng.passesBounds(st, size, price, true), "corrective hedges may exceed the increase-mode max")
}

func TestSubmitWithRetryEntersCooldownAfterExhaustion(t *testing.T) {
	gw := &stubGateway{book: model.TopOfBook{Bid1: decimal.NewFromFloat(1002.0), Ask1: decimal.NewFromFloat(1002.1)}, rejectN: 10}
	tbl := orders.New(gw)
	eng := New(gw, tbl, nil, nil, Params{SingleOrderDiffThreshold: decimal.NewFromInt(20), PostOnlyMaxRetry: 3, PostOnlyCooldown: 5 * time.Minute})

	st := model.NewSymbolState(baseConfig())
	now := time.Now()
	eng.submitWithRetry(context.Background(), st, model.AccountA, model.SideBuy, decimal.NewFromFloat(1002), decimal.NewFromFloat(1), decimal.NewFromFloat(1002), now)

	require.True(t, st.InCooldown(model.AccountA, now.Add(time.Minute)))
}
