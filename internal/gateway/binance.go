package gateway

import (
	"context"
	"fmt"
	"strconv"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"dualhedge/internal/model"
)

// venueClient is the minimal surface BinanceGateway needs from a per-account futures
// client; narrowing to an interface keeps the pool exchange-agnostic and testable.
type venueClient interface {
	NewCreateOrderService() *futures.CreateOrderService
	NewCancelOrderService() *futures.CancelOrderService
	NewListOpenOrdersService() *futures.ListOpenOrdersService
	NewGetPositionRiskService() *futures.GetPositionRiskService
	NewGetAccountService() *futures.GetAccountService
	NewDepthService() *futures.DepthService
	NewExchangeInfoService() *futures.ExchangeInfoService
}

// BinanceGateway implements Gateway against Binance USDM futures, one pooled client per account.
type BinanceGateway struct {
	pool        *Pool
	credentials map[model.Account]Credential
	testnet     bool

	// spotClients back wallet transfers only; the hot tick loop never touches them, so
	// they sit outside the pool's rate limiting and circuit breaking.
	spotClients map[model.Account]*binance.Client
}

// Credential is one account's API key/secret pair.
type Credential struct {
	APIKey    string
	APISecret string
}

// NewBinanceGateway wires a gateway for the two configured accounts.
func NewBinanceGateway(credA, credB Credential, testnet bool) *BinanceGateway {
	if testnet {
		binance.UseTestnet = true
	}
	g := &BinanceGateway{
		credentials: map[model.Account]Credential{model.AccountA: credA, model.AccountB: credB},
		testnet:     testnet,
		spotClients: map[model.Account]*binance.Client{
			model.AccountA: binance.NewClient(credA.APIKey, credA.APISecret),
			model.AccountB: binance.NewClient(credB.APIKey, credB.APISecret),
		},
	}
	g.pool = NewPool(g.buildClient, 10, 20)
	return g
}

func (g *BinanceGateway) buildClient(account model.Account) (venueClient, error) {
	cred, ok := g.credentials[account]
	if !ok {
		return nil, fmt.Errorf("no credentials configured for account %s", account)
	}
	if g.testnet {
		futures.UseTestnet = true
	}
	client := binance.NewFuturesClient(cred.APIKey, cred.APISecret)
	return client, nil
}

func (g *BinanceGateway) client(account model.Account) (venueClient, error) {
	return g.pool.get(account)
}

// withAuthRetry runs fn once against account's pooled client. On an auth-classified
// failure it rebuilds the client and retries exactly once; any other failure, or a
// second consecutive auth failure, is returned to the caller as the final classified error.
func withAuthRetry[T any](g *BinanceGateway, account model.Account, fn func(venueClient) (T, error)) (T, *Error) {
	var zero T

	cli, err := g.client(account)
	if err != nil {
		return zero, &Error{Kind: KindPermanent, Err: err}
	}

	res, svcErr := fn(cli)
	if svcErr == nil {
		g.pool.recordSuccess(account)
		return res, nil
	}
	gwErr := classify(svcErr)
	g.pool.recordFailure(account, gwErr.Kind)
	if gwErr.Kind != KindAuth {
		return zero, gwErr
	}

	cli, err = g.client(account)
	if err != nil {
		return zero, &Error{Kind: KindAuth, Err: err}
	}
	res, svcErr = fn(cli)
	if svcErr != nil {
		gwErr2 := classify(svcErr)
		g.pool.recordFailure(account, gwErr2.Kind)
		return zero, gwErr2
	}
	g.pool.recordSuccess(account)
	return res, nil
}

// PlacePostOnly submits a post-only (GTX) limit order; the client-assigned id is
// carried as NewClientOrderID so later queries can reconcile a temporary exchange id.
func (g *BinanceGateway) PlacePostOnly(ctx context.Context, account model.Account, instrument string, side model.Side, price, size decimal.Decimal, clientID int64) (string, *Error) {
	if g.pool.tripped(account) {
		return "", &Error{Kind: KindTransient, Err: fmt.Errorf("circuit open for account %s", account)}
	}
	if err := g.pool.wait(ctx, account); err != nil {
		return "", &Error{Kind: KindTransient, Err: err}
	}

	reqCtx, cancel := withTimeout(ctx)
	defer cancel()

	binSide := futures.SideTypeBuy
	if side == model.SideSell {
		binSide = futures.SideTypeSell
	}

	orderID, gwErr := withAuthRetry(g, account, func(cli venueClient) (int64, error) {
		order, svcErr := cli.NewCreateOrderService().
			Symbol(instrument).
			Side(binSide).
			Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTX).
			Quantity(size.String()).
			Price(price.String()).
			NewClientOrderID(strconv.FormatInt(clientID, 10)).
			Do(reqCtx)
		if svcErr != nil {
			return 0, svcErr
		}
		return order.OrderID, nil
	})
	if gwErr != nil {
		return "", gwErr
	}
	return strconv.FormatInt(orderID, 10), nil
}

// Cancel cancels a resting order by exchange id.
func (g *BinanceGateway) Cancel(ctx context.Context, account model.Account, instrument, exchangeOrderID string) error {
	if err := g.pool.wait(ctx, account); err != nil {
		return &Error{Kind: KindTransient, Err: err}
	}
	reqCtx, cancel := withTimeout(ctx)
	defer cancel()

	orderID, _ := strconv.ParseInt(exchangeOrderID, 10, 64)
	_, gwErr := withAuthRetry(g, account, func(cli venueClient) (struct{}, error) {
		_, svcErr := cli.NewCancelOrderService().Symbol(instrument).OrderID(orderID).Do(reqCtx)
		return struct{}{}, svcErr
	})
	if gwErr != nil {
		return gwErr
	}
	return nil
}

// OpenOrders returns resting orders for the given account, optionally scoped to one instrument.
func (g *BinanceGateway) OpenOrders(ctx context.Context, account model.Account, instrument string) ([]ExchangeOrder, error) {
	reqCtx, cancel := withTimeout(ctx)
	defer cancel()

	orders, gwErr := withAuthRetry(g, account, func(cli venueClient) ([]*futures.Order, error) {
		svc := cli.NewListOpenOrdersService()
		if instrument != "" {
			svc = svc.Symbol(instrument)
		}
		return svc.Do(reqCtx)
	})
	if gwErr != nil {
		return nil, gwErr
	}

	out := make([]ExchangeOrder, 0, len(orders))
	for _, o := range orders {
		side := model.SideBuy
		if o.Side == futures.SideTypeSell {
			side = model.SideSell
		}
		price, _ := decimal.NewFromString(o.Price)
		qty, _ := decimal.NewFromString(o.OrigQuantity)
		filled, _ := decimal.NewFromString(o.ExecutedQuantity)
		out = append(out, ExchangeOrder{
			ExchangeOrderID: strconv.FormatInt(o.OrderID, 10),
			ClientID:        o.ClientOrderID,
			Instrument:      o.Symbol,
			Side:            side,
			LimitPrice:      price,
			OriginalSize:    qty,
			TradedSize:      filled,
			State:           normalizeState(string(o.Status), qty, filled),
		})
	}
	return out, nil
}

// Positions returns non-zero and zero positions reported by the exchange for account.
func (g *BinanceGateway) Positions(ctx context.Context, account model.Account) ([]ExchangePosition, error) {
	reqCtx, cancel := withTimeout(ctx)
	defer cancel()

	risks, gwErr := withAuthRetry(g, account, func(cli venueClient) ([]*futures.PositionRisk, error) {
		return cli.NewGetPositionRiskService().Do(reqCtx)
	})
	if gwErr != nil {
		return nil, gwErr
	}

	out := make([]ExchangePosition, 0, len(risks))
	for _, r := range risks {
		signed, _ := decimal.NewFromString(r.PositionAmt)
		entry, _ := decimal.NewFromString(r.EntryPrice)
		mark, _ := decimal.NewFromString(r.MarkPrice)
		out = append(out, ExchangePosition{
			Instrument: r.Symbol,
			SignedSize: signed,
			EntryPrice: entry,
			MarkPrice:  mark,
		})
	}
	return out, nil
}

// AccountSummary returns equity/maintenance-margin/available-balance for MMR checks.
func (g *BinanceGateway) AccountSummary(ctx context.Context, account model.Account) (Summary, error) {
	reqCtx, cancel := withTimeout(ctx)
	defer cancel()

	acct, gwErr := withAuthRetry(g, account, func(cli venueClient) (*futures.Account, error) {
		return cli.NewGetAccountService().Do(reqCtx)
	})
	if gwErr != nil {
		return Summary{}, gwErr
	}

	equity, _ := decimal.NewFromString(acct.TotalMarginBalance)
	maint, _ := decimal.NewFromString(acct.TotalMaintMargin)
	avail, _ := decimal.NewFromString(acct.AvailableBalance)
	return Summary{Equity: equity, MaintenanceMargin: maint, AvailableBalance: avail}, nil
}

// Orderbook returns best bid/ask for instrument.
func (g *BinanceGateway) Orderbook(ctx context.Context, instrument string, depth int) (model.TopOfBook, error) {
	cli, err := g.client(model.AccountA)
	if err != nil {
		return model.TopOfBook{}, err
	}
	reqCtx, cancel := withTimeout(ctx)
	defer cancel()

	book, svcErr := cli.NewDepthService().Symbol(instrument).Limit(depth).Do(reqCtx)
	if svcErr != nil {
		return model.TopOfBook{}, classify(svcErr)
	}
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return model.TopOfBook{}, fmt.Errorf("empty orderbook for %s", instrument)
	}
	bid, _ := decimal.NewFromString(book.Bids[0].Price)
	ask, _ := decimal.NewFromString(book.Asks[0].Price)
	return model.TopOfBook{Bid1: bid, Ask1: ask}, nil
}

// Instrument returns tick/step metadata for instrument, used by the Instrument Registry cache.
func (g *BinanceGateway) Instrument(ctx context.Context, instrument string) (InstrumentMeta, error) {
	cli, err := g.client(model.AccountA)
	if err != nil {
		return InstrumentMeta{}, err
	}
	reqCtx, cancel := withTimeout(ctx)
	defer cancel()

	info, svcErr := cli.NewExchangeInfoService().Do(reqCtx)
	if svcErr != nil {
		return InstrumentMeta{}, classify(svcErr)
	}
	for _, s := range info.Symbols {
		if s.Symbol != instrument {
			continue
		}
		meta := InstrumentMeta{Instrument: instrument, BaseDecimals: int32(s.QuantityPrecision)}
		for _, f := range s.Filters {
			switch f["filterType"] {
			case "PRICE_FILTER":
				if ts, ok := f["tickSize"].(string); ok {
					meta.TickSize, _ = decimal.NewFromString(ts)
				}
			case "LOT_SIZE":
				if step, ok := f["stepSize"].(string); ok {
					meta.SizeStep, _ = decimal.NewFromString(step)
				}
				if min, ok := f["minQty"].(string); ok {
					meta.MinSize, _ = decimal.NewFromString(min)
				}
			}
		}
		return meta, nil
	}
	return InstrumentMeta{}, fmt.Errorf("instrument %s not found", instrument)
}

// TransferDirection picks which wallet leg of an account's own balance to move funds
// across; cross-account movement is composed by the caller as one leg per account.
type TransferDirection int

const (
	// TransferToFutures moves funds from the account's spot wallet into its USDM futures wallet.
	TransferToFutures TransferDirection = iota + 1
	// TransferToSpot moves funds from the account's USDM futures wallet into its spot wallet.
	TransferToSpot
)

// Transfer moves asset between account's own spot and USDM-futures wallets. The
// rebalancer composes a cross-account move as a TransferToSpot leg on the fuller
// account followed by a TransferToFutures leg on the leaner one, relying on the
// exchange's funding-account sweep to bridge the two spot wallets.
func (g *BinanceGateway) Transfer(ctx context.Context, account model.Account, asset string, amount decimal.Decimal, dir TransferDirection) error {
	cli, ok := g.spotClients[account]
	if !ok {
		return fmt.Errorf("no spot client configured for account %s", account)
	}
	reqCtx, cancel := withTimeout(ctx)
	defer cancel()

	transferType := binance.FuturesTransferType(dir)
	_, err := cli.NewFuturesTransferService().
		Asset(asset).
		Amount(amount.String()).
		Type(transferType).
		Do(reqCtx)
	if err != nil {
		return classify(err)
	}
	return nil
}

func normalizeState(status string, qty, filled decimal.Decimal) model.OrderState {
	switch status {
	case "NEW":
		if filled.IsPositive() && filled.LessThan(qty) {
			return model.OrderPartial
		}
		return model.OrderOpen
	case "PARTIALLY_FILLED":
		return model.OrderPartial
	case "FILLED":
		return model.OrderFilled
	case "CANCELED", "EXPIRED":
		return model.OrderCancelled
	case "REJECTED":
		return model.OrderRejected
	default:
		return model.OrderOpen
	}
}
