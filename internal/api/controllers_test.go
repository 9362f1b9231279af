package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"dualhedge/internal/alert"
	"dualhedge/internal/gateway"
	"dualhedge/internal/model"
	"dualhedge/internal/risk"
)

type noopGateway struct{}

func (noopGateway) PlacePostOnly(context.Context, model.Account, string, model.Side, decimal.Decimal, decimal.Decimal, int64) (string, *gateway.Error) {
	return "", nil
}
func (noopGateway) Cancel(context.Context, model.Account, string, string) error { return nil }
func (noopGateway) OpenOrders(context.Context, model.Account, string) ([]gateway.ExchangeOrder, error) {
	return nil, nil
}
func (noopGateway) Positions(context.Context, model.Account) ([]gateway.ExchangePosition, error) {
	return nil, nil
}
func (noopGateway) AccountSummary(context.Context, model.Account) (gateway.Summary, error) {
	return gateway.Summary{}, nil
}
func (noopGateway) Orderbook(context.Context, string, int) (model.TopOfBook, error) {
	return model.TopOfBook{}, nil
}
func (noopGateway) Instrument(context.Context, string) (gateway.InstrumentMeta, error) {
	return gateway.InstrumentMeta{}, nil
}

const testSecret = "test-secret"

func testServer(t *testing.T) *Server {
	t.Helper()
	st := model.NewSymbolState(model.SymbolConfig{Instrument: "BTCUSDT", Enabled: true})
	st.Positions.AAbsNotional = decimal.NewFromInt(100)
	states := map[string]*model.SymbolState{"BTCUSDT": st}

	riskMgr := risk.New(noopGateway{}, alert.NewWebhookTransport("", "", ""), decimal.NewFromFloat(0.7), time.Hour)

	return NewServer(func() map[string]*model.SymbolState { return states }, riskMgr, testSecret)
}

func TestHealthzRequiresNoAuth(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStateRequiresBearerToken(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStateReturnsSnapshotWithValidToken(t *testing.T) {
	s := testServer(t)
	token, err := IssueAdminToken(testSecret, "operator", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "BTCUSDT")
	require.Contains(t, rec.Body.String(), `"a_abs_notional_usdt":"100"`)
}

func TestAlertsRecentRejectsExpiredToken(t *testing.T) {
	s := testServer(t)
	token, err := IssueAdminToken(testSecret, "operator", -time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/alerts/recent", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.Router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
