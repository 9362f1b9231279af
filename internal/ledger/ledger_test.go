package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"dualhedge/internal/model"
)

func newState() *model.SymbolState {
	return model.NewSymbolState(model.SymbolConfig{Instrument: "BTCUSDT"})
}

func TestMatchRespectsPriceProtection(t *testing.T) {
	st := newState()
	now := time.Now()

	// A bought at 1002.0; B's sell must clear at >= 1002.0 to match.
	AppendLot(st, model.AccountA, model.SideBuy, decimal.NewFromInt(1), decimal.NewFromFloat(1002.0), now)
	AppendLot(st, model.AccountB, model.SideSell, decimal.NewFromInt(1), decimal.NewFromFloat(1001.5), now)

	Match(st)
	require.Len(t, st.Lots[model.AccountA][model.SideBuy], 1, "lower-guard sell must not match a higher-guard buy")
	require.Len(t, st.Lots[model.AccountB][model.SideSell], 1)

	// Replace with an admissible sell.
	st.Lots[model.AccountB][model.SideSell] = nil
	AppendLot(st, model.AccountB, model.SideSell, decimal.NewFromInt(1), decimal.NewFromFloat(1002.5), now)
	Match(st)
	require.Empty(t, st.Lots[model.AccountA][model.SideBuy])
	require.Empty(t, st.Lots[model.AccountB][model.SideSell])
}

func TestMatchPartialConsumesOnlyMinQty(t *testing.T) {
	st := newState()
	now := time.Now()

	AppendLot(st, model.AccountA, model.SideBuy, decimal.NewFromInt(3), decimal.NewFromFloat(100), now)
	AppendLot(st, model.AccountB, model.SideSell, decimal.NewFromInt(1), decimal.NewFromFloat(100), now)

	Match(st)
	require.Len(t, st.Lots[model.AccountA][model.SideBuy], 1)
	require.True(t, st.Lots[model.AccountA][model.SideBuy][0].Size.Equal(decimal.NewFromInt(2)))
	require.Empty(t, st.Lots[model.AccountB][model.SideSell])
}

func TestMatchPrefersMoreProtectionMarginAtEqualAge(t *testing.T) {
	st := newState()
	now := time.Now()

	// Two equal-age sells; only the higher-guard one can satisfy the buy's protection.
	AppendLot(st, model.AccountA, model.SideBuy, decimal.NewFromInt(1), decimal.NewFromFloat(1002), now)
	AppendLot(st, model.AccountB, model.SideSell, decimal.NewFromInt(1), decimal.NewFromFloat(1001), now)
	AppendLot(st, model.AccountB, model.SideSell, decimal.NewFromInt(1), decimal.NewFromFloat(1003), now)

	Match(st)
	require.Empty(t, st.Lots[model.AccountA][model.SideBuy])
	require.Len(t, st.Lots[model.AccountB][model.SideSell], 1)
	require.True(t, st.Lots[model.AccountB][model.SideSell][0].GuardPrice.Equal(decimal.NewFromFloat(1001)))
}

func TestOldestUnmatchedFIFO(t *testing.T) {
	st := newState()
	t1 := time.Now().Add(-time.Hour)
	t2 := time.Now()

	AppendLot(st, model.AccountA, model.SideBuy, decimal.NewFromInt(1), decimal.NewFromFloat(100), t2)
	AppendLot(st, model.AccountB, model.SideBuy, decimal.NewFromInt(1), decimal.NewFromFloat(100), t1)

	oldest := OldestUnmatched(st)
	require.NotNil(t, oldest)
	require.Equal(t, model.AccountB, oldest.Account)
}

func TestStuckLotsThreshold(t *testing.T) {
	st := newState()
	now := time.Now()
	AppendLot(st, model.AccountA, model.SideBuy, decimal.NewFromInt(1), decimal.NewFromFloat(100), now.Add(-7*time.Hour))
	AppendLot(st, model.AccountA, model.SideSell, decimal.NewFromInt(1), decimal.NewFromFloat(100), now.Add(-1*time.Hour))

	stuck := StuckLots(st, 6*time.Hour, now)
	require.Len(t, stuck, 1)
	require.Equal(t, model.SideBuy, stuck[0].Side)
}
