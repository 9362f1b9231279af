package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dualhedge/internal/model"
)

// instrumentSnapshot is the wire shape for one instrument's /state entry: decimals are
// rendered as strings so the JSON payload never loses precision across the wire.
type instrumentSnapshot struct {
	Instrument       string `json:"instrument"`
	Enabled          bool   `json:"enabled"`
	PositionMode     string `json:"position_mode"`
	AAbsNotionalUSDT string `json:"a_abs_notional_usdt"`
	BAbsNotionalUSDT string `json:"b_abs_notional_usdt"`
	ASignedBase      string `json:"a_signed_base"`
	BSignedBase      string `json:"b_signed_base"`
	Bid1             string `json:"bid1"`
	Ask1             string `json:"ask1"`
	OpenOrdersA      int    `json:"open_orders_a"`
	OpenOrdersB      int    `json:"open_orders_b"`
	UnmatchedLotsA   int    `json:"unmatched_lots_a"`
	UnmatchedLotsB   int    `json:"unmatched_lots_b"`
	ForeignOrders    int    `json:"foreign_orders"`
	CooldownA        bool   `json:"cooldown_a"`
	CooldownB        bool   `json:"cooldown_b"`
}

func snapshotOf(state *model.SymbolState) instrumentSnapshot {
	now := state.LastOrderbook.Timestamp
	return instrumentSnapshot{
		Instrument:       state.Config.Instrument,
		Enabled:          state.Config.Enabled,
		PositionMode:     string(state.Config.PositionMode),
		AAbsNotionalUSDT: state.Positions.AAbsNotional.String(),
		BAbsNotionalUSDT: state.Positions.BAbsNotional.String(),
		ASignedBase:      state.Positions.ASignedBase.String(),
		BSignedBase:      state.Positions.BSignedBase.String(),
		Bid1:             state.LastOrderbook.Bid1.String(),
		Ask1:             state.LastOrderbook.Ask1.String(),
		OpenOrdersA:      state.ActiveOrderCount(model.AccountA),
		OpenOrdersB:      state.ActiveOrderCount(model.AccountB),
		UnmatchedLotsA:   len(state.Lots[model.AccountA][model.SideBuy]) + len(state.Lots[model.AccountA][model.SideSell]),
		UnmatchedLotsB:   len(state.Lots[model.AccountB][model.SideBuy]) + len(state.Lots[model.AccountB][model.SideSell]),
		ForeignOrders:    len(state.ForeignOrders),
		CooldownA:        state.InCooldown(model.AccountA, now),
		CooldownB:        state.InCooldown(model.AccountB, now),
	}
}

// getState reports a per-instrument snapshot for every configured symbol.
func (s *Server) getState(c *gin.Context) {
	states := s.states()
	out := make([]instrumentSnapshot, 0, len(states))
	for _, state := range states {
		out = append(out, snapshotOf(state))
	}
	c.JSON(http.StatusOK, gin.H{"instruments": out})
}

// getRecentAlerts reports the most recently fired alerts, newest first, optionally
// bounded by ?limit=.
func (s *Server) getRecentAlerts(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if s.risk == nil {
		c.JSON(http.StatusOK, gin.H{"alerts": []struct{}{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": s.risk.Recent(limit)})
}
