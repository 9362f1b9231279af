package model

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// rawSymbolConfig mirrors the on-disk JSON shape before decimal/enum conversion.
type rawSymbolConfig struct {
	Instrument           string  `json:"instrument"`
	Enabled              bool    `json:"enabled"`
	OrderNotionalUSDT    float64 `json:"order_notional_usdt"`
	ImbalanceLimitUSDT   float64 `json:"imbalance_limit_usdt"`
	MaxTotalPositionUSDT float64 `json:"max_total_position_usdt"`
	MinTotalPositionUSDT float64 `json:"min_total_position_usdt"`
	ASideWhenEqual       string  `json:"a_side_when_equal"`
	PositionMode         string  `json:"position_mode"`
}

// CanonicalInstrument normalizes an instrument name's trailing perpetual suffix.
func CanonicalInstrument(name string) string {
	if strings.HasSuffix(name, "_PERP") {
		return strings.TrimSuffix(name, "_PERP") + "_Perp"
	}
	return name
}

// LoadSymbols reads and validates the JSON symbols file at path.
// Entries with enabled=false are still returned; callers skip them at decision time.
func LoadSymbols(path string) ([]SymbolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read symbols file: %w", err)
	}

	var raw []rawSymbolConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse symbols file: %w", err)
	}

	out := make([]SymbolConfig, 0, len(raw))
	for _, r := range raw {
		if r.Instrument == "" {
			continue
		}
		side := Side(strings.ToLower(r.ASideWhenEqual))
		if side != SideBuy && side != SideSell {
			side = SideBuy
		}
		mode := PositionMode(strings.ToLower(r.PositionMode))
		if mode != PositionModeIncrease && mode != PositionModeDecrease {
			mode = PositionModeIncrease
		}
		out = append(out, SymbolConfig{
			Instrument:           CanonicalInstrument(r.Instrument),
			Enabled:              r.Enabled,
			OrderNotionalUSDT:    decimal.NewFromFloat(r.OrderNotionalUSDT),
			ImbalanceLimitUSDT:   decimal.NewFromFloat(r.ImbalanceLimitUSDT),
			MaxTotalPositionUSDT: decimal.NewFromFloat(r.MaxTotalPositionUSDT),
			MinTotalPositionUSDT: decimal.NewFromFloat(r.MinTotalPositionUSDT),
			ASideWhenEqual:       side,
			PositionMode:         mode,
		})
	}
	return out, nil
}
