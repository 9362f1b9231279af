package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"dualhedge/internal/gateway"
	"dualhedge/internal/ledger"
	"dualhedge/internal/model"
	"dualhedge/internal/orders"
)

// Driver runs one tick across every configured instrument: a concurrent A/B fetch
// barrier, followed by per-instrument reconcile+match+decide fanned out across
// goroutines (safe because each instrument's SymbolState is disjoint).
type Driver struct {
	gw     gateway.Gateway
	table  *orders.Table
	engine *Engine

	partialFillTimeout time.Duration
}

// NewDriver builds a tick driver.
func NewDriver(gw gateway.Gateway, table *orders.Table, eng *Engine, partialFillTimeout time.Duration) *Driver {
	return &Driver{gw: gw, table: table, engine: eng, partialFillTimeout: partialFillTimeout}
}

// RunTick executes one full cycle over all instruments in states.
func (d *Driver) RunTick(ctx context.Context, states map[string]*model.SymbolState) error {
	now := time.Now()

	var posA, posB []gateway.ExchangePosition
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		posA, err = d.gw.Positions(gctx, model.AccountA)
		return err
	})
	g.Go(func() error {
		var err error
		posB, err = d.gw.Positions(gctx, model.AccountB)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	posAByInstrument := indexPositions(posA)
	posBByInstrument := indexPositions(posB)

	g2, gctx2 := errgroup.WithContext(ctx)
	for instrument, state := range states {
		instrument, state := instrument, state
		g2.Go(func() error {
			ApplyPositions(state, posAByInstrument[instrument], posBByInstrument[instrument])

			if err := d.table.Reconcile(gctx2, state, model.AccountA, d.partialFillTimeout, now); err != nil {
				return err
			}
			if err := d.table.Reconcile(gctx2, state, model.AccountB, d.partialFillTimeout, now); err != nil {
				return err
			}
			ledger.Match(state)

			d.engine.Tick(gctx2, state, now)
			return nil
		})
	}
	return g2.Wait()
}

func indexPositions(positions []gateway.ExchangePosition) map[string]gateway.ExchangePosition {
	out := make(map[string]gateway.ExchangePosition, len(positions))
	for _, p := range positions {
		out[p.Instrument] = p
	}
	return out
}

// ApplyPositions folds the latest exchange position snapshot into state.
func ApplyPositions(state *model.SymbolState, a, b gateway.ExchangePosition) {
	state.Positions.ASignedBase = a.SignedSize
	state.Positions.BSignedBase = b.SignedSize
	state.Positions.AEntryPrice = a.EntryPrice
	state.Positions.BEntryPrice = b.EntryPrice
	state.Positions.AAbsNotional = a.SignedSize.Abs().Mul(valueOrMark(a))
	state.Positions.BAbsNotional = b.SignedSize.Abs().Mul(valueOrMark(b))
}

func valueOrMark(p gateway.ExchangePosition) decimal.Decimal {
	if p.MarkPrice.IsPositive() {
		return p.MarkPrice
	}
	return p.EntryPrice
}
