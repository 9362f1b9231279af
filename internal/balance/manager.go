// Package balance implements the dual-account rebalancer: a small periodic loop that
// watches both accounts' available USDT and, once the drift between them grows past a
// threshold, moves funds so each side keeps enough margin to carry its hedge leg.
package balance

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dualhedge/internal/gateway"
	"dualhedge/internal/model"
)

// SummaryGateway is the narrow read surface the rebalancer needs from the Gateway.
type SummaryGateway interface {
	AccountSummary(ctx context.Context, account model.Account) (gateway.Summary, error)
}

// TransferGateway moves asset between one account's own spot and futures wallets.
type TransferGateway interface {
	Transfer(ctx context.Context, account model.Account, asset string, amount decimal.Decimal, dir gateway.TransferDirection) error
}

// Gateway is the combined surface the Manager depends on; *gateway.BinanceGateway
// satisfies it directly.
type Gateway interface {
	SummaryGateway
	TransferGateway
}

// Cache holds the last-synced available balance per account.
type Cache struct {
	mu        sync.RWMutex
	available map[model.Account]decimal.Decimal
	lastSync  time.Time
}

func newCache() *Cache {
	return &Cache{available: map[model.Account]decimal.Decimal{model.AccountA: decimal.Zero, model.AccountB: decimal.Zero}}
}

func (c *Cache) set(account model.Account, amount decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.available[account] = amount
	c.lastSync = time.Now()
}

// Available returns the last-synced available balance for account.
func (c *Cache) Available(account model.Account) decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available[account]
}

// Manager polls both accounts' balances and, once they drift apart by more than
// Threshold, rebalances by moving Asset out of the fuller account's futures wallet and
// into the leaner account's. The first leg lands in the fuller account's spot wallet and
// the second draws from the leaner account's spot wallet; the exchange's funding-account
// sweep is relied on to bridge the two spot wallets, so a
// completed rebalance still needs the configured funding account to settle.
type Manager struct {
	gw           Gateway
	cache        *Cache
	syncInterval time.Duration
	threshold    decimal.Decimal
	asset        string
	mainAccount  string
}

// NewManager builds a rebalancer. threshold is the USDT drift between accounts'
// available balances that triggers a transfer; asset is the margin asset moved (USDT);
// mainAccount identifies the funding account whose sweep bridges the two spot wallets.
func NewManager(gw Gateway, syncInterval time.Duration, threshold decimal.Decimal, asset, mainAccount string) *Manager {
	return &Manager{
		gw:           gw,
		cache:        newCache(),
		syncInterval: syncInterval,
		threshold:    threshold,
		asset:        asset,
		mainAccount:  mainAccount,
	}
}

// Start runs the sync-then-rebalance loop until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	m.tick(ctx)

	ticker := time.NewTicker(m.syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) tick(ctx context.Context) {
	if err := m.Sync(ctx); err != nil {
		log.Printf("balance sync error: %v", err)
		return
	}
	if err := m.Rebalance(ctx); err != nil {
		log.Printf("rebalance error: %v", err)
	}
}

// Sync refreshes the cached available balance for both accounts.
func (m *Manager) Sync(ctx context.Context) error {
	for _, account := range []model.Account{model.AccountA, model.AccountB} {
		summary, err := m.gw.AccountSummary(ctx, account)
		if err != nil {
			return fmt.Errorf("account summary for %s: %w", account, err)
		}
		m.cache.set(account, summary.AvailableBalance)
	}
	log.Printf("balance synced: A=%s B=%s", m.cache.Available(model.AccountA), m.cache.Available(model.AccountB))
	return nil
}

// Rebalance compares the cached balances and, if they differ by more than the
// configured threshold, moves half the drift from the fuller account to the leaner one.
func (m *Manager) Rebalance(ctx context.Context) error {
	availA := m.cache.Available(model.AccountA)
	availB := m.cache.Available(model.AccountB)

	drift := availA.Sub(availB).Abs()
	if drift.LessThanOrEqual(m.threshold) {
		return nil
	}

	// Without a funding account the two spot legs would never bridge; the moved
	// amount would just strand in the fuller account's spot wallet.
	if m.mainAccount == "" {
		log.Printf("rebalance needed (drift %s %s) but no funding account configured; skipping", drift, m.asset)
		return nil
	}

	fuller, leaner := model.AccountA, model.AccountB
	if availB.GreaterThan(availA) {
		fuller, leaner = model.AccountB, model.AccountA
	}
	amount := drift.Div(decimal.NewFromInt(2)).Truncate(2)
	if !amount.IsPositive() {
		return nil
	}

	log.Printf("rebalancing %s %s: %s -> %s via funding account %s", amount, m.asset, fuller, leaner, m.mainAccount)

	if err := m.gw.Transfer(ctx, fuller, m.asset, amount, gateway.TransferToSpot); err != nil {
		return fmt.Errorf("withdraw leg on %s: %w", fuller, err)
	}
	if err := m.gw.Transfer(ctx, leaner, m.asset, amount, gateway.TransferToFutures); err != nil {
		return fmt.Errorf("deposit leg on %s: %w", leaner, err)
	}
	return nil
}
