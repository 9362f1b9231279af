// Package risk implements the MMR and stuck-hedge checks, alert deduplication, and the
// daily stuck-hedge report. It observes engine state at defined hook points but never
// mutates trading state.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dualhedge/internal/alert"
	"dualhedge/internal/gateway"
	"dualhedge/internal/ledger"
	"dualhedge/internal/model"
)

const (
	mmrAlertCooldown          = 10 * time.Minute
	stuckAlertCooldown        = 30 * time.Minute
	postOnlyCooldownAlertTTL  = 5 * time.Minute
	foreignOrderAlertCooldown = time.Hour
	authFailureAlertCooldown  = 10 * time.Minute

	// Permanent (4xx semantic) errors alert once per (kind, instrument, account); the
	// long window makes "once" hold for any realistic process lifetime.
	permanentAlertCooldown = 24 * time.Hour
)

// recentAlertCapacity bounds the in-memory ring buffer the admin API's /alerts/recent
// endpoint reads from; this is observability state, not the dedup ledger.
const recentAlertCapacity = 200

// Manager evaluates per-tick risk and alert conditions.
type Manager struct {
	gw        gateway.Gateway
	transport alert.Transport

	mmrThreshold   decimal.Decimal
	stuckThreshold time.Duration

	mu     sync.Mutex
	alerts *model.AlertState
	recent []Alert
}

// New builds a risk/alert manager.
func New(gw gateway.Gateway, transport alert.Transport, mmrThreshold decimal.Decimal, stuckThreshold time.Duration) *Manager {
	return &Manager{gw: gw, transport: transport, mmrThreshold: mmrThreshold, stuckThreshold: stuckThreshold, alerts: model.NewAlertState()}
}

// Recent returns up to limit of the most recently fired alerts, newest first, for the
// admin API's /alerts/recent endpoint. limit <= 0 returns the full buffer.
func (m *Manager) Recent(limit int) []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Alert, len(m.recent))
	for i, a := range m.recent {
		out[len(m.recent)-1-i] = a
	}
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// CheckAccount evaluates the MMR for account and alerts if it breaches the threshold.
// A fetch failure that classifies as an auth error (the gateway already rebuilt and
// retried once) is surfaced as an auth_failure alert, deduplicated per account.
func (m *Manager) CheckAccount(ctx context.Context, account model.Account, now time.Time) {
	summary, err := m.gw.AccountSummary(ctx, account)
	if err != nil {
		log.Printf("risk: account summary fetch failed for %s: %v", account, err)
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) && gwErr.Kind == gateway.KindAuth {
			m.fire(now, model.AlertAuthFailure, string(account), fmt.Sprintf("auth failure on account %s: %v", account, err), authFailureAlertCooldown)
		}
		return
	}
	if summary.Equity.IsZero() {
		return
	}
	mmr := summary.MaintenanceMargin.Div(summary.Equity)
	if mmr.GreaterThanOrEqual(m.mmrThreshold) {
		m.fire(now, model.AlertMMR, string(account), fmt.Sprintf("account %s MMR %.4f >= threshold %.4f", account, mmr.InexactFloat64(), m.mmrThreshold.InexactFloat64()), mmrAlertCooldown)
	}
}

// CheckStuck scans state's ledger for lots older than the stuck threshold, alerts
// (deduplicated per instrument), and records them in the daily accumulator.
func (m *Manager) CheckStuck(state *model.SymbolState, now time.Time) {
	stuck := ledger.StuckLots(state, m.stuckThreshold, now)
	if len(stuck) == 0 {
		return
	}

	m.mu.Lock()
	if _, tracked := m.alerts.StuckAccumulator[state.Config.Instrument]; !tracked {
		oldest := stuck[0].Timestamp
		for _, l := range stuck {
			if l.Timestamp.Before(oldest) {
				oldest = l.Timestamp
			}
		}
		m.alerts.StuckAccumulator[state.Config.Instrument] = oldest
	}
	m.mu.Unlock()

	m.fire(now, model.AlertStuckHedge, state.Config.Instrument, fmt.Sprintf("%d unmatched lot(s) on %s stuck past %s", len(stuck), state.Config.Instrument, m.stuckThreshold), stuckAlertCooldown)
}

// NotifyForeignOrder alerts on a newly observed non-strategy order, deduplicated per instrument.
func (m *Manager) NotifyForeignOrder(instrument string, now time.Time) {
	m.fire(now, model.AlertForeignOrder, instrument, fmt.Sprintf("non-strategy order present on %s", instrument), foreignOrderAlertCooldown)
}

// NotifyPostOnlyCooldown alerts when post-only retries are exhausted for (instrument, account).
func (m *Manager) NotifyPostOnlyCooldown(instrument string, account model.Account, now time.Time) {
	m.fire(now, model.AlertPostOnlyCooldown, instrument+"/"+string(account), fmt.Sprintf("post-only retries exhausted on %s/%s", instrument, account), postOnlyCooldownAlertTTL)
}

// NotifyGatewayError surfaces a classified gateway failure from a placement or cancel
// path: auth failures alert per account (the rebuild-and-retry already happened inside
// the gateway), permanent errors alert once per (kind, instrument, account). Other
// kinds are retried next tick and stay log-only.
func (m *Manager) NotifyGatewayError(instrument string, account model.Account, gwErr *gateway.Error, now time.Time) {
	if gwErr == nil {
		return
	}
	switch gwErr.Kind {
	case gateway.KindAuth:
		m.fire(now, model.AlertAuthFailure, string(account), fmt.Sprintf("auth failure on account %s: %v", account, gwErr), authFailureAlertCooldown)
	case gateway.KindPermanent:
		scope := instrument + "/" + string(account)
		m.fire(now, model.AlertPermanentError, scope, fmt.Sprintf("permanent exchange error on %s: %v", scope, gwErr), permanentAlertCooldown)
	}
}

// fire dispatches an alert through the transport if it isn't within its own cooldown window.
func (m *Manager) fire(now time.Time, kind model.AlertKind, scope, message string, cooldown time.Duration) {
	key := string(kind) + ":" + scope

	m.mu.Lock()
	last, seen := m.alerts.LastSent[key]
	if seen && now.Sub(last) < cooldown {
		m.mu.Unlock()
		return
	}
	m.alerts.LastSent[key] = now
	m.recent = append(m.recent, Alert{Kind: string(kind), Instrument: scope, Message: message, Timestamp: now})
	if len(m.recent) > recentAlertCapacity {
		m.recent = m.recent[len(m.recent)-recentAlertCapacity:]
	}
	m.mu.Unlock()

	if err := m.transport.Send(context.Background(), message); err != nil {
		log.Printf("risk: alert transport failed for %s: %v", key, err)
	}
}

// BuildDailyReport assembles the stuck-hedge report from the accumulator and resets it
// for the next day; called once per day by the lifecycle controller at its configured time.
func (m *Manager) BuildDailyReport(states map[string]*model.SymbolState, now time.Time) DailyReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	rep := DailyReport{ID: uuid.NewString(), GeneratedAt: now}
	for instrument, since := range m.alerts.StuckAccumulator {
		state, ok := states[instrument]
		if !ok {
			continue
		}
		for _, lot := range ledger.StuckLots(state, m.stuckThreshold, now) {
			rep.Stuck = append(rep.Stuck, StuckEntry{
				Instrument: instrument, Account: string(lot.Account), Side: string(lot.Side),
				Size: lot.Size.String(), UnmatchedSince: since,
			})
		}
	}
	m.alerts.StuckAccumulator = make(map[string]time.Time)
	return rep
}
