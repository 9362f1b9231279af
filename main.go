package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"dualhedge/internal/alert"
	"dualhedge/internal/api"
	"dualhedge/internal/audit"
	"dualhedge/internal/config"
	"dualhedge/internal/engine"
	"dualhedge/internal/gateway"
	"dualhedge/internal/model"
	"dualhedge/internal/orders"
	"dualhedge/internal/reconcile"
	"dualhedge/internal/registry"
	"dualhedge/internal/risk"

	"github.com/shopspring/decimal"
)

// dailyReportHour is the local hour (in reportLocation) at which the stuck-hedge report
// is built and pushed through the alert transport, once per calendar day.
const dailyReportHour = 0

// reportLocation fixes the daily report's "local time" to UTC+8.
var reportLocation = time.FixedZone("UTC+8", 8*60*60)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	symbols, err := model.LoadSymbols(cfg.SymbolsFilePath)
	if err != nil {
		log.Fatalf("load symbols failed: %v", err)
	}
	states := make(map[string]*model.SymbolState, len(symbols))
	for _, sc := range symbols {
		if !sc.Enabled {
			continue
		}
		states[sc.Instrument] = model.NewSymbolState(sc)
	}
	if len(states) == 0 {
		log.Fatalf("no enabled instruments in %s", cfg.SymbolsFilePath)
	}
	log.Printf("loaded %d enabled instrument(s) from %s", len(states), cfg.SymbolsFilePath)

	gw := gateway.NewBinanceGateway(
		gateway.Credential{APIKey: cfg.AccountAAPIKey, APISecret: cfg.AccountAAPISecret},
		gateway.Credential{APIKey: cfg.AccountBAPIKey, APISecret: cfg.AccountBAPISecret},
		cfg.UseTestnet,
	)

	reg := registry.New(gw, time.Hour)
	table := orders.New(gw)
	transport := alert.NewWebhookTransport(cfg.AlertWebhookURL, cfg.AlertChatID, cfg.AlertAPIKey)
	riskMgr := risk.New(gw, transport, decimal.NewFromFloat(cfg.MMRAlertThreshold), cfg.StuckHours)

	eng := engine.New(gw, table, reg, riskMgr, engine.Params{
		SingleOrderDiffThreshold: decimal.NewFromFloat(cfg.SingleOrderDiffThreshold),
		PostOnlyMaxRetry:         cfg.PostOnlyMaxRetry,
		PostOnlyCooldown:         cfg.PostOnlyCooldown,
		OrderbookDepth:           cfg.OrderbookDepth,
	})
	driver := engine.NewDriver(gw, table, eng, cfg.PartialFillTimeout)

	auditDB, err := audit.Open(cfg.AuditDBPath)
	if err != nil {
		log.Fatalf("audit db open failed: %v", err)
	}
	if auditDB != nil {
		defer auditDB.Close()
	}

	rec := reconcile.New(gw)
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	for instrument, state := range states {
		rep, err := rec.Reconcile(startupCtx, state, time.Now())
		if err != nil {
			log.Printf("reconcile failed for %s: %v", instrument, err)
			continue
		}
		log.Printf("reconciled %s: synthetic_lots=%d adopted_orders=%d foreign_orders=%d", instrument, rep.SyntheticLots, rep.AdoptedOrders, rep.ForeignOrders)
		if rep.ForeignOrders > 0 {
			riskMgr.NotifyForeignOrder(instrument, time.Now())
		}
		if auditDB != nil {
			if err := auditDB.RecordReconciliation(startupCtx, rep); err != nil {
				log.Printf("audit record reconciliation failed for %s: %v", instrument, err)
			}
		}
	}
	startupCancel()

	var stateMu sync.RWMutex
	snapshot := func() map[string]*model.SymbolState {
		stateMu.RLock()
		defer stateMu.RUnlock()
		out := make(map[string]*model.SymbolState, len(states))
		for k, v := range states {
			out[k] = v
		}
		return out
	}

	if cfg.AdminPort > 0 {
		server := api.NewServer(snapshot, riskMgr, cfg.AdminJWTSecret)
		go func() {
			addr := fmt.Sprintf(":%d", cfg.AdminPort)
			if err := server.Start(addr); err != nil {
				log.Printf("admin api stopped: %v", err)
			}
		}()
		log.Printf("admin api listening on :%d", cfg.AdminPort)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	if cfg.MaxRuntime > 0 {
		var timeoutCancel context.CancelFunc
		runCtx, timeoutCancel = context.WithTimeout(runCtx, cfg.MaxRuntime)
		defer timeoutCancel()
	}

	stream := gateway.NewBookTickerStream(cfg.UseTestnet)
	for instrument, state := range states {
		instrument, state := instrument, state
		updates, _, err := stream.Subscribe(runCtx, instrument)
		if err != nil {
			log.Printf("book ticker stream unavailable for %s, relying on poll: %v", instrument, err)
			continue
		}
		go func() {
			for top := range updates {
				stateMu.Lock()
				state.LastOrderbook = top
				stateMu.Unlock()
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(cfg.LoopInterval)
	defer ticker.Stop()

	lastReportDate := ""

	log.Println("hedge engine started")
runLoop:
	for {
		select {
		case <-sigChan:
			log.Println("stop signal received")
			break runLoop
		case <-runCtx.Done():
			log.Println("max runtime reached")
			break runLoop
		case now := <-ticker.C:
			stateMu.Lock()
			if err := driver.RunTick(runCtx, states); err != nil {
				log.Printf("tick error: %v", err)
			}
			for _, account := range []model.Account{model.AccountA, model.AccountB} {
				riskMgr.CheckAccount(runCtx, account, now)
			}
			for _, state := range states {
				riskMgr.CheckStuck(state, now)
			}
			stateMu.Unlock()

			local := now.In(reportLocation)
			today := local.Format("2006-01-02")
			if local.Hour() == dailyReportHour && today != lastReportDate {
				rep := riskMgr.BuildDailyReport(states, now)
				log.Printf("daily stuck-hedge report %s: %d entries", rep.ID, len(rep.Stuck))
				msg := fmt.Sprintf("daily stuck-hedge report %s: %d stuck lot(s)", rep.ID, len(rep.Stuck))
				for _, e := range rep.Stuck {
					msg += fmt.Sprintf("\n%s %s %s size=%s unmatched since %s", e.Instrument, e.Account, e.Side, e.Size, e.UnmatchedSince.In(reportLocation).Format(time.RFC3339))
				}
				if err := transport.Send(runCtx, msg); err != nil {
					log.Printf("daily report send failed: %v", err)
				}
				if auditDB != nil {
					if err := auditDB.RecordDailyReport(runCtx, rep, ""); err != nil {
						log.Printf("audit record daily report failed: %v", err)
					}
				}
				lastReportDate = today
			}
		}
	}

	shutdown(table, states, cfg)
}

// shutdown applies the configured stop-time cancellation policy: if CancelOnStop is
// set, every (account, instrument) pair has its strategy orders cancelled down to
// StopKeepStrategyOrders, bounded by a fixed timeout so a hung exchange call can't wedge
// process exit. Foreign orders are never touched.
func shutdown(table *orders.Table, states map[string]*model.SymbolState, cfg *config.Config) {
	if !cfg.CancelOnStop {
		log.Println("shutting down without cancelling open orders (CANCEL_ON_STOP=false)")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	now := time.Now()
	for instrument, state := range states {
		for _, account := range []model.Account{model.AccountA, model.AccountB} {
			if err := table.CancelOlderThanKeep(ctx, state, account, cfg.StopKeepStrategyOrders, now); err != nil {
				log.Printf("shutdown cancel failed for %s/%s: %v", instrument, account, err)
			}
		}
	}
	log.Println("shutdown cancellation complete")
}
