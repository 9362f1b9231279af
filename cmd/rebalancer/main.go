// Command rebalancer runs independently of the hedging engine: it watches both
// accounts' available USDT and transfers funds between them so neither side runs out
// of margin to carry its leg of the hedge. It never touches SymbolState, the fill
// ledger, or order placement.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"

	"dualhedge/internal/balance"
	"dualhedge/internal/config"
	"dualhedge/internal/gateway"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	gw := gateway.NewBinanceGateway(
		gateway.Credential{APIKey: cfg.AccountAAPIKey, APISecret: cfg.AccountAAPISecret},
		gateway.Credential{APIKey: cfg.AccountBAPIKey, APISecret: cfg.AccountBAPISecret},
		cfg.UseTestnet,
	)

	threshold := decimal.NewFromFloat(cfg.RebalanceThresholdUSD)
	mgr := balance.NewManager(gw, cfg.RebalancePollInterval, threshold, cfg.RebalanceAsset, cfg.MainAccountID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go mgr.Start(ctx)
	log.Printf("rebalancer started: poll=%s threshold=%s asset=%s", cfg.RebalancePollInterval, threshold, cfg.RebalanceAsset)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("rebalancer shutting down")
}
