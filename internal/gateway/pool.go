package gateway

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dualhedge/internal/model"
)

// clientBuilder constructs a fresh venue client for one account. Supplied by
// BinanceGateway.buildClient so pool.go stays exchange-agnostic; the concrete binding
// lives in binance.go.
type clientBuilder func(account model.Account) (venueClient, error)

// circuitState tracks consecutive failures for one account's client.
type circuitState struct {
	consecutiveFailures int
	openUntil           time.Time
}

const (
	circuitBreakTrips   = 5
	circuitBreakCooldown = 30 * time.Second
)

// Pool holds one pooled, rate-limited client per account and rebuilds it once on
// authentication failure.
type Pool struct {
	mu      sync.Mutex
	clients map[model.Account]venueClient
	limiter map[model.Account]*rate.Limiter
	circuit map[model.Account]*circuitState
	build   clientBuilder
}

// NewPool constructs a pool given a client builder and a per-account rate limit
// (requests per second).
func NewPool(build clientBuilder, requestsPerSecond rate.Limit, burst int) *Pool {
	return &Pool{
		clients: make(map[model.Account]venueClient),
		limiter: map[model.Account]*rate.Limiter{
			model.AccountA: rate.NewLimiter(requestsPerSecond, burst),
			model.AccountB: rate.NewLimiter(requestsPerSecond, burst),
		},
		circuit: map[model.Account]*circuitState{
			model.AccountA: {},
			model.AccountB: {},
		},
		build: build,
	}
}

// get returns the pooled client for account, lazily building it on first use.
func (p *Pool) get(account model.Account) (venueClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[account]; ok {
		return c, nil
	}
	c, err := p.build(account)
	if err != nil {
		return nil, err
	}
	p.clients[account] = c
	return c, nil
}

// tripped reports whether account's circuit breaker is currently open.
func (p *Pool) tripped(account model.Account) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cs := p.circuit[account]
	return cs != nil && time.Now().Before(cs.openUntil)
}

func (p *Pool) recordFailure(account model.Account, kind ErrorKind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cs := p.circuit[account]
	if cs == nil {
		return
	}
	cs.consecutiveFailures++
	if cs.consecutiveFailures >= circuitBreakTrips {
		cs.openUntil = time.Now().Add(circuitBreakCooldown)
		log.Printf("gateway: circuit open for account %s (%d consecutive failures)", account, cs.consecutiveFailures)
	}
	if kind == KindAuth {
		p.rebuildLocked(account)
	}
}

// rebuildLocked discards the cached client for account so the next get() constructs a
// fresh one; called with mu already held. The caller (withAuthRetry) then retries the
// in-flight call once against the rebuilt client.
func (p *Pool) rebuildLocked(account model.Account) {
	delete(p.clients, account)
	log.Printf("gateway: rebuilding client for account %s after auth failure", account)
}

func (p *Pool) recordSuccess(account model.Account) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cs := p.circuit[account]; cs != nil {
		cs.consecutiveFailures = 0
	}
}

// wait blocks until account's limiter admits the next call, respecting ctx cancellation.
func (p *Pool) wait(ctx context.Context, account model.Account) error {
	return p.limiter[account].Wait(ctx)
}
