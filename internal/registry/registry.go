// Package registry caches per-instrument exchange metadata (tick size, step size, decimals).
package registry

import (
	"context"
	"sync"
	"time"

	"dualhedge/internal/gateway"
)

// Registry is a read-through cache over gateway.Gateway.Instrument, refreshed lazily.
type Registry struct {
	gw  gateway.Gateway
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]entry
}

type entry struct {
	meta      gateway.InstrumentMeta
	fetchedAt time.Time
}

// New builds a registry backed by gw, refreshing each instrument at most every ttl.
func New(gw gateway.Gateway, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Registry{gw: gw, ttl: ttl, entries: make(map[string]entry)}
}

// Get returns cached instrument metadata, fetching it on first use or after expiry.
func (r *Registry) Get(ctx context.Context, instrument string) (gateway.InstrumentMeta, error) {
	r.mu.RLock()
	e, ok := r.entries[instrument]
	r.mu.RUnlock()
	if ok && time.Since(e.fetchedAt) < r.ttl {
		return e.meta, nil
	}

	meta, err := r.gw.Instrument(ctx, instrument)
	if err != nil {
		if ok {
			// Serve stale metadata rather than blocking the tick on a refresh failure.
			return e.meta, nil
		}
		return gateway.InstrumentMeta{}, err
	}

	r.mu.Lock()
	r.entries[instrument] = entry{meta: meta, fetchedAt: time.Now()}
	r.mu.Unlock()
	return meta, nil
}
