// Package loadbalancer selects an ordered list of enabled providers to try
// for a single inbound request, per the configured strategy.
package loadbalancer

import (
	"sync/atomic"

	"github.com/nulpointcorp/aicore-gateway/internal/config"
)

// Strategy selects the order in which enabled providers are tried.
type Strategy string

const (
	RoundRobin Strategy = "round_robin"
	Fallback   Strategy = "fallback"
)

// Balancer holds the enabled provider set (in configuration order) and a
// monotonic counter used by RoundRobin. Safe for concurrent use.
type Balancer struct {
	providers []config.Provider
	strategy  Strategy
	counter   uint64
}

// New builds a Balancer over only the enabled providers in cfg, in input
// order.
func New(providers []config.Provider, strategy Strategy) *Balancer {
	enabled := make([]config.Provider, 0, len(providers))
	for _, p := range providers {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return &Balancer{providers: enabled, strategy: strategy}
}

// GetOrderedProviders returns every enabled provider exactly once, in the
// order to try. Fallback always returns input order; RoundRobin advances a
// shared counter by exactly one per call and rotates the starting point.
func (b *Balancer) GetOrderedProviders() []config.Provider {
	n := len(b.providers)
	if n == 0 {
		return nil
	}

	if b.strategy != RoundRobin {
		out := make([]config.Provider, n)
		copy(out, b.providers)
		return out
	}

	i := atomic.AddUint64(&b.counter, 1) - 1
	start := int(i % uint64(n))
	out := make([]config.Provider, n)
	for j := 0; j < n; j++ {
		out[j] = b.providers[(start+j)%n]
	}
	return out
}
