package server

import (
	"sync"

	"golang.org/x/time/rate"
)

// maxLimiters bounds the per-IP table; idle entries are dropped past it.
const maxLimiters = 10000

type RateLimit struct {
	RPS   float64
	Burst int
}

// limiterPool hands out one token bucket per client address.
type limiterPool struct {
	mu  sync.Mutex
	m   map[string]*rate.Limiter
	cfg RateLimit
	max int
}

func newLimiterPool(cfg RateLimit) *limiterPool {
	if cfg.RPS <= 0 {
		return nil
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &limiterPool{m: make(map[string]*rate.Limiter), cfg: cfg, max: maxLimiters}
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.m[key]; ok {
		return l
	}
	if len(p.m) >= p.max {
		p.pruneLocked()
	}
	l := rate.NewLimiter(rate.Limit(p.cfg.RPS), p.cfg.Burst)
	p.m[key] = l
	return l
}

// pruneLocked forgets buckets that have refilled completely. When every
// client is still active it drops arbitrary entries until the table is
// back under its cap, at the cost of resetting those clients' buckets.
func (p *limiterPool) pruneLocked() {
	for k, l := range p.m {
		if l.Tokens() >= float64(p.cfg.Burst) {
			delete(p.m, k)
		}
	}
	for k := range p.m {
		if len(p.m) < p.max {
			return
		}
		delete(p.m, k)
	}
}

// Allow reports whether key may open another connection. A nil pool
// allows everything.
func (p *limiterPool) Allow(key string) bool {
	if p == nil {
		return true
	}
	return p.get(key).Allow()
}
