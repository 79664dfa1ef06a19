package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	idleTTL       = 10 * time.Minute
	pruneInterval = time.Minute
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Keyed applies an independent token bucket to each key, such as a login
// address. Idle buckets are pruned lazily.
type Keyed struct {
	limit     rate.Limit
	burst     int
	now       func() time.Time
	limiters  map[string]*entry
	lastPrune time.Time
	mu        sync.Mutex
}

// NewKeyed allows perMinute events per key with the given burst.
// A non-positive perMinute disables limiting.
func NewKeyed(perMinute, burst int) *Keyed {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / 60)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Keyed{
		limit:    limit,
		burst:    burst,
		now:      time.Now,
		limiters: make(map[string]*entry),
	}
}

// Allow reports whether an event for key may happen now
func (k *Keyed) Allow(key string) bool {
	if k == nil || k.limit == rate.Inf {
		return true
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	if now.Sub(k.lastPrune) >= pruneInterval {
		k.prune(now)
		k.lastPrune = now
	}

	e, ok := k.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (k *Keyed) prune(now time.Time) {
	for key, e := range k.limiters {
		if now.Sub(e.lastSeen) > idleTTL {
			delete(k.limiters, key)
		}
	}
}
