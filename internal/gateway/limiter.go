// ABOUTME: Per-patient rate limiting for external messages
// ABOUTME: Token buckets sized to the per-minute allowance, pruned on idle

package gateway

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = time.Hour

type patientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// rateGate holds one token bucket per patient. Internal events never
// pass through here.
type rateGate struct {
	mu        sync.Mutex
	perMinute int
	limiters  map[string]*patientLimiter
	lastPrune time.Time
}

func newRateGate(perMinute int) *rateGate {
	return &rateGate{
		perMinute: perMinute,
		limiters:  map[string]*patientLimiter{},
		lastPrune: time.Now(),
	}
}

// Allow reports whether the patient may submit another external
// message right now.
func (g *rateGate) Allow(patientID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if now.Sub(g.lastPrune) > limiterIdleTTL {
		for id, pl := range g.limiters {
			if now.Sub(pl.lastSeen) > limiterIdleTTL {
				delete(g.limiters, id)
			}
		}
		g.lastPrune = now
	}

	pl, ok := g.limiters[patientID]
	if !ok {
		pl = &patientLimiter{
			lim: rate.NewLimiter(rate.Limit(float64(g.perMinute)/60.0), g.perMinute),
		}
		g.limiters[patientID] = pl
	}
	pl.lastSeen = now
	return pl.lim.Allow()
}
