// ABOUTME: Idempotency guard for event ids, TTL based with a hard size cap
// ABOUTME: A replayed event id within the window is detected and skipped

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

const (
	// DefaultTTL is how long an event id is remembered.
	DefaultTTL = 10 * time.Minute

	// DefaultMaxEntries bounds memory when TTL alone is not enough.
	DefaultMaxEntries = 100_000
)

type entry struct {
	id   string
	seen time.Time
}

// Guard remembers recently processed event ids. All methods are safe
// for concurrent use.
type Guard struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	order   *list.List // front = oldest
	entries map[string]*list.Element
	now     func() time.Time
}

// New creates a Guard with the given TTL and size cap. Zero values
// select the defaults.
func New(ttl time.Duration, maxEntries int) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Guard{
		ttl:     ttl,
		max:     maxEntries,
		order:   list.New(),
		entries: make(map[string]*list.Element),
		now:     time.Now,
	}
}

// SeenOrMark reports whether id was already recorded inside the TTL
// window, recording it if not. The check and the mark are atomic.
func (g *Guard) SeenOrMark(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.expire(now)

	if el, ok := g.entries[id]; ok {
		if now.Sub(el.Value.(*entry).seen) < g.ttl {
			return true
		}
		// Expired but not yet swept; refresh in place.
		el.Value.(*entry).seen = now
		g.order.MoveToBack(el)
		return false
	}

	g.entries[id] = g.order.PushBack(&entry{id: id, seen: now})
	if g.order.Len() > g.max {
		oldest := g.order.Front()
		g.order.Remove(oldest)
		delete(g.entries, oldest.Value.(*entry).id)
	}
	return false
}

// Len returns the number of remembered ids.
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.order.Len()
}

// expire drops entries older than the TTL. Caller holds the lock.
func (g *Guard) expire(now time.Time) {
	for el := g.order.Front(); el != nil; {
		e := el.Value.(*entry)
		if now.Sub(e.seen) < g.ttl {
			break
		}
		next := el.Next()
		g.order.Remove(el)
		delete(g.entries, e.id)
		el = next
	}
}
