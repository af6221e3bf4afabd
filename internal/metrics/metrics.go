// ABOUTME: In-memory operational counters and timings for the control surface
// ABOUTME: Snapshot is JSON-friendly and cheap to take under load

package metrics

import (
	"sync"
	"time"
)

// Collector accumulates gateway counters. All methods are safe for
// concurrent use.
type Collector struct {
	mu sync.Mutex

	eventsByType  map[string]int64
	agentCalls    map[string]int64
	agentErrors   map[string]int64
	agentTimeNano map[string]int64

	saveConflicts int64
	rateLimited   int64
	duplicates    int64
	deadLettered  int64
	chainAborts   int64

	queueGauge func() int
}

// New creates an empty collector.
func New() *Collector {
	return &Collector{
		eventsByType:  map[string]int64{},
		agentCalls:    map[string]int64{},
		agentErrors:   map[string]int64{},
		agentTimeNano: map[string]int64{},
	}
}

// SetQueueGauge wires the active-queue count callback.
func (c *Collector) SetQueueGauge(fn func() int) {
	c.mu.Lock()
	c.queueGauge = fn
	c.mu.Unlock()
}

// Event counts one routed event by type.
func (c *Collector) Event(eventType string) {
	c.mu.Lock()
	c.eventsByType[eventType]++
	c.mu.Unlock()
}

// AgentCall records one agent invocation with its duration and
// outcome.
func (c *Collector) AgentCall(agent string, d time.Duration, failed bool) {
	c.mu.Lock()
	c.agentCalls[agent]++
	c.agentTimeNano[agent] += int64(d)
	if failed {
		c.agentErrors[agent]++
	}
	c.mu.Unlock()
}

// SaveConflict counts one optimistic-save retry.
func (c *Collector) SaveConflict() { c.bump(&c.saveConflicts) }

// RateLimited counts one rejected external message.
func (c *Collector) RateLimited() { c.bump(&c.rateLimited) }

// Duplicate counts one idempotency-guard hit.
func (c *Collector) Duplicate() { c.bump(&c.duplicates) }

// DeadLettered counts one dead-letter capture.
func (c *Collector) DeadLettered() { c.bump(&c.deadLettered) }

// ChainAborted counts one chain-depth abort.
func (c *Collector) ChainAborted() { c.bump(&c.chainAborts) }

func (c *Collector) bump(p *int64) {
	c.mu.Lock()
	*p++
	c.mu.Unlock()
}

// AgentStats summarizes one agent's activity.
type AgentStats struct {
	Calls     int64   `json:"calls"`
	Errors    int64   `json:"errors"`
	AvgMillis float64 `json:"avg_millis"`
}

// Snapshot is a point-in-time view of all counters.
type Snapshot struct {
	EventsByType  map[string]int64      `json:"events_by_type"`
	Agents        map[string]AgentStats `json:"agents"`
	SaveConflicts int64                 `json:"save_conflicts"`
	RateLimited   int64                 `json:"rate_limited"`
	Duplicates    int64                 `json:"duplicates"`
	DeadLettered  int64                 `json:"dead_lettered"`
	ChainAborts   int64                 `json:"chain_aborts"`
	ActiveQueues  int                   `json:"active_queues"`
	TakenAt       time.Time             `json:"taken_at"`
}

// Snapshot returns a copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		EventsByType:  make(map[string]int64, len(c.eventsByType)),
		Agents:        make(map[string]AgentStats, len(c.agentCalls)),
		SaveConflicts: c.saveConflicts,
		RateLimited:   c.rateLimited,
		Duplicates:    c.duplicates,
		DeadLettered:  c.deadLettered,
		ChainAborts:   c.chainAborts,
		TakenAt:       time.Now().UTC(),
	}
	for k, v := range c.eventsByType {
		s.EventsByType[k] = v
	}
	for agent, calls := range c.agentCalls {
		st := AgentStats{Calls: calls, Errors: c.agentErrors[agent]}
		if calls > 0 {
			st.AvgMillis = float64(c.agentTimeNano[agent]) / float64(calls) / 1e6
		}
		s.Agents[agent] = st
	}
	if c.queueGauge != nil {
		s.ActiveQueues = c.queueGauge()
	}
	return s
}
