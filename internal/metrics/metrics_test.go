// ABOUTME: Tests for the metrics collector snapshot

package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshotCountsEverything(t *testing.T) {
	c := New()
	c.Event("USER_MESSAGE")
	c.Event("USER_MESSAGE")
	c.Event("HEARTBEAT")
	c.AgentCall("clinical", 20*time.Millisecond, false)
	c.AgentCall("clinical", 40*time.Millisecond, true)
	c.SaveConflict()
	c.RateLimited()
	c.Duplicate()
	c.DeadLettered()
	c.ChainAborted()
	c.SetQueueGauge(func() int { return 3 })

	s := c.Snapshot()

	assert.Equal(t, int64(2), s.EventsByType["USER_MESSAGE"])
	assert.Equal(t, int64(1), s.EventsByType["HEARTBEAT"])
	assert.Equal(t, int64(2), s.Agents["clinical"].Calls)
	assert.Equal(t, int64(1), s.Agents["clinical"].Errors)
	assert.InDelta(t, 30.0, s.Agents["clinical"].AvgMillis, 0.01)
	assert.Equal(t, int64(1), s.SaveConflicts)
	assert.Equal(t, int64(1), s.RateLimited)
	assert.Equal(t, int64(1), s.Duplicates)
	assert.Equal(t, int64(1), s.DeadLettered)
	assert.Equal(t, int64(1), s.ChainAborts)
	assert.Equal(t, 3, s.ActiveQueues)
	assert.False(t, s.TakenAt.IsZero())
}

func TestSnapshotIsACopy(t *testing.T) {
	c := New()
	c.Event("WEBHOOK")

	s := c.Snapshot()
	s.EventsByType["WEBHOOK"] = 99

	assert.Equal(t, int64(1), c.Snapshot().EventsByType["WEBHOOK"])
}
