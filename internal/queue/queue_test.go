// ABOUTME: Tests for per-patient ordering, parallelism and idle teardown

package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPerPatientFIFO(t *testing.T) {
	m := New(time.Minute, 0, nil)
	defer m.Close()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		i := i
		last := i == 19
		require.NoError(t, m.Submit("patient-1", func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			if last {
				close(done)
			}
		}))
	}
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 20)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestCrossPatientParallelism(t *testing.T) {
	m := New(time.Minute, 0, nil)
	defer m.Close()

	// patient-1's job blocks until patient-2's job runs, which only
	// works if the two queues run on different goroutines.
	release := make(chan struct{})
	done := make(chan struct{})
	require.NoError(t, m.Submit("patient-1", func() {
		<-release
		close(done)
	}))
	require.NoError(t, m.Submit("patient-2", func() {
		close(release)
	}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("patient queues did not run in parallel")
	}
}

func TestQueueFull(t *testing.T) {
	m := New(time.Minute, 2, nil)
	defer m.Close()

	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{})
	require.NoError(t, m.Submit("patient-1", func() {
		close(started)
		<-block
	}))
	// Wait for the worker to occupy itself, then fill the buffer.
	<-started
	require.NoError(t, m.Submit("patient-1", func() {}))
	require.NoError(t, m.Submit("patient-1", func() {}))

	err := m.Submit("patient-1", func() {})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestIdleTeardownAndRecreation(t *testing.T) {
	m := New(10*time.Millisecond, 0, nil)
	defer m.Close()

	done := make(chan struct{})
	require.NoError(t, m.Submit("patient-1", func() { close(done) }))
	<-done
	assert.Equal(t, 1, m.Active())

	// Sweep directly instead of waiting for the janitor tick.
	time.Sleep(20 * time.Millisecond)
	m.sweep()
	assert.Equal(t, 0, m.Active())

	// Submission after teardown transparently recreates the worker.
	again := make(chan struct{})
	require.NoError(t, m.Submit("patient-1", func() { close(again) }))
	select {
	case <-again:
	case <-time.After(2 * time.Second):
		t.Fatal("worker was not recreated")
	}
}

func TestSweepSparesWorkerWithJobInFlight(t *testing.T) {
	m := New(10*time.Millisecond, 0, nil)
	defer m.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	done := make(chan struct{})
	require.NoError(t, m.Submit("patient-1", func() {
		close(started)
		<-block
	}))
	<-started

	// Janitor fires while the job is still running.
	m.mu.Lock()
	m.workers["patient-1"].lastUsed = time.Now().Add(-time.Hour)
	m.mu.Unlock()
	m.sweep()
	assert.Equal(t, 1, m.Active())

	// Work queued behind the in-flight job still runs on the same
	// worker in order.
	require.NoError(t, m.Submit("patient-1", func() { close(done) }))
	close(block)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queued job did not run after sweep")
	}

	// Once the queue drains and the TTL passes, teardown proceeds.
	assert.Eventually(t, func() bool {
		m.mu.Lock()
		if w, ok := m.workers["patient-1"]; ok {
			w.lastUsed = time.Now().Add(-time.Hour)
		}
		m.mu.Unlock()
		m.sweep()
		return m.Active() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSubmitAfterClose(t *testing.T) {
	m := New(time.Minute, 0, nil)
	m.Close()

	assert.ErrorIs(t, m.Submit("patient-1", func() {}), ErrClosed)
}
