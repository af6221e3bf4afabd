// ABOUTME: Per-patient FIFO work queues, one worker goroutine per active patient
// ABOUTME: Queues tear down after idle and come back transparently on demand

package queue

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultIdleTTL is how long a patient queue may sit empty
	// before its worker is torn down.
	DefaultIdleTTL = 30 * time.Minute

	// DefaultDepth is the per-patient job buffer. A full buffer
	// rejects rather than blocks the caller.
	DefaultDepth = 256

	janitorInterval = time.Minute
)

var (
	// ErrQueueFull means the patient's buffer is at capacity.
	ErrQueueFull = errors.New("patient queue full")

	// ErrClosed means the manager has shut down.
	ErrClosed = errors.New("queue manager closed")
)

type worker struct {
	jobs     chan func()
	lastUsed time.Time
	busy     bool
}

// Manager serializes work per patient while letting different
// patients proceed in parallel.
type Manager struct {
	mu      sync.Mutex
	workers map[string]*worker
	idleTTL time.Duration
	depth   int
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// New creates a manager and starts its idle janitor. Zero values
// select the defaults.
func New(idleTTL time.Duration, depth int, logger *slog.Logger) *Manager {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	if depth <= 0 {
		depth = DefaultDepth
	}
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		workers: map[string]*worker{},
		idleTTL: idleTTL,
		depth:   depth,
		stop:    make(chan struct{}),
		logger:  logger.With("component", "queue"),
	}
	m.wg.Add(1)
	go m.janitor()
	return m
}

// Submit enqueues fn on the patient's queue, creating the worker if
// needed. Jobs for one patient run strictly in submission order.
func (m *Manager) Submit(patientID string, fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	w, ok := m.workers[patientID]
	if !ok {
		w = &worker{jobs: make(chan func(), m.depth)}
		m.workers[patientID] = w
		m.wg.Add(1)
		go m.run(patientID, w)
		m.logger.Debug("worker started", "patient_id", patientID)
	}
	w.lastUsed = time.Now()
	select {
	case w.jobs <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Active returns the number of live patient workers.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.workers)
}

// Close drains nothing: pending jobs still run, but no new work is
// accepted. Blocks until all workers exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.wg.Wait()
		return
	}
	m.closed = true
	close(m.stop)
	for id, w := range m.workers {
		close(w.jobs)
		delete(m.workers, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Manager) run(patientID string, w *worker) {
	defer m.wg.Done()
	for fn := range w.jobs {
		m.mu.Lock()
		w.busy = true
		m.mu.Unlock()
		fn()
		m.mu.Lock()
		w.busy = false
		w.lastUsed = time.Now()
		m.mu.Unlock()
	}
}

// janitor tears down workers whose queues have been empty past the
// idle TTL. A torn-down worker is recreated on the next Submit.
func (m *Manager) janitor() {
	defer m.wg.Done()
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	for id, w := range m.workers {
		// A worker with a job in flight is not idle, however stale
		// its lastUsed: tearing it down would let a recreated worker
		// race the unfinished job and break per-patient ordering.
		if !w.busy && len(w.jobs) == 0 && time.Since(w.lastUsed) > m.idleTTL {
			close(w.jobs)
			delete(m.workers, id)
			m.logger.Debug("idle worker torn down", "patient_id", id)
		}
	}
}
