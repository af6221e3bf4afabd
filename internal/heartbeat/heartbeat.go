// ABOUTME: Heartbeat scheduler, drives journeys forward in time
// ABOUTME: Milestone ticks, stale-phase probes and GP reminder chasing

package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/medforce/intake-gateway/internal/diary"
	"github.com/medforce/intake-gateway/internal/event"
	"github.com/medforce/intake-gateway/internal/store"
)

// Defaults match the clinic's follow-up protocol.
var DefaultMilestoneDays = []int{14, 30, 60, 90}

const (
	DefaultCheckInterval   = time.Hour
	DefaultGPReminderAfter = 48 * time.Hour
)

// Emitter delivers a scheduler-generated event into the gateway.
type Emitter func(ctx context.Context, env *event.Envelope) error

// Scheduler owns the time dimension of every journey. It keeps an
// in-memory set of monitored patients, recovered from the store on
// restart, and probes every open journey each tick.
type Scheduler struct {
	store           store.Store
	emit            Emitter
	interval        time.Duration
	milestones      []int
	gpReminderAfter time.Duration

	mu        sync.Mutex
	monitored map[string]bool

	stop chan struct{}
	wg   sync.WaitGroup
	now  func() time.Time

	logger *slog.Logger
}

// New creates a scheduler. Zero values select the defaults.
func New(s store.Store, emit Emitter, interval time.Duration, milestones []int, gpReminderAfter time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	if len(milestones) == 0 {
		milestones = DefaultMilestoneDays
	}
	sorted := append([]int(nil), milestones...)
	sort.Ints(sorted)
	if gpReminderAfter <= 0 {
		gpReminderAfter = DefaultGPReminderAfter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:           s,
		emit:            emit,
		interval:        interval,
		milestones:      sorted,
		gpReminderAfter: gpReminderAfter,
		monitored:       map[string]bool{},
		stop:            make(chan struct{}),
		now:             time.Now,
		logger:          logger.With("component", "heartbeat"),
	}
}

// Register adds a patient to the monitored set.
func (s *Scheduler) Register(patientID string) {
	s.mu.Lock()
	s.monitored[patientID] = true
	s.mu.Unlock()
	s.logger.Info("patient registered for monitoring", "patient_id", patientID)
}

// Unregister removes a patient from the monitored set.
func (s *Scheduler) Unregister(patientID string) {
	s.mu.Lock()
	delete(s.monitored, patientID)
	s.mu.Unlock()
	s.logger.Info("patient unregistered from monitoring", "patient_id", patientID)
}

// Monitored returns a snapshot of the monitored set, sorted.
func (s *Scheduler) Monitored() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.monitored))
	for id := range s.monitored {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Recover rebuilds the monitored set from the store. Called on
// startup so a restart loses no one.
func (s *Scheduler) Recover(ctx context.Context) error {
	ids, err := s.store.ListByPhase(ctx, diary.PhaseMonitoring)
	if err != nil {
		return fmt.Errorf("recovering monitored patients: %w", err)
	}
	s.mu.Lock()
	s.monitored = map[string]bool{}
	for _, id := range ids {
		s.monitored[id] = true
	}
	s.mu.Unlock()
	s.logger.Info("monitored set recovered", "patients", len(ids))
	return nil
}

// Start runs the tick loop until Stop or context cancellation.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-ticker.C:
				s.Tick(ctx)
			}
		}
	}()
}

// Stop halts the tick loop.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// earlierPhases are scanned by phase each tick; journeys there get a
// bare heartbeat so the monitoring agent can judge staleness.
var earlierPhases = []diary.Phase{diary.PhaseIntake, diary.PhaseClinical, diary.PhaseBooking}

// Tick probes every open journey once: plain heartbeats for journeys
// parked in earlier phases, milestone heartbeats for the monitored
// set, and reminders for GP queries gone quiet. Closed journeys are
// in no listing and get nothing.
func (s *Scheduler) Tick(ctx context.Context) {
	for _, phase := range earlierPhases {
		ids, err := s.store.ListByPhase(ctx, phase)
		if err != nil {
			s.logger.Error("tick scan failed", "phase", phase, "error", err)
			continue
		}
		for _, id := range ids {
			d, ok := s.load(ctx, id)
			if !ok || d.Phase != phase {
				// Moved since the listing; its new phase owns it.
				continue
			}
			s.send(ctx, event.NewHeartbeat(d.PatientID, 0, ""))
			s.chaseGPQueries(ctx, d)
		}
	}

	// Milestone probes come from the registered set alone, so
	// Register/Unregister and restart Recover decide who is followed
	// up after their appointment.
	for _, id := range s.Monitored() {
		d, ok := s.load(ctx, id)
		if !ok {
			s.Unregister(id)
			continue
		}
		if d.Phase != diary.PhaseMonitoring {
			s.Unregister(id)
			continue
		}
		s.probeMonitoring(ctx, d)
		s.chaseGPQueries(ctx, d)
	}
}

func (s *Scheduler) load(ctx context.Context, id string) (*diary.Diary, bool) {
	d, _, err := s.store.Load(ctx, id)
	if err != nil {
		s.logger.Error("tick load failed", "patient_id", id, "error", err)
		return nil, false
	}
	return d, true
}

func (s *Scheduler) probeMonitoring(ctx context.Context, d *diary.Diary) {
	days := 0
	if !d.Booking.AppointmentAt.IsZero() {
		days = int(s.now().UTC().Sub(d.Booking.AppointmentAt).Hours() / 24)
	}
	// Fire the lowest due milestone not yet handled; one per tick
	// keeps check-ins spaced even after downtime.
	for _, m := range s.milestones {
		if days >= m && !d.Monitoring.FiredMilestones[m] {
			s.send(ctx, event.NewHeartbeat(d.PatientID, m, fmt.Sprintf("day-%d", m)))
			return
		}
	}
	// No milestone due; a bare tick still drives stalled-assessment
	// checks.
	if d.Monitoring.Assessment != nil && d.Monitoring.Assessment.DoneAt.IsZero() {
		s.send(ctx, event.NewHeartbeat(d.PatientID, 0, ""))
	}
}

func (s *Scheduler) chaseGPQueries(ctx context.Context, d *diary.Diary) {
	for _, q := range d.GP.PendingQueries() {
		if q.ReminderSent || s.now().Sub(q.SentAt) < s.gpReminderAfter {
			continue
		}
		env := event.NewHandoff(event.TypeGPReminder, d.PatientID, "heartbeat-scheduler",
			map[string]any{"query_id": q.ID}, "")
		env.SenderRole = event.RoleSystem
		env.SenderID = "system"
		s.send(ctx, env)
	}
}

func (s *Scheduler) send(ctx context.Context, env *event.Envelope) {
	if err := s.emit(ctx, env); err != nil {
		s.logger.Error("heartbeat emit failed", "patient_id", env.PatientID, "error", err)
	}
}
