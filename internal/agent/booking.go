// ABOUTME: Booking specialist, turns a risk level into a confirmed appointment
// ABOUTME: Slot offers, selection, confirmation and reschedules

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medforce/intake-gateway/internal/diary"
	"github.com/medforce/intake-gateway/internal/event"
)

// Scheduling windows by risk level, in days from assessment.
const (
	WindowUrgent  = 7
	WindowSoon    = 14
	WindowRoutine = 28
)

const offeredSlotCount = 3

// BookingAgent drives the booking phase.
type BookingAgent struct {
	logger *slog.Logger
	// now is swappable for tests.
	now func() time.Time
}

// NewBookingAgent creates the booking specialist.
func NewBookingAgent(logger *slog.Logger) *BookingAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &BookingAgent{logger: logger.With("component", "agent.booking"), now: time.Now}
}

func (a *BookingAgent) Name() string { return "booking" }

// Process handles one event during the booking phase.
func (a *BookingAgent) Process(ctx context.Context, env *event.Envelope, d *diary.Diary) (*Result, error) {
	switch env.EventType {
	case event.TypeClinicalComplete:
		return a.begin(env, d)
	case event.TypeUserMessage:
		return a.message(env, d)
	case event.TypeRescheduleRequest:
		return a.reschedule(env, d)
	default:
		return nil, fmt.Errorf("booking agent got %s: %w", env.EventType, ErrUnhandledEvent)
	}
}

// begin enters booking, derives the scheduling window from risk, and
// offers slots.
func (a *BookingAgent) begin(env *event.Envelope, d *diary.Diary) (*Result, error) {
	if d.Phase != diary.PhaseBooking {
		d.TransitionTo(diary.PhaseBooking)
	}
	switch d.RiskLevel {
	case diary.RiskHigh:
		d.Booking.Priority = "urgent"
		d.Booking.WindowDays = WindowUrgent
	case diary.RiskMedium:
		d.Booking.Priority = "soon"
		d.Booking.WindowDays = WindowSoon
	default:
		d.Booking.Priority = "routine"
		d.Booking.WindowDays = WindowRoutine
	}
	a.offerSlots(d)
	a.logger.Info("slots offered", "patient_id", d.PatientID,
		"priority", d.Booking.Priority, "window_days", d.Booking.WindowDays)
	return respond(env, d, a.offerText(d)), nil
}

// message handles slot selection by number.
func (a *BookingAgent) message(env *event.Envelope, d *diary.Diary) (*Result, error) {
	if d.Booking.SelectedSlot != nil {
		return respond(env, d, fmt.Sprintf(
			"Your appointment is confirmed for %s. Reply RESCHEDULE if you need to change it.",
			d.Booking.SelectedSlot.Start.Format("Monday 2 January at 15:04"))), nil
	}
	if len(d.Booking.OfferedSlots) == 0 {
		a.offerSlots(d)
		return respond(env, d, a.offerText(d)), nil
	}

	text := strings.TrimSpace(env.Text())
	if strings.EqualFold(text, "reschedule") {
		return a.reschedule(env, d)
	}
	n, err := strconv.Atoi(text)
	if err != nil || n < 1 || n > len(d.Booking.OfferedSlots) {
		return respond(env, d, fmt.Sprintf(
			"Sorry, I did not catch that. Please reply with a number from 1 to %d.\n%s",
			len(d.Booking.OfferedSlots), a.offerText(d))), nil
	}

	slot := d.Booking.OfferedSlots[n-1]
	d.Booking.SelectedSlot = &slot
	d.Booking.ConfirmedAt = a.now().UTC()
	d.Booking.AppointmentAt = slot.Start
	d.Touch()
	a.logger.Info("appointment confirmed", "patient_id", d.PatientID, "start", slot.Start)

	res := respond(env, d, fmt.Sprintf(
		"You are booked for %s at %s. We will check in with you after the appointment.",
		slot.Start.Format("Monday 2 January at 15:04"), slot.Venue))
	res.Events = append(res.Events, event.NewHandoff(
		event.TypeBookingComplete, d.PatientID, a.Name(),
		map[string]any{"appointment_at": slot.Start.Format(time.RFC3339), "channel": env.Channel()},
		env.CorrelationID))
	return res, nil
}

// reschedule records the change and re-offers slots.
func (a *BookingAgent) reschedule(env *event.Envelope, d *diary.Diary) (*Result, error) {
	reason, _ := env.Payload["reason"].(string)
	// A reschedule from monitoring pulls the journey back into the
	// booking phase so slot replies route here.
	if d.Phase != diary.PhaseBooking {
		d.TransitionTo(diary.PhaseBooking)
	}
	var oldStart time.Time
	if d.Booking.SelectedSlot != nil {
		oldStart = d.Booking.SelectedSlot.Start
	}
	d.Booking.Reschedules = append(d.Booking.Reschedules, diary.Reschedule{
		Reason: reason, OldStart: oldStart, RequestedAt: a.now().UTC(),
	})
	d.Booking.SelectedSlot = nil
	d.Booking.ConfirmedAt = time.Time{}
	d.Booking.AppointmentAt = time.Time{}

	// A clinically driven reschedule brings the window forward.
	if reason == "bring_forward" {
		d.Booking.Priority = "urgent"
		d.Booking.WindowDays = WindowUrgent
	}
	a.offerSlots(d)
	a.logger.Info("reschedule requested", "patient_id", d.PatientID, "reason", reason)
	return respond(env, d, "Of course, let us find you a new time.\n"+a.offerText(d)), nil
}

// offerSlots generates fresh offers spread across the window,
// morning clinic times on weekdays.
func (a *BookingAgent) offerSlots(d *diary.Diary) {
	d.Booking.OfferedSlots = d.Booking.OfferedSlots[:0]
	step := d.Booking.WindowDays / offeredSlotCount
	if step < 1 {
		step = 1
	}
	day := a.now().UTC()
	for i := 1; i <= offeredSlotCount; i++ {
		t := day.AddDate(0, 0, i*step)
		for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
			t = t.AddDate(0, 0, 1)
		}
		start := time.Date(t.Year(), t.Month(), t.Day(), 9+i, 0, 0, 0, time.UTC)
		d.Booking.OfferedSlots = append(d.Booking.OfferedSlots, diary.Slot{
			ID: uuid.NewString(), Start: start, Venue: "Hepatology Outpatients",
		})
	}
	d.Touch()
}

func (a *BookingAgent) offerText(d *diary.Diary) string {
	var b strings.Builder
	b.WriteString("Here are the available appointment times. Reply with the number that suits you:")
	for i, s := range d.Booking.OfferedSlots {
		fmt.Fprintf(&b, "\n%d. %s", i+1, s.Start.Format("Monday 2 January at 15:04"))
	}
	return b.String()
}
