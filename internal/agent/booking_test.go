// ABOUTME: Tests for slot offers, selection, confirmation and reschedules

package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medforce/intake-gateway/internal/diary"
	"github.com/medforce/intake-gateway/internal/event"
)

func clinicalComplete(patientID string) *event.Envelope {
	return event.NewHandoff(event.TypeClinicalComplete, patientID, "clinical",
		map[string]any{"risk_level": "high"}, "corr-1")
}

func TestBookingPriorityFromRisk(t *testing.T) {
	tests := []struct {
		risk     diary.RiskLevel
		priority string
		window   int
	}{
		{diary.RiskHigh, "urgent", WindowUrgent},
		{diary.RiskMedium, "soon", WindowSoon},
		{diary.RiskLow, "routine", WindowRoutine},
	}
	for _, tt := range tests {
		t.Run(string(tt.risk), func(t *testing.T) {
			a := NewBookingAgent(nil)
			d := diary.New("patient-1")
			d.RiskLevel = tt.risk

			res, err := a.Process(context.Background(), clinicalComplete("patient-1"), d)
			require.NoError(t, err)

			assert.Equal(t, diary.PhaseBooking, d.Phase)
			assert.Equal(t, tt.priority, d.Booking.Priority)
			assert.Equal(t, tt.window, d.Booking.WindowDays)
			assert.Len(t, d.Booking.OfferedSlots, 3)
			require.Len(t, res.Responses, 1)
			assert.Contains(t, res.Responses[0].Text, "1.")
		})
	}
}

func TestBookingUrgentSlotsInsideWindow(t *testing.T) {
	a := NewBookingAgent(nil)
	d := diary.New("patient-1")
	d.RiskLevel = diary.RiskHigh

	_, err := a.Process(context.Background(), clinicalComplete("patient-1"), d)
	require.NoError(t, err)

	// Weekend skips can push a slot out a little, never more than
	// two days past the window.
	limit := time.Now().AddDate(0, 0, WindowUrgent+2)
	for _, s := range d.Booking.OfferedSlots {
		assert.True(t, s.Start.Before(limit), "slot %v past window", s.Start)
		assert.NotEqual(t, time.Saturday, s.Start.Weekday())
		assert.NotEqual(t, time.Sunday, s.Start.Weekday())
	}
}

func TestBookingSelectionConfirms(t *testing.T) {
	a := NewBookingAgent(nil)
	d := diary.New("patient-1")
	d.RiskLevel = diary.RiskMedium
	_, err := a.Process(context.Background(), clinicalComplete("patient-1"), d)
	require.NoError(t, err)

	res := turn(t, a, d, "2")

	require.NotNil(t, d.Booking.SelectedSlot)
	assert.Equal(t, d.Booking.OfferedSlots[1].ID, d.Booking.SelectedSlot.ID)
	assert.False(t, d.Booking.ConfirmedAt.IsZero())
	require.Len(t, res.Events, 1)
	assert.Equal(t, event.TypeBookingComplete, res.Events[0].EventType)
}

func TestBookingInvalidReplyReoffers(t *testing.T) {
	a := NewBookingAgent(nil)
	d := diary.New("patient-1")
	d.RiskLevel = diary.RiskLow
	_, err := a.Process(context.Background(), clinicalComplete("patient-1"), d)
	require.NoError(t, err)

	res := turn(t, a, d, "next tuesday please")

	assert.Nil(t, d.Booking.SelectedSlot)
	assert.Empty(t, res.Events)
	assert.Contains(t, res.Responses[0].Text, "1 to 3")
}

func TestBookingReschedule(t *testing.T) {
	a := NewBookingAgent(nil)
	d := diary.New("patient-1")
	d.RiskLevel = diary.RiskLow
	_, err := a.Process(context.Background(), clinicalComplete("patient-1"), d)
	require.NoError(t, err)
	turn(t, a, d, "1")
	oldStart := d.Booking.AppointmentAt

	req := event.NewHandoff(event.TypeRescheduleRequest, "patient-1", "monitoring",
		map[string]any{"reason": "bring_forward"}, "corr-1")
	d.TransitionTo(diary.PhaseMonitoring)
	res, err := a.Process(context.Background(), req, d)
	require.NoError(t, err)

	assert.Equal(t, diary.PhaseBooking, d.Phase)
	assert.Nil(t, d.Booking.SelectedSlot)
	assert.Equal(t, "urgent", d.Booking.Priority)
	require.Len(t, d.Booking.Reschedules, 1)
	assert.Equal(t, oldStart, d.Booking.Reschedules[0].OldStart)
	assert.NotEmpty(t, res.Responses)
	assert.Len(t, d.Booking.OfferedSlots, 3)
}
