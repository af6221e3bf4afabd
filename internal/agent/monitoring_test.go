// ABOUTME: Tests for milestones, stale-phase nudges and stalled assessments

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

func setupMonitoring(t *testing.T) (*MonitoringAgent, *diary.Diary) {
	t.Helper()
	a := NewMonitoringAgent(nil)
	d := diary.New("patient-1")
	d.RiskLevel = diary.RiskMedium
	d.Booking.AppointmentAt = time.Now().Add(-14 * 24 * time.Hour)

	begin := event.NewHandoff(event.TypeBookingComplete, "patient-1", "booking", nil, "corr-1")
	_, err := a.Process(context.Background(), begin, d)
	require.NoError(t, err)
	return a, d
}

func TestMonitoringBeginSnapshotsBaseline(t *testing.T) {
	_, d := setupMonitoring(t)

	assert.Equal(t, diary.PhaseMonitoring, d.Phase)
	assert.Equal(t, "medium", d.Monitoring.Baseline["risk_level"])
	assert.False(t, d.Monitoring.BaselineAt.IsZero())
	assert.NotEmpty(t, d.Monitoring.CommPlan)
}

func TestMilestoneFiresOnce(t *testing.T) {
	a, d := setupMonitoring(t)

	hb := event.NewHeartbeat("patient-1", 14, "day-14")
	res, err := a.Process(context.Background(), hb, d)
	require.NoError(t, err)
	require.Len(t, res.Responses, 1)
	assert.Contains(t, res.Responses[0].Text, "14 days")
	assert.True(t, d.Monitoring.FiredMilestones[14])

	res, err = a.Process(context.Background(), event.NewHeartbeat("patient-1", 14, "day-14"), d)
	require.NoError(t, err)
	assert.Empty(t, res.Responses)
}

func TestStalePhaseNudgeFiresOnce(t *testing.T) {
	a := NewMonitoringAgent(nil)
	d := diary.New("patient-1")
	d.TransitionTo(diary.PhaseClinical)
	d.PhaseEnteredAt = time.Now().Add(-73 * time.Hour)

	hb := event.NewHeartbeat("patient-1", 0, "")
	res, err := a.Process(context.Background(), hb, d)
	require.NoError(t, err)
	require.Len(t, res.Responses, 1)
	assert.Contains(t, res.Responses[0].Text, "referral")
	assert.True(t, d.StaleAlerts["phase_stale_clinical"])

	res, err = a.Process(context.Background(), event.NewHeartbeat("patient-1", 0, ""), d)
	require.NoError(t, err)
	assert.Empty(t, res.Responses)
}

func TestStalePhaseUnderThresholdSilent(t *testing.T) {
	a := NewMonitoringAgent(nil)
	d := diary.New("patient-1")
	d.PhaseEnteredAt = time.Now().Add(-2 * time.Hour)

	res, err := a.Process(context.Background(), event.NewHeartbeat("patient-1", 0, ""), d)
	require.NoError(t, err)
	assert.Empty(t, res.Responses)
	assert.Empty(t, d.StaleAlerts)
}

func TestConcernStartsAssessment(t *testing.T) {
	a, d := setupMonitoring(t)

	res := turn(t, a, d, "I have been feeling much worse this week")

	require.NotNil(t, d.Monitoring.Assessment)
	assert.Equal(t, assessmentQuestions[0], res.Responses[0].Text)
}

func TestAssessmentMildOutcome(t *testing.T) {
	a, d := setupMonitoring(t)
	turn(t, a, d, "I have been feeling much worse this week")

	turn(t, a, d, "a few days ago")
	turn(t, a, d, "improving now actually")
	res := turn(t, a, d, "no, nothing like that")

	as := d.Monitoring.Assessment
	require.NotNil(t, as)
	assert.Equal(t, "mild", as.Severity)
	assert.False(t, as.DoneAt.IsZero())
	assert.Empty(t, res.Events)
}

func TestAssessmentSevereEscalates(t *testing.T) {
	a, d := setupMonitoring(t)
	turn(t, a, d, "I have been feeling much worse this week")

	turn(t, a, d, "yesterday")
	turn(t, a, d, "getting worse")
	res := turn(t, a, d, "my skin looks yellow")

	assert.Equal(t, "severe", d.Monitoring.Assessment.Severity)
	require.Len(t, res.Events, 1)
	assert.Equal(t, event.TypeDeteriorationAlert, res.Events[0].EventType)
	assert.Equal(t, "severe", res.Events[0].Payload["severity"])
}

func TestStalledAssessmentForcedAfterTimeout(t *testing.T) {
	a, d := setupMonitoring(t)
	turn(t, a, d, "I have been feeling much worse this week")
	d.Monitoring.Assessment.StartedAt = time.Now().Add(-49 * time.Hour)

	res, err := a.Process(context.Background(), event.NewHeartbeat("patient-1", 0, ""), d)
	require.NoError(t, err)

	as := d.Monitoring.Assessment
	assert.True(t, as.Forced)
	assert.Equal(t, "moderate", as.Severity)
	require.Len(t, res.Responses, 1)
	assert.Contains(t, res.Responses[0].Text, "earlier review")
	require.Len(t, res.Events, 1)
	assert.Equal(t, event.TypeRescheduleRequest, res.Events[0].EventType)
	assert.Equal(t, "bring_forward", res.Events[0].Payload["reason"])
}

func TestStalledAssessmentEscalatesPartialAnswers(t *testing.T) {
	a, d := setupMonitoring(t)
	turn(t, a, d, "I have been feeling much worse this week")
	turn(t, a, d, "the pain started last week")
	d.Monitoring.Assessment.StartedAt = time.Now().Add(-49 * time.Hour)

	res, err := a.Process(context.Background(), event.NewHeartbeat("patient-1", 0, ""), d)
	require.NoError(t, err)

	// Moderate answers escalate to severe when the patient goes
	// quiet.
	assert.Equal(t, "severe", d.Monitoring.Assessment.Severity)
	require.Len(t, res.Events, 1)
	assert.Equal(t, event.TypeDeteriorationAlert, res.Events[0].EventType)
}

func TestRoutineCheckInRecorded(t *testing.T) {
	a, d := setupMonitoring(t)

	res := turn(t, a, d, "feeling absolutely fine, thanks")

	assert.Nil(t, d.Monitoring.Assessment)
	require.Len(t, d.Monitoring.Entries, 1)
	assert.False(t, d.Monitoring.Entries[0].Concern)
	assert.NotEmpty(t, res.Responses)
}
