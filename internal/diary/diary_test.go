// ABOUTME: Tests for the diary document and its section state machines

package diary

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStartsInIntake(t *testing.T) {
	d := New("patient-1")

	assert.Equal(t, PhaseIntake, d.Phase)
	assert.Equal(t, SubPhaseNotStarted, d.Clinical.SubPhase)
	assert.False(t, d.PhaseEnteredAt.IsZero())
	assert.Equal(t, DefaultRequiredFields, d.Intake.Required)
	assert.Equal(t, DefaultRequiredFields, d.Intake.Missing())
}

func TestIntakeMissingPreservesOrder(t *testing.T) {
	d := New("patient-1")
	d.Intake.Collected["date_of_birth"] = "1962-03-14"
	d.Intake.Collected["phone"] = "+447700900123"

	missing := d.Intake.Missing()
	assert.Equal(t, []string{"full_name", "nhs_number", "gp_practice"}, missing)
}

func TestIntakeMissingEmptyRequired(t *testing.T) {
	s := IntakeSection{Collected: map[string]string{}}
	assert.Nil(t, s.Missing())
}

func TestTransitionToStampsEntryTime(t *testing.T) {
	d := New("patient-1")
	before := d.PhaseEnteredAt

	time.Sleep(time.Millisecond)
	d.TransitionTo(PhaseClinical)

	assert.Equal(t, PhaseClinical, d.Phase)
	assert.True(t, d.PhaseEnteredAt.After(before))
}

func TestAppendConversationSpillsPastCap(t *testing.T) {
	d := New("patient-1")
	for i := 0; i < MaxConversationEntries; i++ {
		spilled := d.AppendConversation(ConversationEntry{Role: "patient", Text: fmt.Sprintf("msg %d", i)})
		assert.Nil(t, spilled)
	}

	spilled := d.AppendConversation(ConversationEntry{Role: "patient", Text: "overflow"})

	require.Len(t, spilled, 1)
	assert.Equal(t, "msg 0", spilled[0].Text)
	assert.Len(t, d.Conversation, MaxConversationEntries)
	assert.Equal(t, "overflow", d.Conversation[len(d.Conversation)-1].Text)
}

func TestAppendCheckInCapped(t *testing.T) {
	d := New("patient-1")
	for i := 0; i < MaxMonitoringEntries+5; i++ {
		d.AppendCheckIn(CheckIn{Note: fmt.Sprintf("day %d", i)})
	}

	assert.Len(t, d.Monitoring.Entries, MaxMonitoringEntries)
	assert.Equal(t, "day 5", d.Monitoring.Entries[0].Note)
}

func TestAdvanceSubPhase(t *testing.T) {
	tests := []struct {
		name string
		from ClinicalSubPhase
		to   ClinicalSubPhase
		ok   bool
	}{
		{"forward one step", SubPhaseNotStarted, SubPhaseAnalyzing, true},
		{"forward skip", SubPhaseAnalyzing, SubPhaseScoringRisk, true},
		{"same state", SubPhaseAskingQuestions, SubPhaseAskingQuestions, true},
		{"backward rejected", SubPhaseScoringRisk, SubPhaseAskingQuestions, false},
		{"unknown rejected", SubPhaseAnalyzing, ClinicalSubPhase("bogus"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New("patient-1")
			d.Clinical.SubPhase = tt.from

			got := d.AdvanceSubPhase(tt.to)

			assert.Equal(t, tt.ok, got)
			if tt.ok {
				assert.Equal(t, tt.to, d.Clinical.SubPhase)
			} else {
				assert.Equal(t, tt.from, d.Clinical.SubPhase)
			}
		})
	}
}

func TestMarkStaleAlertFiresOnce(t *testing.T) {
	d := New("patient-1")

	assert.True(t, d.MarkStaleAlert("phase_stale_clinical"))
	assert.False(t, d.MarkStaleAlert("phase_stale_clinical"))
	assert.True(t, d.MarkStaleAlert("phase_stale_booking"))
}

func TestUnansweredQuestions(t *testing.T) {
	s := ClinicalSection{Questions: []Question{
		{ID: "q1", Text: "any weight loss?", AnsweredAt: time.Now()},
		{ID: "q2", Text: "any abdominal pain?"},
	}}

	open := s.UnansweredQuestions()
	require.Len(t, open, 1)
	assert.Equal(t, "q2", open[0].ID)
}

func TestPendingGPQueries(t *testing.T) {
	s := GPSection{Queries: []GPQuery{
		{ID: "g1", RespondedAt: time.Now()},
		{ID: "g2"},
	}}

	pending := s.PendingQueries()
	require.Len(t, pending, 1)
	assert.Equal(t, "g2", pending[0].ID)
}

func TestHelperPermissions(t *testing.T) {
	h := &Helper{ID: "helper-1", Permissions: []string{"send_messages"}}

	assert.True(t, h.HasPermission("send_messages"))
	assert.False(t, h.HasPermission("upload_documents"))
}
