// ABOUTME: Monitoring specialist, post-appointment check-ins and deterioration
// ABOUTME: Also nudges journeys that have gone stale in earlier phases

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/medforce/intake-gateway/internal/diary"
	"github.com/medforce/intake-gateway/internal/event"
)

// AssessmentTimeout force-completes a deterioration assessment the
// patient stopped answering. The bias is always toward escalation.
const AssessmentTimeout = 48 * time.Hour

// StaleThresholds is how long a journey may sit in a phase before a
// one-time nudge is sent.
var StaleThresholds = map[diary.Phase]time.Duration{
	diary.PhaseIntake:   24 * time.Hour,
	diary.PhaseClinical: 72 * time.Hour,
	diary.PhaseBooking:  48 * time.Hour,
}

// severeKeywords in a check-in or assessment answer force a severe
// classification and an immediate clinical alert.
var severeKeywords = []string{
	"jaundice", "yellow", "confusion", "confused", "encephalopathy",
	"ascites", "vomiting blood", "black stool",
}

// concernKeywords trigger a deterioration assessment.
var concernKeywords = []string{
	"worse", "worsening", "pain", "swollen", "swelling", "vomit",
	"fever", "bleed", "tired all the time",
}

// assessmentQuestions is the fixed deterioration questionnaire.
var assessmentQuestions = []string{
	"I am sorry to hear that. When did this start?",
	"Is it getting worse, staying the same, or improving?",
	"Have you noticed any yellowing of your skin, confusion, or swelling of your tummy?",
}

// MonitoringAgent drives post-appointment follow-up.
type MonitoringAgent struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewMonitoringAgent creates the monitoring specialist.
func NewMonitoringAgent(logger *slog.Logger) *MonitoringAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &MonitoringAgent{logger: logger.With("component", "agent.monitoring"), now: time.Now}
}

func (a *MonitoringAgent) Name() string { return "monitoring" }

// Process handles one event for the monitoring specialist. Heartbeats
// arrive here regardless of the journey's phase.
func (a *MonitoringAgent) Process(ctx context.Context, env *event.Envelope, d *diary.Diary) (*Result, error) {
	switch env.EventType {
	case event.TypeBookingComplete:
		return a.begin(env, d)
	case event.TypeHeartbeat:
		return a.heartbeat(env, d)
	case event.TypeUserMessage:
		return a.message(env, d)
	default:
		return nil, fmt.Errorf("monitoring agent got %s: %w", env.EventType, ErrUnhandledEvent)
	}
}

// begin enters monitoring and snapshots the baseline.
func (a *MonitoringAgent) begin(env *event.Envelope, d *diary.Diary) (*Result, error) {
	d.TransitionTo(diary.PhaseMonitoring)
	d.Monitoring.Baseline = map[string]string{
		"risk_level":     string(d.RiskLevel),
		"appointment_at": d.Booking.AppointmentAt.Format(time.RFC3339),
	}
	d.Monitoring.BaselineAt = a.now().UTC()
	if d.Monitoring.FiredMilestones == nil {
		d.Monitoring.FiredMilestones = map[int]bool{}
	}
	switch d.RiskLevel {
	case diary.RiskHigh:
		d.Monitoring.CommPlan = "weekly check-ins, low threshold for clinical review"
	default:
		d.Monitoring.CommPlan = "milestone check-ins at 14, 30, 60 and 90 days"
	}
	a.logger.Info("monitoring started", "patient_id", d.PatientID, "risk", d.RiskLevel)
	return respond(env, d,
		"Your appointment is all set. We will check in with you from time to time; if anything changes in the meantime, just send a message."), nil
}

// heartbeat handles the scheduler tick: stale-phase nudges outside
// monitoring, milestones and stalled assessments inside it.
func (a *MonitoringAgent) heartbeat(env *event.Envelope, d *diary.Diary) (*Result, error) {
	if d.Phase != diary.PhaseMonitoring {
		return a.checkStalePhase(env, d)
	}

	if res, handled := a.checkStalledAssessment(env, d); handled {
		return res, nil
	}

	days, _ := env.Payload["days_since_appointment"].(int)
	if f, ok := env.Payload["days_since_appointment"].(float64); ok {
		days = int(f)
	}
	if days > 0 && !d.Monitoring.FiredMilestones[days] {
		if d.Monitoring.FiredMilestones == nil {
			d.Monitoring.FiredMilestones = map[int]bool{}
		}
		d.Monitoring.FiredMilestones[days] = true
		d.AppendCheckIn(diary.CheckIn{Milestone: days, Note: "milestone check-in sent"})
		a.logger.Info("milestone check-in", "patient_id", d.PatientID, "days", days)
		return respond(env, d, fmt.Sprintf(
			"Hello, it has been %d days since your appointment. How have you been feeling?", days)), nil
	}
	return &Result{Diary: d}, nil
}

// checkStalePhase sends at most one nudge per phase when a journey
// has sat still past its threshold.
func (a *MonitoringAgent) checkStalePhase(env *event.Envelope, d *diary.Diary) (*Result, error) {
	threshold, ok := StaleThresholds[d.Phase]
	if !ok || a.now().Sub(d.PhaseEnteredAt) < threshold {
		return &Result{Diary: d}, nil
	}
	if !d.MarkStaleAlert("phase_stale_" + string(d.Phase)) {
		return &Result{Diary: d}, nil
	}
	a.logger.Info("stale phase nudge", "patient_id", d.PatientID, "phase", d.Phase)
	var text string
	switch d.Phase {
	case diary.PhaseIntake:
		text = "Just checking in. We still need a few details to complete your registration; reply here whenever you are ready."
	case diary.PhaseClinical:
		text = "Just checking in on your referral. The clinical team is still waiting on some information from you; reply here if you need a hand."
	case diary.PhaseBooking:
		text = "Just a reminder that your appointment has not been booked yet. Reply with a slot number whenever you are ready."
	}
	return respond(env, d, text), nil
}

// checkStalledAssessment force-completes an assessment open past the
// timeout. Missing answers always escalate.
func (a *MonitoringAgent) checkStalledAssessment(env *event.Envelope, d *diary.Diary) (*Result, bool) {
	as := d.Monitoring.Assessment
	if as == nil || !as.DoneAt.IsZero() || a.now().Sub(as.StartedAt) < AssessmentTimeout {
		return nil, false
	}

	severity := a.scoreAnswers(as)
	switch severity {
	case "":
		// The patient never answered. Treat as the most concerning
		// outcome short of an emergency and pull the review forward.
		severity = "moderate"
	case "mild":
		severity = "moderate"
	case "moderate":
		severity = "severe"
	}
	as.Severity = severity
	as.Forced = true
	as.DoneAt = a.now().UTC()
	d.AppendCheckIn(diary.CheckIn{Note: "assessment timed out, forced " + severity, Concern: true})
	a.logger.Warn("assessment force-completed", "patient_id", d.PatientID, "severity", severity)

	res, _ := a.resolveAssessment(env, d, severity,
		"We have not heard back from you, so we are arranging an earlier review to be on the safe side.")
	return res, true
}

// message handles patient messages during monitoring: answers to an
// open assessment, or concern detection on a free check-in.
func (a *MonitoringAgent) message(env *event.Envelope, d *diary.Diary) (*Result, error) {
	text := strings.ToLower(env.Text())
	as := d.Monitoring.Assessment

	if as != nil && as.DoneAt.IsZero() {
		if as.Answers == nil {
			as.Answers = map[string]string{}
		}
		idx := len(as.Answers)
		as.Answers[as.Questions[idx]] = env.Text()
		d.Touch()
		if idx+1 < len(as.Questions) {
			return respond(env, d, as.Questions[idx+1]), nil
		}

		severity := a.scoreAnswers(as)
		if severity == "" {
			severity = "mild"
		}
		as.Severity = severity
		as.DoneAt = a.now().UTC()
		d.AppendCheckIn(diary.CheckIn{Note: "assessment completed, " + severity, Concern: severity != "mild"})
		res, _ := a.resolveAssessment(env, d, severity,
			"Thank you for answering. Keep an eye on things and message us if anything changes.")
		return res, nil
	}

	if a.containsAny(text, severeKeywords) || a.containsAny(text, concernKeywords) {
		d.Monitoring.Assessment = &diary.Assessment{
			StartedAt: a.now().UTC(),
			Trigger:   env.Text(),
			Questions: append([]string(nil), assessmentQuestions...),
		}
		d.Touch()
		a.logger.Info("deterioration assessment started", "patient_id", d.PatientID)
		return respond(env, d, assessmentQuestions[0]), nil
	}

	d.AppendCheckIn(diary.CheckIn{Note: env.Text()})
	return respond(env, d, "Good to hear from you. We will be in touch at your next check-in; message us any time before that if you need to."), nil
}

// resolveAssessment emits the escalation matching a severity.
func (a *MonitoringAgent) resolveAssessment(env *event.Envelope, d *diary.Diary, severity, ack string) (*Result, error) {
	res := respond(env, d, ack)
	detail := d.Monitoring.Assessment.Trigger
	switch severity {
	case "severe":
		res.Events = append(res.Events, event.NewHandoff(
			event.TypeDeteriorationAlert, d.PatientID, a.Name(),
			map[string]any{"severity": severity, "detail": detail, "channel": env.Channel()},
			env.CorrelationID))
	case "moderate":
		res.Events = append(res.Events, event.NewHandoff(
			event.TypeRescheduleRequest, d.PatientID, a.Name(),
			map[string]any{"reason": "bring_forward", "detail": detail, "channel": env.Channel()},
			env.CorrelationID))
	}
	return res, nil
}

// scoreAnswers classifies the assessment from its answers alone.
// Returns "" when there are no answers.
func (a *MonitoringAgent) scoreAnswers(as *diary.Assessment) string {
	if len(as.Answers) == 0 {
		return ""
	}
	var b strings.Builder
	for _, v := range as.Answers {
		b.WriteString(" ")
		b.WriteString(strings.ToLower(v))
	}
	answers := b.String()
	// The trigger counts toward severe: a red-flag symptom in the
	// opening message is not diluted by reassuring answers.
	if a.containsAny(answers+" "+strings.ToLower(as.Trigger), severeKeywords) {
		return "severe"
	}
	if a.containsAny(answers, concernKeywords) {
		return "moderate"
	}
	return "mild"
}

func (a *MonitoringAgent) containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
