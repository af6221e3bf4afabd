// ABOUTME: Clinical specialist, runs the assessment sub-phase machine
// ABOUTME: Questions, document collection, risk scoring and backward loops

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medforce/intake-gateway/internal/diary"
	"github.com/medforce/intake-gateway/internal/event"
)

// LoopDeadline is the time fallback on backward loops: past this, the
// assessment proceeds with whatever data is in hand even when the
// loop counter has budget left.
const LoopDeadline = 7 * 24 * time.Hour

// assessmentFields must be present before analysis starts; missing
// ones trigger a backward loop to intake.
var assessmentFields = []string{"nhs_number", "date_of_birth"}

// defaultQuestions is the baseline follow-up set when the reasoner
// produces nothing usable.
var defaultQuestions = []string{
	"Have you noticed any yellowing of your skin or eyes?",
	"Have you had any unintentional weight loss in the last three months?",
	"How many units of alcohol would you say you drink in a typical week?",
}

// requestedDocuments is what the assessment asks the patient to send.
var requestedDocuments = []string{"recent blood test results"}

// ClinicalAgent drives the clinical assessment.
type ClinicalAgent struct {
	scorer *RiskScorer
	logger *slog.Logger
}

// NewClinicalAgent creates the clinical specialist.
func NewClinicalAgent(scorer *RiskScorer, logger *slog.Logger) *ClinicalAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClinicalAgent{scorer: scorer, logger: logger.With("component", "agent.clinical")}
}

func (a *ClinicalAgent) Name() string { return "clinical" }

// Process handles one event during (or entering) the clinical phase.
func (a *ClinicalAgent) Process(ctx context.Context, env *event.Envelope, d *diary.Diary) (*Result, error) {
	switch env.EventType {
	case event.TypeIntakeComplete:
		return a.begin(ctx, env, d)
	case event.TypeIntakeDataProvided:
		a.absorbFields(env, d)
		return a.begin(ctx, env, d)
	case event.TypeUserMessage:
		return a.message(ctx, env, d)
	case event.TypeDocumentUploaded:
		return a.document(ctx, env, d)
	case event.TypeDeteriorationAlert:
		return a.deterioration(ctx, env, d)
	case event.TypeGPResponse:
		return a.gpResponse(env, d)
	default:
		return nil, fmt.Errorf("clinical agent got %s: %w", env.EventType, ErrUnhandledEvent)
	}
}

// begin enters the clinical phase and starts or resumes analysis.
func (a *ClinicalAgent) begin(ctx context.Context, env *event.Envelope, d *diary.Diary) (*Result, error) {
	if d.Phase != diary.PhaseClinical {
		d.TransitionTo(diary.PhaseClinical)
	}
	d.AdvanceSubPhase(diary.SubPhaseAnalyzing)

	if summary, ok := env.Payload["referral_summary"].(string); ok && summary != "" {
		d.Clinical.ReferralSummary = summary
	}

	// Analysis needs a complete record. Loop back to intake unless
	// the loop budget or deadline says to make do.
	if missing := a.missingAssessmentFields(d); len(missing) > 0 && a.mayLoop(d) {
		d.Clinical.BackwardLoopCount++
		if d.Clinical.FirstLoopAt.IsZero() {
			d.Clinical.FirstLoopAt = time.Now().UTC()
		}
		d.Touch()
		a.logger.Info("requesting missing intake data",
			"patient_id", d.PatientID, "fields", missing, "loop", d.Clinical.BackwardLoopCount)

		fields := make([]any, len(missing))
		for i, f := range missing {
			fields[i] = f
		}
		res := &Result{Diary: d}
		res.Events = append(res.Events, event.NewHandoff(
			event.TypeNeedsIntakeData, d.PatientID, a.Name(),
			map[string]any{"fields": fields, "channel": env.Channel()}, env.CorrelationID))
		return res, nil
	}

	if len(d.Clinical.Questions) == 0 {
		for _, q := range a.generateQuestions(ctx, d) {
			d.Clinical.Questions = append(d.Clinical.Questions, diary.Question{
				ID: uuid.NewString(), Text: q, AskedAt: time.Now().UTC(),
			})
		}
	}
	d.AdvanceSubPhase(diary.SubPhaseAskingQuestions)
	return respond(env, d,
		"Thank you. The clinical team has a few questions about your referral.",
		d.Clinical.Questions[0].Text), nil
}

// message records an answer to the oldest open question and advances
// the machine when the sufficiency gate passes.
func (a *ClinicalAgent) message(ctx context.Context, env *event.Envelope, d *diary.Diary) (*Result, error) {
	switch d.Clinical.SubPhase {
	case diary.SubPhaseAskingQuestions:
		text := env.Text()
		for i := range d.Clinical.Questions {
			if d.Clinical.Questions[i].AnsweredAt.IsZero() {
				d.Clinical.Questions[i].Answer = text
				d.Clinical.Questions[i].AnsweredAt = time.Now().UTC()
				break
			}
		}
		d.Touch()
		if open := d.Clinical.UnansweredQuestions(); len(open) > 0 {
			return respond(env, d, open[0].Text), nil
		}
		d.AdvanceSubPhase(diary.SubPhaseCollectingDocs)
		d.Clinical.RequestedDocs = append([]string(nil), requestedDocuments...)
		return respond(env, d,
			"Thank you for answering those. Could you send over your recent blood test results? A photo of the printout is fine."), nil

	case diary.SubPhaseCollectingDocs:
		return respond(env, d,
			"Thanks. When you have your recent blood test results to hand, please send them over and I will pass them to the clinical team."), nil

	default:
		return respond(env, d,
			"Thank you, I have noted that for the clinical team."), nil
	}
}

// document records an upload, absorbs lab values, and scores once the
// requested documents are in.
func (a *ClinicalAgent) document(ctx context.Context, env *event.Envelope, d *diary.Diary) (*Result, error) {
	name, _ := env.Payload["name"].(string)
	kind, _ := env.Payload["kind"].(string)
	d.Clinical.Documents = append(d.Clinical.Documents, diary.Document{
		Name: name, Kind: kind, ReceivedAt: time.Now().UTC(),
	})
	if labs, ok := env.Payload["labs"].(map[string]any); ok {
		if d.Clinical.LabResults == nil {
			d.Clinical.LabResults = map[string]float64{}
		}
		for k, v := range labs {
			if f, ok := v.(float64); ok {
				d.Clinical.LabResults[k] = f
			}
		}
	}
	d.Touch()

	if d.Clinical.SubPhase != diary.SubPhaseCollectingDocs {
		return respond(env, d, "Thank you, I have added that to your record."), nil
	}
	return a.score(ctx, env, d)
}

// score runs risk classification and completes the assessment.
func (a *ClinicalAgent) score(ctx context.Context, env *event.Envelope, d *diary.Diary) (*Result, error) {
	d.AdvanceSubPhase(diary.SubPhaseScoringRisk)
	level, rationale := a.scorer.Score(ctx, d)
	d.RiskLevel = level
	d.Clinical.RiskRationale = rationale
	d.Clinical.ScoredAt = time.Now().UTC()
	d.AdvanceSubPhase(diary.SubPhaseComplete)
	a.logger.Info("assessment complete", "patient_id", d.PatientID, "risk", level, "rationale", rationale)

	res := respond(env, d,
		"Thank you. The clinical team has everything needed and will arrange your appointment now.")
	res.Events = append(res.Events, event.NewHandoff(
		event.TypeClinicalComplete, d.PatientID, a.Name(),
		map[string]any{"risk_level": string(level), "channel": env.Channel()}, env.CorrelationID))
	return res, nil
}

// deterioration re-enters the clinical phase from monitoring and
// re-scores immediately with the alert context.
func (a *ClinicalAgent) deterioration(ctx context.Context, env *event.Envelope, d *diary.Diary) (*Result, error) {
	severity, _ := env.Payload["severity"].(string)
	detail, _ := env.Payload["detail"].(string)
	d.TransitionTo(diary.PhaseClinical)
	d.Clinical.SubPhase = diary.SubPhaseScoringRisk
	d.Clinical.ReferralSummary = fmt.Sprintf(
		"deterioration during monitoring (severity %s): %s; previously: %s",
		severity, detail, d.Clinical.ReferralSummary)
	a.logger.Warn("deterioration re-entry", "patient_id", d.PatientID, "severity", severity)
	return a.score(ctx, env, d)
}

// gpResponse files the GP's answer against its query.
func (a *ClinicalAgent) gpResponse(env *event.Envelope, d *diary.Diary) (*Result, error) {
	queryID, _ := env.Payload["query_id"].(string)
	text, _ := env.Payload["text"].(string)
	for i := range d.GP.Queries {
		if d.GP.Queries[i].ID == queryID {
			d.GP.Queries[i].Response = text
			d.GP.Queries[i].RespondedAt = time.Now().UTC()
			d.Touch()
			a.logger.Info("GP response filed", "patient_id", d.PatientID, "query_id", queryID)
			return &Result{Diary: d}, nil
		}
	}
	return nil, fmt.Errorf("GP response for unknown query %q: %w", queryID, ErrUnhandledEvent)
}

// absorbFields copies fields returned by a backward loop into the
// intake record.
func (a *ClinicalAgent) absorbFields(env *event.Envelope, d *diary.Diary) {
	fields, ok := env.Payload["fields"].(map[string]any)
	if !ok {
		return
	}
	for k, v := range fields {
		if s, ok := v.(string); ok && s != "" {
			d.Intake.Collected[k] = s
		}
	}
	d.Touch()
}

func (a *ClinicalAgent) missingAssessmentFields(d *diary.Diary) []string {
	var out []string
	for _, f := range assessmentFields {
		if _, ok := d.Intake.Collected[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// mayLoop enforces the backward-loop budget and the time fallback.
func (a *ClinicalAgent) mayLoop(d *diary.Diary) bool {
	if d.Clinical.BackwardLoopCount >= diary.MaxBackwardLoops {
		return false
	}
	if !d.Clinical.FirstLoopAt.IsZero() && time.Since(d.Clinical.FirstLoopAt) > LoopDeadline {
		return false
	}
	return true
}

// generateQuestions asks the reasoner for referral-specific
// follow-ups, falling back to the standard set.
func (a *ClinicalAgent) generateQuestions(ctx context.Context, d *diary.Diary) []string {
	if a.scorer == nil || a.scorer.reasoner == nil || d.Clinical.ReferralSummary == "" {
		return defaultQuestions
	}
	out, err := a.scorer.reasoner.Complete(ctx, fmt.Sprintf(
		"Given this hepatology referral, list up to three short follow-up questions for the patient, one per line.\nReferral: %s",
		d.Clinical.ReferralSummary))
	if err != nil || out == "" {
		return defaultQuestions
	}
	var qs []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.Trim(line, " \t\r-*")
		if line != "" {
			qs = append(qs, line)
		}
		if len(qs) == 3 {
			break
		}
	}
	if len(qs) == 0 {
		return defaultQuestions
	}
	return qs
}
