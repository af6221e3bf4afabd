// ABOUTME: Intake specialist, collects required referral fields one at a time
// ABOUTME: Also serves backward loops when later phases need more data

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/medforce/intake-gateway/internal/diary"
	"github.com/medforce/intake-gateway/internal/event"
)

// fieldQuestions maps required fields to the question asked for each.
var fieldQuestions = map[string]string{
	"full_name":     "Could you tell me your full name, please?",
	"date_of_birth": "What is your date of birth?",
	"nhs_number":    "What is your NHS number? It is the 10 digit number on your referral letter.",
	"phone":         "What is the best phone number to reach you on?",
	"gp_practice":   "Which GP practice are you registered with?",
}

var (
	nhsNumberRe = regexp.MustCompile(`\b(\d{3})[ -]?(\d{3})[ -]?(\d{4})\b`)
	phoneRe     = regexp.MustCompile(`(\+?\d[\d ()-]{8,}\d)`)
	dobRe       = regexp.MustCompile(`\b(\d{1,2}[/-]\d{1,2}[/-]\d{4}|\d{4}-\d{2}-\d{2})\b`)
)

// IntakeAgent drives the intake phase.
type IntakeAgent struct {
	logger *slog.Logger
}

// NewIntakeAgent creates the intake specialist.
func NewIntakeAgent(logger *slog.Logger) *IntakeAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntakeAgent{logger: logger.With("component", "agent.intake")}
}

func (a *IntakeAgent) Name() string { return "intake" }

// Process handles one event while the journey is collecting data.
func (a *IntakeAgent) Process(ctx context.Context, env *event.Envelope, d *diary.Diary) (*Result, error) {
	switch env.EventType {
	case event.TypeUserMessage, event.TypeIntakeDataProvided, event.TypeWebhook:
		return a.collect(env, d)
	case event.TypeDocumentUploaded:
		name, _ := env.Payload["name"].(string)
		d.Clinical.Documents = append(d.Clinical.Documents, diary.Document{
			Name: name, ReceivedAt: time.Now().UTC(),
		})
		return respond(env, d, "Thank you, I have attached that document to your referral."), nil
	case event.TypeNeedsIntakeData:
		return a.startLoop(env, d)
	default:
		return nil, fmt.Errorf("intake agent got %s: %w", env.EventType, ErrUnhandledEvent)
	}
}

// collect absorbs whatever fields the message carries, then either
// asks for the next missing field or completes.
func (a *IntakeAgent) collect(env *event.Envelope, d *diary.Diary) (*Result, error) {
	absorbed := a.absorb(env, d)

	// Free text with nothing recognizable answers the last question
	// verbatim. Names and practice names have no pattern to match.
	text := strings.TrimSpace(env.Text())
	if !absorbed && text != "" && d.Intake.LastAsked != "" {
		if _, have := d.Intake.Collected[d.Intake.LastAsked]; !have {
			a.record(d, d.Intake.LastAsked, text)
		}
	}

	// A backward loop completes as soon as the requested fields are
	// in; control returns to the phase that asked.
	if len(d.Intake.LoopFields) > 0 && a.loopSatisfied(d) {
		fields := map[string]any{}
		for _, f := range d.Intake.LoopFields {
			fields[f] = d.Intake.Collected[f]
		}
		d.Intake.LoopFields = nil
		d.Intake.LastAsked = ""
		d.Touch()
		res := respond(env, d, "Thank you, I have passed that along to the clinical team.")
		res.Events = append(res.Events, event.NewHandoff(
			event.TypeIntakeDataProvided, d.PatientID, a.Name(),
			map[string]any{"fields": fields, "channel": env.Channel()}, env.CorrelationID))
		return res, nil
	}

	missing := d.Intake.Missing()
	if len(missing) > 0 {
		// Exactly one question per turn.
		field := missing[0]
		d.Intake.LastAsked = field
		d.Intake.Asked[field] = true
		d.Touch()
		return respond(env, d, fieldQuestions[field]), nil
	}

	if d.Intake.Complete {
		return respond(env, d, "Your registration is already complete. A member of the clinical team will be in touch."), nil
	}
	d.Intake.Complete = true
	d.Intake.CompletedAt = time.Now().UTC()
	d.Intake.LastAsked = ""
	d.Touch()

	collected := map[string]any{}
	for k, v := range d.Intake.Collected {
		collected[k] = v
	}
	res := respond(env, d, "That is everything I need, thank you. Your referral is now with our clinical team.")
	res.Events = append(res.Events, event.NewHandoff(
		event.TypeIntakeComplete, d.PatientID, a.Name(),
		map[string]any{"fields": collected, "channel": env.Channel()}, env.CorrelationID))
	return res, nil
}

// startLoop registers extra fields requested by a later phase.
func (a *IntakeAgent) startLoop(env *event.Envelope, d *diary.Diary) (*Result, error) {
	raw, _ := env.Payload["fields"].([]any)
	var fields []string
	for _, f := range raw {
		if s, ok := f.(string); ok {
			fields = append(fields, s)
		}
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("needs-intake-data without fields: %w", ErrUnhandledEvent)
	}
	for _, f := range fields {
		if !contains(d.Intake.Required, f) {
			d.Intake.Required = append(d.Intake.Required, f)
		}
		if !contains(d.Intake.LoopFields, f) {
			d.Intake.LoopFields = append(d.Intake.LoopFields, f)
		}
	}
	field := fields[0]
	d.Intake.LastAsked = field
	d.Intake.Asked[field] = true
	d.Touch()

	question := fieldQuestions[field]
	if question == "" {
		question = fmt.Sprintf("The clinical team needs one more detail: could you tell me your %s?",
			strings.ReplaceAll(field, "_", " "))
	}
	return respond(env, d, question), nil
}

// absorb pulls structured and pattern-matched fields out of the
// event. Returns true when at least one field was captured.
func (a *IntakeAgent) absorb(env *event.Envelope, d *diary.Diary) bool {
	captured := false
	if fields, ok := env.Payload["fields"].(map[string]any); ok {
		for k, v := range fields {
			if s, ok := v.(string); ok && s != "" {
				a.record(d, k, s)
				captured = true
			}
		}
	}
	text := env.Text()
	if text == "" {
		return captured
	}
	if _, have := d.Intake.Collected["nhs_number"]; !have {
		if m := nhsNumberRe.FindStringSubmatch(text); m != nil {
			a.record(d, "nhs_number", m[1]+m[2]+m[3])
			captured = true
		}
	}
	if _, have := d.Intake.Collected["phone"]; !have && d.Intake.LastAsked == "phone" {
		if m := phoneRe.FindString(text); m != "" {
			a.record(d, "phone", m)
			captured = true
		}
	}
	if _, have := d.Intake.Collected["date_of_birth"]; !have {
		if m := dobRe.FindString(text); m != "" {
			a.record(d, "date_of_birth", m)
			captured = true
		}
	}
	return captured
}

// record stores a field and mirrors contact details onto the header.
func (a *IntakeAgent) record(d *diary.Diary, field, value string) {
	value = strings.TrimSpace(value)
	d.Intake.Collected[field] = value
	switch field {
	case "full_name":
		d.Contact.Name = value
	case "phone":
		d.Contact.Phone = value
	case "email":
		d.Contact.Email = value
	case "date_of_birth":
		d.Contact.DOB = value
	case "gp_practice":
		d.GP.Name = value
	}
	d.Touch()
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func (a *IntakeAgent) loopSatisfied(d *diary.Diary) bool {
	for _, f := range d.Intake.LoopFields {
		if _, ok := d.Intake.Collected[f]; !ok {
			return false
		}
	}
	return true
}
