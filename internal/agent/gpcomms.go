// ABOUTME: GP communications specialist, outbound queries and reminders
// ABOUTME: Responses from the GP route to the clinical agent, not here

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/medforce/intake-gateway/internal/diary"
	"github.com/medforce/intake-gateway/internal/event"
)

// GPChannel is the delivery channel name for GP-facing messages.
const GPChannel = "gp_email"

// GPCommsAgent sends queries to the referring GP and chases them.
type GPCommsAgent struct {
	logger *slog.Logger
}

// NewGPCommsAgent creates the GP communications specialist.
func NewGPCommsAgent(logger *slog.Logger) *GPCommsAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &GPCommsAgent{logger: logger.With("component", "agent.gpcomms")}
}

func (a *GPCommsAgent) Name() string { return "gpcomms" }

// Process handles GP query and reminder events.
func (a *GPCommsAgent) Process(ctx context.Context, env *event.Envelope, d *diary.Diary) (*Result, error) {
	switch env.EventType {
	case event.TypeGPQuery:
		return a.query(env, d)
	case event.TypeGPReminder:
		return a.reminder(env, d)
	default:
		return nil, fmt.Errorf("gpcomms agent got %s: %w", env.EventType, ErrUnhandledEvent)
	}
}

// query files a new outbound question and dispatches it to the GP.
func (a *GPCommsAgent) query(env *event.Envelope, d *diary.Diary) (*Result, error) {
	text, _ := env.Payload["text"].(string)
	if text == "" {
		return nil, fmt.Errorf("GP query without text: %w", ErrUnhandledEvent)
	}
	q := diary.GPQuery{ID: uuid.NewString(), Text: text, SentAt: time.Now().UTC()}
	d.GP.Queries = append(d.GP.Queries, q)
	d.Touch()
	a.logger.Info("GP query sent", "patient_id", d.PatientID, "query_id", q.ID)

	res := &Result{Diary: d}
	res.Responses = append(res.Responses, Response{
		Channel: GPChannel,
		Text: fmt.Sprintf("Query regarding your patient %s (ref %s):\n%s\n\nPlease reply quoting reference %s.",
			d.Contact.Name, d.PatientID, text, q.ID),
	})
	return res, nil
}

// reminder chases one pending query, once.
func (a *GPCommsAgent) reminder(env *event.Envelope, d *diary.Diary) (*Result, error) {
	queryID, _ := env.Payload["query_id"].(string)
	for i := range d.GP.Queries {
		q := &d.GP.Queries[i]
		if q.ID != queryID {
			continue
		}
		if !q.RespondedAt.IsZero() || q.ReminderSent {
			return &Result{Diary: d}, nil
		}
		q.ReminderSent = true
		d.Touch()
		a.logger.Info("GP reminder sent", "patient_id", d.PatientID, "query_id", queryID)

		res := &Result{Diary: d}
		res.Responses = append(res.Responses, Response{
			Channel: GPChannel,
			Text: fmt.Sprintf("Gentle reminder: we are still waiting on your reply to reference %s regarding patient %s.",
				q.ID, d.PatientID),
		})
		return res, nil
	}
	return nil, fmt.Errorf("GP reminder for unknown query %q: %w", queryID, ErrUnhandledEvent)
}
