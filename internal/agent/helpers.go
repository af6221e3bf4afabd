// ABOUTME: Helper management specialist, delegate registration and verification
// ABOUTME: Grants come in on verification, never at registration time

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

// HelpersAgent manages a patient's registered delegates.
type HelpersAgent struct {
	logger *slog.Logger
}

// NewHelpersAgent creates the helper management specialist.
func NewHelpersAgent(logger *slog.Logger) *HelpersAgent {
	if logger == nil {
		logger = slog.Default()
	}
	return &HelpersAgent{logger: logger.With("component", "agent.helpers")}
}

func (a *HelpersAgent) Name() string { return "helpers" }

// Process handles helper lifecycle events.
func (a *HelpersAgent) Process(ctx context.Context, env *event.Envelope, d *diary.Diary) (*Result, error) {
	switch env.EventType {
	case event.TypeHelperRegistration:
		return a.register(env, d)
	case event.TypeHelperVerified:
		return a.verify(env, d)
	default:
		return nil, fmt.Errorf("helpers agent got %s: %w", env.EventType, ErrUnhandledEvent)
	}
}

// register adds an unverified helper with no grants.
func (a *HelpersAgent) register(env *event.Envelope, d *diary.Diary) (*Result, error) {
	name, _ := env.Payload["name"].(string)
	phone, _ := env.Payload["phone"].(string)
	email, _ := env.Payload["email"].(string)
	relationship, _ := env.Payload["relationship"].(string)
	if phone == "" && email == "" {
		return nil, fmt.Errorf("helper registration without contact details: %w", ErrUnhandledEvent)
	}

	h := &diary.Helper{
		ID: "helper-" + uuid.NewString(), Name: name,
		Phone: phone, Email: email, Relationship: relationship,
		RegisteredAt: time.Now().UTC(),
	}
	if d.Helpers == nil {
		d.Helpers = map[string]*diary.Helper{}
	}
	d.Helpers[h.ID] = h
	d.Touch()
	a.logger.Info("helper registered", "patient_id", d.PatientID, "helper_id", h.ID)

	return respond(env, d, fmt.Sprintf(
		"%s has been registered as your helper. We will confirm with you before they can act on your behalf.",
		displayName(name))), nil
}

// verify marks a helper verified and applies the granted permissions.
func (a *HelpersAgent) verify(env *event.Envelope, d *diary.Diary) (*Result, error) {
	helperID, _ := env.Payload["helper_id"].(string)
	h, ok := d.FindHelper(helperID)
	if !ok {
		return nil, fmt.Errorf("verification for unknown helper %q: %w", helperID, ErrUnhandledEvent)
	}

	var perms []string
	if raw, ok := env.Payload["permissions"].([]any); ok {
		for _, p := range raw {
			if s, ok := p.(string); ok {
				perms = append(perms, s)
			}
		}
	}
	if len(perms) == 0 {
		perms = []string{"send_messages"}
	}
	h.Verified = true
	h.Permissions = perms
	d.Touch()
	a.logger.Info("helper verified", "patient_id", d.PatientID, "helper_id", helperID, "permissions", perms)

	return respond(env, d, fmt.Sprintf(
		"%s is now verified and can message us on your behalf.", displayName(h.Name))), nil
}

func displayName(name string) string {
	if name == "" {
		return "Your helper"
	}
	return name
}
