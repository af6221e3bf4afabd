// ABOUTME: Decides whether a resolved sender may submit a given event
// ABOUTME: Checked against the diary at processing time, not enqueue time

package identity

import (
	"errors"
	"fmt"

	"github.com/medforce/intake-gateway/internal/diary"
	"github.com/medforce/intake-gateway/internal/event"
)

// ErrNotPermitted means the sender's role or grants do not cover the
// event type.
var ErrNotPermitted = errors.New("sender not permitted")

// Helper permission grants.
const (
	PermSendMessages    = "send_messages"
	PermUploadDocuments = "upload_documents"
	PermManageBooking   = "manage_booking"
)

// helperGrants maps event types a helper may submit to the grant
// required for each.
var helperGrants = map[event.Type]string{
	event.TypeUserMessage:       PermSendMessages,
	event.TypeDocumentUploaded:  PermUploadDocuments,
	event.TypeRescheduleRequest: PermManageBooking,
}

// gpEvents is the closed set of event types a GP may submit.
var gpEvents = map[event.Type]bool{
	event.TypeGPResponse:       true,
	event.TypeUserMessage:      true,
	event.TypeDocumentUploaded: true,
}

// CheckPermission verifies a sender against the current diary state.
// Patients, agents and the system are always allowed on their own
// journey. Helpers need verification plus the matching grant. GPs are
// limited to the GP event set. Unknown roles are always denied.
func CheckPermission(env *event.Envelope, d *diary.Diary) error {
	switch env.SenderRole {
	case event.RolePatient, event.RoleSystem, event.RoleAgent:
		return nil

	case event.RoleHelper:
		h, ok := d.FindHelper(env.SenderID)
		if !ok {
			return fmt.Errorf("helper %s not registered: %w", env.SenderID, ErrNotPermitted)
		}
		if !h.Verified {
			return fmt.Errorf("helper %s not verified: %w", env.SenderID, ErrNotPermitted)
		}
		grant, ok := helperGrants[env.EventType]
		if !ok {
			return fmt.Errorf("helpers may not submit %s: %w", env.EventType, ErrNotPermitted)
		}
		if !h.HasPermission(grant) {
			return fmt.Errorf("helper %s lacks %s: %w", env.SenderID, grant, ErrNotPermitted)
		}
		return nil

	case event.RoleGP:
		if !gpEvents[env.EventType] {
			return fmt.Errorf("GPs may not submit %s: %w", env.EventType, ErrNotPermitted)
		}
		return nil

	default:
		return fmt.Errorf("unknown role %q: %w", env.SenderRole, ErrNotPermitted)
	}
}
