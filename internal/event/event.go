// ABOUTME: Event envelope types and routing classification for the gateway
// ABOUTME: Every occurrence entering the core is wrapped in the same Envelope

package event

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies the kind of occurrence an envelope describes.
type Type string

// External events (from patients, helpers, GPs, external systems).
const (
	TypeUserMessage      Type = "USER_MESSAGE"
	TypeDocumentUploaded Type = "DOCUMENT_UPLOADED"
	TypeWebhook          Type = "WEBHOOK"
)

// Handoff events (internal, looped back through the gateway).
const (
	TypeIntakeComplete     Type = "INTAKE_COMPLETE"
	TypeIntakeDataProvided Type = "INTAKE_DATA_PROVIDED"
	TypeClinicalComplete   Type = "CLINICAL_COMPLETE"
	TypeBookingComplete    Type = "BOOKING_COMPLETE"
	TypeNeedsIntakeData    Type = "NEEDS_INTAKE_DATA"
	TypeDeteriorationAlert Type = "DETERIORATION_ALERT"
	TypeRescheduleRequest  Type = "RESCHEDULE_REQUEST"
)

// GP communication events.
const (
	TypeGPQuery    Type = "GP_QUERY"
	TypeGPResponse Type = "GP_RESPONSE"
	TypeGPReminder Type = "GP_REMINDER"
)

// Helper management events.
const (
	TypeHelperRegistration Type = "HELPER_REGISTRATION"
	TypeHelperVerified     Type = "HELPER_VERIFIED"
)

// System events.
const (
	TypeHeartbeat  Type = "HEARTBEAT"
	TypeAgentError Type = "AGENT_ERROR"
)

// Role identifies who sent an event.
type Role string

const (
	RolePatient Role = "patient"
	RoleHelper  Role = "helper"
	RoleGP      Role = "gp"
	RoleSystem  Role = "system"
	RoleAgent   Role = "agent"
)

// explicitRoutes is the set of event types routed by a static
// event-type table (strategy A). Everything else external is routed
// by the diary's current phase (strategy B).
var explicitRoutes = map[Type]bool{
	TypeIntakeComplete:     true,
	TypeIntakeDataProvided: true,
	TypeClinicalComplete:   true,
	TypeBookingComplete:    true,
	TypeNeedsIntakeData:    true,
	TypeHeartbeat:          true,
	TypeDeteriorationAlert: true,
	TypeRescheduleRequest:  true,
	TypeGPQuery:            true,
	TypeGPResponse:         true,
	TypeGPReminder:         true,
	TypeHelperRegistration: true,
	TypeHelperVerified:     true,
	TypeAgentError:         true,
}

var phaseRoutes = map[Type]bool{
	TypeUserMessage:      true,
	TypeDocumentUploaded: true,
	TypeWebhook:          true,
}

// Envelope is the universal event wrapper. It is immutable after
// creation: the gateway only reads envelope metadata for routing and
// never inspects or mutates the payload.
type Envelope struct {
	EventID       string         `json:"event_id"`
	EventType     Type           `json:"event_type"`
	PatientID     string         `json:"patient_id"`
	Payload       map[string]any `json:"payload,omitempty"`
	Source        string         `json:"source,omitempty"`
	SenderID      string         `json:"sender_id,omitempty"`
	SenderRole    Role           `json:"sender_role"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`

	// ChainDepth tracks how many gateway loop-backs produced this
	// envelope. Internal bookkeeping, not part of the wire contract.
	ChainDepth int `json:"-"`
}

// IsExplicitRoute reports whether the envelope routes via the static
// event-type table.
func (e *Envelope) IsExplicitRoute() bool { return explicitRoutes[e.EventType] }

// IsPhaseRoute reports whether the envelope routes via the diary's
// current phase.
func (e *Envelope) IsPhaseRoute() bool { return phaseRoutes[e.EventType] }

// IsExternal reports whether the envelope originated outside the
// core. External events are subject to rate limiting; internal and
// system events bypass it.
func (e *Envelope) IsExternal() bool {
	return e.SenderRole == RolePatient || e.SenderRole == RoleHelper || e.SenderRole == RoleGP
}

// Text returns the payload "text" field, or "" when absent.
func (e *Envelope) Text() string {
	s, _ := e.Payload["text"].(string)
	return s
}

// Channel returns the payload "channel" field, defaulting to
// "websocket" so responses always have a dispatchable channel.
func (e *Envelope) Channel() string {
	if s, _ := e.Payload["channel"].(string); s != "" {
		return s
	}
	return "websocket"
}

// NewUserMessage builds an external message envelope.
func NewUserMessage(patientID, text string, opts ...Option) *Envelope {
	env := &Envelope{
		EventID:    uuid.NewString(),
		EventType:  TypeUserMessage,
		PatientID:  patientID,
		Payload:    map[string]any{"text": text, "channel": "websocket"},
		Source:     "websocket",
		SenderID:   "PATIENT",
		SenderRole: RolePatient,
		Timestamp:  time.Now().UTC(),
	}
	for _, o := range opts {
		o(env)
	}
	return env
}

// NewHandoff builds an internal agent-to-agent envelope. The
// correlation id must be inherited from the envelope that caused it.
func NewHandoff(t Type, patientID, sourceAgent string, payload map[string]any, correlationID string) *Envelope {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Envelope{
		EventID:       uuid.NewString(),
		EventType:     t,
		PatientID:     patientID,
		Payload:       payload,
		Source:        sourceAgent,
		SenderID:      sourceAgent,
		SenderRole:    RoleAgent,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	}
}

// NewHeartbeat builds a scheduler time-tick envelope.
func NewHeartbeat(patientID string, daysSinceAppointment int, milestone string) *Envelope {
	return &Envelope{
		EventID:   uuid.NewString(),
		EventType: TypeHeartbeat,
		PatientID: patientID,
		Payload: map[string]any{
			"days_since_appointment": daysSinceAppointment,
			"milestone":              milestone,
		},
		Source:     "heartbeat-scheduler",
		SenderID:   "system",
		SenderRole: RoleSystem,
		Timestamp:  time.Now().UTC(),
	}
}

// Option customizes envelope construction.
type Option func(*Envelope)

// WithSender overrides the sender identity on a user message.
func WithSender(senderID string, role Role) Option {
	return func(e *Envelope) {
		e.SenderID = senderID
		e.SenderRole = role
	}
}

// WithChannel overrides the originating channel.
func WithChannel(channel string) Option {
	return func(e *Envelope) {
		e.Payload["channel"] = channel
		e.Source = channel
	}
}

// WithCorrelation threads a logical journey across envelopes.
func WithCorrelation(id string) Option {
	return func(e *Envelope) { e.CorrelationID = id }
}
