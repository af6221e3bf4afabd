// ABOUTME: Deterministic event routing, explicit table first then diary phase
// ABOUTME: No routing decision ever consults message content

package gateway

import (
	"errors"
	"fmt"

	"github.com/medforce/intake-gateway/internal/diary"
	"github.com/medforce/intake-gateway/internal/event"
)

var (
	// ErrClosedJourney means the journey accepts no further events.
	ErrClosedJourney = errors.New("journey closed")

	// ErrNoRoute means neither routing strategy produced an agent.
	ErrNoRoute = errors.New("no route for event")
)

// explicitAgent routes handoff and system events by type alone.
var explicitAgent = map[event.Type]string{
	event.TypeIntakeComplete:     "clinical",
	event.TypeIntakeDataProvided: "clinical",
	event.TypeClinicalComplete:   "booking",
	event.TypeBookingComplete:    "monitoring",
	event.TypeNeedsIntakeData:    "intake",
	event.TypeHeartbeat:          "monitoring",
	event.TypeDeteriorationAlert: "clinical",
	event.TypeRescheduleRequest:  "booking",
	event.TypeGPQuery:            "gpcomms",
	event.TypeGPResponse:         "clinical",
	event.TypeGPReminder:         "gpcomms",
	event.TypeHelperRegistration: "helpers",
	event.TypeHelperVerified:     "helpers",
}

// phaseAgent routes external events by the journey's current phase.
var phaseAgent = map[diary.Phase]string{
	diary.PhaseIntake:     "intake",
	diary.PhaseClinical:   "clinical",
	diary.PhaseBooking:    "booking",
	diary.PhaseMonitoring: "monitoring",
}

// route picks the agent for an envelope given the journey's phase.
func route(env *event.Envelope, phase diary.Phase) (string, error) {
	if name, ok := explicitAgent[env.EventType]; ok {
		return name, nil
	}
	if env.IsPhaseRoute() {
		if phase == diary.PhaseClosed {
			return "", fmt.Errorf("routing %s for phase %s: %w", env.EventType, phase, ErrClosedJourney)
		}
		if name, ok := phaseAgent[phase]; ok {
			return name, nil
		}
	}
	return "", fmt.Errorf("routing %s for phase %s: %w", env.EventType, phase, ErrNoRoute)
}
