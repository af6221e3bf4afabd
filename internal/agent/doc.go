// Package agent holds the specialist agents that drive a patient's
// journey.
//
// # Overview
//
// Each agent owns one slice of the journey and is selected by the
// router from the diary's phase or the event's type. An agent is pure
// with respect to storage: it receives the envelope and the loaded
// diary, mutates the diary, and returns a Result with responses to
// send and follow-up events to feed back through the gateway. The
// gateway owns persistence and delivery.
//
// # Agents
//
//   - IntakeAgent: collects NHS number, date of birth and contact
//     details, then hands off to clinical.
//   - ClinicalAgent: walks the clinical sub-phases from referral
//     analysis through questions and documents to risk scoring.
//   - BookingAgent: offers slots by risk priority and handles
//     confirmation and reschedules.
//   - MonitoringAgent: post-appointment check-ins, milestone prompts
//     and stalled-assessment escalation.
//   - GPCommsAgent: files queries to the referring practice and chases
//     unanswered ones.
//   - HelperAgent: registers and verifies patient helpers and their
//     per-event grants.
//
// # Risk Scoring
//
// RiskScorer classifies clinical risk. Deterministic lab thresholds
// and red-flag keywords always win; the optional Reasoner is consulted
// only when no rule fires, and its absence or failure falls back to a
// conservative medium.
//
// # Re-entrancy
//
// Agents may see the same event twice when a save conflict forces the
// gateway to reload and reapply, so every handler is written to be
// idempotent on a re-run against a fresher diary.
package agent
