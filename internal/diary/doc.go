// Package diary defines the patient diary, the single document that
// accumulates everything known about one patient's journey.
//
// # Phases
//
// A diary is always in exactly one phase:
//
//	intake -> clinical -> booking -> monitoring -> closed
//
// TransitionTo enforces that order (closed is terminal). Within the
// clinical phase a sub-phase machine tracks progress from
// analyzing_referral through asking_questions, collecting_documents
// and scoring_risk to complete; AdvanceSubPhase rejects regressions.
//
// # Sections
//
// Each phase owns a section of the document: IntakeSection (identity
// details and contacts), ClinicalSection (referral summary, questions,
// documents, labs, risk), BookingSection (offered slots, appointment,
// reschedules), MonitoringSection (check-ins, assessments, fired
// milestones) and GPSection (queries to the referring practice).
// Helpers and their per-event-type grants live on the diary root.
//
// # Conversation
//
// Conversation holds the rolling message history. AppendConversation
// trims to MaxConversationEntries and returns the overflow so the
// caller can spill it to archival storage.
//
// # Concurrency
//
// The diary itself carries no locks. The store hands out a generation
// with each Load and rejects a Save whose generation is stale; the
// gateway serializes writers per patient on top of that.
package diary
