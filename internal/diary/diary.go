// ABOUTME: Per-patient diary document, the single source of truth for a journey
// ABOUTME: Agents mutate a copy; the store persists it with generation CAS

package diary

import (
	"time"
)

// Phase is the top-level journey state.
type Phase string

const (
	PhaseIntake     Phase = "intake"
	PhaseClinical   Phase = "clinical"
	PhaseBooking    Phase = "booking"
	PhaseMonitoring Phase = "monitoring"
	PhaseClosed     Phase = "closed"
)

// RiskLevel is the clinical risk classification.
type RiskLevel string

const (
	RiskUnknown RiskLevel = ""
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
)

// ClinicalSubPhase is the assessment state machine inside the
// clinical phase.
type ClinicalSubPhase string

const (
	SubPhaseNotStarted       ClinicalSubPhase = "not_started"
	SubPhaseAnalyzing        ClinicalSubPhase = "analyzing_referral"
	SubPhaseAskingQuestions  ClinicalSubPhase = "asking_questions"
	SubPhaseCollectingDocs   ClinicalSubPhase = "collecting_documents"
	SubPhaseScoringRisk      ClinicalSubPhase = "scoring_risk"
	SubPhaseComplete         ClinicalSubPhase = "complete"
)

const (
	// MaxConversationEntries caps the in-diary conversation log.
	// Older entries spill to the archive store.
	MaxConversationEntries = 100

	// MaxMonitoringEntries caps retained check-in records.
	MaxMonitoringEntries = 50

	// MaxBackwardLoops caps clinical -> intake data round trips
	// before the clinical agent must proceed with what it has.
	MaxBackwardLoops = 3
)

// Contact is the patient's own contact details, used by the identity
// resolver's contact index.
type Contact struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
	DOB   string `json:"dob,omitempty"`
}

// ConversationEntry is one turn of patient-visible dialogue.
type ConversationEntry struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Channel   string    `json:"channel,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// IntakeSection tracks required demographic and referral fields.
type IntakeSection struct {
	Required  []string          `json:"required"`
	Collected map[string]string `json:"collected"`
	// Asked records fields the agent has already asked for, so a
	// patient is never asked the same question twice.
	Asked     map[string]bool `json:"asked"`
	LastAsked string          `json:"last_asked,omitempty"`
	// LoopFields are extra fields requested by a later phase; once
	// collected they are handed back rather than completing intake.
	LoopFields  []string  `json:"loop_fields,omitempty"`
	Complete    bool      `json:"complete"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// Missing returns required fields not yet collected, in declaration
// order.
func (s *IntakeSection) Missing() []string {
	var out []string
	for _, f := range s.Required {
		if _, ok := s.Collected[f]; !ok {
			out = append(out, f)
		}
	}
	return out
}

// Question is one clinical follow-up question.
type Question struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Answer     string    `json:"answer,omitempty"`
	AskedAt    time.Time `json:"asked_at"`
	AnsweredAt time.Time `json:"answered_at,omitzero"`
}

// Document is a received clinical document.
type Document struct {
	Name       string    `json:"name"`
	Kind       string    `json:"kind,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// ClinicalSection holds the assessment state machine.
type ClinicalSection struct {
	SubPhase          ClinicalSubPhase   `json:"sub_phase"`
	ReferralSummary   string             `json:"referral_summary,omitempty"`
	Questions         []Question         `json:"questions,omitempty"`
	Documents         []Document         `json:"documents,omitempty"`
	RequestedDocs     []string           `json:"requested_docs,omitempty"`
	LabResults        map[string]float64 `json:"lab_results,omitempty"`
	BackwardLoopCount int                `json:"backward_loop_count"`
	FirstLoopAt       time.Time          `json:"first_loop_at,omitzero"`
	RiskRationale     string             `json:"risk_rationale,omitempty"`
	ScoredAt          time.Time          `json:"scored_at,omitzero"`
}

// UnansweredQuestions returns questions still awaiting an answer.
func (s *ClinicalSection) UnansweredQuestions() []Question {
	var out []Question
	for _, q := range s.Questions {
		if q.AnsweredAt.IsZero() {
			out = append(out, q)
		}
	}
	return out
}

// Slot is an offered appointment slot.
type Slot struct {
	ID    string    `json:"id"`
	Start time.Time `json:"start"`
	Venue string    `json:"venue,omitempty"`
}

// Reschedule records one completed reschedule.
type Reschedule struct {
	Reason      string    `json:"reason,omitempty"`
	OldStart    time.Time `json:"old_start"`
	NewStart    time.Time `json:"new_start"`
	RequestedAt time.Time `json:"requested_at"`
}

// BookingSection holds scheduling state.
type BookingSection struct {
	Priority      string       `json:"priority,omitempty"`
	WindowDays    int          `json:"window_days,omitempty"`
	OfferedSlots  []Slot       `json:"offered_slots,omitempty"`
	SelectedSlot  *Slot        `json:"selected_slot,omitempty"`
	ConfirmedAt   time.Time    `json:"confirmed_at,omitzero"`
	AppointmentAt time.Time    `json:"appointment_at,omitzero"`
	Reschedules   []Reschedule `json:"reschedules,omitempty"`
}

// CheckIn is one monitoring check-in record.
type CheckIn struct {
	Milestone int       `json:"milestone,omitempty"`
	Note      string    `json:"note,omitempty"`
	Concern   bool      `json:"concern"`
	Timestamp time.Time `json:"timestamp"`
}

// Assessment is an in-flight deterioration assessment. It is cleared
// once resolved.
type Assessment struct {
	StartedAt time.Time         `json:"started_at"`
	Trigger   string            `json:"trigger,omitempty"`
	Questions []string          `json:"questions,omitempty"`
	Answers   map[string]string `json:"answers,omitempty"`
	Severity  string            `json:"severity,omitempty"`
	Forced    bool              `json:"forced,omitempty"`
	DoneAt    time.Time         `json:"done_at,omitzero"`
}

// MonitoringSection holds post-appointment follow-up state.
type MonitoringSection struct {
	Baseline        map[string]string `json:"baseline,omitempty"`
	BaselineAt      time.Time         `json:"baseline_at,omitzero"`
	Entries         []CheckIn         `json:"entries,omitempty"`
	FiredMilestones map[int]bool      `json:"fired_milestones,omitempty"`
	Assessment      *Assessment       `json:"assessment,omitempty"`
	CommPlan        string            `json:"comm_plan,omitempty"`
}

// GPQuery is one outbound question to the referring GP.
type GPQuery struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	SentAt       time.Time `json:"sent_at"`
	Response     string    `json:"response,omitempty"`
	RespondedAt  time.Time `json:"responded_at,omitzero"`
	ReminderSent bool      `json:"reminder_sent,omitempty"`
}

// GPSection holds the referring-GP communication log.
type GPSection struct {
	GPID    string    `json:"gp_id,omitempty"`
	Name    string    `json:"name,omitempty"`
	Email   string    `json:"email,omitempty"`
	Queries []GPQuery `json:"queries,omitempty"`
}

// PendingQueries returns queries with no response yet.
func (s *GPSection) PendingQueries() []GPQuery {
	var out []GPQuery
	for _, q := range s.Queries {
		if q.RespondedAt.IsZero() {
			out = append(out, q)
		}
	}
	return out
}

// Helper is a registered delegate (family member, carer) who may act
// on the patient's behalf within granted permissions.
type Helper struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Email        string    `json:"email,omitempty"`
	Relationship string    `json:"relationship,omitempty"`
	Verified     bool      `json:"verified"`
	Permissions  []string  `json:"permissions,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// HasPermission reports whether the helper holds the named grant.
func (h *Helper) HasPermission(p string) bool {
	for _, g := range h.Permissions {
		if g == p {
			return true
		}
	}
	return false
}

// Diary is the complete journey document for one patient. The
// generation counter lives in the store, not here: the document
// itself carries no version.
type Diary struct {
	PatientID      string             `json:"patient_id"`
	Phase          Phase              `json:"phase"`
	RiskLevel      RiskLevel          `json:"risk_level,omitempty"`
	PhaseEnteredAt time.Time          `json:"phase_entered_at"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
	Contact        Contact            `json:"contact"`
	Intake         IntakeSection      `json:"intake"`
	Clinical       ClinicalSection    `json:"clinical"`
	Booking        BookingSection     `json:"booking"`
	Monitoring     MonitoringSection  `json:"monitoring"`
	GP             GPSection          `json:"gp"`
	Helpers        map[string]*Helper `json:"helpers,omitempty"`
	Conversation   []ConversationEntry `json:"conversation,omitempty"`
	// StaleAlerts keys one-time nudges, e.g. "phase_stale_clinical".
	StaleAlerts map[string]bool `json:"stale_alerts,omitempty"`
}

// DefaultRequiredFields is the intake checklist for a new journey.
var DefaultRequiredFields = []string{
	"full_name", "date_of_birth", "nhs_number", "phone", "gp_practice",
}

// New creates a diary in the intake phase.
func New(patientID string) *Diary {
	now := time.Now().UTC()
	return &Diary{
		PatientID:      patientID,
		Phase:          PhaseIntake,
		PhaseEnteredAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
		Intake: IntakeSection{
			Required:  append([]string(nil), DefaultRequiredFields...),
			Collected: map[string]string{},
			Asked:     map[string]bool{},
		},
		Clinical: ClinicalSection{SubPhase: SubPhaseNotStarted},
		Helpers:  map[string]*Helper{},
	}
}

// TransitionTo moves the diary to a new phase and stamps the entry
// time. Transitioning to the current phase refreshes the stamp.
func (d *Diary) TransitionTo(p Phase) {
	d.Phase = p
	d.PhaseEnteredAt = time.Now().UTC()
	d.Touch()
}

// Touch updates the modification timestamp.
func (d *Diary) Touch() { d.UpdatedAt = time.Now().UTC() }

// AppendConversation adds an entry to the dialogue log and returns
// any entries evicted past the cap, oldest first. The caller is
// responsible for spilling evicted entries to the archive.
func (d *Diary) AppendConversation(e ConversationEntry) []ConversationEntry {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	d.Conversation = append(d.Conversation, e)
	d.Touch()
	if n := len(d.Conversation) - MaxConversationEntries; n > 0 {
		spilled := append([]ConversationEntry(nil), d.Conversation[:n]...)
		d.Conversation = append(d.Conversation[:0], d.Conversation[n:]...)
		return spilled
	}
	return nil
}

// AppendCheckIn records a monitoring check-in, dropping the oldest
// past the cap.
func (d *Diary) AppendCheckIn(c CheckIn) {
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now().UTC()
	}
	d.Monitoring.Entries = append(d.Monitoring.Entries, c)
	if n := len(d.Monitoring.Entries) - MaxMonitoringEntries; n > 0 {
		d.Monitoring.Entries = append(d.Monitoring.Entries[:0], d.Monitoring.Entries[n:]...)
	}
	d.Touch()
}

// MarkStaleAlert records a one-time alert key. Returns false if the
// alert already fired.
func (d *Diary) MarkStaleAlert(key string) bool {
	if d.StaleAlerts[key] {
		return false
	}
	if d.StaleAlerts == nil {
		d.StaleAlerts = map[string]bool{}
	}
	d.StaleAlerts[key] = true
	d.Touch()
	return true
}

// FindHelper looks a helper up by id.
func (d *Diary) FindHelper(id string) (*Helper, bool) {
	h, ok := d.Helpers[id]
	return h, ok
}

// subPhaseOrder defines legal forward progression through the
// clinical assessment.
var subPhaseOrder = map[ClinicalSubPhase]int{
	SubPhaseNotStarted:      0,
	SubPhaseAnalyzing:       1,
	SubPhaseAskingQuestions: 2,
	SubPhaseCollectingDocs:  3,
	SubPhaseScoringRisk:     4,
	SubPhaseComplete:        5,
}

// AdvanceSubPhase moves the clinical sub-phase forward. Moving
// backward or skipping unknown states is rejected.
func (d *Diary) AdvanceSubPhase(to ClinicalSubPhase) bool {
	cur, ok1 := subPhaseOrder[d.Clinical.SubPhase]
	next, ok2 := subPhaseOrder[to]
	if !ok1 || !ok2 || next < cur {
		return false
	}
	d.Clinical.SubPhase = to
	d.Touch()
	return true
}
