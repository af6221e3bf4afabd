// ABOUTME: Storage contract for diaries, archives, pending deliveries and dead letters
// ABOUTME: Save is compare-and-swap on a generation counter owned by the store

package store

import (
	"context"
	"errors"
	"time"

	"github.com/medforce/intake-gateway/internal/diary"
)

var (
	// ErrNotFound is returned when no diary exists for a patient.
	ErrNotFound = errors.New("diary not found")

	// ErrConflict is returned by Save when the caller's generation
	// is stale. The caller must reload and reapply.
	ErrConflict = errors.New("diary generation conflict")

	// ErrExists is returned by Create for a duplicate patient id.
	ErrExists = errors.New("diary already exists")
)

// MaxDeadLetters bounds the dead-letter table. Inserting past the cap
// evicts the oldest entries.
const MaxDeadLetters = 1000

// PendingDelivery is an agent response that could not be dispatched
// because no channel adapter was registered. It is held for later
// delivery.
type PendingDelivery struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patient_id"`
	Channel     string    `json:"channel"`
	Text        string    `json:"text"`
	CreatedAt   time.Time `json:"created_at"`
	DeliveredAt time.Time `json:"delivered_at,omitzero"`
}

// DeadLetter is a failed event captured with enough context to
// diagnose and replay it.
type DeadLetter struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	PatientID string    `json:"patient_id"`
	Agent     string    `json:"agent,omitempty"`
	Error     string    `json:"error"`
	Envelope  []byte    `json:"envelope,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists diaries and the gateway's side tables.
type Store interface {
	// Create inserts a new diary at generation 1.
	Create(ctx context.Context, d *diary.Diary) error

	// Load returns the diary and its current generation.
	Load(ctx context.Context, patientID string) (*diary.Diary, int64, error)

	// Save writes the diary if and only if the stored generation
	// still equals gen, returning the new generation. A stale gen
	// yields ErrConflict.
	Save(ctx context.Context, d *diary.Diary, gen int64) (int64, error)

	// ListByPhase returns patient ids currently in the given phase.
	ListByPhase(ctx context.Context, phase diary.Phase) ([]string, error)

	// ListAll returns every known patient id.
	ListAll(ctx context.Context) ([]string, error)

	// SpillConversation appends evicted conversation entries to the
	// patient's archive.
	SpillConversation(ctx context.Context, patientID string, entries []diary.ConversationEntry) error

	// ArchivedConversation returns spilled entries, oldest first.
	ArchivedConversation(ctx context.Context, patientID string) ([]diary.ConversationEntry, error)

	// SavePendingDelivery holds an undeliverable response.
	SavePendingDelivery(ctx context.Context, pd PendingDelivery) error

	// ListPendingDeliveries returns undelivered responses for a
	// patient, oldest first.
	ListPendingDeliveries(ctx context.Context, patientID string) ([]PendingDelivery, error)

	// MarkDelivered stamps a pending delivery as sent.
	MarkDelivered(ctx context.Context, id string) error

	// AppendDeadLetter records a failed event, evicting the oldest
	// past MaxDeadLetters.
	AppendDeadLetter(ctx context.Context, dl DeadLetter) error

	// ListDeadLetters returns the newest dead letters up to limit.
	ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error)

	// GetDeadLetter fetches one dead letter for replay.
	GetDeadLetter(ctx context.Context, id string) (DeadLetter, error)

	Close() error
}
