// ABOUTME: Tests for the SQLite store, generation CAS semantics in particular

package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medforce/intake-gateway/internal/diary"
)

func setupStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "intake.db"), slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndLoad(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	d := diary.New("patient-1")
	d.Contact.Phone = "+447700900123"
	require.NoError(t, s.Create(ctx, d))

	got, gen, err := s.Load(ctx, "patient-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
	assert.Equal(t, diary.PhaseIntake, got.Phase)
	assert.Equal(t, "+447700900123", got.Contact.Phone)
}

func TestCreateDuplicate(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, diary.New("patient-1")))
	err := s.Create(ctx, diary.New("patient-1"))
	assert.ErrorIs(t, err, ErrExists)
}

func TestLoadMissing(t *testing.T) {
	s := setupStore(t)

	_, _, err := s.Load(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveIncrementsGeneration(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	d := diary.New("patient-1")
	require.NoError(t, s.Create(ctx, d))

	d.TransitionTo(diary.PhaseClinical)
	gen, err := s.Save(ctx, d, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen)

	got, gotGen, err := s.Load(ctx, "patient-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), gotGen)
	assert.Equal(t, diary.PhaseClinical, got.Phase)
}

func TestSaveStaleGenerationConflicts(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	d := diary.New("patient-1")
	require.NoError(t, s.Create(ctx, d))

	_, err := s.Save(ctx, d, 1)
	require.NoError(t, err)

	// A second writer holding the old generation must lose.
	_, err = s.Save(ctx, d, 1)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSaveExactlyOneWriterWins(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, diary.New("patient-1")))
	base, gen, err := s.Load(ctx, "patient-1")
	require.NoError(t, err)

	type result struct{ err error }
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			d := *base
			_, err := s.Save(ctx, &d, gen)
			results <- result{err}
		}()
	}

	var conflicts, wins int
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err == nil {
			wins++
		} else {
			assert.ErrorIs(t, r.err, ErrConflict)
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)
}

func TestSaveMissingDiary(t *testing.T) {
	s := setupStore(t)

	_, err := s.Save(context.Background(), diary.New("ghost"), 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListByPhase(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	for _, id := range []string{"p-a", "p-b", "p-c"} {
		require.NoError(t, s.Create(ctx, diary.New(id)))
	}
	d, gen, err := s.Load(ctx, "p-b")
	require.NoError(t, err)
	d.TransitionTo(diary.PhaseMonitoring)
	_, err = s.Save(ctx, d, gen)
	require.NoError(t, err)

	monitoring, err := s.ListByPhase(ctx, diary.PhaseMonitoring)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-b"}, monitoring)

	intake, err := s.ListByPhase(ctx, diary.PhaseIntake)
	require.NoError(t, err)
	assert.Equal(t, []string{"p-a", "p-c"}, intake)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestConversationArchive(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	entries := []diary.ConversationEntry{
		{Role: "patient", Text: "first", Timestamp: time.Now().UTC()},
		{Role: "agent", Text: "second", Timestamp: time.Now().UTC()},
	}
	require.NoError(t, s.SpillConversation(ctx, "patient-1", entries))
	require.NoError(t, s.SpillConversation(ctx, "patient-1", nil))

	got, err := s.ArchivedConversation(ctx, "patient-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Text)
	assert.Equal(t, "second", got[1].Text)
}

func TestPendingDeliveries(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	pd := PendingDelivery{ID: "pd-1", PatientID: "patient-1", Channel: "sms", Text: "hello"}
	require.NoError(t, s.SavePendingDelivery(ctx, pd))

	pending, err := s.ListPendingDeliveries(ctx, "patient-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "sms", pending[0].Channel)

	require.NoError(t, s.MarkDelivered(ctx, "pd-1"))
	pending, err = s.ListPendingDeliveries(ctx, "patient-1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.ErrorIs(t, s.MarkDelivered(ctx, "pd-1"), ErrNotFound)
}

func TestDeadLetters(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	dl := DeadLetter{
		ID: "dl-1", EventID: "evt-1", EventType: "USER_MESSAGE",
		PatientID: "patient-1", Agent: "clinical", Error: "boom",
		Envelope: []byte(`{"event_id":"evt-1"}`),
	}
	require.NoError(t, s.AppendDeadLetter(ctx, dl))

	list, err := s.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "boom", list[0].Error)

	got, err := s.GetDeadLetter(ctx, "dl-1")
	require.NoError(t, err)
	assert.Equal(t, "evt-1", got.EventID)

	_, err = s.GetDeadLetter(ctx, "dl-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeadLettersBounded(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < MaxDeadLetters+10; i++ {
		dl := DeadLetter{
			ID: fmt.Sprintf("dl-%04d", i), EventID: fmt.Sprintf("evt-%d", i),
			EventType: "USER_MESSAGE", PatientID: "patient-1", Error: "boom",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, s.AppendDeadLetter(ctx, dl))
	}

	list, err := s.ListDeadLetters(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, list, MaxDeadLetters)
	// Oldest entries evicted.
	_, err = s.GetDeadLetter(ctx, "dl-0000")
	assert.ErrorIs(t, err, ErrNotFound)
}
