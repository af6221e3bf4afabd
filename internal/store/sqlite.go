// ABOUTME: SQLite-backed Store using JSON diary documents and a generation column
// ABOUTME: WAL mode, single writer per process, schema created on open

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/medforce/intake-gateway/internal/diary"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens (creating if needed) the database at path and
// ensures the schema exists.
func NewSQLite(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// modernc's driver is not safe for concurrent writers on one
	// connection pool without serialization.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: logger.With("component", "store")}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS diaries (
		patient_id TEXT PRIMARY KEY,
		phase      TEXT NOT NULL,
		document   TEXT NOT NULL,
		generation INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_diaries_phase ON diaries(phase);

	CREATE TABLE IF NOT EXISTS conversation_archive (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		patient_id TEXT NOT NULL,
		entry      TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_archive_patient ON conversation_archive(patient_id);

	CREATE TABLE IF NOT EXISTS pending_deliveries (
		id           TEXT PRIMARY KEY,
		patient_id   TEXT NOT NULL,
		channel      TEXT NOT NULL,
		body         TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		delivered_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_pending_patient ON pending_deliveries(patient_id, delivered_at);

	CREATE TABLE IF NOT EXISTS dead_letters (
		id         TEXT PRIMARY KEY,
		event_id   TEXT NOT NULL,
		event_type TEXT NOT NULL,
		patient_id TEXT NOT NULL,
		agent      TEXT,
		error      TEXT NOT NULL,
		envelope   TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_dead_letters_created ON dead_letters(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Create inserts a new diary at generation 1.
func (s *SQLiteStore) Create(ctx context.Context, d *diary.Diary) error {
	doc, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshaling diary: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO diaries (patient_id, phase, document, generation, updated_at) VALUES (?, ?, ?, 1, ?)`,
		d.PatientID, string(d.Phase), string(doc), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("creating diary for %s: %w", d.PatientID, ErrExists)
		}
		return fmt.Errorf("creating diary: %w", err)
	}
	return nil
}

// Load returns the diary document and its generation.
func (s *SQLiteStore) Load(ctx context.Context, patientID string) (*diary.Diary, int64, error) {
	var doc string
	var gen int64
	err := s.db.QueryRowContext(ctx,
		`SELECT document, generation FROM diaries WHERE patient_id = ?`, patientID).Scan(&doc, &gen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, fmt.Errorf("loading diary for %s: %w", patientID, ErrNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("loading diary: %w", err)
	}
	var d diary.Diary
	if err := json.Unmarshal([]byte(doc), &d); err != nil {
		return nil, 0, fmt.Errorf("unmarshaling diary: %w", err)
	}
	return &d, gen, nil
}

// Save writes the diary only when the stored generation matches gen.
func (s *SQLiteStore) Save(ctx context.Context, d *diary.Diary, gen int64) (int64, error) {
	doc, err := json.Marshal(d)
	if err != nil {
		return 0, fmt.Errorf("marshaling diary: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE diaries SET document = ?, phase = ?, generation = generation + 1, updated_at = ?
		 WHERE patient_id = ? AND generation = ?`,
		string(doc), string(d.Phase), time.Now().UTC().Format(time.RFC3339Nano), d.PatientID, gen)
	if err != nil {
		return 0, fmt.Errorf("saving diary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("saving diary: %w", err)
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM diaries WHERE patient_id = ?`, d.PatientID).Scan(&exists); errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("saving diary for %s: %w", d.PatientID, ErrNotFound)
		}
		return 0, fmt.Errorf("saving diary for %s at generation %d: %w", d.PatientID, gen, ErrConflict)
	}
	return gen + 1, nil
}

// ListByPhase returns patient ids currently in the given phase.
func (s *SQLiteStore) ListByPhase(ctx context.Context, phase diary.Phase) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT patient_id FROM diaries WHERE phase = ? ORDER BY patient_id`, string(phase))
	if err != nil {
		return nil, fmt.Errorf("listing diaries by phase: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// ListAll returns every known patient id.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT patient_id FROM diaries ORDER BY patient_id`)
	if err != nil {
		return nil, fmt.Errorf("listing diaries: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning patient id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SpillConversation appends evicted conversation entries to the
// archive table.
func (s *SQLiteStore) SpillConversation(ctx context.Context, patientID string, entries []diary.ConversationEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning archive transaction: %w", err)
	}
	defer tx.Rollback()

	for _, e := range entries {
		blob, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshaling archive entry: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO conversation_archive (patient_id, entry, created_at) VALUES (?, ?, ?)`,
			patientID, string(blob), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("archiving conversation entry: %w", err)
		}
	}
	return tx.Commit()
}

// ArchivedConversation returns spilled entries, oldest first.
func (s *SQLiteStore) ArchivedConversation(ctx context.Context, patientID string) ([]diary.ConversationEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry FROM conversation_archive WHERE patient_id = ? ORDER BY id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("loading archived conversation: %w", err)
	}
	defer rows.Close()

	var out []diary.ConversationEntry
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scanning archive entry: %w", err)
		}
		var e diary.ConversationEntry
		if err := json.Unmarshal([]byte(blob), &e); err != nil {
			return nil, fmt.Errorf("unmarshaling archive entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SavePendingDelivery holds an undeliverable response for later.
func (s *SQLiteStore) SavePendingDelivery(ctx context.Context, pd PendingDelivery) error {
	created := pd.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_deliveries (id, patient_id, channel, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		pd.ID, pd.PatientID, pd.Channel, pd.Text, created.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("saving pending delivery: %w", err)
	}
	return nil
}

// ListPendingDeliveries returns undelivered responses, oldest first.
func (s *SQLiteStore) ListPendingDeliveries(ctx context.Context, patientID string) ([]PendingDelivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, patient_id, channel, body, created_at FROM pending_deliveries
		 WHERE patient_id = ? AND delivered_at IS NULL ORDER BY created_at`, patientID)
	if err != nil {
		return nil, fmt.Errorf("listing pending deliveries: %w", err)
	}
	defer rows.Close()

	var out []PendingDelivery
	for rows.Next() {
		var pd PendingDelivery
		var created string
		if err := rows.Scan(&pd.ID, &pd.PatientID, &pd.Channel, &pd.Text, &created); err != nil {
			return nil, fmt.Errorf("scanning pending delivery: %w", err)
		}
		pd.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, pd)
	}
	return out, rows.Err()
}

// MarkDelivered stamps a pending delivery as sent.
func (s *SQLiteStore) MarkDelivered(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pending_deliveries SET delivered_at = ? WHERE id = ? AND delivered_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("marking delivery: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("marking delivery %s: %w", id, ErrNotFound)
	}
	return nil
}

// AppendDeadLetter records a failed event, evicting the oldest rows
// past MaxDeadLetters.
func (s *SQLiteStore) AppendDeadLetter(ctx context.Context, dl DeadLetter) error {
	created := dl.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning dead-letter transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO dead_letters (id, event_id, event_type, patient_id, agent, error, envelope, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		dl.ID, dl.EventID, dl.EventType, dl.PatientID, dl.Agent, dl.Error, string(dl.Envelope),
		created.Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("inserting dead letter: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM dead_letters WHERE id NOT IN
		 (SELECT id FROM dead_letters ORDER BY created_at DESC, id DESC LIMIT ?)`, MaxDeadLetters); err != nil {
		return fmt.Errorf("trimming dead letters: %w", err)
	}
	return tx.Commit()
}

// ListDeadLetters returns the newest dead letters up to limit.
func (s *SQLiteStore) ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 || limit > MaxDeadLetters {
		limit = MaxDeadLetters
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_id, event_type, patient_id, agent, error, envelope, created_at
		 FROM dead_letters ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		dl, err := scanDeadLetter(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	return out, rows.Err()
}

// GetDeadLetter fetches one dead letter by id.
func (s *SQLiteStore) GetDeadLetter(ctx context.Context, id string) (DeadLetter, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, event_id, event_type, patient_id, agent, error, envelope, created_at
		 FROM dead_letters WHERE id = ?`, id)
	dl, err := scanDeadLetter(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return DeadLetter{}, fmt.Errorf("dead letter %s: %w", id, ErrNotFound)
	}
	return dl, err
}

func scanDeadLetter(scan func(...any) error) (DeadLetter, error) {
	var dl DeadLetter
	var envelope, created string
	if err := scan(&dl.ID, &dl.EventID, &dl.EventType, &dl.PatientID, &dl.Agent, &dl.Error, &envelope, &created); err != nil {
		return DeadLetter{}, err
	}
	dl.Envelope = []byte(envelope)
	dl.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return dl, nil
}

func isUniqueViolation(err error) bool {
	// modernc surfaces SQLITE_CONSTRAINT as a plain error string.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
