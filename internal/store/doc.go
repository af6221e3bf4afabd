// Package store provides persistent storage for diaries using SQLite.
//
// # Architecture
//
// The Store interface covers diary CRUD, phase listings, conversation
// archival, pending deliveries and the dead-letter log. SQLiteStore
// implements all of it in a single struct over modernc.org/sqlite.
//
// # Optimistic Concurrency
//
// Load returns the diary together with its generation. Save takes that
// generation back and bumps it atomically:
//
//	UPDATE diaries SET body = ?, generation = generation + 1
//	WHERE patient_id = ? AND generation = ?
//
// A zero-row update means another writer got there first; Save returns
// ErrConflict and the caller reloads and reapplies.
//
// # SQLite Configuration
//
// WAL mode with foreign keys on:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Diaries are stored as JSON bodies keyed by patient ID; dead letters
// and pending deliveries get their own tables. The dead-letter table is
// capped at MaxDeadLetters, oldest first out.
//
// # Errors
//
//   - ErrNotFound: no diary for that patient
//   - ErrExists: Create on an existing patient
//   - ErrConflict: stale generation on Save
//
// All methods accept context.Context.
package store
