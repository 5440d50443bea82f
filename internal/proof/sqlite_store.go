package proof

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on SQLite, following the same
// schema-in-Initialize()+CRUD shape as internal/policy.SQLiteStore and
// internal/escalation.SQLiteStore, adapted from the teacher's
// internal/trace/sqlite.go trace-append idiom.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("proof: open sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS proof_events (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		entity_id  TEXT NOT NULL,
		kind       TEXT NOT NULL,
		payload    TEXT,
		timestamp  INTEGER NOT NULL,
		prev_hash  TEXT NOT NULL,
		hash       TEXT NOT NULL,
		batch_id   TEXT
	);

	CREATE TABLE IF NOT EXISTS proof_batches (
		id          TEXT PRIMARY KEY,
		tenant_id   TEXT NOT NULL,
		root        TEXT NOT NULL,
		created_at  INTEGER NOT NULL,
		anchored_at INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_proof_events_entity ON proof_events(tenant_id, entity_id, timestamp);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_proof_events_hash ON proof_events(tenant_id, hash);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) InsertEvent(ctx context.Context, e *Event) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO proof_events
		(id, tenant_id, entity_id, kind, payload, timestamp, prev_hash, hash, batch_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''))`,
		e.ID, e.TenantID, e.EntityID, string(e.Kind), string(e.Payload), e.Timestamp, e.PrevHash, e.Hash, e.BatchID)
	if err != nil {
		return fmt.Errorf("proof: insert event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetEvent(ctx context.Context, tenantID, id string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, proofEventSelect+" WHERE tenant_id = ? AND id = ?", tenantID, id)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *SQLiteStore) GetEventByHash(ctx context.Context, tenantID, hash string) (*Event, error) {
	row := s.db.QueryRowContext(ctx, proofEventSelect+" WHERE tenant_id = ? AND hash = ?", tenantID, hash)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *SQLiteStore) LatestHash(ctx context.Context, tenantID, entityID string) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT hash FROM proof_events WHERE tenant_id = ? AND entity_id = ?
		ORDER BY timestamp DESC LIMIT 1`, tenantID, entityID).Scan(&hash)
	if err == sql.ErrNoRows {
		return GenesisHash, nil
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}

func (s *SQLiteStore) ListChain(ctx context.Context, tenantID, entityID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, proofEventSelect+" WHERE tenant_id = ? AND entity_id = ? ORDER BY timestamp ASC",
		tenantID, entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) InsertBatch(ctx context.Context, tenantID string, batch Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO proof_batches (id, tenant_id, root, created_at)
		VALUES (?, ?, ?, ?)`, batch.ID, tenantID, batch.Root, batch.CreatedAt); err != nil {
		return fmt.Errorf("proof: insert batch: %w", err)
	}

	for _, eventID := range batch.EventIDs {
		if _, err := tx.ExecContext(ctx, `UPDATE proof_events SET batch_id = ? WHERE tenant_id = ? AND id = ?`,
			batch.ID, tenantID, eventID); err != nil {
			return fmt.Errorf("proof: stamp batch on event %s: %w", eventID, err)
		}
	}

	return tx.Commit()
}

const proofEventSelect = `SELECT id, tenant_id, entity_id, kind, payload, timestamp, prev_hash, hash, COALESCE(batch_id, '')
	FROM proof_events`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var e Event
	var payload sql.NullString
	var kind string
	if err := row.Scan(&e.ID, &e.TenantID, &e.EntityID, &kind, &payload, &e.Timestamp, &e.PrevHash, &e.Hash, &e.BatchID); err != nil {
		return nil, err
	}
	e.Kind = Kind(kind)
	if payload.Valid {
		e.Payload = json.RawMessage(payload.String)
	}
	return &e, nil
}
