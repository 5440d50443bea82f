package trust

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store on SQLite, following the same
// schema-in-Initialize()+CRUD shape as internal/policy.SQLiteStore and
// internal/escalation.SQLiteStore: one row per (tenant, entity) trust
// record, plus an append-only signal log used for dedup and audit replay.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("trust: open sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trust_records (
		tenant_id     TEXT NOT NULL,
		entity_id     TEXT NOT NULL,
		components    TEXT NOT NULL,
		raw_counters  TEXT NOT NULL,
		compliance    TEXT NOT NULL,
		identity      TEXT NOT NULL,
		context       TEXT NOT NULL,
		last_activity DATETIME,
		score         INTEGER NOT NULL DEFAULT 0,
		band          TEXT NOT NULL DEFAULT 'T0',
		PRIMARY KEY (tenant_id, entity_id)
	);

	CREATE TABLE IF NOT EXISTS trust_signals (
		id        TEXT NOT NULL,
		source    TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		type      TEXT NOT NULL,
		value     INTEGER NOT NULL,
		weight    REAL NOT NULL,
		metadata  TEXT,
		timestamp DATETIME NOT NULL,
		PRIMARY KEY (source, id)
	);

	CREATE INDEX IF NOT EXISTS idx_trust_signals_entity ON trust_signals(entity_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

// GetRecord returns nil, nil if no record exists yet for the entity — a
// fresh agent starts from the zero Record, per Engine.Effective's handling.
func (s *SQLiteStore) GetRecord(ctx context.Context, tenantID, entityID string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT components, raw_counters, compliance, identity, context,
		last_activity, score, band FROM trust_records WHERE tenant_id = ? AND entity_id = ?`,
		tenantID, entityID)

	var componentsJSON, countersJSON, complianceJSON, identityJSON, contextJSON string
	var lastActivity sql.NullTime
	var score int
	var band string

	err := row.Scan(&componentsJSON, &countersJSON, &complianceJSON, &identityJSON, &contextJSON,
		&lastActivity, &score, &band)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("trust: get record: %w", err)
	}

	rec := &Record{TenantID: tenantID, EntityID: entityID, Score: score}
	if lastActivity.Valid {
		rec.LastActivity = lastActivity.Time
	}
	rec.Band = parseBand(band)
	if err := json.Unmarshal([]byte(componentsJSON), &rec.Components); err != nil {
		return nil, fmt.Errorf("trust: unmarshal components: %w", err)
	}
	if err := json.Unmarshal([]byte(countersJSON), &rec.RawCounters); err != nil {
		return nil, fmt.Errorf("trust: unmarshal raw counters: %w", err)
	}
	if err := json.Unmarshal([]byte(complianceJSON), &rec.Compliance); err != nil {
		return nil, fmt.Errorf("trust: unmarshal compliance: %w", err)
	}
	if err := json.Unmarshal([]byte(identityJSON), &rec.Identity); err != nil {
		return nil, fmt.Errorf("trust: unmarshal identity: %w", err)
	}
	if err := json.Unmarshal([]byte(contextJSON), &rec.Context); err != nil {
		return nil, fmt.Errorf("trust: unmarshal context: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) PutRecord(ctx context.Context, rec *Record) error {
	componentsJSON, err := json.Marshal(rec.Components)
	if err != nil {
		return fmt.Errorf("trust: marshal components: %w", err)
	}
	countersJSON, err := json.Marshal(rec.RawCounters)
	if err != nil {
		return fmt.Errorf("trust: marshal raw counters: %w", err)
	}
	complianceJSON, err := json.Marshal(rec.Compliance)
	if err != nil {
		return fmt.Errorf("trust: marshal compliance: %w", err)
	}
	identityJSON, err := json.Marshal(rec.Identity)
	if err != nil {
		return fmt.Errorf("trust: marshal identity: %w", err)
	}
	contextJSON, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("trust: marshal context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO trust_records
		(tenant_id, entity_id, components, raw_counters, compliance, identity, context, last_activity, score, band)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, entity_id) DO UPDATE SET
			components = excluded.components,
			raw_counters = excluded.raw_counters,
			compliance = excluded.compliance,
			identity = excluded.identity,
			context = excluded.context,
			last_activity = excluded.last_activity,
			score = excluded.score,
			band = excluded.band`,
		rec.TenantID, rec.EntityID, string(componentsJSON), string(countersJSON), string(complianceJSON),
		string(identityJSON), string(contextJSON), rec.LastActivity, rec.Score, rec.Band.String())
	if err != nil {
		return fmt.Errorf("trust: put record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AppendSignal(ctx context.Context, sig Signal) error {
	metaJSON, err := json.Marshal(sig.Metadata)
	if err != nil {
		return fmt.Errorf("trust: marshal signal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO trust_signals
		(id, source, entity_id, type, value, weight, metadata, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.ID, sig.Source, sig.EntityID, sig.Type, sig.Value, sig.Weight, string(metaJSON), sig.Timestamp)
	if err != nil {
		return fmt.Errorf("trust: append signal: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SeenSignal(ctx context.Context, source, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM trust_signals WHERE source = ? AND id = ?`,
		source, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("trust: seen signal check: %w", err)
	}
	return count > 0, nil
}

func parseBand(s string) Band {
	b, err := ParseBandAlias(s)
	if err != nil {
		return T0
	}
	return b
}
