package proof

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL with row-level security,
// mirroring internal/escalation.PostgresStore's withTenant pattern.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("proof: open postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS proof_events (
		id         TEXT PRIMARY KEY,
		tenant_id  TEXT NOT NULL,
		entity_id  TEXT NOT NULL,
		kind       TEXT NOT NULL,
		payload    JSONB,
		timestamp  BIGINT NOT NULL,
		prev_hash  TEXT NOT NULL,
		hash       TEXT NOT NULL,
		batch_id   TEXT
	);

	CREATE TABLE IF NOT EXISTS proof_batches (
		id          TEXT PRIMARY KEY,
		tenant_id   TEXT NOT NULL,
		root        TEXT NOT NULL,
		created_at  BIGINT NOT NULL,
		anchored_at BIGINT
	);

	CREATE INDEX IF NOT EXISTS idx_proof_events_entity ON proof_events(tenant_id, entity_id, timestamp);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_proof_events_hash ON proof_events(tenant_id, hash);

	ALTER TABLE proof_events ENABLE ROW LEVEL SECURITY;

	DO $$ BEGIN
		CREATE POLICY tenant_isolation_proof_events ON proof_events
			USING (tenant_id = current_setting('app.tenant_id', true));
	EXCEPTION WHEN duplicate_object THEN NULL; END $$;
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *PostgresStore) withTenant(ctx context.Context, tenantID string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) InsertEvent(ctx context.Context, e *Event) error {
	return s.withTenant(ctx, e.TenantID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO proof_events
			(id, tenant_id, entity_id, kind, payload, timestamp, prev_hash, hash, batch_id)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9, ''))`,
			e.ID, e.TenantID, e.EntityID, string(e.Kind), string(e.Payload), e.Timestamp, e.PrevHash, e.Hash, e.BatchID)
		if err != nil {
			return fmt.Errorf("proof: insert event: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetEvent(ctx context.Context, tenantID, id string) (*Event, error) {
	var e *Event
	err := s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, proofEventSelect+" WHERE tenant_id = $1 AND id = $2", tenantID, id)
		scanned, scanErr := scanEvent(row)
		if scanErr == sql.ErrNoRows {
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		e = scanned
		return nil
	})
	return e, err
}

func (s *PostgresStore) GetEventByHash(ctx context.Context, tenantID, hash string) (*Event, error) {
	var e *Event
	err := s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, proofEventSelect+" WHERE tenant_id = $1 AND hash = $2", tenantID, hash)
		scanned, scanErr := scanEvent(row)
		if scanErr == sql.ErrNoRows {
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		e = scanned
		return nil
	})
	return e, err
}

func (s *PostgresStore) LatestHash(ctx context.Context, tenantID, entityID string) (string, error) {
	hash := GenesisHash
	err := s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		scanErr := tx.QueryRowContext(ctx, `SELECT hash FROM proof_events WHERE tenant_id = $1 AND entity_id = $2
			ORDER BY timestamp DESC LIMIT 1`, tenantID, entityID).Scan(&hash)
		if scanErr == sql.ErrNoRows {
			hash = GenesisHash
			return nil
		}
		return scanErr
	})
	return hash, err
}

func (s *PostgresStore) ListChain(ctx context.Context, tenantID, entityID string) ([]*Event, error) {
	var out []*Event
	err := s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, proofEventSelect+" WHERE tenant_id = $1 AND entity_id = $2 ORDER BY timestamp ASC",
			tenantID, entityID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEvent(rows)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

func (s *PostgresStore) InsertBatch(ctx context.Context, tenantID string, batch Batch) error {
	return s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO proof_batches (id, tenant_id, root, created_at)
			VALUES ($1,$2,$3,$4)`, batch.ID, tenantID, batch.Root, batch.CreatedAt); err != nil {
			return fmt.Errorf("proof: insert batch: %w", err)
		}
		for _, eventID := range batch.EventIDs {
			if _, err := tx.ExecContext(ctx, `UPDATE proof_events SET batch_id = $1 WHERE tenant_id = $2 AND id = $3`,
				batch.ID, tenantID, eventID); err != nil {
				return fmt.Errorf("proof: stamp batch on event %s: %w", eventID, err)
			}
		}
		return nil
	})
}
