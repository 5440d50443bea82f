package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL with jsonb definition storage
// and row-level security: every statement runs inside a transaction that
// first sets app.tenant_id, so the RLS policy on policies restricting to
// current_setting('app.tenant_id') enforces tenant isolation even if an
// application bug forgets a WHERE clause (spec.md §6). policy_versions has
// RLS enabled but no tenant policy of its own (it has no tenant_id column).
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("policy: open postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Initialize creates tables, jsonb columns, and row-level security policies.
func (s *PostgresStore) Initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS policies (
		id           TEXT PRIMARY KEY,
		tenant_id    TEXT NOT NULL,
		name         TEXT NOT NULL,
		namespace    TEXT NOT NULL DEFAULT 'default',
		description  TEXT,
		version      INTEGER NOT NULL DEFAULT 1,
		status       TEXT NOT NULL DEFAULT 'draft',
		definition   JSONB NOT NULL,
		checksum     TEXT NOT NULL,
		created_by   TEXT,
		created_at   TIMESTAMPTZ NOT NULL,
		updated_at   TIMESTAMPTZ NOT NULL,
		published_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS policy_versions (
		id             TEXT PRIMARY KEY,
		policy_id      TEXT NOT NULL,
		version        INTEGER NOT NULL,
		definition     JSONB NOT NULL,
		checksum       TEXT NOT NULL,
		change_summary TEXT,
		created_by     TEXT,
		created_at     TIMESTAMPTZ NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_policies_tenant_namespace_name ON policies(tenant_id, namespace, name);
	CREATE INDEX IF NOT EXISTS idx_policies_tenant_status ON policies(tenant_id, status);
	CREATE INDEX IF NOT EXISTS idx_policy_versions_policy ON policy_versions(policy_id);
	CREATE INDEX IF NOT EXISTS idx_policies_definition_gin ON policies USING GIN (definition);

	ALTER TABLE policies ENABLE ROW LEVEL SECURITY;
	ALTER TABLE policy_versions ENABLE ROW LEVEL SECURITY;

	DO $$ BEGIN
		CREATE POLICY tenant_isolation_policies ON policies
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

func (s *PostgresStore) Create(ctx context.Context, tenantID string, in CreateInput) (Policy, error) {
	checksum, err := Checksum(in.Definition)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: checksum: %w", err)
	}
	defJSON, err := json.Marshal(in.Definition)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: marshal definition: %w", err)
	}
	now := time.Now()
	p := Policy{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Name:        in.Name,
		Namespace:   namespaceOrDefault(in.Namespace),
		Description: in.Description,
		Version:     1,
		Status:      StatusDraft,
		Definition:  in.Definition,
		Checksum:    checksum,
		CreatedBy:   in.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO policies
			(id, tenant_id, name, namespace, description, version, status, definition, checksum, created_by, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
			p.ID, p.TenantID, p.Name, p.Namespace, p.Description, p.Version, string(p.Status),
			string(defJSON), p.Checksum, p.CreatedBy, p.CreatedAt, p.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return Policy{}, fmt.Errorf("policy: insert: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, tenantID, id string) (Policy, error) {
	var p Policy
	err := s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT id, tenant_id, name, namespace, description, version, status,
			definition, checksum, created_by, created_at, updated_at, published_at
			FROM policies WHERE tenant_id = $1 AND id = $2`, tenantID, id)
		scanned, err := scanPolicy(row)
		p = scanned
		return err
	})
	return p, err
}

func (s *PostgresStore) FindByName(ctx context.Context, tenantID, namespace, name string) (Policy, error) {
	var p Policy
	err := s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT id, tenant_id, name, namespace, description, version, status,
			definition, checksum, created_by, created_at, updated_at, published_at
			FROM policies WHERE tenant_id = $1 AND namespace = $2 AND name = $3`,
			tenantID, namespaceOrDefault(namespace), name)
		scanned, err := scanPolicy(row)
		p = scanned
		return err
	})
	return p, err
}

func (s *PostgresStore) Update(ctx context.Context, tenantID, id string, in UpdateInput) (Policy, error) {
	existing, err := s.FindByID(ctx, tenantID, id)
	if err != nil {
		return Policy{}, err
	}
	prior := existing

	now := time.Now()
	if in.Definition != nil {
		existing.Definition = *in.Definition
		checksum, err := Checksum(existing.Definition)
		if err != nil {
			return Policy{}, fmt.Errorf("policy: checksum: %w", err)
		}
		existing.Checksum = checksum
		existing.Version++
	}
	if in.Status != nil {
		existing.Status = *in.Status
	}
	touch(&existing, now)

	defJSON, err := json.Marshal(existing.Definition)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: marshal definition: %w", err)
	}

	err = s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		oldDefJSON, err := json.Marshal(prior.Definition)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO policy_versions
			(id, policy_id, version, definition, checksum, change_summary, created_by, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			uuid.NewString(), prior.ID, prior.Version, string(oldDefJSON), prior.Checksum,
			in.ChangeSummary, in.UpdatedBy, time.Now(),
		)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE policies SET name=$1, namespace=$2, description=$3, version=$4,
			status=$5, definition=$6, checksum=$7, updated_at=$8 WHERE tenant_id=$9 AND id=$10`,
			existing.Name, existing.Namespace, existing.Description, existing.Version,
			string(existing.Status), string(defJSON), existing.Checksum, existing.UpdatedAt,
			tenantID, id,
		)
		return err
	})
	if err != nil {
		return Policy{}, fmt.Errorf("policy: update: %w", err)
	}
	return existing, nil
}

func (s *PostgresStore) Publish(ctx context.Context, tenantID, id string) (Policy, error) {
	p, err := s.FindByID(ctx, tenantID, id)
	if err != nil {
		return Policy{}, err
	}
	markPublished(&p, time.Now())
	err = s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE policies SET status=$1, published_at=$2, updated_at=$3 WHERE tenant_id=$4 AND id=$5`,
			string(p.Status), p.PublishedAt, p.UpdatedAt, tenantID, id)
		return err
	})
	if err != nil {
		return Policy{}, fmt.Errorf("policy: publish: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) Deprecate(ctx context.Context, tenantID, id string) (Policy, error) {
	return s.setStatus(ctx, tenantID, id, StatusDeprecated)
}

func (s *PostgresStore) Archive(ctx context.Context, tenantID, id string) (Policy, error) {
	return s.setStatus(ctx, tenantID, id, StatusArchived)
}

func (s *PostgresStore) setStatus(ctx context.Context, tenantID, id string, status Status) (Policy, error) {
	p, err := s.FindByID(ctx, tenantID, id)
	if err != nil {
		return Policy{}, err
	}
	p.Status = status
	touch(&p, time.Now())
	err = s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE policies SET status=$1, updated_at=$2 WHERE tenant_id=$3 AND id=$4`,
			string(p.Status), p.UpdatedAt, tenantID, id)
		return err
	})
	if err != nil {
		return Policy{}, fmt.Errorf("policy: set status: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID string, filter ListFilter) ([]Policy, error) {
	where := "WHERE tenant_id = $1"
	args := []interface{}{tenantID}
	n := 2
	if filter.Namespace != "" {
		where += fmt.Sprintf(" AND namespace = $%d", n)
		args = append(args, filter.Namespace)
		n++
	}
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, string(filter.Status))
		n++
	}
	if filter.Name != "" {
		where += fmt.Sprintf(" AND name ILIKE $%d", n)
		args = append(args, "%"+filter.Name+"%")
		n++
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id, tenant_id, name, namespace, description, version, status,
		definition, checksum, created_by, created_at, updated_at, published_at
		FROM policies %s ORDER BY updated_at DESC LIMIT $%d OFFSET $%d`, where, n, n+1)
	args = append(args, limit, filter.Offset)

	var out []Policy
	err := s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanPolicyRows(rows)
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

func (s *PostgresStore) GetPublishedPolicies(ctx context.Context, tenantID, namespace string) ([]Policy, error) {
	return s.List(ctx, tenantID, ListFilter{Namespace: namespace, Status: StatusPublished, Limit: 1000})
}

func (s *PostgresStore) GetVersionHistory(ctx context.Context, tenantID, id string) ([]VersionRecord, error) {
	if _, err := s.FindByID(ctx, tenantID, id); err != nil {
		return nil, err
	}
	var out []VersionRecord
	err := s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id, policy_id, version, definition, checksum, change_summary, created_by, created_at
			FROM policy_versions WHERE policy_id = $1 ORDER BY version DESC`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var v VersionRecord
			var defJSON string
			var changeSummary, createdBy sql.NullString
			if err := rows.Scan(&v.ID, &v.PolicyID, &v.Version, &defJSON, &v.Checksum, &changeSummary, &createdBy, &v.CreatedAt); err != nil {
				return err
			}
			if err := json.Unmarshal([]byte(defJSON), &v.Definition); err != nil {
				return err
			}
			v.ChangeSummary = changeSummary.String
			v.CreatedBy = createdBy.String
			out = append(out, v)
		}
		return rows.Err()
	})
	return out, err
}
