package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/agentgovern/governor/internal/governor"
)

// SQLiteStore implements Store on top of SQLite, grounded in the
// schema-in-Initialize()+CRUD shape the pack uses for its append-only trace
// tables. Suited to single-node and embedded deployments; PostgresStore
// covers multi-tenant, row-level-security deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (without yet initializing) a SQLite-backed policy
// store at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("policy: open sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Initialize creates the policies and policy_versions tables if absent.
func (s *SQLiteStore) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS policies (
		id           TEXT PRIMARY KEY,
		tenant_id    TEXT NOT NULL,
		name         TEXT NOT NULL,
		namespace    TEXT NOT NULL DEFAULT 'default',
		description  TEXT,
		version      INTEGER NOT NULL DEFAULT 1,
		status       TEXT NOT NULL DEFAULT 'draft',
		definition   TEXT NOT NULL,
		checksum     TEXT NOT NULL,
		created_by   TEXT,
		created_at   DATETIME NOT NULL,
		updated_at   DATETIME NOT NULL,
		published_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS policy_versions (
		id             TEXT PRIMARY KEY,
		policy_id      TEXT NOT NULL,
		version        INTEGER NOT NULL,
		definition     TEXT NOT NULL,
		checksum       TEXT NOT NULL,
		change_summary TEXT,
		created_by     TEXT,
		created_at     DATETIME NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_policies_tenant_namespace_name ON policies(tenant_id, namespace, name);
	CREATE INDEX IF NOT EXISTS idx_policies_tenant_status ON policies(tenant_id, status);
	CREATE INDEX IF NOT EXISTS idx_policy_versions_policy ON policy_versions(policy_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Create(ctx context.Context, tenantID string, in CreateInput) (Policy, error) {
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
	_, err = s.db.ExecContext(ctx, `INSERT INTO policies
		(id, tenant_id, name, namespace, description, version, status, definition, checksum, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.TenantID, p.Name, p.Namespace, p.Description, p.Version, string(p.Status),
		string(defJSON), p.Checksum, p.CreatedBy, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: insert: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) FindByID(ctx context.Context, tenantID, id string) (Policy, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, tenant_id, name, namespace, description, version, status,
		definition, checksum, created_by, created_at, updated_at, published_at
		FROM policies WHERE tenant_id = ? AND id = ?`, tenantID, id)
	return scanPolicy(row)
}

func (s *SQLiteStore) FindByName(ctx context.Context, tenantID, namespace, name string) (Policy, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, tenant_id, name, namespace, description, version, status,
		definition, checksum, created_by, created_at, updated_at, published_at
		FROM policies WHERE tenant_id = ? AND namespace = ? AND name = ?`, tenantID, namespaceOrDefault(namespace), name)
	return scanPolicy(row)
}

func (s *SQLiteStore) Update(ctx context.Context, tenantID, id string, in UpdateInput) (Policy, error) {
	existing, err := s.FindByID(ctx, tenantID, id)
	if err != nil {
		return Policy{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Policy{}, err
	}
	defer tx.Rollback()

	if err := archiveVersionTx(tx, existing); err != nil {
		return Policy{}, err
	}

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
	_, err = tx.ExecContext(ctx, `UPDATE policies SET name = ?, namespace = ?, description = ?, version = ?,
		status = ?, definition = ?, checksum = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		existing.Name, existing.Namespace, existing.Description, existing.Version,
		string(existing.Status), string(defJSON), existing.Checksum, existing.UpdatedAt,
		tenantID, id,
	)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Policy{}, err
	}
	return existing, nil
}

func (s *SQLiteStore) Publish(ctx context.Context, tenantID, id string) (Policy, error) {
	p, err := s.FindByID(ctx, tenantID, id)
	if err != nil {
		return Policy{}, err
	}
	now := time.Now()
	markPublished(&p, now)
	_, err = s.db.ExecContext(ctx, `UPDATE policies SET status = ?, published_at = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		string(p.Status), p.PublishedAt, p.UpdatedAt, tenantID, id)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: publish: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) Deprecate(ctx context.Context, tenantID, id string) (Policy, error) {
	return s.setStatus(ctx, tenantID, id, StatusDeprecated)
}

func (s *SQLiteStore) Archive(ctx context.Context, tenantID, id string) (Policy, error) {
	return s.setStatus(ctx, tenantID, id, StatusArchived)
}

func (s *SQLiteStore) setStatus(ctx context.Context, tenantID, id string, status Status) (Policy, error) {
	p, err := s.FindByID(ctx, tenantID, id)
	if err != nil {
		return Policy{}, err
	}
	p.Status = status
	touch(&p, time.Now())
	_, err = s.db.ExecContext(ctx, `UPDATE policies SET status = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		string(p.Status), p.UpdatedAt, tenantID, id)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: set status: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) List(ctx context.Context, tenantID string, filter ListFilter) ([]Policy, error) {
	where := "WHERE tenant_id = ?"
	args := []interface{}{tenantID}
	if filter.Namespace != "" {
		where += " AND namespace = ?"
		args = append(args, filter.Namespace)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Name != "" {
		where += " AND name LIKE ?"
		args = append(args, "%"+filter.Name+"%")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, tenant_id, name, namespace, description, version, status,
		definition, checksum, created_by, created_at, updated_at, published_at
		FROM policies ` + where + ` ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Policy
	for rows.Next() {
		p, err := scanPolicyRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetPublishedPolicies(ctx context.Context, tenantID, namespace string) ([]Policy, error) {
	return s.List(ctx, tenantID, ListFilter{Namespace: namespace, Status: StatusPublished, Limit: 1000})
}

func (s *SQLiteStore) GetVersionHistory(ctx context.Context, tenantID, id string) ([]VersionRecord, error) {
	if _, err := s.FindByID(ctx, tenantID, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, policy_id, version, definition, checksum, change_summary, created_by, created_at
		FROM policy_versions WHERE policy_id = ? ORDER BY version DESC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VersionRecord
	for rows.Next() {
		var v VersionRecord
		var defJSON string
		var changeSummary, createdBy sql.NullString
		if err := rows.Scan(&v.ID, &v.PolicyID, &v.Version, &defJSON, &v.Checksum, &changeSummary, &createdBy, &v.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(defJSON), &v.Definition); err != nil {
			return nil, err
		}
		v.ChangeSummary = changeSummary.String
		v.CreatedBy = createdBy.String
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- helpers ---

func archiveVersionTx(tx *sql.Tx, p Policy) error {
	defJSON, err := json.Marshal(p.Definition)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT INTO policy_versions (id, policy_id, version, definition, checksum, change_summary, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), p.ID, p.Version, string(defJSON), p.Checksum, "", p.CreatedBy, time.Now(),
	)
	return err
}

func namespaceOrDefault(ns string) string {
	if ns == "" {
		return "default"
	}
	return ns
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPolicy(row *sql.Row) (Policy, error) {
	return scanPolicyGeneric(row)
}

func scanPolicyRows(rows *sql.Rows) (Policy, error) {
	return scanPolicyGeneric(rows)
}

func scanPolicyGeneric(row rowScanner) (Policy, error) {
	var p Policy
	var defJSON string
	var description, createdBy sql.NullString
	var publishedAt sql.NullTime
	var status string

	err := row.Scan(&p.ID, &p.TenantID, &p.Name, &p.Namespace, &description, &p.Version, &status,
		&defJSON, &p.Checksum, &createdBy, &p.CreatedAt, &p.UpdatedAt, &publishedAt)
	if err == sql.ErrNoRows {
		return Policy{}, governor.New(governor.CodeNotFound, "policy not found")
	}
	if err != nil {
		return Policy{}, err
	}
	p.Status = Status(status)
	p.Description = description.String
	p.CreatedBy = createdBy.String
	if publishedAt.Valid {
		t := publishedAt.Time
		p.PublishedAt = &t
	}
	if err := json.Unmarshal([]byte(defJSON), &p.Definition); err != nil {
		return Policy{}, fmt.Errorf("policy: unmarshal definition: %w", err)
	}
	return p, nil
}
