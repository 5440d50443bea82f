package escalation

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

// SQLiteStore implements Store on SQLite, following the same
// schema-in-Initialize()+CRUD shape as internal/policy.SQLiteStore.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("escalation: open sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS escalations (
		id                  TEXT PRIMARY KEY,
		tenant_id           TEXT NOT NULL,
		intent_id           TEXT NOT NULL,
		entity_id           TEXT NOT NULL,
		reason              TEXT,
		priority            TEXT NOT NULL DEFAULT 'medium',
		status              TEXT NOT NULL DEFAULT 'pending',
		escalated_to        TEXT,
		escalated_by        TEXT,
		context             TEXT,
		requested_action    TEXT,
		resolved_by         TEXT,
		resolved_at         DATETIME,
		resolution          TEXT,
		resolution_notes    TEXT,
		auto_deny_on_timeout INTEGER NOT NULL DEFAULT 0,
		timeout_at          DATETIME NOT NULL,
		created_at          DATETIME NOT NULL,
		updated_at          DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS escalation_audit (
		id              TEXT PRIMARY KEY,
		escalation_id   TEXT NOT NULL,
		action          TEXT NOT NULL,
		actor_type      TEXT NOT NULL,
		actor           TEXT,
		previous_status TEXT,
		notes           TEXT,
		timestamp       DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_escalations_tenant_status ON escalations(tenant_id, status);
	CREATE INDEX IF NOT EXISTS idx_escalations_tenant_entity ON escalations(tenant_id, entity_id);
	CREATE INDEX IF NOT EXISTS idx_escalation_audit_escalation ON escalation_audit(escalation_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Create(ctx context.Context, tenantID string, in CreateInput) (Escalation, error) {
	now := time.Now()
	priority := in.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	timeoutMinutes := in.TimeoutMinutes
	if timeoutMinutes <= 0 {
		timeoutMinutes = 30
	}
	e := Escalation{
		ID:                uuid.NewString(),
		TenantID:          tenantID,
		IntentID:          in.IntentID,
		EntityID:          in.EntityID,
		Reason:            in.Reason,
		Priority:          priority,
		Status:            StatusPending,
		EscalatedTo:       in.EscalatedTo,
		EscalatedBy:       in.EscalatedBy,
		Context:           in.Context,
		RequestedAction:   in.RequestedAction,
		AutoDenyOnTimeout: in.AutoDenyOnTimeout,
		TimeoutAt:         now.Add(time.Duration(timeoutMinutes) * time.Minute),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	ctxJSON, err := json.Marshal(e.Context)
	if err != nil {
		return Escalation{}, fmt.Errorf("escalation: marshal context: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Escalation{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO escalations
		(id, tenant_id, intent_id, entity_id, reason, priority, status, escalated_to, escalated_by,
		 context, requested_action, auto_deny_on_timeout, timeout_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.IntentID, e.EntityID, e.Reason, string(e.Priority), string(e.Status),
		e.EscalatedTo, e.EscalatedBy, string(ctxJSON), e.RequestedAction, e.AutoDenyOnTimeout,
		e.TimeoutAt, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return Escalation{}, fmt.Errorf("escalation: insert: %w", err)
	}

	actorType := in.ActorType
	if actorType == "" {
		actorType = "system"
	}
	if err := insertAuditTx(tx, e.ID, "created", actorType, in.EscalatedBy, "", ""); err != nil {
		return Escalation{}, err
	}

	if err := tx.Commit(); err != nil {
		return Escalation{}, err
	}
	return e, nil
}

func (s *SQLiteStore) Get(ctx context.Context, tenantID, id string) (Escalation, error) {
	row := s.db.QueryRowContext(ctx, escalationSelect+" WHERE tenant_id = ? AND id = ?", tenantID, id)
	return scanEscalation(row)
}

func (s *SQLiteStore) Resolve(ctx context.Context, tenantID, id string, in ResolveInput) (Escalation, error) {
	e, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return Escalation{}, err
	}
	if e.Status != StatusPending {
		return Escalation{}, governor.New(governor.CodeConflict, "escalation %s is not pending", id)
	}

	now := time.Now()
	previous := e.Status
	e.Status = in.Resolution
	e.ResolvedBy = in.ResolvedBy
	e.ResolvedAt = &now
	e.Resolution = string(in.Resolution)
	e.ResolutionNotes = in.Notes
	e.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Escalation{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `UPDATE escalations SET status = ?, resolved_by = ?, resolved_at = ?,
		resolution = ?, resolution_notes = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		string(e.Status), e.ResolvedBy, e.ResolvedAt, e.Resolution, e.ResolutionNotes, e.UpdatedAt, tenantID, id)
	if err != nil {
		return Escalation{}, fmt.Errorf("escalation: resolve: %w", err)
	}
	if err := insertAuditTx(tx, id, string(in.Resolution), "user", in.ResolvedBy, string(previous), in.Notes); err != nil {
		return Escalation{}, err
	}
	if err := tx.Commit(); err != nil {
		return Escalation{}, err
	}
	return e, nil
}

func (s *SQLiteStore) Cancel(ctx context.Context, tenantID, id, cancelledBy, reason string) (Escalation, error) {
	e, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return Escalation{}, err
	}
	if e.Status != StatusPending {
		return Escalation{}, governor.New(governor.CodeConflict, "escalation %s is not pending", id)
	}

	now := time.Now()
	previous := e.Status
	e.Status = StatusCancelled
	e.ResolvedBy = cancelledBy
	e.ResolvedAt = &now
	e.ResolutionNotes = reason
	e.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Escalation{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `UPDATE escalations SET status = ?, resolved_by = ?, resolved_at = ?,
		resolution_notes = ?, updated_at = ? WHERE tenant_id = ? AND id = ?`,
		string(e.Status), e.ResolvedBy, e.ResolvedAt, e.ResolutionNotes, e.UpdatedAt, tenantID, id)
	if err != nil {
		return Escalation{}, fmt.Errorf("escalation: cancel: %w", err)
	}
	if err := insertAuditTx(tx, id, "cancelled", "user", cancelledBy, string(previous), reason); err != nil {
		return Escalation{}, err
	}
	if err := tx.Commit(); err != nil {
		return Escalation{}, err
	}
	return e, nil
}

func (s *SQLiteStore) Query(ctx context.Context, tenantID string, filter QueryFilter) ([]Escalation, error) {
	where := "WHERE tenant_id = ?"
	args := []interface{}{tenantID}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.IntentID != "" {
		where += " AND intent_id = ?"
		args = append(args, filter.IntentID)
	}
	if filter.EntityID != "" {
		where += " AND entity_id = ?"
		args = append(args, filter.EntityID)
	}
	if filter.EscalatedTo != "" {
		where += " AND escalated_to = ?"
		args = append(args, filter.EscalatedTo)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := escalationSelect + " " + where + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetAuditTrail(ctx context.Context, tenantID, id string) ([]AuditEntry, error) {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, escalation_id, action, actor_type, actor, previous_status, notes, timestamp
		FROM escalation_audit WHERE escalation_id = ? ORDER BY timestamp ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var a AuditEntry
		var actor, notes sql.NullString
		var previousStatus sql.NullString
		if err := rows.Scan(&a.ID, &a.EscalationID, &a.Action, &a.ActorType, &actor, &previousStatus, &notes, &a.Timestamp); err != nil {
			return nil, err
		}
		a.Actor = actor.String
		a.PreviousStatus = Status(previousStatus.String)
		a.Notes = notes.String
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetPendingCount(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM escalations WHERE tenant_id = ? AND status = ?`,
		tenantID, string(StatusPending)).Scan(&count)
	return count, err
}

func (s *SQLiteStore) TimeoutPending(ctx context.Context, tenantID string, now time.Time) ([]Escalation, error) {
	rows, err := s.db.QueryContext(ctx, escalationSelect+" WHERE tenant_id = ? AND status = ? AND timeout_at <= ?",
		tenantID, string(StatusPending), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkTimedOut(ctx context.Context, tenantID, id string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE escalations SET status = ?, resolved_by = ?, resolved_at = ?, updated_at = ?
		WHERE tenant_id = ? AND id = ? AND status = ?`,
		string(StatusTimeout), "timeout", now, now, tenantID, id, string(StatusPending))
	if err != nil {
		return fmt.Errorf("escalation: mark timed out: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already transitioned by a concurrent sweep — idempotent no-op.
		return tx.Commit()
	}
	if err := insertAuditTx(tx, id, "timeout", "system", "", string(StatusPending), ""); err != nil {
		return err
	}
	return tx.Commit()
}

// --- helpers ---

const escalationSelect = `SELECT id, tenant_id, intent_id, entity_id, reason, priority, status, escalated_to,
	escalated_by, context, requested_action, resolved_by, resolved_at, resolution, resolution_notes,
	auto_deny_on_timeout, timeout_at, created_at, updated_at FROM escalations`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEscalation(row rowScanner) (Escalation, error) {
	var e Escalation
	var reason, escalatedTo, escalatedBy, resolvedBy, resolution, notes, requestedAction sql.NullString
	var contextJSON sql.NullString
	var resolvedAt sql.NullTime
	var priority, status string

	err := row.Scan(&e.ID, &e.TenantID, &e.IntentID, &e.EntityID, &reason, &priority, &status,
		&escalatedTo, &escalatedBy, &contextJSON, &requestedAction, &resolvedBy, &resolvedAt,
		&resolution, &notes, &e.AutoDenyOnTimeout, &e.TimeoutAt, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return Escalation{}, governor.New(governor.CodeNotFound, "escalation not found")
	}
	if err != nil {
		return Escalation{}, err
	}

	e.Reason = reason.String
	e.Priority = Priority(priority)
	e.Status = Status(status)
	e.EscalatedTo = escalatedTo.String
	e.EscalatedBy = escalatedBy.String
	e.RequestedAction = requestedAction.String
	e.ResolvedBy = resolvedBy.String
	e.Resolution = resolution.String
	e.ResolutionNotes = notes.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		e.ResolvedAt = &t
	}
	if contextJSON.Valid && contextJSON.String != "" {
		if err := json.Unmarshal([]byte(contextJSON.String), &e.Context); err != nil {
			return Escalation{}, fmt.Errorf("escalation: unmarshal context: %w", err)
		}
	}
	return e, nil
}

func insertAuditTx(tx *sql.Tx, escalationID, action, actorType, actor, previousStatus, notes string) error {
	_, err := tx.Exec(`INSERT INTO escalation_audit (id, escalation_id, action, actor_type, actor, previous_status, notes, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), escalationID, action, actorType, actor, previousStatus, notes, time.Now())
	return err
}
