package escalation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL with row-level security,
// mirroring internal/policy.PostgresStore's withTenant pattern.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("escalation: open postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Close() error { return s.db.Close() }

func (s *PostgresStore) Initialize(ctx context.Context) error {
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
		context             JSONB,
		requested_action    TEXT,
		resolved_by         TEXT,
		resolved_at         TIMESTAMPTZ,
		resolution          TEXT,
		resolution_notes    TEXT,
		auto_deny_on_timeout BOOLEAN NOT NULL DEFAULT false,
		timeout_at          TIMESTAMPTZ NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL,
		updated_at          TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS escalation_audit (
		id              TEXT PRIMARY KEY,
		escalation_id   TEXT NOT NULL,
		action          TEXT NOT NULL,
		actor_type      TEXT NOT NULL,
		actor           TEXT,
		previous_status TEXT,
		notes           TEXT,
		timestamp       TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_escalations_tenant_status ON escalations(tenant_id, status);
	CREATE INDEX IF NOT EXISTS idx_escalations_tenant_entity ON escalations(tenant_id, entity_id);
	CREATE INDEX IF NOT EXISTS idx_escalation_audit_escalation ON escalation_audit(escalation_id);

	ALTER TABLE escalations ENABLE ROW LEVEL SECURITY;

	DO $$ BEGIN
		CREATE POLICY tenant_isolation_escalations ON escalations
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

func (s *PostgresStore) Create(ctx context.Context, tenantID string, in CreateInput) (Escalation, error) {
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

	actorType := in.ActorType
	if actorType == "" {
		actorType = "system"
	}

	err = s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO escalations
			(id, tenant_id, intent_id, entity_id, reason, priority, status, escalated_to, escalated_by,
			 context, requested_action, auto_deny_on_timeout, timeout_at, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			e.ID, e.TenantID, e.IntentID, e.EntityID, e.Reason, string(e.Priority), string(e.Status),
			e.EscalatedTo, e.EscalatedBy, string(ctxJSON), e.RequestedAction, e.AutoDenyOnTimeout,
			e.TimeoutAt, e.CreatedAt, e.UpdatedAt,
		)
		if err != nil {
			return err
		}
		return insertAuditPg(ctx, tx, e.ID, "created", actorType, in.EscalatedBy, "", "")
	})
	if err != nil {
		return Escalation{}, fmt.Errorf("escalation: insert: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) Get(ctx context.Context, tenantID, id string) (Escalation, error) {
	var e Escalation
	err := s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, escalationSelect+" WHERE tenant_id = $1 AND id = $2", tenantID, id)
		scanned, err := scanEscalation(row)
		e = scanned
		return err
	})
	return e, err
}

func (s *PostgresStore) Resolve(ctx context.Context, tenantID, id string, in ResolveInput) (Escalation, error) {
	e, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return Escalation{}, err
	}
	if e.Status != StatusPending {
		return Escalation{}, fmt.Errorf("escalation: %s is not pending", id)
	}

	now := time.Now()
	previous := e.Status
	e.Status = in.Resolution
	e.ResolvedBy = in.ResolvedBy
	e.ResolvedAt = &now
	e.Resolution = string(in.Resolution)
	e.ResolutionNotes = in.Notes
	e.UpdatedAt = now

	err = s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE escalations SET status=$1, resolved_by=$2, resolved_at=$3,
			resolution=$4, resolution_notes=$5, updated_at=$6 WHERE tenant_id=$7 AND id=$8`,
			string(e.Status), e.ResolvedBy, e.ResolvedAt, e.Resolution, e.ResolutionNotes, e.UpdatedAt, tenantID, id)
		if err != nil {
			return err
		}
		return insertAuditPg(ctx, tx, id, string(in.Resolution), "user", in.ResolvedBy, string(previous), in.Notes)
	})
	if err != nil {
		return Escalation{}, fmt.Errorf("escalation: resolve: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) Cancel(ctx context.Context, tenantID, id, cancelledBy, reason string) (Escalation, error) {
	e, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return Escalation{}, err
	}
	if e.Status != StatusPending {
		return Escalation{}, fmt.Errorf("escalation: %s is not pending", id)
	}

	now := time.Now()
	previous := e.Status
	e.Status = StatusCancelled
	e.ResolvedBy = cancelledBy
	e.ResolvedAt = &now
	e.ResolutionNotes = reason
	e.UpdatedAt = now

	err = s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE escalations SET status=$1, resolved_by=$2, resolved_at=$3,
			resolution_notes=$4, updated_at=$5 WHERE tenant_id=$6 AND id=$7`,
			string(e.Status), e.ResolvedBy, e.ResolvedAt, e.ResolutionNotes, e.UpdatedAt, tenantID, id)
		if err != nil {
			return err
		}
		return insertAuditPg(ctx, tx, id, "cancelled", "user", cancelledBy, string(previous), reason)
	})
	if err != nil {
		return Escalation{}, fmt.Errorf("escalation: cancel: %w", err)
	}
	return e, nil
}

func (s *PostgresStore) Query(ctx context.Context, tenantID string, filter QueryFilter) ([]Escalation, error) {
	where := "WHERE tenant_id = $1"
	args := []interface{}{tenantID}
	n := 2
	if filter.Status != "" {
		where += fmt.Sprintf(" AND status = $%d", n)
		args = append(args, string(filter.Status))
		n++
	}
	if filter.IntentID != "" {
		where += fmt.Sprintf(" AND intent_id = $%d", n)
		args = append(args, filter.IntentID)
		n++
	}
	if filter.EntityID != "" {
		where += fmt.Sprintf(" AND entity_id = $%d", n)
		args = append(args, filter.EntityID)
		n++
	}
	if filter.EscalatedTo != "" {
		where += fmt.Sprintf(" AND escalated_to = $%d", n)
		args = append(args, filter.EscalatedTo)
		n++
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf("%s %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d", escalationSelect, where, n, n+1)
	args = append(args, limit, filter.Offset)

	var out []Escalation
	err := s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEscalation(rows)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

func (s *PostgresStore) GetAuditTrail(ctx context.Context, tenantID, id string) ([]AuditEntry, error) {
	if _, err := s.Get(ctx, tenantID, id); err != nil {
		return nil, err
	}
	var out []AuditEntry
	err := s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT id, escalation_id, action, actor_type, actor, previous_status, notes, timestamp
			FROM escalation_audit WHERE escalation_id = $1 ORDER BY timestamp ASC`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var a AuditEntry
			var actor, notes, previousStatus sql.NullString
			if err := rows.Scan(&a.ID, &a.EscalationID, &a.Action, &a.ActorType, &actor, &previousStatus, &notes, &a.Timestamp); err != nil {
				return err
			}
			a.Actor = actor.String
			a.PreviousStatus = Status(previousStatus.String)
			a.Notes = notes.String
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

func (s *PostgresStore) GetPendingCount(ctx context.Context, tenantID string) (int, error) {
	var count int
	err := s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		return tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM escalations WHERE tenant_id=$1 AND status=$2`,
			tenantID, string(StatusPending)).Scan(&count)
	})
	return count, err
}

func (s *PostgresStore) TimeoutPending(ctx context.Context, tenantID string, now time.Time) ([]Escalation, error) {
	var out []Escalation
	err := s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, escalationSelect+" WHERE tenant_id = $1 AND status = $2 AND timeout_at <= $3",
			tenantID, string(StatusPending), now)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEscalation(rows)
			if err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

func (s *PostgresStore) MarkTimedOut(ctx context.Context, tenantID, id string, now time.Time) error {
	return s.withTenant(ctx, tenantID, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE escalations SET status=$1, resolved_by=$2, resolved_at=$3, updated_at=$4
			WHERE tenant_id=$5 AND id=$6 AND status=$7`,
			string(StatusTimeout), "timeout", now, now, tenantID, id, string(StatusPending))
		if err != nil {
			return fmt.Errorf("escalation: mark timed out: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		return insertAuditPg(ctx, tx, id, "timeout", "system", "", string(StatusPending), "")
	})
}

func insertAuditPg(ctx context.Context, tx *sql.Tx, escalationID, action, actorType, actor, previousStatus, notes string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO escalation_audit (id, escalation_id, action, actor_type, actor, previous_status, notes, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		uuid.NewString(), escalationID, action, actorType, actor, previousStatus, notes, time.Now())
	return err
}
