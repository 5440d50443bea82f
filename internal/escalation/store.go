package escalation

import (
	"context"
	"time"
)

// Store is the tenant-scoped persistence surface for escalations and their
// audit trail, implemented by SQLiteStore and PostgresStore.
type Store interface {
	Create(ctx context.Context, tenantID string, in CreateInput) (Escalation, error)
	Get(ctx context.Context, tenantID, id string) (Escalation, error)
	Resolve(ctx context.Context, tenantID, id string, in ResolveInput) (Escalation, error)
	Cancel(ctx context.Context, tenantID, id, cancelledBy, reason string) (Escalation, error)
	Query(ctx context.Context, tenantID string, filter QueryFilter) ([]Escalation, error)
	GetAuditTrail(ctx context.Context, tenantID, id string) ([]AuditEntry, error)
	GetPendingCount(ctx context.Context, tenantID string) (int, error)

	// TimeoutPending returns every pending escalation whose TimeoutAt has
	// passed, for ProcessTimeouts to transition.
	TimeoutPending(ctx context.Context, tenantID string, now time.Time) ([]Escalation, error)
	MarkTimedOut(ctx context.Context, tenantID, id string, now time.Time) error
}
