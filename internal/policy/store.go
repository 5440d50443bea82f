package policy

import (
	"context"
	"time"
)

// Store is the tenant-scoped Policy Store (C3): versioned CRUD with
// publish/deprecate/archive lifecycle transitions and an append-only version
// history, implemented by SQLiteStore (embedded deployments) and
// PostgresStore (multi-tenant deployments) in this package.
type Store interface {
	Create(ctx context.Context, tenantID string, in CreateInput) (Policy, error)
	FindByID(ctx context.Context, tenantID, id string) (Policy, error)
	FindByName(ctx context.Context, tenantID, namespace, name string) (Policy, error)
	Update(ctx context.Context, tenantID, id string, in UpdateInput) (Policy, error)
	Publish(ctx context.Context, tenantID, id string) (Policy, error)
	Deprecate(ctx context.Context, tenantID, id string) (Policy, error)
	Archive(ctx context.Context, tenantID, id string) (Policy, error)
	List(ctx context.Context, tenantID string, filter ListFilter) ([]Policy, error)
	GetPublishedPolicies(ctx context.Context, tenantID, namespace string) ([]Policy, error)
	GetVersionHistory(ctx context.Context, tenantID, id string) ([]VersionRecord, error)
}

// touch and markPublished are small helpers shared by both Store
// implementations to keep the lifecycle bookkeeping identical.

func touch(p *Policy, now time.Time) {
	p.UpdatedAt = now
}

func markPublished(p *Policy, now time.Time) {
	p.Status = StatusPublished
	p.PublishedAt = &now
	p.UpdatedAt = now
}
