package proof

import "context"

// Store is the tenant-scoped persistence surface for proof events and
// batches, implemented by SQLiteStore and PostgresStore.
type Store interface {
	Initialize(ctx context.Context) error

	// InsertEvent appends one event. Callers must have already computed
	// Hash/PrevHash; InsertEvent enforces id-uniqueness for dedup.
	InsertEvent(ctx context.Context, e *Event) error

	// GetEvent returns nil, nil if no event with that id exists for the tenant.
	GetEvent(ctx context.Context, tenantID, id string) (*Event, error)

	// GetEventByHash returns nil, nil if no event with that hash exists for
	// the tenant. Used by verify(eventHash) to locate the walk-back start.
	GetEventByHash(ctx context.Context, tenantID, hash string) (*Event, error)

	// LatestHash returns the hash of the most recently appended event for
	// entityID, or GenesisHash if the entity has no events yet.
	LatestHash(ctx context.Context, tenantID, entityID string) (string, error)

	// ListChain returns every event for entityID in emission order.
	ListChain(ctx context.Context, tenantID, entityID string) ([]*Event, error)

	// InsertBatch records a Merkle batch root and stamps each member event
	// with its batch id.
	InsertBatch(ctx context.Context, tenantID string, batch Batch) error
}
