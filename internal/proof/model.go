// Package proof implements the Proof Chain (C9): an append-only,
// hash-linked event log recording every transition the Decision Coordinator
// makes, batched into Merkle trees for independent verification and
// delivered asynchronously to a downstream sink with at-least-once,
// id-deduplicated semantics.
package proof

import "encoding/json"

// Kind is the category of a Proof Event.
type Kind string

const (
	KindIntentReceived      Kind = "intent_received"
	KindDecisionMade        Kind = "decision_made"
	KindTrustDelta          Kind = "trust_delta"
	KindExecutionStarted    Kind = "execution_started"
	KindExecutionCompleted  Kind = "execution_completed"
	KindExecutionFailed     Kind = "execution_failed"
	KindIncidentDetected    Kind = "incident_detected"
	KindRollbackInitiated   Kind = "rollback_initiated"
	KindComponentRegistered Kind = "component_registered"
	KindComponentUpdated    Kind = "component_updated"
)

// GenesisHash is the prevHash of the first event in any entity's chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Event is one append-only, hash-linked record in an entity's proof chain.
type Event struct {
	ID        string          `json:"id" db:"id"`
	TenantID  string          `json:"tenant_id" db:"tenant_id"`
	EntityID  string          `json:"entity_id" db:"entity_id"`
	Kind      Kind            `json:"kind" db:"kind"`
	Payload   json.RawMessage `json:"payload" db:"payload"`
	Timestamp int64           `json:"timestamp" db:"timestamp"` // unix nanos
	PrevHash  string          `json:"prev_hash" db:"prev_hash"`
	Hash      string          `json:"hash" db:"hash"`

	// BatchID and MerklePath are populated once the event has been folded
	// into a batch's Merkle tree; empty until then.
	BatchID    string   `json:"batch_id,omitempty" db:"batch_id"`
	MerklePath []string `json:"merkle_path,omitempty" db:"-"`
}

// Batch is a Merkle-tree root over a fixed-size run of events, recorded for
// independent verification and optional external anchoring.
type Batch struct {
	ID         string   `json:"id" db:"id"`
	TenantID   string   `json:"tenant_id" db:"tenant_id"`
	EventIDs   []string `json:"event_ids" db:"-"`
	Root       string   `json:"root" db:"root"`
	CreatedAt  int64    `json:"created_at" db:"created_at"`
	AnchoredAt *int64   `json:"anchored_at,omitempty" db:"anchored_at"`
}

// EmitInput is the caller-supplied content of a new Proof Event; ID,
// Timestamp, PrevHash and Hash are computed by the Chain.
type EmitInput struct {
	TenantID string
	EntityID string
	Kind     Kind
	Payload  interface{}
}

// VerifyResult is the outcome of walking an entity's chain back to genesis.
type VerifyResult struct {
	Valid       bool
	Depth       int
	GenesisHash string
	BrokenAt    string // event ID where the chain first failed to verify, if any
}
