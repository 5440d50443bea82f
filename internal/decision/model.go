// Package decision implements the Decision Coordinator (C10): the single
// synchronous entry point every intent passes through, orchestrating the
// Security Gate, Trust Engine, Policy Evaluator, Escalation Coordinator, and
// Proof Chain into one verdict. It mirrors the teacher's
// internal/server/grpc.go EvaluateAction orchestration — evaluate the
// decision synchronously, return the verdict immediately, and push
// everything that can happen after the verdict (proof emission, alerting)
// onto goroutines the caller never waits on.
package decision

import (
	"time"

	"github.com/agentgovern/governor/internal/policy"
	"github.com/agentgovern/governor/internal/security"
	"github.com/agentgovern/governor/internal/trust"
)

// Stage names the point in the pipeline a decision concluded at, used for
// tracing; it is recorded in the decision_made proof event's payload.
type Stage string

const (
	StageSecurityGate Stage = "security_gate"
	StageRateLimit    Stage = "rate_limit"
	StagePolicy       Stage = "policy_evaluation"
	StageEscalation   Stage = "escalation"
)

// Request is the input to Coordinator.Decide: everything needed to run one
// intent through the full pipeline.
type Request struct {
	TenantID   string
	EntityID   string // acting agent/entity ACI
	IntentID   string // caller-supplied idempotency/trace id, generated if empty
	IntentType string
	EntityType string
	Namespace  string

	// Action carries the raw action shape the policy CEL/condition
	// evaluator resolves dotted paths against (a loose bag of values merged
	// into the "intent" map by buildConditionValues).
	Action map[string]interface{}

	Security  *security.Request // nil skips the Security Gate entirely
	Ceilings  trust.Ceilings
	RequestedAction string // human label surfaced in an escalation, e.g. "delete_production_table"
}

// Verdict is the C10 output: spec.md §4.10's combined action plus the trail
// of which component produced it.
type Verdict struct {
	Action        policy.Action
	Reason        string
	AppliedPolicy string
	Constraints   map[string]interface{}
	EscalationID  string
	TrustScore    int
	TrustBand     trust.Band
	ConcludedAt   Stage
	DurationMs    int64
	EvaluatedAt   time.Time
}
