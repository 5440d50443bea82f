// Package policy implements the Policy Store (C3), Policy Loader (C4), and
// Policy Evaluator (C5): versioned CRUD over a typed policy definition, a
// two-level cache serving published policies, and a deterministic evaluator
// combining rule and policy results by action priority.
package policy

import (
	"time"

	"github.com/agentgovern/governor/internal/condition"
)

// Status is a Policy's lifecycle state.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusPublished  Status = "published"
	StatusDeprecated Status = "deprecated"
	StatusArchived   Status = "archived"
)

// Action is one of the six decision verbs.
type Action string

const (
	ActionAllow     Action = "allow"
	ActionDeny      Action = "deny"
	ActionEscalate  Action = "escalate"
	ActionLimit     Action = "limit"
	ActionMonitor   Action = "monitor"
	ActionTerminate Action = "terminate"
)

// priorityOrder encodes "more restrictive first": deny < terminate <
// escalate < limit < monitor < allow (spec.md §3). Lower index wins when
// combining two actions.
var priorityOrder = map[Action]int{
	ActionDeny:      0,
	ActionTerminate: 1,
	ActionEscalate:  2,
	ActionLimit:     3,
	ActionMonitor:   4,
	ActionAllow:     5,
}

// MoreRestrictive reports whether a is strictly more restrictive than b.
func MoreRestrictive(a, b Action) bool {
	pa, aok := priorityOrder[a]
	pb, bok := priorityOrder[b]
	if !aok || !bok {
		return false
	}
	return pa < pb
}

// Combine returns whichever of a, b is more restrictive, with the special
// rule that escalate absorbs allow (escalate+allow => escalate) and deny
// absorbs everything (spec.md §4.10 "Combining actions").
func Combine(a, b Action) Action {
	if a == ActionDeny || b == ActionDeny {
		return ActionDeny
	}
	if (a == ActionEscalate && b == ActionAllow) || (b == ActionEscalate && a == ActionAllow) {
		return ActionEscalate
	}
	if MoreRestrictive(b, a) {
		return b
	}
	return a
}

// EscalationSpec is the optional escalation block on a rule's Action.
type EscalationSpec struct {
	To                  string
	Timeout             time.Duration
	RequireJustification bool
	AutoDenyOnTimeout     bool
}

// RuleAction is the `then` side of a PolicyRule.
type RuleAction struct {
	Action      Action
	Reason      string
	Escalation  *EscalationSpec
	Constraints map[string]interface{}
}

// Rule is one entry in a PolicyDefinition's rule list.
type Rule struct {
	ID       string
	Name     string
	Priority int
	Enabled  bool
	When     condition.Condition
	Then     RuleAction
}

// Target optionally restricts which intents/entities/bands/namespaces a
// Policy applies to.
type Target struct {
	IntentTypes []string
	EntityTypes []string
	TrustBands  []string
	Namespaces  []string
}

// Definition is the versioned, checksummed body of a Policy.
type Definition struct {
	Version       string `json:"version"`
	Target        *Target
	Rules         []Rule
	DefaultAction Action
	DefaultReason string
	Metadata      map[string]interface{}
}

// Policy is the top-level versioned, tenant-scoped entity.
type Policy struct {
	ID          string
	TenantID    string
	Name        string
	Namespace   string
	Description string
	Version     int
	Status      Status
	Definition  Definition
	Checksum    string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	PublishedAt *time.Time
}

// VersionRecord is one archived prior version in policyVersions.
type VersionRecord struct {
	ID             string
	PolicyID       string
	Version        int
	Definition     Definition
	Checksum       string
	ChangeSummary  string
	CreatedBy      string
	CreatedAt      time.Time
}

// CreateInput is the payload for Store.Create.
type CreateInput struct {
	Name        string
	Namespace   string
	Description string
	Definition  Definition
	CreatedBy   string
}

// UpdateInput is the payload for Store.Update.
type UpdateInput struct {
	Definition    *Definition
	Status        *Status
	ChangeSummary string
	UpdatedBy     string
}

// ListFilter constrains Store.List.
type ListFilter struct {
	Namespace string
	Status    Status
	Name      string
	Limit     int
	Offset    int
}
