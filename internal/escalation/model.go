// Package escalation implements the Escalation Coordinator (C8): the
// pending→{approved,rejected,cancelled,timeout} state machine a policy rule
// enters when its matched action is "escalate", plus the audit trail and
// tenant-scoped query surface the Decision Coordinator and admin API read
// from while a decision sits suspended awaiting a human call.
package escalation

import "time"

// Priority is the urgency an escalation is raised with.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Status is the escalation's state. Only StatusPending is mutable; every
// other value is terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusTimeout   Status = "timeout"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	return s != StatusPending
}

// Escalation is one suspended decision awaiting resolution.
type Escalation struct {
	ID              string
	TenantID        string
	IntentID        string
	EntityID        string
	Reason          string
	Priority        Priority
	Status          Status
	EscalatedTo     string
	EscalatedBy     string
	Context         map[string]interface{}
	RequestedAction string
	ResolvedBy      string
	ResolvedAt      *time.Time
	Resolution      string
	ResolutionNotes string
	AutoDenyOnTimeout bool
	TimeoutAt       time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AuditEntry is one append-only record in an escalation's audit log.
type AuditEntry struct {
	ID           string
	EscalationID string
	Action       string // created, approved, rejected, cancelled, timeout
	ActorType    string // user, system
	Actor        string
	PreviousStatus Status
	Notes        string
	Timestamp    time.Time
}

// CreateInput is the input to Create.
type CreateInput struct {
	IntentID        string
	EntityID        string
	Reason          string
	Priority        Priority
	EscalatedTo     string
	EscalatedBy     string
	Context         map[string]interface{}
	RequestedAction string
	AutoDenyOnTimeout bool
	TimeoutMinutes  int
	ActorType       string // who caused the escalation: "user" or "system"
}

// ResolveInput is the input to Resolve.
type ResolveInput struct {
	Resolution      Status // StatusApproved or StatusRejected
	ResolvedBy      string
	Notes           string
}

// QueryFilter narrows Query's result set; zero values mean "don't filter".
type QueryFilter struct {
	Status      Status
	IntentID    string
	EntityID    string
	EscalatedTo string
	Limit       int
	Offset      int
}
