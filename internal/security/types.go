// Package security implements the Security Gate (C7): tier-indexed token
// lifetime, binding-proof, attestation, and revocation checks that run ahead
// of policy evaluation in the Decision Coordinator, plus the kill-switch
// fast path that can block a request before any of that.
package security

import (
	"time"

	"github.com/agentgovern/governor/internal/trust"
)

// DataSensitivity classifies the data an operation touches, per spec.md
// §4.7's pairwise-ID requirement ("required when dataSensitivity∈
// {confidential,restricted}").
type DataSensitivity string

const (
	SensitivityPublic       DataSensitivity = "public"
	SensitivityInternal     DataSensitivity = "internal"
	SensitivityConfidential DataSensitivity = "confidential"
	SensitivityRestricted   DataSensitivity = "restricted"
)

// TierRequirements is one row of spec.md §4.7's tier table.
type TierRequirements struct {
	RequestBindingRequired bool
	AttestationRequired    bool
	KeyBindingRequired     bool // T5 only: "key-binding proof" on top of request binding
	SyncRevocationRequired bool
	MaxTokenTTL            time.Duration
}

var tierTable = [...]TierRequirements{
	trust.T0: {RequestBindingRequired: false, MaxTokenTTL: 60 * time.Minute},
	trust.T1: {RequestBindingRequired: false, MaxTokenTTL: 60 * time.Minute},
	trust.T2: {RequestBindingRequired: true, MaxTokenTTL: 30 * time.Minute},
	trust.T3: {RequestBindingRequired: true, MaxTokenTTL: 15 * time.Minute},
	trust.T4: {RequestBindingRequired: true, AttestationRequired: true, SyncRevocationRequired: true, MaxTokenTTL: 10 * time.Minute},
	trust.T5: {RequestBindingRequired: true, AttestationRequired: true, KeyBindingRequired: true, SyncRevocationRequired: true, MaxTokenTTL: 5 * time.Minute},
}

func requirementsFor(tier trust.Band) TierRequirements {
	if tier < trust.T0 || tier > trust.T5 {
		return tierTable[trust.T0]
	}
	return tierTable[tier]
}

// requiresPairwiseID reports spec.md §4.7's "pairwise-ID for sensitive data"
// column: required from T3 upward when the operation touches confidential
// or restricted data.
func requiresPairwiseID(tier trust.Band, sensitivity DataSensitivity) bool {
	if tier < trust.T3 {
		return false
	}
	return sensitivity == SensitivityConfidential || sensitivity == SensitivityRestricted
}

// Request describes the inbound call the Security Gate evaluates.
type Request struct {
	TenantID        string
	AgentID         string
	SessionID       string
	Tier            trust.Band
	Method          string
	URI             string
	TokenSecret     string
	BindingProof    string // e.g. DPoP-like proof-of-possession token
	Sensitivity     DataSensitivity
	HighValue       bool // write, delete, transfer, or explicitly tagged
	AttestationID   string
}

// GateResult is spec.md §4.7's pre-request check output:
// `{allow, requirements, requiredActions?, denyReason?}`.
type GateResult struct {
	Allow          bool
	Requirements   TierRequirements
	RequiredActions []string
	DenyReason     string
	Code           string
}
