package trust

import "time"

// Competence is the ordered competence enum carried on an Agent Identity.
type Competence int

const (
	CompetenceNone Competence = iota
	CompetenceBasic
	CompetenceIntermediate
	CompetenceAdvanced
	CompetenceExpert
	CompetenceMaster
)

// competenceCeiling maps competence level to the maximum Band it can reach,
// used in the effective-trust min() composition (spec.md §3).
var competenceCeiling = [...]Band{
	CompetenceNone:         T1,
	CompetenceBasic:        T2,
	CompetenceIntermediate: T3,
	CompetenceAdvanced:     T4,
	CompetenceExpert:       T5,
	CompetenceMaster:       T5,
}

func (c Competence) Ceiling() Band {
	if c < CompetenceNone || c > CompetenceMaster {
		return T1
	}
	return competenceCeiling[c]
}

// Identity is the immutable Agent Identity (ACI): registry.organization.class
// plus competence and operational domains. It carries no trust; trust is
// computed at runtime by the Engine.
type Identity struct {
	TenantID           string
	Registry           string
	Organization       string
	AgentClass         string
	Competence         Competence
	OperationalDomains []string
}

// ACI renders the dotted identifier form.
func (i Identity) ACI() string {
	return i.Registry + "." + i.Organization + "." + i.AgentClass
}

// ObservabilityClass caps the score ceiling based on how inspectable an
// agent's internals are.
type ObservabilityClass int

const (
	ObservabilityBlackBox ObservabilityClass = iota
	ObservabilityGrayBox
	ObservabilityWhiteBox
	ObservabilityAttested
	ObservabilityVerified
)

var observabilityCeiling = [...]int{
	ObservabilityBlackBox:  600,
	ObservabilityGrayBox:   750,
	ObservabilityWhiteBox:  900,
	ObservabilityAttested:  950,
	ObservabilityVerified:  1000,
}

func (o ObservabilityClass) Ceiling() int {
	if o < ObservabilityBlackBox || o > ObservabilityVerified {
		return observabilityCeiling[ObservabilityBlackBox]
	}
	return observabilityCeiling[o]
}

// AgentMetadata is the subset of external agent metadata used to infer an
// ObservabilityClass when no explicit field is supplied.
type AgentMetadata struct {
	Explicit           *ObservabilityClass
	HasVerificationProof bool
	AttestedProvider     bool
	SourceCodeURL        string
	AuditDate            *time.Time
}

// InferObservability implements the explicit-field-wins, else-priority-order
// inference described in spec.md §3.
func InferObservability(m AgentMetadata) ObservabilityClass {
	if m.Explicit != nil {
		return *m.Explicit
	}
	switch {
	case m.HasVerificationProof:
		return ObservabilityVerified
	case m.AttestedProvider:
		return ObservabilityAttested
	case m.SourceCodeURL != "":
		return ObservabilityWhiteBox
	case m.AuditDate != nil:
		return ObservabilityGrayBox
	default:
		return ObservabilityBlackBox
	}
}

// ContextCeiling is the externally supplied per-deployment max tier.
type ContextCeiling struct {
	MaxTier Band
}

func (c ContextCeiling) ScoreCeiling() int {
	return c.MaxTier.MaxScore()
}

// Attestation is a signed assertion that an agent identity holds a
// certification tier within a scope, valid for a bounded window.
type Attestation struct {
	ID        string
	AgentACI  string
	Issuer    string
	Tier      Band
	Scope     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Evidence  []string
}

// CertificationTier returns the maximum tier across currently-valid
// attestations at instant `now`; T0 if none are valid.
func CertificationTier(attestations []Attestation, now time.Time) Band {
	best := T0
	for _, a := range attestations {
		if now.Before(a.IssuedAt) || now.After(a.ExpiresAt) {
			continue
		}
		if a.Tier > best {
			best = a.Tier
		}
	}
	return best
}

// Signal is an immutable Trust Signal event. Created on any observable
// event; never mutated; retained as an event-sourced log.
type Signal struct {
	ID        string
	EntityID  string
	Type      string
	Value     int
	Weight    float64
	Source    string
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// EffectiveTrust is the final, ceiling/floor-composed score and band for an
// agent in a given deployment at a given instant.
type EffectiveTrust struct {
	Score int
	Band  Band
	Tier  Band // effectiveTier, the min() composition across all ceilings
}
