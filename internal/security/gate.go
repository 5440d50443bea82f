package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/agentgovern/governor/internal/governor"
)

// AttestationVerifier checks a signed attestation's validity, decoupled from
// the Gate so Decision Coordinator wiring can swap in the real trust-engine
// attestation store without the Gate depending on it directly.
type AttestationVerifier interface {
	Verify(attestationID string, now time.Time) (valid bool, err error)
}

// Introspector performs a synchronous token-revocation/status check against
// an external authority, required for T4/T5 high-value operations.
type Introspector interface {
	Introspect(tokenID string) (active bool, err error)
}

// Gate is the Security Gate (C7): it runs before policy evaluation and
// rejects a request outright when the tier's mandatory controls are absent,
// then — on the full path — verifies token state, binding proof, and
// attestation before letting the Decision Coordinator proceed.
type Gate struct {
	tokens       *TokenManager
	killswitch   *KillSwitch
	attestations AttestationVerifier
	introspector Introspector
	logger       *slog.Logger
}

func NewGate(tokens *TokenManager, killswitch *KillSwitch, attestations AttestationVerifier, introspector Introspector, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		tokens:       tokens,
		killswitch:   killswitch,
		attestations: attestations,
		introspector: introspector,
		logger:       logger.With("component", "security.Gate"),
	}
}

// PreRequestCheck is the cheap, read-only check spec.md §4.7 runs ahead of
// policy evaluation: it consults the in-memory kill switch first, then only
// the tier table and the request's declared shape; it never touches the
// token store or an external introspection authority, so it can reject
// malformed high-tier requests before any I/O.
func (g *Gate) PreRequestCheck(req Request) GateResult {
	if blocked, reason := g.killswitch.IsBlocked(req.TenantID, req.AgentID, req.SessionID); blocked {
		return GateResult{Allow: false, DenyReason: reason, Code: string(governor.CodeForbidden)}
	}

	reqs := requirementsFor(req.Tier)
	result := GateResult{Allow: true, Requirements: reqs}

	if reqs.RequestBindingRequired && req.BindingProof == "" {
		result.Allow = false
		result.DenyReason = "request binding proof required at this tier"
		result.Code = string(governor.CodeForbidden)
		result.RequiredActions = append(result.RequiredActions, "provide_binding_proof")
	}
	if reqs.AttestationRequired && req.AttestationID == "" {
		result.Allow = false
		result.DenyReason = "attestation required at this tier"
		result.Code = string(governor.CodeForbidden)
		result.RequiredActions = append(result.RequiredActions, "provide_attestation")
	}
	if requiresPairwiseID(req.Tier, req.Sensitivity) {
		result.RequiredActions = append(result.RequiredActions, "use_pairwise_id")
	}
	if reqs.SyncRevocationRequired && req.HighValue {
		result.RequiredActions = append(result.RequiredActions, "synchronous_introspection")
	}
	return result
}

// Validate is the full validation pass spec.md §4.7 requires before a
// high-value or high-tier operation actually executes: token liveness,
// binding-proof match, attestation signature/window, and — for high-value
// ops at T4/T5 — a synchronous introspection call. Any failure denies by
// default; nothing here fails open.
func (g *Gate) Validate(req Request) GateResult {
	pre := g.PreRequestCheck(req)
	if !pre.Allow {
		return pre
	}

	token, err := g.tokens.Validate(req.TokenSecret)
	if err != nil {
		return GateResult{Allow: false, Requirements: pre.Requirements, DenyReason: err.Error(), Code: string(governor.CodeUnauthorized)}
	}
	if token.TenantID != req.TenantID || token.AgentID != req.AgentID {
		return GateResult{Allow: false, Requirements: pre.Requirements, DenyReason: "token does not match request tenant/agent", Code: string(governor.CodeForbidden)}
	}

	reqs := pre.Requirements
	if reqs.RequestBindingRequired {
		if !verifyBinding(token.Confirmation, req.Method, req.URI, req.BindingProof) {
			return GateResult{Allow: false, Requirements: reqs, DenyReason: "binding proof does not match request method+URI", Code: string(governor.CodeForbidden)}
		}
	}

	if reqs.AttestationRequired {
		if g.attestations == nil {
			return GateResult{Allow: false, Requirements: reqs, DenyReason: "attestation verification unavailable", Code: string(governor.CodeForbidden)}
		}
		valid, err := g.attestations.Verify(req.AttestationID, time.Now())
		if err != nil || !valid {
			return GateResult{Allow: false, Requirements: reqs, DenyReason: "attestation invalid or expired", Code: string(governor.CodeForbidden)}
		}
	}

	if reqs.SyncRevocationRequired && req.HighValue {
		if g.introspector == nil {
			return GateResult{Allow: false, Requirements: reqs, DenyReason: "synchronous introspection unavailable for high-value operation", Code: string(governor.CodeForbidden)}
		}
		active, err := g.introspector.Introspect(token.ID)
		if err != nil || !active {
			return GateResult{Allow: false, Requirements: reqs, DenyReason: "token failed synchronous introspection", Code: string(governor.CodeForbidden)}
		}
	}

	return GateResult{Allow: true, Requirements: reqs}
}

// BindConfirmation derives the confirmation claim a token carries at
// issuance, binding it to the method+URI the caller declared it would use.
func BindConfirmation(method, uri string) string {
	sum := sha256.Sum256([]byte(method + " " + uri))
	return hex.EncodeToString(sum[:])
}

// verifyBinding checks a request's proof-of-possession against the token's
// confirmation claim for the method+URI actually presented. The proof
// itself is expected to be the same hash the token was bound to — a real
// DPoP implementation would additionally check a signature over a
// server-issued nonce, which is outside this gate's scope.
func verifyBinding(confirmation, method, uri, proof string) bool {
	if confirmation == "" || proof == "" {
		return false
	}
	expected := BindConfirmation(method, uri)
	if expected != confirmation {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(proof), []byte(confirmation)) == 1
}
