package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentgovern/governor/internal/governor"
	"github.com/agentgovern/governor/internal/trust"
)

func TestTierTable_BoundsAreMonotonic(t *testing.T) {
	prevTTL := time.Duration(0)
	for tier := trust.T0; tier <= trust.T5; tier++ {
		req := requirementsFor(tier)
		if tier > trust.T0 {
			assert.LessOrEqual(t, req.MaxTokenTTL, prevTTL, "max token TTL must not increase with tier")
		}
		prevTTL = req.MaxTokenTTL
	}
	assert.False(t, requirementsFor(trust.T0).RequestBindingRequired)
	assert.True(t, requirementsFor(trust.T2).RequestBindingRequired)
	assert.True(t, requirementsFor(trust.T4).AttestationRequired)
	assert.True(t, requirementsFor(trust.T5).KeyBindingRequired)
}

func TestRequiresPairwiseID(t *testing.T) {
	assert.False(t, requiresPairwiseID(trust.T2, SensitivityRestricted), "below T3 never requires pairwise id")
	assert.True(t, requiresPairwiseID(trust.T3, SensitivityConfidential))
	assert.False(t, requiresPairwiseID(trust.T3, SensitivityPublic))
}

func newTestGate(t *testing.T) (*Gate, *TokenManager) {
	t.Helper()
	tokens := NewTokenManager(nil)
	ks := NewKillSwitch("", nil)
	gate := NewGate(tokens, ks, nil, nil, nil)
	return gate, tokens
}

func TestGate_PreRequestCheck_RejectsMissingBindingAtT2(t *testing.T) {
	gate, _ := newTestGate(t)
	result := gate.PreRequestCheck(Request{TenantID: "t1", AgentID: "a1", Tier: trust.T2})
	assert.False(t, result.Allow)
	assert.Equal(t, string(governor.CodeForbidden), result.Code)
}

func TestGate_PreRequestCheck_AllowsT0WithoutBinding(t *testing.T) {
	gate, _ := newTestGate(t)
	result := gate.PreRequestCheck(Request{TenantID: "t1", AgentID: "a1", Tier: trust.T0})
	assert.True(t, result.Allow)
}

func TestGate_PreRequestCheck_BlockedByKillSwitch(t *testing.T) {
	gate, _ := newTestGate(t)
	gate.killswitch.TriggerAgent("t1", "a1", "suspicious behavior", "test")
	result := gate.PreRequestCheck(Request{TenantID: "t1", AgentID: "a1", Tier: trust.T0})
	assert.False(t, result.Allow)
	assert.Contains(t, result.DenyReason, "agent kill switch")
}

func TestGate_Validate_SucceedsWithMatchingBindingProof(t *testing.T) {
	gate, tokens := newTestGate(t)
	confirmation := BindConfirmation("POST", "/v1/decisions")
	token, err := tokens.Issue("t1", "a1", RoleAgent, trust.T2, 0, confirmation)
	require.NoError(t, err)

	result := gate.Validate(Request{
		TenantID:     "t1",
		AgentID:      "a1",
		Tier:         trust.T2,
		Method:       "POST",
		URI:          "/v1/decisions",
		TokenSecret:  token.Secret,
		BindingProof: confirmation,
	})
	assert.True(t, result.Allow)
}

func TestGate_Validate_FailsOnMismatchedBindingProof(t *testing.T) {
	gate, tokens := newTestGate(t)
	confirmation := BindConfirmation("POST", "/v1/decisions")
	token, err := tokens.Issue("t1", "a1", RoleAgent, trust.T2, 0, confirmation)
	require.NoError(t, err)

	result := gate.Validate(Request{
		TenantID:     "t1",
		AgentID:      "a1",
		Tier:         trust.T2,
		Method:       "DELETE",
		URI:          "/v1/decisions/5",
		TokenSecret:  token.Secret,
		BindingProof: confirmation,
	})
	assert.False(t, result.Allow)
}

func TestGate_Validate_DefaultDeniesHighValueWithoutIntrospector(t *testing.T) {
	gate, tokens := newTestGate(t)
	confirmation := BindConfirmation("POST", "/v1/transfer")
	token, err := tokens.Issue("t1", "a1", RoleAgent, trust.T4, 0, confirmation)
	require.NoError(t, err)

	result := gate.Validate(Request{
		TenantID:      "t1",
		AgentID:       "a1",
		Tier:          trust.T4,
		Method:        "POST",
		URI:           "/v1/transfer",
		TokenSecret:   token.Secret,
		BindingProof:  confirmation,
		HighValue:     true,
		AttestationID: "att-1",
	})
	assert.False(t, result.Allow, "T4 has no attestation verifier or introspector wired, so it must deny rather than fail open")
}

func TestTokenManager_RevokedTokenFailsValidation(t *testing.T) {
	tokens := NewTokenManager(nil)
	token, err := tokens.Issue("t1", "a1", RoleAgent, trust.T0, 0, "")
	require.NoError(t, err)

	tokens.Revoke(token.Secret)
	_, err = tokens.Validate(token.Secret)
	assert.Error(t, err)
}

func TestTokenManager_ExpiredTokenFailsValidation(t *testing.T) {
	tokens := NewTokenManager(nil)
	token, err := tokens.Issue("t1", "a1", RoleAgent, trust.T0, time.Nanosecond, "")
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	_, err = tokens.Validate(token.Secret)
	assert.Error(t, err)
}

func TestKillSwitch_GlobalBlocksEveryTenant(t *testing.T) {
	ks := NewKillSwitch("", nil)
	ks.TriggerGlobal("incident", "test")
	blocked, _ := ks.IsBlocked("any-tenant", "any-agent", "any-session")
	assert.True(t, blocked)
}

func TestKillSwitch_ResetClearsBlock(t *testing.T) {
	ks := NewKillSwitch("", nil)
	ks.TriggerTenant("t1", "incident", "test")
	blocked, _ := ks.IsBlocked("t1", "a1", "")
	assert.True(t, blocked)

	ks.ResetTenant("t1")
	blocked, _ = ks.IsBlocked("t1", "a1", "")
	assert.False(t, blocked)
}

func TestPairwiseIDDeriver_DeterministicAndDistinct(t *testing.T) {
	deriver := NewPairwiseIDDeriver([]byte("test-master-secret"))
	id1, err := deriver.Derive("t1", "a1", "entity-a")
	require.NoError(t, err)
	id2, err := deriver.Derive("t1", "a1", "entity-a")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	id3, err := deriver.Derive("t1", "a1", "entity-b")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}
