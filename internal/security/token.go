package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentgovern/governor/internal/trust"
)

// Role is an API token's access level, adapted from the teacher's RBAC
// scheme onto the governor's own action surface.
type Role string

const (
	RoleAgent    Role = "agent"    // may request decisions and read proofs
	RoleOperator Role = "operator" // may manage policies and resolve escalations
	RoleAdmin    Role = "admin"    // full access including tenant/config changes
)

// HasPermission mirrors the teacher's role-action matrix.
func HasPermission(role Role, action string) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleOperator:
		return action != "config.change" && action != "token.create"
	case RoleAgent:
		return action == "decision.evaluate" || action == "proof.read"
	default:
		return false
	}
}

// Token is an API token bound to a tier-appropriate TTL and, from T2
// upward, a request-binding confirmation claim.
type Token struct {
	ID           string
	Secret       string `json:"-"`
	Role         Role
	TenantID     string
	AgentID      string
	Tier         trust.Band
	Confirmation string // binding-proof confirmation claim (method+URI hash), empty below T2
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Revoked      bool
}

func (t Token) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// TokenManager issues and validates tokens with tier-scaled TTLs (spec.md
// §4.7's "max access-token TTL" column), adapted from the teacher's
// IP-bound TokenManager generalized to method+URI request binding.
type TokenManager struct {
	mu     sync.RWMutex
	tokens map[string]Token // secret → token
	logger *slog.Logger
}

func NewTokenManager(logger *slog.Logger) *TokenManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenManager{
		tokens: make(map[string]Token),
		logger: logger.With("component", "security.TokenManager"),
	}
}

// Issue creates a token whose TTL is capped at the tier's maximum. confirmation
// is the binding-proof confirmation claim (BindConfirmation(method, uri)) for
// tiers that require request binding; pass "" below T2.
func (m *TokenManager) Issue(tenantID, agentID string, role Role, tier trust.Band, ttl time.Duration, confirmation string) (Token, error) {
	maxTTL := requirementsFor(tier).MaxTokenTTL
	if ttl <= 0 || ttl > maxTTL {
		ttl = maxTTL
	}

	secret, err := generateSecret()
	if err != nil {
		return Token{}, fmt.Errorf("security: generate token secret: %w", err)
	}
	id, err := generateSecret()
	if err != nil {
		return Token{}, fmt.Errorf("security: generate token id: %w", err)
	}

	now := time.Now()
	token := Token{
		ID:           id[:16],
		Secret:       secret,
		Role:         role,
		TenantID:     tenantID,
		AgentID:      agentID,
		Tier:         tier,
		Confirmation: confirmation,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}

	m.mu.Lock()
	m.tokens[secret] = token
	m.mu.Unlock()

	m.logger.Info("token issued", "token_id", token.ID, "tenant_id", tenantID, "agent_id", agentID, "tier", tier, "expires_at", token.ExpiresAt)
	return token, nil
}

// Validate looks up a token by secret and checks expiry/revocation only —
// binding-proof matching is handled separately by verifyBinding since it
// needs the live request's method+URI.
func (m *TokenManager) Validate(secret string) (Token, error) {
	m.mu.RLock()
	token, ok := m.tokens[secret]
	m.mu.RUnlock()

	if !ok {
		return Token{}, fmt.Errorf("security: invalid token")
	}
	if token.Revoked {
		return Token{}, fmt.Errorf("security: token revoked")
	}
	if token.IsExpired() {
		m.mu.Lock()
		delete(m.tokens, secret)
		m.mu.Unlock()
		return Token{}, fmt.Errorf("security: token expired")
	}
	return token, nil
}

// Revoke marks a token revoked so a synchronous introspection check (T4/T5
// high-value operations) observes it immediately.
func (m *TokenManager) Revoke(secret string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if token, ok := m.tokens[secret]; ok {
		token.Revoked = true
		m.tokens[secret] = token
		m.logger.Info("token revoked", "token_id", token.ID)
	}
}

// CleanExpired sweeps expired tokens; callers run it on a ticker.
func (m *TokenManager) CleanExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for secret, token := range m.tokens {
		if token.IsExpired() {
			delete(m.tokens, secret)
			count++
		}
	}
	return count
}

func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
