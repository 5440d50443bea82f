package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/agentgovern/governor/internal/trust"
)

// PairwiseIDDeriver derives a stable, per-relying-party identifier for an
// agent so that confidential/restricted-data operations at T3+ never expose
// the agent's global ID to the entity it's acting on, following the same
// HKDF-SHA256 expand-with-context idiom the pack uses for tenant key
// derivation.
type PairwiseIDDeriver struct {
	masterSecret []byte
}

func NewPairwiseIDDeriver(masterSecret []byte) *PairwiseIDDeriver {
	return &PairwiseIDDeriver{masterSecret: masterSecret}
}

// Derive returns a 32-byte pairwise identifier, hex-encoded, unique to the
// (tenantID, agentID, entityID) triple. The same triple always derives the
// same ID; no two distinct entities ever see the same one for a given agent.
func (d *PairwiseIDDeriver) Derive(tenantID, agentID, entityID string) (string, error) {
	salt := []byte("governor-pairwise-kdf")
	info := []byte(fmt.Sprintf("%s|%s|%s", tenantID, agentID, entityID))

	reader := hkdf.New(sha256.New, d.masterSecret, salt, info)
	out := make([]byte, 32)
	if _, err := io.ReadFull(reader, out); err != nil {
		return "", fmt.Errorf("security: derive pairwise id: %w", err)
	}
	return hex.EncodeToString(out), nil
}

// RequiresPairwiseID reports whether a request at this tier and sensitivity
// must carry a pairwise ID rather than the agent's own ID.
func RequiresPairwiseID(tier trust.Band, sensitivity DataSensitivity) bool {
	return requiresPairwiseID(tier, sensitivity)
}
