package proof

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// ComputeHash computes hash = SHA256(id||tenantId||entityId||kind||
// canonical(payload)||timestamp||prevHash), per spec.md §3's Proof Event
// invariant. Mirrors the teacher's trace.ComputeHash chaining shape, widened
// to the full field tuple and a canonicalised payload so two independent
// implementations agree byte-for-byte.
func ComputeHash(e *Event) (string, error) {
	canonicalPayload, err := canonicalJSON(e.Payload)
	if err != nil {
		return "", fmt.Errorf("proof: canonicalize payload: %w", err)
	}
	data := fmt.Sprintf("%s|%s|%s|%s|%s|%d|%s",
		e.ID, e.TenantID, e.EntityID, string(e.Kind), string(canonicalPayload), e.Timestamp, e.PrevHash)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:]), nil
}

// VerifyChain walks a totally-ordered run of events for one entity and
// checks both per-event hash integrity and prevHash linkage, mirroring
// trace.VerifyChain. Returns (valid, index-of-first-break); -1 if valid.
func VerifyChain(events []*Event) (bool, int) {
	for i, e := range events {
		expected, err := ComputeHash(e)
		if err != nil || e.Hash != expected {
			return false, i
		}
		if i == 0 {
			if e.PrevHash != GenesisHash {
				return false, i
			}
			continue
		}
		if e.PrevHash != events[i-1].Hash {
			return false, i
		}
	}
	return true, -1
}

// canonicalJSON recursively sorts every object's keys so the byte
// representation is deterministic regardless of map iteration order,
// reusing the same approach as internal/policy's checksum canonicalizer.
func canonicalJSON(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return []byte("null"), nil
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return marshalSorted(generic)
}

func marshalSorted(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := marshalSorted(t[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []interface{}:
		buf := []byte{'['}
		for i, el := range t {
			if i > 0 {
				buf = append(buf, ',')
			}
			vb, err := marshalSorted(el)
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(t)
	}
}
