// Package trust implements the Trust Engine (C6): score composition, time
// decay, ceiling/floor composition, and the signal ingestion protocol that
// together derive an agent's effective trust at any instant.
package trust

import (
	"fmt"
	"strings"
)

// Band is the discrete trust tier T0..T5, ordered T0 (least trusted) to T5
// (most trusted).
type Band int

const (
	T0 Band = iota
	T1
	T2
	T3
	T4
	T5
)

func (b Band) String() string {
	switch b {
	case T0:
		return "T0"
	case T1:
		return "T1"
	case T2:
		return "T2"
	case T3:
		return "T3"
	case T4:
		return "T4"
	case T5:
		return "T5"
	default:
		return "T?"
	}
}

// bandBounds gives the inclusive [min,max] score range for the canonical
// band-from-score mapping (spec.md §3).
var bandBounds = [...][2]int{
	T0: {0, 166},
	T1: {167, 332},
	T2: {333, 499},
	T3: {500, 665},
	T4: {666, 832},
	T5: {833, 1000},
}

// runtimeMinima gives the secondary "runtime tier" min-boundary view. Both
// schemes coexist; BandOf is the canonical source of truth, RuntimeTierOf
// is the alternate minima-based view. Both conversions are total and
// monotonic in score.
var runtimeMinima = [...]int{
	T0: 0,
	T1: 200,
	T2: 400,
	T3: 600,
	T4: 800,
	T5: 900,
}

// BandOf maps a score in [0,1000] to its canonical band using the fixed
// boundaries of spec.md §3.
func BandOf(score int) Band {
	for b := T5; b >= T0; b-- {
		if score >= bandBounds[b][0] {
			return b
		}
	}
	return T0
}

// RuntimeTierOf maps a score to the secondary runtime-tier view, using the
// minima table instead of the canonical band boundaries.
func RuntimeTierOf(score int) Band {
	for b := T5; b >= T0; b-- {
		if score >= runtimeMinima[b] {
			return b
		}
	}
	return T0
}

// MaxScore returns the maximum score that still maps to band b under the
// canonical scheme — used as a certification ceiling.
func (b Band) MaxScore() int {
	if b < T0 || b > T5 {
		return 0
	}
	return bandBounds[b][1]
}

// MinScore returns the minimum score that still maps to band b under the
// canonical scheme — used as a certification floor.
func (b Band) MinScore() int {
	if b < T0 || b > T5 {
		return 0
	}
	return bandBounds[b][0]
}

// legacyAliasA and legacyAliasB are the two coexisting band-naming
// conventions noted in spec.md §9 ("Legacy naming mismatch"). Both are
// accepted as aliases of the canonical T0..T5 enum; any third convention is
// rejected. T0 has no alias in either legacy scheme and is referenced only
// by its canonical name.
var legacyAliasA = map[string]Band{
	"T1_OBSERVED": T1,
	"LIMITED":     T2,
	"STANDARD":    T3,
	"TRUSTED":     T4,
	"CERTIFIED":   T5,
}

// legacyAliasB's third slot is also spelled "TRUSTED" in the source
// material, colliding with legacyAliasA's T4 spelling. Both schemes are
// documented aliases of the same ordered enum (spec.md §9), and the
// canonical policy engine convention resolves the collision in favor of
// scheme A's meaning (T4); scheme B's other three slots are unambiguous.
var legacyAliasB = map[string]Band{
	"T1_SUPERVISED":    T1,
	"CONSTRAINED":      T2,
	"AUTONOMOUS":       T4,
	"MISSION_CRITICAL": T5,
}

// ParseBandAlias resolves a band name under the canonical scheme (T0..T5) or
// either legacy alias scheme. An unrecognised name returns an error — a
// third naming convention is explicitly rejected per spec.md §9.
func ParseBandAlias(name string) (Band, error) {
	n := strings.ToUpper(strings.TrimSpace(name))
	switch n {
	case "T0":
		return T0, nil
	case "T1":
		return T1, nil
	case "T2":
		return T2, nil
	case "T3":
		return T3, nil
	case "T4":
		return T4, nil
	case "T5":
		return T5, nil
	}
	if b, ok := legacyAliasA[n]; ok {
		return b, nil
	}
	if b, ok := legacyAliasB[n]; ok {
		return b, nil
	}
	return 0, fmt.Errorf("trust: unrecognised band name %q (not canonical T0..T5 nor a known legacy alias)", name)
}
