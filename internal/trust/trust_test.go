package trust

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBandOf_Boundaries(t *testing.T) {
	cases := []struct {
		score int
		want  Band
	}{
		{99, T0}, {100, T0}, {166, T0}, {167, T1},
		{332, T1}, {333, T2},
		{499, T2}, {500, T3},
		{665, T3}, {666, T4},
		{832, T4}, {833, T5},
		{1000, T5}, {0, T0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, BandOf(tc.score), "score %d", tc.score)
	}
}

func TestRuntimeTierOf_Monotonic(t *testing.T) {
	prev := RuntimeTierOf(0)
	for s := 1; s <= 1000; s++ {
		cur := RuntimeTierOf(s)
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestParseBandAlias(t *testing.T) {
	good := map[string]Band{
		"T3": T3, "t4": T4,
		"LIMITED": T2, "CERTIFIED": T5, "TRUSTED": T4,
		"CONSTRAINED": T2, "AUTONOMOUS": T4, "MISSION_CRITICAL": T5,
	}
	for alias, want := range good {
		got, err := ParseBandAlias(alias)
		assert.NoError(t, err)
		assert.Equal(t, want, got, alias)
	}
	_, err := ParseBandAlias("SUPER_TRUSTED")
	assert.Error(t, err)
}

func TestRetention_Monotonicity(t *testing.T) {
	prev := 1.0
	for day := 0; day <= 400; day += 3 {
		r := Retention(day)
		assert.LessOrEqual(t, r, prev+1e-9)
		prev = r
	}
	assert.Equal(t, 1.0, Retention(0))
	assert.InDelta(t, 0.5, Retention(182), 1e-9)
	assert.InDelta(t, 0.5, Retention(500), 1e-9)
}

func TestRetention_GraceWindowHoldsFlat(t *testing.T) {
	for day := 0; day <= 6; day++ {
		assert.Equal(t, 1.0, Retention(day), "day %d should still be in the grace window", day)
	}
	assert.Less(t, Retention(7), 1.0)
}

func TestRetention_MilestoneInterpolation(t *testing.T) {
	// day 10 lies between day 7 (0.95) and day 14 (0.88).
	got := Retention(10)
	assert.Greater(t, got, 0.88)
	assert.Less(t, got, 0.95)
}

func TestComposeEffective_CertificationFloorAndCeiling(t *testing.T) {
	eff := ComposeEffective(0, Ceilings{
		CertificationTier:  T4,
		ObservabilityClass: ObservabilityVerified,
		Context:            ContextCeiling{MaxTier: T5},
		Competence:         CompetenceMaster,
	})
	assert.GreaterOrEqual(t, eff.Score, T4.MinScore())
	assert.LessOrEqual(t, eff.Score, T4.MaxScore())
}

func TestComposeEffective_ObservabilityCeiling(t *testing.T) {
	eff := ComposeEffective(1000, Ceilings{
		CertificationTier:  T5,
		ObservabilityClass: ObservabilityBlackBox,
		Context:            ContextCeiling{MaxTier: T5},
		Competence:         CompetenceMaster,
	})
	assert.LessOrEqual(t, eff.Score, 600)
}

func TestComposite_RangeInvariant(t *testing.T) {
	for _, c := range []ComponentScores{
		{0, 0, 0, 0},
		{1, 1, 1, 1},
		{0.5, 0.3, 0.9, 0.1},
	} {
		s := Composite(c)
		assert.GreaterOrEqual(t, s, 0)
		assert.LessOrEqual(t, s, 1000)
	}
}

func TestRateLimiter_PerSourceBudget(t *testing.T) {
	rl := NewRateLimiter()
	rl.limit = 3
	src := "test-source"
	assert.True(t, rl.Allow(src))
	assert.True(t, rl.Allow(src))
	assert.True(t, rl.Allow(src))
	assert.False(t, rl.Allow(src))
}

func TestLoopDetector_ThresholdExceeded(t *testing.T) {
	d := NewLoopDetector(LoopDetectorConfig{Enabled: true, Threshold: 2, Window: time.Minute})
	ev := ActionEvent{EntityID: "a1", Signature: "same-action"}
	assert.Nil(t, d.Check(ev))
	assert.Nil(t, d.Check(ev))
	got := d.Check(ev)
	assert.NotNil(t, got)
	assert.Equal(t, "loop", got.Kind)
}
