package trust

// decayMilestone is one (day, retention) anchor point in the piecewise-linear
// decay curve of spec.md §4.6.
type decayMilestone struct {
	day       int
	retention float64
}

// decayCurve is ordered by day ascending; the 0.00 and 6.00 anchors pin the
// day 0-6 grace window flat at 100% retention before interpolation begins
// between day 6 and day 7.
var decayCurve = []decayMilestone{
	{day: 0, retention: 1.00},
	{day: 6, retention: 1.00},
	{day: 7, retention: 0.95},
	{day: 14, retention: 0.88},
	{day: 28, retention: 0.75},
	{day: 56, retention: 0.62},
	{day: 112, retention: 0.55},
	{day: 182, retention: 0.50},
}

// Retention returns the decay retention fraction for the given number of
// days since last activity, linearly interpolating between milestones and
// holding flat at the final milestone's retention beyond day 182. Retention
// is non-increasing in day (decay monotonicity, spec.md §8).
func Retention(daysSinceActivity int) float64 {
	if daysSinceActivity <= 0 {
		return 1.0
	}
	for i := 1; i < len(decayCurve); i++ {
		prev := decayCurve[i-1]
		next := decayCurve[i]
		if daysSinceActivity <= next.day {
			if next.day == prev.day {
				return next.retention
			}
			progress := float64(daysSinceActivity-prev.day) / float64(next.day-prev.day)
			return prev.retention - progress*(prev.retention-next.retention)
		}
	}
	return decayCurve[len(decayCurve)-1].retention
}

// ApplyDecay scales a raw composite score by the retention fraction for the
// given elapsed days.
func ApplyDecay(composite int, daysSinceActivity int) int {
	return int(float64(composite)*Retention(daysSinceActivity) + 0.5)
}
