package condition

import "time"

// resolveLocation picks the timezone for a Time condition: the condition's
// own `timezone` field wins, then the evaluation context's default
// timezone, then UTC (spec.md §4.2).
func resolveLocation(conditionTZ, contextTZ string) *time.Location {
	if conditionTZ != "" {
		if loc, err := time.LoadLocation(conditionTZ); err == nil {
			return loc
		}
	}
	if contextTZ != "" {
		if loc, err := time.LoadLocation(contextTZ); err == nil {
			return loc
		}
	}
	return time.UTC
}
