package policy

import (
	"log/slog"
	"sync"
	"time"
)

const (
	// bucketGranularity is the time resolution for counter buckets.
	// Finer granularity gives more accurate sliding windows at the cost of
	// slightly more memory. One second is a good default for rate limits
	// expressed in per-minute or per-second terms.
	bucketGranularity = time.Second

	// gcInterval controls how often expired buckets are pruned. This is
	// checked lazily on each RecordAction call rather than via a background
	// goroutine to keep the type self-contained and easy to test.
	gcInterval = 30 * time.Second

	// maxWindowDuration caps the lookback that GetCount will accept to
	// prevent unbounded memory growth from callers requesting huge windows.
	maxWindowDuration = 24 * time.Hour
)

// bucket holds the count for a single time slice.
type bucket struct {
	key   int64 // unix-second timestamp of the bucket start
	count int
}

// entityCounters holds per-intent-type time-bucketed counters for one
// rate-limit key (a "tenantID:entityID" pair, per decision.Coordinator's
// action rate-limit stage).
type entityCounters struct {
	// intents maps intentType -> ordered slice of buckets.
	intents map[string][]bucket
}

// RateLimiter provides thread-safe sliding-window rate limiting using
// time-bucketed counters. Each (key, intentType) pair maintains an
// independent set of counters. Expired buckets are lazily garbage-collected.
type RateLimiter struct {
	mu       sync.Mutex
	entities map[string]*entityCounters
	lastGC   time.Time
	logger   *slog.Logger
}

// NewRateLimiter creates a new RateLimiter.
func NewRateLimiter(logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		entities: make(map[string]*entityCounters),
		lastGC:   time.Now(),
		logger:   logger.With("component", "policy.RateLimiter"),
	}
}

// RecordAction increments the counter for the given rate-limit key and
// intent type at the current time bucket.
func (r *RateLimiter) RecordAction(key, intentType string) {
	now := time.Now()
	bucketKey := now.Truncate(bucketGranularity).Unix()

	r.mu.Lock()
	defer r.mu.Unlock()

	ec, ok := r.entities[key]
	if !ok {
		ec = &entityCounters{intents: make(map[string][]bucket)}
		r.entities[key] = ec
	}

	buckets := ec.intents[intentType]

	// Fast path: last bucket matches current time key.
	if len(buckets) > 0 && buckets[len(buckets)-1].key == bucketKey {
		buckets[len(buckets)-1].count++
	} else {
		buckets = append(buckets, bucket{key: bucketKey, count: 1})
	}
	ec.intents[intentType] = buckets

	// Lazy GC check.
	if now.Sub(r.lastGC) > gcInterval {
		r.gcLocked(now)
		r.lastGC = now
	}
}

// GetCount returns the total number of actions of the given intent type
// recorded for the key within the specified sliding window. The window
// string is parsed as a Go duration (e.g. "60s", "5m", "1h").
func (r *RateLimiter) GetCount(key, intentType, window string) int {
	dur, err := time.ParseDuration(window)
	if err != nil {
		r.logger.Warn("invalid window duration, returning 0",
			"window", window,
			"error", err,
		)
		return 0
	}
	if dur <= 0 {
		return 0
	}
	if dur > maxWindowDuration {
		dur = maxWindowDuration
	}

	cutoff := time.Now().Add(-dur).Truncate(bucketGranularity).Unix()

	r.mu.Lock()
	defer r.mu.Unlock()

	ec, ok := r.entities[key]
	if !ok {
		return 0
	}

	buckets := ec.intents[intentType]
	total := 0
	for _, b := range buckets {
		if b.key >= cutoff {
			total += b.count
		}
	}
	return total
}

// Reset removes all tracked counters for a rate-limit key. Call this when
// an entity is deprovisioned to free memory.
func (r *RateLimiter) Reset(key string) {
	r.mu.Lock()
	delete(r.entities, key)
	r.mu.Unlock()

	r.logger.Debug("reset rate limit counters", "key", key)
}

// gcLocked prunes buckets older than maxWindowDuration. Must be called
// while r.mu is held.
func (r *RateLimiter) gcLocked(now time.Time) {
	cutoff := now.Add(-maxWindowDuration).Truncate(bucketGranularity).Unix()
	pruned := 0

	for key, ec := range r.entities {
		empty := true
		for it, buckets := range ec.intents {
			// Find the first bucket that is within the retention window.
			firstValid := len(buckets)
			for i, b := range buckets {
				if b.key >= cutoff {
					firstValid = i
					break
				}
			}

			if firstValid > 0 {
				pruned += firstValid
				ec.intents[it] = buckets[firstValid:]
			}

			if len(ec.intents[it]) > 0 {
				empty = false
			} else {
				delete(ec.intents, it)
			}
		}
		if empty {
			delete(r.entities, key)
		}
	}

	if pruned > 0 {
		r.logger.Debug("rate limiter GC complete",
			"pruned_buckets", pruned,
			"active_keys", len(r.entities),
		)
	}
}
