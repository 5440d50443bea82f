package trust

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ProofEmitter is the narrow slice of the Proof Chain (C9) the Trust Engine
// needs: emitting trust_delta and tier_changed events as a side effect of
// score recomputation. Defined locally (rather than importing internal/proof)
// to keep the dependency direction leaf-first, matching the teacher's
// practice of small per-consumer interfaces (see internal/server/grpc.go's
// PolicyEngine/DetectionEngine/AlertManager interfaces).
type ProofEmitter interface {
	Emit(ctx context.Context, tenantID, entityID, kind string, payload map[string]interface{}) error
}

// CacheInvalidator is the narrow slice of the Policy Loader (C4) needed to
// invalidate caches keyed on an entity's trust band, per the update
// protocol's step (g).
type CacheInvalidator interface {
	InvalidateEntity(tenantID, entityID string)
}

// Record is the persisted per-agent trust state.
type Record struct {
	TenantID     string
	EntityID     string
	Components   ComponentScores
	RawCounters  BehavioralInput
	Compliance   ComplianceInput
	Identity     IdentityInput
	Context      ContextInput
	LastActivity time.Time
	Score        int
	Band         Band
}

// Store persists trust records and the append-only signal log.
type Store interface {
	GetRecord(ctx context.Context, tenantID, entityID string) (*Record, error)
	PutRecord(ctx context.Context, rec *Record) error
	AppendSignal(ctx context.Context, sig Signal) error
	SeenSignal(ctx context.Context, source, id string) (bool, error)
}

// Engine is the Trust Engine (C6).
type Engine struct {
	mu        sync.Mutex
	store     Store
	proof     ProofEmitter
	cache     CacheInvalidator
	limiter   *RateLimiter
	logger    *slog.Logger
}

// NewEngine constructs a Trust Engine. cache may be nil if no loader cache
// needs invalidation (e.g. in tests).
func NewEngine(store Store, proof ProofEmitter, cache CacheInvalidator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:   store,
		proof:   proof,
		cache:   cache,
		limiter: NewRateLimiter(),
		logger:  logger.With("component", "trust"),
	}
}

// Ingest applies the update protocol of spec.md §4.6 step (a)-(i) for one
// incoming signal: validate source, dedup/enqueue, recompute the affected
// component, recompute composite, apply decay & ceilings, persist,
// invalidate caches, emit trust_delta, and emit tier_changed if the band
// moved.
func (e *Engine) Ingest(ctx context.Context, sig Signal, ceilings Ceilings) (EffectiveTrust, error) {
	if sig.Source == "" {
		return EffectiveTrust{}, fmt.Errorf("trust: signal missing source")
	}

	seen, err := e.store.SeenSignal(ctx, sig.Source, sig.ID)
	if err != nil {
		return EffectiveTrust{}, fmt.Errorf("trust: dedup check: %w", err)
	}
	if seen {
		e.logger.Debug("duplicate signal ignored", "source", sig.Source, "id", sig.ID)
		rec, err := e.store.GetRecord(ctx, sig.Metadata["tenantId"].(string), sig.EntityID)
		if err != nil {
			return EffectiveTrust{}, err
		}
		return ComposeEffective(ApplyDecay(Composite(rec.Components), daysSince(rec.LastActivity)), ceilings), nil
	}

	if !e.limiter.Allow(sig.Source) {
		return EffectiveTrust{}, fmt.Errorf("trust: source %q over rate limit: %w", sig.Source, errRateLimited)
	}

	tenantID, _ := sig.Metadata["tenantId"].(string)

	switch sig.Type {
	case "success", "failure", "quality", "efficiency", "compliance_positive",
		"violation_low", "violation_medium", "violation_high", "violation_critical", "anomaly_detected":
	default:
		e.logger.Warn("unknown signal type dropped", "type", sig.Type, "source", sig.Source, "id", sig.ID)
		return e.Effective(ctx, tenantID, sig.EntityID, ceilings)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, err := e.store.GetRecord(ctx, tenantID, sig.EntityID)
	if err != nil {
		return EffectiveTrust{}, fmt.Errorf("trust: load record: %w", err)
	}
	if rec == nil {
		rec = &Record{TenantID: tenantID, EntityID: sig.EntityID}
	}

	previousBand := rec.Band
	applySignal(rec, sig)

	composite := Composite(rec.Components)
	resetsDecay := sig.Type == "success" || sig.Type == "compliance_positive" || sig.Type == "reverification"
	if resetsDecay {
		rec.LastActivity = sig.Timestamp
	}
	decayed := ApplyDecay(composite, daysSince(rec.LastActivity))
	effective := ComposeEffective(decayed, ceilings)

	rec.Score = effective.Score
	rec.Band = effective.Band

	if err := e.store.AppendSignal(ctx, sig); err != nil {
		return EffectiveTrust{}, fmt.Errorf("trust: append signal: %w", err)
	}
	if err := e.store.PutRecord(ctx, rec); err != nil {
		return EffectiveTrust{}, fmt.Errorf("trust: persist record: %w", err)
	}

	if e.cache != nil {
		e.cache.InvalidateEntity(tenantID, sig.EntityID)
	}

	if e.proof != nil {
		_ = e.proof.Emit(ctx, tenantID, sig.EntityID, "trust_delta", map[string]interface{}{
			"signalType": sig.Type,
			"newScore":   effective.Score,
			"newBand":    effective.Band.String(),
		})
		if previousBand != effective.Band {
			_ = e.proof.Emit(ctx, tenantID, sig.EntityID, "trust_delta", map[string]interface{}{
				"event":        "tier_changed",
				"previousBand": previousBand.String(),
				"newBand":      effective.Band.String(),
			})
		}
	}

	return effective, nil
}

// Effective returns the current effective trust for an agent without
// ingesting a new signal.
func (e *Engine) Effective(ctx context.Context, tenantID, entityID string, ceilings Ceilings) (EffectiveTrust, error) {
	rec, err := e.store.GetRecord(ctx, tenantID, entityID)
	if err != nil {
		return EffectiveTrust{}, err
	}
	if rec == nil {
		return ComposeEffective(0, ceilings), nil
	}
	decayed := ApplyDecay(Composite(rec.Components), daysSince(rec.LastActivity))
	return ComposeEffective(decayed, ceilings), nil
}

func applySignal(rec *Record, sig Signal) {
	switch sig.Type {
	case "success":
		rec.RawCounters.Successes++
	case "failure":
		rec.RawCounters.Failures++
	case "quality":
		rec.RawCounters.Quality = clamp01(float64(sig.Value) / 100.0)
	case "efficiency":
		rec.RawCounters.Efficiency = clamp01(float64(sig.Value) / 100.0)
	case "compliance_positive":
		rec.Compliance.AdherenceRate = clamp01(rec.Compliance.AdherenceRate + float64(sig.Value)/1000.0)
	case "violation_low":
		rec.Compliance.LowViolations++
	case "violation_medium":
		rec.Compliance.MediumViolations++
	case "violation_high":
		rec.Compliance.HighViolations++
	case "violation_critical":
		rec.Compliance.CriticalViolations++
	case "anomaly_detected":
		rec.Compliance.MediumViolations++
	default:
		// Unknown signal type: dropped with a warning, not fatal
		// (spec.md §4.6 Failures).
	}
	rec.Components = ComponentScores{
		Behavioral: Behavioral(rec.RawCounters),
		Compliance: Compliance(rec.Compliance),
		Identity:   IdentityComponent(rec.Identity),
		Context:    ContextComponent(rec.Context),
	}
}

func daysSince(t time.Time) int {
	if t.IsZero() {
		return 1 << 20 // never active: fully decayed
	}
	d := time.Since(t)
	return int(d.Hours() / 24)
}
