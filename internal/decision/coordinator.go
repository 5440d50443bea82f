package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentgovern/governor/internal/alert"
	"github.com/agentgovern/governor/internal/condition"
	"github.com/agentgovern/governor/internal/escalation"
	"github.com/agentgovern/governor/internal/policy"
	"github.com/agentgovern/governor/internal/proof"
	"github.com/agentgovern/governor/internal/security"
	"github.com/agentgovern/governor/internal/trust"
	"github.com/oklog/ulid/v2"
)

// PolicySource is the narrow slice of the Policy Store/Cache (C3/C4) the
// Decision Coordinator needs: the published, tenant-scoped policy set for a
// namespace. Satisfied by *policy.Cache.
type PolicySource interface {
	GetPublishedPolicies(ctx context.Context, tenantID, namespace string) ([]policy.Policy, error)
}

// TrustSource is the narrow slice of the Trust Engine (C6) needed for a
// read-only lookup ahead of policy evaluation. Satisfied by *trust.Engine.
type TrustSource interface {
	Effective(ctx context.Context, tenantID, entityID string, ceilings trust.Ceilings) (trust.EffectiveTrust, error)
}

// EscalationSource is the narrow slice of the Escalation Coordinator (C8)
// needed to suspend a decision. Satisfied by *escalation.Coordinator.
type EscalationSource interface {
	Create(ctx context.Context, tenantID string, in escalation.CreateInput) (escalation.Escalation, error)
}

// ProofSink is the narrow slice of the Proof Chain (C9) needed to record a
// decision's outcome. Satisfied by *proof.Chain.
type ProofSink interface {
	Emit(ctx context.Context, in proof.EmitInput) (*proof.Event, error)
}

// Coordinator is the Decision Coordinator (C10): it runs the
// received -> security_pre_check -> rate_limit -> load_policies ->
// trust_lookup -> evaluate -> proof_emit -> reply pipeline spec.md §4.10
// describes, wiring together every upstream component without owning any
// of their state.
type Coordinator struct {
	gate         *security.Gate
	trustEngine  TrustSource
	policies     PolicySource
	escalations  EscalationSource
	proofChain   ProofSink
	alerts       *alert.Manager
	rateLimiter  *policy.RateLimiter
	rateLimitMax int
	rateWindow   string
	logger       *slog.Logger
}

func NewCoordinator(
	gate *security.Gate,
	trustEngine TrustSource,
	policies PolicySource,
	escalations EscalationSource,
	proofChain ProofSink,
	alerts *alert.Manager,
	logger *slog.Logger,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		gate:        gate,
		trustEngine: trustEngine,
		policies:    policies,
		escalations: escalations,
		proofChain:  proofChain,
		alerts:      alerts,
		logger:      logger.With("component", "decision.Coordinator"),
	}
}

// WithRateLimit attaches a per-entity action rate limit: at most max actions
// of a given intent type within window (a Go duration string, e.g. "1m").
// A zero max leaves rate limiting disabled, matching the Coordinator's
// zero-value behavior from NewCoordinator.
func (c *Coordinator) WithRateLimit(limiter *policy.RateLimiter, max int, window string) *Coordinator {
	c.rateLimiter = limiter
	c.rateLimitMax = max
	c.rateWindow = window
	return c
}

// Decide runs one intent through the full pipeline and returns the combined
// verdict. It never returns an error for a denied decision — a deny is a
// Verdict, not a failure; Decide only errors when the policy cache or the
// trust store it depends on itself fails. A failure to raise an escalation
// is logged and turns the verdict into a deny rather than an error.
func (c *Coordinator) Decide(ctx context.Context, req Request) (Verdict, error) {
	start := time.Now()
	intentID := req.IntentID
	if intentID == "" {
		intentID = ulid.Make().String()
	}
	c.emitIntentReceived(ctx, req, intentID)

	if req.Security != nil && c.gate != nil {
		gateResult := c.gate.Validate(*req.Security)
		if !gateResult.Allow {
			v := Verdict{
				Action:      policy.ActionDeny,
				Reason:      gateResult.DenyReason,
				ConcludedAt: StageSecurityGate,
				EvaluatedAt: time.Now(),
				DurationMs:  time.Since(start).Milliseconds(),
			}
			c.emitAndAlert(ctx, req, intentID, v)
			return v, nil
		}
	}

	if c.rateLimiter != nil && c.rateLimitMax > 0 {
		rateLimitKey := req.TenantID + ":" + req.EntityID
		c.rateLimiter.RecordAction(rateLimitKey, req.IntentType)
		if c.rateLimiter.GetCount(rateLimitKey, req.IntentType, c.rateWindow) > c.rateLimitMax {
			v := Verdict{
				Action:      policy.ActionDeny,
				Reason:      fmt.Sprintf("rate limit exceeded for intent type %q", req.IntentType),
				ConcludedAt: StageRateLimit,
				EvaluatedAt: time.Now(),
				DurationMs:  time.Since(start).Milliseconds(),
			}
			c.emitAndAlert(ctx, req, intentID, v)
			return v, nil
		}
	}

	policies, err := c.policies.GetPublishedPolicies(ctx, req.TenantID, req.Namespace)
	if err != nil {
		return Verdict{}, fmt.Errorf("decision: load policies: %w", err)
	}

	effective, err := c.trustEngine.Effective(ctx, req.TenantID, req.EntityID, req.Ceilings)
	if err != nil {
		return Verdict{}, fmt.Errorf("decision: trust lookup: %w", err)
	}

	evalInput := policy.EvalInput{
		IntentType: req.IntentType,
		EntityType: req.EntityType,
		TrustBand:  effective.Band.String(),
		Namespace:  req.Namespace,
		Context: condition.Context{
			Values:    buildConditionValues(req),
			TrustBand: effective.Band,
			Timestamp: time.Now(),
		},
	}
	result := policy.Evaluate(policies, evalInput)

	v := Verdict{
		Action:        result.FinalAction,
		Reason:        result.Reason,
		AppliedPolicy: result.AppliedPolicy,
		Constraints:   result.Constraints,
		TrustScore:    effective.Score,
		TrustBand:     effective.Band,
		ConcludedAt:   StagePolicy,
		EvaluatedAt:   time.Now(),
	}

	if result.FinalAction == policy.ActionEscalate && c.escalations != nil {
		esc, err := c.raiseEscalation(ctx, req, intentID, result)
		if err != nil {
			c.logger.Error("decision: failed to raise escalation, denying by default",
				"intent_id", intentID, "error", err)
			v.Action = policy.ActionDeny
			v.Reason = "escalation required but could not be raised: " + err.Error()
		} else {
			v.EscalationID = esc.ID
			v.ConcludedAt = StageEscalation
		}
	}

	v.DurationMs = time.Since(start).Milliseconds()
	c.emitAndAlert(ctx, req, intentID, v)
	return v, nil
}

func (c *Coordinator) raiseEscalation(ctx context.Context, req Request, intentID string, result policy.EvalResult) (escalation.Escalation, error) {
	priority := escalation.PriorityMedium
	autoDeny := false
	var timeoutMinutes int
	if result.Escalation != nil {
		autoDeny = result.Escalation.AutoDenyOnTimeout
		timeoutMinutes = int(result.Escalation.Timeout.Minutes())
	}
	return c.escalations.Create(ctx, req.TenantID, escalation.CreateInput{
		IntentID:          intentID,
		EntityID:          req.EntityID,
		Reason:            result.Reason,
		Priority:          priority,
		RequestedAction:   req.RequestedAction,
		AutoDenyOnTimeout: autoDeny,
		TimeoutMinutes:    timeoutMinutes,
		ActorType:         "system",
	})
}

// emitIntentReceived records the pipeline's entry point in the Proof Chain,
// the first link in the per-entity hash chain that the eventual
// decision_made event (emitAndAlert) chains onto, per spec.md §4.10's
// minimum "intent_received on entry, one decision_made per final action".
func (c *Coordinator) emitIntentReceived(ctx context.Context, req Request, intentID string) {
	if c.proofChain == nil {
		return
	}
	if _, err := c.proofChain.Emit(ctx, proof.EmitInput{
		TenantID: req.TenantID,
		EntityID: req.EntityID,
		Kind:     proof.KindIntentReceived,
		Payload: map[string]interface{}{
			"intentId":   intentID,
			"intentType": req.IntentType,
			"namespace":  req.Namespace,
		},
	}); err != nil {
		c.logger.Error("decision: failed to emit intent_received proof event", "intent_id", intentID, "error", err)
	}
}

// emitAndAlert records the decision in the Proof Chain and, for a
// deny/terminate outcome, fires an alert — both fire-and-forget from the
// caller's perspective (the proof write is itself async inside Chain.Emit;
// the alert dispatch is async inside Manager.Send), matching the teacher's
// EvaluateAction pattern of returning the verdict without blocking on either.
func (c *Coordinator) emitAndAlert(ctx context.Context, req Request, intentID string, v Verdict) {
	if c.proofChain != nil {
		payload := map[string]interface{}{
			"intentId":      intentID,
			"action":        string(v.Action),
			"reason":        v.Reason,
			"appliedPolicy": v.AppliedPolicy,
			"concludedAt":   string(v.ConcludedAt),
			"trustScore":    v.TrustScore,
			"trustBand":     v.TrustBand.String(),
		}
		if _, err := c.proofChain.Emit(ctx, proof.EmitInput{
			TenantID: req.TenantID,
			EntityID: req.EntityID,
			Kind:     proof.KindDecisionMade,
			Payload:  payload,
		}); err != nil {
			c.logger.Error("decision: failed to emit proof event", "intent_id", intentID, "error", err)
		}
	}

	if c.alerts == nil {
		return
	}
	if v.Action == policy.ActionDeny || v.Action == policy.ActionTerminate {
		c.alerts.Send(alert.Alert{
			Type:     "decision_denied",
			Severity: "warning",
			Title:    "Decision denied",
			Message:  v.Reason,
			EntityID: req.EntityID,
			IntentID: intentID,
			Details: map[string]interface{}{
				"intent_id":      intentID,
				"applied_policy": v.AppliedPolicy,
				"concluded_at":   string(v.ConcludedAt),
			},
		})
	}
}

// buildConditionValues projects a Request onto the intent/entity/environment
// vocabulary condition.Context.Values resolves dotted field paths against
// (e.g. "intent.type", "entity.id") — the same top-level shape
// NewCELEvaluator declares CEL variables for.
func buildConditionValues(req Request) map[string]interface{} {
	intent := map[string]interface{}{"type": req.IntentType}
	for k, v := range req.Action {
		intent[k] = v
	}
	return map[string]interface{}{
		"intent": intent,
		"entity": map[string]interface{}{
			"id":   req.EntityID,
			"type": req.EntityType,
		},
		"environment": map[string]interface{}{
			"tenantId":  req.TenantID,
			"namespace": req.Namespace,
		},
	}
}
