package decision

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/agentgovern/governor/internal/condition"
	"github.com/agentgovern/governor/internal/config"
	"github.com/agentgovern/governor/internal/alert"
	"github.com/agentgovern/governor/internal/escalation"
	"github.com/agentgovern/governor/internal/policy"
	"github.com/agentgovern/governor/internal/proof"
	"github.com/agentgovern/governor/internal/security"
	"github.com/agentgovern/governor/internal/trust"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakePolicySource struct {
	policies []policy.Policy
}

func (f *fakePolicySource) GetPublishedPolicies(ctx context.Context, tenantID, namespace string) ([]policy.Policy, error) {
	return f.policies, nil
}

type fakeTrustSource struct {
	effective trust.EffectiveTrust
}

func (f *fakeTrustSource) Effective(ctx context.Context, tenantID, entityID string, ceilings trust.Ceilings) (trust.EffectiveTrust, error) {
	return f.effective, nil
}

type fakeEscalationSource struct {
	created escalation.CreateInput
	result  escalation.Escalation
}

func (f *fakeEscalationSource) Create(ctx context.Context, tenantID string, in escalation.CreateInput) (escalation.Escalation, error) {
	f.created = in
	if f.result.ID == "" {
		f.result = escalation.Escalation{ID: "esc-1", TenantID: tenantID, Status: escalation.StatusPending}
	}
	return f.result, nil
}

type fakeProofSink struct {
	emitted []proof.EmitInput
}

func (f *fakeProofSink) Emit(ctx context.Context, in proof.EmitInput) (*proof.Event, error) {
	f.emitted = append(f.emitted, in)
	return &proof.Event{ID: "ev-1", TenantID: in.TenantID, EntityID: in.EntityID, Kind: in.Kind}, nil
}

func denyPolicy() policy.Policy {
	return policy.Policy{
		ID:     "p-deny",
		Name:   "deny-high-value",
		Status: policy.StatusPublished,
		Definition: policy.Definition{
			Rules: []policy.Rule{
				{
					ID: "r1", Enabled: true, Priority: 1,
					When: condition.Condition{Field: &condition.FieldCondition{
						Field: "intent.type", Op: condition.OpEquals, Value: "db.delete",
					}},
					Then: policy.RuleAction{Action: policy.ActionDeny, Reason: "deletes are forbidden"},
				},
			},
			DefaultAction: policy.ActionAllow,
		},
	}
}

func escalatePolicy() policy.Policy {
	return policy.Policy{
		ID:     "p-escalate",
		Name:   "escalate-transfer",
		Status: policy.StatusPublished,
		Definition: policy.Definition{
			Rules: []policy.Rule{
				{
					ID: "r1", Enabled: true, Priority: 1,
					When: condition.Condition{Field: &condition.FieldCondition{
						Field: "intent.type", Op: condition.OpEquals, Value: "fund.transfer",
					}},
					Then: policy.RuleAction{
						Action: policy.ActionEscalate,
						Reason: "large transfer requires approval",
						Escalation: &policy.EscalationSpec{
							Timeout: 30 * time.Minute, AutoDenyOnTimeout: true,
						},
					},
				},
			},
			DefaultAction: policy.ActionAllow,
		},
	}
}

func newTestCoordinator(policies []policy.Policy, effective trust.EffectiveTrust) (*Coordinator, *fakeEscalationSource, *fakeProofSink) {
	esc := &fakeEscalationSource{}
	proofSink := &fakeProofSink{}
	alertMgr := alert.NewManager(config.AlertsConfig{}, testLogger())
	c := NewCoordinator(nil, &fakeTrustSource{effective: effective}, &fakePolicySource{policies: policies}, esc, proofSink, alertMgr, testLogger())
	return c, esc, proofSink
}

func TestDecide_AllowsWhenNoPolicyMatches(t *testing.T) {
	c, _, proofSink := newTestCoordinator([]policy.Policy{denyPolicy()}, trust.EffectiveTrust{Score: 500, Band: trust.T3})

	v, err := c.Decide(context.Background(), Request{
		TenantID: "t1", EntityID: "agent-1",
		Action: map[string]interface{}{"type": "db.read"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Action != policy.ActionAllow {
		t.Fatalf("expected allow, got %s", v.Action)
	}
	if len(proofSink.emitted) != 2 {
		t.Fatalf("expected an intent_received and a decision_made proof event, got %+v", proofSink.emitted)
	}
	if proofSink.emitted[0].Kind != proof.KindIntentReceived {
		t.Fatalf("expected intent_received first, got %s", proofSink.emitted[0].Kind)
	}
	if proofSink.emitted[1].Kind != proof.KindDecisionMade {
		t.Fatalf("expected decision_made second, got %s", proofSink.emitted[1].Kind)
	}
}

func TestDecide_DeniesOnMatchingRule(t *testing.T) {
	c, _, _ := newTestCoordinator([]policy.Policy{denyPolicy()}, trust.EffectiveTrust{Score: 500, Band: trust.T3})

	v, err := c.Decide(context.Background(), Request{
		TenantID: "t1", EntityID: "agent-1",
		Action: map[string]interface{}{"type": "db.delete"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Action != policy.ActionDeny {
		t.Fatalf("expected deny, got %s", v.Action)
	}
	if v.AppliedPolicy != "deny-high-value" {
		t.Fatalf("expected applied policy name, got %q", v.AppliedPolicy)
	}
}

func TestDecide_SecurityGateDenyShortCircuitsPolicy(t *testing.T) {
	ks := security.NewKillSwitch("", testLogger())
	ks.TriggerTenant("t1", "incident", "test")
	gate := security.NewGate(security.NewTokenManager(testLogger()), ks, nil, nil, testLogger())

	esc := &fakeEscalationSource{}
	proofSink := &fakeProofSink{}
	alertMgr := alert.NewManager(config.AlertsConfig{}, testLogger())
	c := NewCoordinator(gate, &fakeTrustSource{effective: trust.EffectiveTrust{Score: 900, Band: trust.T5}},
		&fakePolicySource{policies: []policy.Policy{denyPolicy()}}, esc, proofSink, alertMgr, testLogger())

	v, err := c.Decide(context.Background(), Request{
		TenantID: "t1", EntityID: "agent-1",
		Action:   map[string]interface{}{"type": "db.read"},
		Security: &security.Request{TenantID: "t1", AgentID: "agent-1", Tier: trust.T0},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Action != policy.ActionDeny {
		t.Fatalf("expected deny from kill switch, got %s", v.Action)
	}
	if v.ConcludedAt != StageSecurityGate {
		t.Fatalf("expected conclusion at security gate, got %s", v.ConcludedAt)
	}
}

func TestDecide_EscalateRaisesEscalationAndReturnsID(t *testing.T) {
	c, esc, _ := newTestCoordinator([]policy.Policy{escalatePolicy()}, trust.EffectiveTrust{Score: 400, Band: trust.T2})

	v, err := c.Decide(context.Background(), Request{
		TenantID: "t1", EntityID: "agent-1", IntentID: "intent-1",
		RequestedAction: "transfer $50000",
		Action:          map[string]interface{}{"type": "fund.transfer"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Action != policy.ActionEscalate {
		t.Fatalf("expected escalate, got %s", v.Action)
	}
	if v.EscalationID == "" {
		t.Fatalf("expected an escalation id on the verdict")
	}
	if esc.created.IntentID != "intent-1" || esc.created.RequestedAction != "transfer $50000" {
		t.Fatalf("escalation not created with expected fields: %+v", esc.created)
	}
	if !esc.created.AutoDenyOnTimeout || esc.created.TimeoutMinutes != 30 {
		t.Fatalf("expected escalation spec carried through: %+v", esc.created)
	}
}
