package escalation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentgovern/governor/internal/alert"
	"github.com/agentgovern/governor/internal/governor"
)

// Coordinator is the Escalation Coordinator (C8): it turns a policy rule's
// "escalate" decision into a suspended Escalation, notifies the configured
// alert channels, and sweeps for timeouts on a background tick.
type Coordinator struct {
	store                 Store
	alertMgr              *alert.Manager
	logger                *slog.Logger
	defaultTimeoutMinutes int
	pollInterval          time.Duration
	listTenants           func() []string
	stop                  chan struct{}
}

// NewCoordinator wires a Store and alert.Manager into a running Coordinator.
// listTenants is polled on every sweep tick to discover which tenants to
// check for timed-out escalations (the store's tenant isolation means there
// is no single cross-tenant query). The background timeout sweep starts
// immediately and runs until Stop.
func NewCoordinator(store Store, alertMgr *alert.Manager, logger *slog.Logger, defaultTimeoutMinutes int, pollInterval time.Duration, listTenants func() []string) *Coordinator {
	if defaultTimeoutMinutes <= 0 {
		defaultTimeoutMinutes = 30
	}
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if listTenants == nil {
		listTenants = func() []string { return nil }
	}
	c := &Coordinator{
		store:                 store,
		alertMgr:              alertMgr,
		logger:                logger,
		defaultTimeoutMinutes: defaultTimeoutMinutes,
		pollInterval:          pollInterval,
		listTenants:           listTenants,
		stop:                  make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Stop halts the background timeout sweep. Safe to call once.
func (c *Coordinator) Stop() {
	close(c.stop)
}

// Create suspends a decision pending human resolution, persists it, and
// fires an escalation_created alert.
func (c *Coordinator) Create(ctx context.Context, tenantID string, in CreateInput) (Escalation, error) {
	if in.TimeoutMinutes <= 0 {
		in.TimeoutMinutes = c.defaultTimeoutMinutes
	}
	if in.ActorType == "" {
		in.ActorType = "system"
	}

	esc, err := c.store.Create(ctx, tenantID, in)
	if err != nil {
		return Escalation{}, err
	}

	if c.alertMgr != nil {
		c.alertMgr.Send(alert.Alert{
			Type:      "escalation_created",
			Severity:  severityFor(in.Priority),
			Title:     fmt.Sprintf("Escalation needed: %s", esc.Reason),
			Message:   fmt.Sprintf("Intent %s on entity %s escalated to %s. Resolve within %d minutes.", esc.IntentID, esc.EntityID, esc.EscalatedTo, in.TimeoutMinutes),
			EntityID:  esc.EntityID,
			IntentID:  esc.IntentID,
			Details:   esc.Context,
		})
	}

	c.logger.Info("escalation created",
		"escalation_id", esc.ID,
		"tenant_id", tenantID,
		"intent_id", esc.IntentID,
		"priority", esc.Priority,
		"escalated_to", esc.EscalatedTo,
	)

	return esc, nil
}

// Resolve approves or rejects a pending escalation.
func (c *Coordinator) Resolve(ctx context.Context, tenantID, id string, in ResolveInput) (Escalation, error) {
	if in.Resolution != StatusApproved && in.Resolution != StatusRejected {
		return Escalation{}, governor.New(governor.CodeValidation, "resolution must be approved or rejected, got %q", in.Resolution)
	}

	esc, err := c.store.Resolve(ctx, tenantID, id, in)
	if err != nil {
		return Escalation{}, err
	}

	if c.alertMgr != nil {
		c.alertMgr.Send(alert.Alert{
			Type:      "escalation_" + string(in.Resolution),
			Severity:  "info",
			Title:     fmt.Sprintf("Escalation %s", in.Resolution),
			Message:   fmt.Sprintf("Escalation %s resolved %s by %s", esc.ID, in.Resolution, in.ResolvedBy),
			IntentID:  esc.IntentID,
		})
	}

	c.logger.Info("escalation resolved",
		"escalation_id", esc.ID,
		"tenant_id", tenantID,
		"resolution", in.Resolution,
		"resolved_by", in.ResolvedBy,
	)

	return esc, nil
}

// Cancel withdraws a pending escalation without approving or rejecting it,
// e.g. when the originating session has already terminated.
func (c *Coordinator) Cancel(ctx context.Context, tenantID, id, cancelledBy, reason string) (Escalation, error) {
	esc, err := c.store.Cancel(ctx, tenantID, id, cancelledBy, reason)
	if err != nil {
		return Escalation{}, err
	}
	c.logger.Info("escalation cancelled", "escalation_id", esc.ID, "tenant_id", tenantID, "cancelled_by", cancelledBy)
	return esc, nil
}

// Get returns a single escalation by id.
func (c *Coordinator) Get(ctx context.Context, tenantID, id string) (Escalation, error) {
	return c.store.Get(ctx, tenantID, id)
}

// Query returns escalations matching filter.
func (c *Coordinator) Query(ctx context.Context, tenantID string, filter QueryFilter) ([]Escalation, error) {
	return c.store.Query(ctx, tenantID, filter)
}

// GetAuditTrail returns the append-only audit log for one escalation.
func (c *Coordinator) GetAuditTrail(ctx context.Context, tenantID, id string) ([]AuditEntry, error) {
	return c.store.GetAuditTrail(ctx, tenantID, id)
}

// GetPendingCount returns the number of escalations awaiting resolution.
func (c *Coordinator) GetPendingCount(ctx context.Context, tenantID string) (int, error) {
	return c.store.GetPendingCount(ctx, tenantID)
}

// ProcessTimeouts transitions every pending, past-deadline escalation for
// tenantID to timeout, applying each escalation's AutoDenyOnTimeout rule.
// Idempotent: a concurrent sweep racing on the same row is a safe no-op at
// the store layer.
func (c *Coordinator) ProcessTimeouts(ctx context.Context, tenantID string) (int, error) {
	now := time.Now()
	due, err := c.store.TimeoutPending(ctx, tenantID, now)
	if err != nil {
		return 0, err
	}

	transitioned := 0
	for _, esc := range due {
		if err := c.store.MarkTimedOut(ctx, tenantID, esc.ID, now); err != nil {
			c.logger.Error("failed to mark escalation timed out", "escalation_id", esc.ID, "error", err)
			continue
		}
		transitioned++

		decision := "deny"
		if !esc.AutoDenyOnTimeout {
			decision = "default policy action"
		}

		if c.alertMgr != nil {
			c.alertMgr.Send(alert.Alert{
				Type:      "escalation_timeout",
				Severity:  "warning",
				Title:     "Escalation timed out",
				Message:   fmt.Sprintf("Escalation %s timed out with no resolution; effective decision: %s", esc.ID, decision),
				IntentID:  esc.IntentID,
			})
		}

		c.logger.Warn("escalation timed out",
			"escalation_id", esc.ID,
			"tenant_id", tenantID,
			"auto_deny_on_timeout", esc.AutoDenyOnTimeout,
		)
	}

	return transitioned, nil
}

func (c *Coordinator) sweepLoop() {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, tenantID := range c.listTenants() {
				if _, err := c.ProcessTimeouts(context.Background(), tenantID); err != nil {
					c.logger.Error("timeout sweep failed", "tenant_id", tenantID, "error", err)
				}
			}
		case <-c.stop:
			return
		}
	}
}

func severityFor(p Priority) string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "critical"
	case PriorityMedium:
		return "warning"
	default:
		return "info"
	}
}
