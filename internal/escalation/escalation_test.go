package escalation

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/agentgovern/governor/internal/alert"
	"github.com/agentgovern/governor/internal/config"
	"github.com/agentgovern/governor/internal/governor"
)

// memStore is an in-memory Store used to test Coordinator without a
// database, mirroring the teacher's mockStore-for-a-narrow-interface pattern.
type memStore struct {
	mu     sync.Mutex
	byID   map[string]Escalation
	audits map[string][]AuditEntry
	seq    int
}

func newMemStore() *memStore {
	return &memStore{byID: make(map[string]Escalation), audits: make(map[string][]AuditEntry)}
}

func (s *memStore) Create(ctx context.Context, tenantID string, in CreateInput) (Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	now := time.Now()
	esc := Escalation{
		ID:                fmt.Sprintf("esc-%d", s.seq),
		TenantID:          tenantID,
		IntentID:          in.IntentID,
		EntityID:          in.EntityID,
		Reason:            in.Reason,
		Priority:          in.Priority,
		Status:            StatusPending,
		EscalatedTo:       in.EscalatedTo,
		EscalatedBy:       in.EscalatedBy,
		Context:           in.Context,
		RequestedAction:   in.RequestedAction,
		AutoDenyOnTimeout: in.AutoDenyOnTimeout,
		TimeoutAt:         now.Add(time.Duration(in.TimeoutMinutes) * time.Minute),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.byID[esc.ID] = esc
	s.audits[esc.ID] = append(s.audits[esc.ID], AuditEntry{Action: "created", ActorType: in.ActorType, Timestamp: now})
	return esc, nil
}

func (s *memStore) Get(ctx context.Context, tenantID, id string) (Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	esc, ok := s.byID[id]
	if !ok || esc.TenantID != tenantID {
		return Escalation{}, governor.New(governor.CodeNotFound, "escalation %s not found", id)
	}
	return esc, nil
}

func (s *memStore) Resolve(ctx context.Context, tenantID, id string, in ResolveInput) (Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	esc, ok := s.byID[id]
	if !ok || esc.TenantID != tenantID {
		return Escalation{}, governor.New(governor.CodeNotFound, "escalation %s not found", id)
	}
	if esc.Status.Terminal() {
		return Escalation{}, governor.New(governor.CodeConflict, "escalation %s is already %s", id, esc.Status)
	}
	now := time.Now()
	esc.Status = in.Resolution
	esc.ResolvedBy = in.ResolvedBy
	esc.ResolvedAt = &now
	esc.ResolutionNotes = in.Notes
	esc.UpdatedAt = now
	s.byID[id] = esc
	s.audits[id] = append(s.audits[id], AuditEntry{Action: string(in.Resolution), Actor: in.ResolvedBy, PreviousStatus: StatusPending, Timestamp: now})
	return esc, nil
}

func (s *memStore) Cancel(ctx context.Context, tenantID, id, cancelledBy, reason string) (Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	esc, ok := s.byID[id]
	if !ok || esc.TenantID != tenantID {
		return Escalation{}, governor.New(governor.CodeNotFound, "escalation %s not found", id)
	}
	if esc.Status.Terminal() {
		return Escalation{}, governor.New(governor.CodeConflict, "escalation %s is already %s", id, esc.Status)
	}
	now := time.Now()
	esc.Status = StatusCancelled
	esc.ResolvedBy = cancelledBy
	esc.ResolvedAt = &now
	esc.ResolutionNotes = reason
	esc.UpdatedAt = now
	s.byID[id] = esc
	s.audits[id] = append(s.audits[id], AuditEntry{Action: "cancelled", Actor: cancelledBy, PreviousStatus: StatusPending, Timestamp: now})
	return esc, nil
}

func (s *memStore) Query(ctx context.Context, tenantID string, filter QueryFilter) ([]Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Escalation
	for _, esc := range s.byID {
		if esc.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && esc.Status != filter.Status {
			continue
		}
		out = append(out, esc)
	}
	return out, nil
}

func (s *memStore) GetAuditTrail(ctx context.Context, tenantID, id string) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audits[id], nil
}

func (s *memStore) GetPendingCount(ctx context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, esc := range s.byID {
		if esc.TenantID == tenantID && esc.Status == StatusPending {
			n++
		}
	}
	return n, nil
}

func (s *memStore) TimeoutPending(ctx context.Context, tenantID string, now time.Time) ([]Escalation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Escalation
	for _, esc := range s.byID {
		if esc.TenantID == tenantID && esc.Status == StatusPending && now.After(esc.TimeoutAt) {
			out = append(out, esc)
		}
	}
	return out, nil
}

func (s *memStore) MarkTimedOut(ctx context.Context, tenantID, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	esc, ok := s.byID[id]
	if !ok || esc.Status != StatusPending {
		return nil
	}
	esc.Status = StatusTimeout
	esc.UpdatedAt = now
	s.byID[id] = esc
	s.audits[id] = append(s.audits[id], AuditEntry{Action: "timeout", ActorType: "system", PreviousStatus: StatusPending, Timestamp: now})
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestCoordinator() (*Coordinator, *memStore) {
	store := newMemStore()
	alertMgr := alert.NewManager(config.AlertsConfig{}, testLogger())
	c := NewCoordinator(store, alertMgr, testLogger(), 30, time.Hour, nil)
	return c, store
}

func TestCoordinator_CreateAudits(t *testing.T) {
	c, store := newTestCoordinator()
	defer c.Stop()

	esc, err := c.Create(context.Background(), "tenant-a", CreateInput{
		IntentID: "intent-1", EntityID: "agent-1", Reason: "high-value transfer",
		Priority: PriorityHigh, EscalatedTo: "ops-oncall", TimeoutMinutes: 15,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if esc.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", esc.Status)
	}

	trail, err := store.GetAuditTrail(context.Background(), "tenant-a", esc.ID)
	if err != nil {
		t.Fatalf("GetAuditTrail: %v", err)
	}
	if len(trail) != 1 || trail[0].Action != "created" {
		t.Fatalf("expected one 'created' audit entry, got %+v", trail)
	}
}

func TestCoordinator_ResolveRejectsNonPending(t *testing.T) {
	c, _ := newTestCoordinator()
	defer c.Stop()

	esc, _ := c.Create(context.Background(), "tenant-a", CreateInput{
		IntentID: "intent-1", EntityID: "agent-1", Priority: PriorityMedium, TimeoutMinutes: 15,
	})

	if _, err := c.Resolve(context.Background(), "tenant-a", esc.ID, ResolveInput{Resolution: StatusApproved, ResolvedBy: "alice"}); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	_, err := c.Resolve(context.Background(), "tenant-a", esc.ID, ResolveInput{Resolution: StatusRejected, ResolvedBy: "bob"})
	if err == nil {
		t.Fatal("expected resolving an already-resolved escalation to fail")
	}
}

func TestCoordinator_ProcessTimeoutsIsIdempotent(t *testing.T) {
	c, store := newTestCoordinator()
	defer c.Stop()

	esc, _ := c.Create(context.Background(), "tenant-a", CreateInput{
		IntentID: "intent-1", EntityID: "agent-1", Priority: PriorityHigh,
		AutoDenyOnTimeout: true, TimeoutMinutes: 1,
	})

	// Force it into the past.
	store.mu.Lock()
	e := store.byID[esc.ID]
	e.TimeoutAt = time.Now().Add(-time.Minute)
	store.byID[esc.ID] = e
	store.mu.Unlock()

	n1, err := c.ProcessTimeouts(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("ProcessTimeouts: %v", err)
	}
	if n1 != 1 {
		t.Fatalf("expected 1 transitioned, got %d", n1)
	}

	// A second sweep over the same already-timed-out row should be a no-op,
	// not re-transition or re-audit it.
	n2, err := c.ProcessTimeouts(context.Background(), "tenant-a")
	if err != nil {
		t.Fatalf("second ProcessTimeouts: %v", err)
	}
	if n2 != 0 {
		t.Fatalf("expected 0 transitioned on second sweep, got %d", n2)
	}

	got, err := c.Get(context.Background(), "tenant-a", esc.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusTimeout {
		t.Fatalf("expected timeout status, got %s", got.Status)
	}

	trail, _ := store.GetAuditTrail(context.Background(), "tenant-a", esc.ID)
	timeoutEntries := 0
	for _, e := range trail {
		if e.Action == "timeout" {
			timeoutEntries++
		}
	}
	if timeoutEntries != 1 {
		t.Fatalf("expected exactly one timeout audit entry, got %d", timeoutEntries)
	}
}

func TestCoordinator_CancelOnlyPending(t *testing.T) {
	c, _ := newTestCoordinator()
	defer c.Stop()

	esc, _ := c.Create(context.Background(), "tenant-a", CreateInput{
		IntentID: "intent-1", EntityID: "agent-1", Priority: PriorityLow, TimeoutMinutes: 15,
	})

	cancelled, err := c.Cancel(context.Background(), "tenant-a", esc.ID, "alice", "session ended")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Fatalf("expected cancelled status, got %s", cancelled.Status)
	}

	if _, err := c.Cancel(context.Background(), "tenant-a", esc.ID, "alice", "again"); err == nil {
		t.Fatal("expected cancelling a terminal escalation to fail")
	}
}

func TestCoordinator_QueryFiltersByStatus(t *testing.T) {
	c, _ := newTestCoordinator()
	defer c.Stop()

	a, _ := c.Create(context.Background(), "tenant-a", CreateInput{IntentID: "i1", EntityID: "e1", Priority: PriorityLow, TimeoutMinutes: 15})
	b, _ := c.Create(context.Background(), "tenant-a", CreateInput{IntentID: "i2", EntityID: "e2", Priority: PriorityLow, TimeoutMinutes: 15})
	if _, err := c.Resolve(context.Background(), "tenant-a", a.ID, ResolveInput{Resolution: StatusApproved, ResolvedBy: "alice"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	pending, err := c.Query(context.Background(), "tenant-a", QueryFilter{Status: StatusPending})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != b.ID {
		t.Fatalf("expected only %s pending, got %+v", b.ID, pending)
	}
}

func TestCoordinator_TenantIsolation(t *testing.T) {
	c, _ := newTestCoordinator()
	defer c.Stop()

	esc, _ := c.Create(context.Background(), "tenant-a", CreateInput{IntentID: "i1", EntityID: "e1", Priority: PriorityLow, TimeoutMinutes: 15})

	if _, err := c.Get(context.Background(), "tenant-b", esc.ID); err == nil {
		t.Fatal("expected cross-tenant Get to fail")
	}
}
