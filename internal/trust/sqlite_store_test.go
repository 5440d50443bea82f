package trust

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Initialize(); err != nil {
		t.Fatalf("initialize store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStore_GetRecordMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)
	rec, err := store.GetRecord(context.Background(), "t1", "agent-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record for unseen entity, got %+v", rec)
	}
}

func TestSQLiteStore_PutThenGetRoundTrips(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().Truncate(time.Second)

	rec := &Record{
		TenantID:     "t1",
		EntityID:     "agent-1",
		Components:   ComponentScores{Behavioral: 0.7, Compliance: 0.6, Identity: 0.5, Context: 0.4},
		RawCounters:  BehavioralInput{Successes: 12, Failures: 1, Quality: 0.9, Efficiency: 0.8},
		Compliance:   ComplianceInput{MediumViolations: 2},
		LastActivity: now,
		Score:        612,
		Band:         T4,
	}
	if err := store.PutRecord(context.Background(), rec); err != nil {
		t.Fatalf("put record: %v", err)
	}

	got, err := store.GetRecord(context.Background(), "t1", "agent-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got == nil {
		t.Fatal("expected a record")
	}
	if got.Score != 612 || got.Band != T4 {
		t.Fatalf("unexpected score/band: %+v", got)
	}
	if got.RawCounters.Successes != 12 || got.Compliance.MediumViolations != 2 {
		t.Fatalf("unexpected round-tripped counters: %+v", got)
	}
	if !got.LastActivity.Equal(now) {
		t.Fatalf("expected last activity %v, got %v", now, got.LastActivity)
	}
}

func TestSQLiteStore_PutRecordUpserts(t *testing.T) {
	store := newTestStore(t)
	rec := &Record{TenantID: "t1", EntityID: "agent-1", Score: 100, Band: T0}
	if err := store.PutRecord(context.Background(), rec); err != nil {
		t.Fatalf("first put: %v", err)
	}
	rec.Score = 400
	rec.Band = T2
	if err := store.PutRecord(context.Background(), rec); err != nil {
		t.Fatalf("second put: %v", err)
	}

	got, err := store.GetRecord(context.Background(), "t1", "agent-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if got.Score != 400 || got.Band != T2 {
		t.Fatalf("expected updated score/band, got %+v", got)
	}
}

func TestSQLiteStore_SeenSignalDedup(t *testing.T) {
	store := newTestStore(t)
	sig := Signal{ID: "sig-1", Source: "sdk", EntityID: "agent-1", Type: "success", Timestamp: time.Now()}

	seen, err := store.SeenSignal(context.Background(), sig.Source, sig.ID)
	if err != nil {
		t.Fatalf("seen check: %v", err)
	}
	if seen {
		t.Fatal("expected not-yet-seen signal")
	}

	if err := store.AppendSignal(context.Background(), sig); err != nil {
		t.Fatalf("append signal: %v", err)
	}

	seen, err = store.SeenSignal(context.Background(), sig.Source, sig.ID)
	if err != nil {
		t.Fatalf("seen check: %v", err)
	}
	if !seen {
		t.Fatal("expected signal to be recorded as seen")
	}
}

func TestSQLiteStore_TenantIsolation(t *testing.T) {
	store := newTestStore(t)
	if err := store.PutRecord(context.Background(), &Record{TenantID: "t1", EntityID: "agent-1", Score: 500, Band: T3}); err != nil {
		t.Fatalf("put t1: %v", err)
	}

	got, err := store.GetRecord(context.Background(), "t2", "agent-1")
	if err != nil {
		t.Fatalf("get t2: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no cross-tenant record leakage, got %+v", got)
	}
}
