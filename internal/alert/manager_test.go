package alert

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/agentgovern/governor/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// mockSender is a test double for Sender that records every Alert it receives.
type mockSender struct {
	name      string
	sendFunc  func(Alert) error
	mu        sync.Mutex
	callCount int
	lastAlert *Alert
}

func newMockSender(name string) *mockSender {
	return &mockSender{name: name}
}

func (m *mockSender) Name() string { return m.name }

func (m *mockSender) Send(alert Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount++
	m.lastAlert = &alert
	if m.sendFunc != nil {
		return m.sendFunc(alert)
	}
	return nil
}

func (m *mockSender) getCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

func (m *mockSender) getLastAlert() *Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastAlert == nil {
		return nil
	}
	copy := *m.lastAlert
	return &copy
}

func TestNewManager_RegistersSendersFromConfig(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.AlertsConfig
		expected int
	}{
		{"no channels configured", config.AlertsConfig{}, 0},
		{"slack only", config.AlertsConfig{Slack: config.SlackAlertConfig{WebhookURL: "https://hooks.slack.com/test", Channel: "#governor"}}, 1},
		{"webhook only", config.AlertsConfig{Webhook: config.WebhookAlertConfig{URL: "https://example.com/hook", Secret: "s3cr3t"}}, 1},
		{"both channels", config.AlertsConfig{
			Slack:   config.SlackAlertConfig{WebhookURL: "https://hooks.slack.com/test"},
			Webhook: config.WebhookAlertConfig{URL: "https://example.com/hook"},
		}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(tt.cfg, testLogger())
			if len(m.senders) != tt.expected {
				t.Errorf("expected %d senders, got %d", tt.expected, len(m.senders))
			}
			if m.dedupTTL != 5*time.Minute {
				t.Errorf("expected default dedupTTL of 5m, got %v", m.dedupTTL)
			}
		})
	}
}

func TestManager_HasSenders(t *testing.T) {
	if NewManager(config.AlertsConfig{}, testLogger()).HasSenders() {
		t.Error("expected no senders with empty config")
	}
	cfg := config.AlertsConfig{Webhook: config.WebhookAlertConfig{URL: "https://example.com/hook"}}
	if !NewManager(cfg, testLogger()).HasSenders() {
		t.Error("expected a sender once webhook is configured")
	}
}

func newTestManager(dedupTTL time.Duration) *Manager {
	return &Manager{
		dedup:    make(map[string]time.Time),
		dedupTTL: dedupTTL,
		logger:   testLogger(),
	}
}

func TestManager_Send_DispatchesToAllSenders(t *testing.T) {
	m := newTestManager(5 * time.Minute)
	mock1, mock2 := newMockSender("slack"), newMockSender("webhook")
	m.senders = append(m.senders, mock1, mock2)

	m.Send(Alert{
		Type: "decision_denied", Severity: "warning", Title: "Decision denied",
		Message: "deletes are forbidden", EntityID: "agent-7", IntentID: "intent-1",
	})
	time.Sleep(50 * time.Millisecond)

	if mock1.getCallCount() != 1 || mock2.getCallCount() != 1 {
		t.Fatalf("expected both senders to receive one call, got %d/%d", mock1.getCallCount(), mock2.getCallCount())
	}
	last := mock1.getLastAlert()
	if last == nil || last.Timestamp.IsZero() {
		t.Fatal("expected Send to stamp a non-zero Timestamp")
	}
}

func TestManager_Send_DeduplicatesWithinTTL(t *testing.T) {
	m := newTestManager(5 * time.Minute)
	mock := newMockSender("webhook")
	m.senders = append(m.senders, mock)

	alert := Alert{Type: "escalation_timeout", Severity: "warning", EntityID: "agent-1", IntentID: "intent-1"}
	for i := 0; i < 3; i++ {
		m.Send(alert)
		time.Sleep(20 * time.Millisecond)
	}

	if mock.getCallCount() != 1 {
		t.Errorf("expected deduplication to collapse 3 sends into 1, got %d", mock.getCallCount())
	}
}

func TestManager_Send_ResendsAfterTTLExpires(t *testing.T) {
	m := newTestManager(100 * time.Millisecond)
	mock := newMockSender("webhook")
	m.senders = append(m.senders, mock)

	alert := Alert{Type: "trust_anomaly", EntityID: "agent-1", IntentID: "intent-1"}
	m.Send(alert)
	time.Sleep(50 * time.Millisecond)
	time.Sleep(150 * time.Millisecond) // past dedupTTL
	m.Send(alert)
	time.Sleep(50 * time.Millisecond)

	if mock.getCallCount() != 2 {
		t.Errorf("expected 2 calls once the dedup TTL expired, got %d", mock.getCallCount())
	}
}

func TestManager_Send_DistinctKeysAreNotDeduplicated(t *testing.T) {
	m := newTestManager(5 * time.Minute)
	mock := newMockSender("webhook")
	m.senders = append(m.senders, mock)

	m.Send(Alert{Type: "decision_denied", EntityID: "agent-1", IntentID: "intent-1"})
	time.Sleep(20 * time.Millisecond)
	m.Send(Alert{Type: "trust_anomaly", EntityID: "agent-1", IntentID: "intent-1"}) // different type
	time.Sleep(20 * time.Millisecond)
	m.Send(Alert{Type: "decision_denied", EntityID: "agent-2", IntentID: "intent-1"}) // different entity
	time.Sleep(20 * time.Millisecond)

	if mock.getCallCount() != 3 {
		t.Errorf("expected 3 calls for 3 distinct dedup keys, got %d", mock.getCallCount())
	}
}

func TestManager_Send_SenderErrorDoesNotPropagate(t *testing.T) {
	m := newTestManager(5 * time.Minute)
	mock := newMockSender("webhook")
	mock.sendFunc = func(Alert) error { return &senderTestError{sender: "webhook"} }
	m.senders = append(m.senders, mock)

	m.Send(Alert{Type: "proof_chain_tamper", EntityID: "agent-1"})
	time.Sleep(50 * time.Millisecond)

	if mock.getCallCount() != 1 {
		t.Errorf("expected the send attempt to still be recorded, got %d", mock.getCallCount())
	}
}

type senderTestError struct{ sender string }

func (e *senderTestError) Error() string { return e.sender + ": send failed" }

func TestManager_PruneDedup(t *testing.T) {
	m := newTestManager(100 * time.Millisecond)
	now := time.Now()
	m.dedup["stale-1"] = now.Add(-300 * time.Millisecond)
	m.dedup["stale-2"] = now.Add(-250 * time.Millisecond)
	m.dedup["fresh-1"] = now.Add(-100 * time.Millisecond)
	m.dedup["fresh-2"] = now.Add(-10 * time.Millisecond)

	m.PruneDedup()

	if len(m.dedup) != 2 {
		t.Fatalf("expected 2 entries remaining after prune, got %d", len(m.dedup))
	}
	if _, ok := m.dedup["stale-1"]; ok {
		t.Error("stale-1 should have been pruned")
	}
	if _, ok := m.dedup["stale-2"]; ok {
		t.Error("stale-2 should have been pruned")
	}
	if _, ok := m.dedup["fresh-1"]; !ok {
		t.Error("fresh-1 should not have been pruned")
	}
}

func TestManager_ConcurrentSend_DeduplicatesAcrossGoroutines(t *testing.T) {
	m := newTestManager(5 * time.Minute)
	mock := newMockSender("webhook")
	m.senders = append(m.senders, mock)

	alert := Alert{Type: "escalation_created", EntityID: "agent-1", IntentID: "intent-1"}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Send(alert)
		}()
	}
	wg.Wait()
	time.Sleep(100 * time.Millisecond)

	if count := mock.getCallCount(); count != 1 {
		t.Errorf("expected concurrent sends of the same alert to dedupe to 1 call, got %d", count)
	}
}

func TestManager_ConcurrentSend_DistinctIntentsAllDeliver(t *testing.T) {
	m := newTestManager(5 * time.Minute)
	mock := newMockSender("webhook")
	m.senders = append(m.senders, mock)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			m.Send(Alert{Type: "escalation_created", EntityID: "agent-1", IntentID: time.Now().Format(time.RFC3339Nano)})
		}(i)
	}
	wg.Wait()
	time.Sleep(100 * time.Millisecond)

	if count := mock.getCallCount(); count != 10 {
		t.Errorf("expected 10 calls for 10 distinct intents, got %d", count)
	}
}

func TestManager_AlertFields_CarryDetailsThrough(t *testing.T) {
	m := newTestManager(5 * time.Minute)
	mock := newMockSender("webhook")
	m.senders = append(m.senders, mock)

	m.Send(Alert{
		Type: "trust_anomaly", Severity: "critical", Title: "Trust score collapsed",
		Message: "score dropped below the kill threshold", EntityID: "agent-1", IntentID: "intent-1",
		Details: map[string]interface{}{"score": 40, "threshold": 100},
	})
	time.Sleep(50 * time.Millisecond)

	last := mock.getLastAlert()
	if last == nil {
		t.Fatal("expected a recorded alert")
	}
	if last.Details["score"] != 40 {
		t.Errorf("expected score detail to round-trip, got %v", last.Details["score"])
	}
}

func TestManager_AlertFields_MinimalAlertHasNoEntityOrIntent(t *testing.T) {
	m := newTestManager(5 * time.Minute)
	mock := newMockSender("webhook")
	m.senders = append(m.senders, mock)

	m.Send(Alert{Type: "kill_switch_triggered", Severity: "info", Title: "Kill switch reset", Message: "manual reset"})
	time.Sleep(50 * time.Millisecond)

	last := mock.getLastAlert()
	if last == nil {
		t.Fatal("expected a recorded alert")
	}
	if last.EntityID != "" || last.IntentID != "" {
		t.Errorf("expected empty EntityID/IntentID for a tenant-wide alert, got %q/%q", last.EntityID, last.IntentID)
	}
}
