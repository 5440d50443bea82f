package security

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// KillState is the kill switch's state.
type KillState string

const (
	KillStateArmed     KillState = "armed"
	KillStateTriggered KillState = "triggered"
)

// KillScope determines what a kill switch trigger affects.
type KillScope string

const (
	KillScopeGlobal  KillScope = "global"  // every tenant, every agent
	KillScopeTenant  KillScope = "tenant"  // one tenant, all its agents
	KillScopeAgent   KillScope = "agent"   // one agent within a tenant
	KillScopeSession KillScope = "session" // one session within a tenant
)

// TriggerRecord logs who/what triggered the kill switch and when.
type TriggerRecord struct {
	Scope     KillScope `json:"scope"`
	TenantID  string    `json:"tenant_id,omitempty"`
	TargetID  string    `json:"target_id,omitempty"` // agent ID or session ID
	Reason    string    `json:"reason"`
	Source    string    `json:"source"` // api, cli, dashboard, slack, file
	Timestamp time.Time `json:"timestamp"`
}

// KillSwitch is an emergency stop that blocks decisions for a tenant,
// agent, or session. Gate.PreRequestCheck consults it before any token,
// binding or attestation check; the Decision Coordinator runs the Gate only
// for requests that carry a Security section, so a request without one is
// not checked against the kill switch.
type KillSwitch struct {
	mu sync.RWMutex

	globalTriggered bool

	// tenantKills, agentKills, sessionKills are all keyed by tenant ID
	// first, since every scope below global is tenant-scoped.
	tenantKills  map[string]TriggerRecord
	agentKills   map[string]map[string]TriggerRecord // tenantID -> agentID -> record
	sessionKills map[string]map[string]TriggerRecord // tenantID -> sessionID -> record

	history []TriggerRecord

	fileWatchPath string

	logger *slog.Logger
}

// NewKillSwitch creates a KillSwitch. fileWatchPath is the sentinel file
// CheckFileKill polls for to force a global trigger; an empty fileWatchPath
// defaults to ~/.governor/KILL.
func NewKillSwitch(fileWatchPath string, logger *slog.Logger) *KillSwitch {
	if logger == nil {
		logger = slog.Default()
	}
	if fileWatchPath == "" {
		homeDir, _ := os.UserHomeDir()
		fileWatchPath = filepath.Join(homeDir, ".governor", "KILL")
	}
	return &KillSwitch{
		tenantKills:   make(map[string]TriggerRecord),
		agentKills:    make(map[string]map[string]TriggerRecord),
		sessionKills:  make(map[string]map[string]TriggerRecord),
		fileWatchPath: fileWatchPath,
		logger:        logger.With("component", "security.KillSwitch"),
	}
}

// IsBlocked is the hot-path check Gate.PreRequestCheck runs before any other
// security check.
func (ks *KillSwitch) IsBlocked(tenantID, agentID, sessionID string) (bool, string) {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	if ks.globalTriggered {
		return true, "global kill switch activated"
	}
	if record, ok := ks.tenantKills[tenantID]; ok {
		return true, fmt.Sprintf("tenant kill switch activated: %s", record.Reason)
	}
	if agents, ok := ks.agentKills[tenantID]; ok {
		if record, ok := agents[agentID]; ok {
			return true, fmt.Sprintf("agent kill switch activated: %s", record.Reason)
		}
	}
	if sessions, ok := ks.sessionKills[tenantID]; ok {
		if record, ok := sessions[sessionID]; ok {
			return true, fmt.Sprintf("session kill switch activated: %s", record.Reason)
		}
	}
	return false, ""
}

// TriggerGlobal activates the global kill switch, blocking every tenant.
func (ks *KillSwitch) TriggerGlobal(reason, source string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.globalTriggered = true
	record := TriggerRecord{Scope: KillScopeGlobal, Reason: reason, Source: source, Timestamp: time.Now()}
	ks.history = append(ks.history, record)
	ks.logger.Error("global kill switch triggered", "reason", reason, "source", source)
}

// TriggerTenant activates the kill switch for one tenant.
func (ks *KillSwitch) TriggerTenant(tenantID, reason, source string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	record := TriggerRecord{Scope: KillScopeTenant, TenantID: tenantID, Reason: reason, Source: source, Timestamp: time.Now()}
	ks.tenantKills[tenantID] = record
	ks.history = append(ks.history, record)
	ks.logger.Error("tenant kill switch triggered", "tenant_id", tenantID, "reason", reason, "source", source)
}

// TriggerAgent activates the kill switch for one agent within a tenant.
func (ks *KillSwitch) TriggerAgent(tenantID, agentID, reason, source string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	record := TriggerRecord{Scope: KillScopeAgent, TenantID: tenantID, TargetID: agentID, Reason: reason, Source: source, Timestamp: time.Now()}
	if ks.agentKills[tenantID] == nil {
		ks.agentKills[tenantID] = make(map[string]TriggerRecord)
	}
	ks.agentKills[tenantID][agentID] = record
	ks.history = append(ks.history, record)
	ks.logger.Error("agent kill switch triggered", "tenant_id", tenantID, "agent_id", agentID, "reason", reason, "source", source)
}

// TriggerSession activates the kill switch for one session within a tenant.
func (ks *KillSwitch) TriggerSession(tenantID, sessionID, reason, source string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	record := TriggerRecord{Scope: KillScopeSession, TenantID: tenantID, TargetID: sessionID, Reason: reason, Source: source, Timestamp: time.Now()}
	if ks.sessionKills[tenantID] == nil {
		ks.sessionKills[tenantID] = make(map[string]TriggerRecord)
	}
	ks.sessionKills[tenantID][sessionID] = record
	ks.history = append(ks.history, record)
	ks.logger.Error("session kill switch triggered", "tenant_id", tenantID, "session_id", sessionID, "reason", reason, "source", source)
}

// ResetGlobal disarms the global kill switch.
func (ks *KillSwitch) ResetGlobal() {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.globalTriggered = false
	ks.logger.Info("global kill switch reset")
}

// ResetTenant disarms one tenant's kill switch.
func (ks *KillSwitch) ResetTenant(tenantID string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	delete(ks.tenantKills, tenantID)
	ks.logger.Info("tenant kill switch reset", "tenant_id", tenantID)
}

// ResetAgent disarms one agent's kill switch.
func (ks *KillSwitch) ResetAgent(tenantID, agentID string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	delete(ks.agentKills[tenantID], agentID)
	ks.logger.Info("agent kill switch reset", "tenant_id", tenantID, "agent_id", agentID)
}

// ResetSession disarms one session's kill switch.
func (ks *KillSwitch) ResetSession(tenantID, sessionID string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	delete(ks.sessionKills[tenantID], sessionID)
	ks.logger.Info("session kill switch reset", "tenant_id", tenantID, "session_id", sessionID)
}

// Status returns a snapshot suitable for an admin API response.
func (ks *KillSwitch) Status() map[string]interface{} {
	ks.mu.RLock()
	defer ks.mu.RUnlock()

	tenantKills := make(map[string]TriggerRecord, len(ks.tenantKills))
	for k, v := range ks.tenantKills {
		tenantKills[k] = v
	}
	return map[string]interface{}{
		"global_triggered": ks.globalTriggered,
		"tenant_kills":     tenantKills,
		"history_count":    len(ks.history),
	}
}

// History returns the full trigger history for audit purposes.
func (ks *KillSwitch) History() []TriggerRecord {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	out := make([]TriggerRecord, len(ks.history))
	copy(out, ks.history)
	return out
}

// CheckFileKill triggers a global kill if a sentinel file is present at
// fileWatchPath. Callers poll this on a ticker so an operator locked out of
// the API or dashboard can still force a stop from a shell.
func (ks *KillSwitch) CheckFileKill() {
	if ks.fileWatchPath == "" {
		return
	}
	if _, err := os.Stat(ks.fileWatchPath); err == nil {
		ks.mu.RLock()
		already := ks.globalTriggered
		ks.mu.RUnlock()
		if !already {
			ks.TriggerGlobal("KILL sentinel file detected", "file")
		}
	}
}
