package apiserver

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/agentgovern/governor/internal/decision"
	"github.com/agentgovern/governor/internal/escalation"
	"github.com/agentgovern/governor/internal/policy"
	"github.com/agentgovern/governor/internal/trust"
)

// --- Decisions ---

type decideRequest struct {
	TenantID        string                 `json:"tenantId"`
	EntityID        string                 `json:"entityId"`
	IntentID        string                 `json:"intentId"`
	IntentType      string                 `json:"intentType"`
	EntityType      string                 `json:"entityType"`
	Namespace       string                 `json:"namespace"`
	Action          map[string]interface{} `json:"action"`
	RequestedAction string                 `json:"requestedAction"`
}

func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.TenantID == "" || req.EntityID == "" {
		writeError(w, http.StatusBadRequest, "tenantId and entityId are required")
		return
	}

	verdict, err := s.coordinator.Decide(r.Context(), decision.Request{
		TenantID:        req.TenantID,
		EntityID:        req.EntityID,
		IntentID:        req.IntentID,
		IntentType:      req.IntentType,
		EntityType:      req.EntityType,
		Namespace:       req.Namespace,
		Action:          req.Action,
		RequestedAction: req.RequestedAction,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.wsHub.Broadcast("decision", verdict)
	writeJSON(w, verdict)
}

// --- Policies ---

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	filter := policy.ListFilter{
		Namespace: r.URL.Query().Get("namespace"),
		Limit:     queryInt(r, "limit", 50),
		Offset:    queryInt(r, "offset", 0),
	}
	policies, err := s.policies.List(r.Context(), tenantID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"policies": policies})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	id := r.PathValue("id")
	p, err := s.policies.FindByID(r.Context(), tenantID, id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, p)
}

func (s *Server) handleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	var in policy.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	p, err := s.policies.Create(r.Context(), tenantID, in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, p)
}

func (s *Server) handlePublishPolicy(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	id := r.PathValue("id")
	p, err := s.policies.Publish(r.Context(), tenantID, id)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.cache != nil {
		s.cache.InvalidateTenant(r.Context(), tenantID)
	}
	writeJSON(w, p)
}

func (s *Server) handleReloadCache(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "no cache configured")
		return
	}
	s.cache.InvalidateAll(r.Context())
	writeJSON(w, map[string]string{"status": "invalidated"})
}

// --- Escalations ---

func (s *Server) handleListEscalations(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	filter := escalation.QueryFilter{
		Status: escalation.Status(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}
	escalations, err := s.escalations.Query(r.Context(), tenantID, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"escalations": escalations})
}

func (s *Server) handleGetEscalation(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	id := r.PathValue("id")
	esc, err := s.escalations.Get(r.Context(), tenantID, id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, esc)
}

func (s *Server) handleApproveEscalation(w http.ResponseWriter, r *http.Request) {
	s.resolveEscalation(w, r, escalation.StatusApproved)
}

func (s *Server) handleDenyEscalation(w http.ResponseWriter, r *http.Request) {
	s.resolveEscalation(w, r, escalation.StatusRejected)
}

func (s *Server) resolveEscalation(w http.ResponseWriter, r *http.Request, resolution escalation.Status) {
	tenantID := r.URL.Query().Get("tenant_id")
	id := r.PathValue("id")

	var body struct {
		ResolvedBy string `json:"resolvedBy"`
		Notes      string `json:"notes"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	esc, err := s.escalations.Resolve(r.Context(), tenantID, id, escalation.ResolveInput{
		Resolution: resolution,
		ResolvedBy: body.ResolvedBy,
		Notes:      body.Notes,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.wsHub.Broadcast("escalation_resolved", esc)
	writeJSON(w, esc)
}

func (s *Server) handleCancelEscalation(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	id := r.PathValue("id")
	var body struct {
		CancelledBy string `json:"cancelledBy"`
		Reason      string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	esc, err := s.escalations.Cancel(r.Context(), tenantID, id, body.CancelledBy, body.Reason)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, esc)
}

func (s *Server) handleEscalationAudit(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	id := r.PathValue("id")
	trail, err := s.escalations.GetAuditTrail(r.Context(), tenantID, id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"audit": trail})
}

// --- Trust ---

func (s *Server) handleGetTrust(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	entityID := r.PathValue("entityId")
	effective, err := s.trustEngine.Effective(r.Context(), tenantID, entityID, trust.Ceilings{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, effective)
}

// --- Proof ---

func (s *Server) handleVerifyProof(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	eventHash := r.URL.Query().Get("event_hash")
	if eventHash == "" {
		writeError(w, http.StatusBadRequest, "event_hash query parameter is required")
		return
	}
	result, err := s.proofChain.Verify(r.Context(), tenantID, eventHash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, result)
}

// --- Kill switch ---

func (s *Server) handleKillSwitchStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.killSwitch.Status())
}

func (s *Server) handleKillSwitchTrigger(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Scope     string `json:"scope"` // global, tenant, agent, session
		TenantID  string `json:"tenantId"`
		AgentID   string `json:"agentId"`
		SessionID string `json:"sessionId"`
		Reason    string `json:"reason"`
		Source    string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if body.Source == "" {
		body.Source = "api"
	}

	switch body.Scope {
	case "global":
		s.killSwitch.TriggerGlobal(body.Reason, body.Source)
	case "tenant":
		s.killSwitch.TriggerTenant(body.TenantID, body.Reason, body.Source)
	case "agent":
		s.killSwitch.TriggerAgent(body.TenantID, body.AgentID, body.Reason, body.Source)
	case "session":
		s.killSwitch.TriggerSession(body.TenantID, body.SessionID, body.Reason, body.Source)
	default:
		writeError(w, http.StatusBadRequest, "scope must be one of: global, tenant, agent, session")
		return
	}

	s.wsHub.Broadcast("killswitch_triggered", body)
	writeJSON(w, map[string]string{"status": "triggered"})
}

func (s *Server) handleKillSwitchReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Scope     string `json:"scope"`
		TenantID  string `json:"tenantId"`
		AgentID   string `json:"agentId"`
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	switch body.Scope {
	case "global":
		s.killSwitch.ResetGlobal()
	case "tenant":
		s.killSwitch.ResetTenant(body.TenantID)
	case "agent":
		s.killSwitch.ResetAgent(body.TenantID, body.AgentID)
	case "session":
		s.killSwitch.ResetSession(body.TenantID, body.SessionID)
	default:
		writeError(w, http.StatusBadRequest, "scope must be one of: global, tenant, agent, session")
		return
	}
	writeJSON(w, map[string]string{"status": "reset"})
}

// --- System ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
