// Package apiserver is the management HTTP API: decision evaluation,
// policy/escalation/trust admin endpoints, kill-switch control, proof
// verification, a live websocket event feed, and Prometheus metrics. It
// mirrors the teacher's internal/api package — same http.ServeMux routing
// style, same authRequired token-gate wrapper, the same websocket hub
// pattern (here EventHub) — rewired
// onto the governor's decision pipeline instead of session traces.
package apiserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentgovern/governor/internal/config"
	"github.com/agentgovern/governor/internal/decision"
	"github.com/agentgovern/governor/internal/escalation"
	"github.com/agentgovern/governor/internal/policy"
	"github.com/agentgovern/governor/internal/proof"
	"github.com/agentgovern/governor/internal/security"
	"github.com/agentgovern/governor/internal/trust"
)

// Server is the management API server.
type Server struct {
	config       config.ServerConfig
	coordinator  *decision.Coordinator
	policies     policy.Store
	cache        *policy.Cache
	escalations  *escalation.Coordinator
	proofChain   *proof.Chain
	trustEngine  *trust.Engine
	killSwitch   *security.KillSwitch
	tokenManager *security.TokenManager
	wsHub        *EventHub
	mux          *http.ServeMux
	httpServer   *http.Server
	logger       *slog.Logger
}

// Deps bundles every upstream component the API surfaces, so NewServer's
// signature doesn't grow every time a new route needs a new dependency.
type Deps struct {
	Coordinator  *decision.Coordinator
	Policies     policy.Store
	Cache        *policy.Cache
	Escalations  *escalation.Coordinator
	ProofChain   *proof.Chain
	TrustEngine  *trust.Engine
	KillSwitch   *security.KillSwitch
	TokenManager *security.TokenManager
}

// NewServer creates a management API server ready to register routes.
func NewServer(cfg config.ServerConfig, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:       cfg,
		coordinator:  deps.Coordinator,
		policies:     deps.Policies,
		cache:        deps.Cache,
		escalations:  deps.Escalations,
		proofChain:   deps.ProofChain,
		trustEngine:  deps.TrustEngine,
		killSwitch:   deps.KillSwitch,
		tokenManager: deps.TokenManager,
		wsHub:        NewEventHub(logger, cfg.CORS),
		mux:          http.NewServeMux(),
		logger:       logger.With("component", "apiserver.Server"),
	}
	s.registerRoutes()
	return s
}

// authRequired wraps a handler with token-based authentication. If auth is
// disabled in config, the handler is returned unwrapped with no overhead.
func (s *Server) authRequired(action string, next http.HandlerFunc) http.HandlerFunc {
	if !s.config.Auth.Enabled || s.tokenManager == nil {
		return next
	}

	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing or malformed Authorization header")
			return
		}
		secret := strings.TrimPrefix(header, "Bearer ")

		token, err := s.tokenManager.Validate(secret)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		if !security.HasPermission(token.Role, action) {
			writeError(w, http.StatusForbidden, "insufficient permissions")
			return
		}

		next(w, r)
	}
}

func (s *Server) registerRoutes() {
	// Decisions
	s.mux.HandleFunc("POST /api/decisions", s.authRequired("decision.evaluate", s.handleDecide))

	// Policies
	s.mux.HandleFunc("GET /api/policies", s.authRequired("session.read", s.handleListPolicies))
	s.mux.HandleFunc("GET /api/policies/{id}", s.authRequired("session.read", s.handleGetPolicy))
	s.mux.HandleFunc("POST /api/policies", s.authRequired("config.change", s.handleCreatePolicy))
	s.mux.HandleFunc("POST /api/policies/{id}/publish", s.authRequired("config.change", s.handlePublishPolicy))
	s.mux.HandleFunc("POST /api/policies/cache/reload", s.authRequired("config.change", s.handleReloadCache))

	// Escalations
	s.mux.HandleFunc("GET /api/escalations", s.authRequired("session.read", s.handleListEscalations))
	s.mux.HandleFunc("GET /api/escalations/{id}", s.authRequired("session.read", s.handleGetEscalation))
	s.mux.HandleFunc("POST /api/escalations/{id}/approve", s.authRequired("session.terminate", s.handleApproveEscalation))
	s.mux.HandleFunc("POST /api/escalations/{id}/deny", s.authRequired("session.terminate", s.handleDenyEscalation))
	s.mux.HandleFunc("POST /api/escalations/{id}/cancel", s.authRequired("session.terminate", s.handleCancelEscalation))
	s.mux.HandleFunc("GET /api/escalations/{id}/audit", s.authRequired("session.read", s.handleEscalationAudit))

	// Trust
	s.mux.HandleFunc("GET /api/trust/{entityId}", s.authRequired("session.read", s.handleGetTrust))

	// Proof
	s.mux.HandleFunc("GET /api/proof/verify", s.authRequired("proof.read", s.handleVerifyProof))

	// Kill switch
	s.mux.HandleFunc("GET /api/killswitch", s.authRequired("session.read", s.handleKillSwitchStatus))
	s.mux.HandleFunc("POST /api/killswitch/trigger", s.authRequired("session.terminate", s.handleKillSwitchTrigger))
	s.mux.HandleFunc("POST /api/killswitch/reset", s.authRequired("config.change", s.handleKillSwitchReset))

	// System — health is always public
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	s.mux.HandleFunc("GET /metrics", promhttp.Handler().ServeHTTP)

	// WebSocket event stream
	s.mux.HandleFunc("GET /api/ws/events", s.wsHub.HandleWebSocket)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	if s.config.CORS {
		return corsMiddleware(s.mux)
	}
	return s.mux
}

// Start starts the API server on the given address.
func (s *Server) Start(addr string) error {
	go s.wsHub.Run()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("management API listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.wsHub.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// BroadcastEvent pushes a decision or proof event to all websocket clients.
func (s *Server) BroadcastEvent(eventType string, data interface{}) {
	s.wsHub.Broadcast(eventType, data)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Governor-Tenant-Id, X-Governor-Entity-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Mux returns the underlying ServeMux for mounting additional routes.
func (s *Server) Mux() *http.ServeMux {
	return s.mux
}

// Addr formats an address string from a bare port.
func Addr(port int) string {
	return fmt.Sprintf(":%d", port)
}
