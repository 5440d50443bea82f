// Package rpcserver implements the gRPC decision endpoint: the real-time
// evaluation surface governed SDKs call before/after every agent action.
// It mirrors the teacher's internal/server GRPCServer almost method for
// method — EvaluateAction synchronous-evaluate-then-fire-and-forget,
// StreamActions as a bidirectional evaluate-per-message loop — rewired onto
// the Decision Coordinator instead of a single policy.Engine, and carrying
// a hand-written JSON codec in place of generated protobuf stubs (see
// DESIGN.md's Open Question decision on running without a .proto/*.pb.go).
package rpcserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"

	"google.golang.org/grpc"

	"github.com/agentgovern/governor/internal/decision"
	"github.com/agentgovern/governor/internal/escalation"
)

// RPCServer implements the governor.v1.DecisionService gRPC surface.
type RPCServer struct {
	coordinator *decision.Coordinator
	escalations *escalation.Coordinator
	logger      *slog.Logger

	grpcServer *grpc.Server
}

// NewRPCServer creates an RPCServer wired to the Decision Coordinator and
// Escalation Coordinator.
func NewRPCServer(coordinator *decision.Coordinator, escalations *escalation.Coordinator, logger *slog.Logger) *RPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &RPCServer{
		coordinator: coordinator,
		escalations: escalations,
		logger:      logger.With("component", "rpcserver.RPCServer"),
	}
}

// Start binds the gRPC server on the given port and begins serving. This
// call blocks until the server is stopped.
func (s *RPCServer) Start(port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("rpcserver: listen on port %d: %w", port, err)
	}

	s.grpcServer = grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	registerDecisionService(s.grpcServer, s)

	s.logger.Info("gRPC server listening", "port", port)
	return s.grpcServer.Serve(lis)
}

// Stop gracefully shuts down the gRPC server.
func (s *RPCServer) Stop() {
	if s.grpcServer != nil {
		s.logger.Info("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}
}

// EvaluateAction evaluates a single intent through the Decision Coordinator
// and returns its verdict. Unlike the teacher's trace-recording goroutine,
// everything that happens after the verdict (proof emission, alerting) is
// already fire-and-forget inside Coordinator.Decide itself.
func (s *RPCServer) EvaluateAction(ctx context.Context, req *ActionRequest) (*ActionReply, error) {
	if req.Action == nil && req.IntentType == "" {
		return nil, fmt.Errorf("rpcserver: intentType or action is required")
	}

	verdict, err := s.coordinator.Decide(ctx, decision.Request{
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
		return nil, fmt.Errorf("rpcserver: evaluate action: %w", err)
	}

	return verdictToReply(verdict), nil
}

// ResolveEscalation approves or denies a pending escalation raised by a
// prior EvaluateAction call, for SDKs that poll over gRPC rather than the
// management HTTP API.
func (s *RPCServer) ResolveEscalation(ctx context.Context, req *ResolveEscalationRequest) (*ResolveEscalationReply, error) {
	resolution := escalation.StatusRejected
	if req.Approve {
		resolution = escalation.StatusApproved
	}

	_, err := s.escalations.Resolve(ctx, req.TenantID, req.EscalationID, escalation.ResolveInput{
		Resolution: resolution,
		ResolvedBy: req.ResolvedBy,
		Notes:      req.Notes,
	})
	if err != nil {
		return nil, fmt.Errorf("rpcserver: resolve escalation: %w", err)
	}

	return &ResolveEscalationReply{Status: string(resolution)}, nil
}

// StreamActions implements bidirectional streaming: for each incoming
// intent, evaluate it through the Decision Coordinator and stream back the
// verdict, the high-throughput path for agents submitting many intents per
// session.
func (s *RPCServer) StreamActions(stream grpc.ServerStream) error {
	s.logger.Info("stream opened")

	for {
		req, err := recvAction(stream)
		if err == io.EOF {
			s.logger.Info("stream closed by client")
			return nil
		}
		if err != nil {
			s.logger.Error("stream recv error", "error", err)
			return err
		}

		reply, err := s.EvaluateAction(stream.Context(), req)
		if err != nil {
			s.logger.Error("stream evaluate error", "entity_id", req.EntityID, "error", err)
			reply = &ActionReply{Action: "deny", Reason: fmt.Sprintf("evaluation error: %s", err.Error())}
		}

		if err := sendReply(stream, reply); err != nil {
			s.logger.Error("stream send error", "error", err)
			return err
		}
	}
}

func verdictToReply(v decision.Verdict) *ActionReply {
	return &ActionReply{
		Action:        string(v.Action),
		Reason:        v.Reason,
		AppliedPolicy: v.AppliedPolicy,
		Constraints:   v.Constraints,
		EscalationID:  v.EscalationID,
		TrustScore:    v.TrustScore,
		TrustBand:     v.TrustBand.String(),
		ConcludedAt:   string(v.ConcludedAt),
		LatencyMs:     v.DurationMs,
	}
}
