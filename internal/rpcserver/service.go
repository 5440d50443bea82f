package rpcserver

import (
	"context"
	"fmt"
	"io"

	"google.golang.org/grpc"
)

// decisionServiceServer is the RPC surface a DecisionServer must implement.
// In the teacher this interface is generated from a .proto file; here it is
// hand-written and registered directly against *grpc.Server, per the Open
// Question decision on running without generated stubs.
type decisionServiceServer interface {
	EvaluateAction(ctx context.Context, req *ActionRequest) (*ActionReply, error)
	ResolveEscalation(ctx context.Context, req *ResolveEscalationRequest) (*ResolveEscalationReply, error)
	StreamActions(stream grpc.ServerStream) error
}

// serviceDesc describes the governor.v1.DecisionService RPC surface the way
// protoc-gen-go-grpc would generate it, built by hand since no .proto/
// generated stub exists anywhere in the retrieval pack.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "governor.v1.DecisionService",
	HandlerType: (*decisionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "EvaluateAction",
			Handler:    evaluateActionHandler,
		},
		{
			MethodName: "ResolveEscalation",
			Handler:    resolveEscalationHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamActions",
			Handler:       streamActionsHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "governor/v1/decision.proto",
}

func evaluateActionHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ActionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(decisionServiceServer).EvaluateAction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/governor.v1.DecisionService/EvaluateAction",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(decisionServiceServer).EvaluateAction(ctx, req.(*ActionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func resolveEscalationHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ResolveEscalationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(decisionServiceServer).ResolveEscalation(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/governor.v1.DecisionService/ResolveEscalation",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(decisionServiceServer).ResolveEscalation(ctx, req.(*ResolveEscalationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamActionsHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(decisionServiceServer).StreamActions(stream)
}

// registerDecisionService registers srv against s using the hand-written
// ServiceDesc above, the way a generated pb.RegisterDecisionServiceServer
// stub would.
func registerDecisionService(s *grpc.Server, srv decisionServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

// recvAction and sendReply adapt the raw grpc.ServerStream to the typed
// request/reply pair StreamActions exchanges, since there is no generated
// DecisionService_StreamActionsServer to do it for us.
func recvAction(stream grpc.ServerStream) (*ActionRequest, error) {
	in := new(ActionRequest)
	if err := stream.RecvMsg(in); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("rpcserver: stream recv: %w", err)
	}
	return in, nil
}

func sendReply(stream grpc.ServerStream, reply *ActionReply) error {
	return stream.SendMsg(reply)
}
