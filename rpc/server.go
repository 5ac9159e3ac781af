package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/tokengate/ratelimit/backends"
	"github.com/tokengate/ratelimit/interceptor"
)

// grpcMetadata adapts grpc's incoming metadata onto interceptor.MetadataReader
// so the check-mode interceptor can gate any unary call on this server
// without depending on grpc itself.
type grpcMetadata struct {
	md metadata.MD
}

func (g grpcMetadata) Get(key string) (string, bool) {
	vals := g.md.Get(key)
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// gateInterceptor builds a grpc.UnaryServerInterceptor that runs every
// unary call through ic before the handler, translating Reject* outcomes
// into the appropriate grpc status codes.
func gateInterceptor(ic *interceptor.Interceptor) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		result := ic.Check(ctx, grpcMetadata{md: md})

		switch result.Outcome {
		case interceptor.Forward:
			return handler(ctx, req)
		case interceptor.RejectResourceExhausted:
			return nil, status.Errorf(codes.ResourceExhausted, "rate limit exceeded, retry after %s", result.Decision.RetryHint)
		default:
			return nil, status.Errorf(codes.Internal, "rate limiter unavailable: %v", result.Err)
		}
	}
}

// translateError maps a core-package error onto a grpc status:
// BackendError becomes internal, anything else (validation) becomes
// invalid argument.
func translateError(err error) error {
	if err == nil {
		return nil
	}
	var be *backends.BackendError
	if errors.As(err, &be) {
		return status.Errorf(codes.Internal, "%v", err)
	}
	return status.Errorf(codes.InvalidArgument, "%v", err)
}

// Server hosts Service over a hand-built grpc.ServiceDesc registered with
// the JSON codec (codec.go), instead of protoc-generated bindings — the
// wire messages are flat enough that this keeps the transport layer thin
// while still exercising google.golang.org/grpc.
type Server struct {
	svc    *Service
	server *grpc.Server
}

// NewServer wires svc onto a grpc.Server. If gate is non-nil, every unary
// call on this service also passes through the check-mode interceptor.
func NewServer(svc *Service, gate *interceptor.Interceptor) *Server {
	var opts []grpc.ServerOption
	if gate != nil {
		opts = append(opts, grpc.UnaryInterceptor(gateInterceptor(gate)))
	}

	s := grpc.NewServer(opts...)
	s.RegisterService(&serviceDesc, svc)
	return &Server{svc: svc, server: s}
}

// Serve listens on addr and blocks serving RPCs until the listener errs or
// Stop is called.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("rpc: listen: %w", err)
	}
	return s.server.Serve(lis)
}

// Stop gracefully stops the server, waiting for in-flight RPCs to finish.
func (s *Server) Stop() {
	s.server.GracefulStop()
}

// serverStreamSender adapts a grpc.ServerStream onto the streamSender
// interface Service.StreamLimitStatus expects.
type serverStreamSender struct {
	stream grpc.ServerStream
}

func (s serverStreamSender) Send(snap *StreamLimitStatusSnapshot) error {
	return s.stream.SendMsg(snap)
}

func checkLimitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(CheckLimitRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	svc := srv.(*Service)
	if interceptor == nil {
		resp, err := svc.CheckLimit(ctx, req)
		return resp, translateError(err)
	}
	info := &grpc.UnaryServerInfo{Server: svc, FullMethod: "/ratelimit.RateLimitService/CheckLimit"}
	handler := func(ctx context.Context, req any) (any, error) {
		resp, err := svc.CheckLimit(ctx, req.(*CheckLimitRequest))
		return resp, translateError(err)
	}
	return interceptor(ctx, req, info, handler)
}

func getUsageHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(GetUsageRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	svc := srv.(*Service)
	if interceptor == nil {
		resp, err := svc.GetUsage(ctx, req)
		return resp, translateError(err)
	}
	info := &grpc.UnaryServerInfo{Server: svc, FullMethod: "/ratelimit.RateLimitService/GetUsage"}
	handler := func(ctx context.Context, req any) (any, error) {
		resp, err := svc.GetUsage(ctx, req.(*GetUsageRequest))
		return resp, translateError(err)
	}
	return interceptor(ctx, req, info, handler)
}

func resetLimitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(ResetLimitRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	svc := srv.(*Service)
	if interceptor == nil {
		resp, err := svc.ResetLimit(ctx, req)
		return resp, translateError(err)
	}
	info := &grpc.UnaryServerInfo{Server: svc, FullMethod: "/ratelimit.RateLimitService/ResetLimit"}
	handler := func(ctx context.Context, req any) (any, error) {
		resp, err := svc.ResetLimit(ctx, req.(*ResetLimitRequest))
		return resp, translateError(err)
	}
	return interceptor(ctx, req, info, handler)
}

func streamLimitStatusHandler(srv any, stream grpc.ServerStream) error {
	req := new(StreamLimitStatusRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	svc := srv.(*Service)
	err := svc.StreamLimitStatus(stream.Context(), req, serverStreamSender{stream: stream})
	return translateError(err)
}

// serviceDesc is the hand-built registration table standing in for
// protoc-generated *_grpc.pb.go bindings (see package doc in messages.go).
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "ratelimit.RateLimitService",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CheckLimit", Handler: checkLimitHandler},
		{MethodName: "GetUsage", Handler: getUsageHandler},
		{MethodName: "ResetLimit", Handler: resetLimitHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "StreamLimitStatus", Handler: streamLimitStatusHandler, ServerStreams: true},
	},
	Metadata: "ratelimit.proto",
}
