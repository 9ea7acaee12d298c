package frameserver

import (
	"context"

	"github.com/signalsfoundry/manet-simulator/internal/logging"
	"github.com/signalsfoundry/manet-simulator/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
)

const runIDMetadataKey = "x-run-id"

// NewGRPCServer builds a grpc.Server serving FrameService and the standard
// health service. collector may be nil.
func NewGRPCServer(hub *Hub, collector *observability.SimCollector, log logging.Logger) (*grpc.Server, *health.Server) {
	if log == nil {
		log = logging.Noop()
	}
	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			LoggerUnaryServerInterceptor(log),
			collector.UnaryServerInterceptor(),
		),
		grpc.ChainStreamInterceptor(
			LoggerStreamServerInterceptor(log),
			collector.StreamServerInterceptor(),
		),
	)
	RegisterFrameServiceServer(server, NewService(hub, log))

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	return server, hs
}

// LoggerUnaryServerInterceptor attaches a per-call logger annotated with the
// method and, when the caller sent one, the x-run-id metadata value.
func LoggerUnaryServerInterceptor(base logging.Logger) grpc.UnaryServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx = withCallLogger(ctx, base, info.FullMethod)
		return handler(ctx, req)
	}
}

// LoggerStreamServerInterceptor is the streaming counterpart of
// LoggerUnaryServerInterceptor.
func LoggerStreamServerInterceptor(base logging.Logger) grpc.StreamServerInterceptor {
	if base == nil {
		base = logging.Noop()
	}
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := withCallLogger(ss.Context(), base, info.FullMethod)
		return handler(srv, &contextStream{ServerStream: ss, ctx: ctx})
	}
}

func withCallLogger(ctx context.Context, base logging.Logger, method string) context.Context {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(runIDMetadataKey); len(vals) > 0 && vals[0] != "" {
			ctx = logging.ContextWithRunID(ctx, vals[0])
		}
	}
	ctx, _ = logging.WithRunLogger(ctx, base.With(logging.String("method", method)))
	return ctx
}

type contextStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *contextStream) Context() context.Context { return s.ctx }
