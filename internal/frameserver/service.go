// Package frameserver streams simulation frames to external renderers over
// gRPC. Frames travel as google.protobuf.Struct so clients need no generated
// stubs beyond the well-known types.
package frameserver

import (
	"context"

	"github.com/signalsfoundry/manet-simulator/internal/logging"
	"github.com/signalsfoundry/manet-simulator/model"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully-qualified gRPC service name.
	ServiceName = "manet.frames.v1.FrameService"

	GetFrameFullMethod    = "/" + ServiceName + "/GetFrame"
	WatchFramesFullMethod = "/" + ServiceName + "/WatchFrames"
)

// FrameServiceServer is the server API for FrameService.
type FrameServiceServer interface {
	// GetFrame returns the most recent frame.
	GetFrame(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	// WatchFrames streams every frame published after the call, starting
	// with the latest one if a frame exists.
	WatchFrames(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterFrameServiceServer registers srv on s.
func RegisterFrameServiceServer(s grpc.ServiceRegistrar, srv FrameServiceServer) {
	s.RegisterService(&FrameServiceDesc, srv)
}

func getFrameHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FrameServiceServer).GetFrame(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetFrameFullMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FrameServiceServer).GetFrame(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func watchFramesHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(FrameServiceServer).WatchFrames(m, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// FrameServiceDesc describes FrameService for grpc.Server.RegisterService.
var FrameServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*FrameServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetFrame",
			Handler:    getFrameHandler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchFrames",
			Handler:       watchFramesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "manet/frames/v1/frames.proto",
}

// Service implements FrameServiceServer on top of a Hub.
type Service struct {
	hub *Hub
	log logging.Logger
}

// NewService returns a FrameService backed by hub.
func NewService(hub *Hub, log logging.Logger) *Service {
	if log == nil {
		log = logging.Noop()
	}
	return &Service{hub: hub, log: log}
}

// GetFrame implements FrameServiceServer.
func (s *Service) GetFrame(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	frame, ok := s.hub.Latest()
	if !ok {
		return nil, status.Error(codes.Unavailable, "no frame published yet")
	}
	msg, err := EncodeFrame(frame)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return msg, nil
}

// WatchFrames implements FrameServiceServer.
func (s *Service) WatchFrames(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	log := logging.LoggerFromContext(ctx, s.log)

	frames, cancel := s.hub.Subscribe()
	defer cancel()
	log.Debug(ctx, "frame watcher attached", logging.Int("watchers", s.hub.Subscribers()))

	lastTick := -1
	if frame, ok := s.hub.Latest(); ok {
		if err := send(stream, frame); err != nil {
			return err
		}
		lastTick = frame.Tick
	}
	for {
		select {
		case <-ctx.Done():
			log.Debug(ctx, "frame watcher detached", logging.Err(ctx.Err()))
			return status.FromContextError(ctx.Err()).Err()
		case frame, ok := <-frames:
			if !ok {
				return nil
			}
			if frame.Tick <= lastTick {
				continue
			}
			lastTick = frame.Tick
			if err := send(stream, frame); err != nil {
				return err
			}
		}
	}
}

func send(stream grpc.ServerStreamingServer[structpb.Struct], frame model.Frame) error {
	msg, err := EncodeFrame(frame)
	if err != nil {
		return status.Error(codes.Internal, err.Error())
	}
	return stream.Send(msg)
}
