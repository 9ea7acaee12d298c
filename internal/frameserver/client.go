package frameserver

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/signalsfoundry/manet-simulator/model"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client reads frames from a remote FrameService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// GetFrame fetches the latest frame.
func (c *Client) GetFrame(ctx context.Context, opts ...grpc.CallOption) (model.Frame, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetFrameFullMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return model.Frame{}, err
	}
	return DecodeFrame(out)
}

// WatchFrames calls fn for every streamed frame until the server ends the
// stream, ctx is cancelled, or fn returns an error.
func (c *Client) WatchFrames(ctx context.Context, fn func(model.Frame) error, opts ...grpc.CallOption) error {
	stream, err := c.cc.NewStream(ctx, &FrameServiceDesc.Streams[0], WatchFramesFullMethod, opts...)
	if err != nil {
		return err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}
	if err := x.SendMsg(&emptypb.Empty{}); err != nil {
		return err
	}
	if err := x.CloseSend(); err != nil {
		return err
	}
	for {
		msg, err := x.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		frame, err := DecodeFrame(msg)
		if err != nil {
			return fmt.Errorf("watch frames: %w", err)
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
}
