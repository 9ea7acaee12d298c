package frameserver

import (
	"reflect"
	"testing"

	"github.com/signalsfoundry/manet-simulator/model"
	"google.golang.org/protobuf/types/known/structpb"
)

func sampleFrame() model.Frame {
	return model.Frame{
		Tick: 12,
		Nodes: []model.NodeView{
			{ID: "0", X: 10.5, Y: 20, Direction: 1.25, Speed: 2, Moving: true, RemainingTime: 17, Class: model.NodeClassMoving},
			{ID: "upleft", X: 0, Y: 0, Class: model.NodeClassGrid},
		},
		Edges: []model.Edge{{A: "0", B: "upleft"}},
	}
}

func TestEncodeDecodeFramePreservesContent(t *testing.T) {
	want := sampleFrame()
	msg, err := EncodeFrame(want)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if got := msg.GetFields()["tick"].GetNumberValue(); got != 12 {
		t.Fatalf("encoded tick = %v, want 12", got)
	}
	got, err := DecodeFrame(msg)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("decoded frame mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestDecodeFrameRejectsMalformedMessages(t *testing.T) {
	if _, err := DecodeFrame(nil); err == nil {
		t.Fatalf("expected error for nil message")
	}
	bad, err := structpb.NewStruct(map[string]any{
		"tick":  1,
		"nodes": []any{"not-an-object"},
	})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}
	if _, err := DecodeFrame(bad); err == nil {
		t.Fatalf("expected error for non-object node")
	}
}
