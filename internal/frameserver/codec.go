package frameserver

import (
	"fmt"

	"github.com/signalsfoundry/manet-simulator/model"
	"google.golang.org/protobuf/types/known/structpb"
)

// EncodeFrame converts a frame into a protobuf Struct:
//
//	{tick, nodes: [{id, x, y, direction, speed, moving, paused, remaining_time, class}], edges: [{a, b}]}
func EncodeFrame(f model.Frame) (*structpb.Struct, error) {
	nodes := make([]any, 0, len(f.Nodes))
	for _, n := range f.Nodes {
		nodes = append(nodes, map[string]any{
			"id":             n.ID,
			"x":              n.X,
			"y":              n.Y,
			"direction":      n.Direction,
			"speed":          n.Speed,
			"moving":         n.Moving,
			"paused":         n.Paused,
			"remaining_time": n.RemainingTime,
			"class":          string(n.Class),
		})
	}
	edges := make([]any, 0, len(f.Edges))
	for _, e := range f.Edges {
		edges = append(edges, map[string]any{"a": e.A, "b": e.B})
	}
	s, err := structpb.NewStruct(map[string]any{
		"tick":  f.Tick,
		"nodes": nodes,
		"edges": edges,
	})
	if err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", f.Tick, err)
	}
	return s, nil
}

// DecodeFrame is the inverse of EncodeFrame.
func DecodeFrame(s *structpb.Struct) (model.Frame, error) {
	var f model.Frame
	if s == nil {
		return f, fmt.Errorf("decode frame: nil message")
	}
	fields := s.GetFields()
	f.Tick = int(fields["tick"].GetNumberValue())

	f.Nodes = make([]model.NodeView, 0, len(fields["nodes"].GetListValue().GetValues()))
	for i, v := range fields["nodes"].GetListValue().GetValues() {
		obj := v.GetStructValue().GetFields()
		if obj == nil {
			return f, fmt.Errorf("decode frame %d: node %d is not an object", f.Tick, i)
		}
		f.Nodes = append(f.Nodes, model.NodeView{
			ID:            obj["id"].GetStringValue(),
			X:             obj["x"].GetNumberValue(),
			Y:             obj["y"].GetNumberValue(),
			Direction:     obj["direction"].GetNumberValue(),
			Speed:         obj["speed"].GetNumberValue(),
			Moving:        obj["moving"].GetBoolValue(),
			Paused:        obj["paused"].GetBoolValue(),
			RemainingTime: int(obj["remaining_time"].GetNumberValue()),
			Class:         model.NodeClass(obj["class"].GetStringValue()),
		})
	}

	f.Edges = make([]model.Edge, 0, len(fields["edges"].GetListValue().GetValues()))
	for i, v := range fields["edges"].GetListValue().GetValues() {
		obj := v.GetStructValue().GetFields()
		if obj == nil {
			return f, fmt.Errorf("decode frame %d: edge %d is not an object", f.Tick, i)
		}
		f.Edges = append(f.Edges, model.Edge{A: obj["a"].GetStringValue(), B: obj["b"].GetStringValue()})
	}
	return f, nil
}
