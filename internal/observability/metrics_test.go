package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestObserveTickUpdatesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	collector.ObserveTick(TickStats{Duration: 2 * time.Millisecond, Mobile: 10, Paused: 3, Stuck: 1, EdgesAdded: 4, EdgesRemoved: 1, Edges: 7})
	collector.ObserveTick(TickStats{Duration: time.Millisecond, Mobile: 10, Paused: 5, EdgesAdded: 1, EdgesRemoved: 2, Edges: 6})

	if got := testutil.ToFloat64(collector.TicksTotal); got != 2 {
		t.Fatalf("sim_ticks_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.EdgesAdded); got != 5 {
		t.Fatalf("sim_edges_added_total = %v, want 5", got)
	}
	if got := testutil.ToFloat64(collector.EdgesRemoved); got != 3 {
		t.Fatalf("sim_edges_removed_total = %v, want 3", got)
	}
	if got := testutil.ToFloat64(collector.Edges); got != 6 {
		t.Fatalf("sim_edges = %v, want 6", got)
	}
	if got := testutil.ToFloat64(collector.PausedNodes); got != 5 {
		t.Fatalf("sim_paused_nodes = %v, want 5", got)
	}
	if got := testutil.ToFloat64(collector.StuckTotal); got != 1 {
		t.Fatalf("sim_mobility_stuck_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "sim_tick_duration_seconds", nil); count != 2 {
		t.Fatalf("sim_tick_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestNewSimCollectorReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("first NewSimCollector: %v", err)
	}
	second, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("second NewSimCollector: %v", err)
	}
	first.ObserveTick(TickStats{Edges: 1})
	second.ObserveTick(TickStats{Edges: 2})
	if got := testutil.ToFloat64(first.TicksTotal); got != 2 {
		t.Fatalf("shared sim_ticks_total = %v, want 2", got)
	}
}

func TestNilCollectorIsSafe(t *testing.T) {
	var c *SimCollector
	c.ObserveTick(TickStats{Edges: 3})
	c.FrameDropped("grpc")
}

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/manet.frames.v1.FrameService/GetFrame"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}
	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, status.Error(codes.Unavailable, "no frame yet")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("FrameService", "GetFrame", "OK")); got != 1 {
		t.Fatalf("frames_rpc_requests_total OK = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("FrameService", "GetFrame", "Unavailable")); got != 1 {
		t.Fatalf("frames_rpc_requests_total Unavailable = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "frames_rpc_duration_seconds", map[string]string{
		"service": "FrameService",
		"method":  "GetFrame",
	}); count != 2 {
		t.Fatalf("frames_rpc_duration_seconds sample_count = %d, want 2", count)
	}
}

func TestStreamInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	interceptor := collector.StreamServerInterceptor()
	info := &grpc.StreamServerInfo{FullMethod: "/manet.frames.v1.FrameService/WatchFrames", IsServerStream: true}
	err = interceptor(nil, nil, info, func(srv interface{}, stream grpc.ServerStream) error {
		return status.Error(codes.Canceled, "client left")
	})
	if status.Code(err) != codes.Canceled {
		t.Fatalf("interceptor returned %v, want Canceled", err)
	}
	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("FrameService", "WatchFrames", "Canceled")); got != 1 {
		t.Fatalf("frames_rpc_requests_total = %v, want 1", got)
	}
}

func TestMetricsHandlerExposesSimulationMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	collector.ObserveTick(TickStats{Mobile: 4, Edges: 2})
	collector.FrameDropped("grpc")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"sim_ticks_total",
		"sim_tick_duration_seconds",
		"sim_edges",
		"sim_mobile_nodes",
		`sim_frames_dropped_total{sink="grpc"} 1`,
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestSplitMethod(t *testing.T) {
	tests := []struct {
		in            string
		service, meth string
	}{
		{"/manet.frames.v1.FrameService/WatchFrames", "FrameService", "WatchFrames"},
		{"FrameService/GetFrame", "FrameService", "GetFrame"},
		{"", "unknown", "unknown"},
		{"/justone", "unknown", "unknown"},
	}
	for _, tc := range tests {
		s, m := SplitMethod(tc.in)
		if s != tc.service || m != tc.meth {
			t.Fatalf("SplitMethod(%q) = %q,%q want %q,%q", tc.in, s, m, tc.service, tc.meth)
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
