package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// SimCollector bundles Prometheus metrics for the simulation loop and the
// frame streaming surface.
type SimCollector struct {
	gatherer prometheus.Gatherer

	TicksTotal    prometheus.Counter
	TickDuration  prometheus.Histogram
	StuckTotal    prometheus.Counter
	EdgesAdded    prometheus.Counter
	EdgesRemoved  prometheus.Counter
	Edges         prometheus.Gauge
	MobileNodes   prometheus.Gauge
	PausedNodes   prometheus.Gauge
	FramesDropped *prometheus.CounterVec

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewSimCollector registers simulator metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Registering twice against the same registry returns the existing
// collectors.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	ticks, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_ticks_total",
		Help: "Number of completed simulation ticks.",
	}), "sim_ticks_total")
	if err != nil {
		return nil, err
	}
	tickDuration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_tick_duration_seconds",
		Help:    "Wall-clock time spent stepping nodes and refreshing the proximity graph per tick.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}), "sim_tick_duration_seconds")
	if err != nil {
		return nil, err
	}
	stuck, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_mobility_stuck_total",
		Help: "Node steps skipped because boundary rejection sampling hit the retry cap.",
	}), "sim_mobility_stuck_total")
	if err != nil {
		return nil, err
	}
	added, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_edges_added_total",
		Help: "Proximity edges inserted by graph refreshes.",
	}), "sim_edges_added_total")
	if err != nil {
		return nil, err
	}
	removed, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_edges_removed_total",
		Help: "Proximity edges removed by graph refreshes.",
	}), "sim_edges_removed_total")
	if err != nil {
		return nil, err
	}
	edges, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_edges",
		Help: "Current number of proximity edges.",
	}), "sim_edges")
	if err != nil {
		return nil, err
	}
	mobile, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_mobile_nodes",
		Help: "Number of movement-capable nodes stepped in the last tick.",
	}), "sim_mobile_nodes")
	if err != nil {
		return nil, err
	}
	paused, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_paused_nodes",
		Help: "Number of mobile nodes paused after the last tick.",
	}), "sim_paused_nodes")
	if err != nil {
		return nil, err
	}
	dropped, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_frames_dropped_total",
		Help: "Frames a sink could not accept, labeled by sink.",
	}, []string{"sink"}), "sim_frames_dropped_total")
	if err != nil {
		return nil, err
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "frames_rpc_requests_total",
		Help: "Total number of handled frame service RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "frames_rpc_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "frames_rpc_duration_seconds",
		Help:    "Frame service RPC latency in seconds; streams observe their full lifetime.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 60},
	}, []string{"service", "method"}), "frames_rpc_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:      gatherer,
		TicksTotal:    ticks,
		TickDuration:  tickDuration,
		StuckTotal:    stuck,
		EdgesAdded:    added,
		EdgesRemoved:  removed,
		Edges:         edges,
		MobileNodes:   mobile,
		PausedNodes:   paused,
		FramesDropped: dropped,
		RPCRequests:   requests,
		RPCDurations:  durations,
	}, nil
}

// TickStats is the per-tick input to ObserveTick.
type TickStats struct {
	Duration     time.Duration
	Mobile       int
	Paused       int
	Stuck        int
	EdgesAdded   int
	EdgesRemoved int
	Edges        int
}

// ObserveTick records the outcome of one completed tick.
func (c *SimCollector) ObserveTick(s TickStats) {
	if c == nil {
		return
	}
	c.TicksTotal.Inc()
	c.TickDuration.Observe(s.Duration.Seconds())
	c.StuckTotal.Add(float64(s.Stuck))
	c.EdgesAdded.Add(float64(s.EdgesAdded))
	c.EdgesRemoved.Add(float64(s.EdgesRemoved))
	c.Edges.Set(float64(s.Edges))
	c.MobileNodes.Set(float64(s.Mobile))
	c.PausedNodes.Set(float64(s.Paused))
}

// FrameDropped records a frame that sink could not accept.
func (c *SimCollector) FrameDropped(sink string) {
	if c == nil {
		return
	}
	c.FramesDropped.WithLabelValues(sink).Inc()
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *SimCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		c.observeRPC(fullMethod, err, start)
		return resp, err
	}
}

// StreamServerInterceptor records request counts and stream lifetimes.
func (c *SimCollector) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		c.observeRPC(fullMethod, err, start)
		return err
	}
}

func (c *SimCollector) observeRPC(fullMethod string, err error, start time.Time) {
	if c == nil {
		return
	}
	service, method := SplitMethod(fullMethod)
	code := status.Code(err).String()
	if c.RPCRequests != nil {
		c.RPCRequests.WithLabelValues(service, method, code).Inc()
	}
	if c.RPCDurations != nil {
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(h); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return h, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
