package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/manet-simulator/internal/config"
	"github.com/signalsfoundry/manet-simulator/internal/frameserver"
	"github.com/signalsfoundry/manet-simulator/internal/logging"
	"github.com/signalsfoundry/manet-simulator/internal/observability"
	"github.com/signalsfoundry/manet-simulator/internal/recorder"
	"github.com/signalsfoundry/manet-simulator/internal/sim"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a simulation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			framesOut, _ := cmd.Flags().GetString("frames-out")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runSimulation(ctx, cfg, framesOut, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().Int("nodes", 0, "number of mobile nodes")
	cmd.Flags().Int("ticks", 0, "number of ticks to simulate")
	cmd.Flags().Uint64("seed", 0, "random seed (drawn and logged when unset)")
	cmd.Flags().Float64("range", 0, "communication range threshold")
	cmd.Flags().Int("workers", 0, "parallel proximity scan workers")
	cmd.Flags().Bool("audit", false, "check the edge set against a brute-force recomputation every tick")
	cmd.Flags().String("db", "", "record frames into this SQLite database")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().String("grpc-addr", "", "serve the frame stream on this address")
	cmd.Flags().Bool("realtime", false, "pace ticks with --tick-interval")
	cmd.Flags().Duration("tick-interval", 0, "wall-clock time between ticks in real-time mode")
	cmd.Flags().String("frames-out", "", `write frames as JSON lines to this file ("-" for stdout)`)
	return cmd
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			return enc.Close()
		},
	}
	cmd.Flags().Int("nodes", 0, "number of mobile nodes")
	cmd.Flags().Int("ticks", 0, "number of ticks to simulate")
	cmd.Flags().Uint64("seed", 0, "random seed")
	return cmd
}

// loadConfig layers defaults, the --config file, environment overrides and
// then explicitly set flags, and validates the result.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("nodes") {
		cfg.Simulation.Nodes, _ = flags.GetInt("nodes")
	}
	if flags.Changed("ticks") {
		cfg.Simulation.Ticks, _ = flags.GetInt("ticks")
	}
	if flags.Changed("seed") {
		seed, _ := flags.GetUint64("seed")
		cfg.Simulation.Seed = &seed
	}
	if flags.Changed("range") {
		cfg.Simulation.Range, _ = flags.GetFloat64("range")
	}
	if flags.Changed("workers") {
		cfg.Simulation.ScanWorkers, _ = flags.GetInt("workers")
	}
	if flags.Changed("audit") {
		cfg.Simulation.Audit, _ = flags.GetBool("audit")
	}
	if flags.Changed("db") {
		cfg.Recorder.Path, _ = flags.GetString("db")
	}
	if flags.Changed("metrics-addr") {
		cfg.Server.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("grpc-addr") {
		cfg.Server.GRPCAddr, _ = flags.GetString("grpc-addr")
	}
	if flags.Changed("realtime") {
		cfg.Clock.RealTime, _ = flags.GetBool("realtime")
	}
	if flags.Changed("tick-interval") {
		cfg.Clock.TickInterval, _ = flags.GetDuration("tick-interval")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSimulation(ctx context.Context, cfg *config.Config, framesOut string, stdout, stderr io.Writer) error {
	log := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: stderr,
	})

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
		Writer:      stderr,
	}, log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	collector, err := observability.NewSimCollector(reg)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	var sinks []sim.FrameSink
	sinks = append(sinks, sim.LogSink{Log: log})

	if framesOut != "" {
		w := stdout
		if framesOut != "-" {
			f, err := os.Create(framesOut)
			if err != nil {
				return fmt.Errorf("open frames output: %w", err)
			}
			defer f.Close()
			w = f
		}
		sinks = append(sinks, sim.NewJSONLinesSink(w))
	}

	var rec *recorder.Recorder
	if cfg.Recorder.Path != "" {
		rec, err = recorder.Open(cfg.Recorder.Path)
		if err != nil {
			return err
		}
		defer rec.Close()
		sinks = append(sinks, rec)
	}

	if cfg.Server.GRPCAddr != "" {
		hub := frameserver.NewHub(0)
		defer hub.Close()
		stopGRPC, err := serveFrames(ctx, cfg.Server.GRPCAddr, hub, collector, log)
		if err != nil {
			return err
		}
		defer stopGRPC()
		sinks = append(sinks, hub)
	}

	if cfg.Server.MetricsAddr != "" {
		srv := serveMetrics(ctx, cfg.Server.MetricsAddr, collector, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	runner, err := sim.NewRunner(cfg,
		sim.WithLogger(log),
		sim.WithMetrics(collector),
		sim.WithSinks(sinks...),
	)
	if err != nil {
		return err
	}

	runID := logging.NewRunID()
	ctx = logging.ContextWithRunID(ctx, runID)
	if rec != nil {
		if err := rec.BeginRun(ctx, recorder.RunInfo{
			ID:        runID,
			Seed:      runner.Seed(),
			MaxX:      cfg.Simulation.MaxX,
			MaxY:      cfg.Simulation.MaxY,
			Range:     cfg.Simulation.Range,
			NodeCount: runner.State().Len(),
		}); err != nil {
			return err
		}
	}

	sum, runErr := runner.Run(ctx)
	if rec != nil {
		if err := rec.FinishRun(context.Background(), sum.Ticks); err != nil {
			log.Error(ctx, "failed to finalise recorded run", logging.Err(err))
		}
	}

	fmt.Fprintf(stderr, "run %s: seed=%d ticks=%d nodes=%d edges=%d stuck=%d elapsed=%s\n",
		sum.RunID, sum.Seed, sum.Ticks, sum.Nodes, sum.Edges, sum.StuckSteps, sum.Elapsed.Round(time.Millisecond))

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func serveFrames(ctx context.Context, addr string, hub *frameserver.Hub, collector *observability.SimCollector, log logging.Logger) (func(), error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	server, health := frameserver.NewGRPCServer(hub, collector, log)

	go func() {
		log.Info(ctx, "frame server listening", logging.String("addr", lis.Addr().String()))
		if err := server.Serve(lis); err != nil {
			log.Error(ctx, "frame server stopped", logging.Err(err))
		}
	}()

	return func() {
		health.Shutdown()
		hub.Close()
		server.GracefulStop()
	}, nil
}

func serveMetrics(ctx context.Context, addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info(ctx, "metrics server listening", logging.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "metrics server stopped", logging.Err(err))
		}
	}()
	return srv
}
