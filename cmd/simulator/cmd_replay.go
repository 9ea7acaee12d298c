package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/signalsfoundry/manet-simulator/internal/frameserver"
	"github.com/signalsfoundry/manet-simulator/internal/recorder"
	"github.com/signalsfoundry/manet-simulator/internal/sim"
	"github.com/signalsfoundry/manet-simulator/model"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs recorded in a SQLite database",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, _ := cmd.Flags().GetString("db")
			rec, err := recorder.Open(dbPath)
			if err != nil {
				return err
			}
			defer rec.Close()

			runs, err := rec.Runs(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tSEED\tNODES\tTICKS\tSTARTED\tFINISHED")
			for _, r := range runs {
				finished := "-"
				if r.FinishedAt != nil {
					finished = r.FinishedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\n",
					r.ID, r.Seed, r.NodeCount, r.Ticks, r.StartedAt.Format(time.RFC3339), finished)
			}
			return w.Flush()
		},
	}
	cmd.Flags().String("db", "manet.db", "SQLite database written by run --db")
	return cmd
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay RUN_ID",
		Short: "Print a recorded run as JSON lines, one frame per tick",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, _ := cmd.Flags().GetString("db")
			from, _ := cmd.Flags().GetInt("from")
			to, _ := cmd.Flags().GetInt("to")

			rec, err := recorder.Open(dbPath)
			if err != nil {
				return err
			}
			defer rec.Close()
			return replayRun(cmd.Context(), rec, args[0], from, to, sim.NewJSONLinesSink(cmd.OutOrStdout()))
		},
	}
	cmd.Flags().String("db", "manet.db", "SQLite database written by run --db")
	cmd.Flags().Int("from", 0, "first tick to print")
	cmd.Flags().Int("to", -1, "last tick to print (-1 for the final recorded tick)")
	return cmd
}

// replayRun reloads ticks [from, to] of runID and hands them to sink in order.
func replayRun(ctx context.Context, rec *recorder.Recorder, runID string, from, to int, sink sim.FrameSink) error {
	info, err := rec.Run(ctx, runID)
	if err != nil {
		return err
	}
	if to < 0 || to > info.Ticks {
		to = info.Ticks
	}
	if from < 0 {
		from = 0
	}
	for tick := from; tick <= to; tick++ {
		frame, err := rec.Frame(ctx, runID, tick)
		if err != nil {
			if errors.Is(err, recorder.ErrRunNotFound) {
				return fmt.Errorf("run %s has no frame for tick %d: %w", runID, tick, err)
			}
			return err
		}
		if err := sink.Publish(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream frames from a running simulator as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			limit, _ := cmd.Flags().GetInt("limit")

			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("dial %s: %w", addr, err)
			}
			defer conn.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sink := sim.NewJSONLinesSink(cmd.OutOrStdout())
			seen := 0
			err = frameserver.NewClient(conn).WatchFrames(ctx, func(f model.Frame) error {
				if err := sink.Publish(ctx, f); err != nil {
					return err
				}
				seen++
				if limit > 0 && seen >= limit {
					cancel()
				}
				return nil
			})
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().String("addr", "localhost:50051", "frame server address")
	cmd.Flags().Int("limit", 0, "stop after this many frames (0 streams until the server ends)")
	return cmd
}
