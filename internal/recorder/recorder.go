// Package recorder persists simulation frames to SQLite so runs can be
// rendered, replayed or analysed after the fact.
package recorder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/signalsfoundry/manet-simulator/model"

	_ "modernc.org/sqlite" // SQLite driver
)

var (
	// ErrNoActiveRun is returned by Publish before BeginRun.
	ErrNoActiveRun = errors.New("recorder: no active run")
	// ErrRunNotFound is returned when a run or tick is not in the database.
	ErrRunNotFound = errors.New("recorder: run not found")
)

// RunInfo describes a recorded run.
type RunInfo struct {
	ID         string
	Seed       uint64
	MaxX       float64
	MaxY       float64
	Range      float64
	NodeCount  int
	Ticks      int
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Recorder is a FrameSink that writes every frame of the active run into a
// SQLite database, one transaction per frame.
type Recorder struct {
	db *sql.DB

	mu    sync.Mutex
	runID string
}

// Open opens (or creates) the database at path. Use ":memory:" for tests.
func Open(path string) (*Recorder, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite works best with a single writer; this also keeps ":memory:"
	// databases on one connection.
	db.SetMaxOpenConns(1)

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Recorder{db: db}, nil
}

// Close closes the database.
func (r *Recorder) Close() error {
	return r.db.Close()
}

// Name implements sim.FrameSink.
func (r *Recorder) Name() string { return "sqlite" }

// BeginRun registers a new run; subsequent frames are attributed to it.
func (r *Recorder) BeginRun(ctx context.Context, info RunInfo) error {
	if info.ID == "" {
		return fmt.Errorf("begin run: empty run id")
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO runs (id, seed, max_x, max_y, range_threshold, node_count, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		info.ID, strconv.FormatUint(info.Seed, 10), info.MaxX, info.MaxY, info.Range, info.NodeCount,
		info.StartedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("begin run %s: %w", info.ID, err)
	}

	r.mu.Lock()
	r.runID = info.ID
	r.mu.Unlock()
	return nil
}

// FinishRun stamps the active run with its final tick count.
func (r *Recorder) FinishRun(ctx context.Context, ticks int) error {
	r.mu.Lock()
	runID := r.runID
	r.runID = ""
	r.mu.Unlock()
	if runID == "" {
		return ErrNoActiveRun
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE runs SET ticks = ?, finished_at = ? WHERE id = ?`,
		ticks, time.Now().UTC().Format(time.RFC3339Nano), runID)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return nil
}

// Publish implements sim.FrameSink.
func (r *Recorder) Publish(ctx context.Context, frame model.Frame) error {
	r.mu.Lock()
	runID := r.runID
	r.mu.Unlock()
	if runID == "" {
		return ErrNoActiveRun
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin frame tx: %w", err)
	}
	defer tx.Rollback()

	nodeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO node_states
			(run_id, tick, node_id, x, y, direction, speed, moving, paused, remaining_time, class, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare node insert: %w", err)
	}
	defer nodeStmt.Close()

	for i, n := range frame.Nodes {
		if _, err := nodeStmt.ExecContext(ctx, runID, frame.Tick, n.ID, n.X, n.Y, n.Direction, n.Speed,
			boolToInt(n.Moving), boolToInt(n.Paused), n.RemainingTime, string(n.Class), i); err != nil {
			return fmt.Errorf("insert node %s at tick %d: %w", n.ID, frame.Tick, err)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, `INSERT INTO edges (run_id, tick, node_a, node_b) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare edge insert: %w", err)
	}
	defer edgeStmt.Close()

	for _, e := range frame.Edges {
		if _, err := edgeStmt.ExecContext(ctx, runID, frame.Tick, e.A, e.B); err != nil {
			return fmt.Errorf("insert edge %s-%s at tick %d: %w", e.A, e.B, frame.Tick, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE runs SET ticks = MAX(ticks, ?) WHERE id = ?`, frame.Tick, runID); err != nil {
		return fmt.Errorf("update run ticks: %w", err)
	}
	return tx.Commit()
}

// Runs lists recorded runs, oldest first.
func (r *Recorder) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, seed, max_x, max_y, range_threshold, node_count, ticks, started_at, finished_at
		FROM runs ORDER BY started_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		info, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return out, nil
}

// Run returns a single run.
func (r *Recorder) Run(ctx context.Context, runID string) (RunInfo, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, seed, max_x, max_y, range_threshold, node_count, ticks, started_at, finished_at
		FROM runs WHERE id = ?`, runID)
	info, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunInfo{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return info, err
}

// Frame reloads the frame recorded for runID at tick.
func (r *Recorder) Frame(ctx context.Context, runID string, tick int) (model.Frame, error) {
	frame := model.Frame{Tick: tick}

	rows, err := r.db.QueryContext(ctx, `
		SELECT node_id, x, y, direction, speed, moving, paused, remaining_time, class
		FROM node_states WHERE run_id = ? AND tick = ? ORDER BY seq`, runID, tick)
	if err != nil {
		return frame, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			v              model.NodeView
			moving, paused int
			class          string
		)
		if err := rows.Scan(&v.ID, &v.X, &v.Y, &v.Direction, &v.Speed, &moving, &paused, &v.RemainingTime, &class); err != nil {
			return frame, fmt.Errorf("failed to scan node: %w", err)
		}
		v.Moving = moving != 0
		v.Paused = paused != 0
		v.Class = model.NodeClass(class)
		frame.Nodes = append(frame.Nodes, v)
	}
	if err := rows.Err(); err != nil {
		return frame, fmt.Errorf("error iterating nodes: %w", err)
	}
	if len(frame.Nodes) == 0 {
		return frame, fmt.Errorf("%w: %s tick %d", ErrRunNotFound, runID, tick)
	}

	edgeRows, err := r.db.QueryContext(ctx, `
		SELECT node_a, node_b FROM edges WHERE run_id = ? AND tick = ? ORDER BY node_a, node_b`, runID, tick)
	if err != nil {
		return frame, fmt.Errorf("failed to query edges: %w", err)
	}
	defer edgeRows.Close()

	frame.Edges = []model.Edge{}
	for edgeRows.Next() {
		var e model.Edge
		if err := edgeRows.Scan(&e.A, &e.B); err != nil {
			return frame, fmt.Errorf("failed to scan edge: %w", err)
		}
		frame.Edges = append(frame.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return frame, fmt.Errorf("error iterating edges: %w", err)
	}
	return frame, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (RunInfo, error) {
	var (
		info          RunInfo
		seed, started string
		finished      sql.NullString
	)
	if err := s.Scan(&info.ID, &seed, &info.MaxX, &info.MaxY, &info.Range, &info.NodeCount, &info.Ticks, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return info, err
		}
		return info, fmt.Errorf("failed to scan run: %w", err)
	}
	parsed, err := strconv.ParseUint(seed, 10, 64)
	if err != nil {
		return info, fmt.Errorf("run %s: bad seed %q: %w", info.ID, seed, err)
	}
	info.Seed = parsed
	if info.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return info, fmt.Errorf("run %s: bad started_at: %w", info.ID, err)
	}
	if finished.Valid {
		ts, err := time.Parse(time.RFC3339Nano, finished.String)
		if err != nil {
			return info, fmt.Errorf("run %s: bad finished_at: %w", info.ID, err)
		}
		info.FinishedAt = &ts
	}
	return info, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
