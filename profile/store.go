package profile

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound is returned for an unknown run ID.
var ErrRunNotFound = errors.New("profile run not found")

const storeSchema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	query TEXT NOT NULL,
	sample_size INTEGER NOT NULL,
	samples_run INTEGER NOT NULL,
	match_count INTEGER NOT NULL,
	average_ns INTEGER NOT NULL,
	stop_reason TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_query ON runs(query, created_at);
CREATE TABLE IF NOT EXISTS samples (
	run_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	elapsed_ns INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
);
`

// Run is a stored profiling result without its samples.
type Run struct {
	ID         string
	Query      string
	SampleSize int
	SamplesRun int
	MatchCount int
	Average    time.Duration
	StopReason StopReason
	CreatedAt  time.Time
}

// Store keeps profiling runs and their per-sample timings in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// OpenStore opens or creates the database at path. ":memory:" keeps it in memory.
func OpenStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open profile store: %w", err)
	}
	// a single connection keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(storeSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init profile store: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save records res and its samples under a new run ID.
func (s *Store) Save(ctx context.Context, res Result) (Run, error) {
	run := Run{
		ID:         uuid.NewString(),
		Query:      res.Query,
		SampleSize: res.SampleSize,
		SamplesRun: res.SamplesRun,
		MatchCount: res.MatchCount,
		Average:    res.Average,
		StopReason: res.StopReason,
		CreatedAt:  s.now(),
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Run{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO runs (id, query, sample_size, samples_run, match_count, average_ns, stop_reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Query, run.SampleSize, run.SamplesRun, run.MatchCount,
		run.Average.Nanoseconds(), string(run.StopReason), run.CreatedAt.UnixNano()); err != nil {
		return Run{}, fmt.Errorf("save run: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO samples (run_id, seq, elapsed_ns) VALUES (?, ?, ?)`)
	if err != nil {
		return Run{}, err
	}
	defer stmt.Close()
	for i, d := range res.Samples {
		if _, err := stmt.ExecContext(ctx, run.ID, i, d.Nanoseconds()); err != nil {
			return Run{}, fmt.Errorf("save sample %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return Run{}, err
	}
	return run, nil
}

// Recent lists up to n runs, newest first. An empty query lists every query.
func (s *Store) Recent(ctx context.Context, query string, n int) ([]Run, error) {
	if n <= 0 {
		n = 20
	}
	q := `SELECT id, query, sample_size, samples_run, match_count, average_ns, stop_reason, created_at
	      FROM runs WHERE (? = '' OR query = ?) ORDER BY created_at DESC, rowid DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, query, query, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var (
			r       Run
			avg     int64
			created int64
			reason  string
		)
		if err := rows.Scan(&r.ID, &r.Query, &r.SampleSize, &r.SamplesRun, &r.MatchCount, &avg, &reason, &created); err != nil {
			return nil, err
		}
		r.Average = time.Duration(avg)
		r.StopReason = StopReason(reason)
		r.CreatedAt = time.Unix(0, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Samples returns the timings of one run in sampling order.
func (s *Store) Samples(ctx context.Context, runID string) ([]time.Duration, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs WHERE id = ?`, runID).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT elapsed_ns FROM samples WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []time.Duration
	for rows.Next() {
		var ns int64
		if err := rows.Scan(&ns); err != nil {
			return nil, err
		}
		out = append(out, time.Duration(ns))
	}
	return out, rows.Err()
}

// WriteSamples writes one run's timings to w, one tick count per line.
func (s *Store) WriteSamples(ctx context.Context, w io.Writer, runID string) error {
	samples, err := s.Samples(ctx, runID)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	for _, d := range samples {
		bw.WriteString(strconv.FormatInt(d.Nanoseconds(), 10))
		bw.WriteByte('\n')
	}
	return bw.Flush()
}
