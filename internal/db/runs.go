package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coverage.explorer/internal/coverage"
	"github.com/banshee-data/coverage.explorer/internal/explore"
	"github.com/banshee-data/coverage.explorer/internal/geometry"
)

// ErrRunNotFound is returned when no run has the requested id.
var ErrRunNotFound = errors.New("run not found")

// StateActive marks a run that has started but not finished.
const StateActive = "ACTIVE"

// RunRecord is one stored exploration run.
type RunRecord struct {
	ID         string                `json:"run_id"`
	Frame      string                `json:"frame"`
	Boundary   []r3.Vec              `json:"boundary"`
	Center     geometry.PointStamped `json:"center"`
	Waypoints  int                   `json:"waypoints"`
	State      string                `json:"state"`
	Reason     string                `json:"reason,omitempty"`
	Completed  int                   `json:"completed"`
	Recenters  int                   `json:"recenters"`
	StartedAt  time.Time             `json:"started_at"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
}

// RecenterRecord is one excursion outside a run's boundary.
type RecenterRecord struct {
	Position      r3.Vec    `json:"position"`
	AfterProgress bool      `json:"after_progress"`
	At            time.Time `json:"at"`
}

var (
	_ explore.Recorder = (*DB)(nil)
	_ explore.RunIndex = (*DB)(nil)
)

// HasRun reports whether a run with id was ever recorded.
func (db *DB) HasRun(id string) (bool, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM runs WHERE run_id = ?`, id).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to look up run %s: %w", id, err)
	}
	return n > 0, nil
}

// RecordStart implements explore.Recorder.
func (db *DB) RecordStart(id string, task explore.Task, plan coverage.Plan, at time.Time) error {
	boundary, err := json.Marshal(task.Boundary.Polygon())
	if err != nil {
		return fmt.Errorf("failed to encode boundary: %w", err)
	}
	center, err := json.Marshal(task.Center)
	if err != nil {
		return fmt.Errorf("failed to encode center: %w", err)
	}
	_, err = db.Exec(
		`INSERT INTO runs (run_id, frame, boundary_json, center_json, waypoints, state, started_unix)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, task.Boundary.Frame, string(boundary), string(center), len(plan.Waypoints), StateActive, unixSeconds(at),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", id, err)
	}
	return nil
}

// RecordRecenter implements explore.Recorder.
func (db *DB) RecordRecenter(id string, position r3.Vec, afterProgress bool, at time.Time) error {
	_, err := db.Exec(
		`INSERT INTO run_recenters (run_id, x, y, z, after_progress, recorded_unix) VALUES (?, ?, ?, ?, ?, ?)`,
		id, position.X, position.Y, position.Z, afterProgress, unixSeconds(at),
	)
	if err != nil {
		return fmt.Errorf("failed to insert recenter for run %s: %w", id, err)
	}
	return nil
}

// RecordFinish implements explore.Recorder. Only an ACTIVE run can be
// finished; a finished run is never rewritten.
func (db *DB) RecordFinish(id string, outcome explore.Outcome, completed int, at time.Time) error {
	res, err := db.Exec(
		`UPDATE runs SET state = ?, reason = ?, completed = ?, finished_unix = ? WHERE run_id = ? AND state = ?`,
		outcome.State.String(), outcome.Reason, completed, unixSeconds(at), id, StateActive,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

// MarkInterrupted fails every run left ACTIVE by a previous process and
// returns how many there were.
func (db *DB) MarkInterrupted(at time.Time) (int64, error) {
	res, err := db.Exec(
		`UPDATE runs SET state = ?, reason = ?, finished_unix = ? WHERE state = ?`,
		explore.StateFailed.String(), "interrupted by restart", unixSeconds(at), StateActive,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to close interrupted runs: %w", err)
	}
	return res.RowsAffected()
}

const runColumns = `r.run_id, r.frame, r.boundary_json, r.center_json, r.waypoints, r.state, r.reason,
	r.completed, r.started_unix, r.finished_unix,
	(SELECT COUNT(*) FROM run_recenters c WHERE c.run_id = r.run_id)`

// ListRuns returns up to limit runs, newest first.
func (db *DB) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+runColumns+` FROM runs r ORDER BY r.started_unix DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRun returns the run with the given id.
func (db *DB) GetRun(id string) (*RunRecord, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM runs r WHERE r.run_id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// Recenters lists a run's excursions in the order they happened.
func (db *DB) Recenters(id string) ([]RecenterRecord, error) {
	rows, err := db.Query(
		`SELECT x, y, z, after_progress, recorded_unix FROM run_recenters WHERE run_id = ? ORDER BY recenter_id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RecenterRecord
	for rows.Next() {
		var (
			rec    RecenterRecord
			atUnix float64
		)
		if err := rows.Scan(&rec.Position.X, &rec.Position.Y, &rec.Position.Z, &rec.AfterProgress, &atUnix); err != nil {
			return nil, err
		}
		rec.At = fromUnixSeconds(atUnix)
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*RunRecord, error) {
	var (
		run          RunRecord
		boundaryJSON string
		centerJSON   string
		startedUnix  float64
		finishedUnix sql.NullFloat64
	)
	if err := s.Scan(&run.ID, &run.Frame, &boundaryJSON, &centerJSON, &run.Waypoints, &run.State, &run.Reason,
		&run.Completed, &startedUnix, &finishedUnix, &run.Recenters); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(boundaryJSON), &run.Boundary); err != nil {
		return nil, fmt.Errorf("run %s boundary: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(centerJSON), &run.Center); err != nil {
		return nil, fmt.Errorf("run %s center: %w", run.ID, err)
	}
	run.StartedAt = fromUnixSeconds(startedUnix)
	if finishedUnix.Valid {
		t := fromUnixSeconds(finishedUnix.Float64)
		run.FinishedAt = &t
	}
	return &run, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func fromUnixSeconds(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}
