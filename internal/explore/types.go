// Package explore runs coverage tasks: it pads the task boundary, plans a
// sweep, and drives the motion service through it one waypoint at a time
// while watching that the robot stays inside the boundary.
//
// States:
//
//	INIT -> SWEEPING <-> RECENTERING -> SUCCEEDED | FAILED | PREEMPTED
package explore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coverage.explorer/internal/config"
	"github.com/banshee-data/coverage.explorer/internal/coverage"
	"github.com/banshee-data/coverage.explorer/internal/geometry"
)

// ErrTaskActive is returned by Start while another task is running.
var ErrTaskActive = errors.New("exploration task already active")

// ErrDuplicateTask is returned by Start for a task id that was already used.
var ErrDuplicateTask = errors.New("task id already used")

// State is the controller mode.
type State int

const (
	StateInit State = iota
	StateSweeping
	StateRecentering
	StateSucceeded
	StateFailed
	StatePreempted
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateSweeping:
		return "SWEEPING"
	case StateRecentering:
		return "RECENTERING"
	case StateSucceeded:
		return "SUCCEEDED"
	case StateFailed:
		return "FAILED"
	case StatePreempted:
		return "PREEMPTED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StatePreempted
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Task is one area to cover plus the point to retreat to when the robot
// strays outside it.
type Task struct {
	ID       string
	Boundary coverage.Boundary
	Center   geometry.PointStamped
}

// Params are the startup settings shared by every task.
type Params struct {
	Coverage         coverage.Params
	GlobalFrame      string // used when a boundary names no frame
	BaseFrame        string
	TickInterval     time.Duration
	TransformTimeout time.Duration
	TransformRetry   time.Duration
	ServerTimeout    time.Duration
}

// ParamsFromConfig reads Params from the explorer config.
func ParamsFromConfig(cfg *config.ExplorerConfig) Params {
	return Params{
		Coverage: coverage.Params{
			GoalSpacing:  cfg.GetGoalSpacing(),
			RowWidth:     cfg.GetRowWidth(),
			Padding:      cfg.GetPadding(),
			MaxWaypoints: cfg.GetMaxWaypoints(),
		},
		GlobalFrame:      cfg.GetGlobalFrame(),
		BaseFrame:        cfg.GetBaseFrame(),
		TickInterval:     cfg.GetTickInterval(),
		TransformTimeout: cfg.GetTransformTimeout(),
		TransformRetry:   cfg.GetTransformRetry(),
		ServerTimeout:    cfg.GetServerTimeout(),
	}
}

// Feedback is the robot's position, relayed while a task runs.
type Feedback struct {
	Position r3.Vec    `json:"position"`
	At       time.Time `json:"at"`
}

// Outcome is how a task ended. Reason is set for FAILED.
type Outcome struct {
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// Status is a snapshot of a run.
type Status struct {
	TaskID     string    `json:"task_id,omitempty"`
	State      State     `json:"state"`
	Frame      string    `json:"frame,omitempty"`
	Cursor     int       `json:"cursor"`
	Total      int       `json:"total"`
	Completed  int       `json:"completed"`
	Recenters  int       `json:"recenters"`
	Position   r3.Vec    `json:"position"`
	Reason     string    `json:"reason,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Recorder persists run history. Errors are logged and otherwise ignored.
type Recorder interface {
	RecordStart(id string, task Task, plan coverage.Plan, at time.Time) error
	RecordRecenter(id string, position r3.Vec, afterProgress bool, at time.Time) error
	RecordFinish(id string, outcome Outcome, completed int, at time.Time) error
}

// RunIndex is implemented by recorders that can tell whether a task id
// already has history. Start refuses such ids so records are never shared.
type RunIndex interface {
	HasRun(id string) (bool, error)
}

// HasRun reports whether any recorder that keeps an index knows id.
func (rs Recorders) HasRun(id string) (bool, error) {
	for _, r := range rs {
		idx, ok := r.(RunIndex)
		if !ok {
			continue
		}
		known, err := idx.HasRun(id)
		if err != nil || known {
			return known, err
		}
	}
	return false, nil
}

// Recorders sends every event to each recorder in turn and returns the
// first error.
type Recorders []Recorder

func (rs Recorders) each(f func(Recorder) error) error {
	var first error
	for _, r := range rs {
		if err := f(r); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (rs Recorders) RecordStart(id string, task Task, plan coverage.Plan, at time.Time) error {
	return rs.each(func(r Recorder) error { return r.RecordStart(id, task, plan, at) })
}

func (rs Recorders) RecordRecenter(id string, position r3.Vec, afterProgress bool, at time.Time) error {
	return rs.each(func(r Recorder) error { return r.RecordRecenter(id, position, afterProgress, at) })
}

func (rs Recorders) RecordFinish(id string, outcome Outcome, completed int, at time.Time) error {
	return rs.each(func(r Recorder) error { return r.RecordFinish(id, outcome, completed, at) })
}
