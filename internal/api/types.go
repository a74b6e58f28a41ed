package api

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coverage.explorer/internal/coverage"
	"github.com/banshee-data/coverage.explorer/internal/explore"
	"github.com/banshee-data/coverage.explorer/internal/geometry"
)

// Point is a position on the wire.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z,omitempty"`
}

func pointOf(v r3.Vec) Point { return Point{X: v.X, Y: v.Y, Z: v.Z} }

func (p Point) vec() r3.Vec { return r3.Vec{X: p.X, Y: p.Y, Z: p.Z} }

func pointsOf(vs []r3.Vec) []Point {
	out := make([]Point, len(vs))
	for i, v := range vs {
		out[i] = pointOf(v)
	}
	return out
}

// Center is the recovery point of a task. An empty frame means the
// boundary's frame.
type Center struct {
	Frame string `json:"frame,omitempty"`
	Point
}

// TaskRequest asks for one area to be covered. Without a center the robot
// recovers toward the mean of the boundary vertices.
type TaskRequest struct {
	ID       string  `json:"id,omitempty"`
	Frame    string  `json:"frame,omitempty"`
	Boundary []Point `json:"boundary"`
	Center   *Center `json:"center,omitempty"`
}

// Task validates the request.
func (t TaskRequest) Task() (explore.Task, error) {
	pts := make([]r3.Vec, len(t.Boundary))
	var sum r3.Vec
	for i, p := range t.Boundary {
		pts[i] = p.vec()
		sum = r3.Add(sum, pts[i])
	}
	b, err := coverage.NewBoundary(t.Frame, pts)
	if err != nil {
		return explore.Task{}, err
	}

	task := explore.Task{ID: t.ID, Boundary: b}
	if t.Center != nil {
		task.Center = geometry.PointStamped{Frame: t.Center.Frame, Point: t.Center.vec()}
	} else {
		task.Center = geometry.PointStamped{Frame: t.Frame, Point: r3.Scale(1/float64(len(pts)), sum)}
	}
	if task.Center.Frame == "" {
		task.Center.Frame = t.Frame
	}
	return task, nil
}

// Waypoint is a sweep goal on the wire; yaw is in radians.
type Waypoint struct {
	Point
	Yaw float64 `json:"yaw"`
}

// PlanResponse describes a coverage plan.
type PlanResponse struct {
	Frame     string     `json:"frame"`
	Boundary  []Point    `json:"boundary"`
	Padded    []Point    `json:"padded"`
	Waypoints []Waypoint `json:"waypoints"`
}

// NewPlanResponse converts a plan to its wire form.
func NewPlanResponse(p coverage.Plan) PlanResponse {
	resp := PlanResponse{
		Frame:     p.Boundary.Frame,
		Boundary:  pointsOf(p.Boundary.Polygon()),
		Padded:    pointsOf(p.Padded.PolygonSlice()),
		Waypoints: make([]Waypoint, len(p.Waypoints)),
	}
	for i, wp := range p.Waypoints {
		resp.Waypoints[i] = Waypoint{Point: pointOf(wp.Position), Yaw: geometry.YawOf(wp.Orientation)}
	}
	return resp
}

// StartResponse acknowledges an accepted task.
type StartResponse struct {
	TaskID string `json:"task_id"`
	State  string `json:"state"`
}

// PreemptResponse reports whether a task was running.
type PreemptResponse struct {
	Preempted bool `json:"preempted"`
}

// StatusResponse is the progress of the latest task.
type StatusResponse struct {
	TaskID     string     `json:"task_id"`
	State      string     `json:"state"`
	Frame      string     `json:"frame"`
	Cursor     int        `json:"cursor"`
	Total      int        `json:"total"`
	Completed  int        `json:"completed"`
	Recenters  int        `json:"recenters"`
	Position   Point      `json:"position"`
	Reason     string     `json:"reason,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func statusResponse(s explore.Status) StatusResponse {
	resp := StatusResponse{
		TaskID:    s.TaskID,
		State:     s.State.String(),
		Frame:     s.Frame,
		Cursor:    s.Cursor,
		Total:     s.Total,
		Completed: s.Completed,
		Recenters: s.Recenters,
		Position:  pointOf(s.Position),
		Reason:    s.Reason,
		StartedAt: s.StartedAt,
	}
	if !s.FinishedAt.IsZero() {
		t := s.FinishedAt
		resp.FinishedAt = &t
	}
	return resp
}

// FeedbackEvent is one position update on the feedback stream.
type FeedbackEvent struct {
	Position Point     `json:"position"`
	At       time.Time `json:"at"`
}

// OutcomeEvent closes the feedback stream.
type OutcomeEvent struct {
	TaskID string `json:"task_id"`
	State  string `json:"state"`
	Reason string `json:"reason,omitempty"`
}

func (o OutcomeEvent) String() string {
	if o.Reason == "" {
		return fmt.Sprintf("%s %s", o.TaskID, o.State)
	}
	return fmt.Sprintf("%s %s: %s", o.TaskID, o.State, o.Reason)
}
