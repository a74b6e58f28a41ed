// Package motion talks to the service that physically moves the robot.
//
// A Client accepts one goal pose at a time and reports completion through
// callbacks. Implementations: an in-process Simulator, SerialBase for a
// controller on a serial line, and RemoteClient for a base served over gRPC.
package motion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coverage.explorer/internal/frames"
	"github.com/banshee-data/coverage.explorer/internal/geometry"
)

// ErrServerUnavailable is returned when the motion service never became ready.
var ErrServerUnavailable = errors.New("motion server unavailable")

// Status is the terminal or in-flight state of a goal.
type Status int

const (
	StatusPending Status = iota
	StatusActive
	StatusSucceeded
	StatusAborted
	StatusPreempted
	StatusRejected
)

var statusNames = [...]string{
	StatusPending:   "PENDING",
	StatusActive:    "ACTIVE",
	StatusSucceeded: "SUCCEEDED",
	StatusAborted:   "ABORTED",
	StatusPreempted: "PREEMPTED",
	StatusRejected:  "REJECTED",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// ParseStatus is the inverse of Status.String. It is case-insensitive.
func ParseStatus(s string) (Status, error) {
	for i, name := range statusNames {
		if strings.EqualFold(s, name) {
			return Status(i), nil
		}
	}
	return 0, fmt.Errorf("unknown goal status %q", s)
}

// Succeeded reports whether the goal reached its target.
func (s Status) Succeeded() bool { return s == StatusSucceeded }

// Goal is a single target pose in a named frame.
type Goal struct {
	Frame       string
	Position    r3.Vec
	Orientation quat.Number
}

// Result is what the base reports when a goal finishes.
type Result struct {
	Position r3.Vec
}

// Feedback is a progress report while a goal is active.
type Feedback struct {
	Position r3.Vec
}

// DoneFunc receives the terminal status of a goal.
type DoneFunc func(status Status, result Result)

// FeedbackFunc receives progress while a goal is active.
type FeedbackFunc func(fb Feedback)

// Client is the motion service as seen by the exploration controller.
//
// SendGoal replaces any active goal; the replaced goal receives no further
// callbacks. done is called exactly once for every accepted goal that is
// neither replaced nor cancelled before acceptance. CancelAllBeforeNow is
// safe to call with nothing outstanding.
type Client interface {
	WaitForServer(ctx context.Context, timeout time.Duration) bool
	SendGoal(goal Goal, done DoneFunc, feedback FeedbackFunc) error
	CancelAllBeforeNow() error
}

// goalInFrame re-expresses g in frame using p. A nil provider only accepts
// goals already in frame.
func goalInFrame(p frames.Provider, frame string, g Goal) (Goal, error) {
	if g.Frame == "" || g.Frame == frame {
		g.Frame = frame
		return g, nil
	}
	if p == nil {
		return Goal{}, fmt.Errorf("goal in %q but base moves in %q: %w", g.Frame, frame, frames.ErrTransformUnavailable)
	}
	tf, err := p.LookupTransform(frame, g.Frame, time.Time{})
	if err != nil {
		return Goal{}, err
	}
	return Goal{
		Frame:       frame,
		Position:    tf.Apply(g.Position),
		Orientation: quat.Mul(tf.Orientation(), g.Orientation),
	}, nil
}

// goalYaw returns the heading of g, treating a zero quaternion as facing +X.
func goalYaw(g Goal) float64 {
	if g.Orientation == (quat.Number{}) {
		return 0
	}
	return geometry.YawOf(g.Orientation)
}
