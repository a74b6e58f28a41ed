package motion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coverage.explorer/internal/frames"
	"github.com/banshee-data/coverage.explorer/internal/geometry"
	"github.com/banshee-data/coverage.explorer/internal/monitoring"
	"github.com/banshee-data/coverage.explorer/internal/timeutil"
)

// SimulatorConfig controls the simulated base.
type SimulatorConfig struct {
	Frame     string        // frame the base moves in
	BaseFrame string        // frame published for the robot body
	Speed     float64       // metres per second
	Step      time.Duration // simulation period
	Tolerance float64       // arrival radius
	Start     r3.Vec
}

func (c SimulatorConfig) withDefaults() SimulatorConfig {
	if c.Frame == "" {
		c.Frame = "map"
	}
	if c.BaseFrame == "" {
		c.BaseFrame = "base_link"
	}
	if c.Speed <= 0 {
		c.Speed = 0.5
	}
	if c.Step <= 0 {
		c.Step = 100 * time.Millisecond
	}
	if c.Tolerance <= 0 {
		c.Tolerance = 0.05
	}
	return c
}

type simGoal struct {
	goal     Goal
	done     DoneFunc
	feedback FeedbackFunc
}

// Simulator is an in-process holonomic base. It drives straight at each
// goal at a fixed speed and publishes its pose into a frames.Tree.
type Simulator struct {
	cfg   SimulatorConfig
	clock timeutil.Clock
	tree  *frames.Tree

	mu        sync.Mutex
	pose      geometry.Pose
	active    *simGoal
	drift     r3.Vec
	abortNext int
	offline   bool
	goals     []Goal
	cancels   int
}

// NewSimulator creates a simulator. tree may be nil when nothing needs the
// robot's pose; goals must then be in cfg.Frame.
func NewSimulator(cfg SimulatorConfig, clock timeutil.Clock, tree *frames.Tree) *Simulator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &Simulator{
		cfg:   cfg.withDefaults(),
		clock: clock,
		tree:  tree,
	}
	s.pose = geometry.Pose{Position: cfg.Start, Orientation: geometry.QuaternionFromYaw(0)}
	s.publish()
	return s
}

// WaitForServer reports true immediately unless the simulator was set offline.
func (s *Simulator) WaitForServer(ctx context.Context, timeout time.Duration) bool {
	s.mu.Lock()
	offline := s.offline
	s.mu.Unlock()
	if !offline {
		return true
	}
	select {
	case <-s.clock.After(timeout):
	case <-ctx.Done():
	}
	return false
}

// SendGoal implements Client.
func (s *Simulator) SendGoal(goal Goal, done DoneFunc, feedback FeedbackFunc) error {
	var provider frames.Provider
	if s.tree != nil {
		provider = s.tree
	}
	local, err := goalInFrame(provider, s.cfg.Frame, goal)
	if err != nil {
		return fmt.Errorf("simulator rejected goal: %w", err)
	}

	s.mu.Lock()
	if s.offline {
		s.mu.Unlock()
		return ErrServerUnavailable
	}
	s.goals = append(s.goals, goal)
	s.active = &simGoal{goal: local, done: done, feedback: feedback}
	s.mu.Unlock()
	return nil
}

// CancelAllBeforeNow implements Client. A cancelled goal finishes PREEMPTED.
func (s *Simulator) CancelAllBeforeNow() error {
	s.mu.Lock()
	s.cancels++
	g := s.active
	s.active = nil
	pos := s.pose.Position
	s.mu.Unlock()

	if g != nil && g.done != nil {
		g.done(StatusPreempted, Result{Position: pos})
	}
	return nil
}

// Step advances the simulation by dt.
func (s *Simulator) Step(dt time.Duration) {
	s.mu.Lock()
	s.pose.Position = r3.Add(s.pose.Position, s.drift)
	g := s.active
	if g == nil {
		s.mu.Unlock()
		s.publish()
		return
	}

	if s.abortNext > 0 {
		s.abortNext--
		s.active = nil
		pos := s.pose.Position
		s.mu.Unlock()
		s.publish()
		monitoring.Logf("[motion] WARNING: simulator aborting goal at %.2f,%.2f", g.goal.Position.X, g.goal.Position.Y)
		if g.done != nil {
			g.done(StatusAborted, Result{Position: pos})
		}
		return
	}

	toGoal := r3.Sub(g.goal.Position, s.pose.Position)
	remaining := r3.Norm(toGoal)
	reach := s.cfg.Speed * dt.Seconds()
	if remaining <= reach+s.cfg.Tolerance {
		s.pose = geometry.Pose{Position: g.goal.Position, Orientation: g.goal.Orientation}
		s.active = nil
	} else {
		s.pose.Position = r3.Add(s.pose.Position, r3.Scale(reach/remaining, toGoal))
		s.pose.Orientation = geometry.HeadingFromVector(toGoal.X, toGoal.Y)
	}
	arrived := s.active == nil
	pos := s.pose.Position
	s.mu.Unlock()

	s.publish()
	if g.feedback != nil {
		g.feedback(Feedback{Position: pos})
	}
	if arrived && g.done != nil {
		g.done(StatusSucceeded, Result{Position: pos})
	}
}

// Run steps the simulation every cfg.Step until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	timer := s.clock.NewTimer(s.cfg.Step)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C():
			s.Step(s.cfg.Step)
			timer.Reset(s.cfg.Step)
		}
	}
}

func (s *Simulator) publish() {
	if s.tree == nil {
		return
	}
	s.mu.Lock()
	pose := s.pose
	s.mu.Unlock()
	if err := s.tree.Update(s.cfg.Frame, s.cfg.BaseFrame, frames.FromPose(pose.Position, pose.Orientation)); err != nil {
		monitoring.Logf("[motion] ERROR: publishing simulated pose: %v", err)
	}
}

// Pose returns the current simulated pose.
func (s *Simulator) Pose() geometry.Pose {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pose
}

// Teleport moves the base instantly, for example outside its boundary.
func (s *Simulator) Teleport(p r3.Vec) {
	s.mu.Lock()
	s.pose.Position = p
	s.mu.Unlock()
	s.publish()
}

// SetDrift adds d to the position on every step.
func (s *Simulator) SetDrift(d r3.Vec) {
	s.mu.Lock()
	s.drift = d
	s.mu.Unlock()
}

// AbortNext makes the next n active goals fail on their first step.
func (s *Simulator) AbortNext(n int) {
	s.mu.Lock()
	s.abortNext = n
	s.mu.Unlock()
}

// SetOffline makes WaitForServer fail and SendGoal return ErrServerUnavailable.
func (s *Simulator) SetOffline(offline bool) {
	s.mu.Lock()
	s.offline = offline
	s.mu.Unlock()
}

// Active reports whether a goal is in flight.
func (s *Simulator) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Goals returns every goal accepted so far, as sent.
func (s *Simulator) Goals() []Goal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Goal(nil), s.goals...)
}

// Cancels returns how many times CancelAllBeforeNow was called.
func (s *Simulator) Cancels() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

var _ Client = (*Simulator)(nil)
