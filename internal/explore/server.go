package explore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/coverage.explorer/internal/coverage"
	"github.com/banshee-data/coverage.explorer/internal/frames"
	"github.com/banshee-data/coverage.explorer/internal/monitoring"
	"github.com/banshee-data/coverage.explorer/internal/motion"
	"github.com/banshee-data/coverage.explorer/internal/timeutil"
)

// Server accepts exploration tasks one at a time.
type Server struct {
	params Params
	motion motion.Client
	tf     frames.Provider
	clock  timeutil.Clock
	rec    Recorder

	mu      sync.Mutex
	current *Run
	used    map[string]struct{}
}

// Option configures a Server.
type Option func(*Server)

// WithClock replaces the wall clock, for tests.
func WithClock(c timeutil.Clock) Option {
	return func(s *Server) { s.clock = c }
}

// WithRecorder stores run history in rec.
func WithRecorder(rec Recorder) Option {
	return func(s *Server) { s.rec = rec }
}

// NewServer returns a Server driving client and locating the robot through
// tf.
func NewServer(params Params, client motion.Client, tf frames.Provider, opts ...Option) *Server {
	s := &Server{
		params: params,
		motion: client,
		tf:     tf,
		clock:  timeutil.RealClock{},
		used:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Params returns the settings every task runs with.
func (s *Server) Params() Params { return s.params }

// Start begins task in the background. ctx bounds the whole run, so it
// should outlive the request that asked for it. A missing boundary frame
// falls back to the global frame and a missing center frame to the
// boundary's.
func (s *Server) Start(ctx context.Context, task Task) (*Run, error) {
	if task.Boundary.Frame == "" {
		task.Boundary.Frame = s.params.GlobalFrame
	}
	if task.Center.Frame == "" {
		task.Center.Frame = task.Boundary.Frame
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		if _, finished := s.current.Outcome(); !finished {
			return nil, fmt.Errorf("%w: %s", ErrTaskActive, s.current.id)
		}
	}
	if err := s.checkUnused(task.ID); err != nil {
		return nil, err
	}
	s.used[task.ID] = struct{}{}

	run := newRun(ctx, s, task)
	s.current = run
	monitoring.Logf("[explore] accepted task %s in %s", task.ID, task.Boundary.Frame)
	go run.loop()
	return run, nil
}

func (s *Server) checkUnused(id string) error {
	if _, ok := s.used[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, id)
	}
	idx, ok := s.rec.(RunIndex)
	if !ok {
		return nil
	}
	known, err := idx.HasRun(id)
	if err != nil {
		return fmt.Errorf("check task id %s: %w", id, err)
	}
	if known {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, id)
	}
	return nil
}

// Preempt stops the active run, if any, and reports whether there was one.
func (s *Server) Preempt() bool {
	run := s.Current()
	if run == nil {
		return false
	}
	if _, finished := run.Outcome(); finished {
		return false
	}
	monitoring.Logf("[explore] preempting task %s", run.id)
	run.Preempt()
	return true
}

// Current returns the most recent run, finished or not.
func (s *Server) Current() *Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Status returns the most recent run's status; ok is false if no task was
// ever started.
func (s *Server) Status() (Status, bool) {
	run := s.Current()
	if run == nil {
		return Status{}, false
	}
	return run.Status(), true
}

// Preview plans b with the server's settings without running it.
func (s *Server) Preview(b coverage.Boundary) (coverage.Plan, error) {
	if b.Frame == "" {
		b.Frame = s.params.GlobalFrame
	}
	return coverage.NewPlan(b, s.params.Coverage)
}
