package explore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coverage.explorer/internal/coverage"
	"github.com/banshee-data/coverage.explorer/internal/frames"
	"github.com/banshee-data/coverage.explorer/internal/geometry"
	"github.com/banshee-data/coverage.explorer/internal/monitoring"
	"github.com/banshee-data/coverage.explorer/internal/motion"
	"github.com/banshee-data/coverage.explorer/internal/timeutil"
)

const feedbackBuffer = 64

var errHalted = errors.New("task halted")

type eventKind int

const (
	eventFeedback eventKind = iota
	eventDone
)

// event is a motion callback, tagged with the goal generation it belongs to.
type event struct {
	gen    uint64
	kind   eventKind
	status motion.Status
	pos    r3.Vec
}

// Run is one exploration task. All controller state is owned by the loop
// goroutine; other goroutines only see it through Status and Feedback.
type Run struct {
	id     string
	task   Task
	frame  string
	params Params
	motion motion.Client
	tf     frames.Provider
	clock  timeutil.Clock
	rec    Recorder

	ctx         context.Context
	stop        context.CancelFunc
	preemptCh   chan struct{}
	preemptOnce sync.Once

	// moveMu guards goal issue and cancellation so at most one goal is
	// outstanding and none is issued once the task is halted.
	moveMu      sync.Mutex
	halted      bool
	preempted   bool
	generation  uint64
	outstanding bool

	// Motion callbacks land here and never block the motion client.
	inboxMu sync.Mutex
	inbox   []event
	notify  chan struct{}

	// Owned by the loop goroutine.
	plan      coverage.Plan
	mode      State
	cursor    int
	moving    bool
	completed int

	mu      sync.Mutex
	status  Status
	subs    map[<-chan Feedback]chan Feedback
	outcome Outcome
	done    chan struct{}
}

func newRun(ctx context.Context, s *Server, task Task) *Run {
	runCtx, stop := context.WithCancel(ctx)
	r := &Run{
		id:        task.ID,
		task:      task,
		frame:     task.Boundary.Frame,
		params:    s.params,
		motion:    s.motion,
		tf:        s.tf,
		clock:     s.clock,
		rec:       s.rec,
		ctx:       runCtx,
		stop:      stop,
		preemptCh: make(chan struct{}),
		notify:    make(chan struct{}, 1),
		mode:      StateInit,
		subs:      make(map[<-chan Feedback]chan Feedback),
		done:      make(chan struct{}),
	}
	r.status = Status{
		TaskID:    task.ID,
		State:     StateInit,
		Frame:     r.frame,
		StartedAt: s.clock.Now(),
	}
	return r
}

// ID returns the task id.
func (r *Run) ID() string { return r.id }

// Plan returns the sweep being followed. It is empty until the task leaves
// INIT.
func (r *Run) Plan() coverage.Plan {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.plan
}

// Status returns a snapshot of the run.
func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Outcome returns the terminal outcome; ok is false while still running.
func (r *Run) Outcome() (Outcome, bool) {
	select {
	case <-r.done:
	default:
		return Outcome{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcome, true
}

// Wait blocks until the run ends or ctx is done.
func (r *Run) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-r.done:
		o, _ := r.Outcome()
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Feedback returns a new stream of positions starting now. Slow readers
// miss updates. The channel is closed when the run ends.
func (r *Run) Feedback() <-chan Feedback {
	ch := make(chan Feedback, feedbackBuffer)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs == nil {
		close(ch)
		return ch
	}
	r.subs[ch] = ch
	return ch
}

// Unsubscribe stops delivery to a stream returned by Feedback.
func (r *Run) Unsubscribe(ch <-chan Feedback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.subs[ch]; ok {
		delete(r.subs, ch)
		close(c)
	}
}

// Preempt cancels the outstanding goal and ends the run as PREEMPTED at the
// next opportunity. Later calls do nothing.
func (r *Run) Preempt() {
	r.preemptOnce.Do(func() {
		r.moveMu.Lock()
		r.preempted = true
		r.haltLocked()
		r.moveMu.Unlock()
		close(r.preemptCh)
		r.stop()
	})
}

func (r *Run) isPreempted() bool {
	r.moveMu.Lock()
	defer r.moveMu.Unlock()
	return r.preempted
}

// halt cancels motion once and blocks further goals.
func (r *Run) halt() {
	r.moveMu.Lock()
	defer r.moveMu.Unlock()
	r.haltLocked()
}

func (r *Run) haltLocked() {
	if r.halted {
		return
	}
	r.halted = true
	if err := r.motion.CancelAllBeforeNow(); err != nil {
		monitoring.Logf("[explore] WARNING: cancel goals for task %s: %v", r.id, err)
	}
	r.outstanding = false
}

func (r *Run) issue(goal motion.Goal) error {
	r.moveMu.Lock()
	defer r.moveMu.Unlock()
	if r.halted {
		return errHalted
	}
	if r.outstanding {
		if err := r.motion.CancelAllBeforeNow(); err != nil {
			monitoring.Logf("[explore] WARNING: cancel previous goal: %v", err)
		}
		r.outstanding = false
	}

	r.generation++
	gen := r.generation
	done := func(st motion.Status, res motion.Result) {
		r.post(event{gen: gen, kind: eventDone, status: st, pos: res.Position})
	}
	feedback := func(fb motion.Feedback) {
		r.post(event{gen: gen, kind: eventFeedback, pos: fb.Position})
	}
	if err := r.motion.SendGoal(goal, done, feedback); err != nil {
		return err
	}
	r.outstanding = true
	monitoring.Debugf("[explore] goal %d: %.3f,%.3f in %s", gen, goal.Position.X, goal.Position.Y, goal.Frame)
	return nil
}

func (r *Run) post(ev event) {
	r.inboxMu.Lock()
	r.inbox = append(r.inbox, ev)
	r.inboxMu.Unlock()
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *Run) drain() {
	r.inboxMu.Lock()
	events := r.inbox
	r.inbox = nil
	r.inboxMu.Unlock()
	for _, ev := range events {
		r.handle(ev)
	}
}

func (r *Run) handle(ev event) {
	r.moveMu.Lock()
	current := ev.gen == r.generation
	if current && ev.kind == eventDone {
		r.outstanding = false
	}
	r.moveMu.Unlock()
	if !current {
		monitoring.Debugf("[explore] dropping event for superseded goal %d", ev.gen)
		return
	}

	switch ev.kind {
	case eventFeedback:
		r.publish(ev.pos)
	case eventDone:
		r.moving = false
		switch {
		case ev.status.Succeeded():
			if r.mode == StateSweeping {
				r.completed++
			}
			r.publish(ev.pos)
		case ev.status == motion.StatusPreempted:
			monitoring.Debugf("[explore] goal %d preempted", ev.gen)
		default:
			monitoring.Logf("[explore] ERROR: failed to move: goal %d %s", ev.gen, ev.status)
		}
		r.mu.Lock()
		r.status.Completed = r.completed
		r.mu.Unlock()
	}
}

func (r *Run) publish(pos r3.Vec) {
	fb := Feedback{Position: pos, At: r.clock.Now()}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status.Position = pos
	for _, ch := range r.subs {
		select {
		case ch <- fb:
		default:
		}
	}
}

func (r *Run) setMode(s State) {
	r.mode = s
	r.mu.Lock()
	r.status.State = s
	r.mu.Unlock()
}

func (r *Run) loop() {
	defer r.stop()

	plan, err := coverage.NewPlan(r.task.Boundary, r.params.Coverage)
	r.record(func() error { return r.rec.RecordStart(r.id, r.task, plan, r.clock.Now()) })
	if err != nil {
		r.finish(StateFailed, err.Error())
		return
	}
	r.mu.Lock()
	r.plan = plan
	r.status.Total = len(plan.Waypoints)
	r.mu.Unlock()
	monitoring.Logf("[explore] task %s: %d waypoints in %s", r.id, len(plan.Waypoints), r.frame)

	if !r.motion.WaitForServer(r.ctx, r.params.ServerTimeout) {
		if r.isPreempted() {
			r.finish(StatePreempted, "")
			return
		}
		r.finish(StateFailed, fmt.Sprintf("%v after %s", motion.ErrServerUnavailable, r.params.ServerTimeout))
		return
	}
	r.setMode(StateSweeping)

	for {
		if r.isPreempted() {
			r.finish(StatePreempted, "")
			return
		}
		if err := r.ctx.Err(); err != nil {
			r.halt()
			r.finish(StateFailed, fmt.Sprintf("task context ended: %v", err))
			return
		}

		pos, err := r.position()
		if err != nil {
			if r.isPreempted() {
				r.finish(StatePreempted, "")
				return
			}
			r.halt()
			r.finish(StateFailed, err.Error())
			return
		}
		r.mu.Lock()
		r.status.Position = pos
		r.mu.Unlock()

		if r.step(pos) {
			return
		}
		r.wait()
	}
}

func (r *Run) position() (r3.Vec, error) {
	tf, err := frames.LookupWithRetry(r.ctx, r.tf, r.clock, r.frame, r.params.BaseFrame,
		r.params.TransformTimeout, r.params.TransformRetry)
	if err != nil {
		return r3.Vec{}, fmt.Errorf("robot position: %w", err)
	}
	return tf.Translation, nil
}

// step makes one control decision for the robot at pos. It returns true
// once the run has finished.
func (r *Run) step(pos r3.Vec) bool {
	if !r.task.Boundary.Contains(pos) {
		return r.recenter(pos)
	}

	if r.mode == StateRecentering {
		// Back inside: drop the recovery goal and resume the sweep.
		r.moving = false
		r.setMode(StateSweeping)
		monitoring.Logf("[explore] task %s back inside boundary, resuming at waypoint %d", r.id, r.cursor)
	}
	if r.moving {
		return false
	}

	if r.cursor < len(r.plan.Waypoints) {
		wp := r.plan.Waypoints[r.cursor]
		goal := motion.Goal{Frame: r.frame, Position: wp.Position, Orientation: wp.Orientation}
		if err := r.issue(goal); err != nil {
			if !errors.Is(err, errHalted) {
				monitoring.Logf("[explore] WARNING: waypoint %d not sent: %v", r.cursor, err)
			}
			return false
		}
		r.cursor++
		r.moving = true
		r.mu.Lock()
		r.status.Cursor = r.cursor
		r.mu.Unlock()
		return false
	}

	// A preemption that lands while the last goal completes still wins.
	r.moveMu.Lock()
	preempted := r.preempted
	r.haltLocked()
	r.moveMu.Unlock()
	if preempted {
		r.finish(StatePreempted, "")
		return true
	}
	r.finish(StateSucceeded, "")
	return true
}

// recenter sends the robot back toward the task center. The goal is
// recomputed from the current position on every tick. It returns true if
// the center cannot be located and the run has failed.
func (r *Run) recenter(pos r3.Vec) bool {
	if r.mode != StateRecentering {
		r.setMode(StateRecentering)
		afterProgress := r.completed > 0
		if afterProgress {
			monitoring.Logf("[explore] WARNING: task %s left the boundary at %.2f,%.2f, recentering", r.id, pos.X, pos.Y)
		} else {
			monitoring.Debugf("[explore] task %s outside boundary at %.2f,%.2f, recentering", r.id, pos.X, pos.Y)
		}
		r.mu.Lock()
		r.status.Recenters++
		r.mu.Unlock()
		r.record(func() error { return r.rec.RecordRecenter(r.id, pos, afterProgress, r.clock.Now()) })
	}

	center := r.task.Center
	from := geometry.PointStamped{Frame: r.frame, Point: pos}
	from, err := frames.TransformPoint(r.tf, center.Frame, from)
	if err != nil {
		r.halt()
		if r.isPreempted() {
			r.finish(StatePreempted, "")
			return true
		}
		r.finish(StateFailed, fmt.Sprintf("recovery target: %v", err))
		return true
	}
	goal := motion.Goal{
		Frame:       center.Frame,
		Position:    center.Point,
		Orientation: geometry.QuaternionFromYaw(geometry.YawOfVector(from.Point, center.Point)),
	}
	if err := r.issue(goal); err != nil {
		if !errors.Is(err, errHalted) {
			monitoring.Logf("[explore] WARNING: recentering goal not sent: %v", err)
		}
		return false
	}
	r.moving = true
	return false
}

// wait blocks until the next decision is due. While sweeping toward a
// waypoint that is until the goal completes; otherwise one tick.
func (r *Run) wait() {
	if r.mode == StateSweeping && r.moving {
		for r.moving {
			select {
			case <-r.notify:
				r.drain()
			case <-r.preemptCh:
				return
			case <-r.ctx.Done():
				return
			}
		}
		return
	}

	timer := r.clock.NewTimer(r.params.TickInterval)
	defer timer.Stop()
	for {
		select {
		case <-timer.C():
			r.drain()
			return
		case <-r.notify:
			r.drain()
		case <-r.preemptCh:
			return
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Run) finish(state State, reason string) {
	now := r.clock.Now()
	r.mode = state
	r.mu.Lock()
	r.outcome = Outcome{State: state, Reason: reason}
	r.status.State = state
	r.status.Reason = reason
	r.status.FinishedAt = now
	for _, ch := range r.subs {
		close(ch)
	}
	r.subs = nil
	completed := r.status.Completed
	total := r.status.Total
	r.mu.Unlock()

	switch state {
	case StateFailed:
		monitoring.Logf("[explore] ERROR: task %s failed: %s", r.id, reason)
	default:
		monitoring.Logf("[explore] task %s %s after %d/%d waypoints (%s)", r.id, state, completed, total,
			now.Sub(r.status.StartedAt).Round(time.Millisecond))
	}
	r.record(func() error { return r.rec.RecordFinish(r.id, r.outcome, completed, now) })
	close(r.done)
}

func (r *Run) record(f func() error) {
	if r.rec == nil {
		return
	}
	if err := f(); err != nil {
		monitoring.Logf("[explore] WARNING: record task %s: %v", r.id, err)
	}
}
