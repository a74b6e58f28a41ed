package motion

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coverage.explorer/internal/frames"
	"github.com/banshee-data/coverage.explorer/internal/geometry"
	"github.com/banshee-data/coverage.explorer/internal/monitoring"
	"github.com/banshee-data/coverage.explorer/internal/serialmux"
	"github.com/banshee-data/coverage.explorer/internal/timeutil"
)

// Line protocol spoken with the base controller. Commands:
//
//	G <seq> <x> <y> <yaw>   drive to a pose in the controller frame
//	X                       cancel every goal
//	P                       ping
//
// Replies:
//
//	F <x> <y> <z>                  odometry / progress
//	D <seq> <STATUS> <x> <y> <z>   goal finished
//	OK                             ping reply
const (
	cmdGoal   = "G"
	cmdCancel = "X"
	cmdPing   = "P"

	replyFeedback = "F"
	replyDone     = "D"
	replyOK       = "OK"
)

// SerialBaseConfig names the frames the controller works in.
type SerialBaseConfig struct {
	Frame     string // controller odometry frame
	BaseFrame string
	// PingInterval is how often WaitForServer re-sends P.
	PingInterval time.Duration
}

type serialGoal struct {
	seq      int
	done     DoneFunc
	feedback FeedbackFunc
}

// SerialBase is a Client for a base controller on a serial line.
type SerialBase struct {
	cfg   SerialBaseConfig
	mux   serialmux.SerialMuxInterface
	tree  *frames.Tree
	clock timeutil.Clock

	mu     sync.Mutex
	seq    int
	active *serialGoal
	odom   geometry.Pose
	pong   chan struct{}
}

// NewSerialBase wraps mux. Run must be started for replies to be handled.
func NewSerialBase(mux serialmux.SerialMuxInterface, cfg SerialBaseConfig, clock timeutil.Clock, tree *frames.Tree) *SerialBase {
	if cfg.Frame == "" {
		cfg.Frame = "odom"
	}
	if cfg.BaseFrame == "" {
		cfg.BaseFrame = "base_link"
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = time.Second
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SerialBase{
		cfg:   cfg,
		mux:   mux,
		tree:  tree,
		clock: clock,
		pong:  make(chan struct{}, 1),
	}
}

// Run consumes controller lines until ctx is done or the mux closes. The
// caller runs mux.Monitor separately.
func (b *SerialBase) Run(ctx context.Context) error {
	id, lines := b.mux.Subscribe()
	defer b.mux.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := b.handleLine(line); err != nil {
				monitoring.Logf("[motion] WARNING: base line %q: %v", line, err)
			}
		}
	}
}

func parseVec(fields []string) (r3.Vec, error) {
	if len(fields) != 3 {
		return r3.Vec{}, fmt.Errorf("want 3 coordinates, got %d", len(fields))
	}
	var v [3]float64
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return r3.Vec{}, err
		}
		v[i] = x
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}, nil
}

func (b *SerialBase) handleLine(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case replyOK:
		select {
		case b.pong <- struct{}{}:
		default:
		}
		return nil

	case replyFeedback:
		pos, err := parseVec(fields[1:])
		if err != nil {
			return err
		}
		b.mu.Lock()
		prev := b.odom.Position
		if d := r3.Sub(pos, prev); r3.Norm(d) > 1e-6 {
			b.odom.Orientation = geometry.HeadingFromVector(d.X, d.Y)
		}
		b.odom.Position = pos
		pose := b.odom
		g := b.active
		b.mu.Unlock()

		b.publish(pose)
		if g != nil && g.feedback != nil {
			g.feedback(Feedback{Position: pos})
		}
		return nil

	case replyDone:
		if len(fields) != 6 {
			return fmt.Errorf("done reply needs 6 fields, got %d", len(fields))
		}
		seq, err := strconv.Atoi(fields[1])
		if err != nil {
			return fmt.Errorf("bad sequence: %w", err)
		}
		status, err := ParseStatus(fields[2])
		if err != nil {
			return err
		}
		pos, err := parseVec(fields[3:])
		if err != nil {
			return err
		}

		b.mu.Lock()
		g := b.active
		if g == nil || g.seq != seq {
			b.mu.Unlock()
			monitoring.Debugf("[motion] ignoring done for stale goal %d", seq)
			return nil
		}
		b.active = nil
		b.mu.Unlock()

		if g.done != nil {
			g.done(status, Result{Position: pos})
		}
		return nil
	}
	return fmt.Errorf("unknown reply %q", fields[0])
}

func (b *SerialBase) publish(pose geometry.Pose) {
	if b.tree == nil {
		return
	}
	if err := b.tree.Update(b.cfg.Frame, b.cfg.BaseFrame, frames.FromPose(pose.Position, pose.Orientation)); err != nil {
		monitoring.Logf("[motion] ERROR: publishing base odometry: %v", err)
	}
}

// WaitForServer pings the controller until it answers OK.
func (b *SerialBase) WaitForServer(ctx context.Context, timeout time.Duration) bool {
	deadline := b.clock.NewTimer(timeout)
	defer deadline.Stop()
	for {
		if err := b.mux.SendCommand(cmdPing); err != nil {
			monitoring.Logf("[motion] WARNING: ping failed: %v", err)
		}
		retry := b.clock.NewTimer(b.cfg.PingInterval)
		select {
		case <-b.pong:
			retry.Stop()
			return true
		case <-deadline.C():
			retry.Stop()
			return false
		case <-ctx.Done():
			retry.Stop()
			return false
		case <-retry.C():
		}
	}
}

// SendGoal implements Client.
func (b *SerialBase) SendGoal(goal Goal, done DoneFunc, feedback FeedbackFunc) error {
	var provider frames.Provider
	if b.tree != nil {
		provider = b.tree
	}
	local, err := goalInFrame(provider, b.cfg.Frame, goal)
	if err != nil {
		return fmt.Errorf("serial base rejected goal: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	cmd := fmt.Sprintf("%s %d %.4f %.4f %.4f", cmdGoal, b.seq, local.Position.X, local.Position.Y, goalYaw(local))
	if err := b.mux.SendCommand(cmd); err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	b.active = &serialGoal{seq: b.seq, done: done, feedback: feedback}
	return nil
}

// CancelAllBeforeNow implements Client.
func (b *SerialBase) CancelAllBeforeNow() error {
	b.mu.Lock()
	g := b.active
	b.active = nil
	pos := b.odom.Position
	err := b.mux.SendCommand(cmdCancel)
	b.mu.Unlock()

	if g != nil && g.done != nil {
		g.done(StatusPreempted, Result{Position: pos})
	}
	if err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	return nil
}

var _ Client = (*SerialBase)(nil)
