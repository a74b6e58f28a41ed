package motion

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coverage.explorer/internal/frames"
	"github.com/banshee-data/coverage.explorer/internal/geometry"
	"github.com/banshee-data/coverage.explorer/internal/monitoring"
	"github.com/banshee-data/coverage.explorer/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

type recorder struct {
	statuses  []Status
	results   []Result
	feedbacks []Feedback
}

func (r *recorder) done(s Status, res Result) {
	r.statuses = append(r.statuses, s)
	r.results = append(r.results, res)
}

func (r *recorder) feedback(fb Feedback) { r.feedbacks = append(r.feedbacks, fb) }

func newTestSim(t *testing.T) (*Simulator, *frames.Tree) {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	tree := frames.NewTree(clock)
	sim := NewSimulator(SimulatorConfig{Frame: "map", Speed: 1, Step: 100 * time.Millisecond}, clock, tree)
	return sim, tree
}

func TestSimulator_DrivesToGoal(t *testing.T) {
	sim, tree := newTestSim(t)
	rec := &recorder{}

	require.NoError(t, sim.SendGoal(Goal{Frame: "map", Position: r3.Vec{X: 1}}, rec.done, rec.feedback))
	for i := 0; i < 20 && sim.Active(); i++ {
		sim.Step(100 * time.Millisecond)
	}

	require.Equal(t, []Status{StatusSucceeded}, rec.statuses)
	assert.InDelta(t, 1.0, rec.results[0].Position.X, 1e-9)
	assert.NotEmpty(t, rec.feedbacks)

	pos, err := frames.Origin(tree, "map", "base_link")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, pos.X, 1e-9, "odometry is published into the tree")
}

func TestSimulator_TransformsGoalFrame(t *testing.T) {
	sim, tree := newTestSim(t)
	require.NoError(t, tree.SetTransform("gps", "map", frames.FromPose(r3.Vec{X: 10, Y: 10}, geometry.QuaternionFromYaw(0))))

	rec := &recorder{}
	require.NoError(t, sim.SendGoal(Goal{Frame: "gps", Position: r3.Vec{X: 10.5, Y: 10}}, rec.done, nil))
	for i := 0; i < 20 && sim.Active(); i++ {
		sim.Step(100 * time.Millisecond)
	}
	require.Equal(t, []Status{StatusSucceeded}, rec.statuses)
	assert.InDelta(t, 0.5, sim.Pose().Position.X, 1e-9)
}

func TestSimulator_UnknownGoalFrame(t *testing.T) {
	sim, _ := newTestSim(t)
	err := sim.SendGoal(Goal{Frame: "moon"}, nil, nil)
	assert.ErrorIs(t, err, frames.ErrTransformUnavailable)
}

func TestSimulator_CancelAndAbort(t *testing.T) {
	sim, _ := newTestSim(t)

	rec := &recorder{}
	require.NoError(t, sim.SendGoal(Goal{Position: r3.Vec{X: 5}}, rec.done, nil))
	sim.Step(100 * time.Millisecond)
	require.NoError(t, sim.CancelAllBeforeNow())
	require.NoError(t, sim.CancelAllBeforeNow(), "cancel with nothing outstanding is safe")
	assert.Equal(t, []Status{StatusPreempted}, rec.statuses)
	assert.Equal(t, 2, sim.Cancels())

	rec = &recorder{}
	sim.AbortNext(1)
	require.NoError(t, sim.SendGoal(Goal{Position: r3.Vec{X: 5}}, rec.done, nil))
	sim.Step(100 * time.Millisecond)
	assert.Equal(t, []Status{StatusAborted}, rec.statuses)
	assert.False(t, sim.Active())
}

func TestSimulator_ReplacedGoalGetsNoCallback(t *testing.T) {
	sim, _ := newTestSim(t)
	first, second := &recorder{}, &recorder{}
	require.NoError(t, sim.SendGoal(Goal{Position: r3.Vec{X: 5}}, first.done, nil))
	require.NoError(t, sim.SendGoal(Goal{Position: r3.Vec{X: 0.05}}, second.done, nil))
	sim.Step(100 * time.Millisecond)

	assert.Empty(t, first.statuses)
	assert.Equal(t, []Status{StatusSucceeded}, second.statuses)
	assert.Len(t, sim.Goals(), 2)
}

func TestSimulator_TeleportAndDrift(t *testing.T) {
	sim, _ := newTestSim(t)
	sim.Teleport(r3.Vec{X: -3})
	sim.SetDrift(r3.Vec{Y: 0.1})
	sim.Step(100 * time.Millisecond)
	sim.Step(100 * time.Millisecond)
	pos := sim.Pose().Position
	assert.InDelta(t, -3, pos.X, 1e-9)
	assert.InDelta(t, 0.2, pos.Y, 1e-9)
}

func TestSimulator_Offline(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{}, timeutil.RealClock{}, nil)
	assert.True(t, sim.WaitForServer(context.Background(), time.Second))

	sim.SetOffline(true)
	assert.False(t, sim.WaitForServer(context.Background(), 10*time.Millisecond))
	assert.ErrorIs(t, sim.SendGoal(Goal{}, nil, nil), ErrServerUnavailable)
}

func TestSimulator_Run(t *testing.T) {
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	sim := NewSimulator(SimulatorConfig{Speed: 10, Step: time.Second}, clock, nil)

	doneCh := make(chan Status, 1)
	require.NoError(t, sim.SendGoal(Goal{Position: r3.Vec{X: 1}}, func(s Status, _ Result) { doneCh <- s }, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sim.Run(ctx)

	require.Eventually(t, func() bool { return clock.PendingTimers() == 1 }, time.Second, time.Millisecond)
	clock.Advance(time.Second)

	select {
	case s := <-doneCh:
		assert.Equal(t, StatusSucceeded, s)
	case <-time.After(time.Second):
		t.Fatal("simulator did not step")
	}
}

func TestStatus(t *testing.T) {
	for s := StatusPending; s <= StatusRejected; s++ {
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseStatus("LOST")
	assert.Error(t, err)
	assert.Equal(t, "Status(42)", Status(42).String())
	assert.True(t, StatusSucceeded.Succeeded())
}

func TestGoalYaw(t *testing.T) {
	assert.Equal(t, 0.0, goalYaw(Goal{}))
	g := Goal{Orientation: geometry.QuaternionFromYaw(math.Pi / 2)}
	assert.InDelta(t, math.Pi/2, goalYaw(g), 1e-12)
}
