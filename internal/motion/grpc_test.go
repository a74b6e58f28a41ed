package motion

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/coverage.explorer/internal/frames"
	"github.com/banshee-data/coverage.explorer/internal/geometry"
	"github.com/banshee-data/coverage.explorer/internal/timeutil"
)

func newRemoteRig(t *testing.T) (*RemoteClient, *Simulator) {
	t.Helper()
	sim := NewSimulator(SimulatorConfig{Frame: "map", Speed: 1}, timeutil.RealClock{}, nil)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterService(srv, sim)
	go srv.Serve(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	client := NewRemoteClient(conn)
	t.Cleanup(func() {
		client.Close()
		conn.Close()
		srv.Stop()
	})
	return client, sim
}

func TestRemoteClient_Ready(t *testing.T) {
	client, sim := newRemoteRig(t)
	assert.True(t, client.WaitForServer(context.Background(), time.Second))

	sim.SetOffline(true)
	assert.False(t, client.WaitForServer(context.Background(), 5*time.Second))
}

func TestRemoteClient_MoveSucceeds(t *testing.T) {
	client, sim := newRemoteRig(t)
	rec := &syncRecorder{}

	goal := Goal{Frame: "map", Position: r3.Vec{X: 0.3}, Orientation: geometry.QuaternionFromYaw(0)}
	require.NoError(t, client.SendGoal(goal, rec.done, rec.feedback))
	require.Eventually(t, sim.Active, time.Second, time.Millisecond, "goal reaches the simulator")

	got := sim.Goals()[0]
	assert.Equal(t, "map", got.Frame)
	assert.Equal(t, r3.Vec{X: 0.3}, got.Position)
	assert.Equal(t, 1.0, got.Orientation.Real)

	for i := 0; i < 10 && sim.Active(); i++ {
		sim.Step(100 * time.Millisecond)
	}
	require.Eventually(t, func() bool {
		statuses, _ := rec.snapshot()
		return len(statuses) == 1
	}, time.Second, time.Millisecond)

	statuses, _ := rec.snapshot()
	assert.Equal(t, []Status{StatusSucceeded}, statuses)
	assert.InDelta(t, 0.3, rec.results[0].Position.X, 1e-9)
}

func TestRemoteClient_Cancel(t *testing.T) {
	client, sim := newRemoteRig(t)
	rec := &syncRecorder{}

	require.NoError(t, client.SendGoal(Goal{Position: r3.Vec{X: 10}}, rec.done, nil))
	require.Eventually(t, sim.Active, time.Second, time.Millisecond)

	require.NoError(t, client.CancelAllBeforeNow())
	require.Eventually(t, func() bool {
		statuses, _ := rec.snapshot()
		return len(statuses) == 1
	}, time.Second, time.Millisecond)
	statuses, _ := rec.snapshot()
	assert.Equal(t, []Status{StatusPreempted}, statuses)
	assert.Equal(t, 1, sim.Cancels())
}

func TestRemoteClient_ReplacedGoalIsSilent(t *testing.T) {
	client, sim := newRemoteRig(t)
	first, second := &syncRecorder{}, &syncRecorder{}

	require.NoError(t, client.SendGoal(Goal{Position: r3.Vec{X: 10}}, first.done, nil))
	require.Eventually(t, func() bool { return len(sim.Goals()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, client.SendGoal(Goal{Position: r3.Vec{X: 0.01}}, second.done, nil))
	require.Eventually(t, func() bool { return len(sim.Goals()) == 2 }, time.Second, time.Millisecond)

	sim.Step(100 * time.Millisecond)
	require.Eventually(t, func() bool {
		statuses, _ := second.snapshot()
		return len(statuses) == 1
	}, time.Second, time.Millisecond)

	statuses, _ := first.snapshot()
	assert.Empty(t, statuses)
}

func TestGoalStructRoundTrip(t *testing.T) {
	g := Goal{Frame: "gps", Position: r3.Vec{X: 1, Y: 2, Z: 3}, Orientation: geometry.QuaternionFromYaw(1)}
	s, err := goalStruct(g)
	require.NoError(t, err)
	assert.Equal(t, g, goalFromStruct(s))
}

func TestRemoteClient_TrackPose(t *testing.T) {
	client, sim := newRemoteRig(t)
	sim.Teleport(r3.Vec{X: 3, Y: 4})

	pose, err := client.Pose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, r3.Vec{X: 3, Y: 4}, pose.Position)

	tree := frames.NewTree(timeutil.RealClock{})
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- client.TrackPose(ctx, clock, tree, "odom", "base_link", time.Second) }()

	at := func(want r3.Vec) func() bool {
		return func() bool {
			p, err := frames.Origin(tree, "odom", "base_link")
			return err == nil && p == want
		}
	}
	require.Eventually(t, func() bool { return at(r3.Vec{X: 3, Y: 4})() && clock.PendingTimers() == 1 }, time.Second, time.Millisecond)

	sim.Teleport(r3.Vec{X: 5, Y: 6})
	time.Sleep(20 * time.Millisecond)
	assert.True(t, at(r3.Vec{X: 3, Y: 4})(), "no poll before the interval elapses")

	clock.Advance(time.Second)
	require.Eventually(t, at(r3.Vec{X: 5, Y: 6}), time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)
}

type blindBackend struct{ Client }

func TestService_PoseUnimplemented(t *testing.T) {
	svc := &Service{backend: blindBackend{}}
	_, err := svc.Pose(context.Background(), nil)
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}
