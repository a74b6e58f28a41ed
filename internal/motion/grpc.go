package motion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/coverage.explorer/internal/frames"
	"github.com/banshee-data/coverage.explorer/internal/geometry"
	"github.com/banshee-data/coverage.explorer/internal/monitoring"
	"github.com/banshee-data/coverage.explorer/internal/timeutil"
)

// Wire names of the remote motion service. Messages are structpb.Struct so
// no generated code is needed on either side.
const (
	ServiceName = "coverage.motion.v1.Motion"

	readyMethod  = "/" + ServiceName + "/Ready"
	cancelMethod = "/" + ServiceName + "/Cancel"
	poseMethod   = "/" + ServiceName + "/Pose"
	moveMethod   = "/" + ServiceName + "/Move"

	eventFeedback = "feedback"
	eventDone     = "done"

	// readyProbe bounds how long Ready waits on the backend.
	readyProbe = 2 * time.Second
)

// MotionServer is the server side of the remote motion service.
type MotionServer interface {
	Ready(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Cancel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Pose(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Move(*structpb.Struct, grpc.ServerStream) error
}

var moveStreamDesc = grpc.StreamDesc{
	StreamName:    "Move",
	Handler:       moveHandler,
	ServerStreams: true,
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MotionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Ready", Handler: readyHandler},
		{MethodName: "Cancel", Handler: cancelHandler},
		{MethodName: "Pose", Handler: poseHandler},
	},
	Streams:  []grpc.StreamDesc{moveStreamDesc},
	Metadata: "coverage/motion/v1/motion.proto",
}

func readyHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MotionServer).Ready(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: readyMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MotionServer).Ready(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func cancelHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MotionServer).Cancel(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: cancelMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MotionServer).Cancel(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func poseHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(MotionServer).Pose(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: poseMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(MotionServer).Pose(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func moveHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(MotionServer).Move(in, stream)
}

// RegisterService exposes backend on s as the remote motion service.
func RegisterService(s grpc.ServiceRegistrar, backend Client) {
	s.RegisterService(&serviceDesc, &Service{backend: backend})
}

// Service adapts a Client to MotionServer.
type Service struct {
	backend Client
}

var _ MotionServer = (*Service)(nil)

func (s *Service) Ready(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	ready := s.backend.WaitForServer(ctx, readyProbe)
	return structpb.NewStruct(map[string]any{"ready": ready})
}

func (s *Service) Cancel(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	if err := s.backend.CancelAllBeforeNow(); err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return &structpb.Struct{}, nil
}

// PoseSource is a backend that knows where the base is.
type PoseSource interface {
	Pose() geometry.Pose
}

// Pose reports the backend's pose when it is a PoseSource.
func (s *Service) Pose(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	src, ok := s.backend.(PoseSource)
	if !ok {
		return nil, status.Error(codes.Unimplemented, "backend does not report its pose")
	}
	return poseStruct(src.Pose())
}

type moveEvent struct {
	kind   string
	status Status
	pos    r3.Vec
}

// Move sends one goal to the backend and streams feedback until it finishes
// or the caller goes away. A caller going away does not cancel the goal; a
// newer Move replaces it.
func (s *Service) Move(in *structpb.Struct, stream grpc.ServerStream) error {
	goal := goalFromStruct(in)
	ctx := stream.Context()
	events := make(chan moveEvent, 16)

	done := func(st Status, r Result) {
		select {
		case events <- moveEvent{kind: eventDone, status: st, pos: r.Position}:
		case <-ctx.Done():
		}
	}
	feedback := func(fb Feedback) {
		select {
		case events <- moveEvent{kind: eventFeedback, pos: fb.Position}:
		default: // drop feedback rather than stall the backend
		}
	}
	if err := s.backend.SendGoal(goal, done, feedback); err != nil {
		return status.Error(codes.Unavailable, err.Error())
	}
	monitoring.Debugf("[gRPC] Move to %.2f,%.2f in %s", goal.Position.X, goal.Position.Y, goal.Frame)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			msg, err := eventStruct(ev)
			if err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
			if ev.kind == eventDone {
				return nil
			}
		}
	}
}

func eventStruct(ev moveEvent) (*structpb.Struct, error) {
	fields := map[string]any{
		"event": ev.kind,
		"x":     ev.pos.X,
		"y":     ev.pos.Y,
		"z":     ev.pos.Z,
	}
	if ev.kind == eventDone {
		fields["status"] = ev.status.String()
	}
	return structpb.NewStruct(fields)
}

func poseFields(p geometry.Pose) map[string]any {
	return map[string]any{
		"x":  p.Position.X,
		"y":  p.Position.Y,
		"z":  p.Position.Z,
		"qw": p.Orientation.Real,
		"qx": p.Orientation.Imag,
		"qy": p.Orientation.Jmag,
		"qz": p.Orientation.Kmag,
	}
}

func poseFromFields(f map[string]*structpb.Value) geometry.Pose {
	num := func(k string) float64 { return f[k].GetNumberValue() }
	return geometry.Pose{
		Position:    r3.Vec{X: num("x"), Y: num("y"), Z: num("z")},
		Orientation: quat.Number{Real: num("qw"), Imag: num("qx"), Jmag: num("qy"), Kmag: num("qz")},
	}
}

func poseStruct(p geometry.Pose) (*structpb.Struct, error) {
	return structpb.NewStruct(poseFields(p))
}

func goalStruct(g Goal) (*structpb.Struct, error) {
	fields := poseFields(geometry.Pose{Position: g.Position, Orientation: g.Orientation})
	fields["frame"] = g.Frame
	return structpb.NewStruct(fields)
}

func goalFromStruct(s *structpb.Struct) Goal {
	f := s.GetFields()
	pose := poseFromFields(f)
	return Goal{
		Frame:       f["frame"].GetStringValue(),
		Position:    pose.Position,
		Orientation: pose.Orientation,
	}
}

// RemoteClient is a Client for a motion service reached over gRPC.
type RemoteClient struct {
	cc grpc.ClientConnInterface

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewRemoteClient uses an existing connection.
func NewRemoteClient(cc grpc.ClientConnInterface) *RemoteClient {
	return &RemoteClient{cc: cc}
}

// Dial connects to target without transport security, as the motion
// service is expected on the robot's local network.
func Dial(target string, opts ...grpc.DialOption) (*RemoteClient, *grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("dial motion service %s: %w", target, err)
	}
	return NewRemoteClient(conn), conn, nil
}

// WaitForServer blocks until the remote reports ready or timeout elapses.
func (c *RemoteClient) WaitForServer(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, readyMethod, &structpb.Struct{}, out, grpc.WaitForReady(true)); err != nil {
		monitoring.Logf("[gRPC] WARNING: motion service not ready: %v", err)
		return false
	}
	return out.GetFields()["ready"].GetBoolValue()
}

// SendGoal implements Client. Callbacks run on a per-goal goroutine.
func (c *RemoteClient) SendGoal(goal Goal, done DoneFunc, feedback FeedbackFunc) error {
	msg, err := goalStruct(goal)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel() // replaced goals get no further callbacks
	}
	ctx, cancel := context.WithCancel(context.Background())
	stream, err := c.cc.NewStream(ctx, &moveStreamDesc, moveMethod)
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	if err := stream.SendMsg(msg); err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return fmt.Errorf("%w: %v", ErrServerUnavailable, err)
	}
	c.cancel = cancel

	go c.receive(ctx, stream, done, feedback)
	return nil
}

func (c *RemoteClient) receive(ctx context.Context, stream grpc.ClientStream, done DoneFunc, feedback FeedbackFunc) {
	for {
		ev := new(structpb.Struct)
		err := stream.RecvMsg(ev)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, io.EOF) {
				monitoring.Logf("[gRPC] WARNING: move stream failed: %v", err)
			}
			if done != nil {
				done(StatusAborted, Result{})
			}
			return
		}

		f := ev.GetFields()
		pos := r3.Vec{X: f["x"].GetNumberValue(), Y: f["y"].GetNumberValue(), Z: f["z"].GetNumberValue()}
		switch f["event"].GetStringValue() {
		case eventFeedback:
			if feedback != nil {
				feedback(Feedback{Position: pos})
			}
		case eventDone:
			st, err := ParseStatus(f["status"].GetStringValue())
			if err != nil {
				st = StatusAborted
			}
			if ctx.Err() == nil && done != nil {
				done(st, Result{Position: pos})
			}
			return
		}
	}
}

// CancelAllBeforeNow implements Client. The active goal's done callback
// fires when the server reports it preempted.
func (c *RemoteClient) CancelAllBeforeNow() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.cc.Invoke(ctx, cancelMethod, &structpb.Struct{}, new(structpb.Struct)); err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	return nil
}

// Pose asks the service where the base is.
func (c *RemoteClient) Pose(ctx context.Context) (geometry.Pose, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, poseMethod, &structpb.Struct{}, out); err != nil {
		return geometry.Pose{}, fmt.Errorf("pose: %w", err)
	}
	return poseFromFields(out.GetFields()), nil
}

// TrackPose polls the remote pose every interval of clock and publishes it
// into tree as frame -> baseFrame until ctx is done. A nil clock uses the
// real clock.
func (c *RemoteClient) TrackPose(ctx context.Context, clock timeutil.Clock, tree *frames.Tree, frame, baseFrame string, interval time.Duration) error {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	timer := clock.NewTimer(interval)
	defer timer.Stop()
	failing := false
	for {
		pose, err := c.Pose(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			if !failing {
				monitoring.Logf("[gRPC] WARNING: remote pose unavailable: %v", err)
			}
			failing = true
		default:
			if failing {
				monitoring.Logf("[gRPC] remote pose recovered")
			}
			failing = false
			if err := tree.Update(frame, baseFrame, frames.FromPose(pose.Position, pose.Orientation)); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C():
			timer.Reset(interval)
		}
	}
}

// Close stops tracking the active goal.
func (c *RemoteClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

var _ Client = (*RemoteClient)(nil)
