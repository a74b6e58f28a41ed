package main

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coverage.explorer/internal/frames"
	"github.com/banshee-data/coverage.explorer/internal/geometry"
	"github.com/banshee-data/coverage.explorer/internal/monitoring"
	"github.com/banshee-data/coverage.explorer/internal/motion"
	"github.com/banshee-data/coverage.explorer/internal/serialmux"
	"github.com/banshee-data/coverage.explorer/internal/timeutil"
)

// routine is a named background loop started by main.
type routine struct {
	name string
	run  func(ctx context.Context) error
}

// backend is a motion client together with the loops that keep it and
// the robot's pose in the frames tree alive.
type backend struct {
	client   motion.Client
	routines []routine
	serial   serialmux.SerialMuxInterface
	close    func()
}

type backendOptions struct {
	kind      string
	frame     string // odometry frame the base reports in
	baseFrame string
	port      string
	baud      int
	grpcAddr  string
	simSpeed  float64
	posePoll  time.Duration
}

func newBackend(opts backendOptions, tree *frames.Tree) (*backend, error) {
	switch opts.kind {
	case "sim":
		sim := motion.NewSimulator(motion.SimulatorConfig{
			Frame:     opts.frame,
			BaseFrame: opts.baseFrame,
			Speed:     opts.simSpeed,
		}, timeutil.RealClock{}, tree)
		return &backend{
			client:   sim,
			routines: []routine{{"simulator", sim.Run}},
			serial:   serialmux.NewDisabledSerialMux(),
			close:    func() {},
		}, nil

	case "serial":
		mux, err := serialmux.NewRealSerialMux(opts.port, serialmux.PortOptions{BaudRate: opts.baud})
		if err != nil {
			return nil, fmt.Errorf("failed to open base controller on %s: %w", opts.port, err)
		}
		if err := mux.Initialize(); err != nil {
			mux.Close()
			return nil, fmt.Errorf("failed to initialize base controller: %w", err)
		}
		base := motion.NewSerialBase(mux, motion.SerialBaseConfig{
			Frame:     opts.frame,
			BaseFrame: opts.baseFrame,
		}, timeutil.RealClock{}, tree)
		return &backend{
			client: base,
			routines: []routine{
				{"serial monitor", mux.Monitor},
				{"base controller", base.Run},
			},
			serial: mux,
			close:  func() { mux.Close() },
		}, nil

	case "grpc":
		client, conn, err := motion.Dial(opts.grpcAddr)
		if err != nil {
			return nil, err
		}
		track := func(ctx context.Context) error {
			return client.TrackPose(ctx, timeutil.RealClock{}, tree, opts.frame, opts.baseFrame, opts.posePoll)
		}
		return &backend{
			client:   client,
			routines: []routine{{"remote pose", track}},
			serial:   serialmux.NewDisabledSerialMux(),
			close: func() {
				client.Close()
				conn.Close()
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown motion backend %q: expected sim, serial or grpc", opts.kind)
}

func (b *backend) attachAdminRoutes(mux *http.ServeMux) {
	b.serial.AttachAdminRoutes(mux)
}

// parseOrigin reads "x,y,yaw" with yaw in degrees.
func parseOrigin(s string) (frames.Transform, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return frames.Transform{}, fmt.Errorf("origin %q: expected x,y,yaw", s)
	}
	var v [3]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return frames.Transform{}, fmt.Errorf("origin %q: %w", s, err)
		}
		v[i] = f
	}
	yaw := v[2] * math.Pi / 180
	return frames.FromPose(r3.Vec{X: v[0], Y: v[1]}, geometry.QuaternionFromYaw(yaw)), nil
}

// linkOdometry places the odometry frame in the global frame.
func linkOdometry(tree *frames.Tree, global, odom, origin string) error {
	if global == odom {
		return nil
	}
	tf, err := parseOrigin(origin)
	if err != nil {
		return err
	}
	if err := tree.SetTransform(global, odom, tf); err != nil {
		return err
	}
	monitoring.Logf("[frames] %s placed in %s at %s", odom, global, origin)
	return nil
}
