// Command motion-sim serves a simulated holonomic base as the remote motion
// service, for running the explorer with -motion grpc off the robot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
	"google.golang.org/grpc"

	"github.com/banshee-data/coverage.explorer/internal/monitoring"
	"github.com/banshee-data/coverage.explorer/internal/motion"
	"github.com/banshee-data/coverage.explorer/internal/timeutil"
	"github.com/banshee-data/coverage.explorer/internal/version"
)

var (
	listen      = flag.String("listen", "localhost:50051", "gRPC listen address")
	frame       = flag.String("frame", "odom", "Frame goals are driven in")
	speed       = flag.Float64("speed", 0.5, "Base speed in m/s")
	step        = flag.Duration("step", 100*time.Millisecond, "Simulation period")
	startX      = flag.Float64("x", 0, "Start x in -frame")
	startY      = flag.Float64("y", 0, "Start y in -frame")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetDebug(*debug)

	sim := motion.NewSimulator(motion.SimulatorConfig{
		Frame: *frame,
		Speed: *speed,
		Step:  *step,
		Start: r3.Vec{X: *startX, Y: *startY},
	}, timeutil.RealClock{}, nil)

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", *listen, err)
	}
	srv := grpc.NewServer()
	motion.RegisterService(srv, sim)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sim.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("simulator stopped: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("simulated base in %s at %.2f,%.2f serving %s on %s", *frame, *startX, *startY, motion.ServiceName, lis.Addr())
		if err := srv.Serve(lis); err != nil {
			log.Printf("gRPC server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down motion service...")
	srv.GracefulStop()
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
