package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/coverage.explorer/internal/api"
	"github.com/banshee-data/coverage.explorer/internal/config"
	"github.com/banshee-data/coverage.explorer/internal/db"
	"github.com/banshee-data/coverage.explorer/internal/explore"
	"github.com/banshee-data/coverage.explorer/internal/frames"
	"github.com/banshee-data/coverage.explorer/internal/fsutil"
	"github.com/banshee-data/coverage.explorer/internal/monitoring"
	"github.com/banshee-data/coverage.explorer/internal/render"
	"github.com/banshee-data/coverage.explorer/internal/serialmux"
	"github.com/banshee-data/coverage.explorer/internal/version"
)

var (
	listen      = flag.String("listen", ":8080", "Listen address")
	configPath  = flag.String("config", config.DefaultConfigPath, "Explorer config file (empty for built-in defaults)")
	dbPath      = flag.String("db", "explorer.db", "Run history database (empty to disable)")
	snapshotDir = flag.String("snapshots", "", "Directory for per-run plan images (empty to disable)")
	motionKind  = flag.String("motion", "sim", "Motion backend: sim, serial or grpc")
	port        = flag.String("port", "/dev/ttyUSB0", "Serial port for -motion serial")
	baud        = flag.Int("baud", serialmux.DefaultBaudRate, "Baud rate for -motion serial")
	grpcAddr    = flag.String("grpc", "localhost:50051", "Motion service address for -motion grpc")
	odomFrame   = flag.String("odom-frame", "odom", "Frame the base reports its pose in")
	odomOrigin  = flag.String("odom-origin", "0,0,0", "Odometry frame origin in the global frame as x,y,yaw (degrees)")
	simSpeed    = flag.Float64("sim-speed", 0.5, "Simulated base speed in m/s")
	posePoll    = flag.Duration("pose-poll", 200*time.Millisecond, "Pose poll interval for -motion grpc")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func loadConfig(path string) (*config.ExplorerConfig, error) {
	if path == "" {
		return config.DefaultExplorerConfig(), nil
	}
	return config.Load(path)
}

// recorderOptions wires zero or more recorders into the explorer.
func recorderOptions(rs explore.Recorders) []explore.Option {
	switch len(rs) {
	case 0:
		return nil
	case 1:
		return []explore.Option{explore.WithRecorder(rs[0])}
	default:
		return []explore.Option{explore.WithRecorder(rs)}
	}
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	monitoring.SetDebug(*debug)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	params := explore.ParamsFromConfig(cfg)
	log.Printf("coverage explorer %s: global frame %s, spacing %.2fm, rows %.2fm, padding %.2fm",
		version.Version, params.GlobalFrame, params.Coverage.GoalSpacing, params.Coverage.RowWidth, params.Coverage.Padding)

	tree := frames.NewTree(nil)
	if err := linkOdometry(tree, params.GlobalFrame, *odomFrame, *odomOrigin); err != nil {
		log.Fatalf("failed to place odometry frame: %v", err)
	}

	motionBackend, err := newBackend(backendOptions{
		kind:      *motionKind,
		frame:     *odomFrame,
		baseFrame: params.BaseFrame,
		port:      *port,
		baud:      *baud,
		grpcAddr:  *grpcAddr,
		simSpeed:  *simSpeed,
		posePoll:  *posePoll,
	}, tree)
	if err != nil {
		log.Fatalf("failed to create motion backend: %v", err)
	}
	defer motionBackend.close()

	var recorders explore.Recorders
	var store *db.DB
	if *dbPath != "" {
		store, err = db.NewDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer store.Close()
		if n, err := store.MarkInterrupted(time.Now()); err != nil {
			log.Printf("failed to close out interrupted runs: %v", err)
		} else if n > 0 {
			log.Printf("marked %d interrupted run(s) as failed", n)
		}
		recorders = append(recorders, store)
	}
	var snaps *render.Snapshots
	if *snapshotDir != "" {
		snaps, err = render.NewSnapshots(fsutil.OSFileSystem{}, *snapshotDir)
		if err != nil {
			log.Fatalf("failed to prepare snapshot directory: %v", err)
		}
		recorders = append(recorders, snaps)
	}
	explorer := explore.NewServer(params, motionBackend.client, tree, recorderOptions(recorders)...)

	// Create a wait group for the HTTP server and the motion backend routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tasks outlive the requests that start them and end by preemption
	// during shutdown, before this context is cancelled.
	runCtx, cancelRuns := context.WithCancel(context.Background())
	defer cancelRuns()

	for _, r := range motionBackend.routines {
		wg.Add(1)
		go func(r routine) {
			defer wg.Done()
			if err := r.run(ctx); err != nil && err != context.Canceled {
				log.Printf("%s routine failed: %v", r.name, err)
			}
			log.Printf("%s routine terminated", r.name)
		}(r)
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		var runs api.RunStore
		if store != nil {
			runs = store
		}
		apiServer := api.NewServer(runCtx, explorer, runs)
		if snaps != nil {
			apiServer.WithSnapshots(snaps)
		}
		mux := apiServer.ServeMux()

		motionBackend.attachAdminRoutes(mux)
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach database admin routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("listening on %s", *listen)

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		if explorer.Preempt() {
			log.Println("preempted the running task")
		}

		// Create a shutdown context with a shorter timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		if run := explorer.Current(); run != nil {
			waitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if out, err := run.Wait(waitCtx); err == nil {
				log.Printf("task %s ended %s", run.ID(), out.State)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
