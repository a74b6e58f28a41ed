package main

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/coverage.explorer/internal/config"
	"github.com/banshee-data/coverage.explorer/internal/explore"
	"github.com/banshee-data/coverage.explorer/internal/frames"
	"github.com/banshee-data/coverage.explorer/internal/fsutil"
	"github.com/banshee-data/coverage.explorer/internal/monitoring"
	"github.com/banshee-data/coverage.explorer/internal/motion"
	"github.com/banshee-data/coverage.explorer/internal/render"
)

func init() {
	monitoring.SetLogger(nil)
}

// TestFlagDefaults verifies the defaults a bare invocation runs with.
func TestFlagDefaults(t *testing.T) {
	if *motionKind != "sim" {
		t.Errorf("expected motion default to be sim, got %q", *motionKind)
	}
	if *configPath != config.DefaultConfigPath {
		t.Errorf("expected config default %q, got %q", config.DefaultConfigPath, *configPath)
	}
	if *posePoll != 200*time.Millisecond {
		t.Errorf("expected pose-poll default 200ms, got %v", *posePoll)
	}
	if *debug {
		t.Error("expected debug to default to false")
	}
}

func TestLoadConfig(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig(\"\") failed: %v", err)
	}
	if cfg.GetGlobalFrame() != config.DefaultGlobalFrame {
		t.Errorf("global frame = %q", cfg.GetGlobalFrame())
	}

	cfg, err = loadConfig(filepath.Join("..", "..", config.DefaultConfigPath))
	if err != nil {
		t.Fatalf("loading the shipped defaults failed: %v", err)
	}
	if cfg.GetTickInterval() != config.DefaultTickInterval {
		t.Errorf("tick interval = %v", cfg.GetTickInterval())
	}

	if _, err := loadConfig("explorer.yaml"); err == nil {
		t.Error("expected an error for a non-JSON config path")
	}
}

func TestParseOrigin(t *testing.T) {
	tests := []struct {
		in      string
		want    r3.Vec // image of (1,0)
		wantErr bool
	}{
		{in: "0,0,0", want: r3.Vec{X: 1}},
		{in: "10, -2, 90", want: r3.Vec{X: 10, Y: -1}},
		{in: "1,2", wantErr: true},
		{in: "a,0,0", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			tf, err := parseOrigin(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseOrigin failed: %v", err)
			}
			got := tf.Apply(r3.Vec{X: 1})
			if math.Abs(got.X-tt.want.X) > 1e-9 || math.Abs(got.Y-tt.want.Y) > 1e-9 {
				t.Errorf("Apply(1,0) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLinkOdometry(t *testing.T) {
	tree := frames.NewTree(nil)
	if err := linkOdometry(tree, "gps", "odom", "5,5,0"); err != nil {
		t.Fatalf("linkOdometry failed: %v", err)
	}
	p, err := frames.Origin(tree, "gps", "odom")
	if err != nil {
		t.Fatal(err)
	}
	if p != (r3.Vec{X: 5, Y: 5}) {
		t.Errorf("odom origin = %v", p)
	}

	same := frames.NewTree(nil)
	if err := linkOdometry(same, "map", "map", "not parsed"); err != nil {
		t.Errorf("same frame should need no link: %v", err)
	}
}

func TestNewBackend_Sim(t *testing.T) {
	tree := frames.NewTree(nil)
	b, err := newBackend(backendOptions{kind: "sim", frame: "odom", baseFrame: "base_link", simSpeed: 1}, tree)
	if err != nil {
		t.Fatalf("newBackend failed: %v", err)
	}
	defer b.close()

	if _, ok := b.client.(*motion.Simulator); !ok {
		t.Errorf("client is %T, want *motion.Simulator", b.client)
	}
	if len(b.routines) != 1 {
		t.Errorf("routines = %d, want 1", len(b.routines))
	}
	if !b.client.WaitForServer(context.Background(), time.Second) {
		t.Error("simulator should be ready")
	}
	if _, err := frames.Origin(tree, "odom", "base_link"); err != nil {
		t.Errorf("simulator did not publish its pose: %v", err)
	}
}

func TestNewBackend_Unknown(t *testing.T) {
	if _, err := newBackend(backendOptions{kind: "ros"}, frames.NewTree(nil)); err == nil {
		t.Error("expected error for unknown backend")
	}
}

func TestRecorderOptions(t *testing.T) {
	if opts := recorderOptions(nil); len(opts) != 0 {
		t.Errorf("no recorders gave %d options", len(opts))
	}
	snaps, err := render.NewSnapshots(fsutil.NewMemoryFileSystem(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if opts := recorderOptions(explore.Recorders{snaps}); len(opts) != 1 {
		t.Errorf("one recorder gave %d options", len(opts))
	}
	if opts := recorderOptions(explore.Recorders{snaps, snaps}); len(opts) != 1 {
		t.Errorf("two recorders gave %d options, want them combined", len(opts))
	}
	if *snapshotDir != "" {
		t.Errorf("snapshots should be disabled by default, got %q", *snapshotDir)
	}
}
