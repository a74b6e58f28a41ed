package render

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/coverage.explorer/internal/coverage"
	"github.com/banshee-data/coverage.explorer/internal/explore"
	"github.com/banshee-data/coverage.explorer/internal/fsutil"
	"github.com/banshee-data/coverage.explorer/internal/security"
)

// Snapshots keeps a PNG of every started plan, named after its task id.
// It records only starts; the other Recorder events are no-ops.
type Snapshots struct {
	fs  fsutil.FileSystem
	dir string
}

var _ explore.Recorder = (*Snapshots)(nil)

// NewSnapshots stores snapshots under dir, creating it if needed.
func NewSnapshots(fsys fsutil.FileSystem, dir string) (*Snapshots, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}
	return &Snapshots{fs: fsys, dir: dir}, nil
}

// Path returns where the snapshot for id lives.
func (s *Snapshots) Path(id string) (string, error) {
	p := filepath.Join(s.dir, security.SanitizeFilename(id)+".png")
	if err := security.ValidatePathWithinDirectory(p, s.dir); err != nil {
		return "", err
	}
	return p, nil
}

// Snapshot returns the PNG for id. A missing snapshot yields an error
// matching fs.ErrNotExist.
func (s *Snapshots) Snapshot(id string) ([]byte, error) {
	p, err := s.Path(id)
	if err != nil {
		return nil, err
	}
	return s.fs.ReadFile(p)
}

func (s *Snapshots) RecordStart(id string, task explore.Task, plan coverage.Plan, at time.Time) error {
	if len(plan.Waypoints) == 0 {
		return nil
	}
	p, err := s.Path(id)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	o := Options{Title: fmt.Sprintf("%s %s", id, at.UTC().Format(time.RFC3339))}
	if err := WritePlanPNG(&buf, plan, 6*vg.Inch, o); err != nil {
		return err
	}
	return s.fs.WriteFile(p, buf.Bytes(), 0o644)
}

func (s *Snapshots) RecordRecenter(string, r3.Vec, bool, time.Time) error { return nil }

func (s *Snapshots) RecordFinish(string, explore.Outcome, int, time.Time) error { return nil }

// Remove deletes the snapshot for id if there is one.
func (s *Snapshots) Remove(id string) error {
	p, err := s.Path(id)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
