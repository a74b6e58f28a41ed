package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	root := t.TempDir()
	snapshots := filepath.Join(root, "snapshots")
	elsewhere := filepath.Join(root, "elsewhere")
	for _, d := range []string{snapshots, elsewhere} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	escape := filepath.Join(snapshots, "escape")
	if err := os.Symlink(elsewhere, escape); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}
	inner := filepath.Join(root, "inner-link")
	if err := os.Symlink(snapshots, inner); err != nil {
		t.Fatalf("Failed to create symlink: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		dir     string
		wantErr bool
	}{
		{"file in directory", filepath.Join(snapshots, "run.png"), snapshots, false},
		{"not yet created subdirectory", filepath.Join(snapshots, "2026", "run.png"), snapshots, false},
		{"dot-dot out of directory", filepath.Join(snapshots, "..", "run.png"), snapshots, true},
		{"relative traversal", "../../../etc/passwd", snapshots, true},
		{"absolute path elsewhere", "/etc/passwd", snapshots, true},
		{"through a symlink out", filepath.Join(escape, "run.png"), snapshots, true},
		{"the escaping symlink itself", escape, snapshots, true},
		{"safe directory reached through a symlink", filepath.Join(inner, "run.png"), snapshots, false},
		{"missing safe directory", filepath.Join(root, "run.png"), filepath.Join(root, "missing"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.path, tt.dir)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePathWithinDirectory(%q, %q) error = %v, wantErr %v", tt.path, tt.dir, err, tt.wantErr)
			}
		})
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"3f2c9a1e-5b7d-4c1a-9e8f-0a1b2c3d4e5f", "3f2c9a1e-5b7d-4c1a-9e8f-0a1b2c3d4e5f"},
		{"north field #2", "north_field_2"},
		{"../../etc/passwd", "etc_passwd"},
		{"..", "unknown"},
		{"", "unknown"},
		{"///", "unknown"},
		{"héllo wörld", "h_llo_w_rld"},
		{"_.run.1._", "run.1"},
	}
	for _, tt := range tests {
		if got := SanitizeFilename(tt.in); got != tt.want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	long := SanitizeFilename(strings.Repeat("a", 500))
	if len(long) != 128 {
		t.Errorf("long name has %d bytes, want 128", len(long))
	}
}
