package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

// exercise runs the same checks against both implementations.
func exercise(t *testing.T, fsys FileSystem, root string) {
	t.Helper()
	dir := filepath.Join(root, "snapshots", "2026")
	name := filepath.Join(dir, "run.png")

	if err := fsys.WriteFile(name, []byte("x"), 0o644); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("write before mkdir: err = %v, want not exist", err)
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		t.Errorf("MkdirAll on an existing directory failed: %v", err)
	}

	if err := fsys.WriteFile(name, []byte("first"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := fsys.WriteFile(name, []byte("second"), 0o644); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	data, err := fsys.ReadFile(name)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("ReadFile = %q, want %q", data, "second")
	}

	info, err := fsys.Stat(name)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 6 || info.IsDir() || info.Name() != "run.png" {
		t.Errorf("Stat = %s %d dir=%v", info.Name(), info.Size(), info.IsDir())
	}
	if info, err := fsys.Stat(dir); err != nil || !info.IsDir() {
		t.Errorf("Stat(dir) = %v, %v", info, err)
	}

	if err := fsys.Remove(dir); err == nil {
		t.Error("removing a non-empty directory should fail")
	}
	if err := fsys.Remove(name); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := fsys.ReadFile(name); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile after Remove: err = %v", err)
	}
	if err := fsys.Remove(name); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("second Remove: err = %v", err)
	}
}

func TestOSFileSystem(t *testing.T) {
	exercise(t, OSFileSystem{}, t.TempDir())
}

func TestMemoryFileSystem(t *testing.T) {
	exercise(t, NewMemoryFileSystem(), "/data")
}

func TestOSFileSystem_WriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	if err := (OSFileSystem{}).WriteFile(filepath.Join(dir, "plan.png"), []byte("png"), 0o600); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "plan.png" {
		t.Errorf("directory holds %v", entries)
	}
	info, _ := entries[0].Info()
	if info.Mode().Perm() != 0o600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestMemoryFileSystem_DataIsolation(t *testing.T) {
	mfs := NewMemoryFileSystem()
	buf := []byte("abc")
	if err := mfs.WriteFile("a.txt", buf, 0o644); err != nil {
		t.Fatal(err)
	}
	buf[0] = 'z'
	got, _ := mfs.ReadFile("a.txt")
	got[1] = 'z'
	again, _ := mfs.ReadFile("./a.txt")
	if string(again) != "abc" {
		t.Errorf("stored data was aliased: %q", again)
	}
}

func TestMemoryFileSystem_MkdirOverFile(t *testing.T) {
	mfs := NewMemoryFileSystem()
	if err := mfs.WriteFile("x", nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := mfs.MkdirAll("x/y", 0o755); err == nil {
		t.Error("MkdirAll through a file should fail")
	}
}
