package procfs

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestPaths(t *testing.T) {
	if got := MapsPath(42); got != "/proc/42/maps" {
		t.Fatalf("MapsPath(42) = %q", got)
	}
	if got := AuxvPath(42); got != "/proc/42/auxv" {
		t.Fatalf("AuxvPath(42) = %q", got)
	}
	if got := MemPath(42); got != "/proc/42/mem" {
		t.Fatalf("MemPath(42) = %q", got)
	}
}

func TestDataLoader_ReadAllSpansChunks(t *testing.T) {
	want := bytes.Repeat([]byte("00400000-00452000 r-xp 00000000 08:02 173521 /usr/bin/dbus-daemon\n"), 200)
	path := filepath.Join(t.TempDir(), "maps")
	if err := os.WriteFile(path, want, 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	got, err := NewDataLoader(path).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("ReadAll() returned %d bytes, want %d", len(got), len(want))
	}
}

func TestDataLoader_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	got, err := NewDataLoader(path).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no data, got %q", got)
	}
}

func TestDataLoader_Missing(t *testing.T) {
	if _, err := NewDataLoader(filepath.Join(t.TempDir(), "missing")).ReadAll(); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestDataLoader_ProcSelfMaps(t *testing.T) {
	got, err := NewDataLoader("/proc/self/maps").ReadAll()
	if err != nil {
		t.Skipf("procfs is not available: %v", err)
	}
	if len(got) == 0 || got[len(got)-1] != '\n' {
		t.Fatalf("unexpected content of /proc/self/maps: %q", got)
	}
}
