package pidfile

import (
	"os"
	"path/filepath"
	"testing"
)

func withTempPIDFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cacheproxy.pid")
	SetPIDFilePath(path)
	t.Cleanup(func() { SetPIDFilePath("") })
	return path
}

func TestWriteReadRemove(t *testing.T) {
	path := withTempPIDFile(t)

	if err := Write(); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("pidfile not created: %v", err)
	}

	pid, err := Read()
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("Read() = %d, want %d", pid, os.Getpid())
	}

	if err := Remove(); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("pidfile still present after Remove")
	}
}

func TestWriteRefusesExisting(t *testing.T) {
	withTempPIDFile(t)

	if err := Write(); err != nil {
		t.Fatalf("first Write() error: %v", err)
	}
	// The recorded pid is this test process, which is very much alive.
	if err := Write(); err == nil {
		t.Error("second Write() should refuse a live pidfile")
	}
}

func TestWriteReplacesStale(t *testing.T) {
	path := withTempPIDFile(t)

	// No process has pid 0; the file is stale by construction.
	if err := os.WriteFile(path, []byte("0"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := Write(); err != nil {
		t.Fatalf("Write() over a stale pidfile error: %v", err)
	}
	pid, err := Read()
	if err != nil {
		t.Fatalf("Read() error: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("Read() = %d, want %d", pid, os.Getpid())
	}
}

func TestReadMissing(t *testing.T) {
	withTempPIDFile(t)

	if _, err := Read(); err == nil {
		t.Error("Read() on a missing pidfile should error")
	}
}
