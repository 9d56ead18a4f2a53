package main

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/gbmerrall/cacheproxy/internal/pidfile"
)

type exitCalled struct{ code int }

// stubExit makes the exit seam panic so startServer's failure paths
// stop where the real process would.
func stubExit(t *testing.T) {
	t.Helper()
	orig := exit
	exit = func(code int) { panic(exitCalled{code}) }
	t.Cleanup(func() { exit = orig })
}

func expectExit(t *testing.T, wantCode int, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected startup failure to exit")
		}
		ec, ok := r.(exitCalled)
		if !ok {
			panic(r)
		}
		if ec.code != wantCode {
			t.Errorf("exit code = %d, want %d", ec.code, wantCode)
		}
	}()
	fn()
}

func TestStartServerUnopenableLogFile(t *testing.T) {
	stubExit(t)
	dir := t.TempDir()
	pidfile.SetPIDFilePath(filepath.Join(dir, "cacheproxy.pid"))
	t.Cleanup(func() { pidfile.SetPIDFilePath("") })

	cfgPath := filepath.Join(dir, "proxy.conf")
	content := "log_file = \"/nonexistent-dir-for-test/proxy.log\"\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	expectExit(t, 1, func() { startServer(cfgPath, "") })
}

func TestStartServerMalformedConfig(t *testing.T) {
	stubExit(t)
	dir := t.TempDir()

	cfgPath := filepath.Join(dir, "proxy.conf")
	if err := os.WriteFile(cfgPath, []byte("port = = 1\n"), 0644); err != nil {
		t.Fatal(err)
	}

	expectExit(t, 1, func() { startServer(cfgPath, "") })
}

func TestStartServerPortInUse(t *testing.T) {
	stubExit(t)
	dir := t.TempDir()
	pidfile.SetPIDFilePath(filepath.Join(dir, "cacheproxy.pid"))
	t.Cleanup(func() { pidfile.SetPIDFilePath("") })

	// Occupy a port, then point the server at it. A second bind of the
	// same port fails even with SO_REUSEADDR while the first listener
	// is active.
	occupied, err := net.Listen("tcp4", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer occupied.Close()
	_, port, err := net.SplitHostPort(occupied.Addr().String())
	if err != nil {
		t.Fatal(err)
	}

	cfgPath := filepath.Join(dir, "proxy.conf")
	content := "port = " + port + "\n" +
		"log_file = \"" + filepath.Join(dir, "proxy.log") + "\"\n" +
		"blocklist_file = \"" + filepath.Join(dir, "blocklist.txt") + "\"\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	expectExit(t, 1, func() { startServer(cfgPath, "") })
}
