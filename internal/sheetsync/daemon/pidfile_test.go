//go:build !windows

package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
)

func TestReadStatusNoFile(t *testing.T) {
	status, err := ReadStatus(filepath.Join(t.TempDir(), "atx.pid"))
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status.Running {
		t.Error("missing pid file reported running")
	}
}

func TestWriteAndReadPIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "atx.pid")

	if err := WritePIDFile(path); err != nil {
		t.Fatalf("write pid file: %v", err)
	}

	status, err := ReadStatus(path)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	// Our own process is definitely alive.
	if !status.Running {
		t.Error("live process reported not running")
	}
	if status.PID != os.Getpid() {
		t.Errorf("PID = %d, want %d", status.PID, os.Getpid())
	}
}

func TestReadStatusStaleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atx.pid")

	// A PID that cannot exist on Linux (beyond pid_max).
	if err := os.WriteFile(path, []byte("99999999"), 0o644); err != nil {
		t.Fatalf("write stale pid: %v", err)
	}

	status, err := ReadStatus(path)
	if err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status.Running {
		t.Error("dead process reported running")
	}
	// Stale file is cleaned up.
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("stale pid file not removed")
	}
}

func TestReadStatusCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atx.pid")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}
	if _, err := ReadStatus(path); err == nil {
		t.Error("expected error for corrupt pid file")
	}
}

func TestCheckNotRunning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atx.pid")

	if err := CheckNotRunning(path); err != nil {
		t.Errorf("no pid file: %v", err)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}
	if err := CheckNotRunning(path); err == nil {
		t.Error("expected error while pid file names a live process")
	}
}

func TestRemovePIDFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "atx.pid")

	// Removing a missing file is not an error.
	if err := RemovePIDFile(path); err != nil {
		t.Errorf("remove missing: %v", err)
	}

	if err := WritePIDFile(path); err != nil {
		t.Fatalf("write pid file: %v", err)
	}
	if err := RemovePIDFile(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("pid file still present")
	}
}

func TestRunningInBackground(t *testing.T) {
	t.Setenv(backgroundEnv, "")
	if RunningInBackground() {
		t.Error("foreground process reported as detached")
	}
	t.Setenv(backgroundEnv, "1")
	if !RunningInBackground() {
		t.Error("detached marker not detected")
	}
}

func TestStopProcessNotRunning(t *testing.T) {
	if err := StopProcess(filepath.Join(t.TempDir(), "atx.pid")); err == nil {
		t.Error("expected error stopping when nothing is running")
	}
}
