//go:build !windows

package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Status reports whether a daemon owns the PID file.
type Status struct {
	Running bool
	PID     int
}

// ReadStatus inspects the PID file at path. A stale file left by a dead
// process is removed.
func ReadStatus(path string) (Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Status{}, nil
		}
		return Status{}, fmt.Errorf("read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return Status{}, fmt.Errorf("pid file %s is corrupt", path)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return Status{PID: pid}, nil
	}
	// On Unix FindProcess always succeeds; probe with signal 0.
	if err := process.Signal(syscall.Signal(0)); err != nil {
		_ = os.Remove(path)
		return Status{PID: pid}, nil
	}
	return Status{Running: true, PID: pid}, nil
}

// WritePIDFile records the current process in the PID file.
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// RemovePIDFile deletes the PID file, tolerating one that is already gone.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// CheckNotRunning returns an error when a live daemon owns the PID file.
func CheckNotRunning(path string) error {
	status, err := ReadStatus(path)
	if err != nil {
		return err
	}
	if status.Running {
		return fmt.Errorf("daemon already running with PID %d", status.PID)
	}
	return nil
}

// StopProcess sends SIGTERM to the daemon recorded in the PID file and
// waits for it to exit. A daemon still alive after three seconds gets
// SIGKILL.
func StopProcess(path string) error {
	status, err := ReadStatus(path)
	if err != nil {
		return err
	}
	if !status.Running {
		return fmt.Errorf("daemon is not running")
	}

	process, err := os.FindProcess(status.PID)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("send SIGTERM: %w", err)
	}

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if err := process.Signal(syscall.Signal(0)); err != nil {
			_ = RemovePIDFile(path)
			return nil
		}
	}

	_ = process.Signal(syscall.SIGKILL)
	_ = RemovePIDFile(path)
	return nil
}

// backgroundEnv marks a process spawned by SpawnBackground so it logs
// through the rotating log file only, not stderr.
const backgroundEnv = "ATX_DAEMONIZED"

// RunningInBackground reports whether this process was detached by
// SpawnBackground.
func RunningInBackground() bool {
	return os.Getenv(backgroundEnv) != ""
}

// SpawnBackground re-executes the current binary with args, detached
// from the caller's session. The child's stdout and stderr are appended
// to logPath so panics and startup errors are not lost; its regular
// logging goes through log rotation instead, which the child detects
// via RunningInBackground. It returns the child PID.
func SpawnBackground(pidPath, logPath string, args []string) (int, error) {
	if err := CheckNotRunning(pidPath); err != nil {
		return 0, err
	}

	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("get executable: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return 0, fmt.Errorf("create log directory: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(executable, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.Env = append(os.Environ(), backgroundEnv+"=1")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start daemon: %w", err)
	}
	pid := cmd.Process.Pid

	go func() {
		_ = cmd.Wait()
	}()

	return pid, nil
}
