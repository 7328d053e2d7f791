// Package process manages the PID file of a running server.
package process

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/osakka/agentorch/pkg/logging"
)

// ErrNotRunning is returned by Stop when no live process owns the PID file.
var ErrNotRunning = errors.New("no running server found")

// PIDManager manages the process ID file
type PIDManager struct {
	pidFile string
	logger  logging.Logger

	// poll and grace control how long Stop waits after SIGTERM
	poll  time.Duration
	grace time.Duration
}

// NewPIDManager creates a new PID manager. An empty path disables it.
func NewPIDManager(pidFile string, logger logging.Logger) *PIDManager {
	return &PIDManager{
		pidFile: pidFile,
		logger:  logger.WithComponent("pid_manager"),
		poll:    250 * time.Millisecond,
		grace:   10 * time.Second,
	}
}

// Path returns the PID file path
func (pm *PIDManager) Path() string {
	return pm.pidFile
}

// WritePID records the current process. It fails if another live process
// already owns the file; a stale file is replaced.
func (pm *PIDManager) WritePID() error {
	if pm.pidFile == "" {
		return nil
	}

	dir := filepath.Dir(pm.pidFile)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create PID directory %s: %w", dir, err)
	}
	if err := pm.checkExistingProcess(); err != nil {
		return err
	}

	pid := os.Getpid()
	if err := os.WriteFile(pm.pidFile, []byte(fmt.Sprintf("%d\n", pid)), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", pm.pidFile, err)
	}

	pm.logger.Info("pid_file_created",
		"pid_file", pm.pidFile,
		"pid", pid)
	return nil
}

// RemovePID removes the PID file if present
func (pm *PIDManager) RemovePID() error {
	if pm.pidFile == "" {
		return nil
	}
	if err := os.Remove(pm.pidFile); err != nil && !os.IsNotExist(err) {
		pm.logger.Error("failed_to_remove_pid_file",
			"pid_file", pm.pidFile,
			"error", err)
		return fmt.Errorf("failed to remove PID file %s: %w", pm.pidFile, err)
	}
	pm.logger.Debug("pid_file_removed", "pid_file", pm.pidFile)
	return nil
}

func (pm *PIDManager) checkExistingProcess() error {
	existingPID, err := pm.ReadPID()
	if os.IsNotExist(errors.Unwrap(err)) {
		return nil
	}
	if err != nil {
		pm.logger.Warn("removing_unreadable_pid_file",
			"pid_file", pm.pidFile,
			"error", err)
		return os.Remove(pm.pidFile)
	}

	if isProcessRunning(existingPID) && existingPID != os.Getpid() {
		return fmt.Errorf("agentorch is already running with PID %d (PID file: %s)", existingPID, pm.pidFile)
	}

	pm.logger.Warn("removing_stale_pid_file",
		"pid_file", pm.pidFile,
		"stale_pid", existingPID)
	return os.Remove(pm.pidFile)
}

// ReadPID reads the PID from the PID file
func (pm *PIDManager) ReadPID() (int, error) {
	if pm.pidFile == "" {
		return 0, errors.New("no PID file configured")
	}

	content, err := os.ReadFile(pm.pidFile)
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(content))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in file %s: %q", pm.pidFile, pidStr)
	}
	return pid, nil
}

// IsRunning reports whether the recorded process is alive
func (pm *PIDManager) IsRunning() (bool, int, error) {
	pid, err := pm.ReadPID()
	if os.IsNotExist(errors.Unwrap(err)) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	return isProcessRunning(pid), pid, nil
}

// Stop sends SIGTERM to the recorded process and waits for it to exit,
// escalating to SIGKILL after the grace period or immediately when force
// is set.
func (pm *PIDManager) Stop(force bool) error {
	running, pid, err := pm.IsRunning()
	if err != nil {
		return err
	}
	if !running {
		pm.RemovePID()
		return ErrNotRunning
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	pm.logger.Info("stopping_process", "pid", pid, "signal", sig.String())
	if err := process.Signal(sig); err != nil {
		return fmt.Errorf("failed to send signal to process %d: %w", pid, err)
	}

	deadline := time.Now().Add(pm.grace)
	for isProcessRunning(pid) {
		if time.Now().After(deadline) {
			pm.logger.Warn("process_still_running_after_sigterm_forcing_kill", "pid", pid)
			if err := process.Signal(syscall.SIGKILL); err != nil {
				return fmt.Errorf("failed to force kill process %d: %w", pid, err)
			}
			break
		}
		time.Sleep(pm.poll)
	}

	return pm.RemovePID()
}

// isProcessRunning probes pid with signal 0
func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
