// Package lockfile keeps two DialPipe processes from sharing one state directory.
//
// The lock is an flock on a file in the state directory, so the kernel releases it when the process
// exits, however it exits. The file also records who holds it, which is what a second process reports.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "dialpipe.lock"

// Owner describes the process holding the lock.
type Owner struct {
	PID     int
	Mode    string // server, outbound or chat
	Addr    string // listen address in server mode
	Started time.Time
}

// String renders the owner as the lock file's single line.
func (o Owner) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d", o.PID)
	if o.Mode != "" {
		fmt.Fprintf(&b, " mode=%s", o.Mode)
	}
	if o.Addr != "" {
		fmt.Fprintf(&b, " addr=%s", o.Addr)
	}
	if !o.Started.IsZero() {
		fmt.Fprintf(&b, " started=%s", o.Started.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// parseOwner reads a line written by Owner.String. Unknown fields are ignored.
func parseOwner(line string) Owner {
	var o Owner
	for _, field := range strings.Fields(line) {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch k {
		case "pid":
			o.PID, _ = strconv.Atoi(v)
		case "mode":
			o.Mode = v
		case "addr":
			o.Addr = v
		case "started":
			o.Started, _ = time.Parse(time.RFC3339, v)
		}
	}
	return o
}

// Lock represents an active directory lock
type Lock struct {
	file     *os.File
	path     string
	acquired bool
}

// Acquire takes the exclusive lock on stateDir, creating the directory if needed. owner.PID defaults to
// the current process. When another process holds the lock a *LockError describes it.
func Acquire(stateDir string, owner Owner) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	if owner.PID == 0 {
		owner.PID = os.Getpid()
	}
	if owner.Started.IsZero() {
		owner.Started = time.Now()
	}
	slog.Debug("Lock.Acquire: attempting to acquire lock", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		slog.Error("Lock.Acquire: failed to create state directory", "error", err, "state_dir", stateDir)
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC would wipe the holder's line before we know whether the lock is free.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		slog.Error("Lock.Acquire: failed to open lock file", "error", err, "lock_path", lockPath)
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		existing := describeHolder(lockPath)
		slog.Error("Lock.Acquire: another DialPipe instance holds the lock",
			"error", err, "lock_path", lockPath, "holder", existing)
		return nil, &LockError{LockPath: lockPath, ExistingInfo: existing, Cause: err}
	}

	if err := writeOwner(file, owner); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		slog.Error("Lock.Acquire: failed to write lock information", "error", err, "lock_path", lockPath)
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}
	if err := file.Sync(); err != nil {
		slog.Warn("Lock.Acquire: failed to sync lock file", "error", err, "lock_path", lockPath)
	}

	slog.Info("Lock.Acquire: state directory locked", "lock_path", lockPath, "owner", owner.String())
	return &Lock{file: file, path: lockPath, acquired: true}, nil
}

func writeOwner(file *os.File, owner Owner) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	_, err := file.WriteAt([]byte(owner.String()+"\n"), 0)
	return err
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release releases the lock and removes the lock file.
// This method is safe to call multiple times.
func (l *Lock) Release() error {
	if !l.acquired || l.file == nil {
		return nil
	}
	// Remove while still holding the lock so a waiting process never sees our stale line.
	if err := os.Remove(l.path); err != nil {
		slog.Warn("Lock.Release: failed to remove lock file", "error", err, "lock_path", l.path)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Lock.Release: failed to release flock", "error", err, "lock_path", l.path)
	}
	err := l.file.Close()
	l.acquired = false
	l.file = nil
	slog.Info("Lock.Release: state directory unlocked", "lock_path", l.path)
	return err
}

// LockError represents an error when failing to acquire a lock due to another process
type LockError struct {
	LockPath     string
	ExistingInfo string
	Cause        error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("Another DialPipe instance is already using this state directory.\n\nLock file: %s", e.LockPath)
	if e.ExistingInfo != "" {
		msg += fmt.Sprintf("\nHeld by: %s", e.ExistingInfo)
	}
	msg += "\n\nStop the other instance, or pass a different --state-dir.\n" +
		"If no other instance is running the lock file is stale and can be removed with:\n" +
		fmt.Sprintf("  rm %s", e.LockPath)
	return msg
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// describeHolder summarizes the lock file's owner line for error messages.
func describeHolder(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "unable to read lock file information"
	}
	line := strings.TrimSpace(string(data))
	if line == "" {
		return "lock file exists but contains no process information"
	}
	o := parseOwner(line)
	if o.PID <= 0 {
		return "process information: " + line
	}
	state := "not running, stale lock"
	if isProcessRunning(o.PID) {
		state = "running"
	}
	desc := fmt.Sprintf("PID %d (%s)", o.PID, state)
	if o.Mode != "" {
		desc += " in " + o.Mode + " mode"
	}
	if o.Addr != "" {
		desc += " on " + o.Addr
	}
	return desc
}

// isProcessRunning checks if a process with the given PID is currently running
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 only checks that the process exists.
	return process.Signal(syscall.Signal(0)) == nil
}
