// Package lockfile keeps two TripPipe processes from polling the same bot
// out of one state directory.
//
// The lock is an flock on a file in the state directory, so the kernel drops
// it when the process exits, even on a crash.
package lockfile

import (
	"bufio"
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
const LockFileName = "trippipe.lock"

// Info describes the process holding a lock. It is written to the lock file
// as key=value lines.
type Info struct {
	PID       int
	Transport string
	Started   time.Time
}

func (i Info) encode() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", i.PID)
	if i.Transport != "" {
		fmt.Fprintf(&b, "transport=%s\n", i.Transport)
	}
	if !i.Started.IsZero() {
		fmt.Fprintf(&b, "started=%s\n", i.Started.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// parseInfo reads the key=value lines written by encode. Unknown keys and
// malformed values are ignored.
func parseInfo(content string) Info {
	var info Info
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				info.PID = pid
			}
		case "transport":
			info.Transport = value
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				info.Started = t
			}
		}
	}
	return info
}

// describe renders the holder for the conflict message.
func (i Info) describe() string {
	if i.PID == 0 {
		return ""
	}
	state := "not running - stale lock"
	if isProcessRunning(i.PID) {
		state = "running"
	}
	s := fmt.Sprintf("PID %d (%s)", i.PID, state)
	if i.Transport != "" {
		s += ", transport " + i.Transport
	}
	if !i.Started.IsZero() {
		s += ", started " + i.Started.Format(time.RFC3339)
	}
	return s
}

// Lock represents an active directory lock
type Lock struct {
	file *os.File
	path string
	info Info
}

// AcquireLock takes an exclusive lock on stateDir, creating the directory if
// needed. transport is recorded for the error shown to a second instance.
func AcquireLock(stateDir, transport string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// No O_TRUNC: a failed attempt must leave the holder's info intact.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := Info{}
		if data, rerr := os.ReadFile(lockPath); rerr == nil {
			holder = parseInfo(string(data))
		}
		slog.Error("lockfile.AcquireLock: another instance holds the state directory", "lock_path", lockPath, "holder_pid", holder.PID)
		return nil, &LockError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	info := Info{PID: os.Getpid(), Transport: transport, Started: time.Now()}
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("lockfile.AcquireLock: acquired", "lock_path", lockPath, "pid", info.PID, "transport", transport)
	return &Lock{file: file, path: lockPath, info: info}, nil
}

func writeInfo(file *os.File, info Info) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(info.encode()), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("lockfile.writeInfo: sync failed", "error", err)
	}
	return nil
}

// Info returns what this process wrote to the lock file.
func (l *Lock) Info() Info {
	return l.info
}

// Release unlocks and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("lockfile.Release: failed to unlock", "error", err, "lock_path", l.path)
	}
	err := l.file.Close()
	l.file = nil
	if rerr := os.Remove(l.path); rerr != nil && !os.IsNotExist(rerr) {
		slog.Warn("lockfile.Release: failed to remove lock file", "error", rerr, "lock_path", l.path)
	}
	slog.Info("lockfile.Release: released", "lock_path", l.path)
	return err
}

// LockError is returned when another process holds the lock.
type LockError struct {
	LockPath string
	Holder   Info
	Cause    error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("Another TripPipe instance is already running using the same state directory.\n\nLock file: %s", e.LockPath)
	if d := e.Holder.describe(); d != "" {
		msg += "\nExisting process: " + d
	}
	msg += "\n\nIf no other TripPipe instance is running, the lock file is stale and can be removed with:\n" +
		"  rm " + e.LockPath +
		"\n\nTwo instances polling the same bot token will receive each other's updates."
	return msg
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// isProcessRunning sends signal 0, which checks for existence without delivering anything.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
