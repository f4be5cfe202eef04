// Package lockfile guards a SQLite database file against a second CartPipe
// process. Conversation turns are serialised by an in-process lock, so two
// processes sharing one database could interleave turns of the same
// conversation.
//
// The lock is an flock on a sidecar file and is released by the kernel when
// the process exits, even on a crash.
package lockfile

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Suffix is appended to the database path to name the lock file.
const Suffix = ".lock"

// Lock is a held database lock.
type Lock struct {
	file *os.File
	path string
}

// Owner describes the process recorded in a lock file.
type Owner struct {
	PID     int
	DBPath  string
	Running bool
}

func (o Owner) String() string {
	if o.PID == 0 {
		return "unknown process"
	}
	state := "not running, stale lock"
	if o.Running {
		state = "running"
	}
	return fmt.Sprintf("PID %d (%s) using %s", o.PID, state, o.DBPath)
}

// PathFor returns the lock file path for a database file or SQLite DSN.
func PathFor(dbPath string) string {
	return cleanDBPath(dbPath) + Suffix
}

func cleanDBPath(dsn string) string {
	dsn = strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(dsn, '?'); i >= 0 {
		dsn = dsn[:i]
	}
	return dsn
}

// Acquire takes an exclusive lock for dbPath. It fails with *LockError when
// another process holds it.
func Acquire(dbPath string) (*Lock, error) {
	dbPath = cleanDBPath(dbPath)
	lockPath := dbPath + Suffix

	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", lockPath, err)
	}
	// No O_TRUNC: a failed attempt must not erase the holder's pid.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		owner := ReadOwner(lockPath)
		slog.Error("lockfile.Acquire failed: database in use", "lock_path", lockPath, "owner", owner.String())
		return nil, &LockError{LockPath: lockPath, Owner: owner, Cause: err}
	}

	if err := writeOwner(file, dbPath); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock file %s: %w", lockPath, err)
	}
	if err := file.Sync(); err != nil {
		slog.Warn("lockfile.Acquire: failed to sync lock file", "error", err, "lock_path", lockPath)
	}

	slog.Info("Acquired database lock", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath}, nil
}

func writeOwner(file *os.File, dbPath string) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(file, "pid=%d\ndb=%s\n", os.Getpid(), dbPath)
	return err
}

// Release clears the owner record and unlocks. The file itself stays: unlinking
// a locked file lets two processes lock different inodes. Calling Release
// again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var firstErr error
	if err := l.file.Truncate(0); err != nil {
		firstErr = err
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := l.file.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	l.file = nil
	if firstErr != nil {
		slog.Error("Lock.Release failed", "error", firstErr, "lock_path", l.path)
		return firstErr
	}
	slog.Info("Released database lock", "lock_path", l.path)
	return nil
}

// LockError reports a database already locked by another process.
type LockError struct {
	LockPath string
	Owner    Owner
	Cause    error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("database is locked by another CartPipe process: %s (lock file %s; remove it only if that process is gone)", e.Owner, e.LockPath)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// ReadOwner parses the lock file at lockPath. Missing or unreadable files
// yield a zero Owner.
func ReadOwner(lockPath string) Owner {
	f, err := os.Open(lockPath)
	if err != nil {
		return Owner{}
	}
	defer f.Close()
	return parseOwner(f)
}

func parseOwner(r io.Reader) Owner {
	var o Owner
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(val); err == nil && pid > 0 {
				o.PID = pid
			}
		case "db":
			o.DBPath = val
		}
	}
	if o.PID > 0 {
		o.Running = isProcessRunning(o.PID)
	}
	return o
}

// isProcessRunning sends signal 0, which checks for existence only.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
