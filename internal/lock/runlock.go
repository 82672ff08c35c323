// Package lock keeps two dojobs runs from sharing one lock file, typically
// when the same job list is started from cron.
package lock

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("run lock held by another process")

// Owner describes the process recorded in a lock file.
type Owner struct {
	PID     int
	Started time.Time
}

func (o Owner) String() string {
	if o.Started.IsZero() {
		return fmt.Sprintf("pid %d", o.PID)
	}
	return fmt.Sprintf("pid %d since %s", o.PID, o.Started.Format(time.RFC3339))
}

// RunLock is held for as long as its file descriptor stays open. The kernel
// drops the flock if the process dies, so a stale file never blocks a run.
type RunLock struct {
	path string
	f    *os.File
}

// Acquire takes an exclusive, non-blocking flock on path and records the
// current process in it. It fails with ErrLocked when another run holds it.
func Acquire(path string) (*RunLock, error) {
	if path == "" {
		return nil, errors.New("lock path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if !errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if owner, ok := ReadOwner(path); ok {
			return nil, fmt.Errorf("%w (%s)", ErrLocked, owner)
		}
		return nil, ErrLocked
	}

	l := &RunLock{path: path, f: f}
	if err := l.record(Owner{PID: os.Getpid(), Started: time.Now().UTC()}); err != nil {
		_ = l.Release()
		return nil, err
	}
	return l, nil
}

func (l *RunLock) record(o Owner) error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := l.f.WriteAt([]byte(fmt.Sprintf("%d\n%s\n", o.PID, o.Started.Format(time.RFC3339))), 0); err != nil {
		return fmt.Errorf("write lock owner: %w", err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

// ReadOwner parses the owner recorded at path. The start time is optional.
func ReadOwner(path string) (Owner, bool) {
	f, err := os.Open(path)
	if err != nil {
		return Owner{}, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return Owner{}, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil || pid <= 0 {
		return Owner{}, false
	}
	o := Owner{PID: pid}
	if sc.Scan() {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(sc.Text())); err == nil {
			o.Started = t
		}
	}
	return o, true
}

func (l *RunLock) Path() string { return l.path }

// Release unlocks and closes the file. The file itself is left in place.
func (l *RunLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
