package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// watchLock is the PID file a running watch holds under flock. Its presence
// lets `listsync reload` find the watch; the lock keeps a second watch from
// starting against the same state directory.
type watchLock struct {
	path string
	f    *os.File
}

var errWatchRunning = errors.New("a listsync watch is already running")

// acquireWatchLock creates the PID file at path, locks it and records the
// current PID. The caller must Release it.
func acquireWatchLock(path string) (*watchLock, error) {
	if path == "" {
		return nil, errors.New("no PID file path configured")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("%w (%s is locked)", errWatchRunning, path)
	}

	l := &watchLock{path: path, f: f}

	if err := l.writePID(os.Getpid()); err != nil {
		l.Release()

		return nil, err
	}

	return l, nil
}

func (l *watchLock) writePID(pid int) error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncating PID file: %w", err)
	}

	if _, err := l.f.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}

	return l.f.Sync()
}

// Release removes the PID file and drops the lock. Safe to call twice.
func (l *watchLock) Release() {
	if l == nil || l.f == nil {
		return
	}

	os.Remove(l.path)
	l.f.Close()
	l.f = nil
}

// watchPID returns the PID recorded at path.
func watchPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("PID file %s is corrupt: %q", path, strings.TrimSpace(string(data)))
	}

	return pid, nil
}

// signalWatch delivers sig to the watch recorded at path. A PID file left
// behind by a dead process is removed.
func signalWatch(path string, sig syscall.Signal) error {
	pid, err := watchPID(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no watch is running (no PID file at %s)", path)
	}

	if err != nil {
		return err
	}

	if err := syscall.Kill(pid, 0); err != nil {
		os.Remove(path)

		return fmt.Errorf("watch process %d is gone; removed stale PID file", pid)
	}

	if err := syscall.Kill(pid, sig); err != nil {
		return fmt.Errorf("signaling watch process %d: %w", pid, err)
	}

	return nil
}
