package syncdata

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// DefaultLockStaleness is how long a lock marker excludes other runs before
// it is considered abandoned.
const DefaultLockStaleness = 1 * time.Hour

// FileLock is a filesystem mutual-exclusion lock based on the modification
// time of a marker file. A marker younger than the staleness window means a
// run is in progress; an older one is treated as abandoned and taken over.
type FileLock struct {
	dir       string
	name      string
	staleness time.Duration
}

// NewFileLock creates a lock using the marker file dir/name.
func NewFileLock(dir, name string, staleness time.Duration) *FileLock {
	if name == "" {
		name = ".lock"
	}
	if staleness <= 0 {
		staleness = DefaultLockStaleness
	}
	return &FileLock{
		dir:       dir,
		name:      name,
		staleness: staleness,
	}
}

func (l *FileLock) path() string {
	return filepath.Join(l.dir, l.name)
}

// Lock tries to acquire the lock. It returns false when another run holds an
// active marker, with the time remaining until that marker goes stale.
func (l *FileLock) Lock() (bool, time.Duration, error) {
	elapsed, held, err := l.age()
	if err != nil {
		return false, 0, err
	}
	if held && elapsed < l.staleness {
		return false, l.staleness - elapsed, nil
	}
	if err := l.Touch(); err != nil {
		return false, 0, err
	}
	return true, 0, nil
}

// Check reports whether an active marker currently excludes a run, and how
// long until it would go stale.
func (l *FileLock) Check() (bool, time.Duration, error) {
	elapsed, held, err := l.age()
	if err != nil {
		return false, 0, err
	}
	if !held || elapsed >= l.staleness {
		return false, 0, nil
	}
	return true, l.staleness - elapsed, nil
}

// Touch refreshes the marker's modification time, extending the exclusion
// window of a long run. It creates the marker when missing.
func (l *FileLock) Touch() error {
	path := l.path()
	now := time.Now()
	if err := os.Chtimes(path, now, now); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error touching lock marker '%s': %w", path, err)
	}
	if err := os.MkdirAll(l.dir, 0o777); err != nil {
		return fmt.Errorf("error creating lock directory '%s': %w", l.dir, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating lock marker '%s': %w", path, err)
	}
	return f.Close()
}

// Unlock releases the lock by removing the marker. Releasing an already
// released lock is not an error.
func (l *FileLock) Unlock() error {
	err := os.Remove(l.path())
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error removing lock marker '%s': %w", l.path(), err)
	}
	return nil
}

// age returns how long ago the marker was last touched, and whether a marker
// exists at all.
func (l *FileLock) age() (time.Duration, bool, error) {
	info, err := os.Stat(l.path())
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("error checking lock marker '%s': %w", l.path(), err)
	}
	return time.Since(info.ModTime()), true, nil
}
