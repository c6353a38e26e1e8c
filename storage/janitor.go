package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mediadrop/internal"
)

// State is the janitor's scan state
type State int32

const (
	StateIdle State = iota
	StateScanning
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	default:
		return "unknown"
	}
}

// LockGuard is what the janitor consults before deleting a file.
// UnlessLocked runs fn only if none of names is reserved, and no name can
// become reserved while fn runs.
type LockGuard interface {
	IsLocked(name string) bool
	UnlessLocked(fn func() error, names ...string) (bool, error)
}

// Expirer releases reservations that were never claimed
type Expirer interface {
	Expire(now time.Time, ttl time.Duration) []string
}

// UnlessLocked implements LockGuard on top of markers alone. Another process
// may still write a marker between the check and fn.
func (m *MarkerStore) UnlessLocked(fn func() error, names ...string) (bool, error) {
	for _, name := range names {
		if m.IsLocked(name) {
			return false, nil
		}
	}
	return true, fn()
}

// Janitor periodically deletes unreserved files from the storage directory.
// A file is eligible when it is not a marker, neither its name nor its
// staging stem is reserved, and it was last modified before the previous
// sweep started.
type Janitor struct {
	dir      string
	locks    LockGuard
	interval time.Duration

	expirer Expirer
	ttl     time.Duration

	state  atomic.Int32
	sweepM sync.Mutex // one sweep at a time

	mu       sync.RWMutex
	boundary time.Time
	last     *internal.SweepReport

	now func() time.Time
}

// NewJanitor creates a janitor for dir. The first sweep treats the creation
// time as its boundary.
func NewJanitor(dir string, locks LockGuard, interval time.Duration) *Janitor {
	j := &Janitor{
		dir:      dir,
		locks:    locks,
		interval: interval,
		now:      time.Now,
	}
	j.boundary = j.now()
	return j
}

// WithExpiry makes each sweep first release reservations older than ttl
// that were never claimed
func (j *Janitor) WithExpiry(expirer Expirer, ttl time.Duration) *Janitor {
	j.expirer = expirer
	j.ttl = ttl
	return j
}

// SetBoundary overrides the age boundary used by the next sweep
func (j *Janitor) SetBoundary(t time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.boundary = t
}

// State returns the current scan state
func (j *Janitor) State() State {
	return State(j.state.Load())
}

// LastReport returns the report of the most recent sweep, if any
func (j *Janitor) LastReport() (internal.SweepReport, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.last == nil {
		return internal.SweepReport{}, false
	}
	return *j.last, true
}

// Run sweeps on every tick until ctx is cancelled
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	internal.LogInfo("Janitor started: dir=%s interval=%s", j.dir, j.interval)

	for {
		select {
		case <-ctx.Done():
			internal.LogInfo("Janitor stopped")
			return nil
		case <-ticker.C:
			report := j.Sweep()
			internal.LogInfo("Sweep finished: deleted=%d skipped=%d failed=%d expired=%d in %s",
				len(report.Deleted), report.Skipped, report.Failed, len(report.Expired), report.Duration)
		}
	}
}

// Sweep performs a single pass over the storage directory. Failures are
// logged and counted, never returned.
func (j *Janitor) Sweep() internal.SweepReport {
	j.sweepM.Lock()
	defer j.sweepM.Unlock()

	j.state.Store(int32(StateScanning))
	defer j.state.Store(int32(StateIdle))

	start := j.now()
	report := internal.SweepReport{StartedAt: start}

	if j.expirer != nil && j.ttl > 0 {
		report.Expired = j.expirer.Expire(start, j.ttl)
		for _, name := range report.Expired {
			internal.LogInfo("Reservation expired unclaimed: %s", name)
		}
	}

	j.mu.RLock()
	boundary := j.boundary
	j.mu.RUnlock()

	entries, err := os.ReadDir(j.dir)
	if err != nil {
		internal.LogMediaError(internal.NewFilesystemError("list storage directory", j.dir, err))
		report.Failed++
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || IsMarker(name) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				internal.LogWarn("Cannot stat %s: %v", name, err)
				report.Failed++
			}
			continue
		}

		if !info.Mode().IsRegular() || !info.ModTime().Before(boundary) {
			report.Skipped++
			continue
		}

		path := filepath.Join(j.dir, name)
		removed, err := j.locks.UnlessLocked(func() error {
			return os.Remove(path)
		}, guardNames(name)...)

		switch {
		case !removed:
			internal.LogDebug("Skipping reserved file: %s", name)
			report.Skipped++
		case errors.Is(err, fs.ErrNotExist):
			// already gone
		case err != nil:
			internal.LogMediaError(internal.NewFilesystemError("remove", path, err))
			report.Failed++
		default:
			internal.LogDebug("Deleted %s", name)
			report.Deleted = append(report.Deleted, name)
		}
	}

	report.Duration = j.now().Sub(start)

	j.mu.Lock()
	j.boundary = start
	j.last = &report
	j.mu.Unlock()

	return report
}

// guardNames returns the reservation names that protect a directory entry:
// the entry itself and, for staging files like <stem>.mp4.part, the stem.
func guardNames(name string) []string {
	names := []string{name}
	if stem, _, found := strings.Cut(name, "."); found && stem != "" {
		names = append(names, stem)
	}
	return names
}
