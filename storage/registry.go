package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"mediadrop/internal"
)

var (
	// ErrAlreadyLocked is returned when a name is already reserved
	ErrAlreadyLocked = errors.New("name is already reserved")
	// ErrInvalidName is returned for names that cannot live in the storage directory
	ErrInvalidName = errors.New("invalid reservation name")
	// ErrNotReserved is returned when a claim finds no matching, unclaimed reservation
	ErrNotReserved = errors.New("name is not reserved or was already claimed")
)

type reservation struct {
	token    string
	acquired time.Time
	serving  bool
	restored bool
}

// Registry is the authoritative set of reserved file names. A reserved name
// is never removed by the janitor. The mutex only guards map access and the
// optional marker write; callers never hold it across network I/O.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*reservation
	markers *MarkerStore
	now     func() time.Time
}

var _ internal.LockRegistry = (*Registry)(nil)

// NewRegistry creates an empty registry. markers may be nil, in which case
// reservations live in memory only.
func NewRegistry(markers *MarkerStore) *Registry {
	return &Registry{
		entries: make(map[string]*reservation),
		markers: markers,
		now:     time.Now,
	}
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}

// Acquire reserves name for the holder of token
func (r *Registry) Acquire(name, token string) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.entries[name]; held {
		return fmt.Errorf("%w: %s", ErrAlreadyLocked, name)
	}

	if r.markers != nil {
		if err := r.markers.Write(name); err != nil {
			return err
		}
	}

	r.entries[name] = &reservation{token: token, acquired: r.now()}
	return nil
}

// Release drops the reservation for name. Releasing an unknown name is a no-op.
func (r *Registry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.entries[name]; !held {
		return
	}
	delete(r.entries, name)

	if r.markers != nil {
		if err := r.markers.Remove(name); err != nil {
			internal.LogWarn("Failed to remove lock marker for %s: %v", name, err)
		}
	}
}

// IsLocked reports whether name is currently reserved
func (r *Registry) IsLocked(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, held := r.entries[name]
	return held
}

// Claim moves a reservation into the serving state. Only one caller can
// claim a reservation, and the token must match unless the reservation was
// restored from a marker.
func (r *Registry) Claim(name, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, held := r.entries[name]
	if !held || entry.serving {
		return ErrNotReserved
	}
	if !entry.restored && (token == "" || token != entry.token) {
		return ErrNotReserved
	}

	entry.serving = true
	return nil
}

// UnlessLocked runs fn under the registry lock when none of names is
// reserved. It implements LockGuard.
func (r *Registry) UnlessLocked(fn func() error, names ...string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range names {
		if _, held := r.entries[name]; held {
			return false, nil
		}
	}
	return true, fn()
}

// Expire releases reservations that were never claimed and are older than
// ttl. It returns the expired names, sorted.
func (r *Registry) Expire(now time.Time, ttl time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []string
	for name, entry := range r.entries {
		if entry.serving || now.Sub(entry.acquired) <= ttl {
			continue
		}
		delete(r.entries, name)
		if r.markers != nil {
			if err := r.markers.Remove(name); err != nil {
				internal.LogWarn("Failed to remove lock marker for %s: %v", name, err)
			}
		}
		expired = append(expired, name)
	}

	sort.Strings(expired)
	return expired
}

// Restore loads reservations from the marker store. Restored reservations
// carry no token and their age starts at the time of the restore.
func (r *Registry) Restore() (int, error) {
	if r.markers == nil {
		return 0, nil
	}

	names, err := r.markers.List()
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	restored := 0
	for _, name := range names {
		if _, held := r.entries[name]; held || !validName(name) {
			continue
		}
		r.entries[name] = &reservation{acquired: r.now(), restored: true}
		restored++
	}
	return restored, nil
}

// Names returns the reserved names, sorted
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of reservations
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
