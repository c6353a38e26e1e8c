package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"mediadrop/internal"
)

// MarkerSuffix is appended to a reserved name to form its on-disk marker
const MarkerSuffix = ".lock"

// IsMarker reports whether a directory entry is a lock marker
func IsMarker(name string) bool {
	return strings.HasSuffix(name, MarkerSuffix)
}

// MarkerStore mirrors reservations as zero-byte <name>.lock files next to the
// outputs, so they survive a restart and are visible to other processes
// sweeping the same directory.
type MarkerStore struct {
	dir string
}

// NewMarkerStore creates a marker store rooted at dir
func NewMarkerStore(dir string) *MarkerStore {
	return &MarkerStore{dir: dir}
}

// Path returns the marker path for a reserved name
func (m *MarkerStore) Path(name string) string {
	return filepath.Join(m.dir, name+MarkerSuffix)
}

// Write creates the marker for name
func (m *MarkerStore) Write(name string) error {
	path := m.Path(name)
	if err := os.WriteFile(path, nil, 0644); err != nil {
		return internal.NewFilesystemError("write lock marker", path, err)
	}
	return nil
}

// Remove deletes the marker for name. A missing marker is not an error.
func (m *MarkerStore) Remove(name string) error {
	path := m.Path(name)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return internal.NewFilesystemError("remove lock marker", path, err)
	}
	return nil
}

// IsLocked reports whether a marker for name is present on disk right now
func (m *MarkerStore) IsLocked(name string) bool {
	_, err := os.Stat(m.Path(name))
	return err == nil
}

// List returns the reserved names that have a marker, sorted
func (m *MarkerStore) List() ([]string, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, internal.NewFilesystemError("list lock markers", m.dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !IsMarker(entry.Name()) {
			continue
		}
		if name := strings.TrimSuffix(entry.Name(), MarkerSuffix); name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
