package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxNameBytes leaves room for a " (n)" suffix and a .lock marker under
// the common 255 byte limit
const maxNameBytes = 200

// FileOperations provides file system utilities
type FileOperations struct{}

// NewFileOperations creates a new FileOperations instance
func NewFileOperations() *FileOperations {
	return &FileOperations{}
}

// EnsureDir creates directory if it doesn't exist
func (f *FileOperations) EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s exists and is not a directory", dir)
	}
	return nil
}

// FileExists checks if a file exists
func (f *FileOperations) FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

// GetFileSize returns the size of a file
func (f *FileOperations) GetFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// AtomicRename performs an atomic file rename operation
func (f *FileOperations) AtomicRename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

// RemoveIfExists deletes path. A file that is already gone is not an error.
func (f *FileOperations) RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

var reservedDeviceNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeFilename turns a media title plus extension into a name that is
// safe to create inside the storage directory: path separators, NUL and
// other control characters and characters reserved on common filesystems
// are stripped, whitespace is collapsed, and the result never starts with a
// dot or ends in ".lock".
func SanitizeFilename(title, ext string) string {
	base := cleanComponent(title)
	ext = strings.TrimLeft(cleanComponent(ext), ".")
	ext = strings.Map(func(r rune) rune {
		if r == ' ' || r == '.' {
			return -1
		}
		return r
	}, ext)

	if base == "" {
		base = "download"
	}
	if reservedDeviceNames[strings.ToUpper(base)] {
		base = "_" + base
	}

	if ext != "" {
		if strings.EqualFold(ext, "lock") {
			ext = "lock_"
		}
		ext = truncateUTF8(ext, 16)
		base = truncateUTF8(base, maxNameBytes-len(ext)-1)
		base = strings.TrimRight(base, " .")
		if base == "" {
			base = "download"
		}
		return base + "." + ext
	}

	base = strings.TrimRight(truncateUTF8(base, maxNameBytes), " .")
	if base == "" {
		base = "download"
	}
	if strings.HasSuffix(strings.ToLower(base), ".lock") {
		base += "_"
	}
	return base
}

func cleanComponent(s string) string {
	s = strings.ToValidUTF8(s, "")

	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		switch {
		case r == '/' || r == '\\' || strings.ContainsRune(`<>:"|?*`, r):
			continue
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
			}
			lastSpace = true
			continue
		case unicode.IsControl(r):
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}

	return strings.Trim(b.String(), " .")
}

func truncateUTF8(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	s = s[:max]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// NumberedName returns name with " (n)" inserted before its extension
func NumberedName(name string, n int) string {
	ext := filepath.Ext(name)
	return fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), n, ext)
}
