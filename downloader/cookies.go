package downloader

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"mediadrop/internal"
)

const httpOnlyPrefix = "#HttpOnly_"

// CookieStore keeps uploaded cookie bundles for the duration of one request.
// Bundles live outside the storage directory so they can never be served.
type CookieStore struct {
	dir      string
	maxBytes int64
}

// NewCookieStore creates a store that writes bundles into dir
func NewCookieStore(dir string, maxBytes int64) *CookieStore {
	return &CookieStore{dir: dir, maxBytes: maxBytes}
}

// Dir returns the directory bundles are written to
func (s *CookieStore) Dir() string {
	return s.dir
}

// Save validates an uploaded bundle and writes it to a private file. The
// returned credentials must be passed to Discard once the request is done.
func (s *CookieStore) Save(src io.Reader) (creds *internal.Credentials, err error) {
	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return nil, internal.NewFilesystemError("create credentials directory", s.dir, err)
	}

	path := filepath.Join(s.dir, "cookies-"+uuid.NewString()+".txt")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0600)
	if err != nil {
		return nil, internal.NewFilesystemError("create cookies file", path, err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = internal.NewFilesystemError("write cookies file", path, cerr)
		}
		if err != nil {
			os.Remove(path)
			creds = nil
		}
	}()

	written, err := io.Copy(file, io.LimitReader(src, s.maxBytes+1))
	if err != nil {
		return nil, internal.NewFilesystemError("write cookies file", path, err)
	}
	if written > s.maxBytes {
		return nil, internal.NewCredentialsError(fmt.Sprintf("file exceeds %d bytes", s.maxBytes))
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, internal.NewFilesystemError("read cookies file", path, err)
	}
	cookies, err := ParseNetscapeCookies(file)
	if err != nil {
		return nil, err
	}

	return &internal.Credentials{CookieFile: path, CookieCount: len(cookies)}, nil
}

// Discard removes a saved bundle. Discarding nil or an already removed
// bundle is a no-op.
func (s *CookieStore) Discard(creds *internal.Credentials) {
	if creds == nil || creds.CookieFile == "" {
		return
	}
	if err := os.Remove(creds.CookieFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		internal.LogWarn("Failed to remove cookies file %s: %v", creds.CookieFile, err)
	}
}

// ParseNetscapeCookies parses a Netscape-format cookie file as exported by
// browser extensions and curl. At least one cookie line is required.
func ParseNetscapeCookies(src io.Reader) ([]*http.Cookie, error) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var cookies []*http.Cookie
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}

		httpOnly := false
		if strings.HasPrefix(line, httpOnlyPrefix) {
			line = strings.TrimPrefix(line, httpOnlyPrefix)
			httpOnly = true
		} else if strings.HasPrefix(line, "#") {
			continue
		}

		cookie, err := parseNetscapeCookieLine(line)
		if err != nil {
			return nil, internal.NewCredentialsError(fmt.Sprintf("line %d: %v", lineNum, err))
		}
		cookie.HttpOnly = httpOnly
		cookies = append(cookies, cookie)
	}

	if err := scanner.Err(); err != nil {
		return nil, internal.NewCredentialsError(fmt.Sprintf("cannot read file: %v", err))
	}
	if len(cookies) == 0 {
		return nil, internal.NewCredentialsError("no cookies found")
	}

	return cookies, nil
}

// parseNetscapeCookieLine parses a single line from Netscape cookie format
// Format: domain	flag	path	secure	expiration	name	value
func parseNetscapeCookieLine(line string) (*http.Cookie, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != 7 {
		return nil, fmt.Errorf("expected 7 tab-separated fields, got %d", len(fields))
	}

	domain := fields[0]
	if domain == "" {
		return nil, fmt.Errorf("empty domain")
	}
	if fields[1] != "TRUE" && fields[1] != "FALSE" {
		return nil, fmt.Errorf("invalid subdomain flag %q", fields[1])
	}
	if fields[5] == "" {
		return nil, fmt.Errorf("empty cookie name")
	}

	var expires time.Time
	if fields[4] != "0" {
		timestamp, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid expiration timestamp: %w", err)
		}
		expires = time.Unix(timestamp, 0)
	}

	return &http.Cookie{
		Name:    fields[5],
		Value:   fields[6],
		Domain:  domain,
		Path:    fields[2],
		Expires: expires,
		Secure:  fields[3] == "TRUE",
	}, nil
}
