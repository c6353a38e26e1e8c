package downloader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mediadrop/internal"
)

const validCookies = `# Netscape HTTP Cookie File
# This is a generated file! Do not edit.

.youtube.com	TRUE	/	TRUE	1767225600	SID	abc123
.youtube.com	TRUE	/	FALSE	0	PREF	f6=40000000
#HttpOnly_.youtube.com	TRUE	/	TRUE	1767225600	HSID	xyz
`

func TestParseNetscapeCookies(t *testing.T) {
	cookies, err := ParseNetscapeCookies(strings.NewReader(validCookies))
	if err != nil {
		t.Fatalf("ParseNetscapeCookies() error = %v", err)
	}
	if len(cookies) != 3 {
		t.Fatalf("got %d cookies, want 3", len(cookies))
	}

	sid := cookies[0]
	if sid.Name != "SID" || sid.Value != "abc123" || sid.Domain != ".youtube.com" {
		t.Errorf("unexpected SID cookie: %+v", sid)
	}
	if !sid.Secure {
		t.Error("SID should be secure")
	}
	if !sid.Expires.Equal(time.Unix(1767225600, 0)) {
		t.Errorf("SID expires = %v", sid.Expires)
	}

	if !cookies[1].Expires.IsZero() {
		t.Error("expiration 0 means a session cookie")
	}
	if !cookies[2].HttpOnly || cookies[2].Name != "HSID" {
		t.Errorf("#HttpOnly_ line not parsed: %+v", cookies[2])
	}
}

func TestParseNetscapeCookies_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		reason  string
	}{
		{"empty", "", "no cookies found"},
		{"comments_only", "# Netscape HTTP Cookie File\n# nothing\n", "no cookies found"},
		{"json_export", `[{"name":"SID","value":"x"}]`, "line 1"},
		{"too_few_fields", ".example.com\tTRUE\t/\tTRUE\t0\tSID\n", "expected 7"},
		{"bad_flag", ".example.com\tyes\t/\tTRUE\t0\tSID\tv\n", "subdomain flag"},
		{"bad_expiry", ".example.com\tTRUE\t/\tTRUE\tsoon\tSID\tv\n", "expiration"},
		{"empty_name", ".example.com\tTRUE\t/\tTRUE\t0\t\tv\n", "empty cookie name"},
		{"empty_domain", "\tTRUE\t/\tTRUE\t0\tSID\tv\n", "empty domain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseNetscapeCookies(strings.NewReader(tt.content))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !internal.IsType(err, internal.ErrCredentials) {
				t.Errorf("error type = %v, want credentials error", err)
			}
			if !strings.Contains(err.Error(), tt.reason) {
				t.Errorf("error %q should mention %q", err.Error(), tt.reason)
			}
		})
	}
}

func TestCookieStore_SaveAndDiscard(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "credentials")
	store := NewCookieStore(dir, 1<<20)

	creds, err := store.Save(strings.NewReader(validCookies))
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if creds.CookieCount != 3 {
		t.Errorf("CookieCount = %d, want 3", creds.CookieCount)
	}
	if filepath.Dir(creds.CookieFile) != dir {
		t.Errorf("bundle written to %s, want under %s", creds.CookieFile, dir)
	}

	data, err := os.ReadFile(creds.CookieFile)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != validCookies {
		t.Error("bundle must be stored unmodified")
	}

	info, err := os.Stat(creds.CookieFile)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm&0077 != 0 {
		t.Errorf("bundle permissions = %o, want owner-only", perm)
	}

	store.Discard(creds)
	store.Discard(creds)
	store.Discard(nil)

	if _, err := os.Stat(creds.CookieFile); !os.IsNotExist(err) {
		t.Errorf("bundle should be removed, stat err = %v", err)
	}
}

func TestCookieStore_RejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	store := NewCookieStore(dir, 1<<20)

	creds, err := store.Save(strings.NewReader("not a cookie file"))
	if err == nil {
		t.Fatal("expected an error")
	}
	if creds != nil {
		t.Error("no credentials should be returned on error")
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("rejected bundle left %d files behind", len(entries))
	}
}

func TestCookieStore_SizeLimit(t *testing.T) {
	dir := t.TempDir()
	store := NewCookieStore(dir, 64)

	_, err := store.Save(strings.NewReader(validCookies))
	if !internal.IsType(err, internal.ErrCredentials) {
		t.Fatalf("Save() error = %v, want credentials error", err)
	}
	if !strings.Contains(err.Error(), "exceeds 64 bytes") {
		t.Errorf("error %q should mention the limit", err.Error())
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("oversized bundle left %d files behind", len(entries))
	}
}
