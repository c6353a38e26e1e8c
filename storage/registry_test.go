package storage

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestRegistry_AcquireRelease(t *testing.T) {
	r := NewRegistry(nil)

	if err := r.Acquire("clip.mp4", "t1"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := r.Acquire("other.mp4", "t2"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if err := r.Acquire("clip.mp4", "t3"); !errors.Is(err, ErrAlreadyLocked) {
		t.Errorf("second Acquire() error = %v, want ErrAlreadyLocked", err)
	}

	if !r.IsLocked("clip.mp4") {
		t.Error("clip.mp4 should be locked")
	}

	r.Release("clip.mp4")
	r.Release("clip.mp4")
	r.Release("never-acquired.mp4")

	if r.IsLocked("clip.mp4") {
		t.Error("clip.mp4 should be released")
	}
	if !r.IsLocked("other.mp4") {
		t.Error("releasing one name must not affect another")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	if err := r.Acquire("clip.mp4", "t4"); err != nil {
		t.Errorf("Acquire() after release error = %v", err)
	}
}

func TestRegistry_InvalidNames(t *testing.T) {
	r := NewRegistry(nil)

	for _, name := range []string{"", ".", "..", "a/b.mp4", `a\b.mp4`, "nul\x00.mp4"} {
		t.Run(name, func(t *testing.T) {
			if err := r.Acquire(name, "tok"); !errors.Is(err, ErrInvalidName) {
				t.Errorf("Acquire(%q) error = %v, want ErrInvalidName", name, err)
			}
		})
	}

	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistry_Claim(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Acquire("clip.mp4", "secret"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		file    string
		token   string
		wantErr bool
	}{
		{"unknown_name", "missing.mp4", "secret", true},
		{"wrong_token", "clip.mp4", "guess", true},
		{"empty_token", "clip.mp4", "", true},
		{"valid", "clip.mp4", "secret", false},
		{"second_claim", "clip.mp4", "secret", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Claim(tt.file, tt.token)
			if (err != nil) != tt.wantErr {
				t.Errorf("Claim() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrNotReserved) {
				t.Errorf("Claim() error = %v, want ErrNotReserved", err)
			}
		})
	}

	if !r.IsLocked("clip.mp4") {
		t.Error("a claimed name stays locked until released")
	}
}

func TestRegistry_ConcurrentClaimSingleWinner(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Acquire("clip.mp4", "tok"); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Claim("clip.mp4", "tok") == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
}

func TestRegistry_ConcurrentAcquireSameName(t *testing.T) {
	r := NewRegistry(nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Acquire("same.mp4", "tok") == nil {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if acquired != 1 {
		t.Errorf("acquired = %d, want exactly 1", acquired)
	}
}

func TestRegistry_Expire(t *testing.T) {
	r := NewRegistry(nil)
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	for _, name := range []string{"old.mp4", "served.mp4"} {
		if err := r.Acquire(name, "tok"); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Claim("served.mp4", "tok"); err != nil {
		t.Fatal(err)
	}

	r.now = func() time.Time { return base.Add(50 * time.Minute) }
	if err := r.Acquire("fresh.mp4", "tok"); err != nil {
		t.Fatal(err)
	}

	expired := r.Expire(base.Add(90*time.Minute), time.Hour)

	if len(expired) != 1 || expired[0] != "old.mp4" {
		t.Errorf("Expire() = %v, want [old.mp4]", expired)
	}
	if r.IsLocked("old.mp4") {
		t.Error("old.mp4 should have expired")
	}
	if !r.IsLocked("served.mp4") {
		t.Error("claimed reservations never expire")
	}
	if !r.IsLocked("fresh.mp4") {
		t.Error("fresh.mp4 is younger than the ttl")
	}
}

func TestRegistry_ExpireRemovesMarkers(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(NewMarkerStore(dir))
	base := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	for _, name := range []string{"abandoned.mp4", "served.mp4"} {
		if err := r.Acquire(name, "tok"); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.Claim("served.mp4", "tok"); err != nil {
		t.Fatal(err)
	}

	r.Expire(base.Add(2*time.Hour), time.Hour)

	if _, err := os.Stat(filepath.Join(dir, "abandoned.mp4.lock")); !os.IsNotExist(err) {
		t.Errorf("marker of an expired reservation should be removed, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "served.mp4.lock")); err != nil {
		t.Errorf("marker of a claimed reservation should stay: %v", err)
	}
}

func TestRegistry_UnlessLocked(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Acquire("held.mp4", ""); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		names   []string
		wantRan bool
	}{
		{"free", []string{"free.mp4"}, true},
		{"held", []string{"held.mp4"}, false},
		{"any_held", []string{"free.mp4", "held.mp4"}, false},
		{"no_names", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ran := false
			ok, err := r.UnlessLocked(func() error { ran = true; return nil }, tt.names...)
			if err != nil {
				t.Fatalf("UnlessLocked() error = %v", err)
			}
			if ok != tt.wantRan || ran != tt.wantRan {
				t.Errorf("UnlessLocked() = %v, ran = %v, want %v", ok, ran, tt.wantRan)
			}
		})
	}

	wantErr := errors.New("remove failed")
	if _, err := r.UnlessLocked(func() error { return wantErr }, "free.mp4"); !errors.Is(err, wantErr) {
		t.Errorf("UnlessLocked() error = %v, want fn's error", err)
	}
}

func TestRegistry_UnlessLockedBlocksAcquire(t *testing.T) {
	r := NewRegistry(nil)
	entered := make(chan struct{})
	proceed := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		r.UnlessLocked(func() error {
			close(entered)
			<-proceed
			return nil
		}, "clip.mp4")
	}()
	<-entered

	go func() { done <- r.Acquire("clip.mp4", "") }()

	select {
	case <-done:
		t.Fatal("Acquire() returned while fn was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(proceed)
	if err := <-done; err != nil {
		t.Errorf("Acquire() after fn error = %v", err)
	}
}

func TestRegistry_Names(t *testing.T) {
	r := NewRegistry(nil)
	for _, name := range []string{"b.mp4", "a.mp4", "c.webm"} {
		if err := r.Acquire(name, ""); err != nil {
			t.Fatal(err)
		}
	}

	names := r.Names()
	want := []string{"a.mp4", "b.mp4", "c.webm"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestRegistry_Markers(t *testing.T) {
	dir := t.TempDir()
	markers := NewMarkerStore(dir)
	r := NewRegistry(markers)

	if err := r.Acquire("clip.mp4", "tok"); err != nil {
		t.Fatal(err)
	}

	markerPath := filepath.Join(dir, "clip.mp4.lock")
	info, err := os.Stat(markerPath)
	if err != nil {
		t.Fatalf("marker not written: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("marker size = %d, want 0", info.Size())
	}

	r.Release("clip.mp4")
	if _, err := os.Stat(markerPath); !os.IsNotExist(err) {
		t.Errorf("marker should be removed on release, stat err = %v", err)
	}
}

func TestRegistry_Restore(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.mp4.lock", "b.webm.lock", "c.mp4", ".lock"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	r := NewRegistry(NewMarkerStore(dir))
	n, err := r.Restore()
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Restore() = %d, want 2", n)
	}
	if !r.IsLocked("a.mp4") || !r.IsLocked("b.webm") {
		t.Errorf("restored names missing: %v", r.Names())
	}
	if r.IsLocked("c.mp4") {
		t.Error("plain files are not reservations")
	}

	// restored reservations accept any token, once
	if err := r.Claim("a.mp4", ""); err != nil {
		t.Errorf("Claim() on restored reservation error = %v", err)
	}
	if err := r.Claim("a.mp4", ""); !errors.Is(err, ErrNotReserved) {
		t.Errorf("second Claim() error = %v, want ErrNotReserved", err)
	}
}

func TestRegistry_RestoreWithoutMarkers(t *testing.T) {
	n, err := NewRegistry(nil).Restore()
	if err != nil || n != 0 {
		t.Errorf("Restore() = %d, %v; want 0, nil", n, err)
	}
}
