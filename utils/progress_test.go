package utils

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"time"
)

func TestProgressTracker_BasicFunctionality(t *testing.T) {
	quietTracker := NewProgressTracker(1000, true)
	if !quietTracker.IsQuiet() {
		t.Error("Expected quiet tracker to be in quiet mode")
	}

	quietTracker.Update(500)

	_, _, percentage := quietTracker.GetCurrentStats()
	if percentage != 50.0 {
		t.Errorf("Expected 50%% progress, got %.1f%%", percentage)
	}

	summary := quietTracker.Finish()
	if summary == nil {
		t.Fatal("Expected summary to be returned")
	}
	if summary.TotalBytes != 500 {
		t.Errorf("Expected 500 bytes, got %d", summary.TotalBytes)
	}
}

func TestProgressTracker_StatisticsCalculation(t *testing.T) {
	tracker := NewProgressTracker(1000, true)

	tracker.Update(100)
	time.Sleep(110 * time.Millisecond)
	tracker.Update(300)
	time.Sleep(110 * time.Millisecond)
	tracker.Update(600)

	speed, eta, percentage := tracker.GetCurrentStats()

	if percentage != 60.0 {
		t.Errorf("Expected 60%% progress, got %.1f%%", percentage)
	}
	if speed <= 0 {
		t.Errorf("speed should be sampled after 100ms, got %f", speed)
	}
	if eta <= 0 {
		t.Errorf("ETA should be positive for an incomplete download, got %v", eta)
	}

	tracker.Update(1000)
	summary := tracker.Finish()

	if summary.TotalBytes != 1000 {
		t.Errorf("Expected 1000 bytes, got %d", summary.TotalBytes)
	}
	if summary.TotalTime <= 0 {
		t.Error("Total time should be positive")
	}
	if summary.PeakSpeed <= 0 {
		t.Error("Peak speed should be recorded")
	}
}

func TestProgressTracker_AsWriter(t *testing.T) {
	tracker := NewProgressTracker(0, true)

	src := strings.NewReader(strings.Repeat("a", 4096))
	var dst bytes.Buffer
	if _, err := io.Copy(&dst, io.TeeReader(src, tracker)); err != nil {
		t.Fatal(err)
	}

	tracker.SetFilename("out/Clip.mp4")
	summary := tracker.Finish()
	if summary.TotalBytes != 4096 {
		t.Errorf("TotalBytes = %d, want 4096", summary.TotalBytes)
	}
	if summary.Filename != "out/Clip.mp4" {
		t.Errorf("Filename = %q", summary.Filename)
	}

	// unknown total never reports a percentage
	if _, _, percentage := tracker.GetCurrentStats(); percentage != 0 {
		t.Errorf("percentage = %f for unknown size", percentage)
	}
}

func TestProgressTracker_Summary(t *testing.T) {
	var out bytes.Buffer
	tracker := NewProgressTrackerTo(&out, 2048, false)

	tracker.Add(1024)
	tracker.Add(1024)
	tracker.SetFilename("Clip.mp4")
	tracker.Finish()

	text := out.String()
	for _, want := range []string{"Download completed successfully!", "Total size: 2.0 KB", "Saved to: Clip.mp4"} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
		{5368709120, "5.0 GB"},
	}

	for _, test := range tests {
		result := FormatBytes(test.bytes)
		if result != test.expected {
			t.Errorf("FormatBytes(%d) = %s, expected %s", test.bytes, result, test.expected)
		}
	}
}
