package internal

import (
	"time"
)

// Quality sentinels understood by the extractor
const (
	QualityBest  = "best"
	QualityWorst = "worst"
)

// MediaRequest is an accepted download request. It is not modified after intake.
type MediaRequest struct {
	URL         string
	Quality     string
	Credentials *Credentials
}

// Credentials references a validated cookie bundle that is handed to the
// extractor as-is
type Credentials struct {
	CookieFile  string
	CookieCount int
}

// Rendition is one encoded variant of a source media item
type Rendition struct {
	FormatID string `json:"format_id"`
	Label    string `json:"label,omitempty"`
	Ext      string `json:"ext,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// FetchResult describes what the extractor wrote to the storage directory
type FetchResult struct {
	Title    string
	Ext      string
	FormatID string
	Path     string
}

// DownloadResult is a finished download under its final, sanitized name
type DownloadResult struct {
	Name string `json:"filename"`
	Path string `json:"-"`
	Size int64  `json:"size"`
}

// Ticket is the one-time delivery reference handed back to the requester
type Ticket struct {
	Name        string    `json:"filename"`
	Token       string    `json:"-"`
	DownloadURL string    `json:"download_url"`
	Size        int64     `json:"size"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// SweepReport summarizes a single janitor pass
type SweepReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Deleted   []string      `json:"deleted"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Expired   []string      `json:"expired,omitempty"`
}

// Version is overridden at build time with -ldflags "-X mediadrop/internal.Version=..."
var Version = "v0.1.0"
