package internal

import (
	"context"
	"time"
)

// Extractor lists and fetches renditions through an external extraction tool
type Extractor interface {
	ListRenditions(ctx context.Context, url string, creds *Credentials) ([]Rendition, error)
	Fetch(ctx context.Context, url, renditionID string, creds *Credentials, stem string) (*FetchResult, error)
}

// LockRegistry tracks file names that must survive a cleanup sweep
type LockRegistry interface {
	Acquire(name, token string) error
	Release(name string)
	IsLocked(name string) bool
	Claim(name, token string) error
	Expire(now time.Time, ttl time.Duration) []string
}

// RateLimiter controls bandwidth usage
type RateLimiter interface {
	Wait(ctx context.Context, n int) error
	SetRate(bytesPerSecond int64)
}
