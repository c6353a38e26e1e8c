package utils

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"mediadrop/internal"
)

// TokenBucketLimiter implements rate limiting using token bucket algorithm.
// One limiter is shared by every delivery so the configured rate caps the
// server's total outbound bandwidth.
type TokenBucketLimiter struct {
	rate       int64
	bucket     int64
	maxBucket  int64
	lastUpdate time.Time
	mutex      sync.Mutex

	streamCount int32 // deliveries currently drawing from this limiter
	streamMutex sync.RWMutex
}

// NewTokenBucketLimiter creates a new rate limiter. A rate of 0 disables limiting.
func NewTokenBucketLimiter(bytesPerSecond int64) *TokenBucketLimiter {
	return &TokenBucketLimiter{
		rate:       bytesPerSecond,
		bucket:     bytesPerSecond,
		maxBucket:  bytesPerSecond,
		lastUpdate: time.Now(),
	}
}

var _ internal.RateLimiter = (*TokenBucketLimiter)(nil)

// Wait blocks until the specified number of bytes can be consumed
func (r *TokenBucketLimiter) Wait(ctx context.Context, n int) error {
	r.mutex.Lock()

	if r.rate <= 0 {
		r.mutex.Unlock()
		return nil // No rate limiting
	}

	// Refill tokens based on elapsed time
	now := time.Now()
	elapsed := now.Sub(r.lastUpdate)
	r.lastUpdate = now

	r.bucket += int64(elapsed.Seconds() * float64(r.rate))
	if r.bucket > r.maxBucket {
		r.bucket = r.maxBucket
	}

	// Take the tokens now; a negative bucket is debt paid off by waiting
	r.bucket -= int64(n)
	if r.bucket >= 0 {
		r.mutex.Unlock()
		return nil
	}

	waitTime := time.Duration(float64(-r.bucket) / float64(r.rate) * float64(time.Second))
	r.mutex.Unlock()

	timer := time.NewTimer(waitTime)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetRate updates the rate limit
func (r *TokenBucketLimiter) SetRate(bytesPerSecond int64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.rate = bytesPerSecond
	r.maxBucket = bytesPerSecond
	if r.bucket > r.maxBucket {
		r.bucket = r.maxBucket
	}
}

// Rate returns the configured bytes per second, 0 when unlimited
func (r *TokenBucketLimiter) Rate() int64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.rate
}

// RegisterStream records a delivery that started drawing from the limiter
func (r *TokenBucketLimiter) RegisterStream() {
	r.streamMutex.Lock()
	defer r.streamMutex.Unlock()
	r.streamCount++
}

// UnregisterStream removes a finished delivery
func (r *TokenBucketLimiter) UnregisterStream() {
	r.streamMutex.Lock()
	defer r.streamMutex.Unlock()
	if r.streamCount > 0 {
		r.streamCount--
	}
}

// StreamCount returns the number of deliveries currently registered
func (r *TokenBucketLimiter) StreamCount() int32 {
	r.streamMutex.RLock()
	defer r.streamMutex.RUnlock()
	return r.streamCount
}

// chunkSize returns how many bytes one stream should request at a time so
// that concurrent deliveries interleave instead of draining the bucket in turn
func (r *TokenBucketLimiter) chunkSize() int {
	const maxChunk = 32 * 1024
	const minChunk = 1024

	rate := r.Rate()
	if rate <= 0 {
		return maxChunk
	}

	streams := int64(r.StreamCount())
	if streams < 1 {
		streams = 1
	}

	chunk := rate / streams / 10 // ~100ms of each stream's share
	switch {
	case chunk > maxChunk:
		return maxChunk
	case chunk < minChunk:
		return minChunk
	default:
		return int(chunk)
	}
}

// ThrottledWriter paces writes through a shared limiter
type ThrottledWriter struct {
	ctx     context.Context
	w       io.Writer
	limiter *TokenBucketLimiter
}

// NewThrottledWriter wraps w. Writes fail with ctx's error once it is done.
func NewThrottledWriter(ctx context.Context, w io.Writer, limiter *TokenBucketLimiter) *ThrottledWriter {
	return &ThrottledWriter{ctx: ctx, w: w, limiter: limiter}
}

func (t *ThrottledWriter) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		chunk := len(p) - written
		if size := t.limiter.chunkSize(); chunk > size {
			chunk = size
		}

		if err := t.limiter.Wait(t.ctx, chunk); err != nil {
			return written, err
		}

		n, err := t.w.Write(p[written : written+chunk])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// ParseRateLimit parses human-readable rate limit strings (e.g., "5M", "1G")
func ParseRateLimit(rateStr string) (int64, error) {
	// Remove whitespace
	rateStr = strings.TrimSpace(rateStr)
	if rateStr == "" {
		return 0, nil
	}

	// Handle pure numbers (bytes per second)
	if val, err := strconv.ParseInt(rateStr, 10, 64); err == nil {
		if val < 0 {
			return 0, fmt.Errorf("rate cannot be negative: %d", val)
		}
		return val, nil
	}

	if len(rateStr) < 2 {
		return 0, fmt.Errorf("invalid rate format: %s", rateStr)
	}

	rateUpper := strings.ToUpper(rateStr)
	numStr, suffix := rateStr[:len(rateStr)-1], rateUpper[len(rateUpper)-1:]
	for _, two := range []string{"KB", "MB", "GB", "TB"} {
		if len(rateUpper) >= 3 && strings.HasSuffix(rateUpper, two) {
			numStr, suffix = rateStr[:len(rateStr)-2], two
			break
		}
	}

	baseValue, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value in rate: %s", numStr)
	}
	if baseValue < 0 {
		return 0, fmt.Errorf("rate cannot be negative: %f", baseValue)
	}

	var multiplier int64
	switch suffix {
	case "B":
		multiplier = 1
	case "K", "KB":
		multiplier = 1024
	case "M", "MB":
		multiplier = 1024 * 1024
	case "G", "GB":
		multiplier = 1024 * 1024 * 1024
	case "T", "TB":
		multiplier = 1024 * 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("unsupported rate suffix: %s (supported: B, K/KB, M/MB, G/GB, T/TB)", suffix)
	}

	result := int64(baseValue * float64(multiplier))
	if result < 0 {
		return 0, fmt.Errorf("rate value overflow")
	}

	return result, nil
}
