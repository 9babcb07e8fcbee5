// Package ratelimit implements the rate-limit controller of the Web API
// client. It parses the Retry-After header of 429 responses, pauses request
// dispatch, notifies subscribers of every pause and optionally mirrors the
// pause state into Redis so operators can see it.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Redis keys for pause state storage. They are prefixed by the tracker's
// namespace.
const (
	RedisKeyPausedUntil = "rate_limit:paused_until"
	RedisKeyRetryAfter  = "rate_limit:retry_after_ms"
	RedisKeyLastUpdate  = "rate_limit:last_update"
)

// DefaultRetryAfter is used when a 429 response carries no usable
// Retry-After header.
const DefaultRetryAfter = 1 * time.Second

// HeaderRetryAfter carries the wait duration in seconds.
const HeaderRetryAfter = "Retry-After"

// MaxRetryAfter is the longest representable wait; larger header values
// are clamped to it.
const MaxRetryAfter = time.Duration(math.MaxInt64)

// PauseState is the rate-limit pause state of one client instance.
type PauseState struct {
	// PausedUntil is when dispatch resumes. Zero when never paused.
	PausedUntil time.Time `json:"paused_until"`

	// RetryAfter is the wait duration of the most recent rate-limited response.
	RetryAfter time.Duration `json:"retry_after"`

	// LastUpdate is when this state was last changed.
	LastUpdate time.Time `json:"last_update"`
}

// IsPaused reports whether dispatch is paused at now.
func (s *PauseState) IsPaused(now time.Time) bool {
	return now.Before(s.PausedUntil)
}

// Remaining returns the time left until dispatch resumes, or 0.
func (s *PauseState) Remaining(now time.Time) time.Duration {
	d := s.PausedUntil.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale returns true if the state is older than maxAge.
func (s *PauseState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// ParseRetryAfter extracts the wait duration from a rate-limited response.
// The header value is a number of seconds; absent, negative, non-finite or
// unparsable values fall back to DefaultRetryAfter. Values beyond
// MaxRetryAfter are clamped.
func ParseRetryAfter(headers http.Header) time.Duration {
	raw := strings.TrimSpace(headers.Get(HeaderRetryAfter))
	if raw == "" {
		return DefaultRetryAfter
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return DefaultRetryAfter
	}
	nanos := seconds * float64(time.Second)
	if nanos >= float64(MaxRetryAfter) {
		return MaxRetryAfter
	}
	return time.Duration(nanos)
}
