package otp

import (
	"fmt"
	"sync"
	"time"

	"github.com/DeepStacker/email-service/internal/app/config"
)

type DenialReason int

const (
	// DenialTooFrequent means the identity asked again before the
	// minimum spacing between issues elapsed.
	DenialTooFrequent DenialReason = iota
	// DenialHourlyLimit means the identity exhausted its issue budget
	// for the rolling window.
	DenialHourlyLimit
)

// RateLimitError reports a denied issue request along with how long the
// caller should wait before retrying.
type RateLimitError struct {
	Reason     DenialReason
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	switch e.Reason {
	case DenialHourlyLimit:
		return fmt.Sprintf("hourly passcode limit reached, retry in %s", e.RetryAfter.Round(time.Second))
	default:
		return fmt.Sprintf("passcode requested too frequently, retry in %s", e.RetryAfter.Round(time.Second))
	}
}

type window struct {
	lastIssue time.Time
	count     int
}

// RateLimiter throttles passcode issuance per identity: requests must be
// spaced by at least the minimum interval, and at most the hourly limit
// of requests fit in a rolling window. A window goes stale once the
// identity stays quiet for over an hour and the counter starts over.
type RateLimiter struct {
	cfg config.OTPConfig

	mu      sync.Mutex
	windows map[string]window

	now func() time.Time
}

func NewRateLimiter(cfg config.OTPConfig) *RateLimiter {
	return &RateLimiter{
		cfg:     cfg,
		windows: make(map[string]window),
		now:     time.Now,
	}
}

// Allow records an issue for identity if policy permits it, returning a
// *RateLimitError describing the denial otherwise. Denied requests are
// not recorded and do not extend the window.
func (l *RateLimiter) Allow(identity string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	win := l.windows[identity]

	if !win.lastIssue.IsZero() {
		gap := now.Sub(win.lastIssue)

		if gap > time.Hour {
			win.count = 0
		} else {
			if gap < l.cfg.MinInterval {
				return &RateLimitError{
					Reason:     DenialTooFrequent,
					RetryAfter: l.cfg.MinInterval - gap,
				}
			}
			if win.count >= l.cfg.HourlyLimit {
				return &RateLimitError{
					Reason:     DenialHourlyLimit,
					RetryAfter: time.Hour - gap,
				}
			}
		}
	}

	win.lastIssue = now
	win.count++
	l.windows[identity] = win

	return nil
}
