package otp

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(start time.Time) (*RateLimiter, *time.Time) {
	now := start
	limiter := NewRateLimiter(testOTPConfig())
	limiter.now = func() time.Time { return now }
	return limiter, &now
}

func TestRateLimiterFirstRequestAllowed(t *testing.T) {
	limiter, _ := newTestLimiter(time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC))
	assert.NoError(t, limiter.Allow("user@example.com"))
}

func TestRateLimiterMinInterval(t *testing.T) {
	limiter, now := newTestLimiter(time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC))

	require.NoError(t, limiter.Allow("user@example.com"))

	*now = now.Add(30 * time.Second)
	err := limiter.Allow("user@example.com")
	require.Error(t, err)

	var rateErr *RateLimitError
	require.True(t, errors.As(err, &rateErr))
	assert.Equal(t, DenialTooFrequent, rateErr.Reason)
	assert.Equal(t, 30*time.Second, rateErr.RetryAfter)

	*now = now.Add(30 * time.Second)
	assert.NoError(t, limiter.Allow("user@example.com"))
}

func TestRateLimiterHourlyLimit(t *testing.T) {
	limiter, now := newTestLimiter(time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Allow("user@example.com"), "request %d should pass", i)
		*now = now.Add(time.Minute)
	}

	err := limiter.Allow("user@example.com")
	require.Error(t, err)

	var rateErr *RateLimitError
	require.True(t, errors.As(err, &rateErr))
	assert.Equal(t, DenialHourlyLimit, rateErr.Reason)
	assert.Greater(t, rateErr.RetryAfter, time.Duration(0))
}

func TestRateLimiterDeniedRequestNotRecorded(t *testing.T) {
	limiter, now := newTestLimiter(time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC))

	require.NoError(t, limiter.Allow("user@example.com"))

	// Hammering inside the spacing window must not push the window
	// forward; once the original minute passes the request goes through.
	for i := 0; i < 10; i++ {
		*now = now.Add(5 * time.Second)
		assert.Error(t, limiter.Allow("user@example.com"))
	}

	*now = now.Add(10 * time.Second)
	assert.NoError(t, limiter.Allow("user@example.com"))
}

func TestRateLimiterWindowResetsAfterQuietHour(t *testing.T) {
	limiter, now := newTestLimiter(time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC))

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Allow("user@example.com"))
		*now = now.Add(time.Minute)
	}
	require.Error(t, limiter.Allow("user@example.com"))

	*now = now.Add(61 * time.Minute)
	assert.NoError(t, limiter.Allow("user@example.com"))
}

func TestRateLimiterIdentitiesIndependent(t *testing.T) {
	limiter, now := newTestLimiter(time.Date(2024, time.March, 5, 12, 0, 0, 0, time.UTC))

	require.NoError(t, limiter.Allow("first@example.com"))
	*now = now.Add(time.Second)
	assert.NoError(t, limiter.Allow("second@example.com"))
}
