package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", FormatDuration(0))
	assert.Equal(t, "45s", FormatDuration(45*time.Second))
	assert.Equal(t, "2m 5s", FormatDuration(125*time.Second))
	assert.Equal(t, "1h 0m 1s", FormatDuration(time.Hour+time.Second))
	assert.Equal(t, "3d 0h 30m 15s", FormatDuration(72*time.Hour+30*time.Minute+15*time.Second))
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "1m 30s", FormatUptime("1m30s"))
	assert.Equal(t, "garbage", FormatUptime("garbage"))
}

func TestFormatExpiry(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "-", FormatExpiry(time.Time{}, now))
	assert.Equal(t, "expired", FormatExpiry(now.Add(-time.Second), now))
	assert.Equal(t, "in 30s", FormatExpiry(now.Add(30*time.Second), now))
}

func TestFormatTimeInvalid(t *testing.T) {
	assert.Equal(t, "yesterday", FormatTime("yesterday"))
	assert.NotEqual(t, "2026-10-15T12:00:00Z", FormatTime("2026-10-15T12:00:00Z"))
}
