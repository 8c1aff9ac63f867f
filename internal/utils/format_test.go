package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "0 B", FormatSize(0))
	assert.Equal(t, "1023 B", FormatSize(1023))
	assert.Equal(t, "1.00 KB", FormatSize(1024))
	assert.Equal(t, "4.00 MB", FormatSize(4*1024*1024))
	assert.Equal(t, "1.50 GB", FormatSize(3*1024*1024*1024/2))
}

func TestFormatSpeed(t *testing.T) {
	assert.Equal(t, "512 B/s", FormatSpeed(512))
	assert.Equal(t, "2.00 KB/s", FormatSpeed(2048))
	assert.Equal(t, "1.00 MB/s", FormatSpeed(1024*1024))
}

func TestFormatTimeDuration(t *testing.T) {
	assert.Equal(t, "0s", FormatTimeDuration(-time.Second))
	assert.Equal(t, "42s", FormatTimeDuration(42*time.Second))
	assert.Equal(t, "2m 5s", FormatTimeDuration(125*time.Second))
	assert.Equal(t, "1h 0m 1s", FormatTimeDuration(time.Hour+time.Second))
}

func TestFormatAge(t *testing.T) {
	now := time.UnixMilli(10_000_000)
	assert.Equal(t, "just now", FormatAge(now.Add(-30*time.Second), now))
	assert.Equal(t, "5m ago", FormatAge(now.Add(-5*time.Minute), now))
	assert.Equal(t, "2h ago", FormatAge(now.Add(-150*time.Minute), now))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", TruncateString("short", 10))
	assert.Equal(t, "a very...", TruncateString("a very long name", 9))
	assert.Equal(t, "ab", TruncateString("abcdef", 2))
	assert.Equal(t, "héllo", TruncateString("héllo", 5))
}
