package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestEveryAllowsOncePerInterval(t *testing.T) {
	l := Every(2*time.Second, 100)
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		key    string
		offset time.Duration
		want   bool
	}{
		{"psid-1", 0, true},
		{"psid-1", 500 * time.Millisecond, false},
		{"psid-2", 600 * time.Millisecond, true},
		{"psid-1", 1900 * time.Millisecond, false},
		{"psid-1", 2100 * time.Millisecond, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, l.AllowAt(tt.key, base.Add(tt.offset)), "%s at %v", tt.key, tt.offset)
	}
}

func TestKeyedBurst(t *testing.T) {
	l := NewKeyed(rate.Limit(1), 3, 10, time.Minute)
	now := time.Now()
	for i := 0; i < 3; i++ {
		assert.True(t, l.AllowAt("10.0.0.1", now))
	}
	assert.False(t, l.AllowAt("10.0.0.1", now))
	assert.True(t, l.AllowAt("10.0.0.2", now))
}

func TestKeyedBoundsTrackedKeys(t *testing.T) {
	l := NewKeyed(rate.Limit(1), 1, 2, time.Minute)
	l.Allow("a")
	l.Allow("b")
	l.Allow("c")
	assert.Equal(t, 2, l.Len())
}
