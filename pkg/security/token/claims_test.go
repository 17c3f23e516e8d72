package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClaims_Expiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		expiresAt   time.Time
		leeway      time.Duration
		wantExpired bool
		wantWithin  bool
	}{
		{"valid for an hour", now.Add(time.Hour), 30 * time.Second, false, false},
		{"inside leeway", now.Add(10 * time.Second), 30 * time.Second, false, true},
		{"exactly at leeway edge", now.Add(30 * time.Second), 30 * time.Second, false, true},
		{"expiring now", now, 0, true, true},
		{"already expired", now.Add(-time.Minute), 0, true, true},
		{"no expiration", time.Time{}, time.Hour, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Claims{ExpiresAt: tt.expiresAt}

			assert.Equal(t, tt.wantExpired, c.IsExpired(now))
			assert.Equal(t, tt.wantWithin, c.ExpiresWithin(now, tt.leeway))
		})
	}
}

func TestClaims_IsAccess(t *testing.T) {
	assert.True(t, (&Claims{Type: "access"}).IsAccess())
	assert.False(t, (&Claims{Type: "refresh"}).IsAccess())
	assert.False(t, (&Claims{}).IsAccess())
}
