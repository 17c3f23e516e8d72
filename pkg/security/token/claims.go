package token

import (
	"time"
)

// Claims are the parts of an access token the client acts on.
type Claims struct {
	// UserID is the token subject.
	UserID string
	// Type is "access" or "refresh".
	Type      string
	IssuedAt  time.Time
	ExpiresAt time.Time
	NotBefore time.Time
}

// IsExpired reports whether the token is expired at now.
func (c *Claims) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// ExpiresWithin reports whether the token expires at or before now+d.
// Tokens without an expiration never do.
func (c *Claims) ExpiresWithin(now time.Time, d time.Duration) bool {
	return !c.ExpiresAt.IsZero() && !now.Add(d).Before(c.ExpiresAt)
}

// IsAccess returns true if the token is an access token.
func (c *Claims) IsAccess() bool {
	return c.Type == "access"
}
