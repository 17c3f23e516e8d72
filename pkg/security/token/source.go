package token

import (
	"context"
	"time"
)

// TokenPair is the result of a refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	// ExpiresAt is zero when the server does not report it.
	ExpiresAt time.Time
}

// Source owns the credentials. The host application implements it on top of
// its session storage and the refresh endpoint.
type Source interface {
	// CurrentToken returns the access token to attach, or "" when signed out.
	CurrentToken() string
	// PerformRefresh exchanges the refresh credential for a new pair and
	// stores it, so CurrentToken returns the new access token afterwards.
	PerformRefresh(ctx context.Context) (TokenPair, error)
}
