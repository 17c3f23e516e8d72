package token

import "errors"

var (
	// ErrRefreshFailed wraps every error from a failed token refresh. The
	// session cannot continue after it.
	ErrRefreshFailed = errors.New("token refresh failed")

	// ErrExpiredToken: the access token is expired or inside the refresh leeway.
	ErrExpiredToken = errors.New("access token expired")
	// ErrInvalidToken: the access token could not be parsed or verified.
	ErrInvalidToken = errors.New("invalid access token")
	// ErrInvalidPublicKey: the configured verification key is not an Ed25519 hex key.
	ErrInvalidPublicKey = errors.New("invalid public key")
)
