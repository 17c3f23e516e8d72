package token

import (
	"encoding/hex"
	"errors"
	"time"

	"aidanwoods.dev/go-paseto"
)

// ExpiryChecker reads PASETO v4 public access tokens so the client can
// refresh before the server starts answering 401.
type ExpiryChecker struct {
	publicKey paseto.V4AsymmetricPublicKey
	leeway    time.Duration
	now       func() time.Time
}

type ExpiryOption func(*ExpiryChecker)

func WithClock(now func() time.Time) ExpiryOption {
	return func(c *ExpiryChecker) { c.now = now }
}

// NewExpiryChecker builds a checker from the hex-encoded Ed25519 public key
// in cfg.
func NewExpiryChecker(cfg Config, opts ...ExpiryOption) (*ExpiryChecker, error) {
	cfg.applyDefaults()

	keyBytes, err := hex.DecodeString(cfg.PublicKey)
	if err != nil || len(keyBytes) != 32 {
		return nil, ErrInvalidPublicKey
	}
	publicKey, err := paseto.NewV4AsymmetricPublicKeyFromBytes(keyBytes)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}

	c := &ExpiryChecker{
		publicKey: publicKey,
		leeway:    *cfg.RefreshLeeway,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Claims verifies the signature and returns the claims. Expired tokens are
// returned too; callers use the expiration to decide what to do.
func (c *ExpiryChecker) Claims(tokenString string) (*Claims, error) {
	parser := paseto.NewParserWithoutExpiryCheck()
	tok, err := parser.ParseV4Public(c.publicKey, tokenString, nil)
	if err != nil {
		return nil, ErrInvalidToken
	}

	subject, _ := tok.GetSubject()
	tokenType, _ := tok.GetString("type")
	iat, _ := tok.GetIssuedAt()
	exp, _ := tok.GetExpiration()
	nbf, _ := tok.GetNotBefore()

	return &Claims{
		UserID:    subject,
		Type:      tokenType,
		IssuedAt:  iat,
		ExpiresAt: exp,
		NotBefore: nbf,
	}, nil
}

// Check returns ErrExpiredToken when the token is expired or expires within
// the refresh leeway, ErrInvalidToken when it cannot be verified.
func (c *ExpiryChecker) Check(tokenString string) error {
	claims, err := c.Claims(tokenString)
	if err != nil {
		return err
	}
	if claims.ExpiresWithin(c.now(), c.leeway) {
		return ErrExpiredToken
	}
	return nil
}

// NeedsRefresh reports whether a verified token is about to expire. Empty or
// unverifiable tokens report false and are left to the server to reject.
func (c *ExpiryChecker) NeedsRefresh(tokenString string) bool {
	if c == nil || tokenString == "" {
		return false
	}
	return errors.Is(c.Check(tokenString), ErrExpiredToken)
}
