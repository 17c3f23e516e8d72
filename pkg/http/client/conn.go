package client

import (
	"context"
	"errors"
	"net"
	"time"
)

// ErrConnExpired is returned when a connection exceeds its max lifetime.
// reconnectTransport retries it without counting an attempt.
var ErrConnExpired = errors.New("connection expired")

// timedConn reports itself closed once it outlives maxLifetime, forcing
// http.Transport to dial again with a fresh DNS lookup.
type timedConn struct {
	net.Conn
	expiresAt time.Time
	now       func() time.Time
}

func (c *timedConn) isExpired() bool {
	return c.now().After(c.expiresAt)
}

func (c *timedConn) Read(b []byte) (n int, err error) {
	if c.isExpired() {
		_ = c.Close() //nolint:errcheck // Best effort cleanup on expiry
		return 0, ErrConnExpired
	}
	return c.Conn.Read(b)
}

func (c *timedConn) Write(b []byte) (n int, err error) {
	if c.isExpired() {
		_ = c.Close() //nolint:errcheck // Best effort cleanup on expiry
		return 0, ErrConnExpired
	}
	return c.Conn.Write(b)
}

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// lifetimeDialer wraps every dialed connection in a timedConn. A zero
// lifetime returns nil so http.Transport uses its default dialer.
func lifetimeDialer(dialer *net.Dialer, lifetime time.Duration) dialFunc {
	if lifetime <= 0 {
		return nil
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		return &timedConn{Conn: conn, expiresAt: time.Now().Add(lifetime), now: time.Now}, nil
	}
}
