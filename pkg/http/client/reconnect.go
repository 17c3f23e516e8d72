package client

import (
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"
)

// maxExpiredReconnects bounds how many expired connections one request may
// replace before giving up.
const maxExpiredReconnects = 3

// reconnectTransport retries requests that died on a stale pooled
// connection. Retries are immediate; backoff and server errors are left to
// the pipeline's retry policy. Errors that mean the host is unreachable are
// returned at once so the pipeline can switch to offline handling.
type reconnectTransport struct {
	base       http.RoundTripper
	transport  *http.Transport // stored for CloseIdleConnections; nil if base is not *http.Transport
	maxRetries int
}

func (t *reconnectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	replayable := isReplayable(req)
	resend := false
	expired := 0

	for attempt := 0; attempt <= t.maxRetries; {
		resp, err := t.doRequest(req, resend)
		resend = true
		if err == nil {
			return resp, nil
		}
		// An expired connection may fail after the request was written, so
		// it is only resent when that is safe.
		if req.Context().Err() != nil || !replayable {
			return nil, err
		}

		// Expired connections don't count as retries, up to maxExpiredReconnects.
		if errors.Is(err, ErrConnExpired) {
			expired++
			if expired > maxExpiredReconnects {
				return nil, err
			}
			continue
		}

		if !isStaleConnError(err) {
			return nil, err
		}
		attempt++
	}

	// Every pooled connection failed; drop them and try once on a fresh one.
	if t.transport != nil {
		t.transport.CloseIdleConnections()
	}
	return t.doRequest(req, true)
}

func (t *reconnectTransport) doRequest(req *http.Request, resend bool) (*http.Response, error) {
	if !resend {
		return t.base.RoundTrip(req)
	}

	// Clone request for retry (body may have been consumed)
	reqToSend := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		reqToSend.Body = body
	}
	return t.base.RoundTrip(reqToSend)
}

// isReplayable reports whether sending req twice is safe: the method is
// idempotent or the request carries an idempotency key, and the body can be
// produced again.
func isReplayable(req *http.Request) bool {
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return false
	}
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return req.Header.Get("Idempotency-Key") != ""
}

// isStaleConnError matches failures of a connection that was alive when it
// was taken from the pool.
func isStaleConnError(err error) bool {
	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, net.ErrClosed):
		return true
	}
	return false
}

// CloseIdleConnections lets http.Client.CloseIdleConnections reach the pool.
func (t *reconnectTransport) CloseIdleConnections() {
	if t.transport != nil {
		t.transport.CloseIdleConnections()
	}
}
