package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sokol111/ecommerce-resilience/pkg/http/dedup"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/request"
)

// Kind classifies why Send did not return a response.
type Kind int

const (
	// KindDuplicateCancelled: an identical request was already in flight.
	KindDuplicateCancelled Kind = iota + 1
	// KindOfflineQueued: the host is offline and the request was queued.
	KindOfflineQueued
	// KindAuthExpired: the session could not be renewed.
	KindAuthExpired
	// KindRetryExhausted: the failure was transient but every retry was used.
	KindRetryExhausted
	// KindClientError: the server rejected the request with a 4xx.
	KindClientError
	// KindTransport: any other failure, including non-retried 5xx.
	KindTransport
	// KindCancelled: the caller or CancelAll aborted the request.
	KindCancelled
)

var (
	ErrDuplicateCancelled = errors.New("duplicate request cancelled")
	ErrOfflineQueued      = errors.New("request queued for offline replay")
	ErrAuthExpired        = errors.New("session expired")
	ErrRetryExhausted     = errors.New("retries exhausted")
	ErrClientError        = errors.New("request rejected")
	ErrTransport          = errors.New("request failed")
	ErrCancelled          = errors.New("request cancelled")
)

var kindInfo = map[Kind]struct {
	name     string
	sentinel error
}{
	KindDuplicateCancelled: {"duplicate_cancelled", ErrDuplicateCancelled},
	KindOfflineQueued:      {"offline_queued", ErrOfflineQueued},
	KindAuthExpired:        {"auth_expired", ErrAuthExpired},
	KindRetryExhausted:     {"retry_exhausted", ErrRetryExhausted},
	KindClientError:        {"client_error", ErrClientError},
	KindTransport:          {"transport", ErrTransport},
	KindCancelled:          {"cancelled", ErrCancelled},
}

func (k Kind) String() string {
	if info, ok := kindInfo[k]; ok {
		return info.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is returned by Send for every outcome other than a response.
// errors.Is matches the Kind's sentinel; errors.As reaches the underlying
// transport error or *request.StatusError through Unwrap.
type Error struct {
	Kind   Kind
	Method string
	URL    string
	// Attempts is the number of times the request went on the wire.
	Attempts int
	Err      error

	admission *dedup.Admission
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Method, e.URL, kindInfo[e.Kind].sentinel)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	info, ok := kindInfo[e.Kind]
	return ok && target == info.sentinel
}

// Response returns the error response when the server answered.
func (e *Error) Response() *request.Response {
	var statusErr *request.StatusError
	if errors.As(e.Err, &statusErr) {
		return statusErr.Response
	}
	return nil
}

// StatusCode returns the HTTP status when the server answered, else 0.
func (e *Error) StatusCode() int {
	if resp := e.Response(); resp != nil {
		return resp.StatusCode
	}
	return 0
}

// Wait blocks a duplicate until the in-flight request it was coalesced into
// finishes and returns that request's result.
func (e *Error) Wait(ctx context.Context) (*request.Response, error) {
	if e.Kind != KindDuplicateCancelled || e.admission == nil {
		return nil, dedup.ErrNotDuplicate
	}
	return e.admission.Wait(ctx)
}

// IsInformational reports outcomes the UI should not show as failures:
// duplicates and requests queued for replay.
func IsInformational(err error) bool {
	return errors.Is(err, ErrDuplicateCancelled) || errors.Is(err, ErrOfflineQueued)
}

// KindOf returns the Kind of a pipeline error, or 0.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return 0
}
