package offline

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Sokol111/ecommerce-resilience/pkg/http/request"
)

// IdempotencyKeyHeader carries the queued request ID so the server can
// discard a replay it has already applied.
const IdempotencyKeyHeader = "Idempotency-Key"

// strippedHeaders never reach durable storage. The current token is attached
// again at replay time.
var strippedHeaders = []string{"Authorization", "Cookie", "Proxy-Authorization"}

// QueuedRequest is a mutating request waiting for connectivity.
type QueuedRequest struct {
	ID           string             `json:"id"`
	Descriptor   request.Descriptor `json:"descriptor"`
	EnqueuedAt   time.Time          `json:"enqueuedAt"`
	RetryCount   int                `json:"retryCount"`
	TraceContext map[string]string  `json:"traceContext,omitempty"`
}

// storedDescriptor mirrors request.Descriptor with the body kept as raw JSON,
// so a replayed body is byte-for-byte the one that was queued.
type storedDescriptor struct {
	Method string          `json:"method"`
	URL    string          `json:"url"`
	Query  url.Values      `json:"query,omitempty"`
	Body   json.RawMessage `json:"body,omitempty"`
	Header http.Header     `json:"header,omitempty"`
	Opts   request.Options `json:"options"`
}

func (q *QueuedRequest) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID           string            `json:"id"`
		Descriptor   storedDescriptor  `json:"descriptor"`
		EnqueuedAt   time.Time         `json:"enqueuedAt"`
		RetryCount   int               `json:"retryCount"`
		TraceContext map[string]string `json:"traceContext,omitempty"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	d := request.Descriptor{
		Method: wire.Descriptor.Method,
		URL:    wire.Descriptor.URL,
		Query:  wire.Descriptor.Query,
		Header: wire.Descriptor.Header,
		Opts:   wire.Descriptor.Opts,
	}
	if len(wire.Descriptor.Body) > 0 && string(wire.Descriptor.Body) != "null" {
		d.Body = wire.Descriptor.Body
	}

	*q = QueuedRequest{
		ID:           wire.ID,
		Descriptor:   d,
		EnqueuedAt:   wire.EnqueuedAt,
		RetryCount:   wire.RetryCount,
		TraceContext: wire.TraceContext,
	}
	return nil
}

// sanitize returns the copy of d that is safe to persist: credentials are
// removed, the body is encoded once and the idempotency key is set to id.
func sanitize(d request.Descriptor, id string) (request.Descriptor, error) {
	c := d.Clone()
	if c.Header == nil {
		c.Header = http.Header{}
	}
	for _, h := range strippedHeaders {
		c.Header.Del(h)
	}
	c.Header.Set(IdempotencyKeyHeader, id)

	if c.Body != nil {
		raw, err := json.Marshal(c.Body)
		if err != nil {
			return request.Descriptor{}, fmt.Errorf("failed to encode queued body: %w", err)
		}
		c.Body = json.RawMessage(raw)
	}
	return c, nil
}

func encodeQueue(items []QueuedRequest) ([]byte, error) {
	return json.Marshal(items)
}

func decodeQueue(data []byte) ([]QueuedRequest, error) {
	var items []QueuedRequest
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return items, nil
}
