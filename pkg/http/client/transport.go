package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Sokol111/ecommerce-resilience/pkg/http/request"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/retry"
)

// maxResponseSize bounds how much of a response body is buffered.
const maxResponseSize = 32 << 20

// ErrResponseTooLarge is returned, marked retry.ErrPermanent, for bodies over
// the buffering limit. A truncated body is never returned.
var ErrResponseTooLarge = errors.New("response body too large")

// Transport sends descriptors over HTTP and returns fully read responses.
// Non-2xx responses come back as *request.StatusError.
type Transport struct {
	client  *http.Client
	baseURL *url.URL
	tracer  trace.Tracer
	log     *zap.Logger
	maxBody int64
}

type TransportOption func(*Transport)

// WithHTTPClient replaces the client built from Config.
func WithHTTPClient(c *http.Client) TransportOption {
	return func(t *Transport) { t.client = c }
}

func WithTracerProvider(tp trace.TracerProvider) TransportOption {
	return func(t *Transport) { t.tracer = tp.Tracer("http-client") }
}

func NewTransport(cfg Config, log *zap.Logger, opts ...TransportOption) (*Transport, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}
	cfg.applyDefaults()

	t := &Transport{
		client:  newHTTPClient(cfg),
		tracer:  otel.GetTracerProvider().Tracer("http-client"),
		log:     log.With(zap.String("component", "http-transport")),
		maxBody: maxResponseSize,
	}
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base-url: %w", err)
		}
		t.baseURL = u
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func newHTTPClient(cfg Config) *http.Client {
	dialer := &net.Dialer{
		Timeout: 5 * time.Second,
	}
	maxIdleConnsPerHost := *cfg.MaxIdleConnsPerHost

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         lifetimeDialer(dialer, *cfg.MaxConnLifetime),
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     *cfg.IdleConnTimeout,
	}

	// Reconnects = min(pool size, cap) to exhaust dead connections without excessive attempts
	return &http.Client{
		Timeout: *cfg.Timeout,
		Transport: &reconnectTransport{
			base:       transport,
			transport:  transport,
			maxRetries: max(1, min(maxIdleConnsPerHost, MaxReconnectsCap)),
		},
	}
}

// ResolveURL joins the descriptor URL with the base URL and appends its query.
func (t *Transport) ResolveURL(d request.Descriptor) (*url.URL, error) {
	u, err := url.Parse(d.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", request.ErrInvalidURL, err)
	}
	if t.baseURL != nil && !u.IsAbs() {
		rawQuery := u.RawQuery
		u = t.baseURL.JoinPath(u.Path)
		u.RawQuery = rawQuery
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("%w: %q is relative and no base-url is configured", request.ErrInvalidURL, d.URL)
	}
	if len(d.Query) > 0 {
		q := u.Query()
		for k, vals := range d.Query {
			for _, v := range vals {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

// Do sends d once. An accessToken, when set, is sent as a bearer token.
// Encoding failures are marked retry.ErrPermanent.
func (t *Transport) Do(ctx context.Context, d request.Descriptor, accessToken string) (*request.Response, error) {
	req, err := t.newRequest(ctx, d, accessToken)
	if err != nil {
		return nil, err
	}

	ctx, span := t.tracer.Start(ctx, "HTTP "+d.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", d.Method),
			attribute.String("url.full", req.URL.Redacted()),
		),
	)
	defer span.End()
	req = req.WithContext(ctx)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	httpResp, err := t.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return nil, fmt.Errorf("%s: %w", d, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, t.maxBody+1))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to read response body")
		return nil, fmt.Errorf("%s: failed to read response body: %w", d, err)
	}
	if int64(len(body)) > t.maxBody {
		err := fmt.Errorf("%w: %s: %w over %d bytes", retry.ErrPermanent, d, ErrResponseTooLarge, t.maxBody)
		span.RecordError(err)
		span.SetStatus(codes.Error, "response body too large")
		return nil, err
	}

	resp := &request.Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if !resp.Success() {
		if resp.StatusCode >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		}
		return nil, &request.StatusError{Response: resp}
	}
	return resp, nil
}

func (t *Transport) newRequest(ctx context.Context, d request.Descriptor, accessToken string) (*http.Request, error) {
	u, err := t.ResolveURL(d)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", retry.ErrPermanent, err)
	}

	var body io.Reader
	if d.Body != nil {
		data, err := json.Marshal(d.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to encode body of %s: %w", retry.ErrPermanent, d, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, d.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", retry.ErrPermanent, err)
	}
	for k, vals := range d.Header {
		for _, v := range vals {
			req.Header.Add(k, v)
		}
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return req, nil
}

// CloseIdleConnections drops pooled connections, used after reachability
// comes back so replays start on fresh connections.
func (t *Transport) CloseIdleConnections() {
	t.client.CloseIdleConnections()
}
