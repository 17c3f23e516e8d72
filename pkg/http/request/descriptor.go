package request

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var (
	ErrInvalidMethod  = errors.New("invalid request method")
	ErrInvalidURL     = errors.New("invalid request url")
	ErrBodyNotAllowed = errors.New("request body not allowed for method")
)

var knownMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
}

var mutatingMethods = map[string]bool{
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Descriptor is an outbound call as seen by the pipeline. It is built once by
// New and treated as read-only afterwards; code that needs to add headers
// works on a Clone. Cancellation is not part of the descriptor: it travels in
// the context returned when the request is admitted.
type Descriptor struct {
	Method string      `json:"method"`
	URL    string      `json:"url"`
	Query  url.Values  `json:"query,omitempty"`
	Body   any         `json:"body,omitempty"`
	Header http.Header `json:"header,omitempty"`
	Opts   Options     `json:"options"`
}

// Option configures a Descriptor in New.
type Option func(*Descriptor)

// WithQuery sets the query parameters. Values are copied.
func WithQuery(q url.Values) Option {
	return func(d *Descriptor) {
		d.Query = cloneValues(q)
	}
}

// WithQueryParam adds a single query parameter.
func WithQueryParam(key, value string) Option {
	return func(d *Descriptor) {
		if d.Query == nil {
			d.Query = url.Values{}
		}
		d.Query.Add(key, value)
	}
}

// WithBody sets the payload. It is encoded as JSON at dispatch time.
func WithBody(body any) Option {
	return func(d *Descriptor) {
		d.Body = body
	}
}

// WithHeader sets a request header.
func WithHeader(key, value string) Option {
	return func(d *Descriptor) {
		if d.Header == nil {
			d.Header = http.Header{}
		}
		d.Header.Set(key, value)
	}
}

// WithOptions replaces the request options.
func WithOptions(o Options) Option {
	return func(d *Descriptor) {
		d.Opts = o
	}
}

// NoRetry is shorthand for setting Options.NoRetry.
func NoRetry() Option { return func(d *Descriptor) { d.Opts.NoRetry = true } }

// AllowDuplicate is shorthand for setting Options.AllowDuplicate.
func AllowDuplicate() Option { return func(d *Descriptor) { d.Opts.AllowDuplicate = true } }

// NoCache is shorthand for setting Options.NoCache.
func NoCache() Option { return func(d *Descriptor) { d.Opts.NoCache = true } }

// SkipAuthRefresh is shorthand for setting Options.SkipAuthRefresh.
func SkipAuthRefresh() Option { return func(d *Descriptor) { d.Opts.SkipAuthRefresh = true } }

// New builds and validates a descriptor. The method is upper-cased; the URL may
// be absolute or a path relative to the client's base URL.
func New(method, rawURL string, opts ...Option) (Descriptor, error) {
	d := Descriptor{
		Method: strings.ToUpper(strings.TrimSpace(method)),
		URL:    strings.TrimSpace(rawURL),
	}
	for _, opt := range opts {
		opt(&d)
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// MustNew is New for package-level request templates; it panics on error.
func MustNew(method, rawURL string, opts ...Option) Descriptor {
	d, err := New(method, rawURL, opts...)
	if err != nil {
		panic(err)
	}
	return d
}

// Validate checks the method, the URL and that bodies only go with methods that carry one.
func (d Descriptor) Validate() error {
	if !knownMethods[d.Method] {
		return fmt.Errorf("%w: %q", ErrInvalidMethod, d.Method)
	}
	if d.URL == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	if _, err := url.Parse(d.URL); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if d.Body != nil && !mutatingMethods[d.Method] {
		return fmt.Errorf("%w: %s", ErrBodyNotAllowed, d.Method)
	}
	return nil
}

// IsMutating reports whether the method changes server state.
func (d Descriptor) IsMutating() bool {
	return mutatingMethods[d.Method]
}

// Clone returns a copy with its own header and query maps. Body is shared.
func (d Descriptor) Clone() Descriptor {
	c := d
	c.Header = d.Header.Clone()
	c.Query = cloneValues(d.Query)
	return c
}

// WithHeader returns a clone carrying the extra header.
func (d Descriptor) WithHeader(key, value string) Descriptor {
	c := d.Clone()
	if c.Header == nil {
		c.Header = http.Header{}
	}
	c.Header.Set(key, value)
	return c
}

func (d Descriptor) String() string {
	if len(d.Query) == 0 {
		return d.Method + " " + d.URL
	}
	return d.Method + " " + d.URL + "?" + d.Query.Encode()
}

func cloneValues(v url.Values) url.Values {
	if v == nil {
		return nil
	}
	c := make(url.Values, len(v))
	for k, vals := range v {
		c[k] = append([]string(nil), vals...)
	}
	return c
}
