package request

// Options are per-request switches consulted at the matching decision point
// of the pipeline. The zero value gives the default behavior.
type Options struct {
	// NoRetry disables retry with backoff for this request.
	NoRetry bool `json:"noRetry,omitempty"`
	// AllowDuplicate exempts the request from in-flight deduplication.
	AllowDuplicate bool `json:"allowDuplicate,omitempty"`
	// NoCache keeps the request out of the offline queue and the response cache.
	NoCache bool `json:"noCache,omitempty"`
	// SkipAuthRefresh marks calls that must not trigger a token refresh on 401,
	// such as the refresh endpoint itself.
	SkipAuthRefresh bool `json:"skipAuthRefresh,omitempty"`
}
