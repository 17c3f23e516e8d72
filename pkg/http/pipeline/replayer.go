package pipeline

import (
	"context"
	"errors"
	"net/http"

	"github.com/Sokol111/ecommerce-resilience/pkg/http/offline"
	"github.com/Sokol111/ecommerce-resilience/pkg/http/request"
)

// NewReplayer returns the offline queue's replay function. It sends straight
// over transport with the current token and refreshes once on 401. Dedup, the
// retry policy and the offline branch are bypassed because the queue has its
// own retry ceiling. tokens may be nil.
func NewReplayer(transport Dispatcher, tokens TokenProvider) offline.ReplayFunc {
	return func(ctx context.Context, d request.Descriptor) (*request.Response, error) {
		var accessToken string
		if tokens != nil {
			accessToken = tokens.CurrentToken()
		}
		resp, err := transport.Do(ctx, d, accessToken)

		var statusErr *request.StatusError
		if tokens == nil || !errors.As(err, &statusErr) || statusErr.StatusCode() != http.StatusUnauthorized {
			return resp, err
		}
		pair, err := tokens.Refresh(ctx)
		if err != nil {
			return nil, err
		}
		accessToken = pair.AccessToken
		if accessToken == "" {
			accessToken = tokens.CurrentToken()
		}
		return transport.Do(ctx, d, accessToken)
	}
}
