// Package httpclient provides the HTTP transport used to reach the remote analysis service.
// It builds requests relative to a configured base URL, attaches bearer tokens and request IDs,
// and reports non-2xx responses as *HTTPError with the raw body preserved for classification.
package httpclient

import "context"

// HTTPClientInterface is the transport consumed by the API adapter.
type HTTPClientInterface interface {
	// DoRequest makes an HTTP request with the given options and returns the response body.
	// Responses with status >= 400 are returned as *HTTPError.
	DoRequest(ctx context.Context, opts RequestOptions) ([]byte, error)
}

var _ HTTPClientInterface = &HTTPClient{}
