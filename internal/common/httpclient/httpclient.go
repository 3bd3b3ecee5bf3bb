package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/smartcode/reviewctl/internal/common/uuid"
)

// DefaultTimeout bounds a single request when the configuration does not set one.
const DefaultTimeout = 30 * time.Second

// RequestIDHeader carries the client generated request ID.
const RequestIDHeader = "X-Request-ID"

// Configurator provides the server location and transport settings.
type Configurator interface {
	GetServerURL() string
	GetRequestTimeout() time.Duration
	GetSkipTLSVerify() bool
}

// HTTPError represents a response with status >= 400.
type HTTPError struct {
	StatusCode int    // HTTP status code of the response
	Message    string // server supplied message, or the body when none could be extracted
	Body       []byte // raw response body
}

// Error implements the error interface for HTTPError.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// HTTPClient makes requests against the configured server.
type HTTPClient struct {
	config     Configurator
	httpClient *http.Client
}

// ClientOptions contains options for configuring the HTTP client.
type ClientOptions struct {
	Transport http.RoundTripper // optional transport override
}

// NewClient creates a new HTTP client using the provided configuration.
func NewClient(config Configurator, opts ...ClientOptions) *HTTPClient {
	clientOpts := ClientOptions{}
	if len(opts) > 0 {
		clientOpts = opts[0]
	}

	timeout := config.GetRequestTimeout()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := &http.Client{Timeout: timeout}

	switch {
	case clientOpts.Transport != nil:
		httpClient.Transport = clientOpts.Transport
	case config.GetSkipTLSVerify():
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		}
	}

	return &HTTPClient{
		config:     config,
		httpClient: httpClient,
	}
}

// RequestOptions contains options for making HTTP requests.
type RequestOptions struct {
	Method      string            // HTTP method (GET, POST)
	Path        string            // endpoint path relative to the server URL
	QueryParams map[string]string // optional query parameters
	Body        []byte            // optional request body
	ContentType string            // defaults to application/json
	Token       string            // optional bearer token
}

// DoRequest makes an HTTP request with the given options and returns the response body.
func (c *HTTPClient) DoRequest(ctx context.Context, opts RequestOptions) ([]byte, error) {
	u, err := url.Parse(c.config.GetServerURL())
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	u.Path = path.Join(u.Path, opts.Path)

	q := u.Query()
	for k, v := range opts.QueryParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, opts.Method, u.String(), bytes.NewReader(opts.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	requestID := uuid.NewRequestID()
	req.Header.Set(RequestIDHeader, requestID)
	if opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.Token)
	}

	logger := log.With().Str("request_id", requestID).Str("method", opts.Method).Str("path", opts.Path).Logger()
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Debug().Err(err).Msg("request failed")
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	logger.Debug().Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("request completed")

	if resp.StatusCode >= 400 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, body),
			Body:       body,
		}
	}

	return body, nil
}

// errorMessage extracts a message from an error body. The service uses "message"; "error" is
// accepted as well.
func errorMessage(status int, body []byte) string {
	if gjson.ValidBytes(body) {
		for _, key := range []string{"message", "error"} {
			if m := gjson.GetBytes(body, key); m.Type == gjson.String && m.String() != "" {
				return m.String()
			}
		}
	}
	if status == http.StatusNotFound {
		return "server doesn't implement this endpoint"
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return http.StatusText(status)
}
