// Package api is the typed adapter for the code review service. Every call takes a context,
// and every failure is classified into the client's error taxonomy: transport failures and
// unreadable bodies are KindTransport, explicit refusals by the service are KindRemoteRejected
// and carry the server's message verbatim.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/smartcode/reviewctl/internal/common/httpclient"
)

// Default health probe retry policy.
const (
	DefaultHealthAttempts = 3
	DefaultHealthDelay    = 500 * time.Millisecond
)

// Client performs the service calls.
type Client struct {
	http           httpclient.HTTPClientInterface
	healthAttempts uint
	healthDelay    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHealthRetry overrides the health probe retry policy.
func WithHealthRetry(attempts uint, delay time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.healthAttempts = attempts
		}
		c.healthDelay = delay
	}
}

// New creates a Client on top of the given transport.
func New(transport httpclient.HTTPClientInterface, opts ...Option) *Client {
	c := &Client{
		http:           transport,
		healthAttempts: DefaultHealthAttempts,
		healthDelay:    DefaultHealthDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSession asks the service to create a session and mail a one-time code to email.
func (c *Client) CreateSession(ctx context.Context, email, name string) (*SessionResponse, error) {
	body, err := json.Marshal(map[string]string{"email": email, "name": name})
	if err != nil {
		return nil, ErrInvalidResponse.Err(err)
	}
	var resp SessionResponse
	err = c.call(ctx, httpclient.RequestOptions{
		Method: http.MethodPost,
		Path:   "session/create",
		Body:   body,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, ErrInvalidResponse.Msg("session created without a session id")
	}
	return &resp, nil
}

// VerifySession submits the one-time code for sessionID.
func (c *Client) VerifySession(ctx context.Context, sessionID, otp string) (*SessionResponse, error) {
	body, err := json.Marshal(map[string]string{"sessionId": sessionID, "otp": otp})
	if err != nil {
		return nil, ErrInvalidResponse.Err(err)
	}
	var resp SessionResponse
	err = c.call(ctx, httpclient.RequestOptions{
		Method: http.MethodPost,
		Path:   "session/verify",
		Body:   body,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// EndSession tells the service the session is over. The response body is ignored.
func (c *Client) EndSession(ctx context.Context, token string) error {
	body, err := json.Marshal(map[string]string{"sessionToken": token})
	if err != nil {
		return ErrInvalidResponse.Err(err)
	}
	return c.call(ctx, httpclient.RequestOptions{
		Method: http.MethodPost,
		Path:   "session/end",
		Body:   body,
		Token:  token,
	}, nil)
}

// SubmitCode submits inline source code for analysis.
func (c *Client) SubmitCode(ctx context.Context, token, code, language string) (*SubmitResponse, error) {
	body, err := json.Marshal(map[string]string{
		"code":         code,
		"language":     language,
		"sessionToken": token,
	})
	if err != nil {
		return nil, ErrInvalidResponse.Err(err)
	}
	return c.submit(ctx, httpclient.RequestOptions{
		Method: http.MethodPost,
		Path:   "analyze/code",
		Body:   body,
		Token:  token,
	})
}

// SubmitArchive uploads an archive as multipart form data with the fields "file" and
// "sessionToken".
func (c *Client) SubmitArchive(ctx context.Context, token, fileName string, data []byte) (*SubmitResponse, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filepath.Base(fileName))
	if err != nil {
		return nil, ErrInvalidResponse.Err(err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, ErrInvalidResponse.Err(err)
	}
	if err := w.WriteField("sessionToken", token); err != nil {
		return nil, ErrInvalidResponse.Err(err)
	}
	if err := w.Close(); err != nil {
		return nil, ErrInvalidResponse.Err(err)
	}

	return c.submit(ctx, httpclient.RequestOptions{
		Method:      http.MethodPost,
		Path:        "analyze/zip",
		Body:        buf.Bytes(),
		ContentType: w.FormDataContentType(),
		Token:       token,
	})
}

func (c *Client) submit(ctx context.Context, opts httpclient.RequestOptions) (*SubmitResponse, error) {
	var resp SubmitResponse
	if err := c.call(ctx, opts, &resp); err != nil {
		return nil, err
	}
	if resp.AnalysisID == "" {
		return nil, ErrInvalidResponse.Msg("analysis accepted without an analysis id")
	}
	return &resp, nil
}

// GetAnalysis fetches the authoritative status of an analysis.
func (c *Client) GetAnalysis(ctx context.Context, token, analysisID string) (*AnalysisResponse, error) {
	var resp AnalysisResponse
	err := c.call(ctx, httpclient.RequestOptions{
		Method:      http.MethodGet,
		Path:        "analysis/" + url.PathEscape(analysisID),
		QueryParams: map[string]string{"sessionToken": token},
		Token:       token,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.AnalysisID == "" {
		resp.AnalysisID = analysisID
	}
	return &resp, nil
}

// GetPartial fetches the in-progress narrative of an analysis. Findings that are objects
// rather than strings are returned as their raw JSON.
func (c *Client) GetPartial(ctx context.Context, token, analysisID string) (Partial, error) {
	body, err := c.fetch(ctx, httpclient.RequestOptions{
		Method:      http.MethodGet,
		Path:        "partial/" + url.PathEscape(analysisID),
		QueryParams: map[string]string{"sessionToken": token},
		Token:       token,
	})
	if err != nil {
		return Partial{}, err
	}

	p := Partial{Message: gjson.GetBytes(body, "partial.message").String()}
	gjson.GetBytes(body, "partial.findings").ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.String {
			p.Findings = append(p.Findings, v.String())
		} else {
			p.Findings = append(p.Findings, v.Raw)
		}
		return true
	})
	return p, nil
}

// Health probes the service, retrying transport failures before reporting it down.
// A response that parses is returned even when the status is not UP.
func (c *Client) Health(ctx context.Context) (Health, error) {
	h, err := retry.DoWithData(
		func() (Health, error) {
			body, err := c.fetch(ctx, httpclient.RequestOptions{
				Method: http.MethodGet,
				Path:   "health",
			})
			if err != nil {
				return Health{}, err
			}
			return Health{
				Status:          gjson.GetBytes(body, "status").String(),
				CurrentSessions: int(gjson.GetBytes(body, "currentSessions").Int()),
				MaxSessions:     int(gjson.GetBytes(body, "maxSessions").Int()),
				SessionCapacity: gjson.GetBytes(body, "sessionCapacity").String(),
			}, nil
		},
		retry.Context(ctx),
		retry.Attempts(c.healthAttempts),
		retry.Delay(c.healthDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Uint("attempt", n+1).Err(err).Msg("health probe failed, retrying")
		}),
	)
	if err != nil {
		return Health{}, ErrServiceDown.Err(err)
	}
	return h, nil
}

// call performs the request and decodes the body into out when out is not nil.
func (c *Client) call(ctx context.Context, opts httpclient.RequestOptions, out any) error {
	body, err := c.fetch(ctx, opts)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return ErrInvalidResponse.Err(err)
	}
	return nil
}

// fetch performs the request and returns a body that is known to be valid JSON with no
// success:false marker. An empty body is accepted as an empty object.
func (c *Client) fetch(ctx context.Context, opts httpclient.RequestOptions) ([]byte, error) {
	body, err := c.http.DoRequest(ctx, opts)
	if err != nil {
		return nil, classify(err)
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return []byte("{}"), nil
	}
	if !gjson.ValidBytes(body) {
		return nil, ErrInvalidResponse.Msg("response is not valid JSON")
	}
	if s := gjson.GetBytes(body, "success"); s.Type == gjson.False {
		msg := gjson.GetBytes(body, "message").String()
		if msg == "" {
			return nil, ErrRemoteRejected
		}
		return nil, ErrRemoteRejected.Msg(msg)
	}
	return body, nil
}

// classify maps a transport level error into the taxonomy. An error response that carries a
// JSON message is a refusal by the service; anything else means the service could not be used.
func classify(err error) error {
	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) && gjson.ValidBytes(httpErr.Body) {
		if m := gjson.GetBytes(httpErr.Body, "message"); m.Type == gjson.String && m.String() != "" {
			return ErrRemoteRejected.MsgErr(m.String(), err)
		}
	}
	return ErrTransport.Err(err)
}
