// Package httpclient performs authenticated calls against the account API.
//
// Every request carries the stored access token as a bearer credential.
// When the API answers 401 the client refreshes the token once and replays
// the request once; the refresh credential itself is an HTTP-only cookie
// that lives in the underlying http.Client's jar and is never read here.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"github.com/userdesk-dev/userdesk/internal/tokenstore"
)

const (
	bearerPrefix    = "Bearer "
	requestIDHeader = "X-Request-ID"
	refreshFlightID = "refresh"
)

// RefreshFunc obtains a new access token using the ambient refresh
// credential. It must not go through a refreshing Client.
type RefreshFunc func(ctx context.Context) (string, error)

// Recorder receives client-side metrics.
type Recorder interface {
	RecordRequest(method string, statusCode int, elapsed time.Duration)
	RecordRetry()
	RecordRefresh(ok bool)
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(string, int, time.Duration) {}
func (nopRecorder) RecordRetry()                             {}
func (nopRecorder) RecordRefresh(bool)                       {}

// Options configures a Client.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Tokens     tokenstore.Store
	// Refresh enables the 401 recovery path. Nil means NoRetry.
	Refresh RefreshFunc
	// Policy overrides the retry policy. Defaults to DefaultRetryPolicy when
	// Refresh is set and NoRetry otherwise.
	Policy    *RetryPolicy
	Logger    zerolog.Logger
	Metrics   Recorder
	UserAgent string
	// Tracing wraps the transport with OpenTelemetry instrumentation.
	Tracing bool
}

// Client sends JSON requests to the account API.
type Client struct {
	baseURL   *url.URL
	http      *http.Client
	tokens    tokenstore.Store
	refresh   RefreshFunc
	policy    RetryPolicy
	logger    zerolog.Logger
	metrics   Recorder
	userAgent string

	flight singleflight.Group
}

// Request describes one logical API call. Body, if set, is encoded as JSON
// once and replayed unchanged on retry.
type Request struct {
	Method string
	Path   string
	Body   any
}

// New creates a new API client
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("httpclient: base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("httpclient: invalid base URL %q: %w", opts.BaseURL, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("httpclient: base URL %q must be absolute", opts.BaseURL)
	}
	if opts.Tokens == nil {
		return nil, errors.New("httpclient: token store is required")
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Tracing {
		traced := *hc
		traced.Transport = otelhttp.NewTransport(transportOrDefault(hc.Transport))
		hc = &traced
	}

	policy := NoRetry()
	if opts.Refresh != nil {
		policy = DefaultRetryPolicy()
		if opts.Policy != nil {
			policy = *opts.Policy
		}
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopRecorder{}
	}

	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = "userdesk"
	}

	return &Client{
		baseURL:   base,
		http:      hc,
		tokens:    opts.Tokens,
		refresh:   opts.Refresh,
		policy:    policy,
		logger:    opts.Logger,
		metrics:   metrics,
		userAgent: userAgent,
	}, nil
}

func transportOrDefault(rt http.RoundTripper) http.RoundTripper {
	if rt == nil {
		return http.DefaultTransport
	}
	return rt
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// Send performs r and returns the successful (2xx) response, whose body the
// caller must close. Error responses are returned as *Error, failures with
// no response as *TransportError, and an unrecoverable 401 as *RefreshError.
func (c *Client) Send(ctx context.Context, r Request) (*http.Response, error) {
	var payload []byte
	if r.Body != nil {
		var err error
		payload, err = json.Marshal(r.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	token := tokenstore.Current(c.tokens)
	for attempt := 1; ; attempt++ {
		resp, err := c.sendOnce(ctx, r, payload, token, attempt)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		apiErr := readError(resp, r.Method, r.Path)
		if !c.policy.allows(resp.StatusCode, attempt) {
			return nil, apiErr
		}

		c.metrics.RecordRetry()
		c.logger.Debug().
			Str("method", r.Method).
			Str("path", r.Path).
			Int("status", resp.StatusCode).
			Int("attempt", attempt).
			Msg("Access token rejected, refreshing")

		fresh, err := c.refreshAfter(ctx, token)
		if err != nil {
			return nil, &RefreshError{Original: apiErr, Err: err}
		}
		token = fresh
	}
}

func (c *Client) sendOnce(ctx context.Context, r Request, payload []byte, token string, attempt int) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, c.resolve(r.Path), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if token != "" {
		req.Header.Set("Authorization", bearerPrefix+token)
	}
	requestID := ulid.Make().String()
	req.Header.Set(requestIDHeader, requestID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.Path).
			Msg("Request failed without response")
		return nil, &TransportError{Method: r.Method, Path: r.Path, Err: err}
	}
	elapsed := time.Since(start)
	c.metrics.RecordRequest(r.Method, resp.StatusCode, elapsed)

	c.logger.Debug().
		Str("request_id", requestID).
		Str("method", r.Method).
		Str("path", r.Path).
		Int("status", resp.StatusCode).
		Int("attempt", attempt).
		Bool("authenticated", token != "").
		Dur("elapsed", elapsed).
		Msg("API request")

	return resp, nil
}

// refreshAfter returns a token to replace rejected. Concurrent callers share
// one in-flight refresh, and a caller whose rejected token has already been
// replaced in the store reuses the replacement instead of refreshing again.
func (c *Client) refreshAfter(ctx context.Context, rejected string) (string, error) {
	v, err, shared := c.flight.Do(refreshFlightID, func() (any, error) {
		if current := tokenstore.Current(c.tokens); current != "" && current != rejected {
			return current, nil
		}

		// Detached so one caller's cancellation doesn't fail every waiter;
		// the http.Client timeout still bounds it.
		token, err := c.refresh(context.WithoutCancel(ctx))
		c.metrics.RecordRefresh(err == nil)
		if err != nil {
			return "", err
		}
		if err := c.tokens.Save(token); err != nil {
			return "", fmt.Errorf("failed to store refreshed token: %w", err)
		}
		return token, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		c.logger.Debug().Msg("Joined in-flight token refresh")
	}
	return v.(string), nil
}

func (c *Client) resolve(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL.String() + path
}

// DoJSON sends in (if non-nil) as the JSON body and decodes the response
// into out (if non-nil). An empty response body leaves out untouched.
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.Send(ctx, Request{Method: method, Path: path, Body: in})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
