// Package app wires the session stack together. Both the CLI and the
// console build one App and share it across their handlers.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/userdesk-dev/userdesk/internal/api"
	"github.com/userdesk-dev/userdesk/internal/httpclient"
	"github.com/userdesk-dev/userdesk/internal/metrics"
	"github.com/userdesk-dev/userdesk/internal/session"
	"github.com/userdesk-dev/userdesk/internal/tokenstore"
)

// Options configures New.
type Options struct {
	APIURL  string
	Tokens  tokenstore.Store
	Timeout time.Duration
	Tracing bool
	Version string
	Logger  zerolog.Logger
	// HTTPClient overrides the transport. It should carry a cookie jar; one
	// is added if missing.
	HTTPClient *http.Client
	// Registry receives the client metrics. Defaults to a private registry.
	Registry *prometheus.Registry
}

// App is the wired session stack.
type App struct {
	Tokens   tokenstore.Store
	Auth     *api.AuthClient
	Users    *api.UsersClient
	Session  *session.Controller
	Registry *prometheus.Registry
	Logger   zerolog.Logger
	APIURL   string
}

// New builds the stack:
//
//	Token Store <- Auth API Client (no retry) <- Session Controller
//	Token Store <- Users API Client (refresh via Session Controller)
func New(opts Options) (*App, error) {
	if opts.Tokens == nil {
		return nil, errors.New("app: token store is required")
	}

	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		withJar := *hc
		withJar.Jar = jar
		hc = &withJar
	}

	registry := opts.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	collector := metrics.NewCollector(registry)

	userAgent := "userdesk"
	if opts.Version != "" {
		userAgent = "userdesk/" + opts.Version
	}

	authHTTP, err := httpclient.New(httpclient.Options{
		BaseURL:    opts.APIURL,
		HTTPClient: hc,
		Tokens:     opts.Tokens,
		Logger:     opts.Logger.With().Str("client", "auth").Logger(),
		Metrics:    collector,
		UserAgent:  userAgent,
		Tracing:    opts.Tracing,
	})
	if err != nil {
		return nil, err
	}
	// The bearer client refreshes through the session, which itself needs
	// the auth client; sess is assigned before any request can be sent.
	var sess *session.Controller
	bearerHTTP, err := httpclient.New(httpclient.Options{
		BaseURL:    opts.APIURL,
		HTTPClient: hc,
		Tokens:     opts.Tokens,
		Refresh: func(ctx context.Context) (string, error) {
			return sess.RefreshToken(ctx)
		},
		Logger:    opts.Logger.With().Str("client", "bearer").Logger(),
		Metrics:   collector,
		UserAgent: userAgent,
		Tracing:   opts.Tracing,
	})
	if err != nil {
		return nil, err
	}
	auth := api.NewAuthClient(authHTTP, bearerHTTP)
	sess = session.New(auth, opts.Tokens, opts.Logger)

	return &App{
		Tokens:   opts.Tokens,
		Auth:     auth,
		Users:    api.NewUsersClient(bearerHTTP),
		Session:  sess,
		Registry: registry,
		Logger:   opts.Logger,
		APIURL:   authHTTP.BaseURL(),
	}, nil
}
