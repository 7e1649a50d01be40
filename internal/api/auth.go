package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/userdesk-dev/userdesk/internal/httpclient"
)

// Provider names a third-party identity provider.
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderGitHub Provider = "github"
)

// ErrEmptyAccessToken is returned when a session-starting call succeeds but
// the response carries no access token.
var ErrEmptyAccessToken = errors.New("api: response did not include an access token")

// AuthClient performs the authentication endpoints. The public endpoints go
// through a client without a refresh function: /refresh is called from the
// refresh path and must never trigger another refresh. Bearer endpoints go
// through bearer, which recovers from an expired access token.
type AuthClient struct {
	http   *httpclient.Client
	bearer *httpclient.Client
}

// NewAuthClient wraps c for the public endpoints and bearer for the
// bearer-authenticated ones. A nil bearer falls back to c.
func NewAuthClient(c, bearer *httpclient.Client) *AuthClient {
	if bearer == nil {
		bearer = c
	}
	return &AuthClient{http: c, bearer: bearer}
}

// Register creates an account. The activation email is sent out of band.
func (a *AuthClient) Register(ctx context.Context, req RegisterRequest) error {
	return a.http.DoJSON(ctx, http.MethodPost, "/registration", req, nil)
}

// Activate exchanges a single-use activation token for a session.
func (a *AuthClient) Activate(ctx context.Context, token string) (*AuthData, error) {
	return a.authData(ctx, http.MethodGet, "/activation/"+url.PathEscape(token), nil)
}

func (a *AuthClient) Login(ctx context.Context, email, password string) (*AuthData, error) {
	return a.authData(ctx, http.MethodPost, "/login", LoginRequest{Email: email, Password: password})
}

// Logout invalidates the server-side refresh credential.
func (a *AuthClient) Logout(ctx context.Context) error {
	return a.bearer.DoJSON(ctx, http.MethodPost, "/logout", nil, nil)
}

// Refresh mints a new access token from the ambient refresh cookie.
func (a *AuthClient) Refresh(ctx context.Context) (*AuthData, error) {
	return a.authData(ctx, http.MethodGet, "/refresh", nil)
}

// RequestPasswordReset asks for a reset email. The API answers the same way
// whether or not the account exists.
func (a *AuthClient) RequestPasswordReset(ctx context.Context, email string) error {
	return a.http.DoJSON(ctx, http.MethodPost, "/reset-password", map[string]string{"email": email}, nil)
}

func (a *AuthClient) ConfirmPasswordReset(ctx context.Context, token, password string) error {
	path := "/reset-password/" + url.PathEscape(token)
	return a.http.DoJSON(ctx, http.MethodPost, path, map[string]string{"password": password}, nil)
}

// GoogleSignIn exchanges a Google ID token credential for a session.
func (a *AuthClient) GoogleSignIn(ctx context.Context, credential string) (*AuthData, error) {
	return a.authData(ctx, http.MethodPost, "/google", map[string]string{"credential": credential})
}

// GitHubSignIn exchanges a GitHub OAuth code for a session.
func (a *AuthClient) GitHubSignIn(ctx context.Context, code string) (*AuthData, error) {
	return a.authData(ctx, http.MethodPost, "/auth/github/callback", map[string]string{"code": code})
}

// SocialSignIn dispatches to the provider-specific exchange.
func (a *AuthClient) SocialSignIn(ctx context.Context, provider Provider, credential string) (*AuthData, error) {
	switch provider {
	case ProviderGoogle:
		return a.GoogleSignIn(ctx, credential)
	case ProviderGitHub:
		return a.GitHubSignIn(ctx, credential)
	default:
		return nil, &UnknownProviderError{Provider: provider}
	}
}

func (a *AuthClient) authData(ctx context.Context, method, path string, body any) (*AuthData, error) {
	var data AuthData
	if err := a.http.DoJSON(ctx, method, path, body, &data); err != nil {
		return nil, err
	}
	if data.AccessToken == "" {
		return nil, ErrEmptyAccessToken
	}
	return &data, nil
}

// UnknownProviderError is returned for an unsupported social provider.
type UnknownProviderError struct {
	Provider Provider
}

func (e *UnknownProviderError) Error() string {
	return "api: unknown sign-in provider " + string(e.Provider)
}

// ParseProvider validates a provider name.
func ParseProvider(name string) (Provider, error) {
	switch p := Provider(name); p {
	case ProviderGoogle, ProviderGitHub:
		return p, nil
	default:
		return "", &UnknownProviderError{Provider: p}
	}
}
