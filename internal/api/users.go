package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/userdesk-dev/userdesk/internal/httpclient"
)

// UsersClient performs the bearer-authenticated user endpoints. It is meant
// to be built on a refreshing httpclient.Client.
type UsersClient struct {
	http *httpclient.Client
}

func NewUsersClient(c *httpclient.Client) *UsersClient {
	return &UsersClient{http: c}
}

// List returns all users.
func (u *UsersClient) List(ctx context.Context) ([]User, error) {
	var users []User
	if err := u.http.DoJSON(ctx, http.MethodGet, "/users", nil, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// UpdateName replaces the current user's name and returns the new record.
func (u *UsersClient) UpdateName(ctx context.Context, req UpdateNameRequest) (*User, error) {
	var user User
	if err := u.http.DoJSON(ctx, http.MethodPatch, "/users/me", req, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (u *UsersClient) UpdatePassword(ctx context.Context, req UpdatePasswordRequest) error {
	return u.http.DoJSON(ctx, http.MethodPatch, "/users/me/password", req, nil)
}

// UpdateEmail starts an email change; the API mails a confirmation link to
// the new address.
func (u *UsersClient) UpdateEmail(ctx context.Context, req UpdateEmailRequest) error {
	return u.http.DoJSON(ctx, http.MethodPatch, "/users/me/email", req, nil)
}

// ConfirmEmailChange completes an email change. The API rotates the session
// and returns a new access token with the updated user.
func (u *UsersClient) ConfirmEmailChange(ctx context.Context, token string) (*AuthData, error) {
	var data AuthData
	path := "/users/me/confirm-email-change/" + url.PathEscape(token)
	if err := u.http.DoJSON(ctx, http.MethodGet, path, nil, &data); err != nil {
		return nil, err
	}
	if data.AccessToken == "" {
		return nil, ErrEmptyAccessToken
	}
	return &data, nil
}
