// Package api contains typed clients for the account API's authentication
// and user endpoints.
package api

import "strings"

// User is the identity record returned by the API. Clients never mutate a
// User in place; updates return a whole new record.
type User struct {
	ID        int64  `json:"id" yaml:"id"`
	Email     string `json:"email" yaml:"email"`
	FirstName string `json:"firstName" yaml:"firstName"`
	LastName  string `json:"lastName" yaml:"lastName"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// AuthData is returned by every operation that starts a session.
type AuthData struct {
	AccessToken string `json:"accessToken"`
	User        User   `json:"user"`
}

// RegisterRequest is the body of POST /registration
type RegisterRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// LoginRequest is the body of POST /login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UpdateNameRequest is the body of PATCH /users/me
type UpdateNameRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// UpdatePasswordRequest is the body of PATCH /users/me/password
type UpdatePasswordRequest struct {
	OldPassword     string `json:"oldPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// UpdateEmailRequest is the body of PATCH /users/me/email
type UpdateEmailRequest struct {
	NewEmail string `json:"newEmail"`
	Password string `json:"password"`
}
