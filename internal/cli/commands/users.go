package commands

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/userdesk-dev/userdesk/internal/tokenstore"
)

// NewUsersCmd creates the users command
func NewUsersCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Browse user accounts",
	}

	cmd.AddCommand(&cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.App()
			if err != nil {
				return err
			}
			if err := env.requireToken(a); err != nil {
				return err
			}

			users, err := a.Users.List(cmd.Context())
			if err != nil {
				return sessionError("failed to list users", err)
			}

			if len(users) == 0 && env.Output == formatTable {
				fmt.Fprintln(env.Out, "No users found.")
				return nil
			}

			return env.printValue(users, func(w io.Writer) {
				printUserTable(w, users...)
			})
		},
	})

	return cmd
}

// Status describes the locally stored session
type Status struct {
	APIURL    string     `json:"apiUrl" yaml:"apiUrl"`
	LoggedIn  bool       `json:"loggedIn" yaml:"loggedIn"`
	Email     string     `json:"email,omitempty" yaml:"email,omitempty"`
	UserID    string     `json:"userId,omitempty" yaml:"userId,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty" yaml:"expiresAt,omitempty"`
	Expired   bool       `json:"expired" yaml:"expired"`
}

// NewStatusCmd creates the status command
func NewStatusCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		Long: `Show the stored session. The access token is decoded locally without
verifying its signature; the API stays the authority on whether it is valid.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.App()
			if err != nil {
				return err
			}

			status, err := readStatus(a.APIURL, a.Tokens, time.Now())
			if err != nil {
				return err
			}

			return env.printValue(status, func(w io.Writer) {
				fmt.Fprintf(w, "API:\t%s\n", status.APIURL)
				if !status.LoggedIn {
					fmt.Fprintln(w, "Session:\tnot logged in")
					return
				}
				fmt.Fprintf(w, "Email:\t%s\n", status.Email)
				if status.ExpiresAt != nil {
					state := "valid"
					if status.Expired {
						state = "expired, renewed on next request if the refresh session is still valid"
					}
					fmt.Fprintf(w, "Token expires:\t%s (%s)\n", status.ExpiresAt.Local().Format(time.RFC1123), state)
				}
			})
		},
	}
}

func readStatus(apiURL string, tokens tokenstore.Store, now time.Time) (*Status, error) {
	status := &Status{APIURL: apiURL}

	token, err := tokens.Load()
	if errors.Is(err, tokenstore.ErrNotFound) || (err == nil && token == "") {
		return status, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read access token: %w", err)
	}
	status.LoggedIn = true

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// Opaque tokens are valid too; there is just nothing to show
		return status, nil
	}

	if email, ok := claims["email"].(string); ok {
		status.Email = email
	}
	if sub, err := claims.GetSubject(); err == nil {
		status.UserID = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time
		status.ExpiresAt = &t
		status.Expired = !now.Before(t)
	}
	return status, nil
}
