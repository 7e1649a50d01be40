package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/userdesk-dev/userdesk/internal/api"
	"github.com/userdesk-dev/userdesk/internal/httpclient"
	"github.com/userdesk-dev/userdesk/internal/validation"
)

const (
	envEmail    = "USERDESK_EMAIL"
	envPassword = "USERDESK_PASSWORD"
)

// NewRegisterCmd creates the register command
func NewRegisterCmd(env *Env) *cobra.Command {
	var form validation.Registration

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a new account",
		Long: `Create a new account. The API mails an activation link; finish with
'userdesk activate <token>'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegister(cmd, env, form)
		},
	}

	cmd.Flags().StringVar(&form.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&form.LastName, "last-name", "", "Last name")
	cmd.Flags().StringVar(&form.Email, "email", "", "Email address (or set USERDESK_EMAIL)")
	cmd.Flags().StringVar(&form.Password, "password", "", "Password (or set USERDESK_PASSWORD, will prompt if not provided)")

	return cmd
}

func runRegister(cmd *cobra.Command, env *Env, form validation.Registration) error {
	var err error
	if form.FirstName, err = env.valueOr(form.FirstName, "", "First name", "", false, "use --first-name"); err != nil {
		return err
	}
	if form.LastName, err = env.valueOr(form.LastName, "", "Last name", "", false, "use --last-name"); err != nil {
		return err
	}
	if form.Email, err = env.valueOr(form.Email, envEmail, "Email", "", false, "use --email flag or "+envEmail+" env var"); err != nil {
		return err
	}

	if form.Password == "" {
		form.Password = os.Getenv(envPassword)
	}
	if form.Password == "" {
		if form.Password, err = env.valueOr("", "", "Password", "", true, "use --password flag or "+envPassword+" env var"); err != nil {
			return err
		}
		if form.ConfirmPassword, err = env.valueOr("", "", "Confirm password", "", true, "use --password flag"); err != nil {
			return err
		}
	} else {
		form.ConfirmPassword = form.Password
	}

	if err := validation.New().Struct(&form); err != nil {
		return err
	}

	a, err := env.App()
	if err != nil {
		return err
	}

	err = a.Auth.Register(cmd.Context(), api.RegisterRequest{
		FirstName: form.FirstName,
		LastName:  form.LastName,
		Email:     form.Email,
		Password:  form.Password,
	})
	if err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	env.remember(a.APIURL, form.Email)
	fmt.Fprintln(env.Out, "✓ Registration successful!")
	fmt.Fprintf(env.Out, "  Check %s for the activation link, then run: userdesk activate <token>\n", form.Email)
	return nil
}

// NewActivateCmd creates the activate command
func NewActivateCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <token>",
		Short: "Activate an account and sign in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.App()
			if err != nil {
				return err
			}

			if err := a.Session.Activate(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("activation failed: %w", err)
			}

			return env.printSignedIn(a.Session.Snapshot().CurrentUser, a.APIURL, "✓ Account activated!")
		},
	}
}

// NewLoginCmd creates the login command
func NewLoginCmd(env *Env) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in with email and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd, env, email, password)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (or set USERDESK_EMAIL)")
	cmd.Flags().StringVar(&password, "password", "", "Password (or set USERDESK_PASSWORD, will prompt if not provided)")

	return cmd
}

func runLogin(cmd *cobra.Command, env *Env, email, password string) error {
	var err error
	email, err = env.valueOr(email, envEmail, "Email", env.lastEmail(), false, "use --email flag or "+envEmail+" env var")
	if err != nil {
		return err
	}
	password, err = env.valueOr(password, envPassword, "Password", "", true, "use --password flag or "+envPassword+" env var")
	if err != nil {
		return err
	}

	if err := validation.New().Struct(validation.Login{Email: email, Password: password}); err != nil {
		return err
	}

	a, err := env.App()
	if err != nil {
		return err
	}

	env.Logger.Debug().Str("api", a.APIURL).Str("email", email).Msg("Logging in")
	if err := a.Session.Login(cmd.Context(), email, password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	return env.printSignedIn(a.Session.Snapshot().CurrentUser, a.APIURL, "✓ Login successful!")
}

// NewLogoutCmd creates the logout command
func NewLogoutCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out",
		Long: `Sign out. The stored access token is removed only after the API
confirms the logout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.App()
			if err != nil {
				return err
			}
			if err := env.requireToken(a); err != nil {
				return err
			}

			if err := a.Session.Logout(cmd.Context()); err != nil {
				return fmt.Errorf("logout failed, you are still signed in: %w", err)
			}

			fmt.Fprintln(env.Out, "✓ Logged out")
			return nil
		},
	}
}

// NewSignInCmd creates the sign-in command with one subcommand per provider
func NewSignInCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign-in",
		Short: "Sign in with a third-party identity provider",
	}

	var credential string
	google := &cobra.Command{
		Use:   "google",
		Short: "Sign in with a Google ID token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSocialSignIn(cmd, env, api.ProviderGoogle, credential, "Google credential", "use --credential")
		},
	}
	google.Flags().StringVar(&credential, "credential", "", "Google ID token")

	var code string
	github := &cobra.Command{
		Use:   "github",
		Short: "Sign in with a GitHub OAuth code",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSocialSignIn(cmd, env, api.ProviderGitHub, code, "GitHub code", "use --code")
		},
	}
	github.Flags().StringVar(&code, "code", "", "GitHub OAuth authorization code")

	cmd.AddCommand(google, github)
	return cmd
}

func runSocialSignIn(cmd *cobra.Command, env *Env, provider api.Provider, credential, label, hint string) error {
	credential, err := env.valueOr(credential, "", label, "", true, hint)
	if err != nil {
		return err
	}

	a, err := env.App()
	if err != nil {
		return err
	}

	if err := a.Session.SocialSignIn(cmd.Context(), provider, credential); err != nil {
		return fmt.Errorf("%s sign-in failed: %w", provider, err)
	}

	return env.printSignedIn(a.Session.Snapshot().CurrentUser, a.APIURL, "✓ Login successful!")
}

// NewResetPasswordCmd creates the reset-password command
func NewResetPasswordCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Reset a forgotten password",
	}

	var email string
	request := &cobra.Command{
		Use:   "request",
		Short: "Mail a password reset link",
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := env.valueOr(email, envEmail, "Email", env.lastEmail(), false, "use --email flag or "+envEmail+" env var")
			if err != nil {
				return err
			}
			if err := validation.New().Struct(validation.ResetRequest{Email: address}); err != nil {
				return err
			}

			a, err := env.App()
			if err != nil {
				return err
			}
			if err := a.Auth.RequestPasswordReset(cmd.Context(), address); err != nil {
				return fmt.Errorf("password reset request failed: %w", err)
			}

			fmt.Fprintf(env.Out, "✓ Check %s for the reset link, then run: userdesk reset-password confirm <token>\n", address)
			return nil
		},
	}
	request.Flags().StringVar(&email, "email", "", "Email address (or set USERDESK_EMAIL)")

	var password string
	confirm := &cobra.Command{
		Use:   "confirm <token>",
		Short: "Set a new password with a reset token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			form := validation.ResetConfirm{Password: password, ConfirmPassword: password}
			if form.Password == "" {
				var err error
				if form.Password, err = env.valueOr("", envPassword, "New password", "", true, "use --password flag or "+envPassword+" env var"); err != nil {
					return err
				}
				form.ConfirmPassword = form.Password
				if os.Getenv(envPassword) == "" {
					if form.ConfirmPassword, err = env.valueOr("", "", "Confirm password", "", true, "use --password flag"); err != nil {
						return err
					}
				}
			}
			if err := validation.New().Struct(&form); err != nil {
				return err
			}

			a, err := env.App()
			if err != nil {
				return err
			}
			if err := a.Auth.ConfirmPasswordReset(cmd.Context(), args[0], form.Password); err != nil {
				return fmt.Errorf("password reset failed: %w", err)
			}

			fmt.Fprintln(env.Out, "✓ Password changed, you can log in now")
			return nil
		},
	}
	confirm.Flags().StringVar(&password, "password", "", "New password (or set USERDESK_PASSWORD, will prompt if not provided)")

	cmd.AddCommand(request, confirm)
	return cmd
}

// printSignedIn reports a new session and remembers where it was made
func (e *Env) printSignedIn(user *api.User, apiURL, headline string) error {
	if user == nil {
		return errors.New("signed in but the API returned no user")
	}
	e.remember(apiURL, user.Email)

	if e.Output != formatTable {
		return e.printValue(user, nil)
	}

	fmt.Fprintln(e.Out, headline)
	fmt.Fprintf(e.Out, "  User: %s (%s)\n", user.FullName(), user.Email)
	return nil
}

// sessionError turns an unrecoverable 401 into a hint to log in again
func sessionError(action string, err error) error {
	if httpclient.Classify(err) == httpclient.KindUnauthorized {
		return fmt.Errorf("%s: session expired, please run 'userdesk login' again: %w", action, err)
	}
	return fmt.Errorf("%s: %w", action, err)
}

func printUserTable(w io.Writer, users ...api.User) {
	fmt.Fprintln(w, "ID\tNAME\tEMAIL")
	fmt.Fprintln(w, "──\t────\t─────")
	for _, u := range users {
		fmt.Fprintf(w, "%d\t%s\t%s\n", u.ID, u.FullName(), u.Email)
	}
}
