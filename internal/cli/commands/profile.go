package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/userdesk-dev/userdesk/internal/api"
	"github.com/userdesk-dev/userdesk/internal/validation"
)

// NewProfileCmd creates the profile command
func NewProfileCmd(env *Env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Update your account",
	}

	cmd.AddCommand(newSetNameCmd(env), newSetPasswordCmd(env), newSetEmailCmd(env))
	return cmd
}

func newSetNameCmd(env *Env) *cobra.Command {
	var form validation.Name

	cmd := &cobra.Command{
		Use:   "set-name",
		Short: "Change your first and last name",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if form.FirstName, err = env.valueOr(form.FirstName, "", "First name", "", false, "use --first-name"); err != nil {
				return err
			}
			if form.LastName, err = env.valueOr(form.LastName, "", "Last name", "", false, "use --last-name"); err != nil {
				return err
			}
			if err := validation.New().Struct(&form); err != nil {
				return err
			}

			a, err := env.App()
			if err != nil {
				return err
			}
			if err := env.requireToken(a); err != nil {
				return err
			}

			user, err := a.Users.UpdateName(cmd.Context(), api.UpdateNameRequest{
				FirstName: form.FirstName,
				LastName:  form.LastName,
			})
			if err != nil {
				return sessionError("failed to update name", err)
			}

			return env.printValue(user, func(w io.Writer) {
				fmt.Fprintf(w, "✓ Name updated: %s\n", user.FullName())
			})
		},
	}

	cmd.Flags().StringVar(&form.FirstName, "first-name", "", "First name")
	cmd.Flags().StringVar(&form.LastName, "last-name", "", "Last name")
	return cmd
}

func newSetPasswordCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "set-password",
		Short: "Change your password",
		Long:  "Change your password. All values are prompted for and never accepted as flags.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				form validation.PasswordChange
				err  error
			)
			if form.OldPassword, err = env.valueOr("", "", "Current password", "", true, "run in a terminal"); err != nil {
				return err
			}
			if form.NewPassword, err = env.valueOr("", "", "New password", "", true, "run in a terminal"); err != nil {
				return err
			}
			if form.ConfirmPassword, err = env.valueOr("", "", "Confirm new password", "", true, "run in a terminal"); err != nil {
				return err
			}
			if err := validation.New().Struct(&form); err != nil {
				return err
			}

			a, err := env.App()
			if err != nil {
				return err
			}
			if err := env.requireToken(a); err != nil {
				return err
			}

			err = a.Users.UpdatePassword(cmd.Context(), api.UpdatePasswordRequest{
				OldPassword:     form.OldPassword,
				NewPassword:     form.NewPassword,
				ConfirmPassword: form.ConfirmPassword,
			})
			if err != nil {
				return sessionError("failed to change password", err)
			}

			fmt.Fprintln(env.Out, "✓ Password changed")
			return nil
		},
	}
}

func newSetEmailCmd(env *Env) *cobra.Command {
	var newEmail string

	cmd := &cobra.Command{
		Use:   "set-email",
		Short: "Start an email address change",
		Long: `Start an email address change. The API mails a confirmation link to the
new address; finish with 'userdesk confirm-email <token>'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				form validation.EmailChange
				err  error
			)
			if form.NewEmail, err = env.valueOr(newEmail, "", "New email", "", false, "use --new-email"); err != nil {
				return err
			}
			if form.Password, err = env.valueOr("", envPassword, "Password", "", true, "set "+envPassword+" env var"); err != nil {
				return err
			}
			if err := validation.New().Struct(&form); err != nil {
				return err
			}

			a, err := env.App()
			if err != nil {
				return err
			}
			if err := env.requireToken(a); err != nil {
				return err
			}

			err = a.Users.UpdateEmail(cmd.Context(), api.UpdateEmailRequest{
				NewEmail: form.NewEmail,
				Password: form.Password,
			})
			if err != nil {
				return sessionError("failed to change email", err)
			}

			fmt.Fprintf(env.Out, "✓ Check %s for the confirmation link, then run: userdesk confirm-email <token>\n", form.NewEmail)
			return nil
		},
	}

	cmd.Flags().StringVar(&newEmail, "new-email", "", "New email address")
	return cmd
}

// NewConfirmEmailCmd creates the confirm-email command
func NewConfirmEmailCmd(env *Env) *cobra.Command {
	return &cobra.Command{
		Use:   "confirm-email <token>",
		Short: "Confirm an email address change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := env.App()
			if err != nil {
				return err
			}
			if err := env.requireToken(a); err != nil {
				return err
			}

			data, err := a.Users.ConfirmEmailChange(cmd.Context(), args[0])
			if err != nil {
				return sessionError("failed to confirm email change", err)
			}

			// The API rotated the session
			if err := a.Session.Establish(data); err != nil {
				return err
			}

			return env.printSignedIn(&data.User, a.APIURL, "✓ Email changed!")
		},
	}
}
