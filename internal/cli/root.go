package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/userdesk-dev/userdesk/internal/cli/commands"
)

var version = "dev" // Will be set during build

// NewRootCmd builds the command tree. Options are passed to the shared
// command environment.
func NewRootCmd(opts ...commands.Option) *cobra.Command {
	env := commands.NewEnv(append([]commands.Option{commands.WithVersion(version)}, opts...)...)

	rootCmd := &cobra.Command{
		Use:   "userdesk",
		Short: "userdesk - account management for the userdesk API",
		Long: `userdesk CLI - Register, sign in and manage your account.

Run 'userdesk serve' for the local web console.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Skip configuration for the version command
			if cmd.Name() == "version" {
				return nil
			}
			return env.Prepare()
		},
	}

	rootCmd.SetOut(env.Out)
	rootCmd.SetErr(env.ErrOut)

	rootCmd.PersistentFlags().StringVar(&env.APIURL, "api-url", "", "API base URL (or set USERDESK_API_URL)")
	rootCmd.PersistentFlags().StringVarP(&env.Output, "output", "o", "table", "Output format: table, json or yaml")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(env.Out, "userdesk version %s\n", env.Version)
		},
	})

	rootCmd.AddCommand(commands.NewRegisterCmd(env))
	rootCmd.AddCommand(commands.NewActivateCmd(env))
	rootCmd.AddCommand(commands.NewLoginCmd(env))
	rootCmd.AddCommand(commands.NewLogoutCmd(env))
	rootCmd.AddCommand(commands.NewStatusCmd(env))
	rootCmd.AddCommand(commands.NewSignInCmd(env))
	rootCmd.AddCommand(commands.NewResetPasswordCmd(env))
	rootCmd.AddCommand(commands.NewUsersCmd(env))
	rootCmd.AddCommand(commands.NewProfileCmd(env))
	rootCmd.AddCommand(commands.NewConfirmEmailCmd(env))
	rootCmd.AddCommand(commands.NewServeCmd(env))

	return rootCmd
}

// Execute runs the root command
func Execute() error {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
