package commands

import (
	"github.com/spf13/cobra"

	"github.com/userdesk-dev/userdesk/internal/server"
)

// NewServeCmd creates the serve command
func NewServeCmd(env *Env) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local web console",
		Long: `Run the local web console. It keeps one session for the lifetime of the
process and stops gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := env.Config()
			if err != nil {
				return err
			}
			a, err := env.App()
			if err != nil {
				return err
			}

			consoleCfg := cfg.Console
			if addr != "" {
				consoleCfg.Addr = addr
			}

			srv, err := server.New(a, consoleCfg, env.Logger, env.Version)
			if err != nil {
				return err
			}
			return srv.Start(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (or set USERDESK_CONSOLE_ADDR)")
	return cmd
}
