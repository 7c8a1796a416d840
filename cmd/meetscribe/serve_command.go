package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"meetscribe/internal/app"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingest API for browser recorders",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return app.Serve(cmd.Context(), cfg, app.ServeOptions{
				LogLevel: logLevel,
				Stdout:   !quiet,
				OnReady: func(addr string) {
					fmt.Fprintf(out, "meetscribe listening on %s (recorder websocket: ws://%s/api/record)\n", addr, addr)
				},
			})
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Log to the log directory only")
	return cmd
}
