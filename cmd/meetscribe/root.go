package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	root := &cobra.Command{
		Use:           "meetscribe",
		Short:         "Record meetings, upload them as they happen, and transcribe them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctx.envFileExplicit = cmd.Flags().Changed("env-file")
			if !wantsConfig(cmd) {
				return nil
			}
			_, err := ctx.loadConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&ctx.configPath, "config", "c", "", "Configuration file path")
	flags.StringVar(&ctx.envFile, "env-file", defaultEnvFile, "Dotenv file loaded before configuration")

	root.AddCommand(
		newRecordCommand(ctx),
		newServeCommand(ctx),
		newListCommand(ctx),
		newShowCommand(ctx),
		newPreflightCommand(ctx),
		newTestNotifyCommand(ctx),
		newConfigCommand(ctx),
	)
	return root
}
