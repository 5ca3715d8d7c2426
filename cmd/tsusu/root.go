package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tsusu/internal/ipc"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	var runtimeDirFlag string

	ctx := newCommandContext(&configFlag, &runtimeDirFlag)

	rootCmd := &cobra.Command{
		Use:           "tsusu",
		Short:         "tsusu process control daemon",
		Long:          "Running tsusu with no command connects to the daemon, starting it if needed.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if shouldSkipConfig(cmd) {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDaemon(func(client *ipc.Client) error {
				status, err := client.Status()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "tsusu daemon running (pid %d, up %s)\n",
					status.PID, formatUptime(time.Since(status.StartedAt)))
				return nil
			})
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&runtimeDirFlag, "runtime-dir", "", "Directory holding the daemon socket and PID marker")

	for _, cmd := range newDaemonCommands(ctx) {
		rootCmd.AddCommand(cmd)
	}
	rootCmd.AddCommand(newDaemonRunCommand(ctx))
	rootCmd.AddCommand(newLogsCommand(ctx))
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
