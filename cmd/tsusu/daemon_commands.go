package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"tsusu/internal/daemonctl"
	"tsusu/internal/ipc"
	"tsusu/internal/preflight"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List processes known to the daemon (starts it if needed)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withDaemon(func(client *ipc.Client) error {
				rows, err := client.List()
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(rows) == 0 {
					fmt.Fprintln(stdout, "No processes")
					return nil
				}
				fmt.Fprint(stdout, renderProcessTable(rows, time.Now()))
				fmt.Fprintln(stdout)
				return nil
			})
		},
	}

	var force bool
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the tsusu daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			paths, err := ctx.runtimePaths()
			if err != nil {
				return err
			}

			result, err := daemonctl.Stop(paths.PID, cfg.StopTimeout())
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.Stopped {
				fmt.Fprintln(stdout, "Daemon stopped")
				return nil
			}
			if !force {
				return fmt.Errorf("daemon (pid %d) did not stop within %s; rerun with --force to kill it", result.PID, cfg.StopTimeout())
			}

			fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.PID)
			if _, err := daemonctl.ForceKill(paths.PID); err != nil && !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				return err
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}
	stopCmd.Flags().BoolVar(&force, "force", false, "Kill the daemon if it does not stop within the timeout")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status without starting it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			paths, err := ctx.runtimePaths()
			if err != nil {
				return err
			}
			running, pid, err := daemonctl.ProcessInfo(paths)
			if err != nil {
				return err
			}

			var info *ipc.StatusInfo
			if running {
				if client, dialErr := ipc.Dial(paths.Socket, cfg.DialTimeout()); dialErr == nil {
					info, _ = client.Status()
					_ = client.Close()
				}
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)
			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range daemonStatusLines(running, pid, info, paths.Socket, paths.PID, socketPresent(paths.Socket), colorize) {
				fmt.Fprintln(stdout, line)
			}

			fmt.Fprintln(stdout)
			for _, line := range renderSectionHeader("Environment", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, result := range preflight.RunAll(cfg, paths) {
				kind := statusOK
				if !result.Passed {
					kind = statusError
				}
				fmt.Fprintln(stdout, renderStatusLine(result.Name, kind, result.Detail, colorize))
			}
			return nil
		},
	}

	return []*cobra.Command{listCmd, stopCmd, statusCmd}
}

func daemonStatusLines(running bool, pid int, info *ipc.StatusInfo, socketPath, pidPath string, socketExists, colorize bool) []string {
	lines := make([]string, 0, 5)
	if !running {
		lines = append(lines, renderStatusLine("Daemon", statusError, "Not running", colorize))
		if socketExists {
			lines = append(lines, renderStatusLine("Socket", statusWarn, socketPath+" (stale, removed on next start)", colorize))
		} else {
			lines = append(lines, renderStatusLine("Socket", statusInfo, socketPath, colorize))
		}
		return lines
	}

	lines = append(lines, renderStatusLine("Daemon", statusOK, "Running (pid "+strconv.Itoa(pid)+")", colorize))
	if info == nil {
		lines = append(lines, renderStatusLine("Socket", statusWarn, socketPath+" (not answering)", colorize))
		lines = append(lines, renderStatusLine("PID file", statusInfo, pidPath, colorize))
		return lines
	}
	lines = append(lines, renderStatusLine("Socket", statusInfo, info.SocketPath, colorize))
	lines = append(lines, renderStatusLine("PID file", statusInfo, info.PIDPath, colorize))
	lines = append(lines, renderStatusLine("Uptime", statusInfo, formatUptime(time.Since(info.StartedAt)), colorize))
	lines = append(lines, renderStatusLine("Sessions", statusInfo, strconv.FormatUint(info.Sessions, 10), colorize))
	return lines
}

func socketPresent(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode()&os.ModeSocket != 0
}
