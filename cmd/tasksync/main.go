// Package main is the tasksync command: an operator CLI and local daemon
// around one user's offline-first task session.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/tasksync/internal/remote"
)

// Version is set at build time
var Version = "dev"

// rootOptions carries the persistent flags to every subcommand.
type rootOptions struct {
	configPath string
	user       string

	// remote replaces the HTTP client when set. Used by tests.
	remote remote.Client
}

func main() {
	if err := newRootCmd(&rootOptions{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tasksync",
		Short: "tasksync - offline-first task and folder synchronization",
		Long: `tasksync keeps a durable local replica of your tasks and folders,
queues every change made while offline and replays it against the remote
service once connectivity returns.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default <data_dir>/tasksync.yaml)")
	rootCmd.PersistentFlags().StringVarP(&opts.user, "user", "u", "", "user id (overrides config)")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newSyncCmd(opts))
	rootCmd.AddCommand(newStatusCmd(opts))
	rootCmd.AddCommand(newQueueCmd(opts))
	rootCmd.AddCommand(newTaskCmd(opts))
	rootCmd.AddCommand(newFolderCmd(opts))
	rootCmd.AddCommand(newLoginCmd(opts))
	rootCmd.AddCommand(newLogoutCmd(opts))
	rootCmd.AddCommand(newInitCmd(opts))

	return rootCmd
}

// stdout returns the command's writer; tests capture it with SetOut.
func stdout(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}
