package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"
)

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "posture-scanner",
		Short: "Runs compliance benchmark checks against cloud tenants",
		Long: `Runs the checks of a compliance benchmark against a tenant and records the outcome.
Each check is an external script receiving the tenant credentials through a private channel.
The record of every scan is stored as a report in the Kubernetes cluster.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, err := cmd.Flags().GetString("loglevel")
			if err != nil {
				return fmt.Errorf("failed to get loglevel flag: %w", err)
			}
			if _, err := ParseLevel(level); err != nil {
				return err
			}
			return nil
		},
	}

	// make sure we always get json formatted errors, even for flag errors
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	rootCmd.PersistentFlags().StringP("loglevel", "l", LevelInfoString, fmt.Sprintf("level of the logs. Supported values are: %v", SupportedLogLevels()))
	rootCmd.PersistentFlags().StringP("catalogue-dir", "C", defaultCatalogueDir, "directory holding the benchmark manifests and check scripts")

	rootCmd.AddCommand(newScanCommand(), newDaemonCommand(), newBenchmarksCommand())

	return rootCmd
}

// newLogger builds the logger of a command. Logs go to stderr so that stdout
// only carries the command output. controller-runtime logs through the same
// handler.
func newLogger(cmd *cobra.Command) (*slog.Logger, error) {
	level, err := cmd.Flags().GetString("loglevel")
	if err != nil {
		return nil, fmt.Errorf("failed to get loglevel flag: %w", err)
	}
	if _, err := ParseLevel(level); err != nil {
		return nil, err
	}
	handler := NewHandler(cmd.ErrOrStderr(), level)
	ctrl.SetLogger(logr.FromSlogHandler(handler))
	return slog.New(handler), nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error on cmd.Execute(): %s\n", err.Error())
		os.Exit(1)
	}
}
