// Package cmd provides the command-line interface.
package cmd

import (
	"context"
	"fmt"

	"icarus/bootstrap"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags
var Version = "dev"

var configFile string

// NewRootCmd builds the root command with its subcommands
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "icarus",
		Short: "Adaptive network threat detection and autonomous response",
		Long: `Icarus analyzes network observations against adaptive anomaly
thresholds, derives threat events from detections, and answers them with
policy-driven response plans: blocking, rate limiting, honeypot redirection,
and escalating countermeasures.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"path to config file (default: ./icarus.yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the detection and response service",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := bootstrap.NewApp(context.Background(), configFile)
			if err != nil {
				return fmt.Errorf("initializing: %w", err)
			}
			if err := app.Start(); err != nil {
				app.Shutdown()
				return fmt.Errorf("starting services: %w", err)
			}
			app.WaitForShutdown()
			app.Shutdown()
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "icarus %s\n", Version)
		},
	}
}
