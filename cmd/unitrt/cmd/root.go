// Package cmd holds the unitrt command tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/unitrt"
)

// OsExit is replaced in tests.
var OsExit = os.Exit

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// PrintVersion returns the version line
func PrintVersion() string {
	return fmt.Sprintf("unitrt v%s (commit: %s, built on: %s)", Version, Commit, Date)
}

// NewRootCommand creates the root command. catalog holds the units the run
// command deploys.
func NewRootCommand(catalog *unitrt.Catalog) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unitrt",
		Short: "unitrt - run units in one process",
		Long: `unitrt deploys the units of a catalog in priority waves, routes their
events over an in-process or NATS bus and stops them in reverse order.`,
		Version:       PrintVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.AddCommand(NewRunCommand(catalog))
	cmd.AddCommand(NewConfigCommand())
	cmd.AddCommand(NewVersionCommand())
	return cmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), PrintVersion())
		},
	}
}
