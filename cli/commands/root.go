// Package commands provides the CLI command implementations for scd.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mergetide/go-scd/cli/styles"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// NewRootCommand creates the root command for the scd CLI.
func NewRootCommand() *cobra.Command {
	var noColor bool

	rootCmd := &cobra.Command{
		Use:   "scd",
		Short: "Slowly changing dimension merge engine",
		Long: `scd merges unordered change feeds into current-state and
full-history projections with per-key watermarks.

` + styles.Title.Render("Quick Start:") + `

  ` + styles.Code.Render("scd init") + `       Write a starter scd.yaml
  ` + styles.Code.Render("scd migrate") + `    Create the projection tables
  ` + styles.Code.Render("scd run") + `        Consume feeds and merge
  ` + styles.Code.Render("scd status") + `     Show projection status

` + styles.Title.Render("Documentation:") + `

  https://github.com/mergetide/go-scd`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				styles.DisableColors()
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to scd.yaml (defaults to the working directory)")

	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewMigrateCommand())
	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewStatusCommand())
	rootCmd.AddCommand(NewReplayCommand())
	rootCmd.AddCommand(NewVersionCommand(Version, Commit, BuildDate))

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCommand()

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(styles.FormatError(err.Error()))
		return err
	}

	return nil
}
