package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mergetide/go-scd/cli/config"
	"github.com/mergetide/go-scd/cli/styles"
)

// NewInitCommand creates the init command.
func NewInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter scd.yaml",
		Long: `Write a starter configuration file to the working directory.

The generated file documents one entity; edit it to match your feeds.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}

			if config.Exists(cwd) && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", config.ConfigFileName)
			}

			cfg := config.DefaultConfig()
			if err := cfg.Save(cwd); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}

			fmt.Println(styles.FormatSuccess("Wrote " + config.ConfigFileName))
			fmt.Println(styles.Muted.Render("  Edit the entities section, then run 'scd migrate'."))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}
