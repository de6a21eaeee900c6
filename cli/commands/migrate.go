package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mergetide/go-scd"
	"github.com/mergetide/go-scd/cli/styles"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the projection tables",
		Long: `Create the current-state, history and watermark tables in the
configured database schema. Safe to run repeatedly.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if cfg.Database.Driver == "memory" {
				fmt.Println(styles.FormatInfo("Memory driver doesn't require migrations"))
				return nil
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			migrator, ok := store.(scd.Migrator)
			if !ok {
				return fmt.Errorf("store driver %q does not support migrations", cfg.Database.Driver)
			}

			if err := migrator.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Println(styles.FormatSuccess("Projection tables are up to date"))
			return nil
		},
	}

	return cmd
}
