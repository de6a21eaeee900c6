package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mergetide/go-scd"
	"github.com/mergetide/go-scd/cli/styles"
)

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show projection status",
		Long:  `Show store connectivity and per-entity key counts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if hc, ok := store.(scd.HealthChecker); ok {
				if err := hc.Ping(cmd.Context()); err != nil {
					fmt.Println(styles.FormatError("Store unreachable: " + err.Error()))
					return err
				}
				fmt.Println(styles.FormatSuccess("Store reachable"))
			}

			fmt.Println()
			fmt.Println(styles.Subtitle.Render("Entities"))
			for _, e := range cfg.Entities {
				keys, err := store.LiveKeys(cmd.Context(), e.Name)
				if err != nil {
					fmt.Println(styles.FormatWarning(e.Name + ": " + err.Error()))
					continue
				}
				fmt.Println(styles.FormatKeyValue(e.Name, strconv.Itoa(len(keys))+" keys"))
			}
			return nil
		},
	}

	return cmd
}
