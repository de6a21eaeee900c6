package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mergetide/go-scd"
	"github.com/mergetide/go-scd/cli/config"
	"github.com/mergetide/go-scd/stores/memory"
	"github.com/mergetide/go-scd/stores/postgres"
)

// loadConfig resolves the config file from the --config flag or the
// working directory and validates it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path, _ = cmd.InheritedFlags().GetString("config")
	}

	var cfg *config.Config
	var err error
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cwd, werr := os.Getwd()
		if werr != nil {
			return nil, werr
		}
		cfg, err = config.Load(cwd)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if problems := cfg.Validate(); len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintln(os.Stderr, "  "+p)
		}
		return nil, fmt.Errorf("invalid configuration (%d problems)", len(problems))
	}
	return cfg, nil
}

// openStore builds the configured state store.
func openStore(cfg *config.Config) (scd.StateStore, error) {
	switch cfg.Database.Driver {
	case "memory":
		return memory.NewStore(), nil
	case "postgres":
		url := os.ExpandEnv(cfg.Database.URL)
		if url == "" {
			return nil, fmt.Errorf("database.url resolved to an empty string")
		}
		opts := []postgres.Option{}
		if cfg.Database.Schema != "" {
			opts = append(opts, postgres.WithSchema(cfg.Database.Schema))
		}
		return postgres.NewStore(url, opts...)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// entities converts the config entities for the engine.
func entities(cfg *config.Config) []scd.EntityConfig {
	out := make([]scd.EntityConfig, 0, len(cfg.Entities))
	for _, e := range cfg.Entities {
		out = append(out, e.Entity())
	}
	return out
}
