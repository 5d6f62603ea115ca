package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mooncourt/arcana/spread"
)

func spreadsCmd(logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "spreads",
		Short: "List available spreads",
		Long: `Spreads prints the spread catalog: the builtin layouts plus any
YAML definitions found under the configured spreads directory.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger(*logLevel)
			cfg, err := loadConfig(logger)
			if err != nil {
				return err
			}

			catalog, err := spread.NewCatalog(cfg.Engine.SpreadsDir, logger)
			if err != nil {
				return fmt.Errorf("load spread catalog: %w", err)
			}

			for _, def := range catalog.List() {
				fmt.Printf("%-24s %s (%d positions)\n", def.ID, def.Name, def.Size())
				for _, pos := range def.Positions {
					fmt.Printf("    %d. %-20s %s\n", pos.Index+1, pos.Name, pos.Meaning)
				}
			}
			return nil
		},
	}
}
