package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CloakHQ/cloakbrowser/internal/interactive"
	"github.com/CloakHQ/cloakbrowser/internal/provision"
)

func newClearCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove all cached Chromium builds and geo data",
		Long: `Clear removes the cache directory, including downloaded Chromium builds,
the GeoLite2 database and update markers. The next fetch starts from
scratch.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			if !yes && interactive.IsTerminal() {
				prompter := interactive.NewPrompter()
				if !prompter.Confirm("Remove everything under %s?", cfg.CacheDir) {
					fmt.Println("Aborted.")
					return nil
				}
			}

			if err := provision.New(cfg, newLogger()).ClearCache(); err != nil {
				return err
			}
			fmt.Printf("Cache cleared: %s\n", cfg.CacheDir)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}
