package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CloakHQ/cloakbrowser/internal/cache"
	"github.com/CloakHQ/cloakbrowser/internal/provision"
)

func newPruneCmd() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove old Chromium builds from the cache",
		Long: `Prune deletes installed builds beyond the newest ones, reclaiming disk
space after auto-update has accumulated superseded versions. The build
the next launch resolves to is always kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			result, err := provision.New(cfg, newLogger()).PruneCache(keep)
			if err != nil {
				return err
			}

			if len(result.Deleted) == 0 {
				fmt.Printf("Nothing to prune (%d builds installed)\n", result.Kept)
				return nil
			}
			for _, v := range result.Deleted {
				fmt.Printf("Removed chromium %s (%d MB)\n", v.Version, v.Size/(1<<20))
			}
			fmt.Printf("Freed %d MB, %d builds kept\n", result.FreedBytes()/(1<<20), result.Kept)
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", cache.DefaultKeepCount, "Number of newest builds to retain")

	return cmd
}
