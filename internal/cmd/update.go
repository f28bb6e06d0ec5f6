package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/CloakHQ/cloakbrowser/internal/config"
	"github.com/CloakHQ/cloakbrowser/internal/provision"
	"github.com/CloakHQ/cloakbrowser/internal/update"
)

func newUpdateCmd() *cobra.Command {
	var checkOnly bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check for and install a newer Chromium build",
		Long: `Update queries the release feed for a Chromium build newer than the one
in use. Without --check the newer build is downloaded immediately and
becomes the default on the next launch.

Examples:
  cloakbrowser update --check   # Report whether a newer build exists
  cloakbrowser update           # Download and switch to the latest build`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return runUpdate(cmd.Context(), os.Stdout, cfg, checkOnly)
		},
	}

	cmd.Flags().BoolVar(&checkOnly, "check", false, "Check for a newer build without installing")

	return cmd
}

func runUpdate(ctx context.Context, w io.Writer, cfg *config.Config, checkOnly bool) error {
	p := provision.New(cfg, newLogger())

	if checkOnly {
		info, err := p.Info()
		if err != nil {
			return err
		}

		checker := update.NewChecker(cfg.ReleasesAPIURL(), cfg.GitHubToken)
		result, err := checker.Check(ctx, info.Version, info.Platform)
		if err != nil {
			return fmt.Errorf("update check failed: %w", err)
		}

		fmt.Fprintf(w, "Current version: %s\n", result.CurrentVersion)
		if !result.Available {
			fmt.Fprintln(w, "Already running the latest build")
			return nil
		}
		fmt.Fprintf(w, "Newer build available: %s\n", result.LatestVersion)
		fmt.Fprintln(w, "Run 'cloakbrowser update' to install")
		return nil
	}

	installed, err := p.CheckForUpdate(ctx)
	if err != nil {
		return err
	}
	if installed == "" {
		fmt.Fprintln(w, "Already running the latest build")
		return nil
	}
	fmt.Fprintf(w, "Updated to %s, used on the next launch\n", installed)
	return nil
}
