package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CloakHQ/cloakbrowser/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("cloakbrowser %s (commit %s, built %s)\n", cliVersion, cliCommit, cliDate)
			fmt.Printf("bundled chromium %s\n", version.Bundled)
			return nil
		},
	}
}
