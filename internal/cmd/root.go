package cmd

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	outputFormat string
	configPath   string
	verbose      bool
	quiet        bool
)

// Build metadata, set by Execute and shown by the version command.
var (
	cliVersion = "dev"
	cliCommit  = "none"
	cliDate    = "unknown"
)

func Execute(version, commit, date string) error {
	cliVersion, cliCommit, cliDate = version, commit, date

	rootCmd := &cobra.Command{
		Use:   "cloakbrowser",
		Short: "Manage the cloakbrowser Chromium build",
		Long: `cloakbrowser provisions the patched Chromium build used for stealth
automation and resolves the geography a proxy exits through.

Builds are cached under ~/.cloakbrowser and verified against published
checksums. Set CLOAKBROWSER_BINARY_PATH to use a locally built Chromium
instead.`,
		Version:      version,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json, yaml")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet mode (errors only)")

	// Add subcommands
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newInfoCmd())
	rootCmd.AddCommand(newClearCmd())
	rootCmd.AddCommand(newPruneCmd())
	rootCmd.AddCommand(newUpdateCmd())
	rootCmd.AddCommand(newGeoCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	// Register completion function for output flag
	_ = rootCmd.RegisterFlagCompletionFunc("output", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
	})

	return rootCmd.Execute()
}
