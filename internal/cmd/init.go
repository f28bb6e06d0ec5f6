package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/CloakHQ/cloakbrowser/internal/interactive"
	"github.com/CloakHQ/cloakbrowser/internal/templates"
)

func newInitCmd() *cobra.Command {
	var templateName string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter configuration file",
		Long: `Init writes a commented configuration file to ~/.cloakbrowser/config.toml,
or to the path given with --config.

Available templates:
  default     Commented defaults for the hosted distribution
  selfhosted  Strict checksums against a self-hosted download server

Examples:
  cloakbrowser init
  cloakbrowser init --template selfhosted
  cloakbrowser init --config ./cloakbrowser.toml --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.InOrStdin(), cmd.OutOrStdout(), templateName, configPath, force)
		},
	}

	cmd.Flags().StringVarP(&templateName, "template", "t", "default", "Template name")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	_ = cmd.RegisterFlagCompletionFunc("template", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		var completions []string
		for _, name := range templates.List() {
			completions = append(completions, fmt.Sprintf("%s\t%s", name, templates.GetDescription(name)))
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runInit(stdin io.Reader, stdout io.Writer, templateName, outputPath string, force bool) error {
	if outputPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("cannot determine home directory, pass --config: %w", err)
		}
		outputPath = filepath.Join(home, ".cloakbrowser", "config.toml")
	}

	tmpl, err := templates.GetExpanded(templateName)
	if err != nil {
		return err
	}

	if _, err := os.Stat(outputPath); err == nil && !force {
		prompter := interactive.NewPrompterWithIO(stdin, stdout)
		if !prompter.Confirm("Config file already exists at %s. Overwrite?", outputPath) {
			fmt.Fprintln(stdout, "Aborted.")
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(outputPath, tmpl.Content, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(stdout, "Wrote %s (%s template)\n", outputPath, tmpl.Name)
	fmt.Fprintln(stdout, "Edit it, or override single values with CLOAKBROWSER_* environment variables.")
	return nil
}
