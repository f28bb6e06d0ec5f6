package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish]",
		Short: "Generate shell completion script",
		Long: `Generate shell completion script for cloakbrowser.

To load completions:

Bash:
  $ source <(cloakbrowser completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ cloakbrowser completion bash > /etc/bash_completion.d/cloakbrowser
  # macOS:
  $ cloakbrowser completion bash > $(brew --prefix)/etc/bash_completion.d/cloakbrowser

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it.  You can execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ cloakbrowser completion zsh > "${fpath[1]}/_cloakbrowser"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ cloakbrowser completion fish > ~/.config/fish/completions/cloakbrowser.fish
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(os.Stdout)
			case "zsh":
				return cmd.Root().GenZshCompletion(os.Stdout)
			case "fish":
				return cmd.Root().GenFishCompletion(os.Stdout, true)
			}
			return nil
		},
	}
}
