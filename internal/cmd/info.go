package cmd

import (
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/CloakHQ/cloakbrowser/internal/output"
	"github.com/CloakHQ/cloakbrowser/internal/provision"
)

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the Chromium build in use and where it came from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			info, err := provision.New(cfg, newLogger()).Info()
			if err != nil {
				return err
			}
			return writeInfo(os.Stdout, info)
		},
	}
}

func writeInfo(w io.Writer, info provision.Info) error {
	format, err := output.ParseFormat(outputFormat)
	if err != nil {
		return err
	}

	writer := output.NewWriter(w, format)
	if format != output.FormatText {
		return writer.Write(info)
	}

	return writer.Table([][2]string{
		{"Version", info.Version},
		{"Bundled", info.BundledVersion},
		{"Platform", info.Platform},
		{"Binary", info.BinaryPath},
		{"Installed", strconv.FormatBool(info.Installed)},
		{"Cache", info.CacheDir},
		{"Download URL", info.DownloadURL},
		{"Override", info.Override},
	})
}
