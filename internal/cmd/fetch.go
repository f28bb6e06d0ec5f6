package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/CloakHQ/cloakbrowser/internal/download"
	"github.com/CloakHQ/cloakbrowser/internal/provision"
)

func newFetchCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download the Chromium build for this platform",
		Long: `Fetch downloads the patched Chromium build into the local cache and
prints the path to its executable. An already cached build is reused
unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			p := provision.New(cfg, newLogger(),
				provision.WithProgress(progressRenderer(os.Stderr)))
			path, err := p.Download(cmd.Context(), force)
			if err != nil {
				return err
			}

			fmt.Println(path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Redownload even when a build is already cached")

	return cmd
}

// progressRenderer adapts cumulative byte counts from the download
// engine to a terminal progress bar on w.
func progressRenderer(w io.Writer) download.ProgressFunc {
	var bar *progressbar.ProgressBar
	return func(downloaded, total int64) {
		if bar == nil {
			if total <= 0 {
				total = -1
			}
			bar = progressbar.NewOptions64(
				total,
				progressbar.OptionSetDescription("chromium"),
				progressbar.OptionSetWriter(w),
				progressbar.OptionShowBytes(true),
				progressbar.OptionSetWidth(30),
				progressbar.OptionThrottle(10*time.Millisecond),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprint(w, "\n")
				}),
			)
		}
		_ = bar.Set64(downloaded)
	}
}
