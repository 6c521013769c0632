package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mbargull/bioconda-repodata-archive/internal/config"
	"github.com/mbargull/bioconda-repodata-archive/internal/fetcher"
	"github.com/mbargull/bioconda-repodata-archive/internal/repodata"
	"github.com/mbargull/bioconda-repodata-archive/internal/version"
)

// tagsCmd 实现 tags 子命令，打印某个时间戳对应的三个标签。
// 用法: repodata-archive tags [--time <timestamp>] [--output <dir>]
var tagsCmd = newTagsCmd()

func newTagsCmd() *cobra.Command {
	var (
		timestamp string
		output    string
	)
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "Print the git tags for a timestamp",
		Long: `Print the full, date and bare tags derived from the archive version and
a timestamp. Without --time the timestamp is read from the output's .time file.`,
		Example: `  repodata-archive tags
  VERSION_MAYOR=2 repodata-archive tags --time 2021-02-03T04:05:06+00:00`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := prepareRun()
			if err != nil {
				return err
			}

			ts := strings.TrimSpace(timestamp)
			if ts == "" {
				dir := pick(cmd, "output", output, rc.Config.Output)
				ts, err = repodata.ReadTimestamp(filepath.Join(dir, fetcher.RootTimeFile))
				if err != nil {
					return fmt.Errorf("read timestamp: %w", err)
				}
			}

			tags, err := version.Tags(rc.Config.Version, ts)
			if err != nil {
				return err
			}
			for _, tag := range tags.All() {
				fmt.Fprintln(cmd.OutOrStdout(), tag)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&timestamp, "time", "", "Timestamp, e.g. 2021-02-03T04:05:06+00:00")
	cmd.Flags().StringVarP(&output, "output", "o", config.DefaultOutput, "Output directory holding .time")
	return cmd
}

func init() {
	rootCmd.AddCommand(tagsCmd)
}
