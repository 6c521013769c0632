package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mbargull/bioconda-repodata-archive/internal/channel"
	"github.com/mbargull/bioconda-repodata-archive/internal/config"
)

// channelsCmd 实现 channels 子命令，列出将要抓取的频道和子目录。
// 用法: repodata-archive channels [--archive] [--urls]
var channelsCmd = newChannelsCmd()

func newChannelsCmd() *cobra.Command {
	var (
		archiveList bool
		urls        bool
	)
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "List configured channels and subdirs",
		Long: `List the channels and subdirs a fetch would use. Configured channels take
precedence; otherwise the fetch defaults are shown, or the full archive list
used by "run" with --archive.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			fallback := channel.Defaults
			if archiveList {
				fallback = channel.Archive
			}
			channels, err := resolveChannels(nil, cfg.Channels, fallback)
			if err != nil {
				return err
			}
			subdirs := channel.CleanSubdirs(cfg.Subdirs)

			out := cmd.OutOrStdout()
			// 输出请求地址与落盘路径
			if urls {
				for _, subdir := range subdirs {
					for _, ch := range channels {
						fmt.Fprintf(out, "%s -> %s\n", channel.RepodataURL(ch, subdir), channel.OutputDir(cfg.Output, ch, subdir))
					}
				}
				return nil
			}

			fmt.Fprintln(out, "channels:")
			printLines(out, channels)
			fmt.Fprintln(out, "subdirs:")
			printLines(out, subdirs)
			return nil
		},
	}
	cmd.Flags().BoolVar(&archiveList, "archive", false, "Fall back to the archive channel list used by run")
	cmd.Flags().BoolVar(&urls, "urls", false, "Print repodata URLs and output paths")
	return cmd
}

func init() {
	rootCmd.AddCommand(channelsCmd)
}
