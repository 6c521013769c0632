package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mbargull/bioconda-repodata-archive/internal/channel"
)

// runCmd 实现 run 子命令，即定时任务：抓取全部归档频道后提交、打标签并推送。
// 用法: repodata-archive run [--fetch-only]
var runCmd = newRunCmd()

func newRunCmd() *cobra.Command {
	fo := &fetchOptions{}
	po := &publishOptions{}
	var fetchOnly bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch all archived channels, then commit, tag and push",
		Long: `Run the scheduled archive job: fetch repodata for every archived channel
and publish the result. With --fetch-only (pull request builds) nothing is
committed, tagged or pushed.`,
		Example: `  repodata-archive run
  repodata-archive run --fetch-only
  repodata-archive run --push=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := prepareRun()
			if err != nil {
				return err
			}
			defer func() { _ = rc.Log.Sync() }()

			if _, err := runFetch(cmd, rc, fo, channel.Archive); err != nil {
				return err
			}
			if fetchOnly {
				rc.Log.Info("fetch-only mode, skipping publish")
				return nil
			}
			return runPublish(cmd, rc, po, fo.output)
		},
	}
	addFetchFlags(cmd, fo)
	addPublishFlags(cmd, po, true)
	cmd.Flags().BoolVar(&fetchOnly, "fetch-only", false, "Only fetch, do not commit, tag or push")
	return cmd
}

func init() {
	rootCmd.AddCommand(runCmd)
}
