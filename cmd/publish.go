package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mbargull/bioconda-repodata-archive/internal/archive"
	"github.com/mbargull/bioconda-repodata-archive/internal/config"
)

// publishOptions 保存 publish 相关的命令行标志，publish 和 run 共用。
type publishOptions struct {
	output string
	repo   string
	push   bool
	remote string
}

// publishCmd 实现 publish 子命令，把输出目录提交到 git 并打标签。
// 用法: repodata-archive publish [--push]
var publishCmd = newPublishCmd()

func newPublishCmd() *cobra.Command {
	o := &publishOptions{}
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Commit and tag the fetched repodata",
		Long: `Stage every change under the output directory, commit it as
"Update repodata <timestamp>" and create the three archive tags. The archive
version comes from VERSION_MAYOR, VERSION_MINOR and VERSION_CHANNELS or the
config file.`,
		Example: `  repodata-archive publish
  GITHUB_TOKEN=... repodata-archive publish --push`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := prepareRun()
			if err != nil {
				return err
			}
			defer func() { _ = rc.Log.Sync() }()

			return runPublish(cmd, rc, o, o.output)
		},
	}
	cmd.Flags().StringVarP(&o.output, "output", "o", config.DefaultOutput, "Output directory to commit")
	addPublishFlags(cmd, o, false)
	return cmd
}

// addPublishFlags 注册 publish 标志（--output 由调用方注册）。
func addPublishFlags(cmd *cobra.Command, o *publishOptions, push bool) {
	f := cmd.Flags()
	f.StringVar(&o.repo, "repo", ".", "Path inside the archive git repository")
	f.BoolVar(&o.push, "push", push, "Push the branch and new tags to the remote")
	f.StringVar(&o.remote, "remote", config.DefaultRemote, "Remote to push to")
}

// runPublish 提交 output 并打标签，按需推送。
func runPublish(cmd *cobra.Command, rc *RunContext, o *publishOptions, output string) error {
	cfg := rc.Config

	a, err := archive.Open(o.repo, rc.Log)
	if err != nil {
		return err
	}

	res, err := a.Publish(commandContext(cmd), archive.PublishOptions{
		Output:      pick(cmd, "output", output, cfg.Output),
		Version:     cfg.Version,
		AuthorName:  cfg.Git.AuthorName,
		AuthorEmail: cfg.Git.AuthorEmail,
		Push:        o.push,
		Remote:      pick(cmd, "remote", o.remote, cfg.Git.Remote),
		Token:       cfg.Git.Token,
	})
	if res != nil {
		printPublishResult(cmd.OutOrStdout(), res)
	}
	return err
}

// printPublishResult 按统一格式输出发布结果。
func printPublishResult(out io.Writer, res *archive.PublishResult) {
	state := "committed"
	if !res.Committed {
		state = "unchanged"
	}
	fmt.Fprintf(out, "%s %s (%s)\n", state, res.Commit, res.Timestamp)
	for _, tag := range res.Tags {
		fmt.Fprintf(out, "tag: %s\n", tag)
	}
	for _, tag := range res.Skipped {
		fmt.Fprintf(out, "skipped tag: %s\n", tag)
	}
	if res.Pushed {
		fmt.Fprintln(out, "pushed")
	}
}

func init() {
	rootCmd.AddCommand(publishCmd)
}
