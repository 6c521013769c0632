package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mbargull/bioconda-repodata-archive/internal/cache"
	"github.com/mbargull/bioconda-repodata-archive/internal/channel"
	"github.com/mbargull/bioconda-repodata-archive/internal/config"
	"github.com/mbargull/bioconda-repodata-archive/internal/fetcher"
	"github.com/mbargull/bioconda-repodata-archive/internal/metrics"
	"github.com/mbargull/bioconda-repodata-archive/internal/repodata"
)

// fetchOptions 保存 fetch 相关的命令行标志，fetch 和 run 共用。
type fetchOptions struct {
	channels    []string
	subdirs     []string
	output      string
	indent      int
	separators  string
	trim        bool
	trimKeys    []string
	concurrency int
	timeSource  string
	ntpServers  []string
	noCache     bool
	noProgress  bool
	metricsFile string
}

// fetchCmd 实现 fetch 子命令，下载 repodata 并写入输出目录。
// 用法: repodata-archive fetch --channel <url> [--channel <url> ...]
var fetchCmd = newFetchCmd()

func newFetchCmd() *cobra.Command {
	o := &fetchOptions{}
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch repodata.json for channels and subdirs",
		Long: `Download repodata.json for every channel/subdir pair into the output
directory. A missing subdir (HTTP 404) is skipped; any other error aborts the
run. The output's .time file is only written when every channel had at least
one subdir.`,
		Example: `  repodata-archive fetch --channel https://conda.anaconda.org/bioconda
  repodata-archive fetch --channel https://conda.anaconda.org/conda-forge --subdir noarch --trim`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc, err := prepareRun()
			if err != nil {
				return err
			}
			defer func() { _ = rc.Log.Sync() }()

			_, err = runFetch(cmd, rc, o, channel.Defaults)
			return err
		},
	}
	addFetchFlags(cmd, o)
	return cmd
}

// addFetchFlags 注册 fetch 标志。未显式设置的标志回退到配置文件。
func addFetchFlags(cmd *cobra.Command, o *fetchOptions) {
	f := cmd.Flags()
	f.StringArrayVar(&o.channels, "channel", nil, "Channel URL (repeatable)")
	f.StringArrayVar(&o.subdirs, "subdir", nil, "Platform subdir (repeatable)")
	f.StringVarP(&o.output, "output", "o", config.DefaultOutput, "Output directory")
	f.IntVar(&o.indent, "indent", 0, "JSON indentation; every member is written on its own line")
	f.StringVar(&o.separators, "separators", repodata.DefaultSeparators, "Item and key separators of the JSON output, two characters")
	f.BoolVar(&o.trim, "trim", false, "Drop package fields that are not needed for solving")
	f.StringArrayVar(&o.trimKeys, "trim-key", nil, "Package field to drop with --trim (repeatable)")
	f.IntVar(&o.concurrency, "concurrency", 0, "Parallel downloads (default: number of CPUs)")
	f.StringVar(&o.timeSource, "time-source", config.DefaultTimeSource, "Timestamp source: ntp|system")
	f.StringArrayVar(&o.ntpServers, "ntp-server", nil, "NTP server (repeatable, default: pool.ntp.org)")
	f.BoolVar(&o.noCache, "no-cache", false, "Do not send conditional requests")
	f.BoolVar(&o.noProgress, "no-progress", false, "Disable the progress bar")
	f.StringVar(&o.metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile")
}

// fetcherConfig 合并命令行标志与配置文件。
func (o *fetchOptions) fetcherConfig(cmd *cobra.Command, cfg *config.Config, fallback []string) (fetcher.Config, error) {
	channels, err := resolveChannels(o.channels, cfg.Channels, fallback)
	if err != nil {
		return fetcher.Config{}, err
	}

	fc := fetcher.DefaultConfig()
	fc.Channels = channels
	fc.Subdirs = pick(cmd, "subdir", o.subdirs, cfg.Subdirs)
	fc.Output = pick(cmd, "output", o.output, cfg.Output)
	fc.Indent = pick(cmd, "indent", o.indent, cfg.Indent)
	fc.Separators = pick(cmd, "separators", o.separators, cfg.Separators)
	fc.Progress = !o.noProgress
	if c := pick(cmd, "concurrency", o.concurrency, cfg.Concurrency); c > 0 {
		fc.Concurrency = c
	}

	if pick(cmd, "trim", o.trim, cfg.Trim) {
		keys := cleanStrings(pick(cmd, "trim-key", o.trimKeys, cfg.TrimKeys))
		if len(keys) == 0 {
			keys = repodata.DefaultTrimKeys
		}
		fc.TrimKeys = keys
	}

	if !o.noCache && cfg.Cache {
		dir, err := cache.DefaultDir()
		if err != nil {
			return fetcher.Config{}, err
		}
		fc.Cache = &cache.Store{Dir: dir}
	}
	return fc, nil
}

// runFetch 执行一次抓取并输出汇总。抓取失败时仍会写出指标文件。
func runFetch(cmd *cobra.Command, rc *RunContext, o *fetchOptions, fallback []string) (*fetcher.Result, error) {
	cfg := rc.Config
	fc, err := o.fetcherConfig(cmd, cfg, fallback)
	if err != nil {
		return nil, err
	}

	src, err := newClock(
		pick(cmd, "time-source", o.timeSource, cfg.TimeSource),
		pick(cmd, "ntp-server", o.ntpServers, cfg.NTPServers),
	)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	f, err := fetcher.New(fc, src, rc.Log, m)
	if err != nil {
		return nil, err
	}

	res, err := f.Fetch(commandContext(cmd))
	if o.metricsFile != "" {
		if werr := m.WriteTextfile(o.metricsFile); werr != nil {
			rc.Log.Warn("cannot write metrics", zap.String("path", o.metricsFile), zap.Error(werr))
		}
	}
	if res != nil {
		printFetchSummary(cmd.OutOrStdout(), res)
	}
	return res, err
}

// printFetchSummary 按统一格式输出抓取汇总。
func printFetchSummary(out io.Writer, res *fetcher.Result) {
	fmt.Fprintf(out, "timestamp: %s\n", res.Timestamp)
	fmt.Fprintf(out, "written: %d, not modified: %d, not found: %d\n",
		res.Count(fetcher.Written), res.Count(fetcher.NotModified), res.Count(fetcher.NotFound))
	for _, ch := range res.Unfetched {
		fmt.Fprintf(out, "unfetched: %s\n", ch)
	}
}

func init() {
	rootCmd.AddCommand(fetchCmd)
}
