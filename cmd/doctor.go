package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mbargull/bioconda-repodata-archive/internal/archive"
	"github.com/mbargull/bioconda-repodata-archive/internal/channel"
	"github.com/mbargull/bioconda-repodata-archive/internal/clock"
	"github.com/mbargull/bioconda-repodata-archive/internal/config"
)

const doctorClockTimeout = 10 * time.Second

// doctorCmd 实现 doctor 子命令，一站式诊断环境和配置问题。
// 依次执行 5 项检查：配置合法性、归档仓库、输出目录写权限、时间源、性能预警。
// 有错误时返回非零退出码，仅警告时返回 0。
// 用法: repodata-archive doctor
var doctorCmd = newDoctorCmd()

func newDoctorCmd() *cobra.Command {
	var (
		repoPath string
		output   string
	)
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose environment and configuration issues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd, repoPath, output)
		},
	}
	cmd.Flags().StringVar(&repoPath, "repo", ".", "Path inside the archive git repository")
	cmd.Flags().StringVarP(&output, "output", "o", config.DefaultOutput, "Output directory")
	return cmd
}

// init 注册 doctor 命令。
func init() {
	rootCmd.AddCommand(doctorCmd)
}

// runDoctor 是 doctor 命令的核心逻辑，按顺序执行 5 项诊断检查：
//  1. 配置合法性（频道、子目录、版本号、作者邮箱等）
//  2. 归档仓库（HEAD 有提交且可解析，远端存在）
//  3. 输出目录写权限
//  4. 时间源（NTP 可达；失败仅警告）
//  5. 性能预警（频道子目录组合 >200 或输出目录 >1GB）
//
// 输出使用 ✅/⚠️/❌ 分类显示，有错误时返回 error（exit 非零）。
func runDoctor(cmd *cobra.Command, repoPath, output string) error {
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "Running diagnostics...")

	hasError := false

	// 1. 配置合法性检查
	cfg, cfgErr := config.Load(configFile)
	if cfgErr != nil {
		hasError = true
		fmt.Fprintf(out, "❌ Config: %v\n", cfgErr)
		cfg = &config.Config{Output: output, TimeSource: config.TimeSourceSystem, Git: config.GitConfig{Remote: config.DefaultRemote}}
	} else {
		issues := config.ValidateConfig(cfg)
		if len(issues) == 0 {
			fmt.Fprintln(out, "✅ Config: OK")
		} else {
			fmt.Fprintf(out, "⚠️  Config: %d issue(s)\n", len(issues))
			printLines(out, issues)
		}
	}
	output = pick(cmd, "output", output, cfg.Output)

	// 2. 归档仓库检查
	if err := archive.CheckRepository(repoPath, cfg.Git.Remote); err != nil {
		hasError = true
		fmt.Fprintf(out, "❌ Repository: %v\n", err)
	} else {
		fmt.Fprintln(out, "✅ Repository: OK")
	}

	// 3. 输出目录写权限检查
	if err := archive.CheckOutputWritable(output); err != nil {
		hasError = true
		fmt.Fprintf(out, "❌ Output: %v\n", err)
	} else {
		fmt.Fprintln(out, "✅ Output: writable")
	}

	// 4. 时间源检查
	src, err := newClock(cfg.TimeSource, cfg.NTPServers)
	if err != nil {
		hasError = true
		fmt.Fprintf(out, "❌ Time source: %v\n", err)
	} else if msg, ok := checkClock(commandContext(cmd), src); ok {
		fmt.Fprintf(out, "✅ Time source: %s\n", msg)
	} else {
		fmt.Fprintf(out, "⚠️  Time source: %s\n", msg)
	}

	// 5. 性能预警（组合数量、输出目录体积）
	channels, err := resolveChannels(nil, cfg.Channels, channel.Archive)
	if err != nil {
		channels = channel.Archive
	}
	pairs := len(channels) * len(channel.CleanSubdirs(cfg.Subdirs))
	performanceWarnings := archive.CheckPerformance(pairs, output)
	if len(performanceWarnings) == 0 {
		fmt.Fprintln(out, "✅ Performance: OK")
	} else {
		fmt.Fprintf(out, "⚠️  Performance: %d warning(s)\n", len(performanceWarnings))
		printLines(out, performanceWarnings)
	}

	if hasError {
		return fmt.Errorf("doctor found issues")
	}
	return nil
}

// checkClock 查询时间源并报告与本机时钟的偏差。
func checkClock(ctx context.Context, src clock.Source) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, doctorClockTimeout)
	defer cancel()

	now, err := src.Now(ctx)
	if err != nil {
		return strings.TrimSpace(err.Error()), false
	}
	skew := time.Since(now).Round(time.Millisecond)
	return fmt.Sprintf("%s (local skew %s)", clock.Format(now), skew), true
}

// printLines 将字符串列表以缩进列表形式输出，每行前加 "   - " 前缀。
func printLines(out io.Writer, lines []string) {
	for _, line := range lines {
		fmt.Fprintf(out, "   - %s\n", line)
	}
}
