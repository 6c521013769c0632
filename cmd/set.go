package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mbargull/bioconda-repodata-archive/internal/channel"
	"github.com/mbargull/bioconda-repodata-archive/internal/config"
	"github.com/mbargull/bioconda-repodata-archive/internal/logging"
	"github.com/mbargull/bioconda-repodata-archive/internal/repodata"
)

// setKeys 是 set 支持的配置项。
var setKeys = []string{
	"subdirs", "output", "indent", "separators", "trim", "trim_keys", "concurrency",
	"time_source", "ntp_servers", "cache", "log_level",
	"version.mayor", "version.minor", "version.channels",
	"git.author_name", "git.author_email", "git.remote",
}

// setCmd 实现 set 子命令，用于查看或修改默认配置。
// 支持两种模式：
// 1. repodata-archive set - 显示当前配置
// 2. repodata-archive set <key> <value> - 设置配置项
var setCmd = newSetCmd()

// newSetCmd 构建 set 命令，便于在测试中复用。
func newSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Set or show default configuration",
		Long: `View or modify persisted defaults.

Without arguments, displays the current configuration.
With key/value, sets the specified option. List values are comma separated.
Use "set channel" subcommands to manage the channel list.`,
		Example: `  repodata-archive set
  repodata-archive set subdirs noarch,linux-64
  repodata-archive set time_source system
  repodata-archive set version.channels 2
  repodata-archive set channel add https://conda.anaconda.org/bioconda
  repodata-archive set channel list`,
		Args: validateSetArgs,
		RunE: runSet,
	}
	cmd.AddCommand(newSetChannelCmd())
	return cmd
}

// validateSetArgs 校验 set 顶层参数格式。
func validateSetArgs(cmd *cobra.Command, args []string) error {
	// 无参数：显示配置
	if len(args) == 0 {
		return nil
	}
	// 设置配置需要正好两个参数
	if len(args) != 2 {
		return fmt.Errorf("usage: repodata-archive set [key] <value>")
	}
	return nil
}

// runSet 执行 set 顶层逻辑（显示或设置配置项）。
func runSet(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	if len(args) == 0 {
		printConfig(cmd.OutOrStdout(), cfg)
		return nil
	}

	if err := applySetting(cfg, strings.ToLower(args[0]), args[1]); err != nil {
		return err
	}
	return config.Save(configFile, *cfg)
}

// applySetting 修改单个配置项并做基本校验。
func applySetting(cfg *config.Config, key, val string) error {
	val = strings.TrimSpace(val)

	switch key {
	case "subdirs":
		subdirs := channel.CleanSubdirs(splitList(val))
		if len(subdirs) == 0 {
			return fmt.Errorf("subdirs must not be empty")
		}
		cfg.Subdirs = subdirs
	case "output":
		if val == "" {
			return fmt.Errorf("output must not be empty")
		}
		cfg.Output = val
	case "indent":
		n, err := parseNonNegative(key, val)
		if err != nil {
			return err
		}
		cfg.Indent = n
	case "separators":
		if _, _, err := repodata.ParseSeparators(val); err != nil {
			return err
		}
		cfg.Separators = val
	case "trim":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid trim %q: %w", val, err)
		}
		cfg.Trim = b
	case "trim_keys":
		cfg.TrimKeys = splitList(val)
	case "concurrency":
		n, err := parseNonNegative(key, val)
		if err != nil {
			return err
		}
		cfg.Concurrency = n
	case "time_source":
		if _, err := newClock(val, nil); err != nil || val == "" {
			return fmt.Errorf("time_source must be %q or %q, got %q", config.TimeSourceNTP, config.TimeSourceSystem, val)
		}
		cfg.TimeSource = strings.ToLower(val)
	case "ntp_servers":
		cfg.NTPServers = splitList(val)
	case "cache":
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("invalid cache %q: %w", val, err)
		}
		cfg.Cache = b
	case "log_level":
		if _, err := logging.ParseLevel(val); err != nil && !strings.EqualFold(val, logging.LevelNone) {
			return err
		}
		cfg.LogLevel = strings.ToLower(val)
	case "version.mayor", "version.minor", "version.channels":
		n, err := parseNonNegative(key, val)
		if err != nil {
			return err
		}
		switch key {
		case "version.mayor":
			cfg.Version.Mayor = n
		case "version.minor":
			cfg.Version.Minor = n
		default:
			cfg.Version.Channels = n
		}
	case "git.author_name":
		if val == "" {
			return fmt.Errorf("git author name must not be empty")
		}
		cfg.Git.AuthorName = val
	case "git.author_email":
		if !strings.Contains(val, "@") {
			return fmt.Errorf("invalid email format %q: must contain @", val)
		}
		cfg.Git.AuthorEmail = val
	case "git.remote":
		if val == "" {
			return fmt.Errorf("git remote must not be empty")
		}
		cfg.Git.Remote = val
	default:
		return fmt.Errorf("unsupported key %q (supported: %s)", key, strings.Join(setKeys, ", "))
	}
	return nil
}

func parseNonNegative(key, val string) (int, error) {
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must be >= 0, got %d", key, n)
	}
	return n, nil
}

// splitList 按逗号拆分列表值。
func splitList(val string) []string {
	return cleanStrings(strings.Split(val, ","))
}

// printConfig 按统一格式输出配置。Token 不会被输出。
func printConfig(out io.Writer, cfg *config.Config) {
	if len(cfg.Channels) == 0 {
		fmt.Fprintln(out, "channels: (defaults)")
	} else {
		fmt.Fprintln(out, "channels:")
		printLines(out, cfg.Channels)
	}
	fmt.Fprintf(out, "subdirs: %s\n", strings.Join(cfg.Subdirs, ", "))
	fmt.Fprintf(out, "output: %s\n", cfg.Output)
	fmt.Fprintf(out, "indent: %d\n", cfg.Indent)
	fmt.Fprintf(out, "separators: %q\n", cfg.Separators)
	fmt.Fprintf(out, "trim: %t\n", cfg.Trim)
	fmt.Fprintf(out, "trim_keys: %s\n", strings.Join(cfg.TrimKeys, ", "))
	fmt.Fprintf(out, "concurrency: %d\n", cfg.Concurrency)
	fmt.Fprintf(out, "time_source: %s\n", cfg.TimeSource)
	fmt.Fprintf(out, "ntp_servers: %s\n", strings.Join(cfg.NTPServers, ", "))
	fmt.Fprintf(out, "cache: %t\n", cfg.Cache)
	fmt.Fprintf(out, "log_level: %s\n", cfg.LogLevel)
	fmt.Fprintf(out, "version: %s\n", cfg.Version)
	fmt.Fprintf(out, "git.author: %s <%s>\n", cfg.Git.AuthorName, cfg.Git.AuthorEmail)
	fmt.Fprintf(out, "git.remote: %s\n", cfg.Git.Remote)
}

// newSetChannelCmd 构建 channel 子命令组。
func newSetChannelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Manage the configured channel list",
		Long: `Manage the persisted channel list.

When no channels are configured, "fetch" uses the default channels and "run"
uses the full archive list.`,
		Example: `  repodata-archive set channel add https://conda.anaconda.org/bioconda
  repodata-archive set channel remove https://conda.anaconda.org/bioconda
  repodata-archive set channel list`,
		Args: cobra.NoArgs,
	}
	cmd.AddCommand(newSetChannelAddCmd())
	cmd.AddCommand(newSetChannelRemoveCmd())
	cmd.AddCommand(newSetChannelListCmd())
	return cmd
}

// newSetChannelAddCmd 构建 channel add 子命令。
func newSetChannelAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <url> [url...]",
		Short: "Add channels",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSetChannelAdd,
	}
}

// runSetChannelAdd 规范化并追加频道，已存在的频道跳过。
func runSetChannelAdd(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	channels, err := channel.Dedupe(append(cleanStrings(cfg.Channels), args...))
	if err != nil {
		return err
	}
	added := len(channels) - len(cfg.Channels)
	cfg.Channels = channels

	if err := config.Save(configFile, *cfg); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%d channel(s) added, %d configured\n", added, len(channels))
	return nil
}

// newSetChannelRemoveCmd 构建 channel remove 子命令。
func newSetChannelRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <url>",
		Short: "Remove a channel",
		Args:  cobra.ExactArgs(1),
		RunE:  runSetChannelRemove,
	}
}

// runSetChannelRemove 删除指定频道。
func runSetChannelRemove(cmd *cobra.Command, args []string) error {
	target, err := channel.Normalize(args[0])
	if err != nil {
		return err
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	index := -1
	for i, ch := range cfg.Channels {
		if normalized, err := channel.Normalize(ch); err == nil && normalized == target {
			index = i
			break
		}
	}
	if index < 0 {
		return fmt.Errorf("channel %q not found", target)
	}

	cfg.Channels = append(cfg.Channels[:index], cfg.Channels[index+1:]...)
	if err := config.Save(configFile, *cfg); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "channel %q removed\n", target)
	return nil
}

// newSetChannelListCmd 构建 channel list 子命令。
func newSetChannelListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured channels",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(cfg.Channels) == 0 {
				fmt.Fprintln(out, "No channels configured")
				return nil
			}
			for _, ch := range cfg.Channels {
				fmt.Fprintln(out, ch)
			}
			return nil
		},
	}
}

// init 注册 set 命令。
func init() {
	rootCmd.AddCommand(setCmd)
}
