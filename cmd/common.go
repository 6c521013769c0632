package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mbargull/bioconda-repodata-archive/internal/channel"
	"github.com/mbargull/bioconda-repodata-archive/internal/clock"
	"github.com/mbargull/bioconda-repodata-archive/internal/config"
	"github.com/mbargull/bioconda-repodata-archive/internal/logging"
	"github.com/mbargull/bioconda-repodata-archive/internal/version"
)

var errNoChannelsConfigured = errors.New("no channels configured")

// RunContext holds the common initialization result for commands.
type RunContext struct {
	Config *config.Config
	Log    *zap.Logger
}

// prepareRun performs common command initialization:
// load config, apply --log-level and VERSION_* overrides, build the logger.
func prepareRun() (*RunContext, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	if lvl := strings.TrimSpace(logLevel); lvl != "" {
		cfg.LogLevel = lvl
	}

	// viper 对非整数的环境变量静默返回 0，这里重新严格解析
	v, err := version.FromEnv(cfg.Version, os.LookupEnv)
	if err != nil {
		return nil, err
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	cfg.Version = v

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	return &RunContext{Config: cfg, Log: log}, nil
}

// resolveChannels 选择频道列表：命令行 > 配置文件 > fallback，并规范化去重。
func resolveChannels(flagChannels, configured, fallback []string) ([]string, error) {
	candidates := fallback
	switch {
	case len(cleanStrings(flagChannels)) > 0:
		candidates = flagChannels
	case len(cleanStrings(configured)) > 0:
		candidates = configured
	}

	channels, err := channel.Dedupe(cleanStrings(candidates))
	if err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, errNoChannelsConfigured
	}
	return channels, nil
}

// newClock 根据 time_source 构建时间源。
func newClock(source string, servers []string) (clock.Source, error) {
	switch strings.ToLower(strings.TrimSpace(source)) {
	case config.TimeSourceNTP, "":
		return clock.NewNTP(cleanStrings(servers), 0), nil
	case config.TimeSourceSystem:
		return clock.System{}, nil
	}
	return nil, fmt.Errorf("unsupported time source %q (supported: %s, %s)", source, config.TimeSourceNTP, config.TimeSourceSystem)
}

// cleanStrings 去除首尾空白并过滤空值。
func cleanStrings(values []string) []string {
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			cleaned = append(cleaned, v)
		}
	}
	return cleaned
}

// pick 在标志被显式设置时返回标志值，否则返回配置值。
func pick[T any](cmd *cobra.Command, name string, flag, configured T) T {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		return flag
	}
	return configured
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
