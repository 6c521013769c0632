package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/mbargull/bioconda-repodata-archive/internal/channel"
	"github.com/mbargull/bioconda-repodata-archive/internal/logging"
	"github.com/mbargull/bioconda-repodata-archive/internal/repodata"
	"github.com/mbargull/bioconda-repodata-archive/internal/version"
)

const (
	appName = "repodata-archive"

	DefaultOutput      = "repodata"
	DefaultTimeSource  = TimeSourceNTP
	DefaultRemote      = "origin"
	DefaultAuthorName  = "github-actions[bot]"
	DefaultAuthorEmail = "41898282+github-actions[bot]@users.noreply.github.com"

	TimeSourceNTP    = "ntp"
	TimeSourceSystem = "system"

	envPrefix = "REPODATA"
)

// GitConfig 描述提交与推送归档仓库时使用的身份与远端。
type GitConfig struct {
	AuthorName  string
	AuthorEmail string
	Remote      string
	// Token 只从环境变量读取，不会被写回配置文件。
	Token string
}

type Config struct {
	// Channels 为空时由各命令选择默认频道列表。
	Channels    []string
	Subdirs     []string
	Output      string
	Indent      int
	Separators  string
	Trim        bool
	TrimKeys    []string
	Concurrency int
	TimeSource  string
	NTPServers  []string
	Cache       bool
	LogLevel    string
	Version     version.Version
	Git         GitConfig
}

func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", appName), nil
}

func File() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}

func newViper(configFile string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetConfigType("yaml")

	v.SetDefault("channels", []string{})
	v.SetDefault("subdirs", channel.Subdirs)
	v.SetDefault("output", DefaultOutput)
	v.SetDefault("indent", 0)
	v.SetDefault("separators", repodata.DefaultSeparators)
	v.SetDefault("trim", false)
	v.SetDefault("trim_keys", []string{})
	v.SetDefault("concurrency", 0)
	v.SetDefault("time_source", DefaultTimeSource)
	v.SetDefault("ntp_servers", []string{})
	v.SetDefault("cache", true)
	v.SetDefault("log_level", logging.LevelInfo)
	v.SetDefault("version.mayor", 1)
	v.SetDefault("version.minor", 1)
	v.SetDefault("version.channels", 1)
	v.SetDefault("git.author_name", DefaultAuthorName)
	v.SetDefault("git.author_email", DefaultAuthorEmail)
	v.SetDefault("git.remote", DefaultRemote)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("version.mayor", version.EnvMayor)
	_ = v.BindEnv("version.minor", version.EnvMinor)
	_ = v.BindEnv("version.channels", version.EnvChannels)
	_ = v.BindEnv("git.token", "GITHUB_TOKEN")
	return v
}

// Load 读取配置。configFile 为空时使用默认路径，文件不存在时只使用默认值和环境变量。
func Load(configFile string) (*Config, error) {
	if configFile == "" {
		f, err := File()
		if err != nil {
			return nil, err
		}
		configFile = f
	}

	v := newViper(configFile)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		Channels:    v.GetStringSlice("channels"),
		Subdirs:     v.GetStringSlice("subdirs"),
		Output:      v.GetString("output"),
		Indent:      v.GetInt("indent"),
		Separators:  v.GetString("separators"),
		Trim:        v.GetBool("trim"),
		TrimKeys:    v.GetStringSlice("trim_keys"),
		Concurrency: v.GetInt("concurrency"),
		TimeSource:  v.GetString("time_source"),
		NTPServers:  v.GetStringSlice("ntp_servers"),
		Cache:       v.GetBool("cache"),
		LogLevel:    v.GetString("log_level"),
		Version: version.Version{
			Mayor:    v.GetInt("version.mayor"),
			Minor:    v.GetInt("version.minor"),
			Channels: v.GetInt("version.channels"),
		},
		Git: GitConfig{
			AuthorName:  v.GetString("git.author_name"),
			AuthorEmail: v.GetString("git.author_email"),
			Remote:      v.GetString("git.remote"),
			Token:       v.GetString("git.token"),
		},
	}
	return cfg, nil
}

// Save 把配置写入 configFile（为空时使用默认路径）。Git.Token 不会被写入。
func Save(configFile string, cfg Config) error {
	if configFile == "" {
		if err := EnsureDir(); err != nil {
			return err
		}
		f, err := File()
		if err != nil {
			return err
		}
		configFile = f
	} else if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("channels", cfg.Channels)
	v.Set("subdirs", cfg.Subdirs)
	v.Set("output", cfg.Output)
	v.Set("indent", cfg.Indent)
	v.Set("separators", cfg.Separators)
	v.Set("trim", cfg.Trim)
	v.Set("trim_keys", cfg.TrimKeys)
	v.Set("concurrency", cfg.Concurrency)
	v.Set("time_source", cfg.TimeSource)
	v.Set("ntp_servers", cfg.NTPServers)
	v.Set("cache", cfg.Cache)
	v.Set("log_level", cfg.LogLevel)
	v.Set("version.mayor", cfg.Version.Mayor)
	v.Set("version.minor", cfg.Version.Minor)
	v.Set("version.channels", cfg.Version.Channels)
	v.Set("git.author_name", cfg.Git.AuthorName)
	v.Set("git.author_email", cfg.Git.AuthorEmail)
	v.Set("git.remote", cfg.Git.Remote)

	return v.WriteConfigAs(configFile)
}

// ValidateConfig 检查配置合法性，返回问题列表。
func ValidateConfig(cfg *Config) []string {
	var issues []string

	for _, c := range cfg.Channels {
		if _, err := channel.Normalize(c); err != nil {
			issues = append(issues, fmt.Sprintf("invalid channel: %v", err))
		}
	}
	if len(channel.CleanSubdirs(cfg.Subdirs)) == 0 {
		issues = append(issues, "subdirs must not be empty")
	}
	if strings.TrimSpace(cfg.Output) == "" {
		issues = append(issues, "output must not be empty")
	}
	if cfg.Indent < 0 {
		issues = append(issues, fmt.Sprintf("indent must be >= 0, got %d", cfg.Indent))
	}
	if cfg.Separators != "" {
		if _, _, err := repodata.ParseSeparators(cfg.Separators); err != nil {
			issues = append(issues, err.Error())
		}
	}
	if cfg.Concurrency < 0 {
		issues = append(issues, fmt.Sprintf("concurrency must be >= 0, got %d", cfg.Concurrency))
	}
	switch cfg.TimeSource {
	case TimeSourceNTP, TimeSourceSystem:
	default:
		issues = append(issues, fmt.Sprintf("time_source must be %q or %q, got %q", TimeSourceNTP, TimeSourceSystem, cfg.TimeSource))
	}
	if _, err := logging.ParseLevel(cfg.LogLevel); err != nil && !strings.EqualFold(cfg.LogLevel, logging.LevelNone) {
		issues = append(issues, err.Error())
	}
	if err := cfg.Version.Validate(); err != nil {
		issues = append(issues, err.Error())
	}
	if email := strings.TrimSpace(cfg.Git.AuthorEmail); email == "" || !strings.Contains(email, "@") {
		issues = append(issues, fmt.Sprintf("invalid git author email format: %q", cfg.Git.AuthorEmail))
	}
	if strings.TrimSpace(cfg.Git.AuthorName) == "" {
		issues = append(issues, "git author name must not be empty")
	}
	return issues
}
