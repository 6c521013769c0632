package cmd

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mbargull/bioconda-repodata-archive/internal/logging"
)

var (
	// configFile 为空时使用 ~/.config/repodata-archive/config.yaml。
	configFile string
	// logLevel 为空时使用配置文件中的 log_level。
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "repodata-archive",
	Short: "Archive conda channel repodata into a tagged git history",
	Long: `Fetch repodata.json for a list of conda channels and platform subdirs,
then commit the snapshot to a git repository and tag it with the archive
version and the fetch timestamp.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute 运行根命令；收到 SIGINT/SIGTERM 时取消正在进行的请求。
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ~/.config/repodata-archive/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: "+strings.Join(logging.Levels, "|"))
}
