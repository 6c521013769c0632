package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	Version = "0.1.0"
)

var versionCmd = newVersionCmd()

// newVersionCmd 输出程序版本以及当前生效的归档版本号。
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "repodata-archive %s\n", Version)

			rc, err := prepareRun()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "archive version %s\n", rc.Config.Version)
			return nil
		},
	}
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
