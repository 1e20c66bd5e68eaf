package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func NewVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := map[string]string{
				"version":    GetVersion(),
				"commit":     GetCommit(),
				"build_date": BuildDate,
				"go_version": GetGoVersion(),
				"platform":   runtime.GOOS + "/" + runtime.GOARCH,
			}
			if jsonOutput() {
				return printJSON(cmd.OutOrStdout(), info)
			}
			fmt.Fprintln(cmd.OutOrStdout(), StatusBox(Logo(), [][2]string{
				{"Version", info["version"]},
				{"Commit", info["commit"]},
				{"Build Date", info["build_date"]},
				{"Go Version", info["go_version"]},
				{"OS/Arch", info["platform"]},
			}))
			return nil
		},
	}
}
