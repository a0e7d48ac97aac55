package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/harun/tradegate/pkg/mcp"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s (protocol %s, %s)\n", mcp.ServerName, GetVersion(), mcp.ProtocolVersion, runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
