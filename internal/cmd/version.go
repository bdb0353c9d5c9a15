package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"touchgrass/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tg version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "tg "+version.DisplayVersion())
		},
	}
}
