// Package cmd wires the tg command tree. Each subcommand is a thin
// layer over the daemon client and the session runner; the daemon and
// chat channels do the heavy lifting.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root cobra command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "tg",
		Short: "Bridge terminal coding assistants to chat",
		Long: `tg wraps a coding assistant (claude, codex, pi, kimi) in a terminal
session and mirrors the conversation to a chat channel, so you can read
replies and keep steering the session from your phone.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		newToolCmd("claude"),
		newToolCmd("codex"),
		newToolCmd("pi"),
		newToolCmd("kimi"),
		newResumeCmd(),
		newSendCmd(),
		newLsCmd(),
		newChannelsCmd(),
		newSetupCmd(),
		newPairCmd(),
		newConfigCmd(),
		newDoctorCmd(),
		newCampCmd(),
		newVersionCmd(),
		newDaemonCmd(),
	)

	return rootCmd
}
