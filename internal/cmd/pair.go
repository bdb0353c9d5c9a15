package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"touchgrass/internal/config"
	"touchgrass/internal/daemon"
)

func newPairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair",
		Short: "Generate a one-time code that pairs your chat account",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			channelName := cfg.DefaultChannelName()
			if channelName == "" {
				return fmt.Errorf("no chat channel configured; run 'tg setup' first")
			}

			client := daemon.NewClient()
			if err := daemon.EnsureDaemon(ctx, client); err != nil {
				return err
			}
			resp, err := client.GenerateCode(ctx, channelName)
			if err != nil {
				return err
			}

			fmt.Printf("Pairing code: %s (valid %d minutes, single use)\n\n",
				bold(resp.Code), int(time.Until(resp.ExpiresAt).Minutes())+1)
			fmt.Printf("Send this to your bot in a direct message:\n\n  /pair %s\n", resp.Code)
			return nil
		},
	}
}
