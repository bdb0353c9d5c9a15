package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"touchgrass/internal/daemon"
)

func newChannelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List chats a session can be bound to",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := daemon.NewClient()
			if err := daemon.EnsureDaemon(ctx, client); err != nil {
				return err
			}
			resp, err := client.Channels(ctx)
			if err != nil {
				return err
			}
			if len(resp.Chats) == 0 {
				fmt.Println("No chats yet. Pair a DM with 'tg pair', or add the bot to a group and send /link.")
				return nil
			}
			fmt.Println(bold("Chats:"))
			for _, c := range resp.Chats {
				busy := ""
				if c.Busy {
					busy = " " + yellow("busy: "+c.BusyLabel)
				}
				fmt.Printf("  %s %s%s\n", chatTitle(c), dim(fmt.Sprintf("(%s, %s)", c.Type, c.ChatID)), busy)
			}
			return nil
		},
	}
}
