package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"touchgrass/internal/config"
	"touchgrass/internal/telegram"
)

// botTokenKey is the credential key the Telegram adapter's token is
// stored under in config.json.
const botTokenKey = "botToken"

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Configure the Telegram bot this machine talks through",
		Long: `Setup stores a Telegram bot token in ~/.touchgrass/config.json and
verifies it against the Bot API. Create a bot with @BotFather first;
it gives you the token.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !stdinIsTerminal() {
				return fmt.Errorf("setup is interactive; run it from a terminal")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			if ch := cfg.Channel("telegram"); ch != nil && ch.Credentials[botTokenKey] != "" {
				ok, err := promptLine("A bot token is already configured. Replace it? [y/N]: ")
				if err != nil {
					return err
				}
				if !strings.EqualFold(ok, "y") && !strings.EqualFold(ok, "yes") {
					fmt.Println("Keeping the existing token.")
					return nil
				}
			}

			token, err := promptLine("Bot token (from @BotFather): ")
			if err != nil {
				return err
			}
			if token == "" {
				return fmt.Errorf("no token entered")
			}

			ch, err := telegram.New("telegram", token)
			if err != nil {
				return fmt.Errorf("token rejected by Telegram: %w", err)
			}

			cc := cfg.EnsureChannel("telegram", "telegram")
			if cc.Credentials == nil {
				cc.Credentials = make(map[string]string)
			}
			cc.Credentials[botTokenKey] = token
			if err := cfg.Save(); err != nil {
				return err
			}

			fmt.Printf("\nConnected to %s. Config written to %s\n\n", bold("@"+ch.BotUsername()), config.ConfigPath())
			fmt.Println("Next steps:")
			fmt.Printf("  1. Open https://t.me/%s and send /start\n", ch.BotUsername())
			fmt.Println("  2. Run 'tg pair' and send the code it prints to the bot")
			fmt.Println("  3. Start a session: tg claude")
			return nil
		},
	}
}
