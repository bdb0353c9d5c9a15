package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"touchgrass/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and change settings",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the current config (credentials masked)",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(maskedConfig(cfg), "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(data))
				return nil
			},
		},
		&cobra.Command{
			Use:   "set <key> <value>",
			Short: "Change a setting",
			Long: `Settable keys: outputBatchMinMs, outputBatchMaxMs,
outputBufferMaxChars, maxSessions, defaultShell.`,
			Args: cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				if err := applySetting(cfg, args[0], args[1]); err != nil {
					return err
				}
				if err := cfg.Save(); err != nil {
					return err
				}
				fmt.Printf("%s = %s\n", args[0], args[1])
				return nil
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the config file path",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(config.ConfigPath())
			},
		},
	)
	return cmd
}

// applySetting mutates one settings key from its string form.
func applySetting(cfg *config.Config, key, value string) error {
	setInt := func(dst *int) error {
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer, got %q", key, value)
		}
		*dst = n
		return nil
	}
	switch key {
	case "outputBatchMinMs":
		return setInt(&cfg.Settings.OutputBatchMinMs)
	case "outputBatchMaxMs":
		return setInt(&cfg.Settings.OutputBatchMaxMs)
	case "outputBufferMaxChars":
		return setInt(&cfg.Settings.OutputBufferMaxChars)
	case "maxSessions":
		return setInt(&cfg.Settings.MaxSessions)
	case "defaultShell":
		cfg.Settings.DefaultShell = value
		return nil
	default:
		return fmt.Errorf("unknown setting %q", key)
	}
}

// maskedConfig returns a copy safe to print: credential values keep
// only their last four characters.
func maskedConfig(cfg *config.Config) *config.Config {
	out := *cfg
	if cfg.Channels != nil {
		out.Channels = make(map[string]*config.ChannelConfig, len(cfg.Channels))
		for name, ch := range cfg.Channels {
			cc := *ch
			if ch.Credentials != nil {
				cc.Credentials = make(map[string]string, len(ch.Credentials))
				for k, v := range ch.Credentials {
					cc.Credentials[k] = maskSecret(v)
				}
			}
			out.Channels[name] = &cc
		}
	}
	return &out
}

func maskSecret(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}
