package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"touchgrass/internal/boards"
	"touchgrass/internal/channel"
	"touchgrass/internal/config"
	"touchgrass/internal/daemon"
	"touchgrass/internal/manager"
	"touchgrass/internal/router"
	"touchgrass/internal/telegram"
)

// newDaemonCmd is the hidden subcommand the CLI re-execs itself with to
// become the background daemon.
func newDaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:    daemon.DaemonArg,
		Short:  "Run the control daemon (internal)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemonProcess()
		},
	}
}

func runDaemonProcess() error {
	if err := config.EnsureDataDir(); err != nil {
		return err
	}
	logf, err := os.OpenFile(config.DaemonLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open daemon log: %w", err)
	}
	defer logf.Close()
	log.SetOutput(logf)

	store, err := config.NewStore(config.ConfigPath())
	if err != nil {
		return err
	}

	chans, chanMap := buildChannels(store)
	if len(chans) == 0 {
		log.Printf("daemon: no chat channels configured; sessions will run unbridged")
	}

	mgr := manager.New()
	camp := daemon.NewCamp()
	r := router.New(mgr, store, camp, chanMap)
	tracker := boards.NewTracker(config.StatusBoardsPath(), r)
	r.BindTracker(tracker)

	d := &daemon.Daemon{
		Manager:  mgr,
		Store:    store,
		Camp:     camp,
		Events:   r,
		Tracker:  tracker,
		Channels: chans,
		Handlers: r.Handlers(),
		UseTCP:   config.UseTCP(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return d.Run(ctx)
}

// buildChannels connects every configured chat adapter. A channel that
// fails to connect is logged and skipped so the daemon still serves
// local sessions.
func buildChannels(store *config.Store) ([]channel.Channel, map[string]channel.Channel) {
	type chanCfg struct {
		name  string
		token string
	}
	var cfgs []chanCfg
	store.View(func(c *config.Config) {
		for name, cc := range c.Channels {
			if cc.Type == "telegram" && cc.Credentials[botTokenKey] != "" {
				cfgs = append(cfgs, chanCfg{name: name, token: cc.Credentials[botTokenKey]})
			}
		}
	})

	var list []channel.Channel
	byName := make(map[string]channel.Channel)
	for _, c := range cfgs {
		ch, err := telegram.New(c.name, c.token)
		if err != nil {
			log.Printf("daemon: connect channel %s: %v", c.name, err)
			continue
		}
		list = append(list, ch)
		byName[c.name] = ch
	}
	return list, byName
}
