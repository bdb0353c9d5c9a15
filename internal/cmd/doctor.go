package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"touchgrass/internal/config"
	"touchgrass/internal/daemon"
	"touchgrass/internal/telegram"
	"touchgrass/internal/tool"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check this machine's touchgrass setup",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			failures := 0
			pass := func(format string, a ...any) {
				fmt.Printf("  %s %s\n", green("✓"), fmt.Sprintf(format, a...))
			}
			fail := func(format string, a ...any) {
				failures++
				fmt.Printf("  %s %s\n", red("✗"), fmt.Sprintf(format, a...))
			}
			note := func(format string, a ...any) {
				fmt.Printf("  %s\n", dim("- "+fmt.Sprintf(format, a...)))
			}

			cfg, err := config.Load()
			if err != nil {
				fail("config: %v", err)
				return doctorVerdict(failures)
			}
			pass("config: %s", config.ConfigPath())

			channelName := cfg.DefaultChannelName()
			if channelName == "" {
				fail("channel: none configured (run 'tg setup')")
			} else {
				ch := cfg.Channel(channelName)
				token := ch.Credentials[botTokenKey]
				if token == "" {
					fail("channel %s: no bot token (run 'tg setup')", channelName)
				} else if tg, err := telegram.New(channelName, token); err != nil {
					fail("channel %s: token check failed: %v", channelName, err)
				} else {
					pass("channel %s: bot @%s reachable", channelName, tg.BotUsername())
				}
				if paired := len(ch.PairedUsers); paired == 0 {
					fail("pairing: no paired user (run 'tg pair')")
				} else {
					pass("pairing: %d user(s), %d linked group(s)", paired, len(ch.LinkedGroups))
				}
			}

			if issues := dataDirIssues(config.DataDir()); len(issues) == 0 {
				pass("data dir: %s", config.DataDir())
			} else {
				for _, issue := range issues {
					fail("%s", issue)
				}
			}

			if health, err := daemon.NewClient().Health(ctx); err != nil {
				note("daemon: not running (starts on demand)")
			} else {
				pass("daemon: pid %d, up %s", health.PID, compactDuration(time.Since(health.StartedAt)))
			}

			for _, name := range tool.Known() {
				if path, err := exec.LookPath(name); err != nil {
					note("%s: not on PATH", name)
				} else {
					pass("%s: %s", name, path)
				}
			}

			return doctorVerdict(failures)
		},
	}
}

func doctorVerdict(failures int) error {
	if failures == 0 {
		fmt.Println("\nAll good.")
		return nil
	}
	return fmt.Errorf("%d check(s) failed", failures)
}

// dataDirIssues inspects the data directory's permission modes. The
// daemon and CLI create everything owner-only; looser modes leak the
// auth token and session logs to other local users.
func dataDirIssues(dir string) []string {
	info, err := os.Stat(dir)
	if err != nil {
		// Not created yet; the first session creates it 0700.
		return nil
	}
	var issues []string
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		issues = append(issues, fmt.Sprintf("data dir %s is group/world accessible (%04o, want 0700)", dir, mode))
	}
	for _, name := range []string{"config.json", "auth-token", "daemon.pid"} {
		path := filepath.Join(dir, name)
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if mode := fi.Mode().Perm(); mode&0o077 != 0 {
			issues = append(issues, fmt.Sprintf("%s is group/world accessible (%04o, want 0600)", path, mode))
		}
	}
	return issues
}
