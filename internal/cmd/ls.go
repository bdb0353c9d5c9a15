package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"touchgrass/internal/daemon"
	"touchgrass/internal/remote"
)

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List bridged sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifests, _ := remote.ListManifests()
			cwds := make(map[string]string, len(manifests))
			for _, m := range manifests {
				cwds[m.ID] = m.Cwd
			}

			client := daemon.NewClient()
			status, err := client.Status(cmd.Context())
			if err != nil {
				fmt.Println("Daemon not running.")
				for _, m := range manifests {
					// Leftover manifests from sessions that died with the daemon.
					fmt.Printf("  %s %s %s\n", red("✗"), m.ID,
						dim(fmt.Sprintf("%s · %s (not responding)", m.Command, abbreviateHome(m.Cwd))))
				}
				return nil
			}

			if len(status.Sessions) == 0 {
				fmt.Println("No bridged sessions.")
				return nil
			}
			fmt.Println(bold("Bridged sessions:"))
			for _, s := range status.Sessions {
				printSessionLine(s, cwds[s.ID])
			}
			return nil
		},
	}
}

func printSessionLine(s remote.SessionStatus, cwd string) {
	var symbol, state string
	switch s.State {
	case "active":
		symbol, state = green("●"), green(s.State)
	case "idle":
		symbol, state = yellow("○"), yellow(s.State)
	case "stale":
		symbol, state = red("●"), red(s.State)
	default:
		symbol, state = gray("○"), gray(s.State)
	}

	line := fmt.Sprintf("  %s %s %s — %s, up %s",
		symbol, s.ID, dim(s.Command), state, compactDuration(time.Since(s.CreatedAt)))
	if cwd != "" {
		line += "  " + dim(abbreviateHome(cwd))
	}
	fmt.Println(line)
}

// compactDuration renders an uptime the way people read it: "42s",
// "12m", "3h12m", "2d".
func compactDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		h := int(d.Hours())
		m := int(d.Minutes()) - h*60
		if m == 0 {
			return fmt.Sprintf("%dh", h)
		}
		return fmt.Sprintf("%dh%dm", h, m)
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func abbreviateHome(path string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	if path == home {
		return "~"
	}
	if strings.HasPrefix(path, home+"/") {
		return "~" + path[len(home):]
	}
	return path
}
