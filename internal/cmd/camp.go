package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"touchgrass/internal/daemon"
	"touchgrass/internal/remote"
	"touchgrass/internal/tool"
)

var (
	campPollInterval = 2 * time.Second
	// campRegisterInterval must stay under the daemon's staleness window
	// so the /camp chat command keeps seeing the controller as alive.
	campRegisterInterval = 10 * time.Second
)

// campFile is the optional <root>/camp.yaml controller config.
type campFile struct {
	// DefaultTool runs when a /camp request names none.
	DefaultTool string `yaml:"defaultTool"`
	// Projects, when non-empty, is the allow-list of project dirs.
	Projects []string `yaml:"projects"`
}

func newCampCmd() *cobra.Command {
	var root string
	cmd := &cobra.Command{
		Use:   "camp --root <dir>",
		Short: "Serve chat-initiated sessions from a projects directory",
		Long: `Camp keeps this machine available for sessions started from chat:
"/camp <project> [tool]" in a chat spawns a headless session in
<root>/<project>, bound to the requesting chat. An optional
<root>/camp.yaml restricts projects and sets the default tool.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rootDir, err := filepath.Abs(root)
			if err != nil {
				return err
			}
			if fi, err := os.Stat(rootDir); err != nil || !fi.IsDir() {
				return fmt.Errorf("--root %s is not a directory", root)
			}
			cf, err := loadCampFile(rootDir)
			if err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := daemon.NewClient()
			if err := daemon.EnsureDaemon(ctx, client); err != nil {
				return err
			}
			if err := client.CampRegister(ctx, rootDir, os.Getpid()); err != nil {
				return err
			}
			fmt.Printf("camp: serving %s (send \"/camp <project>\" to your bot)\n", rootDir)

			poll := time.NewTicker(campPollInterval)
			defer poll.Stop()
			reg := time.NewTicker(campRegisterInterval)
			defer reg.Stop()
			for {
				select {
				case <-ctx.Done():
					fmt.Println("camp: stopping")
					return nil
				case <-reg.C:
					if err := client.CampRegister(ctx, rootDir, os.Getpid()); err != nil {
						fmt.Printf("camp: re-register: %v\n", err)
					}
				case <-poll.C:
					resp, err := client.CampRequests(ctx)
					if err != nil {
						continue
					}
					for _, req := range resp.Requests {
						if err := spawnCampSession(exe, rootDir, cf, req); err != nil {
							fmt.Printf("camp: %s: %v\n", req.Project, err)
						}
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&root, "root", ".", "Directory whose subdirectories are the camp projects")
	return cmd
}

func loadCampFile(root string) (*campFile, error) {
	data, err := os.ReadFile(filepath.Join(root, "camp.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return &campFile{}, nil
		}
		return nil, err
	}
	var cf campFile
	if err := yaml.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse camp.yaml: %w", err)
	}
	return &cf, nil
}

// resolveProject validates a requested project name against the camp
// root. Names are single path segments; requests cannot reach outside
// the root.
func resolveProject(root string, cf *campFile, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("no project named")
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return "", fmt.Errorf("invalid project name %q", name)
	}
	if len(cf.Projects) > 0 && !slices.Contains(cf.Projects, name) {
		return "", fmt.Errorf("project %q is not listed in camp.yaml", name)
	}
	dir := filepath.Join(root, name)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return "", fmt.Errorf("no project directory %s", dir)
	}
	return dir, nil
}

// spawnCampSession starts one headless session for a chat request,
// bound to the chat that asked for it.
func spawnCampSession(exe, root string, cf *campFile, req remote.CampRequest) error {
	dir, err := resolveProject(root, cf, req.Project)
	if err != nil {
		return err
	}
	toolName := req.Tool
	if toolName == "" {
		toolName = cf.DefaultTool
	}
	if toolName == "" {
		toolName = "claude"
	}
	if !tool.IsKnown(toolName) {
		return fmt.Errorf("unknown tool %q", toolName)
	}

	c := exec.Command(exe, toolName, "--agent-mode", "--bind-chat", req.ChatID)
	c.Dir = dir
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	if err := c.Start(); err != nil {
		return fmt.Errorf("start %s: %w", toolName, err)
	}
	fmt.Printf("camp: started %s in %s (pid %d)\n", toolName, dir, c.Process.Pid)
	go func() {
		if err := c.Wait(); err != nil {
			fmt.Printf("camp: session in %s ended: %v\n", filepath.Base(dir), err)
			return
		}
		fmt.Printf("camp: session in %s ended\n", filepath.Base(dir))
	}()
	return nil
}
