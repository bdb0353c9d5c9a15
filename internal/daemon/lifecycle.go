package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"touchgrass/internal/config"
)

// DaemonArg is the hidden subcommand the CLI re-execs itself with to
// become the daemon.
const DaemonArg = "__daemon__"

var (
	healthWaitAttempts = 20
	healthWaitDelay    = 250 * time.Millisecond
)

// EnsureDaemon guarantees a healthy daemon is reachable, forking one if
// needed. A running daemon built from an older binary is restarted, but
// only when it is idle; a busy daemon keeps running whatever its age.
func EnsureDaemon(ctx context.Context, client *Client) error {
	health, err := client.Health(ctx)
	if err == nil {
		reapDuplicates(health.PID)
		if !daemonOutdated(health.StartedAt) {
			return nil
		}
		status, serr := client.Status(ctx)
		if serr != nil || len(status.Sessions) > 0 {
			return nil
		}
		log.Printf("daemon: restarting outdated daemon (pid %d)", health.PID)
		if err := client.Shutdown(ctx); err != nil {
			// Old daemon refused to stop; keep using it.
			return nil
		}
		waitForExit(health.PID)
	}

	if err := ForkDaemon(); err != nil {
		return err
	}
	return waitHealthy(ctx, client)
}

// ForkDaemon starts the daemon in a detached background process by
// re-execing the current binary with the hidden subcommand.
func ForkDaemon() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("find executable: %w", err)
	}

	cmd := exec.Command(exe, DaemonArg)
	cmd.SysProcAttr = NewSysProcAttr()

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open /dev/null: %w", err)
	}
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull

	if err := cmd.Start(); err != nil {
		devNull.Close()
		return fmt.Errorf("start daemon: %w", err)
	}

	// Don't wait for the daemon - it runs independently.
	go func() {
		cmd.Wait()
		devNull.Close()
	}()
	return nil
}

func waitHealthy(ctx context.Context, client *Client) error {
	for i := 0; i < healthWaitAttempts; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(healthWaitDelay):
		}
		if _, err := client.Health(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("daemon did not start (see %s)", config.DaemonLogPath())
}

// daemonOutdated reports whether the daemon predates the current binary.
func daemonOutdated(startedAt time.Time) bool {
	exe, err := os.Executable()
	if err != nil {
		return false
	}
	fi, err := os.Stat(exe)
	if err != nil {
		return false
	}
	return startedAt.Before(fi.ModTime())
}

func waitForExit(pid int) {
	for i := 0; i < 10; i++ {
		if syscall.Kill(pid, 0) != nil {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// reapDuplicates kills stray daemon processes that lost the startup race,
// sparing the one that holds the lock. Crashed forks that never removed
// themselves would otherwise pile up.
func reapDuplicates(authoritativePID int) {
	out, err := exec.Command("pgrep", "-f", DaemonArg).Output()
	if err != nil {
		// No matches, or pgrep unavailable.
		return
	}
	var strays []int
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		pid, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || pid == authoritativePID || pid == os.Getpid() {
			continue
		}
		strays = append(strays, pid)
	}
	if len(strays) == 0 {
		return
	}
	for _, pid := range strays {
		syscall.Kill(pid, syscall.SIGTERM)
	}
	time.Sleep(200 * time.Millisecond)
	for _, pid := range strays {
		if syscall.Kill(pid, 0) == nil {
			log.Printf("daemon: force-killing stray daemon pid %d", pid)
			syscall.Kill(pid, syscall.SIGKILL)
		}
	}
}
