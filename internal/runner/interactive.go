package runner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"

	"touchgrass/internal/assistant"
	"touchgrass/internal/remote"
)

var ptyWriteTimeout = 3 * time.Second

var errPTYWriteTimeout = errors.New("pty write timed out")

// runInteractive wraps the assistant in a PTY: the user keeps their
// normal terminal session while the runner mirrors output, replays
// chat input, and watches for approval prompts.
func (r *Runner) runInteractive(ctx context.Context) (int, error) {
	fd := int(os.Stdin.Fd())
	cols, rows, err := term.GetSize(fd)
	if err != nil {
		return 1, fmt.Errorf("get terminal size (is this a terminal?): %w", err)
	}
	r.mu.Lock()
	r.rows, r.cols = rows, cols
	r.mu.Unlock()

	first := launchSpec{
		tool:   r.cfg.Tool,
		args:   slices.Clone(r.cfg.Args),
		resume: r.cfg.ResumeID,
	}
	if err := r.startChild(ctx, first); err != nil {
		return 1, err
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		r.killChild()
		return 1, fmt.Errorf("set raw mode: %w", err)
	}
	defer func() {
		term.Restore(fd, oldState)
		os.Stdout.WriteString("\x1b[?25h\x1b[0m\r\n")
	}()

	go r.watchResize(ctx, fd)
	go r.forwardStdin(ctx)
	go r.replayLoop(ctx)
	go func() {
		// A signal to tg itself winds the child down gracefully.
		<-ctx.Done()
		r.termChild()
	}()

	return r.lifecycleLoop(ctx)
}

// lifecycleLoop waits on the child and either relaunches it (resume
// and start controls) or ends the session with its exit code.
func (r *Runner) lifecycleLoop(ctx context.Context) (int, error) {
	for {
		r.mu.Lock()
		child := r.child
		cancel := r.cancelLaunch
		r.mu.Unlock()

		err := child.Wait()
		code := exitCode(err)
		cancel()

		spec := r.takeRelaunch()
		if spec == nil || ctx.Err() != nil {
			log.Printf("runner: child exited with code %d", code)
			return code, nil
		}
		log.Printf("runner: relaunching as %s", spec.tool.Name)
		if err := r.startChild(ctx, *spec); err != nil {
			return 1, err
		}
		r.stopping.Store(false)
	}
}

// startChild launches one child in the PTY and starts the goroutines
// scoped to it: output pipe, JSONL tail, approval scan.
func (r *Runner) startChild(ctx context.Context, spec launchSpec) error {
	r.mu.Lock()
	rows, cols := r.rows, r.cols
	r.mu.Unlock()

	cmd := exec.Command(spec.tool.Command, spec.args...)
	cmd.Dir = r.cfg.Cwd
	cmd.Env = mergeEnv(os.Environ(), map[string]string{
		"TOUCHGRASS_SESSION_ID": r.cfg.SessionID,
	})
	ptm, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return fmt.Errorf("start %s: %w", spec.tool.Command, err)
	}

	launchCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	old := r.ptm
	r.ptm = ptm
	r.child = cmd
	r.cancelLaunch = cancel
	r.curTool = spec.tool
	r.curArgs = slices.Clone(spec.args)
	r.mu.Unlock()
	if old != nil {
		old.Close()
	}

	r.ring.Reset()
	r.updateManifest(spec.tool)

	go r.pipeOutput(ptm)
	tl := newTail(spec.tool, r.cfg.Cwd, spec.resume,
		func(msg *assistant.ParsedMessage) { r.forward(launchCtx, msg) },
		func(path string) {
			if err := remote.SetJSONLFile(r.cfg.SessionID, path); err != nil {
				log.Printf("runner: record jsonl file: %v", err)
			}
		})
	go tl.Run(launchCtx)
	if len(spec.tool.Approvals) > 0 {
		go r.scanApprovals(launchCtx, spec.tool.Approvals)
	}
	r.holdAwake(cmd.Process.Pid)
	log.Printf("runner: started %s (pid %d)", spec.tool.Command, cmd.Process.Pid)
	return nil
}

// pipeOutput mirrors child output to the real terminal and into the
// stripped ring.
func (r *Runner) pipeOutput(ptm *os.File) {
	buf := make([]byte, 4096)
	for {
		n, err := ptm.Read(buf)
		if n > 0 {
			os.Stdout.Write(buf[:n])
			r.ring.Write(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// forwardStdin copies the user's raw keystrokes into the child.
func (r *Runner) forwardStdin(ctx context.Context) {
	buf := make([]byte, 4096)
	for {
		n, err := os.Stdin.Read(buf)
		if n > 0 {
			if werr := r.writePTY(buf[:n]); werr != nil {
				log.Printf("runner: forward stdin: %v", werr)
			}
		}
		if err != nil || ctx.Err() != nil {
			return
		}
	}
}

// watchResize propagates terminal size changes to the child PTY.
func (r *Runner) watchResize(ctx context.Context, fd int) {
	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	for {
		select {
		case <-ctx.Done():
			return
		case <-winch:
		}
		cols, rows, err := term.GetSize(fd)
		if err != nil {
			continue
		}
		r.mu.Lock()
		r.rows, r.cols = rows, cols
		ptm := r.ptm
		r.mu.Unlock()
		if ptm != nil {
			pty.Setsize(ptm, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
		}
	}
}

// writePTY writes to the child with a deadline. A stalled write means
// the child stopped reading its stdin; it is killed so the session
// winds down instead of wedging on a full kernel buffer.
func (r *Runner) writePTY(p []byte) error {
	r.mu.Lock()
	ptm := r.ptm
	r.mu.Unlock()
	if ptm == nil {
		return errors.New("no child pty")
	}
	done := make(chan error, 1)
	go func() {
		_, err := ptm.Write(p)
		done <- err
	}()
	timer := time.NewTimer(ptyWriteTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		log.Printf("runner: pty write stalled, killing child")
		r.killChild()
		return errPTYWriteTimeout
	}
}

// holdAwake keeps the machine from sleeping while the child runs.
func (r *Runner) holdAwake(pid int) {
	if runtime.GOOS != "darwin" {
		return
	}
	caff := exec.Command("caffeinate", "-i", "-w", strconv.Itoa(pid))
	if err := caff.Start(); err != nil {
		log.Printf("runner: caffeinate: %v", err)
		return
	}
	go caff.Wait()
}

// exitCode maps a child wait result to the session exit code. Signal
// deaths use the shell convention, so a kill escalation reads as 137.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return ee.ExitCode()
	}
	return 1
}

// mergeEnv appends overrides to base, dropping any base entry an
// override replaces.
func mergeEnv(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides))
	for _, e := range base {
		key := e
		if idx := strings.Index(e, "="); idx >= 0 {
			key = e[:idx]
		}
		if _, override := overrides[key]; !override {
			env = append(env, e)
		}
	}
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}
