package runner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"slices"

	"github.com/google/uuid"

	"touchgrass/internal/assistant"
	"touchgrass/internal/remote"
	"touchgrass/internal/tool"
)

// runAgent drives headless turns: each queued chat message becomes one
// subprocess invocation whose stream output is parsed and forwarded.
// The vendor session carries across turns so the conversation keeps
// its context without a terminal.
func (r *Runner) runAgent(ctx context.Context) (int, error) {
	vendorID := r.cfg.ResumeID
	if vendorID == "" && r.cfg.Tool.SessionIDFlag != "" {
		vendorID = uuid.NewString()
	}
	first := r.cfg.ResumeID == ""
	parser := assistant.NewParser()
	log.Printf("runner: agent mode ready")

	for {
		var text string
		select {
		case <-ctx.Done():
			return 0, nil
		case code := <-r.agentQuit:
			return code, nil
		case text = <-r.replayq:
		}
		if _, ok := remote.ParsePollToken(text); ok {
			// Poll replies drive a picker; no picker exists over a
			// headless turn.
			log.Printf("runner: agent mode dropping poll reply")
			continue
		}

		r.mu.Lock()
		t := r.curTool
		extra := slices.Clone(r.curArgs)
		resume := r.agentResume
		r.agentResume = ""
		r.mu.Unlock()

		var session []string
		if resume != "" {
			session = t.BuildResumeArgs(tool.ResumeSpec{ResumeID: resume})
			if t.SessionIDFlag != "" {
				vendorID = resume
			}
			first = false
		} else {
			session = t.AgentTurnArgs(vendorID, first)
		}
		args := slices.Concat(t.AgentArgs, session, extra, []string{text})

		if err := r.runTurn(ctx, t, args, parser); err != nil {
			if ctx.Err() != nil {
				return 0, nil
			}
			select {
			case code := <-r.agentQuit:
				return code, nil
			default:
			}
			if r.abortTurn.Swap(false) {
				continue
			}
			log.Printf("runner: agent turn: %v", err)
			notice := fmt.Sprintf("⚠️ %s turn failed: %v", t.Name, err)
			if perr := r.client.Assistant(ctx, r.cfg.SessionID, notice); perr != nil {
				log.Printf("runner: post turn failure: %v", perr)
			}
			if first && t.SessionIDFlag != "" {
				// The failed turn may or may not have created the vendor
				// session; a fresh id keeps the retry unambiguous.
				vendorID = uuid.NewString()
			}
			continue
		}
		first = false
	}
}

// runTurn executes one invocation and forwards its stream output as it
// arrives.
func (r *Runner) runTurn(ctx context.Context, t *tool.Tool, args []string, parser *assistant.Parser) error {
	cmd := exec.Command(t.Command, args...)
	cmd.Dir = r.cfg.Cwd
	cmd.Env = mergeEnv(os.Environ(), map[string]string{
		"TOUCHGRASS_SESSION_ID": r.cfg.SessionID,
	})
	out, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = log.Writer()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", t.Command, err)
	}
	r.mu.Lock()
	r.child = cmd
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.child = nil
		r.mu.Unlock()
	}()

	if terr := r.client.Typing(ctx, r.cfg.SessionID); terr != nil && ctx.Err() == nil {
		log.Printf("runner: post typing: %v", terr)
	}

	sc := bufio.NewScanner(out)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if msg, ok := parser.Parse(line); ok {
			r.forward(ctx, msg)
		}
	}
	if serr := sc.Err(); serr != nil {
		log.Printf("runner: read stream: %v", serr)
	}
	if werr := cmd.Wait(); werr != nil {
		return fmt.Errorf("%s exited: %w", t.Command, werr)
	}
	return nil
}
