package runner

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"touchgrass/internal/assistant"
	"touchgrass/internal/config"
	"touchgrass/internal/daemon"
	"touchgrass/internal/heartbeat"
	"touchgrass/internal/remote"
	"touchgrass/internal/tool"
)

var (
	inputPollInterval = 200 * time.Millisecond
	groupPollInterval = 500 * time.Millisecond
	keepaliveInterval = 10 * time.Second
	stopEscalateDelay = time.Second
	killEscalateDelay = 200 * time.Millisecond
)

// Config is everything the command layer resolves before handing a
// session to the runner: the registration is done, the chat is bound,
// and the manifest exists.
type Config struct {
	Tool      *tool.Tool
	Args      []string // vendor args, tg's own flags already consumed
	Cwd       string
	SessionID string
	Client    *daemon.Client
	AgentMode bool
	// ResumeID names the vendor session this run continues, if any.
	ResumeID string
}

// launchSpec describes one child invocation. A control action that
// restarts the session swaps in a new spec.
type launchSpec struct {
	tool   *tool.Tool
	args   []string
	resume string
}

// Runner bridges one assistant invocation to the daemon. It owns the
// child process, the PTY (interactive mode), the JSONL tail, and every
// poll loop the session needs.
type Runner struct {
	cfg    Config
	client *daemon.Client
	ring   *Ring

	// replayq serializes chat text, poll tokens, and heartbeat prompts
	// into one FIFO so the assistant sees a well-defined interleaving.
	replayq chan string

	// stopping suspends the input drain while a control action is
	// terminating the child.
	stopping atomic.Bool

	// agentQuit ends a headless session with the exit code a control
	// action chose for it.
	agentQuit chan int

	// abortTurn marks an in-flight headless turn as deliberately ended,
	// suppressing the crash notice its wait error would otherwise post.
	abortTurn atomic.Bool

	mu           sync.Mutex
	ptm          *os.File
	child        *exec.Cmd
	cancelLaunch context.CancelFunc
	curTool      *tool.Tool
	curArgs      []string
	relaunch     *launchSpec
	agentResume  string
	rows, cols   int
	boundChat    string
	groups       []string
	lastCall     *assistant.ToolCall
}

func New(cfg Config) *Runner {
	return &Runner{
		cfg:       cfg,
		client:    cfg.Client,
		ring:      NewRing(),
		replayq:   make(chan string, 256),
		agentQuit: make(chan int, 1),
		curTool:   cfg.Tool,
		curArgs:   slices.Clone(cfg.Args),
	}
}

// Run drives the session to completion and reports the exit code to
// the daemon. The returned code is the child's (interactive) or the
// session outcome (agent mode).
func (r *Runner) Run(ctx context.Context) (int, error) {
	restore, err := r.redirectLog()
	if err != nil {
		return 1, err
	}
	defer restore()

	go r.inputLoop(ctx)
	go r.groupLoop(ctx)
	go r.keepaliveLoop(ctx)
	go r.heartbeatLoop(ctx)

	var code int
	if r.cfg.AgentMode {
		code, err = r.runAgent(ctx)
	} else {
		code, err = r.runInteractive(ctx)
	}

	// The run context may already be canceled; the exit report uses its
	// own deadline so the daemon still learns the outcome.
	exitCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if perr := r.client.Exit(exitCtx, r.cfg.SessionID, code); perr != nil {
		log.Printf("runner: report exit: %v", perr)
	}
	remote.RemoveManifest(r.cfg.SessionID)
	return code, err
}

// redirectLog points the default logger at the per-session file. The
// PTY mirror owns stdout, so operational noise must go elsewhere.
func (r *Runner) redirectLog() (func(), error) {
	if err := config.EnsureDataDir(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(config.SessionLogPath(r.cfg.SessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	prev := log.Writer()
	log.SetOutput(f)
	log.Printf("runner: session %s (%s) in %s", r.cfg.SessionID, r.cfg.Tool.Name, r.cfg.Cwd)
	return func() {
		log.SetOutput(prev)
		f.Close()
	}, nil
}

// inputLoop drains queued chat input and the control slot. Errors are
// retried on the next tick; the loop outlives any daemon hiccup.
func (r *Runner) inputLoop(ctx context.Context) {
	ticker := time.NewTicker(inputPollInterval)
	defer ticker.Stop()
	errStreak := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if r.stopping.Load() {
			continue
		}
		resp, err := r.client.Input(ctx, r.cfg.SessionID)
		if err != nil {
			if errStreak == 0 {
				log.Printf("runner: input poll: %v", err)
			}
			errStreak++
			continue
		}
		errStreak = 0
		if resp.Unknown {
			r.reRegister(ctx)
			continue
		}
		if resp.Control != nil {
			r.applyControl(resp.Control)
		}
		if r.stopping.Load() {
			// Queued text addressed the child being torn down.
			continue
		}
		for _, in := range resp.Input {
			r.enqueueInput(in)
		}
	}
}

func (r *Runner) enqueueInput(text string) {
	select {
	case r.replayq <- text:
	default:
		log.Printf("runner: replay queue full, dropping input")
	}
}

// groupLoop mirrors the session's chat bindings so a re-registration
// can restore them.
func (r *Runner) groupLoop(ctx context.Context) {
	ticker := time.NewTicker(groupPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		resp, err := r.client.SubscribedGroups(ctx, r.cfg.SessionID)
		if err != nil {
			continue
		}
		r.mu.Lock()
		r.groups = resp.ChatIDs
		r.boundChat = resp.BoundChat
		r.mu.Unlock()
	}
}

// keepaliveLoop covers the stretches when the input drain is paused,
// so a slow graceful stop is not reaped as a dead CLI.
func (r *Runner) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := r.client.Heartbeat(ctx, r.cfg.SessionID); err != nil && ctx.Err() == nil {
			log.Printf("runner: heartbeat: %v", err)
		}
	}
}

// heartbeatLoop schedules AGENTS.md workflow prompts. The block is
// re-read each tick so edits apply without restarting the session.
func (r *Runner) heartbeatLoop(ctx context.Context) {
	block, ok := heartbeat.LoadBlock(r.cfg.Cwd)
	if !ok || block.Empty() {
		return
	}
	interval := block.IntervalMinutes
	st := heartbeat.NewState()
	ticker := time.NewTicker(time.Duration(interval) * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		b, ok := heartbeat.LoadBlock(r.cfg.Cwd)
		if !ok || b.Empty() {
			continue
		}
		if b.IntervalMinutes != interval {
			interval = b.IntervalMinutes
			ticker.Reset(time.Duration(interval) * time.Minute)
		}
		now := time.Now()
		for _, run := range heartbeat.DueRuns(b, st, now) {
			contextText, ok := heartbeat.ResolveContext(r.cfg.Cwd, b, run, st)
			if !ok {
				continue
			}
			r.enqueueInput(heartbeat.FormatPrompt(run.Workflow, contextText, now))
		}
	}
}

// reRegister revives a registration the daemon dropped, restoring the
// chat binding and group subscriptions it last reported.
func (r *Runner) reRegister(ctx context.Context) {
	r.mu.Lock()
	t := r.curTool
	groups := slices.Clone(r.groups)
	bound := r.boundChat
	r.mu.Unlock()

	req := remote.RegisterRequest{
		ID:               r.cfg.SessionID,
		Command:          t.Name,
		Cwd:              r.cfg.Cwd,
		PID:              os.Getpid(),
		SubscribedGroups: groups,
	}
	if _, err := r.client.Register(ctx, req); err != nil {
		log.Printf("runner: re-register: %v", err)
		return
	}
	if bound != "" {
		if err := r.client.BindChat(ctx, r.cfg.SessionID, bound); err != nil {
			log.Printf("runner: re-bind %s: %v", bound, err)
		}
	}
	log.Printf("runner: re-registered session %s", r.cfg.SessionID)
}

// applyControl carries out one drained control action. All of them
// terminate the running child; resume and start additionally arrange
// what runs next.
func (r *Runner) applyControl(a *remote.Action) {
	switch a.Type {
	case remote.ActionKill:
		log.Printf("runner: control kill")
		r.stopping.Store(true)
		if r.cfg.AgentMode {
			r.killChild()
			r.quitAgent(137)
		} else {
			r.interruptKill()
		}
	case remote.ActionStop:
		log.Printf("runner: control stop")
		r.stopping.Store(true)
		r.termChild()
		if r.cfg.AgentMode {
			r.quitAgent(0)
		}
	case remote.ActionResume:
		log.Printf("runner: control resume %s", a.SessionRef)
		r.prepareResume(a.SessionRef)
		if r.cfg.AgentMode {
			// The next turn picks up the resumed session; only an
			// in-flight turn needs to end.
			r.abortAgentTurn()
			return
		}
		r.stopping.Store(true)
		r.termChild()
	case remote.ActionStart:
		next, err := r.prepareStart(a.Tool, a.Args)
		if err != nil {
			log.Printf("runner: control start: %v", err)
			return
		}
		log.Printf("runner: control start %s", next.Name)
		if r.cfg.AgentMode {
			r.abortAgentTurn()
			return
		}
		r.stopping.Store(true)
		r.termChild()
	}
}

func (r *Runner) prepareResume(ref string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg.AgentMode {
		r.agentResume = ref
		return
	}
	base := r.curTool.ParseResumeArgs(r.curArgs).BaseArgs
	r.relaunch = &launchSpec{
		tool:   r.curTool,
		args:   r.curTool.BuildResumeArgs(tool.ResumeSpec{ResumeID: ref, BaseArgs: base}),
		resume: ref,
	}
}

func (r *Runner) prepareStart(name string, args []string) (*tool.Tool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	next := r.curTool
	if name != "" {
		t, err := tool.Resolve(name)
		if err != nil {
			return nil, err
		}
		next = t
	}
	if r.cfg.AgentMode {
		r.curTool = next
		r.curArgs = slices.Clone(args)
		r.agentResume = ""
		return next, nil
	}
	r.relaunch = &launchSpec{tool: next, args: slices.Clone(args)}
	return next, nil
}

func (r *Runner) quitAgent(code int) {
	select {
	case r.agentQuit <- code:
	default:
	}
}

// abortAgentTurn ends an in-flight turn without the failure notice a
// real crash gets. Idle sessions have nothing to end.
func (r *Runner) abortAgentTurn() {
	r.mu.Lock()
	live := r.child != nil
	r.mu.Unlock()
	if !live {
		return
	}
	r.abortTurn.Store(true)
	r.termChild()
}

func (r *Runner) takeRelaunch() *launchSpec {
	r.mu.Lock()
	defer r.mu.Unlock()
	spec := r.relaunch
	r.relaunch = nil
	return spec
}

// termChild asks the current child to exit, escalating to SIGKILL
// after the grace period. The process handle is pinned so a relaunch
// in the meantime is never the one escalated against.
func (r *Runner) termChild() {
	r.mu.Lock()
	c := r.child
	r.mu.Unlock()
	if c == nil || c.Process == nil {
		return
	}
	proc := c.Process
	proc.Signal(syscall.SIGTERM)
	time.AfterFunc(stopEscalateDelay, func() { proc.Kill() })
}

func (r *Runner) killChild() {
	r.mu.Lock()
	c := r.child
	r.mu.Unlock()
	if c != nil && c.Process != nil {
		c.Process.Kill()
	}
}

// interruptKill is the interactive kill: a ^C first lets the TUI
// restore the terminal, then the kill lands.
func (r *Runner) interruptKill() {
	r.mu.Lock()
	c := r.child
	r.mu.Unlock()
	if c == nil || c.Process == nil {
		return
	}
	proc := c.Process
	go r.writePTY([]byte{0x03})
	time.AfterFunc(killEscalateDelay, func() { proc.Kill() })
}

// forward posts one parsed JSONL record's events to the daemon, in
// record order. Post failures are logged and dropped; the daemon
// catches up through later events.
func (r *Runner) forward(ctx context.Context, msg *assistant.ParsedMessage) {
	id := r.cfg.SessionID
	logErr := func(what string, err error) {
		if err != nil && ctx.Err() == nil {
			log.Printf("runner: post %s: %v", what, err)
		}
	}
	if msg.Thinking != "" {
		logErr("thinking", r.client.Thinking(ctx, id, msg.Thinking))
	}
	if msg.AssistantText != "" {
		logErr("assistant", r.client.Assistant(ctx, id, msg.AssistantText))
	}
	for _, call := range msg.ToolCalls {
		r.noteToolCall(call)
		logErr("tool-call", r.client.ToolCall(ctx, id, call))
	}
	for _, res := range msg.ToolResults {
		logErr("tool-result", r.client.ToolResult(ctx, id, res))
	}
	if len(msg.Questions) > 0 {
		logErr("question", r.client.Questions(ctx, id, msg.Questions))
	}
	if len(msg.BackgroundJobEvents) > 0 {
		logErr("background-job", r.client.BackgroundJobs(ctx, id, msg.BackgroundJobEvents))
	}
	if msg.Thinking != "" || len(msg.ToolCalls) > 0 {
		logErr("typing", r.client.Typing(ctx, id))
	}
}

// noteToolCall remembers the call an upcoming approval prompt is about.
func (r *Runner) noteToolCall(call assistant.ToolCall) {
	if !approvalAttribution[call.Name] {
		return
	}
	c := call
	r.mu.Lock()
	r.lastCall = &c
	r.mu.Unlock()
}

// scanApprovals watches the stripped terminal tail for a pending
// permission prompt and notifies the daemon once per prompt text.
func (r *Runner) scanApprovals(ctx context.Context, phrases []tool.ApprovalPhrase) {
	sc := newApprovalScanner(phrases)
	ticker := time.NewTicker(approvalScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		req, ok := sc.scan(r.ring.Tail())
		if !ok {
			continue
		}
		r.mu.Lock()
		if c := r.lastCall; c != nil {
			req.Name = c.Name
			req.Input = c.Input
		}
		r.mu.Unlock()
		// Held back so the triggering tool-call event lands first.
		notify := req
		time.AfterFunc(approvalNotifyDelay, func() {
			if ctx.Err() != nil {
				return
			}
			if err := r.client.ApprovalNeeded(ctx, r.cfg.SessionID, notify); err != nil {
				log.Printf("runner: post approval: %v", err)
			}
		})
	}
}

// replayLoop feeds the single input FIFO into the PTY: poll tokens as
// picker keystrokes, everything else as a bracketed paste plus Enter.
func (r *Runner) replayLoop(ctx context.Context) {
	for {
		var text string
		select {
		case <-ctx.Done():
			return
		case text = <-r.replayq:
		}
		if tok, ok := remote.ParsePollToken(text); ok {
			for i, key := range pollKeystrokes(tok) {
				if i > 0 {
					time.Sleep(keyDelay)
				}
				if err := r.writePTY(key); err != nil {
					log.Printf("runner: replay poll keys: %v", err)
					break
				}
			}
			continue
		}
		if err := r.writePTY(bracketedPaste(text)); err != nil {
			log.Printf("runner: replay input: %v", err)
			continue
		}
		if strings.Contains(text, uploadsFragment) {
			time.Sleep(uploadEnterDelay)
		} else {
			time.Sleep(keyDelay)
		}
		if err := r.writePTY(keyEnter); err != nil {
			log.Printf("runner: replay input: %v", err)
			continue
		}
		if err := r.client.Typing(ctx, r.cfg.SessionID); err != nil && ctx.Err() == nil {
			log.Printf("runner: post typing: %v", err)
		}
	}
}

// updateManifest rewrites the session manifest after a relaunch so the
// discovery surface reflects what is actually running.
func (r *Runner) updateManifest(t *tool.Tool) {
	m, err := remote.ReadManifest(r.cfg.SessionID)
	if err != nil {
		m = &remote.Manifest{
			ID:        r.cfg.SessionID,
			Cwd:       r.cfg.Cwd,
			StartedAt: time.Now(),
		}
	}
	m.Command = t.Name
	m.PID = os.Getpid()
	m.JSONLFile = nil
	if err := remote.WriteManifest(m); err != nil {
		log.Printf("runner: update manifest: %v", err)
	}
}
