package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"touchgrass/internal/config"
	"touchgrass/internal/daemon"
	"touchgrass/internal/heartbeat"
	"touchgrass/internal/remote"
	"touchgrass/internal/runner"
	"touchgrass/internal/tool"
)

// launchOpts are tg's own flags, consumed from the command line before
// the remaining args are handed to the assistant untouched.
type launchOpts struct {
	channel   string
	bindChat  string
	agentMode bool
	resumeID  string
	help      bool
}

// newToolCmd builds one of the assistant-wrapping commands (tg claude,
// tg codex, ...). Flag parsing is disabled on the cobra side so vendor
// flags like --model pass through without being declared here.
func newToolCmd(name string) *cobra.Command {
	return &cobra.Command{
		Use:   name + " [--channel <chat>] [--agent-mode] [args...]",
		Short: "Run " + name + " bridged to chat",
		Long: "Run " + name + " in this terminal with the conversation mirrored to a\n" +
			"chat. Unrecognized flags are passed to " + name + "; use -- to pass\n" +
			"everything after it verbatim.",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, vendorArgs, err := parseLaunchArgs(args)
			if err != nil {
				return err
			}
			if opts.help {
				return cmd.Help()
			}
			t, err := tool.Resolve(name)
			if err != nil {
				return err
			}
			return launch(cmd.Context(), t, opts, vendorArgs)
		},
	}
}

// parseLaunchArgs splits a tool command line into tg's own options and
// the args destined for the assistant. Everything after "--" is vendor
// args verbatim.
func parseLaunchArgs(args []string) (launchOpts, []string, error) {
	var opts launchOpts
	var vendor []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--":
			vendor = append(vendor, args[i+1:]...)
			return opts, vendor, nil
		case a == "-h", a == "--help":
			opts.help = true
		case a == "--agent-mode":
			opts.agentMode = true
		case a == "--channel", a == "--bind-chat":
			if i+1 >= len(args) {
				return opts, nil, fmt.Errorf("%s requires a value", a)
			}
			i++
			if a == "--channel" {
				opts.channel = args[i]
			} else {
				opts.bindChat = args[i]
			}
		case strings.HasPrefix(a, "--channel="):
			opts.channel = strings.TrimPrefix(a, "--channel=")
		case strings.HasPrefix(a, "--bind-chat="):
			opts.bindChat = strings.TrimPrefix(a, "--bind-chat=")
		default:
			vendor = append(vendor, a)
		}
	}
	return opts, vendor, nil
}

// launch runs the shared startup path: config and pairing checks, the
// daemon handshake, chat binding, then the session runner. It only
// returns on setup failure; a started session ends the process with
// the session's exit code.
func launch(ctx context.Context, t *tool.Tool, opts launchOpts, vendorArgs []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	channelName := cfg.DefaultChannelName()
	if channelName == "" {
		return fmt.Errorf("no chat channel configured; run 'tg setup' first")
	}
	if cfg.FirstPairedUser(channelName) == "" {
		return fmt.Errorf("no paired chat user; run 'tg pair' and send the code to your bot")
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	if !opts.agentMode {
		opts.agentMode = offerAgentMode(cwd)
	}

	client := daemon.NewClient()
	if err := daemon.EnsureDaemon(ctx, client); err != nil {
		return err
	}

	resp, err := client.Register(ctx, remote.RegisterRequest{
		Command: t.Name,
		Cwd:     cwd,
		PID:     os.Getpid(),
		Channel: channelName,
	})
	if err != nil {
		if daemon.IsStatus(err, http.StatusTooManyRequests) {
			return fmt.Errorf("%w (close one with 'tg ls' / 'tg send', or raise maxSessions)", err)
		}
		return fmt.Errorf("register session: %w", err)
	}
	id := resp.ID

	if err := bindLaunchChat(ctx, client, id, resp, opts); err != nil {
		return err
	}

	args, resumeID := composeArgs(t, opts, vendorArgs, cwd)

	if err := remote.WriteManifest(&remote.Manifest{
		ID:        id,
		Command:   t.Name,
		Cwd:       cwd,
		PID:       os.Getpid(),
		StartedAt: time.Now(),
	}); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)
	var gotSig os.Signal
	go func() {
		if s, ok := <-sigc; ok {
			gotSig = s
			cancel()
		}
	}()

	r := runner.New(runner.Config{
		Tool:      t,
		Args:      args,
		Cwd:       cwd,
		SessionID: id,
		Client:    client,
		AgentMode: opts.agentMode,
		ResumeID:  resumeID,
	})
	code, err := r.Run(runCtx)
	if err != nil {
		return err
	}
	if code == 0 {
		code = signalExitCode(gotSig)
	}
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

// offerAgentMode asks whether to run headless when AGENTS.md carries a
// heartbeat block. Non-interactive invocations keep the default.
func offerAgentMode(cwd string) bool {
	if _, ok := heartbeat.LoadBlock(cwd); !ok || !stdinIsTerminal() {
		return false
	}
	line, err := promptLine("AGENTS.md has a heartbeat block. Run headless in agent mode? [y/N]: ")
	if err != nil {
		return false
	}
	switch strings.ToLower(line) {
	case "y", "yes":
		return true
	}
	return false
}

// composeArgs builds the assistant argv. An explicit resume request
// (tg resume) is spelled in the vendor's own resume syntax; otherwise
// the user's args pass through and are only inspected so the JSONL
// tail knows which prior session to follow.
func composeArgs(t *tool.Tool, opts launchOpts, vendorArgs []string, cwd string) ([]string, string) {
	if opts.resumeID != "" {
		return t.BuildResumeArgs(tool.ResumeSpec{ResumeID: opts.resumeID, BaseArgs: vendorArgs}), opts.resumeID
	}
	spec := t.ParseResumeArgs(vendorArgs)
	resumeID := spec.ResumeID
	if resumeID == "" && spec.UseResumeLast {
		if sessions, err := t.ListSessions(cwd, time.Now()); err == nil && len(sessions) > 0 {
			resumeID = sessions[0].ID
		}
	}
	return vendorArgs, resumeID
}

// bindLaunchChat decides which chat the session talks to. The daemon
// already bound the owner DM at registration; a bind is only needed for
// an explicit target or when the DM is taken by another session. The
// register response carries the candidate chats, so no extra round-trip.
func bindLaunchChat(ctx context.Context, client *daemon.Client, id string, resp *remote.RegisterResponse, opts launchOpts) error {
	switch {
	case opts.bindChat != "":
		return client.BindChat(ctx, id, opts.bindChat)
	case opts.channel == "" && !resp.DMBusy:
		return nil
	}

	dm := remote.ChatSummary{ChatID: resp.ChatID, Type: "private", Busy: resp.DMBusy}
	if resp.DMBusy {
		dm.BusyLabel = "another session"
	}
	chats := append([]remote.ChatSummary{dm}, resp.AllLinkedGroups...)

	if opts.channel != "" {
		chatID, err := resolveChatSelector(chats, opts.channel)
		if err != nil {
			return err
		}
		return client.BindChat(ctx, id, chatID)
	}

	// DM busy, nothing requested: ask.
	if !stdinIsTerminal() {
		return fmt.Errorf("your DM already has a session and stdin is not a terminal; pass --channel")
	}
	chatID, err := pickChat(chats)
	if err != nil {
		return err
	}
	if chatID == resp.ChatID {
		return nil
	}
	return client.BindChat(ctx, id, chatID)
}

// pickChat prompts for a chat on the controlling terminal.
func pickChat(chats []remote.ChatSummary) (string, error) {
	if len(chats) == 0 {
		return "", errors.New("no chats available; pair a DM or add the bot to a group")
	}
	fmt.Println("Where should this session talk?")
	for i, c := range chats {
		busy := ""
		if c.Busy {
			busy = " " + yellow("(busy: "+c.BusyLabel+")")
		}
		fmt.Printf("  %d. %s %s%s\n", i+1, chatTitle(c), dim("("+c.Type+")"), busy)
	}
	line, err := promptLine(fmt.Sprintf("Choice [1-%d]: ", len(chats)))
	if err != nil {
		return "", err
	}
	n := 0
	if _, err := fmt.Sscanf(line, "%d", &n); err != nil || n < 1 || n > len(chats) {
		return "", fmt.Errorf("invalid choice %q", line)
	}
	return chats[n-1].ChatID, nil
}

// signalExitCode maps a received termination signal to the shell
// convention for the process exit code.
func signalExitCode(sig os.Signal) int {
	switch sig {
	case os.Interrupt:
		return 130
	case syscall.SIGTERM:
		return 143
	default:
		return 0
	}
}
