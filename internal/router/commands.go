package router

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/google/shlex"

	"touchgrass/internal/channel"
	"touchgrass/internal/config"
	"touchgrass/internal/tool"
)

// parseCommand extracts a slash command and its raw argument string.
// Telegram's /cmd@BotName form and the "tg cmd" alias both normalize
// to /cmd. Non-command text returns an empty command.
func parseCommand(text string) (string, string) {
	head, rest, _ := strings.Cut(strings.TrimSpace(text), " ")
	rest = strings.TrimSpace(rest)
	if head == "tg" && rest != "" {
		head, rest, _ = strings.Cut(rest, " ")
		head = "/" + head
		rest = strings.TrimSpace(rest)
	}
	if !strings.HasPrefix(head, "/") {
		return "", ""
	}
	if at := strings.Index(head, "@"); at > 0 {
		head = head[:at]
	}
	return strings.ToLower(head), rest
}

// handleMessage is the inbound entry point for all chat text.
func (r *Router) handleMessage(ctx context.Context, msg channel.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("router: message handler panic: %v", rec)
		}
	}()
	if msg.ChatID == "" || msg.UserID == "" {
		return
	}

	cmd, rest := parseCommand(msg.Text)
	private := msg.ChatType == "private"

	// Pairing and onboarding come before every other gate.
	switch cmd {
	case "/pair":
		r.cmdPair(ctx, msg, rest)
		return
	case "/start":
		if private && rest == "" {
			r.Send(ctx, msg.ChatID, helpText(r.paired(msg.UserID)))
			return
		}
	case "/help":
		r.Send(ctx, msg.ChatID, helpText(r.paired(msg.UserID)))
		return
	}

	if !r.paired(msg.UserID) {
		if private {
			r.Send(ctx, msg.ChatID, "You're not paired yet. Run `tg pair` in a terminal and send me the code with /pair <code>.")
		}
		return
	}

	// Slash commands in unlinked groups get guidance instead of effect.
	// Linking commands always pass; /start and /kill pass too and may
	// auto-link while Camp is running.
	if !private && cmd != "" && !r.linkedGroup(msg.ChatID) {
		switch cmd {
		case "/link", "/unlink":
		case "/start", "/kill", "/stop":
			if r.camp != nil && r.camp.Active() {
				r.autoLink(msg)
			}
		default:
			r.Send(ctx, msg.ChatID, "This group isn't linked yet. Send /link here first.")
			return
		}
	}

	switch cmd {
	case "":
		r.handlePlainMessage(ctx, msg)
	case "/link":
		r.cmdLink(ctx, msg)
	case "/unlink":
		r.cmdUnlink(ctx, msg)
	case "/start":
		r.cmdStart(ctx, msg, rest)
	case "/kill", "/stop":
		r.cmdKill(ctx, msg)
	case "/resume":
		r.cmdResume(ctx, msg)
	case "/files":
		r.cmdFiles(ctx, msg, rest)
	case "/output_mode":
		r.cmdOutputMode(ctx, msg, rest)
	case "/thinking":
		r.cmdThinking(ctx, msg, rest)
	case "/mute":
		r.setMuted(ctx, msg.ChatID, true)
	case "/unmute":
		r.setMuted(ctx, msg.ChatID, false)
	default:
		r.Send(ctx, msg.ChatID, fmt.Sprintf("Unknown command %s. Try /help.", cmd))
	}
}

// handlePlainMessage feeds non-command text into the attached session.
func (r *Router) handlePlainMessage(ctx context.Context, msg channel.Message) {
	if msg.Document != nil {
		r.handleDocument(ctx, msg)
		return
	}
	text := strings.TrimSpace(msg.Text)
	if after, ok := strings.CutPrefix(text, "@?"); ok {
		r.cmdFiles(ctx, msg, strings.TrimSpace(after))
		return
	}

	info, ok := r.mgr.GetAttachedRemote(msg.ChatID)
	if !ok {
		if msg.ChatType == "private" {
			r.Send(ctx, msg.ChatID, "No session is attached to this chat. Start one with `tg claude` on your machine.")
		}
		return
	}
	if text == "" {
		return
	}

	// A pending free-text marker means this message answers the focused
	// in-terminal question instead of opening a new turn.
	if r.takeFreeText(msg.ChatID, info.ID) {
		r.mgr.EnqueueInput(info.ID, text)
		r.afterQuestionAnswered(ctx, info.ID, msg.ChatID)
		return
	}

	if mentions := r.mgr.TakePendingFileMentions(info.ID, msg.ChatID, msg.UserID); len(mentions) > 0 {
		text = strings.Join(mentions, " ") + "\n" + text
	}
	r.mgr.EnqueueInput(info.ID, text)
}

// handleDocument downloads an attached file into the session's uploads
// directory and injects its path as input.
func (r *Router) handleDocument(ctx context.Context, msg channel.Message) {
	info, ok := r.mgr.GetAttachedRemote(msg.ChatID)
	if !ok {
		if msg.ChatType == "private" {
			r.Send(ctx, msg.ChatID, "No session to hand this file to. Start one first.")
		}
		return
	}
	ch, ok := r.channelFor(msg.ChatID)
	if !ok {
		return
	}
	fetcher, ok := ch.(channel.DocumentFetcher)
	if !ok {
		r.Send(ctx, msg.ChatID, "This channel can't download files.")
		return
	}
	path, err := fetcher.FetchDocument(ctx, msg.Document, config.UploadsDir(info.Cwd))
	if err != nil {
		log.Printf("router: fetch document for %s: %v", info.ID, err)
		r.Send(ctx, msg.ChatID, "Couldn't download that file; try sending it again.")
		return
	}
	input := path
	if caption := strings.TrimSpace(msg.Text); caption != "" {
		input = path + "\n" + caption
	}
	r.mgr.EnqueueInput(info.ID, input)
	r.Send(ctx, msg.ChatID, fmt.Sprintf("📎 Handed %s to the session.", filepath.Base(path)))
}

func (r *Router) cmdPair(ctx context.Context, msg channel.Message, rest string) {
	if msg.ChatType != "private" {
		r.Send(ctx, msg.ChatID, "Pairing only works in a direct message.")
		return
	}
	code := strings.ToUpper(strings.TrimSpace(rest))
	if code == "" {
		r.Send(ctx, msg.ChatID, "Usage: /pair <code>. Run `tg pair` on your machine to get one.")
		return
	}
	name := channelName(msg.ChatID)
	if !r.store.RedeemPairingCode(name, code) {
		r.Send(ctx, msg.ChatID, "That code is wrong or expired. Run `tg pair` again for a fresh one.")
		return
	}
	if err := r.store.Update(func(cfg *config.Config) error {
		cfg.PairUser(name, msg.UserID, msg.Username)
		return nil
	}); err != nil {
		log.Printf("router: persist pairing for %s: %v", msg.UserID, err)
		r.Send(ctx, msg.ChatID, "Pairing didn't save; check the daemon log.")
		return
	}
	r.Send(ctx, msg.ChatID, "✅ Paired. Start a session with `tg claude` (or codex, pi, kimi) and talk to it here.")
}

func (r *Router) cmdLink(ctx context.Context, msg channel.Message) {
	if msg.ChatType == "private" {
		r.Send(ctx, msg.ChatID, "/link is for groups; direct messages work out of the box.")
		return
	}
	name := channelName(msg.ChatID)
	if err := r.store.Update(func(cfg *config.Config) error {
		cfg.LinkGroup(name, msg.ChatID, msg.ChatTitle)
		return nil
	}); err != nil {
		log.Printf("router: link group %s: %v", msg.ChatID, err)
		r.Send(ctx, msg.ChatID, "Linking didn't save; check the daemon log.")
		return
	}
	r.Send(ctx, msg.ChatID, "🔗 Group linked. Sessions can bind here now; /start <tool> spawns one while Camp is running.")
}

func (r *Router) cmdUnlink(ctx context.Context, msg channel.Message) {
	if msg.ChatType == "private" {
		r.Send(ctx, msg.ChatID, "/unlink is for groups.")
		return
	}
	name := channelName(msg.ChatID)
	var removed bool
	if err := r.store.Update(func(cfg *config.Config) error {
		removed = cfg.UnlinkGroup(name, msg.ChatID)
		return nil
	}); err != nil {
		log.Printf("router: unlink group %s: %v", msg.ChatID, err)
		return
	}
	r.mgr.UnsubscribeEverywhere(msg.ChatID)
	if removed {
		r.Send(ctx, msg.ChatID, "Group unlinked.")
	} else {
		r.Send(ctx, msg.ChatID, "This group wasn't linked.")
	}
}

// autoLink persists a group binding without ceremony while Camp handles
// a /start or /kill from it.
func (r *Router) autoLink(msg channel.Message) {
	name := channelName(msg.ChatID)
	if err := r.store.Update(func(cfg *config.Config) error {
		cfg.LinkGroup(name, msg.ChatID, msg.ChatTitle)
		return nil
	}); err != nil {
		log.Printf("router: auto-link group %s: %v", msg.ChatID, err)
	}
}

func (r *Router) cmdStart(ctx context.Context, msg channel.Message, rest string) {
	words, err := shlex.Split(rest)
	if err != nil {
		r.Send(ctx, msg.ChatID, "Couldn't parse that command line: "+err.Error())
		return
	}

	if info, ok := r.mgr.GetAttachedRemote(msg.ChatID); ok {
		if info.OwnerUserID != msg.UserID {
			r.Send(ctx, msg.ChatID, "Only the session owner can restart it.")
			return
		}
		var toolName string
		var toolArgs []string
		if len(words) > 0 && tool.IsKnown(words[0]) {
			toolName = words[0]
			toolArgs = words[1:]
		} else {
			toolArgs = words
		}
		r.mgr.RequestRemoteStart(info.ID, toolName, toolArgs)
		label := toolName
		if label == "" {
			label = info.Command
		}
		r.Send(ctx, msg.ChatID, fmt.Sprintf("🔁 Asked session %s to start %s.", info.ID, label))
		return
	}

	// No session here: hand off to the camp controller.
	if r.camp == nil || !r.camp.Active() {
		r.Send(ctx, msg.ChatID, "Camp isn't running, so sessions can't be started from chat. Run `tg camp --root <dir>` on your machine, or start one directly with `tg claude`.")
		return
	}
	var toolName, project string
	if len(words) > 0 {
		toolName = words[0]
	}
	if len(words) > 1 {
		project = words[1]
	}
	if toolName == "" {
		r.presentStartPicker(ctx, msg)
		return
	}
	if !tool.IsKnown(toolName) {
		r.Send(ctx, msg.ChatID, fmt.Sprintf("Unknown tool %q. Known tools: %s.", toolName, strings.Join(tool.Known(), ", ")))
		return
	}
	r.submitCampStart(ctx, msg.ChatID, toolName, project)
}

func (r *Router) submitCampStart(ctx context.Context, chatID, toolName, project string) {
	if _, ok := r.camp.Submit(chatID, toolName, project); !ok {
		r.Send(ctx, chatID, "Camp just went away; try again in a moment.")
		return
	}
	where := ""
	if project != "" {
		where = " in " + project
	}
	r.Send(ctx, chatID, fmt.Sprintf("⛺ Asked Camp to start %s%s. The session will bind to this chat when it comes up.", toolName, where))
}

func (r *Router) cmdKill(ctx context.Context, msg channel.Message) {
	info, ok := r.mgr.GetAttachedRemote(msg.ChatID)
	if !ok {
		r.Send(ctx, msg.ChatID, "No session is attached to this chat.")
		return
	}
	if info.OwnerUserID != msg.UserID {
		r.Send(ctx, msg.ChatID, "Only the session owner can kill it.")
		return
	}
	r.mgr.RequestRemoteKill(info.ID)
	r.Send(ctx, msg.ChatID, fmt.Sprintf("🛑 Kill requested for session %s.", info.ID))
}

func (r *Router) cmdOutputMode(ctx context.Context, msg channel.Message, rest string) {
	mode := strings.ToLower(strings.TrimSpace(rest))
	switch mode {
	case "":
		r.presentOutputModePicker(ctx, msg)
	case "simple", "compact", "verbose":
		r.setOutputMode(ctx, msg.ChatID, mode)
	default:
		r.Send(ctx, msg.ChatID, "Usage: /output_mode simple|verbose")
	}
}

func (r *Router) setOutputMode(ctx context.Context, chatID, mode string) {
	if err := r.store.Update(func(cfg *config.Config) error {
		cfg.SetPreference(chatID, func(p *config.ChatPreference) { p.OutputMode = mode })
		return nil
	}); err != nil {
		log.Printf("router: set output mode for %s: %v", chatID, err)
		return
	}
	r.Send(ctx, chatID, fmt.Sprintf("Output mode set to %s.", mode))
}

func (r *Router) cmdThinking(ctx context.Context, msg channel.Message, rest string) {
	var want bool
	switch strings.ToLower(strings.TrimSpace(rest)) {
	case "on":
		want = true
	case "off":
		want = false
	case "", "toggle":
		want = !r.thinkingEnabled(msg.ChatID)
	default:
		r.Send(ctx, msg.ChatID, "Usage: /thinking on|off|toggle")
		return
	}
	if err := r.store.Update(func(cfg *config.Config) error {
		cfg.SetPreference(msg.ChatID, func(p *config.ChatPreference) { p.Thinking = &want })
		return nil
	}); err != nil {
		log.Printf("router: set thinking for %s: %v", msg.ChatID, err)
		return
	}
	if want {
		r.Send(ctx, msg.ChatID, "💭 Thinking output on.")
	} else {
		r.Send(ctx, msg.ChatID, "Thinking output off.")
	}
}

func (r *Router) setMuted(ctx context.Context, chatID string, want bool) {
	if err := r.store.Update(func(cfg *config.Config) error {
		cfg.SetPreference(chatID, func(p *config.ChatPreference) { p.Muted = &want })
		return nil
	}); err != nil {
		log.Printf("router: set muted for %s: %v", chatID, err)
		return
	}
	if want {
		r.Send(ctx, chatID, "🔇 Muted. Questions and approvals still come through; /unmute restores everything else.")
	} else {
		r.Send(ctx, chatID, "🔊 Unmuted.")
	}
}

func helpText(paired bool) string {
	var b strings.Builder
	b.WriteString("touchgrass bridges coding assistants on your machine to this chat.\n\n")
	if !paired {
		b.WriteString("First, pair: run `tg pair` in a terminal and send me the code with /pair <code>.\n\n")
	}
	b.WriteString("Commands:\n")
	b.WriteString("/start [tool] [project] — start a session via Camp, or restart the attached one\n")
	b.WriteString("/kill — stop the attached session\n")
	b.WriteString("/resume — pick a recent session to resume\n")
	b.WriteString("/files [query] — pick files to attach to your next message\n")
	b.WriteString("/output_mode simple|verbose — how much tool detail to show\n")
	b.WriteString("/thinking on|off — show the assistant's reasoning\n")
	b.WriteString("/mute, /unmute — silence or restore session output\n")
	b.WriteString("/link, /unlink — manage this group (groups only)\n\n")
	b.WriteString("Any other message goes straight to the attached session.")
	return b.String()
}
