package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"touchgrass/internal/assistant"
	"touchgrass/internal/channel"
	"touchgrass/internal/daemon"
	"touchgrass/internal/manager"
	"touchgrass/internal/remote"
)

var _ daemon.Events = (*Router)(nil)

func (r *Router) RemoteRegistered(ctx context.Context, info manager.SessionInfo, revived bool) {
	dir := filepath.Base(info.Cwd)
	var text string
	if revived {
		text = fmt.Sprintf("🔄 Session %s reconnected (%s in %s).", info.ID, info.Command, dir)
	} else {
		text = fmt.Sprintf("🚀 %s session %s started in %s. Reply here to talk to it; /kill stops it.", info.Command, info.ID, dir)
	}
	for _, chat := range r.targetsFor(info) {
		if r.muted(chat) {
			continue
		}
		r.Send(ctx, chat, text)
	}
}

func (r *Router) RemoteExited(ctx context.Context, info manager.SessionInfo, exitCode int) {
	r.batch.FlushSession(info.ID)
	if r.tracker != nil {
		r.tracker.RemoveSession(ctx, info.ID)
	}
	var text string
	switch exitCode {
	case 0:
		text = fmt.Sprintf("✅ Session %s finished.", info.ID)
	case 130:
		text = fmt.Sprintf("⛔ Session %s interrupted.", info.ID)
	case 137:
		text = fmt.Sprintf("🛑 Session %s killed.", info.ID)
	case 143:
		text = fmt.Sprintf("🛑 Session %s stopped.", info.ID)
	default:
		text = fmt.Sprintf("❌ Session %s exited with code %d.", info.ID, exitCode)
	}
	for _, chat := range r.targetsFor(info) {
		if r.muted(chat) {
			continue
		}
		r.Send(ctx, chat, text)
	}
	r.clearFreeText(info.ID)
}

func (r *Router) RemoteDisconnected(ctx context.Context, info manager.SessionInfo) {
	r.batch.FlushSession(info.ID)
	if r.tracker != nil {
		r.tracker.RemoveSession(ctx, info.ID)
	}
	text := fmt.Sprintf("⚠️ Session %s disconnected (CLI stopped responding).", info.ID)
	for _, chat := range r.targetsFor(info) {
		if r.muted(chat) {
			continue
		}
		r.Send(ctx, chat, text)
	}
	r.clearFreeText(info.ID)
}

func (r *Router) RemoteToolCall(ctx context.Context, sessionID string, call assistant.ToolCall) {
	line := "🔧 " + toolCallLine(call)
	for _, chat := range r.TargetChats(sessionID) {
		if r.muted(chat) || r.outputMode(chat) != "verbose" {
			continue
		}
		r.batch.Add(sessionID, chat, line)
	}
}

func (r *Router) RemoteToolResult(ctx context.Context, sessionID string, res assistant.ToolResult) {
	line := toolResultLine(res)
	if line == "" {
		return
	}
	for _, chat := range r.TargetChats(sessionID) {
		if r.muted(chat) || r.outputMode(chat) != "verbose" {
			continue
		}
		r.batch.Add(sessionID, chat, line)
	}
}

func (r *Router) RemoteAssistant(ctx context.Context, sessionID, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	for _, chat := range r.TargetChats(sessionID) {
		if r.muted(chat) {
			continue
		}
		r.batch.Add(sessionID, chat, text)
	}
}

func (r *Router) RemoteThinking(ctx context.Context, sessionID, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	line := "💭 " + clip(text, 600)
	for _, chat := range r.TargetChats(sessionID) {
		if r.muted(chat) || !r.thinkingEnabled(chat) {
			continue
		}
		r.batch.Add(sessionID, chat, line)
	}
}

func (r *Router) RemoteQuestions(ctx context.Context, sessionID string, qs []assistant.Question) {
	if len(qs) == 0 {
		return
	}
	if !r.mgr.SetPendingQuestions(sessionID, qs) {
		return
	}
	bound, ok := r.mgr.GetBoundChat(sessionID)
	if !ok {
		return
	}
	r.presentQuestion(ctx, sessionID, bound)
}

func (r *Router) RemoteApproval(ctx context.Context, sessionID string, req remote.ApprovalRequest) {
	bound, ok := r.mgr.GetBoundChat(sessionID)
	if !ok {
		return
	}
	r.presentApproval(ctx, sessionID, bound, req)
}

func (r *Router) RemoteTyping(ctx context.Context, sessionID string) {
	bound, ok := r.mgr.GetBoundChat(sessionID)
	if !ok || r.muted(bound) {
		return
	}

	r.mu.Lock()
	now := time.Now()
	if now.Sub(r.lastTyping[bound]) < typingThrottle {
		r.mu.Unlock()
		return
	}
	r.lastTyping[bound] = now
	r.mu.Unlock()

	ch, ok := r.channelFor(bound)
	if !ok {
		return
	}
	typer, ok := ch.(channel.Typing)
	if !ok {
		return
	}
	if err := typer.SendTyping(ctx, bound); err != nil {
		if errors.Is(err, channel.ErrChatGone) {
			r.purgeDeadChat(bound)
			return
		}
		log.Printf("router: typing in %s: %v", bound, err)
	}
}

func (r *Router) RemoteBackgroundJobs(ctx context.Context, sessionID string, evs []assistant.BackgroundJobEvent) {
	if r.tracker == nil {
		return
	}
	r.tracker.Apply(ctx, sessionID, evs)
}

// SendFile delivers a local file to the session's bound chat.
func (r *Router) SendFile(ctx context.Context, sessionID, path, caption string) error {
	bound, ok := r.mgr.GetBoundChat(sessionID)
	if !ok {
		return fmt.Errorf("session %s has no bound chat", sessionID)
	}
	ch, ok := r.channelFor(bound)
	if !ok {
		return fmt.Errorf("no channel for chat %s", bound)
	}
	sender, ok := ch.(channel.DocumentSender)
	if !ok {
		return fmt.Errorf("channel %s cannot send files", ch.Name())
	}
	if err := sender.SendDocument(ctx, bound, path, caption); err != nil {
		if errors.Is(err, channel.ErrChatGone) {
			r.purgeDeadChat(bound)
		}
		return err
	}
	return nil
}

func toolCallLine(call assistant.ToolCall) string {
	sum := toolInputSummary(call.Input)
	if sum == "" {
		return call.Name
	}
	return call.Name + ": " + sum
}

// toolInputSummary pulls the most recognizable argument out of a tool
// input blob.
func toolInputSummary(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var m map[string]any
	if err := json.Unmarshal(input, &m); err != nil {
		return ""
	}
	for _, key := range []string{"command", "file_path", "path", "pattern", "query", "url", "description"} {
		if v, ok := m[key].(string); ok && v != "" {
			return clip(v, 200)
		}
	}
	compact, err := json.Marshal(m)
	if err != nil || string(compact) == "{}" {
		return ""
	}
	return clip(string(compact), 200)
}

func toolResultLine(res assistant.ToolResult) string {
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return ""
	}
	prefix := "↳ "
	if res.IsError {
		prefix = "⚠️ "
	}
	if res.Name != "" {
		prefix += res.Name + ": "
	}
	return prefix + clip(text, 400)
}
