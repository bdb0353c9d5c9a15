package router

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"touchgrass/internal/channel"
	"touchgrass/internal/manager"
	"touchgrass/internal/remote"
	"touchgrass/internal/tool"
)

// pickerPageSize is the option budget for paged pickers. Telegram polls
// carry at most ten options; eight page slots leave room for the
// control rows.
const pickerPageSize = 8

// pollQuestionMax keeps poll questions inside Telegram's 300-char cap
// with margin for the progress prefix.
const pollQuestionMax = 250

const (
	optMore   = "➡️ More"
	optCancel = "❌ Cancel"
	optClear  = "🧹 Clear selected"
	optOther  = "✏️ Other"
)

// presentQuestion sends the session's current pending question as a
// poll. Questions without options fall back to a free-text prompt.
func (r *Router) presentQuestion(ctx context.Context, sessionID, chatID string) {
	q, idx, total, ok := r.mgr.CurrentQuestion(sessionID)
	if !ok {
		return
	}
	r.batch.FlushChat(sessionID, chatID)

	title := q.Text
	if q.Header != "" {
		title = q.Header + "\n" + q.Text
	}
	if total > 1 {
		title = fmt.Sprintf("(%d/%d) %s", idx+1, total, title)
	}
	title = clip(title, pollQuestionMax)

	if len(q.Options) == 0 {
		r.mgr.EnqueueInput(sessionID, remote.PollOther)
		r.setFreeText(chatID, sessionID)
		r.Send(ctx, chatID, "❓ "+title+"\n✍️ Reply with your answer.")
		return
	}

	options := append([]string(nil), q.Options...)
	if !q.MultiSelect {
		options = append(options, optOther)
	} else if len(options) < 2 {
		// Telegram polls need two options.
		options = append(options, optOther)
	}

	pollID, ok := r.sendPoll(ctx, chatID, title, options, q.MultiSelect)
	if !ok {
		return
	}
	info, _ := r.mgr.GetRemote(sessionID)
	r.mgr.PutPicker(pollID, &manager.Picker{
		Kind:           manager.PickerQuestion,
		SessionID:      sessionID,
		ChatID:         chatID,
		OwnerUserID:    info.OwnerUserID,
		Options:        options,
		QuestionIndex:  idx,
		TotalQuestions: total,
		MultiSelect:    q.MultiSelect,
	})
}

// presentApproval sends an approval prompt as a poll.
func (r *Router) presentApproval(ctx context.Context, sessionID, chatID string, req remote.ApprovalRequest) {
	r.batch.FlushChat(sessionID, chatID)

	title := strings.TrimSpace(req.PromptText)
	if title == "" {
		title = "Approval needed"
	}
	title = "🔐 " + title
	if req.Name != "" {
		if sum := toolInputSummary(req.Input); sum != "" {
			title += "\n" + req.Name + ": " + sum
		} else {
			title += " (" + req.Name + ")"
		}
	}
	title = clip(title, pollQuestionMax)

	options := req.PollOptions
	if len(options) < 2 {
		options = []string{"Yes", "No"}
	}

	pollID, ok := r.sendPoll(ctx, chatID, title, options, false)
	if !ok {
		return
	}
	info, _ := r.mgr.GetRemote(sessionID)
	r.mgr.PutPicker(pollID, &manager.Picker{
		Kind:        manager.PickerApproval,
		SessionID:   sessionID,
		ChatID:      chatID,
		OwnerUserID: info.OwnerUserID,
		Options:     options,
	})
}

func (r *Router) cmdResume(ctx context.Context, msg channel.Message) {
	info, ok := r.mgr.GetAttachedRemote(msg.ChatID)
	if !ok {
		r.Send(ctx, msg.ChatID, "No session is attached to this chat. Resume from a terminal with `tg resume`.")
		return
	}
	if info.OwnerUserID != msg.UserID {
		r.Send(ctx, msg.ChatID, "Only the session owner can resume it.")
		return
	}
	t, err := tool.Resolve(info.Command)
	if err != nil {
		r.Send(ctx, msg.ChatID, fmt.Sprintf("Can't list sessions for %s.", info.Command))
		return
	}
	sessions, err := t.ListSessions(info.Cwd, time.Now())
	if err != nil || len(sessions) == 0 {
		r.Send(ctx, msg.ChatID, fmt.Sprintf("No recent %s sessions found for %s.", info.Command, info.Cwd))
		return
	}

	options := make([]string, len(sessions))
	values := make([]string, len(sessions))
	for i, s := range sessions {
		id := s.ID
		if len(id) > 8 {
			id = id[:8]
		}
		options[i] = optionLabel(fmt.Sprintf("%s · %s", s.ModTime.Format("Jan 2 15:04"), id))
		values[i] = s.ID
	}
	p := &manager.Picker{
		Kind:        manager.PickerResume,
		SessionID:   info.ID,
		ChatID:      msg.ChatID,
		OwnerUserID: msg.UserID,
		Options:     options,
		Values:      values,
	}
	r.presentPagedPoll(ctx, p, "⏪ Resume which session?", false)
}

func (r *Router) cmdFiles(ctx context.Context, msg channel.Message, query string) {
	info, ok := r.mgr.GetAttachedRemote(msg.ChatID)
	if !ok {
		r.Send(ctx, msg.ChatID, "No session is attached to this chat.")
		return
	}
	files, err := listProjectFiles(info.Cwd, query)
	if err != nil {
		log.Printf("router: list files in %s: %v", info.Cwd, err)
		r.Send(ctx, msg.ChatID, "Couldn't list project files.")
		return
	}
	if len(files) == 0 {
		if query != "" {
			r.Send(ctx, msg.ChatID, fmt.Sprintf("No files match %q.", query))
		} else {
			r.Send(ctx, msg.ChatID, "No files found in the project.")
		}
		return
	}

	options := make([]string, len(files))
	for i, f := range files {
		options[i] = optionLabel(f)
	}
	p := &manager.Picker{
		Kind:        manager.PickerFile,
		SessionID:   info.ID,
		ChatID:      msg.ChatID,
		OwnerUserID: msg.UserID,
		Options:     options,
		Values:      files,
		Query:       query,
	}
	r.presentFilePage(ctx, p)
}

func (r *Router) presentStartPicker(ctx context.Context, msg channel.Message) {
	p := &manager.Picker{
		Kind:        manager.PickerStartTool,
		ChatID:      msg.ChatID,
		OwnerUserID: msg.UserID,
		Options:     tool.Known(),
		Values:      tool.Known(),
	}
	r.presentPagedPoll(ctx, p, "⛺ Start which tool?", false)
}

func (r *Router) presentOutputModePicker(ctx context.Context, msg channel.Message) {
	p := &manager.Picker{
		Kind:        manager.PickerOutputMode,
		ChatID:      msg.ChatID,
		OwnerUserID: msg.UserID,
		Options:     []string{"simple", "verbose"},
		Values:      []string{"simple", "verbose"},
	}
	r.presentPagedPoll(ctx, p, "How much output do you want?", false)
}

// pagePollOptions renders one page of a paged picker: up to
// pickerPageSize slots where the last becomes More when entries
// remain, then the control rows.
func pagePollOptions(p *manager.Picker) (opts []string, pageLen int, hasMore bool) {
	remaining := len(p.Options) - p.Offset
	if remaining < 0 {
		remaining = 0
	}
	if remaining > pickerPageSize {
		pageLen = pickerPageSize - 1
		hasMore = true
	} else {
		pageLen = remaining
	}
	opts = append(opts, p.Options[p.Offset:p.Offset+pageLen]...)
	if hasMore {
		opts = append(opts, optMore)
	}
	if p.Kind == manager.PickerFile && len(p.SelectedMentions) > 0 {
		opts = append(opts, optClear)
	}
	opts = append(opts, optCancel)
	return opts, pageLen, hasMore
}

func (r *Router) presentPagedPoll(ctx context.Context, p *manager.Picker, title string, multi bool) {
	opts, _, _ := pagePollOptions(p)
	if len(opts) < 2 {
		return
	}
	pollID, ok := r.sendPoll(ctx, p.ChatID, clip(title, pollQuestionMax), opts, multi)
	if ok {
		r.mgr.PutPicker(pollID, p)
	}
}

func (r *Router) presentFilePage(ctx context.Context, p *manager.Picker) {
	title := "📎 Pick files to attach"
	if p.Query != "" {
		title += fmt.Sprintf(" (filter: %s)", p.Query)
	}
	if n := len(p.SelectedMentions); n > 0 {
		title += fmt.Sprintf(" — %d selected", n)
	}
	r.presentPagedPoll(ctx, p, title, true)
}

// handlePollAnswer resolves a vote against its picker record.
func (r *Router) handlePollAnswer(ctx context.Context, ans channel.PollAnswer) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("router: poll answer handler panic: %v", rec)
		}
	}()

	p, ok := r.mgr.TakePicker(ans.PollID)
	if !ok {
		// Late, repeated, or expired answer.
		return
	}
	if len(ans.OptionIDs) == 0 {
		// Vote retraction; keep the picker alive.
		r.mgr.PutPicker(ans.PollID, p)
		return
	}
	if p.OwnerUserID != "" && ans.UserID != p.OwnerUserID {
		log.Printf("router: poll answer from %s ignored, picker belongs to %s", ans.UserID, p.OwnerUserID)
		r.mgr.PutPicker(ans.PollID, p)
		return
	}

	switch p.Kind {
	case manager.PickerQuestion:
		r.answerQuestion(ctx, p, ans.OptionIDs)
	case manager.PickerApproval:
		r.answerApproval(ctx, p, ans.OptionIDs)
	case manager.PickerFile:
		r.answerFile(ctx, p, ans.OptionIDs)
	case manager.PickerResume:
		r.answerResume(ctx, p, ans.OptionIDs)
	case manager.PickerOutputMode:
		r.answerOutputMode(ctx, p, ans.OptionIDs)
	case manager.PickerStartTool:
		r.answerStartTool(ctx, p, ans.OptionIDs)
	default:
		log.Printf("router: unknown picker kind %q", p.Kind)
	}
}

// afterQuestionAnswered advances the question sequence: present the
// next question, or confirm the whole set once the last one is done.
func (r *Router) afterQuestionAnswered(ctx context.Context, sessionID, chatID string) {
	if r.mgr.AdvanceQuestion(sessionID) {
		r.presentQuestion(ctx, sessionID, chatID)
		return
	}
	r.mgr.EnqueueInput(sessionID, remote.PollSubmit)
}

func (r *Router) answerQuestion(ctx context.Context, p *manager.Picker, ids []int) {
	valid := ids[:0]
	for _, id := range ids {
		if id >= 0 && id < len(p.Options) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		log.Printf("router: question answer out of range for session %s", p.SessionID)
		return
	}
	sort.Ints(valid)

	// The free-text option routes the answer through a plain message.
	for _, id := range valid {
		if p.Options[id] == optOther {
			r.mgr.EnqueueInput(p.SessionID, remote.PollOther)
			r.setFreeText(p.ChatID, p.SessionID)
			r.Send(ctx, p.ChatID, "✍️ Reply with your answer as a normal message.")
			return
		}
	}

	if !p.MultiSelect {
		r.mgr.EnqueueInput(p.SessionID, remote.PollSelect(valid[:1], false))
		r.afterQuestionAnswered(ctx, p.SessionID, p.ChatID)
		return
	}

	count := len(p.Options)
	r.mgr.EnqueueInput(p.SessionID, remote.PollSelect(valid, true))
	r.mgr.EnqueueInput(p.SessionID, remote.PollNext(valid[len(valid)-1], count))
	r.afterQuestionAnswered(ctx, p.SessionID, p.ChatID)
}

func (r *Router) answerApproval(ctx context.Context, p *manager.Picker, ids []int) {
	id := ids[0]
	if id < 0 || id >= len(p.Options) {
		log.Printf("router: approval answer out of range for session %s", p.SessionID)
		return
	}
	r.mgr.EnqueueInput(p.SessionID, remote.PollSelect([]int{id}, false))
	r.Send(ctx, p.ChatID, "▶️ Sent: "+p.Options[id])
}

// pickerControls computes the poll positions of the control rows for
// the picker's current page.
func pickerControls(p *manager.Picker) (pageLen, morePos, clearPos, cancelPos int) {
	_, pageLen, hasMore := pagePollOptions(p)
	morePos, clearPos = -1, -1
	pos := pageLen
	if hasMore {
		morePos = pos
		pos++
	}
	if p.Kind == manager.PickerFile && len(p.SelectedMentions) > 0 {
		clearPos = pos
		pos++
	}
	cancelPos = pos
	return pageLen, morePos, clearPos, cancelPos
}

func (r *Router) answerFile(ctx context.Context, p *manager.Picker, ids []int) {
	pageLen, morePos, clearPos, cancelPos := pickerControls(p)

	var picked []string
	var doMore, doClear, doCancel bool
	for _, id := range ids {
		switch {
		case id >= 0 && id < pageLen:
			picked = append(picked, p.Values[p.Offset+id])
		case id == morePos:
			doMore = true
		case id == clearPos:
			doClear = true
		case id == cancelPos:
			doCancel = true
		default:
			log.Printf("router: file answer option %d out of range", id)
		}
	}

	if doCancel {
		r.Send(ctx, p.ChatID, "File picker closed.")
		return
	}
	if doClear {
		p.SelectedMentions = nil
		r.presentFilePage(ctx, p)
		return
	}
	for _, f := range picked {
		if !containsString(p.SelectedMentions, f) {
			p.SelectedMentions = append(p.SelectedMentions, f)
		}
	}
	if doMore {
		// The More slot consumed one option, so the next page starts
		// one short of a full page further in.
		p.Offset += pickerPageSize - 1
		r.presentFilePage(ctx, p)
		return
	}

	if len(p.SelectedMentions) == 0 {
		r.Send(ctx, p.ChatID, "Nothing selected.")
		return
	}
	mentions := make([]string, len(p.SelectedMentions))
	for i, f := range p.SelectedMentions {
		mentions[i] = "@" + f
	}
	r.mgr.SetPendingFileMentions(p.SessionID, p.ChatID, p.OwnerUserID, mentions)
	r.Send(ctx, p.ChatID, fmt.Sprintf("📎 %d file(s) staged; they'll ride along with your next message.", len(mentions)))
}

func (r *Router) answerResume(ctx context.Context, p *manager.Picker, ids []int) {
	pageLen, morePos, _, cancelPos := pickerControls(p)
	id := ids[0]
	switch {
	case id >= 0 && id < pageLen:
		ref := p.Values[p.Offset+id]
		if !r.mgr.RequestRemoteResume(p.SessionID, ref) {
			r.Send(ctx, p.ChatID, "Couldn't queue the resume; the session may be gone.")
			return
		}
		r.Send(ctx, p.ChatID, fmt.Sprintf("⏪ Asked session %s to resume %s.", p.SessionID, ref))
	case id == morePos:
		p.Offset += pickerPageSize - 1
		r.presentPagedPoll(ctx, p, "⏪ Resume which session?", false)
	case id == cancelPos:
		r.Send(ctx, p.ChatID, "Resume picker closed.")
	default:
		log.Printf("router: resume answer option %d out of range", id)
	}
}

func (r *Router) answerOutputMode(ctx context.Context, p *manager.Picker, ids []int) {
	pageLen, _, _, cancelPos := pickerControls(p)
	id := ids[0]
	switch {
	case id >= 0 && id < pageLen:
		r.setOutputMode(ctx, p.ChatID, p.Values[p.Offset+id])
	case id == cancelPos:
		// Nothing to do.
	default:
		log.Printf("router: output mode answer option %d out of range", id)
	}
}

func (r *Router) answerStartTool(ctx context.Context, p *manager.Picker, ids []int) {
	pageLen, morePos, _, cancelPos := pickerControls(p)
	id := ids[0]
	switch {
	case id >= 0 && id < pageLen:
		if r.camp == nil || !r.camp.Active() {
			r.Send(ctx, p.ChatID, "Camp went away; try /start again once it's back.")
			return
		}
		r.submitCampStart(ctx, p.ChatID, p.Values[p.Offset+id], "")
	case id == morePos:
		p.Offset += pickerPageSize - 1
		r.presentPagedPoll(ctx, p, "⛺ Start which tool?", false)
	case id == cancelPos:
		// Nothing to do.
	default:
		log.Printf("router: start answer option %d out of range", id)
	}
}

// optionLabel fits text into Telegram's 100-char poll option limit,
// keeping the tail where filenames live.
func optionLabel(s string) string {
	const max = 96
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return "…" + string(runes[len(runes)-max+1:])
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
