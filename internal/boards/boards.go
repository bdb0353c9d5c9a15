// Package boards tracks assistant-initiated background jobs and keeps a
// pinned status board message per chat in sync with them. Job state is
// persisted so boards survive daemon restarts.
package boards

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"touchgrass/internal/assistant"
)

// persistDelay batches rapid job updates into one disk write.
var persistDelay = 250 * time.Millisecond

const (
	boardKeyJobs  = "jobs"
	maxBoardJobs  = 8
	orphanMaxAge  = 5 * time.Minute
	stateVersion  = 1
	emptyBoardMsg = "No background jobs running."
)

// Job is one tracked background task.
type Job struct {
	TaskID     string    `json:"taskId"`
	Status     string    `json:"status"`
	Command    string    `json:"command,omitempty"`
	OutputFile string    `json:"outputFile,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	URLs       []string  `json:"urls,omitempty"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// BoardEntry records one pinned board message.
type BoardEntry struct {
	ChatID    string    `json:"chatId"`
	BoardKey  string    `json:"boardKey"`
	MessageID int       `json:"messageId"`
	Pinned    bool      `json:"pinned"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type persistedState struct {
	Version int              `json:"version"`
	Boards  []BoardEntry     `json:"boards"`
	Jobs    map[string][]Job `json:"jobs,omitempty"`
}

// Notifier is the tracker's outward surface: resolving a session's target
// chats and delivering announcements and board edits. Implemented by the
// daemon; faked in tests.
type Notifier interface {
	TargetChats(sessionID string) []string
	Send(ctx context.Context, chatID, text string)
	// UpsertBoardMessage edits messageID in place, or sends and pins a
	// fresh board when messageID is 0. Returns the live message ID.
	UpsertBoardMessage(ctx context.Context, chatID string, messageID int, text string) (int, error)
	RemoveBoardMessage(ctx context.Context, chatID string, messageID int)
}

type boardKey struct {
	chatID string
	key    string
}

// Tracker owns job and board state behind a single mutex. The mutex is
// never held across chat or disk I/O.
type Tracker struct {
	path     string
	notifier Notifier
	now      func() time.Time

	mu      sync.Mutex
	jobs    map[string]map[string]*Job // sessionID → taskID → job
	boards  map[boardKey]*BoardEntry
	dirty   bool
	persist *time.Timer
}

// NewTracker loads persisted state from path. A missing or unreadable
// file starts empty.
func NewTracker(path string, n Notifier) *Tracker {
	t := &Tracker{
		path:     path,
		notifier: n,
		now:      time.Now,
		jobs:     make(map[string]map[string]*Job),
		boards:   make(map[boardKey]*BoardEntry),
	}
	t.load()
	return t
}

func (t *Tracker) load() {
	data, err := os.ReadFile(t.path)
	if err != nil {
		return
	}
	var st persistedState
	if err := json.Unmarshal(data, &st); err != nil {
		log.Printf("boards: unreadable state file %s: %v", t.path, err)
		return
	}
	for sessionID, jobs := range st.Jobs {
		m := make(map[string]*Job, len(jobs))
		for i := range jobs {
			j := jobs[i]
			m[j.TaskID] = &j
		}
		t.jobs[sessionID] = m
	}
	for i := range st.Boards {
		b := st.Boards[i]
		t.boards[boardKey{chatID: b.ChatID, key: b.BoardKey}] = &b
	}
}

// Apply folds parsed background-job events for a session into the job
// map, announces starts and stops once each, and refreshes boards.
func (t *Tracker) Apply(ctx context.Context, sessionID string, evs []assistant.BackgroundJobEvent) {
	if len(evs) == 0 {
		return
	}
	var started, ended []*Job

	t.mu.Lock()
	for _, ev := range evs {
		if ev.TaskID == "" {
			continue
		}
		m := t.jobs[sessionID]
		switch ev.Status {
		case "running":
			if m == nil {
				m = make(map[string]*Job)
				t.jobs[sessionID] = m
			}
			j, known := m[ev.TaskID]
			if !known {
				j = &Job{TaskID: ev.TaskID}
				m[ev.TaskID] = j
			}
			j.Status = "running"
			j.UpdatedAt = t.now()
			if ev.Command != "" {
				j.Command = ev.Command
			}
			if ev.OutputFile != "" {
				j.OutputFile = ev.OutputFile
			}
			if ev.Summary != "" {
				j.Summary = ev.Summary
			}
			if len(ev.URLs) > 0 {
				j.URLs = ev.URLs
			}
			if !known {
				started = append(started, cloneJob(j))
			}
		case "completed", "failed", "killed":
			j, known := m[ev.TaskID]
			if !known {
				continue
			}
			delete(m, ev.TaskID)
			if len(m) == 0 {
				delete(t.jobs, sessionID)
			}
			j.Status = ev.Status
			if ev.Summary != "" {
				j.Summary = ev.Summary
			}
			j.UpdatedAt = t.now()
			ended = append(ended, cloneJob(j))
		}
		t.dirty = true
	}
	t.schedulePersistLocked()
	t.mu.Unlock()

	if len(started) == 0 && len(ended) == 0 {
		return
	}
	chats := t.notifier.TargetChats(sessionID)
	for _, j := range started {
		for _, chat := range chats {
			t.notifier.Send(ctx, chat, announceStart(j))
		}
	}
	for _, j := range ended {
		for _, chat := range chats {
			t.notifier.Send(ctx, chat, announceEnd(j))
		}
	}
	t.refreshBoards(ctx, sessionID, chats)
}

func cloneJob(j *Job) *Job {
	c := *j
	c.URLs = append([]string(nil), j.URLs...)
	return &c
}

func announceStart(j *Job) string {
	var b strings.Builder
	b.WriteString("▶️ Background job started: ")
	b.WriteString(jobLabel(j))
	for _, u := range j.URLs {
		b.WriteString("\n")
		b.WriteString(u)
	}
	return b.String()
}

func announceEnd(j *Job) string {
	icon := "✅"
	switch j.Status {
	case "failed":
		icon = "❌"
	case "killed":
		icon = "🛑"
	}
	text := fmt.Sprintf("%s Background job %s: %s", icon, j.Status, jobLabel(j))
	if j.Summary != "" {
		text += "\n" + j.Summary
	}
	return text
}

func jobLabel(j *Job) string {
	if j.Command != "" {
		return fmt.Sprintf("`%s` (%s)", j.Command, j.TaskID)
	}
	if j.Summary != "" {
		return fmt.Sprintf("%s (%s)", j.Summary, j.TaskID)
	}
	return j.TaskID
}

// JobsFor returns a session's jobs ordered oldest first.
func (t *Tracker) JobsFor(sessionID string) []Job {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.jobsForLocked(sessionID)
}

func (t *Tracker) jobsForLocked(sessionID string) []Job {
	m := t.jobs[sessionID]
	out := make([]Job, 0, len(m))
	for _, j := range m {
		out = append(out, *cloneJob(j))
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].UpdatedAt.Equal(out[k].UpdatedAt) {
			return out[i].TaskID < out[k].TaskID
		}
		return out[i].UpdatedAt.Before(out[k].UpdatedAt)
	})
	return out
}

// KnownTaskIDs reports the task IDs currently tracked for a session.
func (t *Tracker) KnownTaskIDs(sessionID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []string
	for id := range t.jobs[sessionID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// RemoveSession drops a session's jobs and refreshes its boards.
func (t *Tracker) RemoveSession(ctx context.Context, sessionID string) {
	t.mu.Lock()
	_, had := t.jobs[sessionID]
	delete(t.jobs, sessionID)
	if had {
		t.dirty = true
		t.schedulePersistLocked()
	}
	t.mu.Unlock()
	if had {
		t.refreshBoards(ctx, sessionID, t.notifier.TargetChats(sessionID))
	}
}

// refreshBoards recomputes and upserts the board message for each chat.
func (t *Tracker) refreshBoards(ctx context.Context, sessionID string, chats []string) {
	t.mu.Lock()
	jobs := t.jobsForLocked(sessionID)
	type upsert struct {
		chatID    string
		messageID int
	}
	var ups []upsert
	for _, chat := range chats {
		key := boardKey{chatID: chat, key: boardKeyJobs}
		entry := t.boards[key]
		msgID := 0
		if entry != nil {
			msgID = entry.MessageID
		}
		if entry == nil && len(jobs) == 0 {
			continue
		}
		ups = append(ups, upsert{chatID: chat, messageID: msgID})
	}
	t.mu.Unlock()

	body := renderBoard(jobs)
	for _, u := range ups {
		msgID, err := t.notifier.UpsertBoardMessage(ctx, u.chatID, u.messageID, body)
		if err != nil {
			log.Printf("boards: upsert board in %s: %v", u.chatID, err)
			continue
		}
		t.mu.Lock()
		t.boards[boardKey{chatID: u.chatID, key: boardKeyJobs}] = &BoardEntry{
			ChatID:    u.chatID,
			BoardKey:  boardKeyJobs,
			MessageID: msgID,
			Pinned:    true,
			UpdatedAt: t.now(),
		}
		t.dirty = true
		t.schedulePersistLocked()
		t.mu.Unlock()
	}
}

// renderBoard formats the pinned message body: up to 8 jobs plus a
// "+N more" suffix.
func renderBoard(jobs []Job) string {
	if len(jobs) == 0 {
		return emptyBoardMsg
	}
	var b strings.Builder
	fmt.Fprintf(&b, "⚙️ Background jobs (%d)\n", len(jobs))
	shown := jobs
	if len(shown) > maxBoardJobs {
		shown = shown[:maxBoardJobs]
	}
	for _, j := range shown {
		b.WriteString("• ")
		if j.Command != "" {
			fmt.Fprintf(&b, "%s — %s", j.TaskID, j.Command)
		} else if j.Summary != "" {
			fmt.Fprintf(&b, "%s — %s", j.TaskID, j.Summary)
		} else {
			b.WriteString(j.TaskID)
		}
		b.WriteString("\n")
		for _, u := range j.URLs {
			fmt.Fprintf(&b, "  %s\n", u)
		}
	}
	if extra := len(jobs) - len(shown); extra > 0 {
		fmt.Fprintf(&b, "+%d more\n", extra)
	}
	return strings.TrimRight(b.String(), "\n")
}

// DropChat removes any persisted boards for a dead chat.
func (t *Tracker) DropChat(chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for key := range t.boards {
		if key.chatID == chatID {
			delete(t.boards, key)
			t.dirty = true
		}
	}
	t.schedulePersistLocked()
}

func (t *Tracker) schedulePersistLocked() {
	if !t.dirty || t.persist != nil {
		return
	}
	t.persist = time.AfterFunc(persistDelay, t.persistNow)
}

func (t *Tracker) persistNow() {
	t.mu.Lock()
	t.persist = nil
	if !t.dirty {
		t.mu.Unlock()
		return
	}
	t.dirty = false
	st := persistedState{Version: stateVersion, Jobs: make(map[string][]Job)}
	for sessionID := range t.jobs {
		st.Jobs[sessionID] = t.jobsForLocked(sessionID)
	}
	for _, b := range t.boards {
		st.Boards = append(st.Boards, *b)
	}
	sort.Slice(st.Boards, func(i, j int) bool {
		if st.Boards[i].ChatID == st.Boards[j].ChatID {
			return st.Boards[i].BoardKey < st.Boards[j].BoardKey
		}
		return st.Boards[i].ChatID < st.Boards[j].ChatID
	})
	path := t.path
	t.mu.Unlock()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		log.Printf("boards: marshal state: %v", err)
		return
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		log.Printf("boards: write state: %v", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		log.Printf("boards: rename state: %v", err)
	}
}

// Flush forces any pending debounced write to disk now.
func (t *Tracker) Flush() {
	t.mu.Lock()
	if t.persist != nil {
		t.persist.Stop()
		t.persist = nil
	}
	t.mu.Unlock()
	t.persistNow()
}
