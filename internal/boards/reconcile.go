package boards

import (
	"bytes"
	"context"
	"io"
	"os"

	"touchgrass/internal/assistant"
	"touchgrass/internal/remote"
)

// reconcileTailBytes bounds how much of a session's JSONL is re-read per
// reconcile pass.
const reconcileTailBytes = 64 * 1024

// Reconcile catches up on missed job stop events by re-reading each
// session's JSONL tail, drops jobs for sessions whose manifest is gone,
// and clears boards that have been stale for over five minutes.
func (t *Tracker) Reconcile(ctx context.Context) {
	t.mu.Lock()
	sessionIDs := make([]string, 0, len(t.jobs))
	for id := range t.jobs {
		sessionIDs = append(sessionIDs, id)
	}
	t.mu.Unlock()

	for _, id := range sessionIDs {
		manifest, err := remote.ReadManifest(id)
		if err != nil {
			// The CLI is gone and took its manifest with it.
			t.RemoveSession(ctx, id)
			continue
		}
		if manifest.JSONLFile == nil {
			continue
		}
		if evs := t.missedStops(id, *manifest.JSONLFile); len(evs) > 0 {
			t.Apply(ctx, id, evs)
		}
	}

	t.clearOrphanBoards(ctx)
}

// missedStops scans the tail of a JSONL file for terminal events on
// tasks the tracker still believes are running.
func (t *Tracker) missedStops(sessionID, path string) []assistant.BackgroundJobEvent {
	known := make(map[string]bool)
	for _, id := range t.KnownTaskIDs(sessionID) {
		known[id] = true
	}
	if len(known) == 0 {
		return nil
	}

	lines, err := tailLines(path, reconcileTailBytes)
	if err != nil {
		return nil
	}

	parser := assistant.NewParser()
	var out []assistant.BackgroundJobEvent
	for _, line := range lines {
		parsed, ok := parser.Parse(line)
		if !ok {
			continue
		}
		for _, ev := range parsed.BackgroundJobEvents {
			if ev.Status == "running" || !known[ev.TaskID] {
				continue
			}
			out = append(out, ev)
		}
	}
	return out
}

func tailLines(path string, maxBytes int64) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	offset := int64(0)
	if info.Size() > maxBytes {
		offset = info.Size() - maxBytes
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	lines := bytes.Split(data, []byte("\n"))
	if offset > 0 && len(lines) > 0 {
		// First line is almost certainly cut mid-record.
		lines = lines[1:]
	}
	return lines, nil
}

// clearOrphanBoards removes board messages that no live job feeds.
func (t *Tracker) clearOrphanBoards(ctx context.Context) {
	cutoff := t.now().Add(-orphanMaxAge)

	// Chats still fed by some session's jobs.
	live := make(map[string]bool)
	t.mu.Lock()
	sessionIDs := make([]string, 0, len(t.jobs))
	for id := range t.jobs {
		sessionIDs = append(sessionIDs, id)
	}
	t.mu.Unlock()
	for _, id := range sessionIDs {
		for _, chat := range t.notifier.TargetChats(id) {
			live[chat] = true
		}
	}

	type removal struct {
		chatID    string
		messageID int
	}
	var removals []removal
	t.mu.Lock()
	for key, entry := range t.boards {
		if live[key.chatID] || entry.UpdatedAt.After(cutoff) {
			continue
		}
		removals = append(removals, removal{chatID: entry.ChatID, messageID: entry.MessageID})
		delete(t.boards, key)
		t.dirty = true
	}
	t.schedulePersistLocked()
	t.mu.Unlock()

	for _, r := range removals {
		t.notifier.RemoveBoardMessage(ctx, r.chatID, r.messageID)
	}
}
