package router

import (
	"sort"
	"strings"
	"sync"
	"time"

	"touchgrass/internal/config"
)

// batchKey identifies one output stream: a session's text headed to one
// chat.
type batchKey struct {
	sessionID string
	chatID    string
}

type batchBuf struct {
	parts   []string
	size    int
	firstAt time.Time
	timer   *time.Timer
}

// batcher coalesces assistant output so chats get a few substantial
// messages instead of a stream of fragments. A buffer flushes after a
// quiet period, at a maximum age, or when it grows past the size cap.
// Thresholds are read from config on every add so setting changes take
// effect without a restart.
type batcher struct {
	store *config.Store
	flush func(chatID, text string)

	mu   sync.Mutex
	bufs map[batchKey]*batchBuf
}

func newBatcher(store *config.Store, flush func(chatID, text string)) *batcher {
	return &batcher{
		store: store,
		flush: flush,
		bufs:  make(map[batchKey]*batchBuf),
	}
}

func (b *batcher) settings() (minWait, maxWait time.Duration, maxChars int) {
	b.store.View(func(cfg *config.Config) {
		minWait = time.Duration(cfg.BatchMinMs()) * time.Millisecond
		maxWait = time.Duration(cfg.BatchMaxMs()) * time.Millisecond
		maxChars = cfg.BufferMaxChars()
	})
	return minWait, maxWait, maxChars
}

// Add appends one fragment to the (session, chat) buffer.
func (b *batcher) Add(sessionID, chatID, text string) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}
	minWait, maxWait, maxChars := b.settings()
	key := batchKey{sessionID: sessionID, chatID: chatID}

	b.mu.Lock()
	buf := b.bufs[key]
	if buf == nil {
		buf = &batchBuf{firstAt: time.Now()}
		b.bufs[key] = buf
	}
	buf.parts = append(buf.parts, text)
	buf.size += len(text)

	if buf.size >= maxChars {
		out := b.takeLocked(key)
		b.mu.Unlock()
		b.deliver(chatID, out)
		return
	}

	// Re-arm the quiet timer, bounded by the buffer's maximum age.
	delay := minWait
	if deadline := buf.firstAt.Add(maxWait); time.Now().Add(delay).After(deadline) {
		delay = time.Until(deadline)
		if delay < 0 {
			delay = 0
		}
	}
	if buf.timer != nil {
		buf.timer.Stop()
	}
	buf.timer = time.AfterFunc(delay, func() { b.flushKey(key) })
	b.mu.Unlock()
}

// takeLocked removes and joins the buffer. Callers hold b.mu.
func (b *batcher) takeLocked(key batchKey) string {
	buf := b.bufs[key]
	if buf == nil {
		return ""
	}
	if buf.timer != nil {
		buf.timer.Stop()
	}
	delete(b.bufs, key)
	return strings.Join(buf.parts, "\n\n")
}

func (b *batcher) flushKey(key batchKey) {
	b.mu.Lock()
	out := b.takeLocked(key)
	b.mu.Unlock()
	b.deliver(key.chatID, out)
}

func (b *batcher) deliver(chatID, text string) {
	if text != "" {
		b.flush(chatID, text)
	}
}

// FlushChat delivers buffered output for one (session, chat) pair now.
// Called before polls and announcements so context lands first.
func (b *batcher) FlushChat(sessionID, chatID string) {
	b.flushKey(batchKey{sessionID: sessionID, chatID: chatID})
}

// FlushSession delivers everything buffered for a session.
func (b *batcher) FlushSession(sessionID string) {
	b.mu.Lock()
	var keys []batchKey
	for key := range b.bufs {
		if key.sessionID == sessionID {
			keys = append(keys, key)
		}
	}
	b.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].chatID < keys[j].chatID })
	for _, key := range keys {
		b.flushKey(key)
	}
}
