// Package router connects chats to sessions. Inbound messages and poll
// answers become session operations; session events fan out to the
// chats that should hear them. It implements the daemon's Events
// surface on one side and the channel Handlers on the other, with all
// shared state owned by the session manager.
package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"touchgrass/internal/boards"
	"touchgrass/internal/channel"
	"touchgrass/internal/config"
	"touchgrass/internal/daemon"
	"touchgrass/internal/manager"
)

// typingThrottle caps chat-action fan-out to one per chat per window.
var typingThrottle = 4 * time.Second

type Router struct {
	mgr      *manager.Manager
	store    *config.Store
	camp     *daemon.Camp
	channels map[string]channel.Channel

	batch   *batcher
	tracker *boards.Tracker

	mu         sync.Mutex
	lastTyping map[string]time.Time
	freeText   map[string]string // chatID → sessionID awaiting a typed answer
}

var _ boards.Notifier = (*Router)(nil)

func New(mgr *manager.Manager, store *config.Store, camp *daemon.Camp, channels map[string]channel.Channel) *Router {
	r := &Router{
		mgr:        mgr,
		store:      store,
		camp:       camp,
		channels:   channels,
		lastTyping: make(map[string]time.Time),
		freeText:   make(map[string]string),
	}
	r.batch = newBatcher(store, func(chatID, text string) {
		r.Send(context.Background(), chatID, text)
	})
	return r
}

// BindTracker attaches the background-job tracker. Assigned after
// construction: the tracker needs the router as its notifier.
func (r *Router) BindTracker(t *boards.Tracker) {
	r.tracker = t
}

// Handlers exposes the inbound chat surface for channel adapters.
func (r *Router) Handlers() channel.Handlers {
	return channel.Handlers{
		OnMessage:    r.handleMessage,
		OnPollAnswer: r.handlePollAnswer,
	}
}

// channelName extracts the adapter name from a namespaced chat or user
// ID of the form <channel>:<native-id>[:<thread>].
func channelName(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return id[:i]
		}
	}
	return id
}

func (r *Router) channelFor(chatID string) (channel.Channel, bool) {
	ch, ok := r.channels[channelName(chatID)]
	return ch, ok
}

// Send delivers text to one chat. Unreachable chats are purged from all
// session and config state.
func (r *Router) Send(ctx context.Context, chatID, text string) {
	if text == "" {
		return
	}
	ch, ok := r.channelFor(chatID)
	if !ok {
		log.Printf("router: no channel for chat %s", chatID)
		return
	}
	if err := ch.Send(ctx, chatID, text); err != nil {
		if errors.Is(err, channel.ErrChatGone) {
			r.purgeDeadChat(chatID)
			return
		}
		log.Printf("router: send to %s: %v", chatID, err)
	}
}

// sendPoll sends a native poll and reports its platform poll ID.
func (r *Router) sendPoll(ctx context.Context, chatID, question string, options []string, multi bool) (string, bool) {
	ch, ok := r.channelFor(chatID)
	if !ok {
		return "", false
	}
	poller, ok := ch.(channel.Poller)
	if !ok {
		log.Printf("router: channel %s cannot send polls", ch.Name())
		return "", false
	}
	id, err := poller.SendPoll(ctx, chatID, question, options, multi)
	if err != nil {
		if errors.Is(err, channel.ErrChatGone) {
			r.purgeDeadChat(chatID)
		} else {
			log.Printf("router: poll in %s: %v", chatID, err)
		}
		return "", false
	}
	return id, true
}

// TargetChats resolves where a session's output goes: the bound chat
// first, then its subscribed groups.
func (r *Router) TargetChats(sessionID string) []string {
	var out []string
	seen := make(map[string]bool)
	if bound, ok := r.mgr.GetBoundChat(sessionID); ok {
		out = append(out, bound)
		seen[bound] = true
	}
	for _, g := range r.mgr.GetSubscribedGroups(sessionID) {
		if !seen[g] {
			out = append(out, g)
			seen[g] = true
		}
	}
	return out
}

// targetsFor is TargetChats with an owner-DM fallback for sessions that
// are already gone from the registry.
func (r *Router) targetsFor(info manager.SessionInfo) []string {
	if chats := r.TargetChats(info.ID); len(chats) > 0 {
		return chats
	}
	if info.ChatID != "" {
		return []string{info.ChatID}
	}
	return nil
}

// UpsertBoardMessage edits a pinned status board in place, re-sending
// it when the old message was deleted.
func (r *Router) UpsertBoardMessage(ctx context.Context, chatID string, messageID int, text string) (int, error) {
	ch, ok := r.channelFor(chatID)
	if !ok {
		return 0, fmt.Errorf("no channel for chat %s", chatID)
	}
	editor, ok := ch.(channel.BoardEditor)
	if !ok {
		return 0, fmt.Errorf("channel %s cannot edit boards", ch.Name())
	}
	if messageID != 0 {
		err := editor.EditBoard(ctx, chatID, messageID, text)
		switch {
		case err == nil:
			return messageID, nil
		case errors.Is(err, channel.ErrMessageGone):
			// The board was deleted; fall through and send a fresh one.
		case errors.Is(err, channel.ErrChatGone):
			r.purgeDeadChat(chatID)
			return 0, err
		default:
			return 0, err
		}
	}
	id, err := editor.SendBoard(ctx, chatID, text)
	if err != nil {
		if errors.Is(err, channel.ErrChatGone) {
			r.purgeDeadChat(chatID)
		}
		return 0, err
	}
	return id, nil
}

func (r *Router) RemoveBoardMessage(ctx context.Context, chatID string, messageID int) {
	ch, ok := r.channelFor(chatID)
	if !ok {
		return
	}
	editor, ok := ch.(channel.BoardEditor)
	if !ok {
		return
	}
	if err := editor.UnpinBoard(ctx, chatID, messageID); err != nil && !errors.Is(err, channel.ErrMessageGone) {
		log.Printf("router: unpin board %d in %s: %v", messageID, chatID, err)
	}
}

// purgeDeadChat drops every trace of a chat the platform reports as
// unreachable: subscriptions, attachment, boards, linked-group config.
func (r *Router) purgeDeadChat(chatID string) {
	log.Printf("router: chat %s unreachable, purging", chatID)
	r.mgr.UnsubscribeEverywhere(chatID)
	if r.tracker != nil {
		r.tracker.DropChat(chatID)
	}
	name := channelName(chatID)
	if err := r.store.Update(func(cfg *config.Config) error {
		cfg.UnlinkGroup(name, chatID)
		return nil
	}); err != nil {
		log.Printf("router: drop %s from config: %v", chatID, err)
	}
	r.mu.Lock()
	delete(r.lastTyping, chatID)
	delete(r.freeText, chatID)
	r.mu.Unlock()
}

func (r *Router) paired(userID string) bool {
	var ok bool
	r.store.View(func(cfg *config.Config) { ok = cfg.IsPaired(userID) })
	return ok
}

func (r *Router) linkedGroup(chatID string) bool {
	var ok bool
	r.store.View(func(cfg *config.Config) { ok = cfg.IsLinkedGroup(chatID) })
	return ok
}

func (r *Router) muted(chatID string) bool {
	var m bool
	r.store.View(func(cfg *config.Config) { m = cfg.Muted(chatID) })
	return m
}

func (r *Router) outputMode(chatID string) string {
	var mode string
	r.store.View(func(cfg *config.Config) { mode = cfg.OutputMode(chatID) })
	return mode
}

func (r *Router) thinkingEnabled(chatID string) bool {
	var on bool
	r.store.View(func(cfg *config.Config) { on = cfg.ThinkingEnabled(chatID) })
	return on
}

func (r *Router) setFreeText(chatID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.freeText[chatID] = sessionID
}

// takeFreeText consumes the pending free-text marker when it matches
// the session attached to the chat.
func (r *Router) takeFreeText(chatID, sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.freeText[chatID] != sessionID {
		return false
	}
	delete(r.freeText, chatID)
	return true
}

func (r *Router) clearFreeText(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for chat, id := range r.freeText {
		if id == sessionID {
			delete(r.freeText, chat)
		}
	}
}

// clip bounds s to max runes, marking the cut.
func clip(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
