// Package telegram implements the channel adapter for Telegram bots via
// the Bot API long-polling interface.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"touchgrass/internal/channel"
)

// Telegram caps messages at 4096 chars; stay under it so emoji prefixes
// and code fences never push a chunk over.
const maxMessageLen = 4000

const (
	pollQuestionMaxLen = 300
	pollOptionMaxLen   = 100
	maxPollOptions     = 10
)

// botAPI is the subset of tgbotapi.BotAPI the adapter calls, so tests can
// supply a fake without a live connection.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFile(cfg tgbotapi.FileConfig) (tgbotapi.File, error)
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Channel struct {
	name    string
	token   string
	bot     botAPI
	botName string

	// Telegram allows ~30 messages/s overall and ~1/s per chat. The
	// limiters are waited on before every API write.
	global *rate.Limiter

	mu      sync.Mutex
	perChat map[string]*rate.Limiter
}

// New connects to the Bot API and verifies the token. name is the
// configured channel name, used to namespace chat and user IDs.
func New(name, token string) (*Channel, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	log.Printf("telegram: authorized as @%s", bot.Self.UserName)
	return newWithBot(name, token, bot, bot.Self.UserName), nil
}

func newWithBot(name, token string, bot botAPI, botName string) *Channel {
	return &Channel{
		name:    name,
		token:   token,
		bot:     bot,
		botName: botName,
		global:  rate.NewLimiter(rate.Limit(25), 5),
		perChat: make(map[string]*rate.Limiter),
	}
}

func (c *Channel) Name() string { return c.name }

// BotUsername returns the bot's @name without the at sign.
func (c *Channel) BotUsername() string { return c.botName }

// Start begins long polling and dispatches updates to h until ctx ends.
func (c *Channel) Start(ctx context.Context, h channel.Handlers) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "poll_answer", "my_chat_member"}
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				c.dispatch(ctx, h, update)
			}
		}
	}()
	return nil
}

func (c *Channel) Stop() {
	c.bot.StopReceivingUpdates()
}

func (c *Channel) dispatch(ctx context.Context, h channel.Handlers, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		msg := update.Message
		if msg.From == nil {
			return
		}
		text := msg.Text
		if text == "" {
			text = msg.Caption
		}
		var doc *channel.Document
		if msg.Document != nil {
			doc = &channel.Document{
				FileID:   msg.Document.FileID,
				FileName: msg.Document.FileName,
				FileSize: int64(msg.Document.FileSize),
			}
		}
		if text == "" && doc == nil {
			return
		}
		if h.OnMessage != nil {
			h.OnMessage(ctx, channel.Message{
				ChatID:    c.namespacedID(msg.Chat.ID),
				ChatType:  msg.Chat.Type,
				ChatTitle: msg.Chat.Title,
				UserID:    c.namespacedID(msg.From.ID),
				Username:  msg.From.UserName,
				Text:      text,
				Document:  doc,
			})
		}
	case update.PollAnswer != nil:
		ans := update.PollAnswer
		if h.OnPollAnswer != nil {
			h.OnPollAnswer(ctx, channel.PollAnswer{
				PollID:    ans.PollID,
				UserID:    c.namespacedID(ans.User.ID),
				OptionIDs: ans.OptionIDs,
			})
		}
	}
}

func (c *Channel) limiter(chatID string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.perChat[chatID]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Second), 3)
		c.perChat[chatID] = l
	}
	return l
}

func (c *Channel) wait(ctx context.Context, chatID string) error {
	if err := c.global.Wait(ctx); err != nil {
		return err
	}
	return c.limiter(chatID).Wait(ctx)
}

// Send delivers text to a chat, chunked under the message size limit.
// Markdown formatting is attempted first; on a parse rejection the chunk
// is resent as plain text.
func (c *Channel) Send(ctx context.Context, chatID, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	for _, chunk := range channel.SplitMessage(text, maxMessageLen) {
		if chunk == "" {
			continue
		}
		if err := c.wait(ctx, chatID); err != nil {
			return err
		}
		msg := tgbotapi.NewMessage(id, chunk)
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.DisableWebPagePreview = true
		if _, err := c.bot.Send(msg); err != nil {
			if isParseError(err) {
				plain := tgbotapi.NewMessage(id, chunk)
				plain.DisableWebPagePreview = true
				_, err = c.bot.Send(plain)
			}
			if err != nil {
				return classify(err)
			}
		}
	}
	return nil
}

// SendPoll posts a non-anonymous poll and returns its poll ID. Questions
// and options are clamped to Telegram's length limits.
func (c *Channel) SendPoll(ctx context.Context, chatID, question string, options []string, multi bool) (string, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return "", err
	}
	if len(options) < 2 {
		return "", fmt.Errorf("poll needs at least two options, got %d", len(options))
	}
	if len(options) > maxPollOptions {
		options = options[:maxPollOptions]
	}
	clamped := make([]string, len(options))
	for i, opt := range options {
		clamped[i] = clamp(opt, pollOptionMaxLen)
	}
	if err := c.wait(ctx, chatID); err != nil {
		return "", err
	}
	poll := tgbotapi.NewPoll(id, clamp(question, pollQuestionMaxLen), clamped...)
	poll.IsAnonymous = false
	poll.AllowsMultipleAnswers = multi
	sent, err := c.bot.Send(poll)
	if err != nil {
		return "", classify(err)
	}
	if sent.Poll == nil {
		return "", fmt.Errorf("poll response missing poll object")
	}
	return sent.Poll.ID, nil
}

// SendTyping shows the typing indicator, which Telegram keeps alive ~5s.
func (c *Channel) SendTyping(ctx context.Context, chatID string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	if err := c.global.Wait(ctx); err != nil {
		return err
	}
	if _, err := c.bot.Request(tgbotapi.NewChatAction(id, tgbotapi.ChatTyping)); err != nil {
		return classify(err)
	}
	return nil
}

// SendDocument uploads a local file to the chat.
func (c *Channel) SendDocument(ctx context.Context, chatID, path, caption string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	if err := c.wait(ctx, chatID); err != nil {
		return err
	}
	doc := tgbotapi.NewDocument(id, tgbotapi.FilePath(path))
	doc.Caption = clamp(caption, 1024)
	if _, err := c.bot.Send(doc); err != nil {
		return classify(err)
	}
	return nil
}

// SendBoard posts a status board message and pins it. Pinning can fail
// without admin rights; the board still works unpinned.
func (c *Channel) SendBoard(ctx context.Context, chatID, text string) (int, error) {
	id, err := parseChatID(chatID)
	if err != nil {
		return 0, err
	}
	if err := c.wait(ctx, chatID); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(id, clamp(text, maxMessageLen))
	msg.DisableWebPagePreview = true
	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, classify(err)
	}
	pin := tgbotapi.PinChatMessageConfig{
		ChatID:              id,
		MessageID:           sent.MessageID,
		DisableNotification: true,
	}
	if _, err := c.bot.Request(pin); err != nil {
		log.Printf("telegram: pin board in %s: %v", chatID, err)
	}
	return sent.MessageID, nil
}

// EditBoard rewrites a previously sent board message in place.
func (c *Channel) EditBoard(ctx context.Context, chatID string, messageID int, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	if err := c.wait(ctx, chatID); err != nil {
		return err
	}
	edit := tgbotapi.NewEditMessageText(id, messageID, clamp(text, maxMessageLen))
	edit.DisableWebPagePreview = true
	if _, err := c.bot.Send(edit); err != nil {
		if isNotModified(err) {
			return nil
		}
		if isEditGone(err) {
			return channel.ErrMessageGone
		}
		return classify(err)
	}
	return nil
}

func (c *Channel) UnpinBoard(ctx context.Context, chatID string, messageID int) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	if err := c.global.Wait(ctx); err != nil {
		return err
	}
	unpin := tgbotapi.UnpinChatMessageConfig{ChatID: id, MessageID: messageID}
	if _, err := c.bot.Request(unpin); err != nil {
		return classify(err)
	}
	return nil
}

// ValidateChat probes whether the bot can still reach a chat.
func (c *Channel) ValidateChat(ctx context.Context, chatID string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	if err := c.global.Wait(ctx); err != nil {
		return err
	}
	info := tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: id}}
	if _, err := c.bot.Request(info); err != nil {
		return classify(err)
	}
	return nil
}

// namespacedID renders a native Telegram ID in the channel-qualified
// form all chat and user IDs travel in outside this package.
func (c *Channel) namespacedID(id int64) string {
	return c.Name() + ":" + strconv.FormatInt(id, 10)
}

// parseChatID recovers the native numeric ID from the channel-qualified
// form. Bare numeric IDs are accepted too.
func parseChatID(chatID string) (int64, error) {
	native := chatID
	if _, rest, ok := strings.Cut(chatID, ":"); ok {
		native = rest
	}
	id, err := strconv.ParseInt(native, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad telegram chat id %q: %w", chatID, err)
	}
	return id, nil
}

func clamp(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }

// classify maps API errors onto the channel sentinels. 403 means the
// user blocked the bot or the bot was removed from the group.
func classify(err error) error {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		if tgErr.Code == 403 {
			return fmt.Errorf("%w: %s", channel.ErrChatGone, tgErr.Message)
		}
		if tgErr.Code == 400 && strings.Contains(tgErr.Message, "chat not found") {
			return fmt.Errorf("%w: %s", channel.ErrChatGone, tgErr.Message)
		}
	}
	return err
}

func isParseError(err error) bool {
	var tgErr *tgbotapi.Error
	return errors.As(err, &tgErr) && tgErr.Code == 400 &&
		strings.Contains(tgErr.Message, "can't parse entities")
}

func isEditGone(err error) bool {
	var tgErr *tgbotapi.Error
	if !errors.As(err, &tgErr) || tgErr.Code != 400 {
		return false
	}
	return strings.Contains(tgErr.Message, "message to edit not found") ||
		strings.Contains(tgErr.Message, "message can't be edited")
}

func isNotModified(err error) bool {
	var tgErr *tgbotapi.Error
	return errors.As(err, &tgErr) && strings.Contains(tgErr.Message, "message is not modified")
}
