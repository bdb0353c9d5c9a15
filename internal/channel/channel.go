// Package channel defines the adapter surface between the daemon and a
// chat platform. The daemon talks to a Channel; Telegram is the only
// adapter today but the config keeps a map of them.
package channel

import (
	"context"
	"errors"
)

// ErrChatGone marks a chat the bot can no longer reach: the user blocked
// the bot or the bot was removed from the group. The daemon unsubscribes
// the chat everywhere when it sees this.
var ErrChatGone = errors.New("chat unreachable")

// ErrMessageGone marks an edit target that no longer exists, usually a
// deleted status board message. The caller re-sends instead of editing.
var ErrMessageGone = errors.New("message no longer editable")

// Message is one inbound chat message, normalized across adapters.
type Message struct {
	ChatID    string
	ChatType  string // "private", "group", "supergroup"
	ChatTitle string
	UserID    string
	Username  string
	Text      string
	Document  *Document
}

// Document describes a file attached to an inbound message.
type Document struct {
	FileID   string
	FileName string
	FileSize int64
}

// PollAnswer is one user's vote on a previously sent poll.
type PollAnswer struct {
	PollID    string
	UserID    string
	OptionIDs []int
}

// Handlers receives inbound events. Callbacks run on the adapter's
// receive goroutine and must not block for long.
type Handlers struct {
	OnMessage    func(ctx context.Context, msg Message)
	OnPollAnswer func(ctx context.Context, ans PollAnswer)
}

// Channel is the core adapter contract: a named, startable transport
// that can deliver text to a chat.
type Channel interface {
	Name() string
	Start(ctx context.Context, h Handlers) error
	Stop()
	Send(ctx context.Context, chatID, text string) error
}

// Poller is implemented by channels that support native polls.
type Poller interface {
	// SendPoll returns the platform's poll ID, used to correlate answers.
	SendPoll(ctx context.Context, chatID, question string, options []string, multi bool) (string, error)
}

// Typing is implemented by channels with a typing indicator.
type Typing interface {
	SendTyping(ctx context.Context, chatID string) error
}

// DocumentSender is implemented by channels that can upload local files.
type DocumentSender interface {
	SendDocument(ctx context.Context, chatID, path, caption string) error
}

// DocumentFetcher is implemented by channels that can download a file a
// user attached. It returns the local path the file was saved to.
type DocumentFetcher interface {
	FetchDocument(ctx context.Context, doc *Document, destDir string) (string, error)
}

// BoardEditor is implemented by channels that support pinned, editable
// status messages. SendBoard returns the message ID for later edits.
type BoardEditor interface {
	SendBoard(ctx context.Context, chatID, text string) (int, error)
	EditBoard(ctx context.Context, chatID string, messageID int, text string) error
	UnpinBoard(ctx context.Context, chatID string, messageID int) error
}

// ChatValidator is implemented by channels that can probe whether a chat
// is still reachable without sending a visible message.
type ChatValidator interface {
	ValidateChat(ctx context.Context, chatID string) error
}
