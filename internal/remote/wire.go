package remote

import (
	"encoding/json"
	"time"

	"touchgrass/internal/assistant"
)

// Wire types shared by the daemon's control server and the CLI client.
// All responses carry ok; failures add error and status.

// AuthHeader carries the control server token.
const AuthHeader = "x-touchgrass-auth"

type OKResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Status int    `json:"status,omitempty"`
}

type HealthResponse struct {
	OK        bool      `json:"ok"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
}

type SessionStatus struct {
	ID        string    `json:"id"`
	Command   string    `json:"command"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
}

type StatusResponse struct {
	OK       bool            `json:"ok"`
	PID      int             `json:"pid"`
	Uptime   string          `json:"uptime"`
	Sessions []SessionStatus `json:"sessions"`
}

type GenerateCodeRequest struct {
	Channel string `json:"channel,omitempty"`
}

type GenerateCodeResponse struct {
	OK        bool      `json:"ok"`
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ChatSummary struct {
	ChatID    string `json:"chatId"`
	Title     string `json:"title"`
	Type      string `json:"type"`
	Busy      bool   `json:"busy"`
	BusyLabel string `json:"busyLabel,omitempty"`
}

type ChannelsResponse struct {
	OK    bool          `json:"ok"`
	Chats []ChatSummary `json:"chats"`
}

type RegisterRequest struct {
	// ID is set on reconnect to revive a dropped registration.
	ID               string   `json:"id,omitempty"`
	Command          string   `json:"command"`
	Cwd              string   `json:"cwd"`
	PID              int      `json:"pid"`
	Channel          string   `json:"channel,omitempty"`
	SubscribedGroups []string `json:"subscribedGroups,omitempty"`
}

type RegisterResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Status int    `json:"status,omitempty"`
	ID     string `json:"id,omitempty"`
	ChatID string `json:"chatId,omitempty"`
	DMBusy bool   `json:"dmBusy,omitempty"`
	// LinkedGroups are the channel's groups currently free to bind;
	// AllLinkedGroups includes the busy ones.
	LinkedGroups    []ChatSummary `json:"linkedGroups,omitempty"`
	AllLinkedGroups []ChatSummary `json:"allLinkedGroups,omitempty"`
}

type BindChatRequest struct {
	ID     string `json:"id"`
	ChatID string `json:"chatId"`
}

// InputResponse answers the CLI's input poll. Unknown means the daemon
// dropped this session; the CLI should re-register with the same ID.
type InputResponse struct {
	OK      bool     `json:"ok"`
	Unknown bool     `json:"unknown,omitempty"`
	Input   []string `json:"input,omitempty"`
	Control *Action  `json:"control,omitempty"`
}

type SendInputRequest struct {
	Text string `json:"text"`
}

type ExitRequest struct {
	ExitCode int `json:"exitCode"`
}

type GroupsResponse struct {
	OK        bool     `json:"ok"`
	ChatIDs   []string `json:"chatIds"`
	BoundChat string   `json:"boundChat,omitempty"`
}

// TextEvent carries assistant or thinking text.
type TextEvent struct {
	Text string `json:"text"`
}

type QuestionsEvent struct {
	Questions []assistant.Question `json:"questions"`
}

type JobsEvent struct {
	Events []assistant.BackgroundJobEvent `json:"events"`
}

// ApprovalRequest describes a pending in-terminal approval prompt.
type ApprovalRequest struct {
	Name        string          `json:"name,omitempty"`
	Input       json.RawMessage `json:"input,omitempty"`
	PromptText  string          `json:"promptText"`
	PollOptions []string        `json:"pollOptions,omitempty"`
}

type SendFileRequest struct {
	Path    string `json:"path"`
	Caption string `json:"caption,omitempty"`
}

type CampRegisterRequest struct {
	Root string `json:"root"`
	PID  int    `json:"pid"`
}

// CampRequest is one queued /start dispatch for the camp controller.
type CampRequest struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chatId"`
	Tool      string    `json:"tool,omitempty"`
	Project   string    `json:"project,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type CampRequestsResponse struct {
	OK       bool          `json:"ok"`
	Requests []CampRequest `json:"requests"`
}
