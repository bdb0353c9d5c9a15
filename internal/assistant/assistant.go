// Package assistant parses the JSONL event streams written by the wrapped
// coding assistants (Claude Code, Codex, Pi and compatibles) into one
// unified message shape. Parsing is pure: the only state is a bounded map
// from tool-use ids to the tool names that issued them.
package assistant

import (
	"encoding/json"
)

// ParsedMessage is the unified form of one JSONL record. Absent parts stay
// zero-valued; a record that yields nothing is dropped by the caller.
type ParsedMessage struct {
	AssistantText       string
	Thinking            string
	Questions           []Question
	ToolCalls           []ToolCall
	ToolResults         []ToolResult
	BackgroundJobEvents []BackgroundJobEvent
}

// HasContent reports whether any field of the message carries information.
func (m *ParsedMessage) HasContent() bool {
	return m.AssistantText != "" || m.Thinking != "" ||
		len(m.Questions) > 0 || len(m.ToolCalls) > 0 ||
		len(m.ToolResults) > 0 || len(m.BackgroundJobEvents) > 0
}

// Question is one entry of an AskUserQuestion tool use.
type Question struct {
	Text        string
	Header      string
	Options     []string
	MultiSelect bool
}

type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

type ToolResult struct {
	ToolUseID string
	Name      string
	Text      string
	IsError   bool
}

// BackgroundJobEvent reports a lifecycle change of an assistant-started
// background task.
type BackgroundJobEvent struct {
	TaskID     string
	Status     string // running | completed | failed | killed
	Command    string
	OutputFile string
	Summary    string
	URLs       []string
}

// Parser converts raw JSONL lines into ParsedMessages. One Parser per
// tailed file; it is not safe for concurrent use.
type Parser struct {
	tools *toolNameCache
}

func NewParser() *Parser {
	return &Parser{tools: newToolNameCache(toolNameCacheCap)}
}

// Parse decodes one JSONL record. ok is false for blank, malformed, or
// unrecognized lines, and for records that carry nothing worth forwarding.
func (p *Parser) Parse(line []byte) (*ParsedMessage, bool) {
	var root struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &root); err != nil {
		return nil, false
	}

	var msg *ParsedMessage
	switch root.Type {
	case "assistant", "user":
		msg = p.parseClaude(line, root.Type)
	case "queue-operation":
		msg = p.parseQueueOperation(line)
	case "message":
		msg = p.parsePi(line)
	case "event_msg", "response_item":
		msg = p.parseCodex(line)
	default:
		return nil, false
	}

	if msg == nil || !msg.HasContent() {
		return nil, false
	}
	return msg, true
}

// SessionIDOf extracts the vendor session id from a raw record, if present.
// Used by the tail's rollover scan, which inspects records it never forwards.
func SessionIDOf(line []byte) string {
	var rec struct {
		SessionID      string `json:"sessionId"`
		SessionIDSnake string `json:"session_id"`
	}
	if err := json.Unmarshal(line, &rec); err != nil {
		return ""
	}
	if rec.SessionID != "" {
		return rec.SessionID
	}
	return rec.SessionIDSnake
}
