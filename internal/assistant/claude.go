package assistant

import (
	"encoding/json"
	"strings"
)

// forwardableTools lists the tools whose results are interesting enough to
// show in chat unconditionally. Everything else is forwarded only when it
// failed for a reason the user has not already seen.
var forwardableTools = map[string]bool{
	"WebFetch":     true,
	"WebSearch":    true,
	"Bash":         true,
	"bash":         true,
	"exec_command": true,
}

// userRejectionPhrase is the error text a tool result carries when the user
// declined the tool in the terminal. That refusal happened in front of the
// user, so repeating it to chat is noise.
const userRejectionPhrase = "The user doesn't want to proceed with this tool use"

func forwardToolResult(name, text string, isError bool) bool {
	if forwardableTools[name] {
		return true
	}
	return isError && !strings.Contains(text, userRejectionPhrase)
}

type claudeBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// parseClaude handles records with assistant/user roots whose message
// content is a list of typed blocks (text, thinking, tool_use, tool_result).
func (p *Parser) parseClaude(line []byte, rootType string) *ParsedMessage {
	var rec struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil
	}

	var blocks []json.RawMessage
	if err := json.Unmarshal(rec.Message.Content, &blocks); err != nil {
		// String content is the user's own typed text; nothing to forward.
		return nil
	}

	msg := &ParsedMessage{}
	var texts, thinkings []string
	for _, raw := range blocks {
		var b claudeBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			continue
		}
		switch b.Type {
		case "text":
			if rootType == "assistant" && b.Text != "" {
				texts = append(texts, b.Text)
			}
		case "thinking":
			if rootType == "assistant" && b.Thinking != "" {
				thinkings = append(thinkings, b.Thinking)
			}
		case "tool_use":
			p.tools.put(b.ID, b.Name, commandOf(b.Input))
			if b.Name == "AskUserQuestion" {
				msg.Questions = append(msg.Questions, parseAskUserQuestions(b.Input)...)
			} else {
				msg.ToolCalls = append(msg.ToolCalls, ToolCall{ID: b.ID, Name: b.Name, Input: b.Input})
			}
		case "tool_result":
			text := flattenContent(b.Content)
			info, _ := p.tools.get(b.ToolUseID)
			msg.BackgroundJobEvents = append(msg.BackgroundJobEvents,
				backgroundEventsFromResult(text, info.command)...)
			if forwardToolResult(info.name, text, b.IsError) {
				msg.ToolResults = append(msg.ToolResults, ToolResult{
					ToolUseID: b.ToolUseID,
					Name:      info.name,
					Text:      text,
					IsError:   b.IsError,
				})
			}
		}
	}
	msg.AssistantText = strings.Join(texts, "\n")
	msg.Thinking = strings.Join(thinkings, "\n")
	return msg
}

// parseQueueOperation extracts background task notifications that arrive as
// queued operations carrying a <task-notification> fragment.
func (p *Parser) parseQueueOperation(line []byte) *ParsedMessage {
	var rec map[string]any
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil
	}
	fragment := findTaskNotification(rec)
	if fragment == "" {
		return nil
	}
	ev, ok := parseTaskNotification(fragment)
	if !ok {
		return nil
	}
	return &ParsedMessage{BackgroundJobEvents: []BackgroundJobEvent{ev}}
}

// commandOf pulls a shell command out of a tool input, when there is one.
func commandOf(input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}
	var in struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return ""
	}
	return in.Command
}

// flattenContent renders a tool_result content field, which is either a
// bare string or a list of text blocks.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// parseAskUserQuestions decodes the AskUserQuestion tool input. Options are
// accepted both as bare strings and as {label, description} objects.
func parseAskUserQuestions(input json.RawMessage) []Question {
	var in struct {
		Questions []struct {
			Question    string            `json:"question"`
			Header      string            `json:"header"`
			MultiSelect bool              `json:"multiSelect"`
			Options     []json.RawMessage `json:"options"`
		} `json:"questions"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil
	}
	var out []Question
	for _, q := range in.Questions {
		if q.Question == "" {
			continue
		}
		question := Question{
			Text:        q.Question,
			Header:      q.Header,
			MultiSelect: q.MultiSelect,
		}
		for _, rawOpt := range q.Options {
			if label := optionLabel(rawOpt); label != "" {
				question.Options = append(question.Options, label)
			}
		}
		out = append(out, question)
	}
	return out
}

func optionLabel(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Label string `json:"label"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Label
	}
	return ""
}
