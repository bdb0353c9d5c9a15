package assistant

import (
	"encoding/json"
	"strings"
)

type piBlock struct {
	Type       string          `json:"type"`
	Text       string          `json:"text"`
	Thinking   string          `json:"thinking"`
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
	Input      json.RawMessage `json:"input"`
	ToolCallID string          `json:"toolCallId"`
	Content    json.RawMessage `json:"content"`
	IsError    bool            `json:"isError"`
}

// parsePi handles the message-root dialect: role assistant carries text,
// thinking and toolCall blocks; role toolResult carries one result.
func (p *Parser) parsePi(line []byte) *ParsedMessage {
	var rec struct {
		Role       string            `json:"role"`
		Content    []json.RawMessage `json:"content"`
		ToolCallID string            `json:"toolCallId"`
		Message    struct {
			Role       string            `json:"role"`
			Content    []json.RawMessage `json:"content"`
			ToolCallID string            `json:"toolCallId"`
		} `json:"message"`
	}
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil
	}
	role, content, callID := rec.Role, rec.Content, rec.ToolCallID
	if role == "" {
		role, content, callID = rec.Message.Role, rec.Message.Content, rec.Message.ToolCallID
	}

	switch role {
	case "assistant":
		return p.parsePiAssistant(content)
	case "toolResult":
		return p.parsePiToolResult(content, callID)
	}
	return nil
}

func (p *Parser) parsePiAssistant(content []json.RawMessage) *ParsedMessage {
	msg := &ParsedMessage{}
	var texts, thinkings []string
	for _, raw := range content {
		var b piBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			continue
		}
		switch b.Type {
		case "text":
			if b.Text != "" {
				texts = append(texts, b.Text)
			}
		case "thinking":
			if b.Thinking != "" {
				thinkings = append(thinkings, b.Thinking)
			}
		case "toolCall":
			input := b.Arguments
			if len(input) == 0 {
				input = b.Input
			}
			p.tools.put(b.ID, b.Name, commandOf(input))
			if b.Name == "AskUserQuestion" {
				msg.Questions = append(msg.Questions, parseAskUserQuestions(input)...)
			} else {
				msg.ToolCalls = append(msg.ToolCalls, ToolCall{ID: b.ID, Name: b.Name, Input: input})
			}
		}
	}
	msg.AssistantText = strings.Join(texts, "\n")
	msg.Thinking = strings.Join(thinkings, "\n")
	return msg
}

func (p *Parser) parsePiToolResult(content []json.RawMessage, callID string) *ParsedMessage {
	msg := &ParsedMessage{}
	var texts []string
	isError := false
	for _, raw := range content {
		var b piBlock
		if err := json.Unmarshal(raw, &b); err != nil {
			continue
		}
		if b.ToolCallID != "" && callID == "" {
			callID = b.ToolCallID
		}
		if b.IsError {
			isError = true
		}
		switch {
		case b.Text != "":
			texts = append(texts, b.Text)
		case len(b.Content) > 0:
			if s := flattenContent(b.Content); s != "" {
				texts = append(texts, s)
			}
		}
	}
	text := strings.Join(texts, "\n")
	info, _ := p.tools.get(callID)
	msg.BackgroundJobEvents = backgroundEventsFromResult(text, info.command)
	if forwardToolResult(info.name, text, isError) {
		msg.ToolResults = append(msg.ToolResults, ToolResult{
			ToolUseID: callID,
			Name:      info.name,
			Text:      text,
			IsError:   isError,
		})
	}
	return msg
}
