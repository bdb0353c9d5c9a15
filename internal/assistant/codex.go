package assistant

import (
	"encoding/json"
	"strings"
)

// parseCodex handles the event_msg/response_item dialect, which nests the
// interesting fields under a payload with its own type discriminator.
func (p *Parser) parseCodex(line []byte) *ParsedMessage {
	var rec struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(line, &rec); err != nil || len(rec.Payload) == 0 {
		return nil
	}

	var payload struct {
		Type      string          `json:"type"`
		Message   string          `json:"message"`
		Text      string          `json:"text"`
		Name      string          `json:"name"`
		Arguments string          `json:"arguments"`
		Input     string          `json:"input"`
		CallID    string          `json:"call_id"`
		Output    json.RawMessage `json:"output"`
	}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return nil
	}

	msg := &ParsedMessage{}
	switch payload.Type {
	case "agent_message":
		msg.AssistantText = payload.Message
	case "agent_reasoning":
		msg.Thinking = payload.Text
	case "function_call", "custom_tool_call":
		args := payload.Arguments
		if args == "" {
			args = payload.Input
		}
		input := rawArguments(args)
		p.tools.put(payload.CallID, payload.Name, codexCommandOf(args))
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:    payload.CallID,
			Name:  payload.Name,
			Input: input,
		})
	case "function_call_output", "custom_tool_call_output":
		text := flattenCodexOutput(payload.Output)
		info, _ := p.tools.get(payload.CallID)
		msg.BackgroundJobEvents = backgroundEventsFromResult(text, info.command)
		if forwardToolResult(info.name, text, false) {
			msg.ToolResults = append(msg.ToolResults, ToolResult{
				ToolUseID: payload.CallID,
				Name:      info.name,
				Text:      text,
			})
		}
	}
	return msg
}

// rawArguments returns the call arguments as JSON when they parse as such;
// otherwise the literal string is preserved as a JSON string value.
func rawArguments(args string) json.RawMessage {
	if args == "" {
		return nil
	}
	trimmed := strings.TrimSpace(args)
	if json.Valid([]byte(trimmed)) {
		return json.RawMessage(trimmed)
	}
	quoted, err := json.Marshal(args)
	if err != nil {
		return nil
	}
	return quoted
}

// codexCommandOf extracts the shell command from exec-style arguments,
// where command is either a string or an argv list.
func codexCommandOf(args string) string {
	if args == "" {
		return ""
	}
	var in struct {
		Command json.RawMessage `json:"command"`
	}
	if err := json.Unmarshal([]byte(args), &in); err != nil || len(in.Command) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(in.Command, &s); err == nil {
		return s
	}
	var argv []string
	if err := json.Unmarshal(in.Command, &argv); err == nil {
		return strings.Join(argv, " ")
	}
	return ""
}

// flattenCodexOutput renders a call output, which arrives as a bare string,
// as a JSON-encoded {output, metadata} envelope, or as a block list.
func flattenCodexOutput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		var envelope struct {
			Output string `json:"output"`
		}
		if err := json.Unmarshal([]byte(s), &envelope); err == nil && envelope.Output != "" {
			return envelope.Output
		}
		return s
	}
	return flattenContent(raw)
}
