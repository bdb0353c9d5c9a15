package assistant

import (
	"fmt"
	"testing"
)

func TestParseClaudeTextAndThinking(t *testing.T) {
	p := NewParser()
	line := `{"type":"assistant","message":{"role":"assistant","content":[{"type":"thinking","thinking":"weighing options"},{"type":"text","text":"Done."}]}}`

	msg, ok := p.Parse([]byte(line))
	if !ok {
		t.Fatal("expected a parsed message")
	}
	if msg.AssistantText != "Done." {
		t.Errorf("assistantText = %q, want %q", msg.AssistantText, "Done.")
	}
	if msg.Thinking != "weighing options" {
		t.Errorf("thinking = %q, want %q", msg.Thinking, "weighing options")
	}
}

func TestParseClaudeToolUse(t *testing.T) {
	p := NewParser()
	line := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"toolu_1","name":"Bash","input":{"command":"ls -la"}}]}}`

	msg, ok := p.Parse([]byte(line))
	if !ok {
		t.Fatal("expected a parsed message")
	}
	if len(msg.ToolCalls) != 1 {
		t.Fatalf("toolCalls = %d, want 1", len(msg.ToolCalls))
	}
	tc := msg.ToolCalls[0]
	if tc.ID != "toolu_1" || tc.Name != "Bash" {
		t.Errorf("toolCall = %+v", tc)
	}
}

func TestParseClaudeAskUserQuestion(t *testing.T) {
	p := NewParser()
	line := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"toolu_2","name":"AskUserQuestion","input":{"questions":[{"question":"Deploy to prod?","header":"Deploy","multiSelect":false,"options":[{"label":"Yes"},{"label":"No"}]}]}}]}}`

	msg, ok := p.Parse([]byte(line))
	if !ok {
		t.Fatal("expected a parsed message")
	}
	if len(msg.ToolCalls) != 0 {
		t.Errorf("AskUserQuestion should not surface as a toolCall, got %+v", msg.ToolCalls)
	}
	if len(msg.Questions) != 1 {
		t.Fatalf("questions = %d, want 1", len(msg.Questions))
	}
	q := msg.Questions[0]
	if q.Text != "Deploy to prod?" || q.Header != "Deploy" || q.MultiSelect {
		t.Errorf("question = %+v", q)
	}
	if len(q.Options) != 2 || q.Options[0] != "Yes" || q.Options[1] != "No" {
		t.Errorf("options = %v", q.Options)
	}
}

func TestToolResultForwarding(t *testing.T) {
	tests := []struct {
		name    string
		use     string
		result  string
		forward bool
	}{
		{
			name:    "allowlisted tool",
			use:     `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls"}}]}}`,
			result:  `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1","content":"file.go"}]}}`,
			forward: true,
		},
		{
			name:    "quiet tool success",
			use:     `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t2","name":"Read","input":{}}]}}`,
			result:  `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t2","content":"package main"}]}}`,
			forward: false,
		},
		{
			name:    "quiet tool error",
			use:     `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t3","name":"Read","input":{}}]}}`,
			result:  `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t3","is_error":true,"content":"no such file"}]}}`,
			forward: true,
		},
		{
			name:    "user rejection stays local",
			use:     `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t4","name":"Edit","input":{}}]}}`,
			result:  `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t4","is_error":true,"content":"The user doesn't want to proceed with this tool use. The tool use was rejected."}]}}`,
			forward: false,
		},
	}
	for _, tt := range tests {
		p := NewParser()
		p.Parse([]byte(tt.use))
		msg, ok := p.Parse([]byte(tt.result))
		got := ok && len(msg.ToolResults) > 0
		if got != tt.forward {
			t.Errorf("%s: forwarded = %v, want %v", tt.name, got, tt.forward)
		}
	}
}

func TestBackgroundJobFromToolResult(t *testing.T) {
	p := NewParser()
	use := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"toolu_123","name":"Bash","input":{"command":"npm run dev","run_in_background":true}}]}}`
	result := `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"toolu_123","content":"Command running in background with ID: bg_abc123. Output is being written to: /tmp/bg_abc123.output\nDetected URLs:\n- http://localhost:5173/"}]}}`

	if _, ok := p.Parse([]byte(use)); !ok {
		t.Fatal("tool_use record should parse")
	}
	msg, ok := p.Parse([]byte(result))
	if !ok {
		t.Fatal("tool_result record should parse")
	}
	if len(msg.BackgroundJobEvents) != 1 {
		t.Fatalf("backgroundJobEvents = %d, want 1", len(msg.BackgroundJobEvents))
	}
	ev := msg.BackgroundJobEvents[0]
	if ev.TaskID != "bg_abc123" {
		t.Errorf("taskId = %q, want bg_abc123", ev.TaskID)
	}
	if ev.Status != "running" {
		t.Errorf("status = %q, want running", ev.Status)
	}
	if ev.Command != "npm run dev" {
		t.Errorf("command = %q, want %q", ev.Command, "npm run dev")
	}
	if ev.OutputFile != "/tmp/bg_abc123.output" {
		t.Errorf("outputFile = %q", ev.OutputFile)
	}
	if len(ev.URLs) != 1 || ev.URLs[0] != "http://localhost:5173/" {
		t.Errorf("urls = %v", ev.URLs)
	}
}

func TestBackgroundJobStop(t *testing.T) {
	p := NewParser()
	use := `{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t9","name":"Bash","input":{"command":"kill task"}}]}}`
	result := `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t9","content":"Successfully stopped task: bg_abc123"}]}}`

	p.Parse([]byte(use))
	msg, ok := p.Parse([]byte(result))
	if !ok {
		t.Fatal("expected parsed message")
	}
	if len(msg.BackgroundJobEvents) != 1 {
		t.Fatalf("backgroundJobEvents = %d, want 1", len(msg.BackgroundJobEvents))
	}
	ev := msg.BackgroundJobEvents[0]
	if ev.TaskID != "bg_abc123" || ev.Status != "killed" {
		t.Errorf("event = %+v", ev)
	}
}

func TestTaskNotificationFragment(t *testing.T) {
	p := NewParser()
	line := `{"type":"queue-operation","operation":"enqueue","content":"<task-notification><task-id>bg_9</task-id><status>completed</status><summary>Build finished at http://localhost:8080/</summary><output-file>/tmp/bg9.out</output-file></task-notification>"}`

	msg, ok := p.Parse([]byte(line))
	if !ok {
		t.Fatal("expected parsed message")
	}
	if len(msg.BackgroundJobEvents) != 1 {
		t.Fatalf("backgroundJobEvents = %d, want 1", len(msg.BackgroundJobEvents))
	}
	ev := msg.BackgroundJobEvents[0]
	if ev.TaskID != "bg_9" || ev.Status != "completed" {
		t.Errorf("event = %+v", ev)
	}
	if ev.Summary != "Build finished at http://localhost:8080/" {
		t.Errorf("summary = %q", ev.Summary)
	}
	if ev.OutputFile != "/tmp/bg9.out" {
		t.Errorf("outputFile = %q", ev.OutputFile)
	}
	if len(ev.URLs) != 1 || ev.URLs[0] != "http://localhost:8080/" {
		t.Errorf("urls = %v", ev.URLs)
	}
}

func TestParsePiAssistant(t *testing.T) {
	p := NewParser()
	line := `{"type":"message","role":"assistant","content":[{"type":"text","text":"hi"},{"type":"toolCall","id":"tc_1","name":"bash","arguments":{"command":"make test"}}]}`

	msg, ok := p.Parse([]byte(line))
	if !ok {
		t.Fatal("expected parsed message")
	}
	if msg.AssistantText != "hi" {
		t.Errorf("assistantText = %q", msg.AssistantText)
	}
	if len(msg.ToolCalls) != 1 || msg.ToolCalls[0].Name != "bash" {
		t.Errorf("toolCalls = %+v", msg.ToolCalls)
	}

	result := `{"type":"message","role":"toolResult","toolCallId":"tc_1","content":[{"type":"text","text":"ok 12 tests"}]}`
	msg, ok = p.Parse([]byte(result))
	if !ok {
		t.Fatal("expected parsed result")
	}
	if len(msg.ToolResults) != 1 {
		t.Fatalf("toolResults = %d, want 1", len(msg.ToolResults))
	}
	tr := msg.ToolResults[0]
	if tr.Name != "bash" || tr.Text != "ok 12 tests" {
		t.Errorf("toolResult = %+v", tr)
	}
}

func TestParseCodexEvents(t *testing.T) {
	p := NewParser()

	msg, ok := p.Parse([]byte(`{"type":"event_msg","payload":{"type":"agent_message","message":"Deployed."}}`))
	if !ok || msg.AssistantText != "Deployed." {
		t.Fatalf("agent_message: ok=%v msg=%+v", ok, msg)
	}

	msg, ok = p.Parse([]byte(`{"type":"event_msg","payload":{"type":"agent_reasoning","text":"checking diff"}}`))
	if !ok || msg.Thinking != "checking diff" {
		t.Fatalf("agent_reasoning: ok=%v msg=%+v", ok, msg)
	}

	call := `{"type":"response_item","payload":{"type":"function_call","name":"exec_command","arguments":"{\"command\":[\"bash\",\"-lc\",\"npm test\"]}","call_id":"call_1"}}`
	msg, ok = p.Parse([]byte(call))
	if !ok || len(msg.ToolCalls) != 1 {
		t.Fatalf("function_call: ok=%v msg=%+v", ok, msg)
	}
	if msg.ToolCalls[0].Name != "exec_command" || msg.ToolCalls[0].ID != "call_1" {
		t.Errorf("toolCall = %+v", msg.ToolCalls[0])
	}

	output := `{"type":"response_item","payload":{"type":"function_call_output","call_id":"call_1","output":"{\"output\":\"412 passing\",\"metadata\":{\"exit_code\":0}}"}}`
	msg, ok = p.Parse([]byte(output))
	if !ok || len(msg.ToolResults) != 1 {
		t.Fatalf("function_call_output: ok=%v msg=%+v", ok, msg)
	}
	tr := msg.ToolResults[0]
	if tr.Name != "exec_command" || tr.Text != "412 passing" {
		t.Errorf("toolResult = %+v", tr)
	}
}

func TestParseSkipsMalformedAndUnknown(t *testing.T) {
	p := NewParser()
	lines := []string{
		"",
		"not json",
		`{"type":"system","subtype":"init"}`,
		`{"type":"user","message":{"content":"typed text"}}`,
		`{"type":"event_msg","payload":{"type":"token_count","info":{"total":12}}}`,
	}
	for _, line := range lines {
		if msg, ok := p.Parse([]byte(line)); ok {
			t.Errorf("Parse(%q) = %+v, want skip", line, msg)
		}
	}
}

func TestParserIsPure(t *testing.T) {
	p := NewParser()
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":"same"}]}}`
	first, ok1 := p.Parse([]byte(line))
	second, ok2 := p.Parse([]byte(line))
	if !ok1 || !ok2 {
		t.Fatal("both parses should succeed")
	}
	if first.AssistantText != second.AssistantText {
		t.Errorf("repeated parse diverged: %q vs %q", first.AssistantText, second.AssistantText)
	}
}

func TestToolNameCacheEviction(t *testing.T) {
	c := newToolNameCache(3)
	for i := 0; i < 4; i++ {
		c.put(fmt.Sprintf("id%d", i), "Bash", "")
	}
	if _, ok := c.get("id0"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.get("id3"); !ok {
		t.Error("newest entry missing")
	}

	// A get refreshes recency.
	c.get("id1")
	c.put("id4", "Bash", "")
	if _, ok := c.get("id1"); !ok {
		t.Error("recently used entry should survive eviction")
	}
	if _, ok := c.get("id2"); ok {
		t.Error("least recently used entry should have been evicted")
	}
}

func TestSessionIDOf(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{`{"type":"system","sessionId":"abc-123"}`, "abc-123"},
		{`{"type":"event_msg","session_id":"0199"}`, "0199"},
		{`{"type":"assistant"}`, ""},
		{`garbage`, ""},
	}
	for _, tt := range tests {
		if got := SessionIDOf([]byte(tt.line)); got != tt.want {
			t.Errorf("SessionIDOf(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}
