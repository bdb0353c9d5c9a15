package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"touchgrass/internal/assistant"
	"touchgrass/internal/config"
	"touchgrass/internal/manager"
	"touchgrass/internal/remote"
)

// recordingEvents captures the outbound calls the server makes so tests
// can assert on them.
type recordingEvents struct {
	mu           sync.Mutex
	registered   []manager.SessionInfo
	revivals     []bool
	exited       map[string]int
	disconnected []string
	assistantMsg map[string][]string
	toolCalls    []assistant.ToolCall
	sentFiles    []string
}

func (e *recordingEvents) RemoteRegistered(_ context.Context, info manager.SessionInfo, revival bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registered = append(e.registered, info)
	e.revivals = append(e.revivals, revival)
}

func (e *recordingEvents) RemoteExited(_ context.Context, info manager.SessionInfo, exitCode int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.exited == nil {
		e.exited = map[string]int{}
	}
	e.exited[info.ID] = exitCode
}

func (e *recordingEvents) RemoteDisconnected(_ context.Context, info manager.SessionInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnected = append(e.disconnected, info.ID)
}

func (e *recordingEvents) RemoteToolCall(_ context.Context, _ string, call assistant.ToolCall) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toolCalls = append(e.toolCalls, call)
}

func (e *recordingEvents) RemoteToolResult(context.Context, string, assistant.ToolResult) {}

func (e *recordingEvents) RemoteAssistant(_ context.Context, sessionID, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.assistantMsg == nil {
		e.assistantMsg = map[string][]string{}
	}
	e.assistantMsg[sessionID] = append(e.assistantMsg[sessionID], text)
}

func (e *recordingEvents) RemoteThinking(context.Context, string, string)                  {}
func (e *recordingEvents) RemoteQuestions(context.Context, string, []assistant.Question)  {}
func (e *recordingEvents) RemoteApproval(context.Context, string, remote.ApprovalRequest) {}
func (e *recordingEvents) RemoteTyping(context.Context, string)                           {}
func (e *recordingEvents) RemoteBackgroundJobs(context.Context, string, []assistant.BackgroundJobEvent) {
}

func (e *recordingEvents) SendFile(_ context.Context, sessionID, path, caption string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sentFiles = append(e.sentFiles, sessionID+"|"+path+"|"+caption)
	return nil
}

const testToken = "test-token"

func newTestServer(t *testing.T) (*httptest.Server, *manager.Manager, *config.Store, *Camp, *recordingEvents) {
	t.Helper()
	t.Setenv("TOUCHGRASS_DATA_DIR", t.TempDir())
	store, err := config.NewStore(config.ConfigPath())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	mgr := manager.New()
	camp := NewCamp()
	events := &recordingEvents{}
	srv := NewServer(mgr, store, camp, events, testToken, func() {})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, mgr, store, camp, events
}

func pairTestUser(t *testing.T, store *config.Store) {
	t.Helper()
	err := store.Update(func(c *config.Config) error {
		c.EnsureChannel("telegram", "telegram")
		c.PairUser("telegram", "telegram:777", "alice")
		return nil
	})
	if err != nil {
		t.Fatalf("pair user: %v", err)
	}
}

func doReq(t *testing.T, ts *httptest.Server, method, path string, body, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set(remote.AuthHeader, testToken)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s response: %v (body %q)", path, err, data)
		}
	}
	return resp.StatusCode
}

func registerSession(t *testing.T, ts *httptest.Server, command string) remote.RegisterResponse {
	t.Helper()
	var resp remote.RegisterResponse
	req := remote.RegisterRequest{Command: command, Cwd: "/tmp/project", PID: 4321}
	if code := doReq(t, ts, http.MethodPost, "/remote/register", req, &resp); code != http.StatusOK {
		t.Fatalf("register returned status %d", code)
	}
	if !resp.OK || resp.ID == "" {
		t.Fatalf("register response = %+v", resp)
	}
	return resp
}

func TestAuthRequired(t *testing.T) {
	ts, _, _, _, _ := newTestServer(t)

	for _, token := range []string{"", "wrong-token"} {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
		if err != nil {
			t.Fatalf("new request: %v", err)
		}
		if token != "" {
			req.Header.Set(remote.AuthHeader, token)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("do: %v", err)
		}
		var body remote.OKResponse
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.StatusCode != http.StatusUnauthorized || body.OK {
			t.Fatalf("token %q: status %d body %+v, want 401 ok=false", token, resp.StatusCode, body)
		}
	}
}

func TestHealth(t *testing.T) {
	ts, _, _, _, _ := newTestServer(t)

	var resp remote.HealthResponse
	if code := doReq(t, ts, http.MethodGet, "/health", nil, &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !resp.OK || resp.PID != os.Getpid() || resp.StartedAt.IsZero() {
		t.Fatalf("health = %+v", resp)
	}
}

func TestUnknownRouteReturnsJSON(t *testing.T) {
	ts, _, _, _, _ := newTestServer(t)

	var resp remote.OKResponse
	if code := doReq(t, ts, http.MethodGet, "/nope", nil, &resp); code != http.StatusNotFound {
		t.Fatalf("status = %d", code)
	}
	if resp.OK || resp.Error == "" || resp.Status != http.StatusNotFound {
		t.Fatalf("body = %+v", resp)
	}
}

func TestGenerateCode(t *testing.T) {
	ts, _, store, _, _ := newTestServer(t)

	// No channel configured yet.
	var fail remote.OKResponse
	if code := doReq(t, ts, http.MethodPost, "/generate-code", nil, &fail); code != http.StatusPreconditionFailed {
		t.Fatalf("status without channel = %d", code)
	}

	err := store.Update(func(c *config.Config) error {
		c.EnsureChannel("telegram", "telegram")
		return nil
	})
	if err != nil {
		t.Fatalf("configure channel: %v", err)
	}

	var resp remote.GenerateCodeResponse
	if code := doReq(t, ts, http.MethodPost, "/generate-code", nil, &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !resp.OK || resp.Code == "" || !resp.ExpiresAt.After(time.Now()) {
		t.Fatalf("generate-code = %+v", resp)
	}
	if !store.RedeemPairingCode("telegram", resp.Code) {
		t.Fatal("issued code did not redeem")
	}
}

func TestRegisterWithoutPairedUser(t *testing.T) {
	ts, _, _, _, _ := newTestServer(t)

	var resp remote.RegisterResponse
	req := remote.RegisterRequest{Command: "claude", Cwd: "/tmp", PID: 1}
	if code := doReq(t, ts, http.MethodPost, "/remote/register", req, &resp); code != http.StatusPreconditionFailed {
		t.Fatalf("status = %d", code)
	}
	if resp.OK || !strings.Contains(resp.Error, "pair") {
		t.Fatalf("response = %+v", resp)
	}
}

func TestRegisterBindsDM(t *testing.T) {
	ts, mgr, store, _, events := newTestServer(t)
	pairTestUser(t, store)

	first := registerSession(t, ts, "claude")
	if first.ChatID != "telegram:777" {
		t.Fatalf("chat id = %q", first.ChatID)
	}
	if first.DMBusy {
		t.Fatal("first session reported a busy DM")
	}

	second := registerSession(t, ts, "codex")
	if !second.DMBusy {
		t.Fatal("second session should report the DM as busy")
	}
	if mgr.Count() != 2 {
		t.Fatalf("session count = %d", mgr.Count())
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.registered) != 2 {
		t.Fatalf("registered events = %d", len(events.registered))
	}
	if events.revivals[0] || events.revivals[1] {
		t.Fatal("fresh registrations flagged as revivals")
	}
}

func TestRegisterReportsLinkedGroups(t *testing.T) {
	ts, mgr, store, _, _ := newTestServer(t)
	pairTestUser(t, store)
	err := store.Update(func(c *config.Config) error {
		c.LinkGroup("telegram", "telegram:-100", "Dev Chat")
		c.LinkGroup("telegram", "telegram:-200", "Ops")
		return nil
	})
	if err != nil {
		t.Fatalf("link groups: %v", err)
	}

	first := registerSession(t, ts, "claude")
	if len(first.AllLinkedGroups) != 2 || len(first.LinkedGroups) != 2 {
		t.Fatalf("groups = %d free / %d all, want 2/2", len(first.LinkedGroups), len(first.AllLinkedGroups))
	}

	// Bind one group to the first session; a second registration sees it
	// busy and off the free list.
	if !mgr.Attach("telegram:-100", first.ID) {
		t.Fatal("attach failed")
	}
	second := registerSession(t, ts, "codex")
	if len(second.AllLinkedGroups) != 2 {
		t.Fatalf("all groups = %d, want 2", len(second.AllLinkedGroups))
	}
	if len(second.LinkedGroups) != 1 || second.LinkedGroups[0].ChatID != "telegram:-200" {
		t.Fatalf("free groups = %+v, want only telegram:-200", second.LinkedGroups)
	}
	for _, g := range second.AllLinkedGroups {
		if g.ChatID == "telegram:-100" && !g.Busy {
			t.Error("bound group not flagged busy")
		}
	}
}

func TestRegisterReconnectKeepsIDAndSkipsAnnouncement(t *testing.T) {
	ts, _, store, _, events := newTestServer(t)
	pairTestUser(t, store)

	first := registerSession(t, ts, "claude")

	var again remote.RegisterResponse
	req := remote.RegisterRequest{ID: first.ID, Command: "claude", Cwd: "/tmp/project", PID: 4321}
	if code := doReq(t, ts, http.MethodPost, "/remote/register", req, &again); code != http.StatusOK {
		t.Fatalf("reconnect status = %d", code)
	}
	if again.ID != first.ID {
		t.Fatalf("reconnect changed id: %q -> %q", first.ID, again.ID)
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.registered) != 1 {
		t.Fatalf("reconnect produced %d registered events, want 1", len(events.registered))
	}
}

func TestRegisterRevivalAnnouncedAsReconnect(t *testing.T) {
	ts, mgr, store, _, events := newTestServer(t)
	pairTestUser(t, store)

	first := registerSession(t, ts, "claude")
	mgr.RemoveRemote(first.ID)

	var revived remote.RegisterResponse
	req := remote.RegisterRequest{ID: first.ID, Command: "claude", Cwd: "/tmp/project", PID: 4321}
	if code := doReq(t, ts, http.MethodPost, "/remote/register", req, &revived); code != http.StatusOK {
		t.Fatalf("revival status = %d", code)
	}
	if revived.ID != first.ID {
		t.Fatalf("revival changed id: %q -> %q", first.ID, revived.ID)
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.revivals) != 2 || !events.revivals[1] {
		t.Fatalf("revivals = %v, want second true", events.revivals)
	}
}

func TestRegisterSessionLimit(t *testing.T) {
	ts, _, store, _, _ := newTestServer(t)
	pairTestUser(t, store)
	err := store.Update(func(c *config.Config) error {
		c.Settings.MaxSessions = 1
		return nil
	})
	if err != nil {
		t.Fatalf("set limit: %v", err)
	}

	first := registerSession(t, ts, "claude")

	var resp remote.RegisterResponse
	req := remote.RegisterRequest{Command: "codex", Cwd: "/tmp", PID: 2}
	if code := doReq(t, ts, http.MethodPost, "/remote/register", req, &resp); code != http.StatusTooManyRequests {
		t.Fatalf("status = %d", code)
	}
	if resp.OK || !strings.Contains(resp.Error, "limit") {
		t.Fatalf("response = %+v", resp)
	}

	// A live session reconnecting is not a new session.
	req = remote.RegisterRequest{ID: first.ID, Command: "claude", Cwd: "/tmp", PID: 1}
	if code := doReq(t, ts, http.MethodPost, "/remote/register", req, &resp); code != http.StatusOK {
		t.Fatalf("reconnect under limit: status = %d", code)
	}
}

func TestInputRoundTrip(t *testing.T) {
	ts, _, store, _, _ := newTestServer(t)
	pairTestUser(t, store)
	sess := registerSession(t, ts, "claude")

	send := remote.SendInputRequest{Text: "fix the tests"}
	if code := doReq(t, ts, http.MethodPost, "/remote/"+sess.ID+"/send-input", send, nil); code != http.StatusOK {
		t.Fatalf("send-input status = %d", code)
	}

	var in remote.InputResponse
	if code := doReq(t, ts, http.MethodGet, "/remote/"+sess.ID+"/input", nil, &in); code != http.StatusOK {
		t.Fatalf("input status = %d", code)
	}
	if in.Unknown || len(in.Input) != 1 || in.Input[0] != "fix the tests" {
		t.Fatalf("input = %+v", in)
	}

	// A second poll finds the queue empty.
	in = remote.InputResponse{}
	doReq(t, ts, http.MethodGet, "/remote/"+sess.ID+"/input", nil, &in)
	if len(in.Input) != 0 || in.Unknown {
		t.Fatalf("second poll = %+v", in)
	}
}

func TestInputUnknownSession(t *testing.T) {
	ts, _, _, _, _ := newTestServer(t)

	var in remote.InputResponse
	if code := doReq(t, ts, http.MethodGet, "/remote/r-ffffff/input", nil, &in); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !in.OK || !in.Unknown {
		t.Fatalf("response = %+v, want ok with unknown", in)
	}
}

func TestSendInputUnknownSession(t *testing.T) {
	ts, _, _, _, _ := newTestServer(t)

	send := remote.SendInputRequest{Text: "hello"}
	if code := doReq(t, ts, http.MethodPost, "/remote/r-ffffff/send-input", send, nil); code != http.StatusNotFound {
		t.Fatalf("status = %d", code)
	}
}

func TestExitRemovesSession(t *testing.T) {
	ts, mgr, store, _, events := newTestServer(t)
	pairTestUser(t, store)
	sess := registerSession(t, ts, "claude")

	req := remote.ExitRequest{ExitCode: 143}
	if code := doReq(t, ts, http.MethodPost, "/remote/"+sess.ID+"/exit", req, nil); code != http.StatusOK {
		t.Fatalf("exit status = %d", code)
	}
	if mgr.Count() != 0 {
		t.Fatalf("session count after exit = %d", mgr.Count())
	}

	events.mu.Lock()
	code, ok := events.exited[sess.ID]
	events.mu.Unlock()
	if !ok || code != 143 {
		t.Fatalf("exit event = (%d, %v)", code, ok)
	}

	var in remote.InputResponse
	doReq(t, ts, http.MethodGet, "/remote/"+sess.ID+"/input", nil, &in)
	if !in.Unknown {
		t.Fatal("exited session still known to input poll")
	}
}

func TestEventDispatch(t *testing.T) {
	ts, _, store, _, events := newTestServer(t)
	pairTestUser(t, store)
	sess := registerSession(t, ts, "claude")

	ev := remote.TextEvent{Text: "done, pushed the fix"}
	if code := doReq(t, ts, http.MethodPost, "/remote/"+sess.ID+"/assistant", ev, nil); code != http.StatusOK {
		t.Fatalf("assistant event status = %d", code)
	}
	call := assistant.ToolCall{ID: "tool_1", Name: "Bash", Input: json.RawMessage(`{"command":"go test ./..."}`)}
	if code := doReq(t, ts, http.MethodPost, "/remote/"+sess.ID+"/tool-call", call, nil); code != http.StatusOK {
		t.Fatalf("tool-call event status = %d", code)
	}

	events.mu.Lock()
	msgs := events.assistantMsg[sess.ID]
	calls := len(events.toolCalls)
	events.mu.Unlock()
	if len(msgs) != 1 || msgs[0] != "done, pushed the fix" {
		t.Fatalf("assistant msgs = %v", msgs)
	}
	if calls != 1 {
		t.Fatalf("tool calls = %d", calls)
	}
}

func TestEventUnknownSessionShortCircuits(t *testing.T) {
	ts, _, _, _, events := newTestServer(t)

	ev := remote.TextEvent{Text: "ghost"}
	var resp remote.InputResponse
	if code := doReq(t, ts, http.MethodPost, "/remote/r-ffffff/assistant", ev, &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !resp.Unknown {
		t.Fatalf("response = %+v, want unknown", resp)
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	if len(events.assistantMsg) != 0 {
		t.Fatal("event for unknown session was dispatched")
	}
}

func TestEventUnknownKind(t *testing.T) {
	ts, _, store, _, _ := newTestServer(t)
	pairTestUser(t, store)
	sess := registerSession(t, ts, "claude")

	var resp remote.OKResponse
	if code := doReq(t, ts, http.MethodPost, "/remote/"+sess.ID+"/bogus", remote.TextEvent{}, &resp); code != http.StatusNotFound {
		t.Fatalf("status = %d", code)
	}
}

func TestBindChat(t *testing.T) {
	ts, mgr, store, _, _ := newTestServer(t)
	pairTestUser(t, store)
	sess := registerSession(t, ts, "claude")

	req := remote.BindChatRequest{ID: sess.ID, ChatID: "telegram:-100555"}
	if code := doReq(t, ts, http.MethodPost, "/remote/bind-chat", req, nil); code != http.StatusOK {
		t.Fatalf("bind-chat status = %d", code)
	}
	if info, ok := mgr.GetAttachedRemote("telegram:-100555"); !ok || info.ID != sess.ID {
		t.Fatalf("attached = (%+v, %v)", info, ok)
	}

	req.ID = "r-ffffff"
	if code := doReq(t, ts, http.MethodPost, "/remote/bind-chat", req, nil); code != http.StatusNotFound {
		t.Fatalf("bind unknown session status = %d", code)
	}
}

func TestSubscribedGroups(t *testing.T) {
	ts, _, store, _, _ := newTestServer(t)
	pairTestUser(t, store)

	var resp remote.RegisterResponse
	req := remote.RegisterRequest{
		Command:          "claude",
		Cwd:              "/tmp/project",
		PID:              4321,
		SubscribedGroups: []string{"telegram:-100555"},
	}
	if code := doReq(t, ts, http.MethodPost, "/remote/register", req, &resp); code != http.StatusOK {
		t.Fatalf("register status = %d", code)
	}

	var groups remote.GroupsResponse
	if code := doReq(t, ts, http.MethodGet, "/remote/"+resp.ID+"/subscribed-groups", nil, &groups); code != http.StatusOK {
		t.Fatalf("subscribed-groups status = %d", code)
	}
	if len(groups.ChatIDs) != 1 || groups.ChatIDs[0] != "telegram:-100555" {
		t.Fatalf("chat ids = %v", groups.ChatIDs)
	}
	if groups.BoundChat == "" {
		t.Fatal("bound chat missing")
	}
}

func TestSendFileDelegates(t *testing.T) {
	ts, _, store, _, events := newTestServer(t)
	pairTestUser(t, store)
	sess := registerSession(t, ts, "claude")

	req := remote.SendFileRequest{Path: "/tmp/out.pdf", Caption: "the report"}
	if code := doReq(t, ts, http.MethodPost, "/remote/"+sess.ID+"/send-file", req, nil); code != http.StatusOK {
		t.Fatalf("send-file status = %d", code)
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	want := sess.ID + "|/tmp/out.pdf|the report"
	if len(events.sentFiles) != 1 || events.sentFiles[0] != want {
		t.Fatalf("sent files = %v", events.sentFiles)
	}
}

func TestChannelsListsBusyState(t *testing.T) {
	ts, _, store, _, _ := newTestServer(t)
	pairTestUser(t, store)
	err := store.Update(func(c *config.Config) error {
		c.LinkGroup("telegram", "telegram:-100555", "infra crew")
		return nil
	})
	if err != nil {
		t.Fatalf("link group: %v", err)
	}
	sess := registerSession(t, ts, "claude")

	var resp remote.ChannelsResponse
	if code := doReq(t, ts, http.MethodGet, "/channels", nil, &resp); code != http.StatusOK {
		t.Fatalf("channels status = %d", code)
	}
	if len(resp.Chats) != 2 {
		t.Fatalf("chats = %+v", resp.Chats)
	}
	byID := map[string]remote.ChatSummary{}
	for _, chat := range resp.Chats {
		byID[chat.ChatID] = chat
	}
	dm := byID["telegram:777"]
	if dm.Type != "private" || !dm.Busy || !strings.Contains(dm.BusyLabel, sess.ID) {
		t.Fatalf("dm summary = %+v", dm)
	}
	group := byID["telegram:-100555"]
	if group.Type != "group" || group.Busy || group.Title != "infra crew" {
		t.Fatalf("group summary = %+v", group)
	}
}

func TestStatusListsSessions(t *testing.T) {
	ts, _, store, _, _ := newTestServer(t)
	pairTestUser(t, store)
	sess := registerSession(t, ts, "claude")

	var resp remote.StatusResponse
	if code := doReq(t, ts, http.MethodGet, "/status", nil, &resp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(resp.Sessions) != 1 {
		t.Fatalf("sessions = %+v", resp.Sessions)
	}
	got := resp.Sessions[0]
	if got.ID != sess.ID || got.Command != "claude" || got.State != "active" || got.CreatedAt.IsZero() {
		t.Fatalf("session = %+v", got)
	}
}

func TestShutdownInvokesCallback(t *testing.T) {
	t.Setenv("TOUCHGRASS_DATA_DIR", t.TempDir())
	store, err := config.NewStore(config.ConfigPath())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	called := make(chan struct{})
	srv := NewServer(manager.New(), store, NewCamp(), &recordingEvents{}, testToken, func() { close(called) })
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	if code := doReq(t, ts, http.MethodPost, "/shutdown", nil, nil); code != http.StatusOK {
		t.Fatalf("shutdown status = %d", code)
	}
	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown callback not invoked")
	}
}

func TestCampRegisterAndDrain(t *testing.T) {
	ts, _, _, camp, _ := newTestServer(t)

	req := remote.CampRegisterRequest{Root: "/srv/projects", PID: 999}
	if code := doReq(t, ts, http.MethodPost, "/camp/register", req, nil); code != http.StatusOK {
		t.Fatalf("camp register status = %d", code)
	}
	if !camp.Active() {
		t.Fatal("camp inactive after register")
	}

	if _, ok := camp.Submit("telegram:777", "claude", "api"); !ok {
		t.Fatal("submit rejected while camp active")
	}

	var resp remote.CampRequestsResponse
	if code := doReq(t, ts, http.MethodGet, "/camp/requests", nil, &resp); code != http.StatusOK {
		t.Fatalf("camp requests status = %d", code)
	}
	if len(resp.Requests) != 1 || resp.Requests[0].Tool != "claude" || resp.Requests[0].Project != "api" {
		t.Fatalf("requests = %+v", resp.Requests)
	}

	// Drained once; the queue is now empty.
	if code := doReq(t, ts, http.MethodGet, "/camp/requests", nil, &resp); code != http.StatusOK || len(resp.Requests) != 0 {
		t.Fatalf("second drain = %+v", resp.Requests)
	}
}
