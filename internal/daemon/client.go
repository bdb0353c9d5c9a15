package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"touchgrass/internal/assistant"
	"touchgrass/internal/config"
	"touchgrass/internal/remote"
)

// APIError is a non-2xx control server response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon: %s (status %d)", e.Message, e.Status)
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Status == status
}

// Client talks to the daemon's control server over the UNIX socket, or
// over localhost TCP when TOUCHGRASS_TCP is set.
type Client struct {
	http *http.Client
}

// NewClient builds a client. No connection is made until the first call,
// so a client may be constructed before the daemon is up.
func NewClient() *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			if config.UseTCP() {
				port, err := readPortFile()
				if err != nil {
					return nil, err
				}
				return d.DialContext(ctx, "tcp", "127.0.0.1:"+strconv.Itoa(port))
			}
			return d.DialContext(ctx, "unix", config.SocketPath())
		},
	}
	return &Client{
		http: &http.Client{Transport: transport, Timeout: 30 * time.Second},
	}
}

func readPortFile() (int, error) {
	data, err := os.ReadFile(config.PortFile())
	if err != nil {
		return 0, fmt.Errorf("read daemon port: %w", err)
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse daemon port: %w", err)
	}
	return port, nil
}

// do issues one JSON request. A nil body sends an empty POST; a nil out
// discards the response body. The token file is read per call so a
// daemon restart (which mints a fresh token) never strands the client.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := ReadAuthToken()
	if err != nil {
		return fmt.Errorf("daemon auth token: %w", err)
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://daemon"+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set(remote.AuthHeader, token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}

	if resp.StatusCode >= 400 {
		var fail remote.OKResponse
		json.Unmarshal(data, &fail)
		msg := fail.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

func (c *Client) Health(ctx context.Context) (*remote.HealthResponse, error) {
	var resp remote.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Status(ctx context.Context) (*remote.StatusResponse, error) {
	var resp remote.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Shutdown(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/shutdown", nil, nil)
}

func (c *Client) GenerateCode(ctx context.Context, channelName string) (*remote.GenerateCodeResponse, error) {
	var resp remote.GenerateCodeResponse
	req := remote.GenerateCodeRequest{Channel: channelName}
	if err := c.do(ctx, http.MethodPost, "/generate-code", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Channels(ctx context.Context) (*remote.ChannelsResponse, error) {
	var resp remote.ChannelsResponse
	if err := c.do(ctx, http.MethodGet, "/channels", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Register(ctx context.Context, req remote.RegisterRequest) (*remote.RegisterResponse, error) {
	var resp remote.RegisterResponse
	if err := c.do(ctx, http.MethodPost, "/remote/register", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) BindChat(ctx context.Context, sessionID, chatID string) error {
	req := remote.BindChatRequest{ID: sessionID, ChatID: chatID}
	return c.do(ctx, http.MethodPost, "/remote/bind-chat", req, nil)
}

// Input drains queued chat text and the pending control action for a
// session. Unknown set in the response means the daemon no longer knows
// the session and the caller should re-register.
func (c *Client) Input(ctx context.Context, sessionID string) (*remote.InputResponse, error) {
	var resp remote.InputResponse
	if err := c.do(ctx, http.MethodGet, "/remote/"+sessionID+"/input", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) SendInput(ctx context.Context, sessionID, text string) error {
	req := remote.SendInputRequest{Text: text}
	return c.do(ctx, http.MethodPost, "/remote/"+sessionID+"/send-input", req, nil)
}

func (c *Client) SendFile(ctx context.Context, sessionID, path, caption string) error {
	req := remote.SendFileRequest{Path: path, Caption: caption}
	return c.do(ctx, http.MethodPost, "/remote/"+sessionID+"/send-file", req, nil)
}

func (c *Client) Exit(ctx context.Context, sessionID string, exitCode int) error {
	req := remote.ExitRequest{ExitCode: exitCode}
	return c.do(ctx, http.MethodPost, "/remote/"+sessionID+"/exit", req, nil)
}

func (c *Client) SubscribedGroups(ctx context.Context, sessionID string) (*remote.GroupsResponse, error) {
	var resp remote.GroupsResponse
	if err := c.do(ctx, http.MethodGet, "/remote/"+sessionID+"/subscribed-groups", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Heartbeat(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/remote/"+sessionID+"/heartbeat", nil, nil)
}

func (c *Client) ToolCall(ctx context.Context, sessionID string, call assistant.ToolCall) error {
	return c.do(ctx, http.MethodPost, "/remote/"+sessionID+"/tool-call", call, nil)
}

func (c *Client) ToolResult(ctx context.Context, sessionID string, res assistant.ToolResult) error {
	return c.do(ctx, http.MethodPost, "/remote/"+sessionID+"/tool-result", res, nil)
}

func (c *Client) Assistant(ctx context.Context, sessionID, text string) error {
	return c.do(ctx, http.MethodPost, "/remote/"+sessionID+"/assistant", remote.TextEvent{Text: text}, nil)
}

func (c *Client) Thinking(ctx context.Context, sessionID, text string) error {
	return c.do(ctx, http.MethodPost, "/remote/"+sessionID+"/thinking", remote.TextEvent{Text: text}, nil)
}

func (c *Client) Questions(ctx context.Context, sessionID string, questions []assistant.Question) error {
	ev := remote.QuestionsEvent{Questions: questions}
	return c.do(ctx, http.MethodPost, "/remote/"+sessionID+"/question", ev, nil)
}

func (c *Client) ApprovalNeeded(ctx context.Context, sessionID string, req remote.ApprovalRequest) error {
	return c.do(ctx, http.MethodPost, "/remote/"+sessionID+"/approval-needed", req, nil)
}

func (c *Client) Typing(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodPost, "/remote/"+sessionID+"/typing", nil, nil)
}

func (c *Client) BackgroundJobs(ctx context.Context, sessionID string, events []assistant.BackgroundJobEvent) error {
	ev := remote.JobsEvent{Events: events}
	return c.do(ctx, http.MethodPost, "/remote/"+sessionID+"/background-job", ev, nil)
}

func (c *Client) CampRegister(ctx context.Context, root string, pid int) error {
	req := remote.CampRegisterRequest{Root: root, PID: pid}
	return c.do(ctx, http.MethodPost, "/camp/register", req, nil)
}

func (c *Client) CampRequests(ctx context.Context) (*remote.CampRequestsResponse, error) {
	var resp remote.CampRequestsResponse
	if err := c.do(ctx, http.MethodGet, "/camp/requests", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
