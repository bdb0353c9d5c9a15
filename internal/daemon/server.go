package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"touchgrass/internal/assistant"
	"touchgrass/internal/config"
	"touchgrass/internal/manager"
	"touchgrass/internal/remote"
)

// Events is the daemon's outbound surface: everything the control server
// learns from a CLI that should reach chats. Implemented by the command
// router.
type Events interface {
	RemoteRegistered(ctx context.Context, info manager.SessionInfo, reconnect bool)
	RemoteExited(ctx context.Context, info manager.SessionInfo, exitCode int)
	RemoteDisconnected(ctx context.Context, info manager.SessionInfo)
	RemoteToolCall(ctx context.Context, sessionID string, call assistant.ToolCall)
	RemoteToolResult(ctx context.Context, sessionID string, res assistant.ToolResult)
	RemoteAssistant(ctx context.Context, sessionID, text string)
	RemoteThinking(ctx context.Context, sessionID, text string)
	RemoteQuestions(ctx context.Context, sessionID string, qs []assistant.Question)
	RemoteApproval(ctx context.Context, sessionID string, req remote.ApprovalRequest)
	RemoteTyping(ctx context.Context, sessionID string)
	RemoteBackgroundJobs(ctx context.Context, sessionID string, evs []assistant.BackgroundJobEvent)
	SendFile(ctx context.Context, sessionID, path, caption string) error
}

// Server is the daemon's HTTP control surface, reachable over the unix
// socket or localhost TCP.
type Server struct {
	mgr       *manager.Manager
	store     *config.Store
	camp      *Camp
	events    Events
	authToken string
	startedAt time.Time
	shutdown  func()
}

func NewServer(mgr *manager.Manager, store *config.Store, camp *Camp, events Events, authToken string, shutdown func()) *Server {
	return &Server{
		mgr:       mgr,
		store:     store,
		camp:      camp,
		events:    events,
		authToken: authToken,
		startedAt: time.Now(),
		shutdown:  shutdown,
	}
}

// Handler builds the route table behind the auth middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("POST /shutdown", s.handleShutdown)
	mux.HandleFunc("POST /generate-code", s.handleGenerateCode)
	mux.HandleFunc("GET /channels", s.handleChannels)

	mux.HandleFunc("POST /remote/register", s.handleRegister)
	mux.HandleFunc("POST /remote/bind-chat", s.handleBindChat)
	mux.HandleFunc("GET /remote/{id}/input", s.handleInput)
	mux.HandleFunc("POST /remote/{id}/send-input", s.handleSendInput)
	mux.HandleFunc("POST /remote/{id}/send-file", s.handleSendFile)
	mux.HandleFunc("POST /remote/{id}/exit", s.handleExit)
	mux.HandleFunc("GET /remote/{id}/subscribed-groups", s.handleSubscribedGroups)
	mux.HandleFunc("POST /remote/{id}/{event}", s.handleEvent)

	mux.HandleFunc("POST /camp/register", s.handleCampRegister)
	mux.HandleFunc("GET /camp/requests", s.handleCampRequests)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "no such route: %s %s", r.Method, r.URL.Path)
	})

	return s.withAuth(mux)
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tokenEqual(r.Header.Get(remote.AuthHeader), s.authToken) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: encode response: %v", err)
	}
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, remote.OKResponse{OK: true})
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, remote.OKResponse{
		OK:     false,
		Error:  fmt.Sprintf(format, args...),
		Status: status,
	})
}

func readBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body: %v", err)
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, remote.HealthResponse{
		OK:        true,
		PID:       os.Getpid(),
		StartedAt: s.startedAt,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	sessions := s.mgr.ListSessions()
	out := make([]remote.SessionStatus, 0, len(sessions))
	for _, info := range sessions {
		out = append(out, remote.SessionStatus{
			ID:        info.ID,
			Command:   info.Command,
			State:     info.State(now),
			CreatedAt: info.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, remote.StatusResponse{
		OK:       true,
		PID:      os.Getpid(),
		Uptime:   now.Sub(s.startedAt).Round(time.Second).String(),
		Sessions: out,
	})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	writeOK(w)
	// Let the response flush before tearing the listener down.
	go s.shutdown()
}

func (s *Server) handleGenerateCode(w http.ResponseWriter, r *http.Request) {
	var req remote.GenerateCodeRequest
	if r.ContentLength > 0 && !readBody(w, r, &req) {
		return
	}
	name := req.Channel
	if name == "" {
		s.store.View(func(c *config.Config) { name = c.DefaultChannelName() })
	}
	if name == "" {
		writeError(w, http.StatusPreconditionFailed, "no channel configured; run tg setup first")
		return
	}
	code, expires, err := s.store.GeneratePairingCode(name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, remote.GenerateCodeResponse{OK: true, Code: code, ExpiresAt: expires})
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	var chats []remote.ChatSummary
	s.store.View(func(c *config.Config) {
		for _, ch := range c.Channels {
			for _, u := range ch.PairedUsers {
				title := "DM"
				if u.Username != "" {
					title = "@" + u.Username
				}
				chats = append(chats, remote.ChatSummary{ChatID: u.UserID, Title: title, Type: "private"})
			}
			for _, g := range ch.LinkedGroups {
				chats = append(chats, remote.ChatSummary{ChatID: g.ChatID, Title: g.Title, Type: "group"})
			}
		}
	})
	for i := range chats {
		if info, ok := s.mgr.GetAttachedRemote(chats[i].ChatID); ok {
			chats[i].Busy = true
			chats[i].BusyLabel = fmt.Sprintf("%s (%s)", info.Command, info.ID)
		}
	}
	writeJSON(w, http.StatusOK, remote.ChannelsResponse{OK: true, Chats: chats})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req remote.RegisterRequest
	if !readBody(w, r, &req) {
		return
	}
	if req.Command == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	var (
		channelName = req.Channel
		ownerUserID string
		maxSessions int
	)
	s.store.View(func(c *config.Config) {
		if channelName == "" {
			channelName = c.DefaultChannelName()
		}
		ownerUserID = c.FirstPairedUser(channelName)
		maxSessions = c.MaxSessions()
	})
	if ownerUserID == "" {
		writeJSON(w, http.StatusPreconditionFailed, remote.RegisterResponse{
			OK:     false,
			Error:  "no paired user; pair a chat user with tg pair first",
			Status: http.StatusPreconditionFailed,
		})
		return
	}

	_, live := s.mgr.GetRemote(req.ID)
	if !live && s.mgr.Count() >= maxSessions {
		writeJSON(w, http.StatusTooManyRequests, remote.RegisterResponse{
			OK:     false,
			Error:  fmt.Sprintf("session limit reached (%d)", maxSessions),
			Status: http.StatusTooManyRequests,
		})
		return
	}

	// For DMs the chat ID is the paired user's ID.
	info, dmBusy := s.mgr.RegisterRemote(req.Command, ownerUserID, ownerUserID, req.Cwd, req.ID, req.SubscribedGroups)
	reconnect := live && req.ID == info.ID
	if !reconnect {
		s.events.RemoteRegistered(r.Context(), info, req.ID != "" && req.ID == info.ID)
	}
	free, all := s.linkedGroupSummaries(channelName, info.ID)
	writeJSON(w, http.StatusOK, remote.RegisterResponse{
		OK:              true,
		ID:              info.ID,
		ChatID:          info.ChatID,
		DMBusy:          dmBusy,
		LinkedGroups:    free,
		AllLinkedGroups: all,
	})
}

// linkedGroupSummaries lists the channel's linked groups, split into the
// ones free to bind and the full set. A group attached to selfID counts
// as free.
func (s *Server) linkedGroupSummaries(channelName, selfID string) (free, all []remote.ChatSummary) {
	s.store.View(func(c *config.Config) {
		ch := c.Channel(channelName)
		if ch == nil {
			return
		}
		for _, g := range ch.LinkedGroups {
			all = append(all, remote.ChatSummary{ChatID: g.ChatID, Title: g.Title, Type: "group"})
		}
	})
	for i := range all {
		if info, ok := s.mgr.GetAttachedRemote(all[i].ChatID); ok && info.ID != selfID {
			all[i].Busy = true
			all[i].BusyLabel = fmt.Sprintf("%s (%s)", info.Command, info.ID)
			continue
		}
		free = append(free, all[i])
	}
	return free, all
}

func (s *Server) handleBindChat(w http.ResponseWriter, r *http.Request) {
	var req remote.BindChatRequest
	if !readBody(w, r, &req) {
		return
	}
	if !s.mgr.Attach(req.ChatID, req.ID) {
		writeError(w, http.StatusNotFound, "unknown session %s", req.ID)
		return
	}
	writeOK(w)
}

func (s *Server) handleInput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	input, ok := s.mgr.DrainRemoteInput(id)
	if !ok {
		writeJSON(w, http.StatusOK, remote.InputResponse{OK: true, Unknown: true})
		return
	}
	action, _ := s.mgr.DrainRemoteControl(id)
	writeJSON(w, http.StatusOK, remote.InputResponse{OK: true, Input: input, Control: action})
}

func (s *Server) handleSendInput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req remote.SendInputRequest
	if !readBody(w, r, &req) {
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if !s.mgr.EnqueueInput(id, req.Text) {
		writeError(w, http.StatusNotFound, "unknown session %s", id)
		return
	}
	writeOK(w)
}

func (s *Server) handleSendFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req remote.SendFileRequest
	if !readBody(w, r, &req) {
		return
	}
	if _, ok := s.mgr.GetRemote(id); !ok {
		writeError(w, http.StatusNotFound, "unknown session %s", id)
		return
	}
	if err := s.events.SendFile(r.Context(), id, req.Path, req.Caption); err != nil {
		writeError(w, http.StatusInternalServerError, "send file: %v", err)
		return
	}
	writeOK(w)
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req remote.ExitRequest
	if !readBody(w, r, &req) {
		return
	}
	info, ok := s.mgr.GetRemote(id)
	if ok {
		// Notify first: removal detaches the chats the notice goes to.
		s.events.RemoteExited(r.Context(), info, req.ExitCode)
		s.mgr.RemoveRemote(id)
	}
	writeOK(w)
}

func (s *Server) handleSubscribedGroups(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.mgr.GetRemote(id); !ok {
		writeJSON(w, http.StatusOK, remote.InputResponse{OK: true, Unknown: true})
		return
	}
	bound, _ := s.mgr.GetBoundChat(id)
	writeJSON(w, http.StatusOK, remote.GroupsResponse{
		OK:        true,
		ChatIDs:   s.mgr.GetSubscribedGroups(id),
		BoundChat: bound,
	})
}

// handleEvent dispatches the CLI → daemon event routes. Any event also
// counts as a liveness heartbeat.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	event := r.PathValue("event")

	if !s.mgr.Heartbeat(id) {
		writeJSON(w, http.StatusOK, remote.InputResponse{OK: true, Unknown: true})
		return
	}
	ctx := r.Context()

	switch event {
	case "heartbeat":
		// Liveness only, recorded above.
	case "tool-call":
		var call assistant.ToolCall
		if !readBody(w, r, &call) {
			return
		}
		s.events.RemoteToolCall(ctx, id, call)
	case "tool-result":
		var res assistant.ToolResult
		if !readBody(w, r, &res) {
			return
		}
		s.events.RemoteToolResult(ctx, id, res)
	case "assistant":
		var ev remote.TextEvent
		if !readBody(w, r, &ev) {
			return
		}
		s.events.RemoteAssistant(ctx, id, ev.Text)
	case "thinking":
		var ev remote.TextEvent
		if !readBody(w, r, &ev) {
			return
		}
		s.events.RemoteThinking(ctx, id, ev.Text)
	case "question":
		var ev remote.QuestionsEvent
		if !readBody(w, r, &ev) {
			return
		}
		s.events.RemoteQuestions(ctx, id, ev.Questions)
	case "approval-needed":
		var req remote.ApprovalRequest
		if !readBody(w, r, &req) {
			return
		}
		s.events.RemoteApproval(ctx, id, req)
	case "typing":
		s.events.RemoteTyping(ctx, id)
	case "background-job":
		var ev remote.JobsEvent
		if !readBody(w, r, &ev) {
			return
		}
		s.events.RemoteBackgroundJobs(ctx, id, ev.Events)
	default:
		writeError(w, http.StatusNotFound, "no such event: %s", event)
		return
	}
	writeOK(w)
}

func (s *Server) handleCampRegister(w http.ResponseWriter, r *http.Request) {
	var req remote.CampRegisterRequest
	if !readBody(w, r, &req) {
		return
	}
	if req.Root == "" {
		writeError(w, http.StatusBadRequest, "root is required")
		return
	}
	s.camp.Register(req.Root, req.PID)
	log.Printf("server: camp controller registered (root=%s pid=%d)", req.Root, req.PID)
	writeOK(w)
}

func (s *Server) handleCampRequests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, remote.CampRequestsResponse{OK: true, Requests: s.camp.Drain()})
}
