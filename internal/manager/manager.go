// Package manager owns all daemon-side session state: the session
// registry, chat attachments, group subscriptions, pending questions and
// file mentions, and live picker records. Every map lives behind one
// mutex, held only for the duration of an operation and never across I/O.
package manager

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"touchgrass/internal/assistant"
	"touchgrass/internal/remote"
)

// Session is the daemon's record of one bridged CLI process.
type session struct {
	id              string
	command         string
	cwd             string
	chatID          string // owner DM
	ownerUserID     string
	createdAt       time.Time
	lastHeartbeatAt time.Time

	inputQueue       []queuedInput
	controlAction    *remote.Action
	pendingQuestions []assistant.Question
	questionCursor   int
}

type queuedInput struct {
	id   string
	text string
}

// SessionInfo is the read-only snapshot handed out of the manager.
type SessionInfo struct {
	ID              string
	Command         string
	Cwd             string
	ChatID          string
	OwnerUserID     string
	CreatedAt       time.Time
	LastHeartbeatAt time.Time
}

// State buckets a session by heartbeat freshness.
func (s SessionInfo) State(now time.Time) string {
	age := now.Sub(s.LastHeartbeatAt)
	switch {
	case age < 10*time.Second:
		return "active"
	case age < 30*time.Second:
		return "idle"
	default:
		return "stale"
	}
}

type mentionKey struct {
	sessionID string
	chatID    string
	userID    string
}

type Manager struct {
	mu              sync.Mutex
	sessions        map[string]*session
	attachments     map[string]string          // chatID → sessionID
	subscriptions   map[string]map[string]bool // sessionID → chatIDs
	pickers         map[string]*Picker         // pollID → picker
	pendingMentions map[mentionKey][]string
}

func New() *Manager {
	return &Manager{
		sessions:        make(map[string]*session),
		attachments:     make(map[string]string),
		subscriptions:   make(map[string]map[string]bool),
		pickers:         make(map[string]*Picker),
		pendingMentions: make(map[mentionKey][]string),
	}
}

// RegisterRemote creates (or revives) a session. When existingID names a
// live session the call is an idempotent reconnect. The session is
// attached to the owner DM unless another session already holds it;
// dmBusy reports that case.
func (m *Manager) RegisterRemote(command, chatID, ownerUserID, cwd, existingID string, subscribedGroups []string) (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var s *session
	if existingID != "" && remote.ValidSessionID(existingID) {
		if live, ok := m.sessions[existingID]; ok {
			live.lastHeartbeatAt = time.Now()
			return m.snapshot(live), m.dmBusyLocked(chatID, live.id)
		}
		s = &session{id: existingID}
	} else {
		id := remote.NewSessionID()
		for m.sessions[id] != nil {
			id = remote.NewSessionID()
		}
		s = &session{id: id}
	}

	now := time.Now()
	s.command = command
	s.cwd = cwd
	s.chatID = chatID
	s.ownerUserID = ownerUserID
	s.createdAt = now
	s.lastHeartbeatAt = now
	m.sessions[s.id] = s

	dmBusy := m.dmBusyLocked(chatID, s.id)
	if !dmBusy && chatID != "" {
		m.attachments[chatID] = s.id
	}
	for _, g := range subscribedGroups {
		m.subscribeLocked(s.id, g)
	}
	return m.snapshot(s), dmBusy
}

func (m *Manager) dmBusyLocked(chatID, selfID string) bool {
	if chatID == "" {
		return false
	}
	other, ok := m.attachments[chatID]
	return ok && other != selfID
}

// RemoveRemote drops a session and cascades: bound chats are detached,
// group subscriptions dropped, pickers and pending mentions evicted.
func (m *Manager) RemoveRemote(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	for chat, sid := range m.attachments {
		if sid == id {
			delete(m.attachments, chat)
		}
	}
	delete(m.subscriptions, id)
	for pollID, p := range m.pickers {
		if p.SessionID == id {
			delete(m.pickers, pollID)
		}
	}
	for key := range m.pendingMentions {
		if key.sessionID == id {
			delete(m.pendingMentions, key)
		}
	}
	return true
}

func (m *Manager) GetRemote(id string) (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return SessionInfo{}, false
	}
	return m.snapshot(s), true
}

// GetAttachedRemote returns the session bound to a chat, if any.
func (m *Manager) GetAttachedRemote(chatID string) (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.attachments[chatID]
	if !ok {
		return SessionInfo{}, false
	}
	s, ok := m.sessions[id]
	if !ok {
		return SessionInfo{}, false
	}
	return m.snapshot(s), true
}

// GetBoundChat returns the chat whose replies should reach the session.
// A bound group or topic takes precedence over the owner DM.
func (m *Manager) GetBoundChat(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return "", false
	}
	var bound []string
	for chat, sid := range m.attachments {
		if sid == id {
			bound = append(bound, chat)
		}
	}
	sort.Strings(bound)
	for _, chat := range bound {
		if chat != s.chatID {
			return chat, true
		}
	}
	for _, chat := range bound {
		if chat == s.chatID {
			return chat, true
		}
	}
	return "", false
}

// Attach binds a chat to a session. A chat previously attached elsewhere
// is first removed from that session's subscriptions. Non-owner chats are
// also added to the session's subscription set.
func (m *Manager) Attach(chatID, sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return false
	}
	if prev, ok := m.attachments[chatID]; ok && prev != sessionID {
		if subs := m.subscriptions[prev]; subs != nil {
			delete(subs, chatID)
		}
	}
	m.attachments[chatID] = sessionID
	if chatID != s.chatID {
		m.subscribeLocked(sessionID, chatID)
	}
	return true
}

// Detach unbinds a chat and drops its subscription to the session it was
// bound to.
func (m *Manager) Detach(chatID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.attachments[chatID]
	if !ok {
		return false
	}
	delete(m.attachments, chatID)
	if subs := m.subscriptions[id]; subs != nil {
		delete(subs, chatID)
	}
	return true
}

func (m *Manager) SubscribeGroup(sessionID, chatID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[sessionID]; !ok {
		return false
	}
	m.subscribeLocked(sessionID, chatID)
	return true
}

func (m *Manager) subscribeLocked(sessionID, chatID string) {
	if chatID == "" {
		return
	}
	subs := m.subscriptions[sessionID]
	if subs == nil {
		subs = make(map[string]bool)
		m.subscriptions[sessionID] = subs
	}
	subs[chatID] = true
}

func (m *Manager) UnsubscribeGroup(sessionID, chatID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscriptions[sessionID]
	if subs == nil || !subs[chatID] {
		return false
	}
	delete(subs, chatID)
	return true
}

func (m *Manager) GetSubscribedGroups(sessionID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for chat := range m.subscriptions[sessionID] {
		out = append(out, chat)
	}
	sort.Strings(out)
	return out
}

// UnsubscribeEverywhere removes a chat from every session's subscription
// set and detaches it. Used for dead chats.
func (m *Manager) UnsubscribeEverywhere(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attachments, chatID)
	for _, subs := range m.subscriptions {
		delete(subs, chatID)
	}
}

// CanUserAccessSession gates owner-only operations.
func (m *Manager) CanUserAccessSession(userID, sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return ok && s.ownerUserID == userID
}

// EnqueueInput appends text to the session's input queue.
func (m *Manager) EnqueueInput(id, text string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	s.inputQueue = append(s.inputQueue, queuedInput{id: uuid.New().String(), text: text})
	return true
}

// DrainRemoteInput atomically takes and clears the queued input. ok is
// false for unknown sessions, which the CLI treats as a re-register cue.
func (m *Manager) DrainRemoteInput(id string) ([]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	s.lastHeartbeatAt = time.Now()
	if len(s.inputQueue) == 0 {
		return nil, true
	}
	out := make([]string, len(s.inputQueue))
	for i, q := range s.inputQueue {
		out[i] = q.text
	}
	s.inputQueue = nil
	return out, true
}

// DrainRemoteControl atomically takes and clears the control slot.
// Independent of the input queue.
func (m *Manager) DrainRemoteControl(id string) (*remote.Action, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	a := s.controlAction
	s.controlAction = nil
	return a, true
}

func (m *Manager) requestControl(id string, a *remote.Action) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	s.controlAction = remote.Merge(s.controlAction, a)
	return true
}

func (m *Manager) RequestRemoteStop(id string) bool {
	return m.requestControl(id, &remote.Action{Type: remote.ActionStop})
}

func (m *Manager) RequestRemoteKill(id string) bool {
	return m.requestControl(id, &remote.Action{Type: remote.ActionKill})
}

func (m *Manager) RequestRemoteResume(id, sessionRef string) bool {
	if !remote.SafeSessionRef(sessionRef) {
		return false
	}
	return m.requestControl(id, &remote.Action{Type: remote.ActionResume, SessionRef: sessionRef})
}

func (m *Manager) RequestRemoteStart(id, tool string, args []string) bool {
	return m.requestControl(id, &remote.Action{Type: remote.ActionStart, Tool: tool, Args: args})
}

// Heartbeat refreshes the session's liveness timestamp.
func (m *Manager) Heartbeat(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	s.lastHeartbeatAt = time.Now()
	return true
}

// SetPendingQuestions replaces the session's question list and resets the
// progress cursor.
func (m *Manager) SetPendingQuestions(id string, qs []assistant.Question) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	s.pendingQuestions = qs
	s.questionCursor = 0
	return true
}

// CurrentQuestion returns the question at the progress cursor.
func (m *Manager) CurrentQuestion(id string) (assistant.Question, int, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.questionCursor >= len(s.pendingQuestions) {
		return assistant.Question{}, 0, 0, false
	}
	return s.pendingQuestions[s.questionCursor], s.questionCursor, len(s.pendingQuestions), true
}

// AdvanceQuestion moves the cursor forward; when the last question is
// passed the list is cleared. Returns whether another question remains.
func (m *Manager) AdvanceQuestion(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false
	}
	s.questionCursor++
	if s.questionCursor >= len(s.pendingQuestions) {
		s.pendingQuestions = nil
		s.questionCursor = 0
		return false
	}
	return true
}

// SetPendingFileMentions stores single-use file mentions for the next
// plain message from userID in chatID.
func (m *Manager) SetPendingFileMentions(sessionID, chatID, userID string, mentions []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := mentionKey{sessionID: sessionID, chatID: chatID, userID: userID}
	if len(mentions) == 0 {
		delete(m.pendingMentions, key)
		return
	}
	m.pendingMentions[key] = mentions
}

// TakePendingFileMentions consumes stored mentions.
func (m *Manager) TakePendingFileMentions(sessionID, chatID, userID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := mentionKey{sessionID: sessionID, chatID: chatID, userID: userID}
	out := m.pendingMentions[key]
	delete(m.pendingMentions, key)
	return out
}

// StaleRemotes lists sessions whose heartbeat is older than maxAge. The
// caller notifies their chats first and then removes them; removal here
// would cascade the chat bindings away before anyone could be told.
func (m *Manager) StaleRemotes(maxAge time.Duration) []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	var infos []SessionInfo
	now := time.Now()
	for _, s := range m.sessions {
		if now.Sub(s.lastHeartbeatAt) > maxAge {
			infos = append(infos, m.snapshot(s))
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ListSessions returns all sessions ordered by creation time.
func (m *Manager) ListSessions() []SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, m.snapshot(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *Manager) snapshot(s *session) SessionInfo {
	return SessionInfo{
		ID:              s.id,
		Command:         s.command,
		Cwd:             s.cwd,
		ChatID:          s.chatID,
		OwnerUserID:     s.ownerUserID,
		CreatedAt:       s.createdAt,
		LastHeartbeatAt: s.lastHeartbeatAt,
	}
}
