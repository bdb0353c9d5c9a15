package manager

import "time"

// Picker kinds. Each live poll in a chat is backed by one Picker record
// keyed by the Telegram poll ID.
const (
	PickerQuestion   = "question"
	PickerApproval   = "approval"
	PickerFile       = "file"
	PickerResume     = "resume"
	PickerOutputMode = "output_mode"
	PickerStartTool  = "start_tool"
)

// Picker captures everything needed to interpret a poll answer later:
// which session and chat it belongs to, the values behind the option
// labels, and paging state for file pickers.
type Picker struct {
	Kind        string
	SessionID   string
	ChatID      string
	OwnerUserID string

	// Options are the labels shown in the poll, Values the underlying
	// payloads (file paths, session refs, tool names) at the same index.
	Options []string
	Values  []string

	// File picker paging and selection state.
	Query            string
	Offset           int
	SelectedMentions []string

	// Question progress, mirrored into the poll question header.
	QuestionIndex  int
	TotalQuestions int
	MultiSelect    bool

	CreatedAt time.Time
}

// PutPicker registers a picker under a poll ID.
func (m *Manager) PutPicker(pollID string, p *Picker) {
	if p == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	m.pickers[pollID] = p
}

// TakePicker consumes the picker for a poll answer. Retracted votes and
// repeat answers find nothing and are ignored.
func (m *Manager) TakePicker(pollID string) (*Picker, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pickers[pollID]
	if ok {
		delete(m.pickers, pollID)
	}
	return p, ok
}

// EvictPickers drops every picker belonging to a session.
func (m *Manager) EvictPickers(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for pollID, p := range m.pickers {
		if p.SessionID == sessionID {
			delete(m.pickers, pollID)
		}
	}
}

// ExpirePickers drops pickers older than maxAge and returns how many went.
func (m *Manager) ExpirePickers(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	n := 0
	for pollID, p := range m.pickers {
		if p.CreatedAt.Before(cutoff) {
			delete(m.pickers, pollID)
			n++
		}
	}
	return n
}
