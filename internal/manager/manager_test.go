package manager

import (
	"testing"
	"time"

	"touchgrass/internal/assistant"
	"touchgrass/internal/remote"
)

func register(t *testing.T, m *Manager, chatID, userID string) SessionInfo {
	t.Helper()
	info, dmBusy := m.RegisterRemote("claude", chatID, userID, "/work", "", nil)
	if dmBusy {
		t.Fatalf("unexpected dmBusy for chat %q", chatID)
	}
	return info
}

func TestRegisterAssignsFreshIDs(t *testing.T) {
	m := New()
	a := register(t, m, "chat-1", "u1")
	b := register(t, m, "chat-2", "u1")
	if !remote.ValidSessionID(a.ID) || !remote.ValidSessionID(b.ID) {
		t.Fatalf("invalid session ids %q %q", a.ID, b.ID)
	}
	if a.ID == b.ID {
		t.Fatalf("expected distinct ids, both %q", a.ID)
	}
}

func TestOwnerDMHoldsOneSession(t *testing.T) {
	m := New()
	a := register(t, m, "dm-1", "u1")

	b, dmBusy := m.RegisterRemote("codex", "dm-1", "u1", "/work", "", nil)
	if !dmBusy {
		t.Fatal("expected dmBusy for second session in same DM")
	}
	got, ok := m.GetAttachedRemote("dm-1")
	if !ok || got.ID != a.ID {
		t.Fatalf("DM attachment moved: got %v ok=%v, want %s", got.ID, ok, a.ID)
	}
	// The second session still exists, just unattached.
	if _, ok := m.GetRemote(b.ID); !ok {
		t.Fatal("second session should be registered")
	}
}

func TestAttachMovesSubscription(t *testing.T) {
	m := New()
	a := register(t, m, "dm-1", "u1")
	b := register(t, m, "dm-2", "u1")

	if !m.Attach("group-9", a.ID) {
		t.Fatal("attach to a failed")
	}
	if groups := m.GetSubscribedGroups(a.ID); len(groups) != 1 || groups[0] != "group-9" {
		t.Fatalf("a subscriptions = %v, want [group-9]", groups)
	}

	if !m.Attach("group-9", b.ID) {
		t.Fatal("attach to b failed")
	}
	if groups := m.GetSubscribedGroups(a.ID); len(groups) != 0 {
		t.Fatalf("a should lose the group subscription, still has %v", groups)
	}
	if groups := m.GetSubscribedGroups(b.ID); len(groups) != 1 || groups[0] != "group-9" {
		t.Fatalf("b subscriptions = %v, want [group-9]", groups)
	}
	if got, ok := m.GetAttachedRemote("group-9"); !ok || got.ID != b.ID {
		t.Fatalf("group attached to %v, want %s", got.ID, b.ID)
	}
}

func TestDrainInputTakesAndClears(t *testing.T) {
	m := New()
	s := register(t, m, "dm-1", "u1")
	m.EnqueueInput(s.ID, "first")
	m.EnqueueInput(s.ID, "second")

	got, ok := m.DrainRemoteInput(s.ID)
	if !ok || len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("drain = %v ok=%v", got, ok)
	}
	got, ok = m.DrainRemoteInput(s.ID)
	if !ok || len(got) != 0 {
		t.Fatalf("second drain should be empty, got %v ok=%v", got, ok)
	}
}

func TestDrainUnknownSession(t *testing.T) {
	m := New()
	if _, ok := m.DrainRemoteInput("r-ffffff"); ok {
		t.Fatal("unknown session should report ok=false")
	}
	if _, ok := m.DrainRemoteControl("r-ffffff"); ok {
		t.Fatal("unknown session should report ok=false")
	}
}

func TestControlIndependentOfInput(t *testing.T) {
	m := New()
	s := register(t, m, "dm-1", "u1")
	m.EnqueueInput(s.ID, "keep me")
	m.RequestRemoteStop(s.ID)

	a, ok := m.DrainRemoteControl(s.ID)
	if !ok || a == nil || a.Type != remote.ActionStop {
		t.Fatalf("control drain = %v ok=%v", a, ok)
	}
	if a, _ := m.DrainRemoteControl(s.ID); a != nil {
		t.Fatalf("control slot should be empty, got %v", a)
	}
	got, _ := m.DrainRemoteInput(s.ID)
	if len(got) != 1 || got[0] != "keep me" {
		t.Fatalf("input queue disturbed by control drain: %v", got)
	}
}

func TestStopThenKillCoalesces(t *testing.T) {
	m := New()
	s := register(t, m, "dm-1", "u1")
	m.RequestRemoteStop(s.ID)
	m.RequestRemoteKill(s.ID)

	a, ok := m.DrainRemoteControl(s.ID)
	if !ok || a == nil || a.Type != remote.ActionKill {
		t.Fatalf("drain = %v ok=%v, want kill", a, ok)
	}
}

func TestResumeRejectsUnsafeRef(t *testing.T) {
	m := New()
	s := register(t, m, "dm-1", "u1")
	if m.RequestRemoteResume(s.ID, "abc; rm -rf /") {
		t.Fatal("unsafe ref accepted")
	}
	if !m.RequestRemoteResume(s.ID, "0199a4b2-uuid") {
		t.Fatal("safe ref rejected")
	}
	a, _ := m.DrainRemoteControl(s.ID)
	if a == nil || a.Type != remote.ActionResume || a.SessionRef != "0199a4b2-uuid" {
		t.Fatalf("drain = %+v", a)
	}
}

func TestRemoveRemoteCascades(t *testing.T) {
	m := New()
	s := register(t, m, "dm-1", "u1")
	m.Attach("group-9", s.ID)
	m.PutPicker("poll-1", &Picker{Kind: PickerFile, SessionID: s.ID, ChatID: "dm-1"})
	m.SetPendingFileMentions(s.ID, "dm-1", "u1", []string{"main.go"})

	if !m.RemoveRemote(s.ID) {
		t.Fatal("remove failed")
	}
	if _, ok := m.GetAttachedRemote("dm-1"); ok {
		t.Fatal("DM still attached after remove")
	}
	if _, ok := m.GetAttachedRemote("group-9"); ok {
		t.Fatal("group still attached after remove")
	}
	if _, ok := m.TakePicker("poll-1"); ok {
		t.Fatal("picker survived remove")
	}
	if got := m.TakePendingFileMentions(s.ID, "dm-1", "u1"); len(got) != 0 {
		t.Fatalf("mentions survived remove: %v", got)
	}
	if m.RemoveRemote(s.ID) {
		t.Fatal("second remove should report false")
	}
}

func TestBoundChatPrefersGroup(t *testing.T) {
	m := New()
	s := register(t, m, "dm-1", "u1")
	if chat, ok := m.GetBoundChat(s.ID); !ok || chat != "dm-1" {
		t.Fatalf("bound chat = %q ok=%v, want dm-1", chat, ok)
	}
	m.Attach("group-9", s.ID)
	if chat, ok := m.GetBoundChat(s.ID); !ok || chat != "group-9" {
		t.Fatalf("bound chat = %q ok=%v, want group-9", chat, ok)
	}
	m.Detach("group-9")
	if chat, ok := m.GetBoundChat(s.ID); !ok || chat != "dm-1" {
		t.Fatalf("bound chat after detach = %q ok=%v, want dm-1", chat, ok)
	}
}

func TestReconnectKeepsIDAndGroups(t *testing.T) {
	m := New()
	info, dmBusy := m.RegisterRemote("claude", "dm-1", "u1", "/work", "r-0a1b2c", []string{"group-9"})
	if dmBusy || info.ID != "r-0a1b2c" {
		t.Fatalf("register = %v dmBusy=%v", info.ID, dmBusy)
	}
	if groups := m.GetSubscribedGroups(info.ID); len(groups) != 1 || groups[0] != "group-9" {
		t.Fatalf("groups = %v", groups)
	}

	// Re-register with the same ID while live: idempotent.
	again, _ := m.RegisterRemote("claude", "dm-1", "u1", "/work", "r-0a1b2c", nil)
	if again.ID != info.ID {
		t.Fatalf("reconnect changed id: %s", again.ID)
	}
	if m.Count() != 1 {
		t.Fatalf("count = %d, want 1", m.Count())
	}
}

func TestQuestionCursor(t *testing.T) {
	m := New()
	s := register(t, m, "dm-1", "u1")
	qs := []assistant.Question{
		{Text: "Pick a framework", Options: []string{"gin", "echo"}},
		{Text: "Pick a database", Options: []string{"postgres", "sqlite"}},
	}
	m.SetPendingQuestions(s.ID, qs)

	q, idx, total, ok := m.CurrentQuestion(s.ID)
	if !ok || idx != 0 || total != 2 || q.Text != "Pick a framework" {
		t.Fatalf("current = %+v idx=%d total=%d ok=%v", q, idx, total, ok)
	}
	if !m.AdvanceQuestion(s.ID) {
		t.Fatal("expected a second question")
	}
	q, idx, _, ok = m.CurrentQuestion(s.ID)
	if !ok || idx != 1 || q.Text != "Pick a database" {
		t.Fatalf("current after advance = %+v idx=%d", q, idx)
	}
	if m.AdvanceQuestion(s.ID) {
		t.Fatal("no questions should remain")
	}
	if _, _, _, ok := m.CurrentQuestion(s.ID); ok {
		t.Fatal("cursor should be cleared")
	}
}

func TestPendingMentionsSingleUse(t *testing.T) {
	m := New()
	s := register(t, m, "dm-1", "u1")
	m.SetPendingFileMentions(s.ID, "dm-1", "u1", []string{"a.go", "b.go"})

	got := m.TakePendingFileMentions(s.ID, "dm-1", "u1")
	if len(got) != 2 || got[0] != "a.go" {
		t.Fatalf("take = %v", got)
	}
	if got := m.TakePendingFileMentions(s.ID, "dm-1", "u1"); len(got) != 0 {
		t.Fatalf("mentions should be single-use, got %v", got)
	}
}

func TestPickerTakeConsumes(t *testing.T) {
	m := New()
	s := register(t, m, "dm-1", "u1")
	m.PutPicker("poll-7", &Picker{Kind: PickerResume, SessionID: s.ID, Values: []string{"ref-1"}})

	p, ok := m.TakePicker("poll-7")
	if !ok || p.Kind != PickerResume {
		t.Fatalf("take = %+v ok=%v", p, ok)
	}
	if _, ok := m.TakePicker("poll-7"); ok {
		t.Fatal("picker should be consumed")
	}
}

func TestStaleRemotes(t *testing.T) {
	m := New()
	s := register(t, m, "dm-1", "u1")

	if stale := m.StaleRemotes(time.Hour); len(stale) != 0 {
		t.Fatalf("fresh session listed as stale: %v", stale)
	}
	stale := m.StaleRemotes(-time.Second)
	if len(stale) != 1 || stale[0].ID != s.ID {
		t.Fatalf("stale = %v, want [%s]", stale, s.ID)
	}
	// Listing is read-only; the chat binding must survive it.
	if got, ok := m.GetBoundChat(s.ID); !ok || got != "dm-1" {
		t.Fatalf("bound chat after listing = %q ok=%v", got, ok)
	}
	if m.Count() != 1 {
		t.Fatalf("count after listing = %d", m.Count())
	}
}
