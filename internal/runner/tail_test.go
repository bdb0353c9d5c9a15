package runner

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"sync"
	"testing"
	"time"

	"touchgrass/internal/assistant"
	"touchgrass/internal/tool"
)

func assistantLine(session, text string) string {
	return `{"type":"assistant","sessionId":"` + session +
		`","message":{"content":[{"type":"text","text":"` + text + `"}]}}` + "\n"
}

type tailFixture struct {
	tl  *Tail
	dir string

	mu       sync.Mutex
	emitted  []string
	attached []string
}

func newTailFixture(t *testing.T, resume string) *tailFixture {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	ct, err := tool.Resolve("claude")
	if err != nil {
		t.Fatal(err)
	}
	cwd := "/work/demo"
	dir, err := ct.JSONLDir(cwd, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	f := &tailFixture{dir: dir}
	f.tl = newTail(ct, cwd, resume,
		func(m *assistant.ParsedMessage) {
			f.mu.Lock()
			f.emitted = append(f.emitted, m.AssistantText)
			f.mu.Unlock()
		},
		func(path string) {
			f.mu.Lock()
			f.attached = append(f.attached, path)
			f.mu.Unlock()
		})
	f.tl.dir = dir
	return f
}

func (f *tailFixture) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.emitted)
}

func (f *tailFixture) files() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.attached)
}

func appendFile(t *testing.T, path, data string) {
	t.Helper()
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fh.WriteString(data); err != nil {
		t.Fatal(err)
	}
	fh.Close()
}

func TestTailAttachesNewFile(t *testing.T) {
	f := newTailFixture(t, "")
	f.tl.snapshot()
	path := filepath.Join(f.dir, "sess-a.jsonl")
	appendFile(t, path, assistantLine("sess-a", "hello"))
	f.tl.check(path)
	if got := f.files(); len(got) != 1 || got[0] != path {
		t.Fatalf("attached = %v, want [%s]", got, path)
	}
	if got := f.texts(); !reflect.DeepEqual(got, []string{"hello"}) {
		t.Fatalf("emitted = %q", got)
	}

	// A record split across writes is held until its newline arrives.
	full := assistantLine("sess-a", "second")
	appendFile(t, path, full[:20])
	f.tl.check(path)
	if got := f.texts(); len(got) != 1 {
		t.Fatalf("partial record emitted early: %q", got)
	}
	appendFile(t, path, full[20:])
	f.tl.check(path)
	if got := f.texts(); !reflect.DeepEqual(got, []string{"hello", "second"}) {
		t.Fatalf("emitted = %q", got)
	}
}

func TestTailSkipsMalformedLines(t *testing.T) {
	f := newTailFixture(t, "")
	f.tl.snapshot()
	path := filepath.Join(f.dir, "sess-m.jsonl")
	appendFile(t, path, "not json\n\n"+assistantLine("sess-m", "ok"))
	f.tl.check(path)
	if got := f.texts(); !reflect.DeepEqual(got, []string{"ok"}) {
		t.Errorf("emitted = %q, want only the valid record", got)
	}
}

func TestTailSkipsPreexistingUntilGrowth(t *testing.T) {
	f := newTailFixture(t, "")
	path := filepath.Join(f.dir, "old.jsonl")
	appendFile(t, path, assistantLine("old", "history")+assistantLine("old", "more"))
	f.tl.snapshot()

	f.tl.check(path)
	if f.tl.file != "" {
		t.Fatal("tail attached to a file that never grew")
	}
	appendFile(t, path, assistantLine("old", "fresh"))
	f.tl.check(path)
	if got := f.texts(); !reflect.DeepEqual(got, []string{"fresh"}) {
		t.Errorf("emitted = %q, want only the appended record", got)
	}
}

func TestTailFollowsRollover(t *testing.T) {
	f := newTailFixture(t, "")
	f.tl.snapshot()
	a := filepath.Join(f.dir, "sess-a.jsonl")
	appendFile(t, a, assistantLine("sess-a", "before"))
	f.tl.check(a)

	unrelated := filepath.Join(f.dir, "sess-c.jsonl")
	appendFile(t, unrelated, assistantLine("sess-c", "noise"))
	f.tl.check(unrelated)
	if f.tl.file != a {
		t.Fatal("tail jumped to an unrelated session")
	}

	b := filepath.Join(f.dir, "sess-b.jsonl")
	appendFile(t, b,
		`{"type":"user","sessionId":"sess-b","message":{"content":"handed off from sess-a"}}`+"\n"+
			assistantLine("sess-b", "after"))
	f.tl.check(b)
	if f.tl.file != b {
		t.Fatalf("tail file = %s, want %s", f.tl.file, b)
	}
	if got := f.texts(); !reflect.DeepEqual(got, []string{"before", "after"}) {
		t.Errorf("emitted = %q, want %q", got, []string{"before", "after"})
	}
}

func TestTailRestartsOnTruncatedFile(t *testing.T) {
	f := newTailFixture(t, "")
	f.tl.snapshot()
	path := filepath.Join(f.dir, "sess-t.jsonl")
	appendFile(t, path, assistantLine("sess-t", "a long opening record"))
	f.tl.check(path)

	if err := os.WriteFile(path, []byte(assistantLine("sess-t", "rewritten")), 0o644); err != nil {
		t.Fatal(err)
	}
	f.tl.check(path)
	want := []string{"a long opening record", "rewritten"}
	if got := f.texts(); !reflect.DeepEqual(got, want) {
		t.Errorf("emitted = %q, want %q", got, want)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTailResumeFollowsFromEnd(t *testing.T) {
	f := newTailFixture(t, "sess-r")
	path := filepath.Join(f.dir, "sess-r.jsonl")
	appendFile(t, path, assistantLine("sess-r", "history"))

	old := tailPollInterval
	tailPollInterval = 10 * time.Millisecond
	defer func() { tailPollInterval = old }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.tl.Run(ctx)
		close(done)
	}()

	waitFor(t, "resume attach", func() bool {
		got := f.files()
		return len(got) == 1 && got[0] == path
	})
	appendFile(t, path, assistantLine("sess-r", "new turn"))
	waitFor(t, "appended record", func() bool {
		return reflect.DeepEqual(f.texts(), []string{"new turn"})
	})

	cancel()
	<-done
}
