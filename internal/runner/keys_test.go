package runner

import (
	"strings"
	"testing"

	"touchgrass/internal/remote"
)

func TestBracketedPaste(t *testing.T) {
	got := string(bracketedPaste("hello @"))
	want := "\x1b[200~hello @\x1b[201~"
	if got != want {
		t.Errorf("bracketedPaste = %q, want %q", got, want)
	}
}

func joinKeys(keys [][]byte) string {
	var b strings.Builder
	for _, k := range keys {
		b.Write(k)
	}
	return b.String()
}

func TestPollKeystrokes(t *testing.T) {
	down, enter := "\x1b[B", "\r"
	tests := []struct {
		name string
		tok  remote.PollToken
		want string
	}{
		{
			"select first option",
			remote.PollToken{Kind: remote.PollKindSelect, IDs: []int{0}},
			enter,
		},
		{
			"select third option",
			remote.PollToken{Kind: remote.PollKindSelect, IDs: []int{2}},
			down + down + enter,
		},
		{
			"multi select toggles each",
			remote.PollToken{Kind: remote.PollKindSelect, IDs: []int{0, 2}, Multi: true},
			enter + down + down + enter,
		},
		{
			"next from mid list",
			remote.PollToken{Kind: remote.PollKindNext, LastPos: 1, Count: 3},
			down + down + enter,
		},
		{
			"next already past last option",
			remote.PollToken{Kind: remote.PollKindNext, LastPos: 3, Count: 3},
			enter,
		},
		{
			"submit",
			remote.PollToken{Kind: remote.PollKindSubmit},
			enter,
		},
		{
			"other sends nothing",
			remote.PollToken{Kind: remote.PollKindOther},
			"",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joinKeys(pollKeystrokes(tt.tok)); got != tt.want {
				t.Errorf("pollKeystrokes(%+v) = %q, want %q", tt.tok, got, tt.want)
			}
		})
	}
}

func TestPollTokensRoundTrip(t *testing.T) {
	tok, ok := remote.ParsePollToken(remote.PollSelect([]int{1, 3}, true))
	if !ok || tok.Kind != remote.PollKindSelect || !tok.Multi {
		t.Fatalf("parsed token = %+v, ok = %v", tok, ok)
	}
	want := "\x1b[B\r\x1b[B\x1b[B\r"
	if got := joinKeys(pollKeystrokes(tok)); got != want {
		t.Errorf("keystrokes = %q, want %q", got, want)
	}
}
