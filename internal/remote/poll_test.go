package remote

import (
	"reflect"
	"testing"
)

func TestPollTokenRoundTrip(t *testing.T) {
	cases := []struct {
		token string
		want  PollToken
	}{
		{PollSelect([]int{2}, false), PollToken{Kind: PollKindSelect, IDs: []int{2}, Multi: false}},
		{PollSelect([]int{0, 3}, true), PollToken{Kind: PollKindSelect, IDs: []int{0, 3}, Multi: true}},
		{PollNext(3, 5), PollToken{Kind: PollKindNext, LastPos: 3, Count: 5}},
		{PollSubmit, PollToken{Kind: PollKindSubmit}},
		{PollOther, PollToken{Kind: PollKindOther}},
	}
	for _, tc := range cases {
		got, ok := ParsePollToken(tc.token)
		if !ok {
			t.Fatalf("ParsePollToken(%q) not recognized", tc.token)
		}
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("ParsePollToken(%q) = %+v, want %+v", tc.token, got, tc.want)
		}
	}
}

func TestPollTokenLiteralFormat(t *testing.T) {
	if got := PollSelect([]int{1, 3}, true); got != "\x1b[POLL:1,3:true]" {
		t.Errorf("PollSelect = %q", got)
	}
	if got := PollNext(2, 4); got != "\x1b[POLL_NEXT:2:4]" {
		t.Errorf("PollNext = %q", got)
	}
}

func TestPollTokenRejectsText(t *testing.T) {
	for _, s := range []string{
		"hello",
		"POLL:1:false",
		"\x1b[POLL:]",
		"\x1b[POLL::false]",
		"\x1b[POLL:x:false]",
		"\x1b[POLL:1:maybe]",
		"\x1b[POLL_NEXT:1]",
		"\x1b[2J",
		"",
	} {
		if _, ok := ParsePollToken(s); ok {
			t.Errorf("ParsePollToken(%q) unexpectedly recognized", s)
		}
	}
}
