package remote

import (
	"fmt"
	"strconv"
	"strings"
)

// Poll control tokens ride the ordinary input queue. They carry the
// ANSI escape prefix so they can never collide with user text, which is
// pasted verbatim. The CLI replays them as picker keystrokes against
// the assistant's in-terminal prompt.
const (
	pollTokenPrefix = "\x1b["

	// PollSubmit presses Enter on the already-focused submit line.
	PollSubmit = "\x1b[POLL_SUBMIT]"
	// PollOther sends no keystrokes; the next plain text input is the
	// free-text answer to the focused option.
	PollOther = "\x1b[POLL_OTHER]"
)

// PollSelect builds the token that steps to each option index in turn
// and presses Enter. Single-select confirms on the first Enter;
// multi-select toggles each option without submitting.
func PollSelect(ids []int, multi bool) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return fmt.Sprintf("\x1b[POLL:%s:%t]", strings.Join(parts, ","), multi)
}

// PollNext builds the token that moves from the last selected option
// down past the remaining count-lastPos options to the next-step
// control and presses Enter.
func PollNext(lastPos, count int) string {
	return fmt.Sprintf("\x1b[POLL_NEXT:%d:%d]", lastPos, count)
}

// PollTokenKind discriminates parsed poll tokens.
type PollTokenKind int

const (
	PollKindSelect PollTokenKind = iota
	PollKindNext
	PollKindSubmit
	PollKindOther
)

// PollToken is one parsed control token from the input queue.
type PollToken struct {
	Kind    PollTokenKind
	IDs     []int
	Multi   bool
	LastPos int
	Count   int
}

// ParsePollToken recognizes poll control tokens. Ordinary text, or a
// malformed token, returns ok=false and must be treated as input.
func ParsePollToken(s string) (PollToken, bool) {
	if !strings.HasPrefix(s, pollTokenPrefix) || !strings.HasSuffix(s, "]") {
		return PollToken{}, false
	}
	body := strings.TrimSuffix(strings.TrimPrefix(s, pollTokenPrefix), "]")
	switch {
	case body == "POLL_SUBMIT":
		return PollToken{Kind: PollKindSubmit}, true
	case body == "POLL_OTHER":
		return PollToken{Kind: PollKindOther}, true
	case strings.HasPrefix(body, "POLL_NEXT:"):
		parts := strings.Split(strings.TrimPrefix(body, "POLL_NEXT:"), ":")
		if len(parts) != 2 {
			return PollToken{}, false
		}
		last, err1 := strconv.Atoi(parts[0])
		count, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil {
			return PollToken{}, false
		}
		return PollToken{Kind: PollKindNext, LastPos: last, Count: count}, true
	case strings.HasPrefix(body, "POLL:"):
		parts := strings.Split(strings.TrimPrefix(body, "POLL:"), ":")
		if len(parts) != 2 {
			return PollToken{}, false
		}
		multi, err := strconv.ParseBool(parts[1])
		if err != nil {
			return PollToken{}, false
		}
		var ids []int
		for _, raw := range strings.Split(parts[0], ",") {
			if raw == "" {
				continue
			}
			id, err := strconv.Atoi(raw)
			if err != nil {
				return PollToken{}, false
			}
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return PollToken{}, false
		}
		return PollToken{Kind: PollKindSelect, IDs: ids, Multi: multi}, true
	}
	return PollToken{}, false
}
