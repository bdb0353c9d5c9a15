package runner

import (
	"time"

	"touchgrass/internal/remote"
)

var (
	keyDown  = []byte("\x1b[B")
	keyEnter = []byte{'\r'}
)

// keyDelay separates replayed keypresses so the assistant's picker
// registers each one on its own read.
var keyDelay = 40 * time.Millisecond

// uploadEnterDelay separates an uploaded-file path from its Enter so
// the assistant has time to load the attachment into context.
var uploadEnterDelay = 1500 * time.Millisecond

const uploadsFragment = "/.touchgrass/uploads/"

// bracketedPaste wraps text so the assistant's TUI takes it as one
// literal paste instead of interpreting shortcut characters like the
// @ mention trigger.
func bracketedPaste(text string) []byte {
	out := make([]byte, 0, len(text)+12)
	out = append(out, "\x1b[200~"...)
	out = append(out, text...)
	out = append(out, "\x1b[201~"...)
	return out
}

// pollKeystrokes renders a poll token into the keypresses replayed
// against the in-terminal picker, in press order. Option ids arrive
// sorted and the cursor starts on the first option; Enter confirms a
// single-select choice and toggles a multi-select one, so both reduce
// to step-down-and-press runs.
func pollKeystrokes(tok remote.PollToken) [][]byte {
	var keys [][]byte
	down := func(n int) {
		for i := 0; i < n; i++ {
			keys = append(keys, keyDown)
		}
	}
	switch tok.Kind {
	case remote.PollKindSelect:
		pos := 0
		for _, id := range tok.IDs {
			if id > pos {
				down(id - pos)
				pos = id
			}
			keys = append(keys, keyEnter)
		}
	case remote.PollKindNext:
		// The next-step control sits one slot past the last option.
		if n := tok.Count - tok.LastPos; n > 0 {
			down(n)
		}
		keys = append(keys, keyEnter)
	case remote.PollKindSubmit:
		keys = append(keys, keyEnter)
	case remote.PollKindOther:
		// No keys; the answer arrives as the next plain text input.
	}
	return keys
}
