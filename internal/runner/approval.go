package runner

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"touchgrass/internal/remote"
	"touchgrass/internal/tool"
)

// approvalNotifyDelay holds the notification back so the tool-call
// event that triggered the prompt reaches the daemon first.
var approvalNotifyDelay = time.Second

// approvalScanInterval paces the ring scans.
var approvalScanInterval = 250 * time.Millisecond

// approvalAttribution names the tools whose latest call may be reported
// as the subject of an approval prompt.
var approvalAttribution = map[string]bool{
	"Bash":         true,
	"Edit":         true,
	"Write":        true,
	"NotebookEdit": true,
}

// approvalScanner detects a vendor's in-terminal permission prompt in
// the stripped output tail. One scanner per child launch; it is only
// touched from the scan goroutine.
type approvalScanner struct {
	phrases    []tool.ApprovalPhrase
	lastPrompt string
}

func newApprovalScanner(phrases []tool.ApprovalPhrase) *approvalScanner {
	return &approvalScanner{phrases: phrases}
}

// scan reports a prompt visible in tail that has not been notified yet.
// A hit marks the prompt as notified, so the same prompt text is
// reported once no matter how often the screen repaints it.
func (s *approvalScanner) scan(tail string) (remote.ApprovalRequest, bool) {
	for _, p := range s.phrases {
		if !strings.Contains(tail, p.PromptText) || !strings.Contains(tail, p.OptionText) {
			continue
		}
		prompt, end, ok := promptSentence(tail, p.PromptText)
		if !ok || prompt == s.lastPrompt {
			continue
		}
		s.lastPrompt = prompt
		return remote.ApprovalRequest{
			PromptText:  prompt,
			PollOptions: parsePollOptions(tail[end:]),
		}, true
	}
	return remote.ApprovalRequest{}, false
}

// promptSentence extracts the sentence around the newest occurrence of
// phrase: through the next question mark, or to the line end when the
// prompt carries none. end is the raw tail offset just past it.
func promptSentence(tail, phrase string) (prompt string, end int, ok bool) {
	i := strings.LastIndex(tail, phrase)
	if i < 0 {
		return "", 0, false
	}
	rest := tail[i:]
	if q := strings.IndexByte(rest, '?'); q >= 0 {
		rest = rest[:q+1]
	} else if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[:nl]
	}
	prompt = collapseSpace(rest)
	if prompt == "" {
		return "", 0, false
	}
	return prompt, i + len(rest), true
}

// parsePollOptions reads the numbered choices rendered after a prompt.
// The trailing option runs to its line end; every option is cleaned of
// keyboard hints so it reads well as a chat poll answer.
func parsePollOptions(region string) []string {
	var opts []string
	pos := 0
	for n := 1; n <= 8; n++ {
		marker := strconv.Itoa(n) + ". "
		i := strings.Index(region[pos:], marker)
		if i < 0 {
			break
		}
		start := pos + i + len(marker)
		text := region[start:]
		if j := strings.Index(text, strconv.Itoa(n+1)+". "); j >= 0 {
			text = text[:j]
			pos = start + j
		} else {
			if nl := strings.IndexByte(text, '\n'); nl >= 0 {
				text = text[:nl]
			}
			pos = len(region)
		}
		if opt := stripKeyHints(collapseSpace(text)); opt != "" {
			opts = append(opts, opt)
		}
	}
	return opts
}

// collapseSpace flattens the whitespace a wrapped TUI render leaves
// behind and drops selection pointer glyphs.
func collapseSpace(s string) string {
	fields := strings.Fields(s)
	kept := fields[:0]
	for _, f := range fields {
		switch f {
		case "❯", "›", ">":
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// keyHintRe matches the trailing keyboard hints vendors append to their
// choice labels: a parenthetical like "(esc)", or a comma clause that
// starts with a key name like ", Esc to cancel".
var keyHintRe = regexp.MustCompile(`(?i)\s*(\([^()]*\)|,\s*(esc|tab|enter|shift\+\S+|ctrl\+\S+)\b[^,]*)$`)

func stripKeyHints(s string) string {
	for {
		t := keyHintRe.ReplaceAllString(s, "")
		if t == s {
			return strings.TrimSpace(s)
		}
		s = t
	}
}
