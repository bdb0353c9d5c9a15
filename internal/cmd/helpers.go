package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"touchgrass/internal/remote"
)

// stdinIsTerminal reports whether interactive prompts can be shown.
func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// promptLine prints a prompt and reads one trimmed line from stdin.
func promptLine(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// chatTitle is the display name for a chat; DMs often have no title.
func chatTitle(c remote.ChatSummary) string {
	if c.Title != "" {
		return c.Title
	}
	if c.Type == "private" {
		return "DM"
	}
	return c.ChatID
}

// resolveChatSelector maps a --channel value to a chat ID. Accepted
// forms: "dm" for the owner DM, an exact chat ID, or a case-insensitive
// substring of a group title (which must match exactly one chat).
func resolveChatSelector(chats []remote.ChatSummary, selector string) (string, error) {
	if strings.EqualFold(selector, "dm") {
		for _, c := range chats {
			if c.Type == "private" {
				return c.ChatID, nil
			}
		}
		return "", fmt.Errorf("no DM chat available; pair one with 'tg pair'")
	}
	for _, c := range chats {
		if c.ChatID == selector {
			return c.ChatID, nil
		}
	}
	var matches []remote.ChatSummary
	needle := strings.ToLower(selector)
	for _, c := range chats {
		if strings.Contains(strings.ToLower(c.Title), needle) {
			matches = append(matches, c)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0].ChatID, nil
	case 0:
		return "", fmt.Errorf("no chat matches %q; see 'tg channels'", selector)
	default:
		names := make([]string, len(matches))
		for i, c := range matches {
			names[i] = chatTitle(c)
		}
		return "", fmt.Errorf("%q is ambiguous (%s); use the chat ID", selector, strings.Join(names, ", "))
	}
}

// humanSince renders how long ago t was, coarsely.
func humanSince(t time.Time, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
