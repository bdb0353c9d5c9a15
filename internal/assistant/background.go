package assistant

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	bgStartRe    = regexp.MustCompile(`Command running in background with ID:\s*([A-Za-z0-9_-]+)`)
	bgStopRe     = regexp.MustCompile(`Successfully stopped task:\s*([A-Za-z0-9_-]+)`)
	outputFileRe = regexp.MustCompile(`Output is being written to:\s*(\S+)`)
	urlRe        = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	portFlagRe   = regexp.MustCompile(`(?:--port[= ]|-p[= ]|PORT=|localhost:|127\.0\.0\.1:)(\d{2,5})\b`)

	taskIDTagRe     = regexp.MustCompile(`(?s)<task-id>\s*(.*?)\s*</task-id>`)
	statusTagRe     = regexp.MustCompile(`(?s)<status>\s*(.*?)\s*</status>`)
	summaryTagRe    = regexp.MustCompile(`(?s)<summary>\s*(.*?)\s*</summary>`)
	outputFileTagRe = regexp.MustCompile(`(?s)<output-file>\s*(.*?)\s*</output-file>`)
)

// backgroundEventsFromResult scans a tool-result text for the background
// lifecycle phrases. command is the shell command of the originating tool
// use, when known; it labels the started job and seeds URL inference.
func backgroundEventsFromResult(text, command string) []BackgroundJobEvent {
	var events []BackgroundJobEvent

	if m := bgStartRe.FindStringSubmatch(text); m != nil {
		ev := BackgroundJobEvent{
			TaskID:  m[1],
			Status:  "running",
			Command: command,
		}
		if out := outputFileRe.FindStringSubmatch(text); out != nil {
			ev.OutputFile = strings.TrimRight(out[1], ".,;")
		}
		ev.URLs = harvestURLs(text)
		if len(ev.URLs) == 0 {
			ev.URLs = inferPortURLs(command)
		}
		events = append(events, ev)
	}

	if m := bgStopRe.FindStringSubmatch(text); m != nil {
		events = append(events, BackgroundJobEvent{TaskID: m[1], Status: "killed"})
	}

	return events
}

// findTaskNotification walks a decoded JSON value and returns the first
// string containing a <task-notification> fragment. Vendors bury the
// fragment at different depths, so every string field is a candidate.
func findTaskNotification(v any) string {
	switch val := v.(type) {
	case string:
		if strings.Contains(val, "<task-notification>") {
			return val
		}
	case map[string]any:
		for _, child := range val {
			if s := findTaskNotification(child); s != "" {
				return s
			}
		}
	case []any:
		for _, child := range val {
			if s := findTaskNotification(child); s != "" {
				return s
			}
		}
	}
	return ""
}

// parseTaskNotification decodes the XML-ish fragment into an event. A
// missing task id invalidates the fragment; everything else is optional.
func parseTaskNotification(fragment string) (BackgroundJobEvent, bool) {
	ev := BackgroundJobEvent{}
	if m := taskIDTagRe.FindStringSubmatch(fragment); m != nil {
		ev.TaskID = m[1]
	}
	if ev.TaskID == "" {
		return ev, false
	}
	if m := statusTagRe.FindStringSubmatch(fragment); m != nil {
		ev.Status = normalizeJobStatus(m[1])
	}
	if ev.Status == "" {
		ev.Status = "running"
	}
	if m := summaryTagRe.FindStringSubmatch(fragment); m != nil {
		ev.Summary = m[1]
	}
	if m := outputFileTagRe.FindStringSubmatch(fragment); m != nil {
		ev.OutputFile = m[1]
	}
	ev.URLs = harvestURLs(fragment)
	return ev, true
}

func normalizeJobStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "running", "started":
		return "running"
	case "completed", "done", "success":
		return "completed"
	case "failed", "error":
		return "failed"
	case "killed", "stopped", "cancelled", "canceled":
		return "killed"
	}
	return ""
}

func harvestURLs(text string) []string {
	var urls []string
	seen := make(map[string]bool)
	for _, m := range urlRe.FindAllString(text, -1) {
		u := strings.TrimRight(m, ".,;")
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		urls = append(urls, u)
	}
	return urls
}

// inferPortURLs guesses a local URL from a port mentioned in the command
// line, for dev servers that never print their address to the result.
func inferPortURLs(command string) []string {
	m := portFlagRe.FindStringSubmatch(command)
	if m == nil {
		return nil
	}
	port, err := strconv.Atoi(m[1])
	if err != nil || port < 1 || port > 65535 {
		return nil
	}
	return []string{"http://localhost:" + m[1] + "/"}
}
