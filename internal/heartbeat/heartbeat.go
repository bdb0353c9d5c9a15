// Package heartbeat parses the <agent-heartbeat> block of a project's
// AGENTS.md and decides which workflow prompts are due on each tick.
package heartbeat

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// DefaultIntervalMinutes applies when the block has no interval attribute.
const DefaultIntervalMinutes = 15

// Block is a parsed <agent-heartbeat> element.
type Block struct {
	IntervalMinutes int
	Text            string // free text with run tags and comments removed
	Runs            []Run
}

// Run is one <run workflow="..."/> tag. At most one timing rule applies:
// Always, EveryMinutes, or At; a run with none of them fires every tick.
// On is an optional day-of-week gate layered over the timing rule.
type Run struct {
	Workflow     string
	Always       bool
	EveryMinutes int
	At           string // "HH:MM", 24h local
	On           string // daily | weekdays | weekends | day list
}

var (
	blockRe   = regexp.MustCompile(`(?s)<agent-heartbeat([^>]*)>(.*?)</agent-heartbeat>`)
	commentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
	runTagRe  = regexp.MustCompile(`<run\b([^>]*?)/?>`)
	attrRe    = regexp.MustCompile(`([a-zA-Z_-]+)(?:\s*=\s*"([^"]*)")?`)
	atRe      = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]\d)$`)
)

// LoadBlock reads <cwd>/AGENTS.md and extracts the heartbeat block.
// ok is false when the file or the block is absent.
func LoadBlock(cwd string) (*Block, bool) {
	data, err := os.ReadFile(filepath.Join(cwd, "AGENTS.md"))
	if err != nil {
		return nil, false
	}
	return ParseBlock(string(data))
}

// ParseBlock extracts the first <agent-heartbeat> block from markdown.
func ParseBlock(content string) (*Block, bool) {
	m := blockRe.FindStringSubmatch(content)
	if m == nil {
		return nil, false
	}

	b := &Block{IntervalMinutes: DefaultIntervalMinutes}
	if iv, ok := attrValue(m[1], "interval"); ok {
		if n, err := strconv.Atoi(iv); err == nil && n > 0 {
			b.IntervalMinutes = n
		}
	}

	body := commentRe.ReplaceAllString(m[2], "")
	for _, tag := range runTagRe.FindAllStringSubmatch(body, -1) {
		if run, ok := parseRun(tag[1]); ok {
			b.Runs = append(b.Runs, run)
		}
	}
	b.Text = strings.TrimSpace(runTagRe.ReplaceAllString(body, ""))
	return b, true
}

// Empty reports whether the block would never emit anything: no runs and
// no free text.
func (b *Block) Empty() bool {
	return len(b.Runs) == 0 && b.Text == ""
}

func parseRun(attrs string) (Run, bool) {
	r := Run{}
	for _, m := range attrRe.FindAllStringSubmatch(attrs, -1) {
		key, val := m[1], m[2]
		switch key {
		case "workflow":
			r.Workflow = val
		case "always":
			r.Always = val == "" || isTruthy(val)
		case "every":
			r.EveryMinutes = parseEvery(val)
		case "at":
			if atRe.MatchString(val) {
				r.At = val
			}
		case "on":
			r.On = strings.ToLower(strings.TrimSpace(val))
		}
	}
	if r.Workflow == "" {
		return r, false
	}
	return r, true
}

func isTruthy(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true
	}
	return false
}

// parseEvery accepts "N" (minutes), "Nm", and "Nh". Anything else yields 0,
// which leaves the run on its default always schedule.
func parseEvery(s string) int {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0
	}
	mult := 1
	switch {
	case strings.HasSuffix(s, "h"):
		mult = 60
		s = strings.TrimSuffix(s, "h")
	case strings.HasSuffix(s, "m"):
		s = strings.TrimSuffix(s, "m")
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0
	}
	return n * mult
}

func attrValue(attrs, name string) (string, bool) {
	for _, m := range attrRe.FindAllStringSubmatch(attrs, -1) {
		if m[1] == name {
			return m[2], true
		}
	}
	return "", false
}
