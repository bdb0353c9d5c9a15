package tool

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

type logDirStyle int

const (
	// logDirProjectSlug: <home>/.<cmd>/projects/<slug(cwd)>
	logDirProjectSlug logDirStyle = iota
	// logDirDated: <home>/.<cmd>/sessions/YYYY/MM/DD
	logDirDated
	// logDirEncodedCwd: <home>/.<cmd>/agent/sessions/--<encoded-cwd>--
	logDirEncodedCwd
)

// listSessionsCap bounds how many session files a listing returns.
const listSessionsCap = 50

// JSONLDir returns the directory the assistant writes session JSONL
// files into for the given project directory.
func (t *Tool) JSONLDir(cwd string, now time.Time) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	root := filepath.Join(home, "."+t.Command)
	switch t.logDir {
	case logDirDated:
		return filepath.Join(root, "sessions",
			now.Format("2006"), now.Format("01"), now.Format("02")), nil
	case logDirEncodedCwd:
		return filepath.Join(root, "agent", "sessions", encodeCwd(cwd)), nil
	default:
		return filepath.Join(root, "projects", slugPath(cwd)), nil
	}
}

// RolloverAware reports whether the assistant may hand a conversation
// off to a fresh JSONL file mid-session, as claude does when leaving
// plan mode.
func (t *Tool) RolloverAware() bool {
	return t.logDir == logDirProjectSlug
}

// slugPath flattens a filesystem path into a single component the way
// claude names its project dirs: every non-alphanumeric rune becomes a
// dash, so "/tmp/my.proj" is "-tmp-my-proj".
func slugPath(p string) string {
	var b strings.Builder
	b.Grow(len(p))
	for _, r := range p {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

func encodeCwd(p string) string {
	return "--" + strings.Trim(strings.ReplaceAll(p, "/", "-"), "-") + "--"
}

// ResumeSession is one prior session discovered on disk.
type ResumeSession struct {
	ID      string
	Path    string
	ModTime time.Time
}

// ListSessions returns the assistant's session files for the project,
// newest first. Dated layouts scan today and yesterday. A missing
// directory is an empty listing, not an error.
func (t *Tool) ListSessions(cwd string, now time.Time) ([]ResumeSession, error) {
	dirs := make([]string, 0, 2)
	dir, err := t.JSONLDir(cwd, now)
	if err != nil {
		return nil, err
	}
	dirs = append(dirs, dir)
	if t.logDir == logDirDated {
		yesterday, err := t.JSONLDir(cwd, now.AddDate(0, 0, -1))
		if err == nil && yesterday != dir {
			dirs = append(dirs, yesterday)
		}
	}

	var sessions []ResumeSession
	for _, d := range dirs {
		entries, err := os.ReadDir(d)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			path := filepath.Join(d, e.Name())
			sessions = append(sessions, ResumeSession{
				ID:      SessionIDFromPath(path),
				Path:    path,
				ModTime: info.ModTime(),
			})
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ModTime.After(sessions[j].ModTime)
	})
	if len(sessions) > listSessionsCap {
		sessions = sessions[:listSessionsCap]
	}
	return sessions, nil
}

var uuidRe = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// SessionIDFromPath extracts the vendor session id from a JSONL file
// name: the embedded UUID when one is present (codex rollout files),
// otherwise the file stem.
func SessionIDFromPath(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), ".jsonl")
	if id := uuidRe.FindString(stem); id != "" {
		return id
	}
	return stem
}
