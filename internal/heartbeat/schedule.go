package heartbeat

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// State is the per-session scheduler memory. It lives for the duration of
// one CLI session; nothing is persisted.
type State struct {
	LastEveryRunAtMs      map[string]int64
	LastAtRunDate         map[string]string
	MissingWorkflowWarned map[string]bool
}

func NewState() *State {
	return &State{
		LastEveryRunAtMs:      make(map[string]int64),
		LastAtRunDate:         make(map[string]string),
		MissingWorkflowWarned: make(map[string]bool),
	}
}

// DueRuns resolves which runs fire at now and marks rate-limited runs as
// fired, so resolving the same tick twice returns them only once. A block
// with no runs but non-empty text yields one plain run (empty Workflow).
func DueRuns(b *Block, st *State, now time.Time) []Run {
	if len(b.Runs) == 0 {
		if b.Text != "" {
			return []Run{{}}
		}
		return nil
	}

	var due []Run
	for _, r := range b.Runs {
		if !dayGateOpen(r.On, now) {
			continue
		}
		switch {
		case r.Always:
			due = append(due, r)
		case r.EveryMinutes > 0:
			last := st.LastEveryRunAtMs[r.Workflow]
			if now.UnixMilli()-last >= int64(r.EveryMinutes)*60_000 {
				st.LastEveryRunAtMs[r.Workflow] = now.UnixMilli()
				due = append(due, r)
			}
		case r.At != "":
			if atDue(r.At, b.IntervalMinutes, now) && st.LastAtRunDate[r.Workflow] != dateKey(now) {
				st.LastAtRunDate[r.Workflow] = dateKey(now)
				due = append(due, r)
			}
		default:
			due = append(due, r)
		}
	}
	return due
}

// atDue reports whether the scheduled wall-clock time falls inside the
// current tick window [at, at+interval).
func atDue(at string, intervalMinutes int, now time.Time) bool {
	parts := strings.SplitN(at, ":", 2)
	hh, _ := strconv.Atoi(parts[0])
	mm, _ := strconv.Atoi(parts[1])
	sched := time.Date(now.Year(), now.Month(), now.Day(), hh, mm, 0, 0, now.Location())
	lag := now.Sub(sched)
	return lag >= 0 && lag < time.Duration(intervalMinutes)*time.Minute
}

// dayGateOpen evaluates the on= attribute against now's weekday. Day sets
// are expanded through a weekly recurrence so aliases and explicit day
// lists take one code path.
func dayGateOpen(on string, now time.Time) bool {
	if on == "" || on == "daily" {
		return true
	}
	days, ok := weekdaySet(on)
	if !ok || len(days) == 0 {
		return true
	}
	rr, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Byweekday: days,
		Dtstart:   startOfDay(now).AddDate(0, 0, -7),
	})
	if err != nil {
		return true
	}
	hits := rr.Between(startOfDay(now), startOfDay(now).Add(24*time.Hour-time.Nanosecond), true)
	return len(hits) > 0
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

var weekdayNames = map[string]rrule.Weekday{
	"mon": rrule.MO, "monday": rrule.MO,
	"tue": rrule.TU, "tues": rrule.TU, "tuesday": rrule.TU,
	"wed": rrule.WE, "wednesday": rrule.WE,
	"thu": rrule.TH, "thur": rrule.TH, "thurs": rrule.TH, "thursday": rrule.TH,
	"fri": rrule.FR, "friday": rrule.FR,
	"sat": rrule.SA, "saturday": rrule.SA,
	"sun": rrule.SU, "sunday": rrule.SU,
}

func weekdaySet(on string) ([]rrule.Weekday, bool) {
	switch on {
	case "weekdays":
		return []rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR}, true
	case "weekends":
		return []rrule.Weekday{rrule.SA, rrule.SU}, true
	}
	var days []rrule.Weekday
	for _, tok := range strings.FieldsFunc(on, func(r rune) bool { return r == ',' || r == ' ' }) {
		day, ok := weekdayNames[strings.ToLower(tok)]
		if !ok {
			return nil, false
		}
		days = append(days, day)
	}
	return days, len(days) > 0
}

// ResolveContext loads a due run's prompt context: the block text joined
// with the workflow file contents. ok is false when the workflow file is
// missing, which is warned about once per session per workflow.
func ResolveContext(cwd string, b *Block, r Run, st *State) (string, bool) {
	if r.Workflow == "" {
		return b.Text, b.Text != ""
	}
	path := r.Workflow
	if !filepath.IsAbs(path) {
		path = filepath.Join(cwd, "workflows", r.Workflow+".md")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !st.MissingWorkflowWarned[r.Workflow] {
			st.MissingWorkflowWarned[r.Workflow] = true
			log.Printf("heartbeat: workflow %q not found at %s", r.Workflow, path)
		}
		return "", false
	}
	contents := strings.TrimSpace(string(data))
	if b.Text == "" {
		return contents, contents != ""
	}
	if contents == "" {
		return b.Text, true
	}
	return b.Text + "\n\n" + contents, true
}

// FormatPrompt renders the prompt injected into the session for a due run.
func FormatPrompt(workflow, context string, now time.Time) string {
	ts := now.Format("Monday, 2006-01-02 15:04 MST")
	if workflow == "" {
		return fmt.Sprintf("❤ Heartbeat. The current time and date is: %s. Follow these instructions now if time and date is relevant:\n\n%s\n\n❤", ts, context)
	}
	return fmt.Sprintf("❤ Heartbeat workflow trigger. The current time and date is: %s.\nWorkflow: %s. Follow these instructions now if time and date is relevant:\n\n%s\n\n❤", ts, workflow, context)
}
