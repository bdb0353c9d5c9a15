package cmd

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"touchgrass/internal/tool"
)

// resumeChoiceCap bounds how many prior sessions the picker offers.
const resumeChoiceCap = 10

type resumeCandidate struct {
	tool    *tool.Tool
	session tool.ResumeSession
}

func newResumeCmd() *cobra.Command {
	var last bool
	var channel string
	cmd := &cobra.Command{
		Use:   "resume [--last] [--channel <chat>]",
		Short: "Resume a previous assistant session in this directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			candidates := listResumeCandidates(cwd, time.Now())
			if len(candidates) == 0 {
				return fmt.Errorf("no previous sessions found in %s", cwd)
			}

			chosen := candidates[0]
			if !last {
				if !stdinIsTerminal() {
					return fmt.Errorf("stdin is not a terminal; use --last")
				}
				chosen, err = pickResumeCandidate(candidates)
				if err != nil {
					return err
				}
			}

			return launch(cmd.Context(), chosen.tool, launchOpts{
				channel:  channel,
				resumeID: chosen.session.ID,
			}, nil)
		},
	}
	cmd.Flags().BoolVar(&last, "last", false, "Resume the most recent session without asking")
	cmd.Flags().StringVar(&channel, "channel", "", "Chat to bind: \"dm\", a chat ID, or a group title")
	return cmd
}

// listResumeCandidates merges every assistant's session files for the
// directory, newest first.
func listResumeCandidates(cwd string, now time.Time) []resumeCandidate {
	var out []resumeCandidate
	for _, name := range tool.Known() {
		t, err := tool.Resolve(name)
		if err != nil {
			continue
		}
		sessions, err := t.ListSessions(cwd, now)
		if err != nil {
			continue
		}
		for _, s := range sessions {
			out = append(out, resumeCandidate{tool: t, session: s})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].session.ModTime.After(out[j].session.ModTime)
	})
	if len(out) > resumeChoiceCap {
		out = out[:resumeChoiceCap]
	}
	return out
}

func pickResumeCandidate(candidates []resumeCandidate) (resumeCandidate, error) {
	fmt.Println("Previous sessions:")
	now := time.Now()
	for i, c := range candidates {
		fmt.Printf("  %d. %s %s (%s)\n",
			i+1, c.tool.Name, dim(c.session.ID), humanSince(c.session.ModTime, now))
	}
	line, err := promptLine(fmt.Sprintf("Choice [1-%d]: ", len(candidates)))
	if err != nil {
		return resumeCandidate{}, err
	}
	n := 0
	if _, err := fmt.Sscanf(line, "%d", &n); err != nil || n < 1 || n > len(candidates) {
		return resumeCandidate{}, fmt.Errorf("invalid choice %q", line)
	}
	return candidates[n-1], nil
}
