// Package tool defines the supported coding assistants. Each Tool
// carries the vendor-specific knowledge the rest of the system needs:
// where the assistant writes its JSONL session logs, how its resume
// flags are spelled, what its in-terminal approval prompts look like,
// and how to invoke it for one-shot agent turns.
package tool

import (
	"fmt"
	"strings"
)

// ApprovalPhrase is one prompt/option phrase pair whose joint presence
// in the terminal marks a pending permission prompt.
type ApprovalPhrase struct {
	PromptText string
	OptionText string
}

type resumeStyle int

const (
	// resumeFlag spells resume as "--resume <id>" with "--continue" for
	// the most recent session.
	resumeFlag resumeStyle = iota
	// resumeSubcommand spells resume as the "resume" subcommand with a
	// positional id, "--last" for the most recent session.
	resumeSubcommand
)

// Tool describes one supported assistant CLI.
type Tool struct {
	Name    string
	Command string

	// AgentArgs invoke the assistant as a one-shot subprocess for agent
	// mode, one turn per invocation.
	AgentArgs []string

	// SessionIDFlag pins a caller-chosen vendor session id on the first
	// agent-mode turn. Empty for CLIs that only mint their own ids.
	SessionIDFlag string

	// Approvals are scanned against the ANSI-stripped terminal ring.
	// Empty for assistants without in-terminal permission prompts.
	Approvals []ApprovalPhrase

	resumeStyle resumeStyle
	logDir      logDirStyle
}

var tools = []*Tool{
	{
		Name:          "claude",
		Command:       "claude",
		AgentArgs:     []string{"--print", "--output-format", "stream-json"},
		SessionIDFlag: "--session-id",
		Approvals: []ApprovalPhrase{
			{PromptText: "Do you want to", OptionText: "1. Yes"},
		},
		resumeStyle: resumeFlag,
		logDir:      logDirProjectSlug,
	},
	{
		Name:      "codex",
		Command:   "codex",
		AgentArgs: []string{"exec", "--json"},
		Approvals: []ApprovalPhrase{
			{PromptText: "Would you like to run the following command", OptionText: "1. Yes, proceed"},
		},
		resumeStyle: resumeSubcommand,
		logDir:      logDirDated,
	},
	{
		Name:        "pi",
		Command:     "pi",
		AgentArgs:   []string{"--mode", "rpc"},
		resumeStyle: resumeFlag,
		logDir:      logDirEncodedCwd,
	},
	{
		// Kimi's CLI is claude-compatible: same flags, same JSONL layout
		// under its own home dir.
		Name:          "kimi",
		Command:       "kimi",
		AgentArgs:     []string{"--print", "--output-format", "stream-json"},
		SessionIDFlag: "--session-id",
		Approvals: []ApprovalPhrase{
			{PromptText: "Do you want to", OptionText: "1. Yes"},
		},
		resumeStyle: resumeFlag,
		logDir:      logDirProjectSlug,
	},
}

// Resolve maps a tool name to its definition.
func Resolve(name string) (*Tool, error) {
	for _, t := range tools {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("unknown tool %q (supported: %s)", name, strings.Join(Known(), ", "))
}

// Known lists the supported tool names in registration order.
func Known() []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

// IsKnown reports whether name is a supported tool.
func IsKnown(name string) bool {
	_, err := Resolve(name)
	return err == nil
}

// ResumeSpec is the resume intent carried by a command line: a concrete
// session id, or "whatever ran last", plus the surviving flags.
type ResumeSpec struct {
	ResumeID      string
	UseResumeLast bool
	BaseArgs      []string
}

// ParseResumeArgs splits a vendor command line into its resume intent
// and the remaining args.
func (t *Tool) ParseResumeArgs(args []string) ResumeSpec {
	switch t.resumeStyle {
	case resumeSubcommand:
		return parseResumeSubcommand(args)
	default:
		return parseResumeFlag(args)
	}
}

func parseResumeSubcommand(args []string) ResumeSpec {
	var spec ResumeSpec
	for i, a := range args {
		if a != "resume" {
			continue
		}
		spec.BaseArgs = append(spec.BaseArgs, args[:i]...)
		rest := args[i+1:]
		switch {
		case len(rest) > 0 && rest[0] == "--last":
			spec.UseResumeLast = true
			rest = rest[1:]
		case len(rest) > 0 && !strings.HasPrefix(rest[0], "-"):
			spec.ResumeID = rest[0]
			rest = rest[1:]
		default:
			// Bare "resume" means the most recent session.
			spec.UseResumeLast = true
		}
		spec.BaseArgs = append(spec.BaseArgs, rest...)
		return spec
	}
	spec.BaseArgs = args
	return spec
}

func parseResumeFlag(args []string) ResumeSpec {
	var spec ResumeSpec
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--resume", "-r":
			if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
				spec.ResumeID = args[i+1]
				i++
			} else {
				spec.UseResumeLast = true
			}
		case "--continue", "-c":
			spec.UseResumeLast = true
		default:
			spec.BaseArgs = append(spec.BaseArgs, args[i])
		}
	}
	return spec
}

// AgentTurnArgs returns the continuity args for one agent-mode turn.
// The first turn pins the vendor session id where the CLI accepts one;
// later turns resume it, or the most recent session for CLIs that mint
// their own ids.
func (t *Tool) AgentTurnArgs(sessionID string, first bool) []string {
	if t.SessionIDFlag == "" {
		if first {
			return nil
		}
		return t.BuildResumeArgs(ResumeSpec{})
	}
	if first {
		return []string{t.SessionIDFlag, sessionID}
	}
	return t.BuildResumeArgs(ResumeSpec{ResumeID: sessionID})
}

// BuildResumeArgs renders a resume intent back into vendor args.
func (t *Tool) BuildResumeArgs(spec ResumeSpec) []string {
	args := append([]string(nil), spec.BaseArgs...)
	switch t.resumeStyle {
	case resumeSubcommand:
		args = append(args, "resume")
		if spec.ResumeID != "" {
			args = append(args, spec.ResumeID)
		} else {
			args = append(args, "--last")
		}
	default:
		if spec.ResumeID != "" {
			args = append(args, "--resume", spec.ResumeID)
		} else {
			args = append(args, "--continue")
		}
	}
	return args
}
