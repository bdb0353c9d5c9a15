package remote

import (
	"encoding/json"
	"strings"
)

// ActionType enumerates the control actions a chat can request on a session.
type ActionType string

const (
	ActionStop   ActionType = "stop"
	ActionKill   ActionType = "kill"
	ActionResume ActionType = "resume"
	ActionStart  ActionType = "start"
)

// Action is the single-valued control slot content. Resume carries the
// vendor session reference; Start carries an optional tool and args.
type Action struct {
	Type       ActionType `json:"type"`
	SessionRef string     `json:"sessionRef,omitempty"`
	Tool       string     `json:"tool,omitempty"`
	Args       []string   `json:"args,omitempty"`
}

// unsafeRefChars are rejected in resume references. The reference ends up
// on an argv boundary, but refs are also echoed into shells by users, so
// anything with metacharacter potential is refused outright.
const unsafeRefChars = ";&|`$(){}!#<>\\'\""

// SafeSessionRef reports whether ref is acceptable as a resume target.
func SafeSessionRef(ref string) bool {
	return ref != "" && !strings.ContainsAny(ref, unsafeRefChars)
}

// Merge combines the stored control action with an incoming one. Kill wins
// unconditionally. A non-Stop incoming action replaces the slot. A stored
// non-Stop action survives an incoming Stop. Otherwise Stop stands.
func Merge(current, incoming *Action) *Action {
	if incoming == nil {
		return current
	}
	if incoming.Type == ActionKill || (current != nil && current.Type == ActionKill) {
		return &Action{Type: ActionKill}
	}
	if incoming.Type != ActionStop {
		return incoming
	}
	if current != nil && current.Type != ActionStop {
		return current
	}
	return &Action{Type: ActionStop}
}

// ParseAction decodes a control action from its wire form. Accepted inputs
// are the bare strings "stop" and "kill", and objects
// {type:"resume",sessionRef} / {type:"start",tool?,args?}. Anything else,
// including resume refs with shell metacharacters, yields nil.
func ParseAction(raw []byte) *Action {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "stop":
			return &Action{Type: ActionStop}
		case "kill":
			return &Action{Type: ActionKill}
		}
		return nil
	}

	var a Action
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil
	}
	switch a.Type {
	case ActionStop, ActionKill:
		return &Action{Type: a.Type}
	case ActionResume:
		if !SafeSessionRef(a.SessionRef) {
			return nil
		}
		return &Action{Type: ActionResume, SessionRef: a.SessionRef}
	case ActionStart:
		return &Action{Type: ActionStart, Tool: a.Tool, Args: a.Args}
	}
	return nil
}
