package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestRootRegistersCommands(t *testing.T) {
	root := NewRootCmd()
	have := make(map[string]bool)
	for _, c := range root.Commands() {
		have[c.Name()] = true
	}
	want := []string{
		"claude", "codex", "pi", "kimi",
		"resume", "send", "ls", "channels",
		"setup", "pair", "config", "doctor", "camp", "version",
		"__daemon__",
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestDaemonCommandHidden(t *testing.T) {
	for _, c := range NewRootCmd().Commands() {
		if c.Name() == "__daemon__" && !c.Hidden {
			t.Error("__daemon__ should be hidden from help output")
		}
	}
}

func TestVersionCommand(t *testing.T) {
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if got := out.String(); !strings.HasPrefix(got, "tg v") {
		t.Errorf("output = %q, want it to start with \"tg v\"", got)
	}
}

func TestUnknownToolIsNotACommand(t *testing.T) {
	root := NewRootCmd()
	root.SetArgs([]string{"cursor"})
	root.SetOut(new(bytes.Buffer))
	root.SetErr(new(bytes.Buffer))
	if err := root.Execute(); err == nil {
		t.Fatal("expected an unknown-command error")
	}
}
