package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDataDirIssues(t *testing.T) {
	dir := t.TempDir()
	if err := os.Chmod(dir, 0o700); err != nil {
		t.Fatal(err)
	}
	mustWrite := func(name string, mode os.FileMode) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), mode); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite("config.json", 0o600)
	mustWrite("auth-token", 0o600)

	if issues := dataDirIssues(dir); len(issues) != 0 {
		t.Fatalf("tight modes should pass, got %v", issues)
	}

	if err := os.Chmod(filepath.Join(dir, "auth-token"), 0o644); err != nil {
		t.Fatal(err)
	}
	issues := dataDirIssues(dir)
	if len(issues) != 1 || !strings.Contains(issues[0], "auth-token") {
		t.Errorf("want one auth-token issue, got %v", issues)
	}

	if err := os.Chmod(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	issues = dataDirIssues(dir)
	if len(issues) != 2 {
		t.Errorf("want dir and file issues, got %v", issues)
	}
}

func TestDataDirIssuesMissingDir(t *testing.T) {
	if issues := dataDirIssues(filepath.Join(t.TempDir(), "nope")); issues != nil {
		t.Errorf("missing dir should report nothing, got %v", issues)
	}
}
