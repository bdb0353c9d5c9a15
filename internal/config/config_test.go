package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFrom_ValidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	raw := `{
  "channels": {
    "telegram": {
      "type": "telegram",
      "credentials": {"botToken": "123456:ABC-DEF"},
      "pairedUsers": [{"userId": "telegram:789", "pairedAt": "2026-01-02T10:00:00Z"}],
      "linkedGroups": [{"chatId": "telegram:-100555", "title": "infra", "linkedAt": "2026-01-03T10:00:00Z"}]
    }
  },
  "settings": {"outputBatchMinMs": 500, "maxSessions": 3},
  "chatPreferences": {"telegram:789": {"outputMode": "verbose", "thinking": true}}
}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	ch := cfg.Channel("telegram")
	if ch == nil {
		t.Fatal("expected telegram channel")
	}
	if ch.Credentials["botToken"] != "123456:ABC-DEF" {
		t.Errorf("botToken = %q, want %q", ch.Credentials["botToken"], "123456:ABC-DEF")
	}
	if !cfg.IsPaired("telegram:789") {
		t.Error("expected telegram:789 to be paired")
	}
	if !cfg.IsLinkedGroup("telegram:-100555") {
		t.Error("expected telegram:-100555 to be linked")
	}
	if got := cfg.Settings.OutputBatchMinMs; got != 500 {
		t.Errorf("outputBatchMinMs = %d, want 500", got)
	}
	if got := cfg.MaxSessions(); got != 3 {
		t.Errorf("MaxSessions = %d, want 3", got)
	}
	if got := cfg.OutputMode("telegram:789"); got != "verbose" {
		t.Errorf("OutputMode = %q, want verbose", got)
	}
	if !cfg.ThinkingEnabled("telegram:789") {
		t.Error("expected thinking enabled")
	}
}

func TestLoadFrom_MissingFile(t *testing.T) {
	cfg, err := LoadFrom("/nonexistent/path/config.json")
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if cfg.IsPaired("telegram:1") {
		t.Error("empty config should have no paired users")
	}
}

func TestSaveTo_RoundTripAndMode(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := &Config{}
	cfg.PairUser("telegram", "telegram:42", "alice")
	cfg.LinkGroup("telegram", "telegram:-100777", "devs")
	cfg.SetPreference("telegram:42", func(p *ChatPreference) {
		v := true
		p.Muted = &v
	})

	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Errorf("config mode = %o, want 0600", got)
	}

	loaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if !loaded.IsPaired("telegram:42") {
		t.Error("paired user lost in round trip")
	}
	if !loaded.IsLinkedGroup("telegram:-100777") {
		t.Error("linked group lost in round trip")
	}
	if !loaded.Muted("telegram:42") {
		t.Error("muted preference lost in round trip")
	}
}

func TestUnlinkGroup(t *testing.T) {
	cfg := &Config{}
	cfg.LinkGroup("telegram", "telegram:-1", "a")
	cfg.LinkGroup("telegram", "telegram:-2", "b")

	if !cfg.UnlinkGroup("telegram", "telegram:-1") {
		t.Fatal("expected unlink to succeed")
	}
	if cfg.IsLinkedGroup("telegram:-1") {
		t.Error("group still linked after unlink")
	}
	if !cfg.IsLinkedGroup("telegram:-2") {
		t.Error("unlink removed the wrong group")
	}
	if cfg.UnlinkGroup("telegram", "telegram:-1") {
		t.Error("second unlink should report false")
	}
}

func TestPreferenceDefaults(t *testing.T) {
	cfg := &Config{}

	if got := cfg.OutputMode("telegram:9"); got != "compact" {
		t.Errorf("default OutputMode = %q, want compact", got)
	}
	if cfg.ThinkingEnabled("telegram:9") {
		t.Error("thinking should default to off")
	}
	if cfg.Muted("telegram:9") {
		t.Error("muted should default to off")
	}

	cfg.SetPreference("telegram:9", func(p *ChatPreference) { p.OutputMode = "simple" })
	if got := cfg.OutputMode("telegram:9"); got != "compact" {
		t.Errorf("simple alias OutputMode = %q, want compact", got)
	}
}

func TestBatchSettingDefaults(t *testing.T) {
	cfg := &Config{}
	if got := cfg.BatchMinMs(); got != DefaultOutputBatchMinMs {
		t.Errorf("BatchMinMs = %d, want %d", got, DefaultOutputBatchMinMs)
	}
	cfg.Settings.OutputBatchMaxMs = 1234
	if got := cfg.BatchMaxMs(); got != 1234 {
		t.Errorf("BatchMaxMs = %d, want 1234", got)
	}
	if got := cfg.BufferMaxChars(); got != DefaultOutputBufferMaxChars {
		t.Errorf("BufferMaxChars = %d, want %d", got, DefaultOutputBufferMaxChars)
	}
}

func TestDataDirOverride(t *testing.T) {
	t.Setenv("TOUCHGRASS_DATA_DIR", "/tmp/tg-test-data")
	if got := DataDir(); got != "/tmp/tg-test-data" {
		t.Errorf("DataDir = %q, want override", got)
	}
	if got := ManifestPath("r-abc123"); got != filepath.Join("/tmp/tg-test-data", "sessions", "r-abc123.json") {
		t.Errorf("ManifestPath = %q", got)
	}
}
