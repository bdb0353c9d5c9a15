package cmd

import (
	"strings"
	"testing"

	"touchgrass/internal/config"
)

func TestApplySetting(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		check   func(*config.Config) bool
		wantErr string
	}{
		{
			name: "max sessions", key: "maxSessions", value: "5",
			check: func(c *config.Config) bool { return c.Settings.MaxSessions == 5 },
		},
		{
			name: "batch min", key: "outputBatchMinMs", value: "900",
			check: func(c *config.Config) bool { return c.Settings.OutputBatchMinMs == 900 },
		},
		{
			name: "batch max", key: "outputBatchMaxMs", value: "5000",
			check: func(c *config.Config) bool { return c.Settings.OutputBatchMaxMs == 5000 },
		},
		{
			name: "buffer chars", key: "outputBufferMaxChars", value: "2000",
			check: func(c *config.Config) bool { return c.Settings.OutputBufferMaxChars == 2000 },
		},
		{
			name: "default shell", key: "defaultShell", value: "/bin/zsh",
			check: func(c *config.Config) bool { return c.Settings.DefaultShell == "/bin/zsh" },
		},
		{name: "non-numeric int", key: "maxSessions", value: "many", wantErr: "positive integer"},
		{name: "zero rejected", key: "maxSessions", value: "0", wantErr: "positive integer"},
		{name: "negative rejected", key: "outputBatchMinMs", value: "-1", wantErr: "positive integer"},
		{name: "unknown key", key: "colour", value: "blue", wantErr: "unknown setting"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{}
			err := applySetting(cfg, tt.key, tt.value)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want it to contain %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("applySetting: %v", err)
			}
			if !tt.check(cfg) {
				t.Errorf("setting %s=%s not applied: %+v", tt.key, tt.value, cfg.Settings)
			}
		})
	}
}

func TestMaskedConfigHidesCredentials(t *testing.T) {
	cfg := &config.Config{
		Channels: map[string]*config.ChannelConfig{
			"telegram": {
				Type:        "telegram",
				Credentials: map[string]string{botTokenKey: "123456789:AAFakeTokenValue"},
			},
		},
	}

	masked := maskedConfig(cfg)
	got := masked.Channels["telegram"].Credentials[botTokenKey]
	if strings.Contains(got, "FakeToken") {
		t.Errorf("masked credential still contains the secret: %q", got)
	}
	if !strings.HasSuffix(got, "alue") {
		t.Errorf("masked credential should keep the last four characters, got %q", got)
	}

	// The original must not be touched.
	if cfg.Channels["telegram"].Credentials[botTokenKey] != "123456789:AAFakeTokenValue" {
		t.Error("maskedConfig mutated the source config")
	}
}

func TestMaskSecretShortValues(t *testing.T) {
	for _, s := range []string{"", "ab", "abcd"} {
		if got := maskSecret(s); got != "****" {
			t.Errorf("maskSecret(%q) = %q, want ****", s, got)
		}
	}
}
