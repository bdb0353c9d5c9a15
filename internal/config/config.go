package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the persisted touchgrass configuration (~/.touchgrass/config.json).
// User and chat IDs are namespaced strings: <channel>:<native-id>[:<thread>].
type Config struct {
	Channels        map[string]*ChannelConfig  `json:"channels,omitempty"`
	Settings        Settings                   `json:"settings"`
	ChatPreferences map[string]*ChatPreference `json:"chatPreferences,omitempty"`
}

type ChannelConfig struct {
	Type         string            `json:"type"`
	Credentials  map[string]string `json:"credentials,omitempty"`
	PairedUsers  []PairedUser      `json:"pairedUsers,omitempty"`
	LinkedGroups []LinkedGroup     `json:"linkedGroups,omitempty"`
}

type PairedUser struct {
	UserID   string    `json:"userId"`
	PairedAt time.Time `json:"pairedAt"`
	Username string    `json:"username,omitempty"`
}

type LinkedGroup struct {
	ChatID   string    `json:"chatId"`
	Title    string    `json:"title,omitempty"`
	LinkedAt time.Time `json:"linkedAt"`
}

type Settings struct {
	OutputBatchMinMs     int    `json:"outputBatchMinMs,omitempty"`
	OutputBatchMaxMs     int    `json:"outputBatchMaxMs,omitempty"`
	OutputBufferMaxChars int    `json:"outputBufferMaxChars,omitempty"`
	MaxSessions          int    `json:"maxSessions,omitempty"`
	DefaultShell         string `json:"defaultShell,omitempty"`
}

// ChatPreference holds per-chat display settings. Defaults are not
// persisted; nil pointer means "use the default".
type ChatPreference struct {
	OutputMode string `json:"outputMode,omitempty"` // compact | verbose
	Thinking   *bool  `json:"thinking,omitempty"`
	Muted      *bool  `json:"muted,omitempty"`
}

const (
	DefaultOutputBatchMinMs     = 700
	DefaultOutputBatchMaxMs     = 4000
	DefaultOutputBufferMaxChars = 3500
	DefaultMaxSessions          = 10
)

// Load reads the config from its default path. A missing file yields an
// empty config with no error.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads the config from the given path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes the config with owner-only permissions via a temp-file rename.
func (c *Config) Save() error {
	return c.SaveTo(ConfigPath())
}

func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace config: %w", err)
	}
	return nil
}

// Channel returns the named channel config, or nil.
func (c *Config) Channel(name string) *ChannelConfig {
	if c.Channels == nil {
		return nil
	}
	return c.Channels[name]
}

// DefaultChannelName returns "telegram" if configured, otherwise the sole
// configured channel, otherwise "".
func (c *Config) DefaultChannelName() string {
	if _, ok := c.Channels["telegram"]; ok {
		return "telegram"
	}
	if len(c.Channels) == 1 {
		for name := range c.Channels {
			return name
		}
	}
	return ""
}

// EnsureChannel returns the named channel config, creating it if absent.
func (c *Config) EnsureChannel(name, channelType string) *ChannelConfig {
	if c.Channels == nil {
		c.Channels = make(map[string]*ChannelConfig)
	}
	ch := c.Channels[name]
	if ch == nil {
		ch = &ChannelConfig{Type: channelType}
		c.Channels[name] = ch
	}
	return ch
}

// IsPaired reports whether userID has completed pairing on any channel.
func (c *Config) IsPaired(userID string) bool {
	for _, ch := range c.Channels {
		for _, u := range ch.PairedUsers {
			if u.UserID == userID {
				return true
			}
		}
	}
	return false
}

// PairUser records userID as paired on the named channel. Re-pairing
// refreshes the timestamp and username.
func (c *Config) PairUser(channel, userID, username string) {
	ch := c.EnsureChannel(channel, channel)
	for i := range ch.PairedUsers {
		if ch.PairedUsers[i].UserID == userID {
			ch.PairedUsers[i].PairedAt = time.Now()
			ch.PairedUsers[i].Username = username
			return
		}
	}
	ch.PairedUsers = append(ch.PairedUsers, PairedUser{
		UserID:   userID,
		PairedAt: time.Now(),
		Username: username,
	})
}

// FirstPairedUser returns the first paired user ID of the named channel.
func (c *Config) FirstPairedUser(channel string) string {
	ch := c.Channel(channel)
	if ch == nil || len(ch.PairedUsers) == 0 {
		return ""
	}
	return ch.PairedUsers[0].UserID
}

// IsLinkedGroup reports whether chatID is a linked group on any channel.
func (c *Config) IsLinkedGroup(chatID string) bool {
	for _, ch := range c.Channels {
		for _, g := range ch.LinkedGroups {
			if g.ChatID == chatID {
				return true
			}
		}
	}
	return false
}

// LinkGroup records a group chat as linked. Linking twice updates the title.
func (c *Config) LinkGroup(channel, chatID, title string) {
	ch := c.EnsureChannel(channel, channel)
	for i := range ch.LinkedGroups {
		if ch.LinkedGroups[i].ChatID == chatID {
			ch.LinkedGroups[i].Title = title
			return
		}
	}
	ch.LinkedGroups = append(ch.LinkedGroups, LinkedGroup{
		ChatID:   chatID,
		Title:    title,
		LinkedAt: time.Now(),
	})
}

// UnlinkGroup removes a group from the linked set. Returns true if removed.
func (c *Config) UnlinkGroup(channel, chatID string) bool {
	ch := c.Channel(channel)
	if ch == nil {
		return false
	}
	for i, g := range ch.LinkedGroups {
		if g.ChatID == chatID {
			ch.LinkedGroups = append(ch.LinkedGroups[:i], ch.LinkedGroups[i+1:]...)
			return true
		}
	}
	return false
}

// Preference returns the stored preference record for a chat, or nil.
func (c *Config) Preference(chatID string) *ChatPreference {
	if c.ChatPreferences == nil {
		return nil
	}
	return c.ChatPreferences[chatID]
}

// SetPreference mutates one preference field for a chat, creating the
// record on first use.
func (c *Config) SetPreference(chatID string, mutate func(*ChatPreference)) {
	if c.ChatPreferences == nil {
		c.ChatPreferences = make(map[string]*ChatPreference)
	}
	p := c.ChatPreferences[chatID]
	if p == nil {
		p = &ChatPreference{}
		c.ChatPreferences[chatID] = p
	}
	mutate(p)
}

// OutputMode returns the effective output mode for a chat ("compact" if
// unset; "simple" is accepted as an alias for compact).
func (c *Config) OutputMode(chatID string) string {
	if p := c.Preference(chatID); p != nil {
		switch p.OutputMode {
		case "verbose":
			return "verbose"
		case "compact", "simple":
			return "compact"
		}
	}
	return "compact"
}

// ThinkingEnabled reports whether thinking output is shown in a chat.
func (c *Config) ThinkingEnabled(chatID string) bool {
	if p := c.Preference(chatID); p != nil && p.Thinking != nil {
		return *p.Thinking
	}
	return false
}

// Muted reports whether assistant output to a chat is suppressed.
func (c *Config) Muted(chatID string) bool {
	if p := c.Preference(chatID); p != nil && p.Muted != nil {
		return *p.Muted
	}
	return false
}

// BatchMinMs returns outputBatchMinMs with its default applied.
func (c *Config) BatchMinMs() int {
	if c.Settings.OutputBatchMinMs > 0 {
		return c.Settings.OutputBatchMinMs
	}
	return DefaultOutputBatchMinMs
}

// BatchMaxMs returns outputBatchMaxMs with its default applied.
func (c *Config) BatchMaxMs() int {
	if c.Settings.OutputBatchMaxMs > 0 {
		return c.Settings.OutputBatchMaxMs
	}
	return DefaultOutputBatchMaxMs
}

// BufferMaxChars returns outputBufferMaxChars with its default applied.
func (c *Config) BufferMaxChars() int {
	if c.Settings.OutputBufferMaxChars > 0 {
		return c.Settings.OutputBufferMaxChars
	}
	return DefaultOutputBufferMaxChars
}

// MaxSessions returns the session cap with its default applied.
func (c *Config) MaxSessions() int {
	if c.Settings.MaxSessions > 0 {
		return c.Settings.MaxSessions
	}
	return DefaultMaxSessions
}
