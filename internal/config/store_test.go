package config

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func TestStoreUpdatePersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	s, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}

	err = s.Update(func(c *Config) error {
		c.EnsureChannel("telegram", "telegram").Credentials = map[string]string{"botToken": "tok"}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	reloaded, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Channel("telegram").Credentials["botToken"] != "tok" {
		t.Fatal("update not persisted")
	}
}

func TestPairingCodeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	code, expires, err := s.GeneratePairingCode("telegram")
	if err != nil {
		t.Fatal(err)
	}
	if len(code) != codeLen {
		t.Fatalf("code %q has length %d, want %d", code, len(code), codeLen)
	}
	if time.Until(expires) <= 0 {
		t.Fatal("code already expired")
	}

	if s.RedeemPairingCode("telegram", "WRONG1") {
		t.Fatal("wrong code redeemed")
	}
	if !s.RedeemPairingCode("telegram", code) {
		t.Fatal("correct code rejected")
	}
	if s.RedeemPairingCode("telegram", code) {
		t.Fatal("code redeemed twice")
	}
}

func TestPairingCodeExpiry(t *testing.T) {
	old := codeTTL
	codeTTL = -time.Second
	defer func() { codeTTL = old }()

	s := newTestStore(t)
	code, _, err := s.GeneratePairingCode("telegram")
	if err != nil {
		t.Fatal(err)
	}
	if s.RedeemPairingCode("telegram", code) {
		t.Fatal("expired code redeemed")
	}
}

func TestPairingCodeReplaced(t *testing.T) {
	s := newTestStore(t)
	first, _, _ := s.GeneratePairingCode("telegram")
	second, _, _ := s.GeneratePairingCode("telegram")

	if s.RedeemPairingCode("telegram", first) {
		t.Fatal("stale code redeemed after replacement")
	}
	if !s.RedeemPairingCode("telegram", second) {
		t.Fatal("fresh code rejected")
	}
}
