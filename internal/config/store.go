package config

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"
)

// codeTTL is how long a pairing code stays redeemable.
var codeTTL = 10 * time.Minute

// Alphabet without easily confused characters (0/O, 1/I/L).
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLen = 6

type pairingCode struct {
	code      string
	expiresAt time.Time
}

// Store wraps the live daemon config behind a mutex and carries the
// in-memory pairing codes. Mutations are persisted on the spot.
type Store struct {
	mu    sync.Mutex
	path  string
	cfg   *Config
	codes map[string]pairingCode // channel name → active code
}

// NewStore loads the config at path; a missing file yields an empty
// config, matching Load.
func NewStore(path string) (*Store, error) {
	cfg, err := LoadFrom(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, cfg: cfg, codes: make(map[string]pairingCode)}, nil
}

// View runs fn with read access to the config. fn must not retain or
// mutate the pointer.
func (s *Store) View(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.cfg)
}

// Update runs fn with write access and persists the result. The config
// is left untouched when fn errors.
func (s *Store) Update(fn func(*Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := fn(s.cfg); err != nil {
		return err
	}
	return s.cfg.SaveTo(s.path)
}

// GeneratePairingCode issues a fresh one-use code for a channel,
// replacing any outstanding one.
func (s *Store) GeneratePairingCode(channelName string) (string, time.Time, error) {
	buf := make([]byte, codeLen)
	if _, err := rand.Read(buf); err != nil {
		return "", time.Time{}, fmt.Errorf("generate pairing code: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	code := string(buf)
	expires := time.Now().Add(codeTTL)

	s.mu.Lock()
	s.codes[channelName] = pairingCode{code: code, expiresAt: expires}
	s.mu.Unlock()
	return code, expires, nil
}

// RedeemPairingCode consumes a code. Expired or wrong codes fail and
// leave nothing behind for retries with the same code.
func (s *Store) RedeemPairingCode(channelName, code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.codes[channelName]
	if !ok {
		return false
	}
	if time.Now().After(pc.expiresAt) {
		delete(s.codes, channelName)
		return false
	}
	if pc.code != code {
		return false
	}
	delete(s.codes, channelName)
	return true
}
