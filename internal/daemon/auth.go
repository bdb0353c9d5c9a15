package daemon

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"touchgrass/internal/config"
)

// Control tokens are 16 random bytes hex-encoded, so always 32 chars.
const tokenLen = 32

// EnsureAuthToken returns the shared control token, minting and
// persisting one on first use.
func EnsureAuthToken() (string, error) {
	path := config.AuthTokenPath()
	if data, err := os.ReadFile(path); err == nil {
		tok := strings.TrimSpace(string(data))
		if len(tok) == tokenLen {
			return tok, nil
		}
	}

	buf := make([]byte, tokenLen/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate auth token: %w", err)
	}
	tok := hex.EncodeToString(buf)

	if err := config.EnsureDataDir(); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(tok+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("write auth token: %w", err)
	}
	return tok, nil
}

// ReadAuthToken loads the token without creating one.
func ReadAuthToken() (string, error) {
	data, err := os.ReadFile(config.AuthTokenPath())
	if err != nil {
		return "", err
	}
	tok := strings.TrimSpace(string(data))
	if len(tok) != tokenLen {
		return "", fmt.Errorf("auth token file is malformed")
	}
	return tok, nil
}

func tokenEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
