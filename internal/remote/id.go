// Package remote holds the shared vocabulary of bridged sessions: IDs,
// control actions, and the on-disk session manifest.
package remote

import (
	"crypto/rand"
	"encoding/hex"
	"regexp"
)

// IDPrefix starts every session id. A full id is "r-" plus 6 hex chars.
const IDPrefix = "r-"

var idRe = regexp.MustCompile(`^r-[0-9a-f]{6}$`)

// NewSessionID generates a fresh session id. Uniqueness against live
// sessions is the registry's job; callers re-roll on collision.
func NewSessionID() string {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand does not fail on supported platforms; a zero id is
		// still well-formed and will be re-rolled if it collides.
		return IDPrefix + "000000"
	}
	return IDPrefix + hex.EncodeToString(b[:])
}

// ValidSessionID reports whether s is a well-formed session id.
func ValidSessionID(s string) bool {
	return idRe.MatchString(s)
}
