package cmd

import (
	"fmt"
	"strings"

	"touchgrass/internal/remote"
)

// unknownSessionError builds an error for a session ID the daemon does
// not know, listing the sessions that do exist.
func unknownSessionError(id string) error {
	manifests, err := remote.ListManifests()
	if err != nil || len(manifests) == 0 {
		return fmt.Errorf("no session %q (no bridged sessions are running)\n\nStart one with: tg claude", id)
	}
	ids := make([]string, len(manifests))
	for i, m := range manifests {
		ids[i] = m.ID
	}
	return fmt.Errorf("no session %q\n\nRunning sessions: %s", id, strings.Join(ids, ", "))
}
