// Package version carries the build identity stamped into tg binaries.
package version

import "strings"

// Version is the semver of the current release line.
const Version = "0.2.0"

// GitRef and ReleaseBuild are stamped at build time via -ldflags -X.
var (
	GitRef       = "unknown"
	ReleaseBuild = "false"
)

// DisplayVersion is the user-facing build string: v<semver> on release
// builds, v<semver>-<gitref> on dev builds.
func DisplayVersion() string {
	switch strings.ToLower(strings.TrimSpace(ReleaseBuild)) {
	case "1", "true", "yes":
		return "v" + Version
	}
	ref := strings.TrimSpace(GitRef)
	if ref == "" {
		ref = "unknown"
	}
	return "v" + Version + "-" + ref
}
