package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DataDir returns the touchgrass data directory (~/.touchgrass), honoring
// the TOUCHGRASS_DATA_DIR override used by tests and multi-instance setups.
func DataDir() string {
	if dir := os.Getenv("TOUCHGRASS_DATA_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fall back to CWD-relative; callers surface failures on first write.
		return ".touchgrass"
	}
	return filepath.Join(home, ".touchgrass")
}

// EnsureDataDir creates the data directory tree with owner-only permissions.
func EnsureDataDir() error {
	for _, dir := range []string{DataDir(), SessionsDir(), LogsDir()} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	return nil
}

// ConfigPath returns the path of the main JSON config file.
func ConfigPath() string {
	return filepath.Join(DataDir(), "config.json")
}

// PIDFile is written by the daemon on startup and read by ensure/reap logic.
func PIDFile() string {
	return filepath.Join(DataDir(), "daemon.pid")
}

// LockFile guards against concurrent daemon startup.
func LockFile() string {
	return filepath.Join(DataDir(), "daemon.lock")
}

// SocketPath is the control server's UNIX socket.
func SocketPath() string {
	return filepath.Join(DataDir(), "daemon.sock")
}

// PortFile holds the listen port (ASCII decimal) when the control server
// falls back to localhost TCP.
func PortFile() string {
	return filepath.Join(DataDir(), "daemon.port")
}

// UseTCP reports whether the daemon and its clients should talk over
// localhost TCP instead of the UNIX socket (for hosts without AF_UNIX
// or with socket-path length limits).
func UseTCP() bool {
	return os.Getenv("TOUCHGRASS_TCP") != ""
}

// AuthTokenPath holds the fixed-length hex token required on every control
// server request.
func AuthTokenPath() string {
	return filepath.Join(DataDir(), "auth-token")
}

// SessionsDir holds one manifest file per live CLI session.
func SessionsDir() string {
	return filepath.Join(DataDir(), "sessions")
}

// ManifestPath returns the manifest file for a session id.
func ManifestPath(id string) string {
	return filepath.Join(SessionsDir(), id+".json")
}

// StatusBoardsPath is the persisted status-board and background-job state.
func StatusBoardsPath() string {
	return filepath.Join(DataDir(), "status-boards.json")
}

// DaemonLogPath receives daemon log output; the daemon's stdio is /dev/null.
func DaemonLogPath() string {
	return filepath.Join(DataDir(), "daemon.log")
}

// LogsDir holds per-session CLI adapter logs.
func LogsDir() string {
	return filepath.Join(DataDir(), "logs")
}

// SessionLogPath returns the CLI adapter's log file for a session. The
// adapter cannot log to stdout without corrupting the PTY mirror.
func SessionLogPath(id string) string {
	return filepath.Join(LogsDir(), id+".log")
}

// UploadsDir returns the per-project directory where chat attachments are
// saved before being mentioned to the assistant.
func UploadsDir(cwd string) string {
	return filepath.Join(cwd, ".touchgrass", "uploads")
}
