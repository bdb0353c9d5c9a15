package daemon

import (
	"os"
	"testing"

	"touchgrass/internal/config"
)

func TestEnsureAuthTokenMintsOnce(t *testing.T) {
	t.Setenv("TOUCHGRASS_DATA_DIR", t.TempDir())

	first, err := EnsureAuthToken()
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	if len(first) != tokenLen {
		t.Fatalf("token length = %d, want %d", len(first), tokenLen)
	}

	second, err := EnsureAuthToken()
	if err != nil {
		t.Fatalf("reread token: %v", err)
	}
	if second != first {
		t.Fatalf("token changed between calls: %q -> %q", first, second)
	}

	fi, err := os.Stat(config.AuthTokenPath())
	if err != nil {
		t.Fatalf("stat token file: %v", err)
	}
	if fi.Mode().Perm() != 0o600 {
		t.Fatalf("token file mode = %o, want 600", fi.Mode().Perm())
	}
}

func TestEnsureAuthTokenReplacesMalformedFile(t *testing.T) {
	t.Setenv("TOUCHGRASS_DATA_DIR", t.TempDir())
	if err := config.EnsureDataDir(); err != nil {
		t.Fatalf("ensure dir: %v", err)
	}
	if err := os.WriteFile(config.AuthTokenPath(), []byte("short\n"), 0o600); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	tok, err := EnsureAuthToken()
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}
	if len(tok) != tokenLen || tok == "short" {
		t.Fatalf("token = %q", tok)
	}
}

func TestReadAuthTokenMissing(t *testing.T) {
	t.Setenv("TOUCHGRASS_DATA_DIR", t.TempDir())
	if _, err := ReadAuthToken(); err == nil {
		t.Fatal("expected error for missing token file")
	}
}

func TestTokenEqual(t *testing.T) {
	if !tokenEqual("abc123", "abc123") {
		t.Fatal("equal tokens rejected")
	}
	if tokenEqual("abc123", "abc124") || tokenEqual("abc123", "abc1234") || tokenEqual("", "x") {
		t.Fatal("unequal tokens accepted")
	}
}
